package controllers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	circuitbreaker "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.CircuitBreaker"
	config "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Config"
	fanout "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Fanout"
	rmsingestor "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.IngestorService/ingestor"
	logger "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Logger"
	rmsmetrics "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Metrics"
	rmsmodels "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Models"
	processor "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Processor"
	rmsqueue "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Queue"
)

func readingFor(deviceID string) rmsmodels.SensorReading {
	return rmsmodels.SensorReading{
		DeviceID:  deviceID,
		Timestamp: "2025-01-01T00:00:00Z",
		Sensors: rmsmodels.SensorSet{
			PIR: &rmsmodels.PIRData{MotionDetected: true},
		},
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, *processor.Processor) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.NewNop()
	metrics := rmsmetrics.NewMetrics()

	queue := rmsqueue.New(rdb, config.QueueConfig{
		Name:             "sensor_readings_queue",
		DLQName:          "sensor_readings_dlq",
		MaxRetryAttempts: 3,
		RetryDelay:       time.Millisecond,
	}, log, metrics)

	breaker := circuitbreaker.New("queue", config.BreakerConfig{
		MaxFailures:  5,
		ResetTimeout: time.Minute,
	}, log, func(name string, s circuitbreaker.State) {
		metrics.SetBreakerState(name, float64(s))
	})

	proc := processor.New(config.DedupConfig{HighWaterMark: 1000, RetainOnSweep: 500}, log)
	hub := fanout.NewHub(config.FanoutConfig{
		PingInterval:   time.Minute,
		MaxMissedPings: 2,
		SendBuffer:     64,
	}, log, metrics)
	t.Cleanup(hub.Shutdown)

	listener := rmsingestor.New(config.MQTTConfig{TopicPrefix: "roomsense"}, proc, queue, breaker, metrics, log)

	router := gin.New()
	ctrl := NewPipelineController(listener, queue, breaker, proc, hub, metrics, log)
	ctrl.RegisterRoutes(router)
	return router, proc
}

func TestHealth_ReportsUnhealthyWhileTransportDown(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while transport is down, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad health body: %v", err)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected unhealthy, got %v", body["status"])
	}

	services, _ := body["services"].(map[string]interface{})
	if services["mqtt"] != "disconnected" {
		t.Errorf("expected mqtt disconnected, got %v", services["mqtt"])
	}

	cb, _ := body["circuit_breaker"].(map[string]interface{})
	if cb["state"] != "closed" {
		t.Errorf("expected breaker closed, got %v", cb["state"])
	}

	queueInfo, _ := body["queue"].(map[string]interface{})
	if queueInfo["depth"] != float64(0) {
		t.Errorf("expected empty queue, got %v", queueInfo["depth"])
	}
}

func TestMetricsEndpoint_ExposesRegisteredMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "circuit_breaker_state") {
		t.Error("expected breaker state gauge in exposition output")
	}
}

func TestUpdateDeviceMetadata(t *testing.T) {
	router, proc := newTestRouter(t)

	payload := []byte(`{"location": "upstairs", "room": "bedroom", "zone": "north", "firmware_version": "1.4.2"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/internal/devices/esp32-1/metadata", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	enriched := proc.EnrichWithMetadata(readingFor("esp32-1"))
	if enriched.DeviceMetadata == nil || enriched.DeviceMetadata.Room != "bedroom" {
		t.Fatalf("metadata not cached: %+v", enriched.DeviceMetadata)
	}
}

func TestUpdateDeviceMetadata_RejectsBadPayload(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/internal/devices/esp32-1/metadata", strings.NewReader(`{"room":`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
