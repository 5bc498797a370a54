package rmsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics is the pipeline's metrics collector. It owns its own registry so
// tests can instantiate it without touching process-global state; wire one
// instance at startup and inject it everywhere.
type Metrics struct {
	registry *prometheus.Registry

	ingestedTotal     *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	processingLatency *prometheus.HistogramVec
	activeConnections *prometheus.GaugeVec
	queueSize         *prometheus.GaugeVec
	breakerState      *prometheus.GaugeVec
}

// NewMetrics creates and registers all pipeline metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingested_total",
			Help: "Total sensor readings accepted into the pipeline by device and sensor type.",
		}, []string{"device_id", "sensor_type"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total ingestion errors by error type and device.",
		}, []string{"error_type", "device_id"}),
		processingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "processing_latency_seconds",
			Help:    "Histogram of processing durations by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Currently active connections by type.",
		}, []string{"type"}),
		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_size",
			Help: "Current depth of the durable queues.",
		}, []string{"queue_name"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
	}

	m.registry.MustRegister(
		m.ingestedTotal,
		m.errorsTotal,
		m.processingLatency,
		m.activeConnections,
		m.queueSize,
		m.breakerState,
	)

	return m
}

// Handler returns the exposition handler for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Ingested increments the ingestion counter for one device/sensor pair.
func (m *Metrics) Ingested(deviceID, sensorType string) {
	if m == nil {
		return
	}
	m.ingestedTotal.WithLabelValues(deviceID, sensorType).Inc()
}

// IngestedValue reads the current counter value. Test helper.
func (m *Metrics) IngestedValue(deviceID, sensorType string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.ingestedTotal.WithLabelValues(deviceID, sensorType))
}

// ErrorsValue reads the current error counter value. Test helper.
func (m *Metrics) ErrorsValue(errorType, deviceID string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.errorsTotal.WithLabelValues(errorType, deviceID))
}

// IngestError increments the error counter for one error type.
func (m *Metrics) IngestError(errorType, deviceID string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(errorType, deviceID).Inc()
}

// ObserveLatency records the duration of one pipeline operation.
func (m *Metrics) ObserveLatency(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.processingLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// SetActiveConnections sets the connection gauge for one connection type.
func (m *Metrics) SetActiveConnections(connType string, n int) {
	if m == nil {
		return
	}
	m.activeConnections.WithLabelValues(connType).Set(float64(n))
}

// SetQueueSize sets the depth gauge for one queue.
func (m *Metrics) SetQueueSize(queueName string, depth int64) {
	if m == nil {
		return
	}
	m.queueSize.WithLabelValues(queueName).Set(float64(depth))
}

// SetBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(state)
}

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}
