package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	circuitbreaker "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.CircuitBreaker"
	fanout "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Fanout"
	rmsingestor "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.IngestorService/ingestor"
	logger "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Logger"
	rmsmetrics "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Metrics"
	rmsmodels "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Models"
	processor "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Processor"
	rmsqueue "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Queue"
)

// PipelineController exposes the pipeline's HTTP surface: health, metrics
// exposition, the live fan-out endpoint, and the internal metadata push API
// for the device registry.
type PipelineController struct {
	listener  *rmsingestor.Listener
	queue     *rmsqueue.Queue
	breaker   *circuitbreaker.Breaker
	processor *processor.Processor
	hub       *fanout.Hub
	metrics   *rmsmetrics.Metrics
	logger    *logger.Logger
}

// NewPipelineController creates a new pipeline controller
func NewPipelineController(listener *rmsingestor.Listener, queue *rmsqueue.Queue, breaker *circuitbreaker.Breaker, proc *processor.Processor, hub *fanout.Hub, metrics *rmsmetrics.Metrics, log *logger.Logger) *PipelineController {
	return &PipelineController{
		listener:  listener,
		queue:     queue,
		breaker:   breaker,
		processor: proc,
		hub:       hub,
		metrics:   metrics,
		logger:    log,
	}
}

// RegisterRoutes registers the pipeline routes with Gin
func (c *PipelineController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", c.Health)
	router.GET("/metrics", gin.WrapH(c.metrics.Handler()))
	router.GET("/ws", c.ServeWS)

	internal := router.Group("/internal")
	{
		internal.PUT("/devices/:device_id/metadata", c.UpdateDeviceMetadata)
	}
}

// Health reports transport, breaker, and queue state.
func (c *PipelineController) Health(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	mqttStatus := "disconnected"
	if c.listener.IsConnected() {
		mqttStatus = "connected"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if mqttStatus != "connected" {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": gin.H{
			"mqtt": mqttStatus,
		},
		"circuit_breaker": c.breaker.Status(),
		"subscribers":     c.hub.ClientCount(),
	}

	if depth, err := c.queue.Depth(reqCtx); err == nil {
		dlqDepth, _ := c.queue.DLQDepth(reqCtx)
		body["queue"] = gin.H{"depth": depth, "dlq_depth": dlqDepth}
	} else {
		body["queue"] = gin.H{"error": err.Error()}
	}

	ctx.JSON(httpStatus, body)
}

// ServeWS upgrades the request to a live subscriber connection.
func (c *PipelineController) ServeWS(ctx *gin.Context) {
	c.hub.ServeWS(ctx.Writer, ctx.Request)
}

// UpdateDeviceMetadataRequest is the registry's metadata push payload.
type UpdateDeviceMetadataRequest struct {
	Location        string `json:"location"`
	Room            string `json:"room"`
	Zone            string `json:"zone"`
	FirmwareVersion string `json:"firmware_version"`
}

// UpdateDeviceMetadata refreshes the processor's metadata cache for one
// device. The device registry is the only caller.
func (c *PipelineController) UpdateDeviceMetadata(ctx *gin.Context) {
	deviceID := ctx.Param("device_id")
	if deviceID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}

	var req UpdateDeviceMetadataRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	c.processor.UpdateDeviceMetadata(deviceID, rmsmodels.DeviceMetadata{
		Location:        req.Location,
		Room:            req.Room,
		Zone:            req.Zone,
		FirmwareVersion: req.FirmwareVersion,
	})

	ctx.JSON(http.StatusOK, gin.H{"updated": true, "device_id": deviceID})
}
