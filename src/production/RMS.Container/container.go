package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	circuitbreaker "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.CircuitBreaker"
	config "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Config"
	fanout "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Fanout"
	logger "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Logger"
	rmsmetrics "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Metrics"
	processor "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Processor"
	rmsqueue "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Queue"
)

// PipelineContainer manages dependencies for the ingestion pipeline service
type PipelineContainer struct {
	config  *config.PipelineConfig
	logger  *logger.Logger
	metrics *rmsmetrics.Metrics

	mu        sync.Mutex
	rdb       *redis.Client
	queue     *rmsqueue.Queue
	breaker   *circuitbreaker.Breaker
	processor *processor.Processor
	hub       *fanout.Hub

	cleanupFuncs []func() error
}

// SinkContainer manages dependencies for the persistence sink service
type SinkContainer struct {
	config  *config.SinkConfig
	logger  *logger.Logger
	metrics *rmsmetrics.Metrics

	mu      sync.Mutex
	rdb     *redis.Client
	queue   *rmsqueue.Queue
	breaker *circuitbreaker.Breaker

	cleanupFuncs []func() error
}

// NewPipelineContainer creates a new container for the pipeline service
func NewPipelineContainer() (*PipelineContainer, error) {
	cfg, err := config.LoadPipelineConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging)

	return &PipelineContainer{
		config:  cfg,
		logger:  log,
		metrics: rmsmetrics.NewMetrics(),
	}, nil
}

// NewSinkContainer creates a new container for the sink service
func NewSinkContainer() (*SinkContainer, error) {
	cfg, err := config.LoadSinkConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load sink configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging)

	return &SinkContainer{
		config:  cfg,
		logger:  log,
		metrics: rmsmetrics.NewMetrics(),
	}, nil
}

// GetConfig returns the pipeline configuration
func (c *PipelineContainer) GetConfig() *config.PipelineConfig {
	return c.config
}

// GetLogger returns the logger
func (c *PipelineContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetMetrics returns the metrics collector
func (c *PipelineContainer) GetMetrics() *rmsmetrics.Metrics {
	return c.metrics
}

// GetRedis returns the shared Redis client
func (c *PipelineContainer) GetRedis() *redis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rdb == nil {
		c.rdb = newRedisClient(c.config.Redis)
		c.cleanupFuncs = append(c.cleanupFuncs, c.rdb.Close)
	}
	return c.rdb
}

// GetQueue returns the durable queue
func (c *PipelineContainer) GetQueue() *rmsqueue.Queue {
	rdb := c.GetRedis()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queue == nil {
		c.queue = rmsqueue.New(rdb, c.config.Queue, c.logger, c.metrics)
	}
	return c.queue
}

// GetBreaker returns the circuit breaker guarding the queue backend
func (c *PipelineContainer) GetBreaker() *circuitbreaker.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.breaker == nil {
		c.breaker = circuitbreaker.New("queue_backend", c.config.Breaker, c.logger, func(name string, state circuitbreaker.State) {
			c.metrics.SetBreakerState(name, float64(state))
		})
	}
	return c.breaker
}

// GetProcessor returns the data processor
func (c *PipelineContainer) GetProcessor() *processor.Processor {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.processor == nil {
		c.processor = processor.New(c.config.Dedup, c.logger)
	}
	return c.processor
}

// GetFanoutHub returns the live fan-out hub
func (c *PipelineContainer) GetFanoutHub() *fanout.Hub {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hub == nil {
		c.hub = fanout.NewHub(c.config.Fanout, c.logger, c.metrics)
	}
	return c.hub
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *PipelineContainer) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down pipeline container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Pipeline container shutdown complete")
	return nil
}

// GetConfig returns the sink configuration
func (c *SinkContainer) GetConfig() *config.SinkConfig {
	return c.config
}

// GetLogger returns the logger
func (c *SinkContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetMetrics returns the metrics collector
func (c *SinkContainer) GetMetrics() *rmsmetrics.Metrics {
	return c.metrics
}

// GetRedis returns the shared Redis client
func (c *SinkContainer) GetRedis() *redis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rdb == nil {
		c.rdb = newRedisClient(c.config.Redis)
		c.cleanupFuncs = append(c.cleanupFuncs, c.rdb.Close)
	}
	return c.rdb
}

// GetQueue returns the durable queue
func (c *SinkContainer) GetQueue() *rmsqueue.Queue {
	rdb := c.GetRedis()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queue == nil {
		c.queue = rmsqueue.New(rdb, c.config.Queue, c.logger, c.metrics)
	}
	return c.queue
}

// GetBreaker returns the circuit breaker guarding the queue backend
func (c *SinkContainer) GetBreaker() *circuitbreaker.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.breaker == nil {
		c.breaker = circuitbreaker.New("queue_backend", c.config.Breaker, c.logger, func(name string, state circuitbreaker.State) {
			c.metrics.SetBreakerState(name, float64(state))
		})
	}
	return c.breaker
}

// AddCleanupFunc adds a cleanup function
func (c *SinkContainer) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown gracefully shuts down the sink container
func (c *SinkContainer) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down sink container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Sink container shutdown complete")
	return nil
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
