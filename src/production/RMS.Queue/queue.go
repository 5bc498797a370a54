package rmsqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	config "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Config"
	logger "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Logger"
	rmsmetrics "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Metrics"
	rmsmodels "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Models"
)

// NotifyFunc receives a best-effort live notification for every successful
// enqueue. It must not block; failures never fail the enqueue.
type NotifyFunc func(rmsmodels.EnrichedReading)

// Queue is a FIFO work queue on Redis lists with retry counting and a
// dead-letter queue for poison messages. All mutation uses native list
// operations so multiple processes can share the backend safely.
type Queue struct {
	rdb     *redis.Client
	cfg     config.QueueConfig
	logger  *logger.Logger
	metrics *rmsmetrics.Metrics
	notify  NotifyFunc
}

// New creates a Queue on the given Redis client.
func New(rdb *redis.Client, cfg config.QueueConfig, log *logger.Logger, metrics *rmsmetrics.Metrics) *Queue {
	return &Queue{
		rdb:     rdb,
		cfg:     cfg,
		logger:  log.WithComponent("queue"),
		metrics: metrics,
	}
}

// SetNotify installs the live-event notification hook.
func (q *Queue) SetNotify(fn NotifyFunc) {
	q.notify = fn
}

// Enqueue wraps the reading in a QueueMessage and pushes it to the head of
// the queue. Returns the generated message id. The caller retries backend
// failures through the circuit breaker; the queue itself does not retry.
func (q *Queue) Enqueue(ctx context.Context, reading rmsmodels.EnrichedReading) (string, error) {
	msg := rmsmodels.QueueMessage{
		ID:        uuid.New().String(),
		Data:      reading,
		Attempts:  0,
		CreatedAt: time.Now().UTC(),
	}

	if err := q.push(ctx, q.cfg.Name, msg); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	q.logger.Logger.Debug().
		Str("message_id", msg.ID).
		Str("device_id", reading.DeviceID).
		Msg("Reading enqueued")

	// Fire-and-forget live notification; subscriber delivery problems must
	// never surface here.
	if q.notify != nil {
		q.notify(reading)
	}

	q.reportDepths(ctx)
	return msg.ID, nil
}

// Dequeue pops from the tail (FIFO). Returns (nil, nil) when the queue is
// empty; it never blocks internally.
func (q *Queue) Dequeue(ctx context.Context) (*rmsmodels.QueueMessage, error) {
	raw, err := q.rdb.RPop(ctx, q.cfg.Name).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var msg rmsmodels.QueueMessage
	if err := msgpack.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("dequeue: decode envelope: %w", err)
	}

	q.reportDepths(ctx)
	return &msg, nil
}

// RequeueWithRetry records the failure on the message and either pushes it
// back to the head after a fixed delay, or moves it to the DLQ once
// MaxRetryAttempts is reached. The delay is a fixed backoff, not
// exponential.
func (q *Queue) RequeueWithRetry(ctx context.Context, msg *rmsmodels.QueueMessage, cause error) error {
	now := time.Now().UTC()
	msg.Attempts++
	msg.LastAttemptAt = &now
	if cause != nil {
		msg.Error = cause.Error()
	}

	if msg.Attempts >= q.cfg.MaxRetryAttempts {
		q.logger.Logger.Warn().
			Str("message_id", msg.ID).
			Int("attempts", msg.Attempts).
			Str("error", msg.Error).
			Msg("Retries exhausted, moving message to DLQ")
		return q.MoveToDLQ(ctx, msg)
	}

	select {
	case <-time.After(q.cfg.RetryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := q.push(ctx, q.cfg.Name, *msg); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}

	q.logger.Logger.Info().
		Str("message_id", msg.ID).
		Int("attempts", msg.Attempts).
		Msg("Message requeued for retry")

	q.reportDepths(ctx)
	return nil
}

// MoveToDLQ appends the message to the dead-letter queue. DLQ entries are
// never auto-replayed; replay is an operator action.
func (q *Queue) MoveToDLQ(ctx context.Context, msg *rmsmodels.QueueMessage) error {
	raw, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("move to dlq: encode envelope: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.cfg.DLQName, raw).Err(); err != nil {
		return fmt.Errorf("move to dlq: %w", err)
	}

	q.metrics.IngestError("retries_exhausted", msg.Data.DeviceID)
	q.reportDepths(ctx)
	return nil
}

// Depth returns the current main queue depth.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.cfg.Name).Result()
}

// DLQDepth returns the current dead-letter queue depth.
func (q *Queue) DLQDepth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.cfg.DLQName).Result()
}

func (q *Queue) push(ctx context.Context, key string, msg rmsmodels.QueueMessage) error {
	raw, err := msgpack.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return q.rdb.LPush(ctx, key, raw).Err()
}

// reportDepths refreshes the queue depth gauges after a mutating operation.
// Gauge staleness on a failed LLen is tolerable; the next mutation refreshes
// it.
func (q *Queue) reportDepths(ctx context.Context) {
	if depth, err := q.Depth(ctx); err == nil {
		q.metrics.SetQueueSize(q.cfg.Name, depth)
	}
	if depth, err := q.DLQDepth(ctx); err == nil {
		q.metrics.SetQueueSize(q.cfg.DLQName, depth)
	}
}
