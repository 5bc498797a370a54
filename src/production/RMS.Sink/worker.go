package rmssink

import (
	"context"
	"time"

	circuitbreaker "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.CircuitBreaker"
	logger "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Logger"
	rmsmetrics "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Metrics"
	rmsmodels "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Models"
	rmsqueue "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Queue"
)

// Worker drains the durable queue into the sink. Delivery is at-least-once:
// a write failure requeues the message with its retry count incremented, and
// the queue moves it to the DLQ once retries exhaust.
type Worker struct {
	queue        *rmsqueue.Queue
	sink         Sink
	breaker      *circuitbreaker.Breaker
	metrics      *rmsmetrics.Metrics
	logger       *logger.Logger
	pollInterval time.Duration
}

// NewWorker creates a drain worker.
func NewWorker(queue *rmsqueue.Queue, sink Sink, breaker *circuitbreaker.Breaker, metrics *rmsmetrics.Metrics, log *logger.Logger, pollInterval time.Duration) *Worker {
	return &Worker{
		queue:        queue,
		sink:         sink,
		breaker:      breaker,
		metrics:      metrics,
		logger:       log.WithComponent("sink_worker"),
		pollInterval: pollInterval,
	}
}

// Run polls the queue until the context is cancelled. An in-flight message
// is always either committed or requeued before Run returns.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Sink worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sink worker stopped")
			return
		default:
		}

		processed, err := w.DrainOne(ctx)
		if err != nil {
			w.logger.ErrorWithError(err, "Queue backend unavailable")
		}
		if !processed {
			select {
			case <-ctx.Done():
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// DrainOne dequeues and commits a single message. It returns false when the
// queue was empty or unreachable.
func (w *Worker) DrainOne(ctx context.Context) (bool, error) {
	var msg *rmsmodels.QueueMessage
	err := w.breaker.Execute(ctx, func(ctx context.Context) error {
		var dqErr error
		msg, dqErr = w.queue.Dequeue(ctx)
		return dqErr
	})
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	// The persisted document records the terminal status.
	msg.Data.ProcessingStatus = rmsmodels.StatusProcessed

	start := time.Now()
	writeErr := w.sink.WriteReading(ctx, msg.Data)
	w.metrics.ObserveLatency("sink_write", time.Since(start))

	if writeErr != nil {
		msg.Data.ProcessingStatus = rmsmodels.StatusFailed
		w.logger.Logger.Warn().
			Str("message_id", msg.ID).
			Int("attempts", msg.Attempts).
			Err(writeErr).
			Msg("Sink write failed, requeueing")
		if rqErr := w.queue.RequeueWithRetry(ctx, msg, writeErr); rqErr != nil {
			w.logger.ErrorWithError(rqErr, "Failed to requeue message")
		}
		return true, nil
	}

	w.logger.Logger.Debug().
		Str("message_id", msg.ID).
		Str("device_id", msg.Data.DeviceID).
		Msg("Reading committed to sink")
	return true, nil
}
