package rmssink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	circuitbreaker "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.CircuitBreaker"
	config "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Config"
	logger "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Logger"
	rmsmetrics "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Metrics"
	rmsmodels "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Models"
	rmsqueue "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Queue"
)

// recordingSink captures writes and fails the first failUntil attempts.
type recordingSink struct {
	mu        sync.Mutex
	written   []rmsmodels.EnrichedReading
	attempts  int
	failUntil int
}

func (s *recordingSink) WriteReading(ctx context.Context, reading rmsmodels.EnrichedReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failUntil {
		return errors.New("write timeout")
	}
	s.written = append(s.written, reading)
	return nil
}

func (s *recordingSink) writtenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

type workerFixture struct {
	worker *Worker
	queue  *rmsqueue.Queue
	sink   *recordingSink
	mr     *miniredis.Miniredis
}

func newWorkerFixture(t *testing.T, failUntil int) *workerFixture {
	t.Helper()
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

	breaker := circuitbreaker.New("sink", config.BreakerConfig{
		MaxFailures:  5,
		ResetTimeout: time.Minute,
	}, log, nil)

	sink := &recordingSink{failUntil: failUntil}
	return &workerFixture{
		worker: NewWorker(queue, sink, breaker, metrics, log, time.Millisecond),
		queue:  queue,
		sink:   sink,
		mr:     mr,
	}
}

func enqueuedReading(t *testing.T, q *rmsqueue.Queue, deviceID string) {
	t.Helper()
	_, err := q.Enqueue(context.Background(), rmsmodels.EnrichedReading{
		SensorReading: rmsmodels.SensorReading{
			DeviceID:  deviceID,
			Timestamp: "2025-01-01T00:00:00Z",
			Sensors: rmsmodels.SensorSet{
				PIR: &rmsmodels.PIRData{MotionDetected: true},
			},
		},
		ReceivedAt:       time.Now().UTC(),
		ProcessingStatus: rmsmodels.StatusPending,
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
}

func TestDrainOne_CommitsReadingWithProcessedStatus(t *testing.T) {
	f := newWorkerFixture(t, 0)
	ctx := context.Background()
	enqueuedReading(t, f.queue, "esp32-1")

	processed, err := f.worker.DrainOne(ctx)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if !processed {
		t.Fatal("expected a message to be processed")
	}

	if len(f.sink.written) != 1 {
		t.Fatalf("expected 1 committed reading, got %d", len(f.sink.written))
	}
	got := f.sink.written[0]
	if got.DeviceID != "esp32-1" {
		t.Errorf("expected device esp32-1, got %s", got.DeviceID)
	}
	if got.ProcessingStatus != rmsmodels.StatusProcessed {
		t.Errorf("persisted reading must carry processed status, got %s", got.ProcessingStatus)
	}

	depth, _ := f.queue.Depth(ctx)
	if depth != 0 {
		t.Errorf("queue must be empty after commit, depth %d", depth)
	}
}

func TestDrainOne_EmptyQueue(t *testing.T) {
	f := newWorkerFixture(t, 0)

	processed, err := f.worker.DrainOne(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on empty queue: %v", err)
	}
	if processed {
		t.Fatal("nothing to process on an empty queue")
	}
}

func TestDrainOne_WriteFailureRequeuesWithRetryCount(t *testing.T) {
	f := newWorkerFixture(t, 1)
	ctx := context.Background()
	enqueuedReading(t, f.queue, "esp32-1")

	processed, err := f.worker.DrainOne(ctx)
	if err != nil || !processed {
		t.Fatalf("drain failed: processed=%v err=%v", processed, err)
	}
	if len(f.sink.written) != 0 {
		t.Fatal("failed write must not commit")
	}

	depth, _ := f.queue.Depth(ctx)
	if depth != 1 {
		t.Fatalf("message must return to the queue, depth %d", depth)
	}

	// The retry succeeds.
	processed, err = f.worker.DrainOne(ctx)
	if err != nil || !processed {
		t.Fatalf("retry drain failed: processed=%v err=%v", processed, err)
	}
	if len(f.sink.written) != 1 {
		t.Fatalf("expected retry to commit, wrote %d", len(f.sink.written))
	}
	if f.sink.attempts != 2 {
		t.Errorf("expected 2 write attempts, got %d", f.sink.attempts)
	}
}

func TestDrainOne_RetriesExhaustToDLQ(t *testing.T) {
	f := newWorkerFixture(t, 100)
	ctx := context.Background()
	enqueuedReading(t, f.queue, "esp32-1")

	for i := 0; i < 3; i++ {
		processed, err := f.worker.DrainOne(ctx)
		if err != nil {
			t.Fatalf("drain %d failed: %v", i, err)
		}
		if !processed {
			t.Fatalf("drain %d: expected a message", i)
		}
	}

	depth, _ := f.queue.Depth(ctx)
	if depth != 0 {
		t.Errorf("main queue must be empty after retries exhaust, depth %d", depth)
	}
	dlqDepth, _ := f.queue.DLQDepth(ctx)
	if dlqDepth != 1 {
		t.Errorf("expected poison message in DLQ, depth %d", dlqDepth)
	}
	if f.sink.attempts != 3 {
		t.Errorf("expected 3 write attempts before DLQ, got %d", f.sink.attempts)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newWorkerFixture(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.Run(ctx)
	}()

	enqueuedReading(t, f.queue, "esp32-1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.sink.writtenCount() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	if f.sink.writtenCount() != 1 {
		t.Fatalf("expected 1 committed reading, got %d", f.sink.writtenCount())
	}
}
