package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	config "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Config"
	logger "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Logger"
)

var errBackend = errors.New("backend unavailable")

func newTestBreaker(maxFailures int, resetTimeout time.Duration) *Breaker {
	cfg := config.BreakerConfig{MaxFailures: maxFailures, ResetTimeout: resetTimeout}
	return New("test", cfg, logger.NewNop(), nil)
}

func failOp(ctx context.Context) error { return errBackend }
func okOp(ctx context.Context) error   { return nil }

func TestBreaker_StartsClosed(t *testing.T) {
	b := newTestBreaker(3, time.Minute)
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
	if err := b.Execute(context.Background(), okOp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	b := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, failOp); !errors.Is(err, errBackend) {
			t.Fatalf("attempt %d: expected backend error, got %v", i, err)
		}
		if b.State() != StateClosed {
			t.Fatalf("attempt %d: breaker opened before threshold", i)
		}
	}

	if err := b.Execute(ctx, failOp); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error on threshold failure, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after %d consecutive failures, got %s", 3, b.State())
	}
}

func TestBreaker_FailsFastWithoutInvokingOp(t *testing.T) {
	b := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	if err := b.Execute(ctx, failOp); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}

	invoked := 0
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked++
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if invoked != 0 {
		t.Fatalf("operation must not run while open, ran %d times", invoked)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	b.Execute(ctx, failOp)
	b.Execute(ctx, failOp)
	if err := b.Execute(ctx, okOp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two more failures should not reach the threshold of 3.
	b.Execute(ctx, failOp)
	b.Execute(ctx, failOp)
	if b.State() != StateClosed {
		t.Fatal("failure count must reset on success")
	}
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	b := newTestBreaker(1, 20*time.Millisecond)
	ctx := context.Background()

	b.Execute(ctx, failOp)
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	time.Sleep(30 * time.Millisecond)

	if err := b.Execute(ctx, okOp); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful trial, got %s", b.State())
	}
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 20*time.Millisecond)
	ctx := context.Background()

	b.Execute(ctx, failOp)
	time.Sleep(30 * time.Millisecond)

	if err := b.Execute(ctx, failOp); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error on trial, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected re-opened after failed trial, got %s", b.State())
	}

	// The reset timeout restarts from the failed trial.
	if err := b.Execute(ctx, okOp); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected fail-fast immediately after re-open, got %v", err)
	}
}

func TestBreaker_ExactlyOneTrialCall(t *testing.T) {
	b := newTestBreaker(1, 20*time.Millisecond)
	ctx := context.Background()

	b.Execute(ctx, failOp)
	time.Sleep(30 * time.Millisecond)

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	trialDone := make(chan error, 1)

	go func() {
		trialDone <- b.Execute(ctx, func(ctx context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()

	<-trialStarted

	// While the trial is in flight every other caller fails fast.
	invoked := 0
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked++
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen during in-flight trial, got %v", err)
	}
	if invoked != 0 {
		t.Fatal("second caller must not execute during the trial")
	}

	close(release)
	if err := <-trialDone; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreaker_StateCallback(t *testing.T) {
	var transitions []State
	cfg := config.BreakerConfig{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond}
	b := New("cb", cfg, logger.NewNop(), func(name string, s State) {
		if name != "cb" {
			t.Errorf("unexpected breaker name %q", name)
		}
		transitions = append(transitions, s)
	})
	ctx := context.Background()

	b.Execute(ctx, failOp)
	time.Sleep(30 * time.Millisecond)
	b.Execute(ctx, okOp)

	want := []State{StateClosed, StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i, s := range want {
		if transitions[i] != s {
			t.Errorf("transition %d: expected %s, got %s", i, s, transitions[i])
		}
	}
}

func TestBreaker_Status(t *testing.T) {
	b := newTestBreaker(5, time.Minute)
	b.Execute(context.Background(), failOp)

	st := b.Status()
	if st["state"] != "closed" {
		t.Errorf("expected closed, got %v", st["state"])
	}
	if st["failure_count"] != 1 {
		t.Errorf("expected failure_count 1, got %v", st["failure_count"])
	}
	if st["max_failures"] != 5 {
		t.Errorf("expected max_failures 5, got %v", st["max_failures"])
	}
}
