package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	config "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Config"
	logger "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Logger"
)

// State represents the state of the circuit breaker
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without invoking the wrapped operation while the
// breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// StateFunc is notified on every state transition; used to push the state
// gauge to the metrics collector.
type StateFunc func(name string, state State)

// Breaker gates calls into the queue backend so repeated infrastructure
// failures shed load instead of cascading. One instance owns its state; it
// is not shared across processes.
type Breaker struct {
	name    string
	cfg     config.BreakerConfig
	logger  *logger.Logger
	onState StateFunc

	mu           sync.Mutex
	state        State
	failureCount int
	openedAt     time.Time
	trialActive  bool
}

// New creates a closed breaker.
func New(name string, cfg config.BreakerConfig, log *logger.Logger, onState StateFunc) *Breaker {
	b := &Breaker{
		name:    name,
		cfg:     cfg,
		logger:  log.WithComponent("circuit_breaker"),
		onState: onState,
		state:   StateClosed,
	}
	b.notifyState(StateClosed)
	return b
}

// Execute runs op behind the breaker. While open and before the reset
// timeout, it fails immediately with ErrOpen. Once the timeout elapses,
// exactly one trial call is allowed through; its success closes the breaker
// and its failure re-opens it with a fresh timeout.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	opErr := op(ctx)
	if opErr == nil {
		b.onSuccess(trial)
		return nil
	}
	b.onFailure(trial, opErr)
	return opErr
}

// admit decides whether a call may proceed. The bool result marks the
// half-open trial call.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrOpen
		}
		b.setStateLocked(StateHalfOpen)
		b.trialActive = true
		b.logger.Logger.Info().
			Str("name", b.name).
			Int("failures", b.failureCount).
			Msg("Circuit breaker half-open, allowing trial call")
		return true, nil
	case StateHalfOpen:
		// A trial is already in flight; everyone else keeps failing fast.
		return false, ErrOpen
	default:
		return false, ErrOpen
	}
}

func (b *Breaker) onSuccess(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialActive = false
	}
	b.failureCount = 0
	if b.state != StateClosed {
		b.logger.Logger.Info().
			Str("name", b.name).
			Msg("Circuit breaker closed")
	}
	b.setStateLocked(StateClosed)
}

func (b *Breaker) onFailure(trial bool, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialActive = false
		b.openedAt = time.Now()
		b.setStateLocked(StateOpen)
		b.logger.Logger.Warn().
			Str("name", b.name).
			Err(cause).
			Msg("Trial call failed, circuit breaker re-opened")
		return
	}

	b.failureCount++
	if b.failureCount >= b.cfg.MaxFailures && b.state == StateClosed {
		b.openedAt = time.Now()
		b.setStateLocked(StateOpen)
		b.logger.Logger.Error().
			Str("name", b.name).
			Int("failures", b.failureCount).
			Err(cause).
			Msg("Circuit breaker opened")
	}
}

func (b *Breaker) setStateLocked(s State) {
	b.state = s
	b.notifyState(s)
}

func (b *Breaker) notifyState(s State) {
	if b.onState != nil {
		b.onState(b.name, s)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns the current breaker status for health reporting.
func (b *Breaker) Status() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"state":         b.state.String(),
		"failure_count": b.failureCount,
		"max_failures":  b.cfg.MaxFailures,
		"reset_timeout": b.cfg.ResetTimeout.String(),
	}
}
