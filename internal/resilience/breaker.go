// Package resilience guards outbound calls with a circuit breaker.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/metrics"
)

// State is the state of a circuit breaker.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ErrOpen is returned while the circuit rejects calls. It wraps
// errors.ErrConnectionFailed so callers treat it as a transient outage.
var ErrOpen = errors.Wrap(errors.ErrConnectionFailed, "circuit open")

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// SuccessThreshold successes in half-open close it again.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before a probe.
	Cooldown time.Duration
	// IsFailure decides which errors count. Defaults to errors.IsRetryable,
	// so request errors such as a rejected order do not trip the breaker.
	IsFailure func(error) bool
}

// DefaultConfig returns the breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name   string
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	openedAt    time.Time
	probing     bool
	rejected    int64
	lastFailure error
}

// New creates a closed breaker.
func New(name string, cfg Config, logger zerolog.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = errors.IsRetryable
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With().Str("breaker", name).Logger(),
		state:  StateClosed,
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return b
}

// Execute runs fn unless the circuit is open. Context cancellation is
// neither a failure nor a success.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		b.release()
		return err
	}
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.rejected++
			return errors.Wrap(ErrOpen, b.name)
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		// One probe at a time.
		if b.probing {
			b.rejected++
			return errors.Wrap(ErrOpen, b.name)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err != nil && b.cfg.IsFailure(err) {
		b.lastFailure = err
		switch b.state {
		case StateClosed:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.transition(StateOpen)
			}
		case StateHalfOpen:
			b.transition(StateOpen)
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0

	gauge := 0.0
	switch to {
	case StateOpen:
		b.openedAt = b.now()
		gauge = 2
		b.logger.Warn().Err(b.lastFailure).Str("from", string(from)).Dur("cooldown", b.cfg.Cooldown).Msg("Circuit opened")
	case StateHalfOpen:
		gauge = 1
		b.logger.Info().Msg("Circuit half-open, probing")
	case StateClosed:
		b.logger.Info().Msg("Circuit closed")
	}
	metrics.BreakerState.WithLabelValues(b.name).Set(gauge)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Failures int    `json:"failures"`
	Rejected int64  `json:"rejected"`
}

// Stats returns breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Name: b.name, State: b.state, Failures: b.failures, Rejected: b.rejected}
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.transition(StateClosed)
}
