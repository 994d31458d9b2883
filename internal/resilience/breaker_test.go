package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/errors"
)

var errOutage = errors.Wrap(errors.ErrConnectionFailed, "dial tcp")

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	b := New("test-"+t.Name(), Config{FailureThreshold: 3, SuccessThreshold: 2, Cooldown: time.Minute}, zerolog.Nop())
	b.now = func() time.Time { return now }
	return b, &now
}

func fail(ctx context.Context) error { return errOutage }
func ok(ctx context.Context) error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	b.Execute(ctx, fail)
	b.Execute(ctx, fail)
	b.Execute(ctx, ok)
	if b.State() != StateClosed {
		t.Fatal("a success should reset the failure streak")
	}

	for i := 0; i < 3; i++ {
		b.Execute(ctx, fail)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN", b.State())
	}

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	if called || !errors.Is(err, ErrOpen) {
		t.Errorf("open circuit ran fn=%v err=%v", called, err)
	}
	if b.Stats().Rejected != 1 {
		t.Errorf("rejected = %d", b.Stats().Rejected)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b.Execute(ctx, fail)
	}

	*now = now.Add(61 * time.Second)
	if err := b.Execute(ctx, ok); err != nil {
		t.Fatalf("half-open trial: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN after one success", b.State())
	}
	b.Execute(ctx, ok)
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want CLOSED", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b.Execute(ctx, fail)
	}
	*now = now.Add(2 * time.Minute)
	b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN", b.State())
	}
	if err := b.Execute(ctx, ok); !errors.Is(err, ErrOpen) {
		t.Errorf("cooldown restarted, err = %v", err)
	}
}

func TestBreakerIgnoresRequestErrors(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()
	rejected := errors.NewBrokerError("submit_order", 422, "insufficient buying power", errors.ErrOrderRejected)
	for i := 0; i < 10; i++ {
		if err := b.Execute(ctx, func(context.Context) error { return rejected }); err != rejected {
			t.Fatalf("err = %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, request errors must not trip the breaker", b.State())
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		b.Execute(ctx, func(ctx context.Context) error { return errors.Wrap(errors.ErrTimeout, ctx.Err().Error()) })
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), fail)
	}
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("state = %s", b.State())
	}
}
