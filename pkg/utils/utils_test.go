package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"consensus-trader/internal/models"
)

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{999.5, "$999.50"},
		{1234.567, "$1,234.57"},
		{1234567.1, "$1,234,567.10"},
		{-50000, "-$50,000.00"},
	}
	for _, tt := range tests {
		if got := FormatUSD(tt.in); got != tt.want {
			t.Errorf("FormatUSD(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := FormatPnL(12.5); got != "+$12.50" {
		t.Errorf("FormatPnL = %q", got)
	}
	if got := FormatCompact(2500000); got != "$2.50M" {
		t.Errorf("FormatCompact = %q", got)
	}
}

func TestMarketStatusAt(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want models.MarketStatus
	}{
		{"before open", time.Date(2026, 3, 2, 9, 29, 0, 0, NewYork), models.MarketClosed},
		{"at open", time.Date(2026, 3, 2, 9, 30, 0, 0, NewYork), models.MarketOpen},
		{"midday", time.Date(2026, 3, 2, 12, 0, 0, 0, NewYork), models.MarketOpen},
		{"at close", time.Date(2026, 3, 2, 16, 0, 0, 0, NewYork), models.MarketClosed},
		{"saturday", time.Date(2026, 3, 7, 12, 0, 0, 0, NewYork), models.MarketClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MarketStatusAt(tt.at); got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextMarketOpenSkipsWeekend(t *testing.T) {
	friday := time.Date(2026, 3, 6, 17, 0, 0, 0, NewYork)
	got := NextMarketOpen(friday)
	want := time.Date(2026, 3, 9, 9, 30, 0, 0, NewYork)
	if !got.Equal(want) {
		t.Errorf("NextMarketOpen = %v, want %v", got, want)
	}
}

func TestNextDailyAt(t *testing.T) {
	now := time.Date(2026, 3, 2, 16, 5, 0, 0, NewYork)
	got, err := NextDailyAt(now, "16:05", NewYork)
	if err != nil {
		t.Fatal(err)
	}
	if want := now.AddDate(0, 0, 1); !got.Equal(want) {
		t.Errorf("NextDailyAt = %v, want %v", got, want)
	}
	if _, err := NextDailyAt(now, "4pm", nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("err = %v after %d calls, want permanent after 1", err, calls)
	}
}

func TestRetryWithResultEventuallySucceeds(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}

	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Errorf("got %d, %v", got, err)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Second, BackoffFactor: 1}

	err := Retry(ctx, cfg, func() error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
