package risk

import (
	"math"
	"sync"
	"testing"
	"time"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func buyDecision(symbol string, price float64) models.ConsensusDecision {
	return models.ConsensusDecision{
		Symbol:     symbol,
		Direction:  models.Buy,
		AgreeCount: 2,
		Confidence: 0.725,
		Price:      price,
	}
}

func newTestGate(t *testing.T, clock *fakeClock, opts ...Option) *Gate {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	g, err := NewGate(DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g
}

func TestGateApprovesScenario(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, clock)

	portfolio := models.NewPortfolioState(50000, true)
	a := g.Assess(buyDecision("AAPL", 200), portfolio)

	if !a.Approved {
		t.Fatalf("expected approval, got %s (%s)", a.Reason, a.Detail)
	}
	if a.Reason != models.ReasonNone {
		t.Errorf("approved assessment carries reason %q", a.Reason)
	}
	if !approx(a.PositionSize, 1000) {
		t.Errorf("position size = %v, want 1000", a.PositionSize)
	}
	if !approx(a.EntryPrice, 200) {
		t.Errorf("entry = %v, want 200", a.EntryPrice)
	}
	if !approx(a.StopLossPrice, 196) {
		t.Errorf("stop = %v, want 196", a.StopLossPrice)
	}
	if !approx(a.TakeProfitPrice, 208) {
		t.Errorf("target = %v, want 208", a.TakeProfitPrice)
	}
	if last, ok := g.LastSignal("AAPL"); !ok || !last.Equal(clock.Now()) {
		t.Errorf("approval time not recorded: %v %v", last, ok)
	}
}

func TestGateSellMirrorsLevels(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, clock)

	d := buyDecision("MSFT", 100)
	d.Direction = models.Sell
	a := g.Assess(d, models.NewPortfolioState(50000, true, "MSFT"))

	if !a.Approved {
		t.Fatalf("expected approval, got %s", a.Reason)
	}
	if !approx(a.StopLossPrice, 102) {
		t.Errorf("stop = %v, want 102", a.StopLossPrice)
	}
	if !approx(a.TakeProfitPrice, 96) {
		t.Errorf("target = %v, want 96", a.TakeProfitPrice)
	}
}

func TestGateRejectionOrder(t *testing.T) {
	full := models.NewPortfolioState(50000, true, "A", "B", "C", "D", "E")

	tests := []struct {
		name      string
		decision  func() models.ConsensusDecision
		portfolio models.PortfolioState
		prime     bool
		want      models.RejectionReason
	}{
		{
			name: "hold is no consensus even when market closed",
			decision: func() models.ConsensusDecision {
				d := buyDecision("AAPL", 100)
				d.Direction = models.Hold
				return d
			},
			portfolio: models.NewPortfolioState(50000, false),
			want:      models.ReasonNoConsensus,
		},
		{
			name:      "market closed before duplicate",
			decision:  func() models.ConsensusDecision { return buyDecision("AAPL", 100) },
			portfolio: models.NewPortfolioState(50000, false, "AAPL"),
			want:      models.ReasonMarketClosed,
		},
		{
			name:      "duplicate before max positions",
			decision:  func() models.ConsensusDecision { return buyDecision("A", 100) },
			portfolio: full,
			want:      models.ReasonDuplicatePosition,
		},
		{
			name: "sell without position",
			decision: func() models.ConsensusDecision {
				d := buyDecision("AAPL", 100)
				d.Direction = models.Sell
				return d
			},
			portfolio: models.NewPortfolioState(50000, true),
			want:      models.ReasonNoPositionToSell,
		},
		{
			name:      "max positions before cooldown",
			decision:  func() models.ConsensusDecision { return buyDecision("AAPL", 100) },
			portfolio: full,
			prime:     true,
			want:      models.ReasonMaxPositionsReached,
		},
		{
			name: "sell ignores max positions",
			decision: func() models.ConsensusDecision {
				d := buyDecision("A", 100)
				d.Direction = models.Sell
				return d
			},
			portfolio: full,
			want:      models.ReasonNone,
		},
		{
			name:      "cooldown",
			decision:  func() models.ConsensusDecision { return buyDecision("AAPL", 100) },
			portfolio: models.NewPortfolioState(50000, true),
			prime:     true,
			want:      models.ReasonSignalCooldown,
		},
		{
			name: "bearish daily trend",
			decision: func() models.ConsensusDecision {
				d := buyDecision("AAPL", 100)
				d.DailyTrend = models.TrendBearish
				return d
			},
			portfolio: models.NewPortfolioState(50000, true),
			want:      models.ReasonTrendMisaligned,
		},
		{
			name: "earnings window",
			decision: func() models.ConsensusDecision {
				d := buyDecision("AAPL", 100)
				d.EarningsWindow = true
				return d
			},
			portfolio: models.NewPortfolioState(50000, true),
			want:      models.ReasonEarningsBlackout,
		},
		{
			name:      "missing price",
			decision:  func() models.ConsensusDecision { return buyDecision("AAPL", 0) },
			portfolio: models.NewPortfolioState(50000, true),
			want:      models.ReasonInvalidPrice,
		},
		{
			name:      "zero equity sizes nothing",
			decision:  func() models.ConsensusDecision { return buyDecision("AAPL", 150) },
			portfolio: models.NewPortfolioState(0, true),
			want:      models.ReasonInsufficientSize,
		},
		{
			name:      "share costs more than max position size",
			decision:  func() models.ConsensusDecision { return buyDecision("AAPL", 4800) },
			portfolio: models.NewPortfolioState(50000, true),
			want:      models.ReasonInsufficientSize,
		},
		{
			name: "sell closes regardless of equity",
			decision: func() models.ConsensusDecision {
				d := buyDecision("MSFT", 4800)
				d.Direction = models.Sell
				return d
			},
			portfolio: models.NewPortfolioState(0, true, "MSFT"),
			want:      models.ReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			g := newTestGate(t, clock)
			d := tt.decision()
			if tt.prime {
				g.Restore(map[string]time.Time{d.Symbol: clock.Now().Add(-5 * time.Minute)})
			}
			a := g.Assess(d, tt.portfolio)
			if tt.want == models.ReasonNone {
				if !a.Approved {
					t.Fatalf("expected approval, got %s", a.Reason)
				}
				return
			}
			if a.Approved {
				t.Fatalf("expected %s, got approval", tt.want)
			}
			if a.Reason != tt.want {
				t.Errorf("reason = %s, want %s", a.Reason, tt.want)
			}
			if a.PositionSize != 0 || a.EntryPrice != 0 {
				t.Errorf("rejected assessment carries levels: %+v", a)
			}
		})
	}
}

func TestGateCooldownWindow(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, clock)
	portfolio := models.NewPortfolioState(50000, true)

	if a := g.Assess(buyDecision("AAPL", 100), portfolio); !a.Approved {
		t.Fatalf("first BUY rejected: %s", a.Reason)
	}

	clock.Advance(10 * time.Minute)
	if a := g.Assess(buyDecision("AAPL", 100), portfolio); a.Reason != models.ReasonSignalCooldown {
		t.Fatalf("second BUY reason = %s, want cooldown", a.Reason)
	}

	// A rejection must not refresh the cooldown.
	clock.Advance(20 * time.Minute)
	if a := g.Assess(buyDecision("AAPL", 100), portfolio); !a.Approved {
		t.Fatalf("BUY after 30m rejected: %s", a.Reason)
	}
}

func TestGateRejectionDoesNotRecord(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, clock)

	a := g.Assess(buyDecision("AAPL", 100), models.NewPortfolioState(50000, false))
	if a.Approved {
		t.Fatal("expected rejection")
	}
	if _, ok := g.LastSignal("AAPL"); ok {
		t.Error("rejection recorded an approval time")
	}
}

func TestGateInsufficientSizeLeavesSymbolTradable(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, clock)

	a := g.Assess(buyDecision("AAPL", 150), models.NewPortfolioState(0, true))
	if a.Approved || a.Reason != models.ReasonInsufficientSize {
		t.Fatalf("assessment = %+v, want INSUFFICIENT_SIZE", a)
	}
	if _, ok := g.LastSignal("AAPL"); ok {
		t.Fatal("unfunded approval must not start the cooldown")
	}

	clock.Advance(time.Minute)
	a = g.Assess(buyDecision("AAPL", 150), models.NewPortfolioState(50000, true))
	if !a.Approved {
		t.Fatalf("funded retry rejected: %s", a.Reason)
	}
	if a.PositionSize < a.EntryPrice {
		t.Errorf("size %v buys no share at %v", a.PositionSize, a.EntryPrice)
	}
}

func TestGateOneShareAtCap(t *testing.T) {
	g := newTestGate(t, newFakeClock())
	// 999.996 rounds to 1000.00, exactly one share at the 1000 cap.
	if a := g.Assess(buyDecision("AAPL", 999.996), models.NewPortfolioState(50000, true)); !a.Approved {
		t.Errorf("one share at the cap rejected: %s", a.Reason)
	}
	if a := g.Assess(buyDecision("MSFT", 1000.01), models.NewPortfolioState(50000, true)); a.Reason != models.ReasonInsufficientSize {
		t.Errorf("reason = %s, want INSUFFICIENT_SIZE", a.Reason)
	}
}

func TestGatePreviewDoesNotStartCooldown(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, clock)
	portfolio := models.NewPortfolioState(50000, true)

	preview := g.Preview(buyDecision("AAPL", 200), portfolio)
	if !preview.Approved || !approx(preview.StopLossPrice, 196) {
		t.Fatalf("preview = %+v", preview)
	}
	if _, ok := g.LastSignal("AAPL"); ok {
		t.Fatal("preview recorded an approval time")
	}
	if a := g.Assess(buyDecision("AAPL", 200), portfolio); !a.Approved {
		t.Fatalf("assess after preview rejected: %s", a.Reason)
	}
	if p := g.Preview(buyDecision("AAPL", 200), portfolio); p.Reason != models.ReasonSignalCooldown {
		t.Errorf("preview after approval = %s, want cooldown", p.Reason)
	}
}

func TestGateHaltedGuard(t *testing.T) {
	clock := newFakeClock()
	guard := NewAccountGuard(GuardConfig{MaxDrawdownPct: 10}, 100000)
	guard.Update(85000)
	g := newTestGate(t, clock, WithGuard(guard))

	a := g.Assess(buyDecision("AAPL", 100), models.NewPortfolioState(85000, true))
	if a.Reason != models.ReasonTradingHalted {
		t.Fatalf("reason = %s, want TRADING_HALTED", a.Reason)
	}

	sell := buyDecision("MSFT", 100)
	sell.Direction = models.Sell
	if a := g.Assess(sell, models.NewPortfolioState(85000, true, "MSFT")); !a.Approved {
		t.Fatalf("exit blocked by halt: %s", a.Reason)
	}
}

func TestGateConcurrentSameSymbolApprovesOnce(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, clock)
	portfolio := models.NewPortfolioState(50000, true)

	var wg sync.WaitGroup
	var mu sync.Mutex
	approved := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a := g.Assess(buyDecision("NVDA", 100), portfolio); a.Approved {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if approved != 1 {
		t.Fatalf("approved %d times, want 1", approved)
	}
}

func TestNewGateRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TakeProfitPct = 3

	if _, err := NewGate(cfg); !errors.Is(err, errors.ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid", err)
	}
}

func TestGateRestoreKeepsNewest(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, clock)
	older := clock.Now().Add(-time.Hour)
	newer := clock.Now().Add(-time.Minute)

	g.Restore(map[string]time.Time{"AAPL": newer})
	g.Restore(map[string]time.Time{"AAPL": older})

	if got, _ := g.LastSignal("AAPL"); !got.Equal(newer) {
		t.Errorf("LastSignal = %v, want %v", got, newer)
	}

	clock.Advance(time.Hour)
	if n := g.Prune(); n != 1 {
		t.Errorf("Prune removed %d, want 1", n)
	}
}
