package risk

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"consensus-trader/internal/models"
)

// Property: two approved BUYs for the same symbol are never closer together
// than the cooldown window, whatever the spacing of incoming decisions.
func TestProperty_CooldownSpacing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("approvals respect cooldown", prop.ForAll(
		func(gaps []int) bool {
			clock := newFakeClock()
			g, err := NewGate(DefaultConfig(), WithClock(clock.Now))
			if err != nil {
				return false
			}
			portfolio := models.NewPortfolioState(50000, true)

			var last time.Time
			seen := false
			for _, gap := range gaps {
				clock.Advance(time.Duration(gap) * time.Minute)
				a := g.Assess(buyDecision("AAPL", 150), portfolio)
				if !a.Approved {
					continue
				}
				now := clock.Now()
				if seen && now.Sub(last) < g.Config().Cooldown() {
					return false
				}
				last = now
				seen = true
			}
			return true
		},
		gen.SliceOfN(20, gen.IntRange(0, 45)),
	))

	properties.TestingRun(t)
}

// Property: a BUY for a new symbol is never approved once the portfolio is at
// the open position limit.
func TestProperty_MaxPositionsBlocksNewBuys(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("full portfolio rejects BUY", prop.ForAll(
		func(limit int, extra int, equity float64) bool {
			cfg := DefaultConfig()
			cfg.MaxOpenPositions = limit
			g, err := NewGate(cfg)
			if err != nil {
				return false
			}
			held := make([]string, 0, limit+extra)
			for i := 0; i < limit+extra; i++ {
				held = append(held, fmt.Sprintf("SYM%d", i))
			}
			a := g.Assess(buyDecision("NEW", 50), models.NewPortfolioState(equity, true, held...))
			return !a.Approved && a.Reason == models.ReasonMaxPositionsReached
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 3),
		gen.Float64Range(1000, 1000000),
	))

	properties.TestingRun(t)
}

// Property: an approved size never exceeds the cap, and a stop-loss hit never
// loses more than the configured share of equity.
func TestProperty_SizingBoundsLoss(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("size capped and loss bounded", prop.ForAll(
		func(equity, riskPct, slPct, maxSize, price float64) bool {
			cfg := DefaultConfig()
			cfg.RiskPerTradePct = riskPct
			cfg.StopLossPct = slPct
			cfg.TakeProfitPct = slPct * 2.5
			cfg.MaxPositionSize = maxSize
			g, err := NewGate(cfg)
			if err != nil {
				return false
			}
			a := g.Assess(buyDecision("AAPL", price), models.NewPortfolioState(equity, true))
			if !a.Approved {
				return a.Reason == models.ReasonInsufficientSize && PositionSize(equity, cfg) < math.Round(price*100)/100
			}
			if a.PositionSize > maxSize+1e-9 {
				return false
			}
			loss := StopLossExposure(a.PositionSize, cfg)
			if loss > equity*riskPct/100+1e-6 {
				return false
			}
			return a.StopLossPrice < a.EntryPrice && a.EntryPrice < a.TakeProfitPrice
		},
		gen.Float64Range(100, 10000000),
		gen.Float64Range(0.1, 5),
		gen.Float64Range(0.5, 10),
		gen.Float64Range(100, 1000000),
		gen.Float64Range(1, 5000),
	))

	properties.TestingRun(t)
}

// Property: approval is the only path that records a cooldown timestamp.
func TestProperty_RejectionLeavesCooldownUntouched(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("rejected decisions do not record", prop.ForAll(
		func(dir models.Direction, marketOpen bool, held bool) bool {
			g, err := NewGate(DefaultConfig())
			if err != nil {
				return false
			}
			d := buyDecision("TSLA", 200)
			d.Direction = dir
			var portfolio models.PortfolioState
			if held {
				portfolio = models.NewPortfolioState(10000, marketOpen, "TSLA")
			} else {
				portfolio = models.NewPortfolioState(10000, marketOpen)
			}
			a := g.Assess(d, portfolio)
			_, recorded := g.LastSignal("TSLA")
			return a.Approved == recorded
		},
		gen.OneConstOf(models.Buy, models.Sell, models.Hold),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
