package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/models"
)

// Gate validates consensus decisions against portfolio constraints. It owns
// the per-symbol last approval time used for the cooldown check.
type Gate struct {
	cfg    Config
	now    func() time.Time
	guard  *AccountGuard
	logger zerolog.Logger

	locks *KeyedMutex

	mu         sync.RWMutex
	lastSignal map[string]time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// WithGuard attaches an account guard whose halt blocks new BUYs.
func WithGuard(guard *AccountGuard) Option {
	return func(g *Gate) {
		g.guard = guard
	}
}

// WithLogger sets the gate logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// NewGate creates a risk gate. It fails with errors.ErrConfigInvalid when the
// limits are unsafe.
func NewGate(cfg Config, opts ...Option) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{
		cfg:        cfg,
		now:        time.Now,
		logger:     zerolog.Nop(),
		locks:      NewKeyedMutex(),
		lastSignal: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Config returns the gate limits.
func (g *Gate) Config() Config {
	return g.cfg
}

// Assess runs the sequential checks and, on approval, computes levels and size
// and records the approval time. Checks for the same symbol are serialized so
// two concurrent callers cannot both pass the cooldown.
func (g *Gate) Assess(decision models.ConsensusDecision, portfolio models.PortfolioState) models.RiskAssessment {
	return g.assess(decision, portfolio, true)
}

// Preview runs the same checks as Assess without recording an approval, so a
// dry evaluation never starts a cooldown.
func (g *Gate) Preview(decision models.ConsensusDecision, portfolio models.PortfolioState) models.RiskAssessment {
	return g.assess(decision, portfolio, false)
}

func (g *Gate) assess(decision models.ConsensusDecision, portfolio models.PortfolioState, record bool) models.RiskAssessment {
	unlock := g.locks.Lock(decision.Symbol)
	defer unlock()

	now := g.now()
	if rejection, ok := g.check(decision, portfolio, now); !ok {
		g.logger.Debug().
			Str("symbol", decision.Symbol).
			Str("direction", string(decision.Direction)).
			Str("reason", string(rejection.Reason)).
			Msg("Risk check rejected")
		return rejection
	}

	entry := decision.Price
	stop, target := BracketLevels(decision.Direction, entry, g.cfg)
	assessment := models.RiskAssessment{
		Approved:        true,
		EntryPrice:      entry,
		StopLossPrice:   stop,
		TakeProfitPrice: target,
		PositionSize:    PositionSize(portfolio.AccountEquity, g.cfg),
	}

	if record {
		g.mu.Lock()
		g.lastSignal[decision.Symbol] = now
		g.mu.Unlock()
	}

	return assessment
}

func (g *Gate) check(d models.ConsensusDecision, p models.PortfolioState, now time.Time) (models.RiskAssessment, bool) {
	if !d.Actionable() {
		return models.Reject(models.ReasonNoConsensus, "strategies did not agree"), false
	}

	if !p.IsMarketOpen {
		return models.Reject(models.ReasonMarketClosed, "market is closed"), false
	}

	held := p.HasPosition(d.Symbol)
	if d.Direction == models.Buy && held {
		return models.Reject(models.ReasonDuplicatePosition, fmt.Sprintf("already holding %s", d.Symbol)), false
	}
	if d.Direction == models.Sell && !held {
		return models.Reject(models.ReasonNoPositionToSell, fmt.Sprintf("no %s position to close", d.Symbol)), false
	}

	if d.Direction == models.Buy && p.OpenCount() >= g.cfg.MaxOpenPositions {
		return models.Reject(models.ReasonMaxPositionsReached,
			fmt.Sprintf("%d/%d positions open", p.OpenCount(), g.cfg.MaxOpenPositions)), false
	}

	if last, ok := g.LastSignal(d.Symbol); ok {
		if elapsed := now.Sub(last); elapsed < g.cfg.Cooldown() {
			return models.Reject(models.ReasonSignalCooldown,
				fmt.Sprintf("last approval %s ago, cooldown %s", elapsed.Round(time.Second), g.cfg.Cooldown())), false
		}
	}

	if d.Direction == models.Buy {
		if g.cfg.TrendFilter && d.DailyTrend == models.TrendBearish {
			return models.Reject(models.ReasonTrendMisaligned, "daily trend bearish"), false
		}
		if g.cfg.EarningsFilter && d.EarningsWindow {
			return models.Reject(models.ReasonEarningsBlackout, "inside earnings window"), false
		}
		if g.guard != nil {
			if halted, why := g.guard.Halted(); halted {
				return models.Reject(models.ReasonTradingHalted, why), false
			}
		}
	}

	if d.Price <= 0 || math.IsNaN(d.Price) || math.IsInf(d.Price, 0) {
		return models.Reject(models.ReasonInvalidPrice, fmt.Sprintf("entry price %v", d.Price)), false
	}

	// A BUY must afford at least one whole share at the cent-rounded entry.
	if d.Direction == models.Buy {
		size := PositionSize(p.AccountEquity, g.cfg)
		if entry := math.Round(d.Price*100) / 100; size < entry {
			return models.Reject(models.ReasonInsufficientSize,
				fmt.Sprintf("size $%.2f buys no share at $%.2f (equity $%.2f)", size, entry, p.AccountEquity)), false
		}
	}

	return models.RiskAssessment{}, true
}

// LastSignal returns the last approval time for symbol.
func (g *Gate) LastSignal(symbol string) (time.Time, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.lastSignal[symbol]
	return t, ok
}

// Restore loads persisted approval times, keeping the newer value on conflict.
func (g *Gate) Restore(times map[string]time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for symbol, t := range times {
		if cur, ok := g.lastSignal[symbol]; !ok || t.After(cur) {
			g.lastSignal[symbol] = t
		}
	}
}

// Snapshot returns a copy of the approval times.
func (g *Gate) Snapshot() map[string]time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]time.Time, len(g.lastSignal))
	for k, v := range g.lastSignal {
		out[k] = v
	}
	return out
}

// Prune drops approval times older than the cooldown.
func (g *Gate) Prune() int {
	cutoff := g.now().Add(-g.cfg.Cooldown())
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for symbol, t := range g.lastSignal {
		if t.Before(cutoff) {
			delete(g.lastSignal, symbol)
			n++
		}
	}
	return n
}
