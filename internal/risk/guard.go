package risk

import (
	"fmt"
	"sync"
)

// GuardConfig holds the account-level circuit breaker limits. A zero limit
// disables that breaker.
type GuardConfig struct {
	MaxDrawdownPct  float64
	MaxDailyLossPct float64
}

// GuardStatus is a point-in-time view of the account guard.
type GuardStatus struct {
	Halted      bool    `json:"halted"`
	Reason      string  `json:"reason,omitempty"`
	PeakEquity  float64 `json:"peak_equity"`
	DayStart    float64 `json:"day_start_equity"`
	DrawdownPct float64 `json:"drawdown_pct"`
	DailyPnLPct float64 `json:"daily_pnl_pct"`
}

// AccountGuard halts new entries on a drawdown from peak equity or an intraday
// loss. The drawdown halt latches until Resume; the daily halt clears on
// ResetDay.
type AccountGuard struct {
	cfg GuardConfig

	mu          sync.RWMutex
	peak        float64
	dayStart    float64
	last        float64
	drawdownHit bool
	dailyHit    bool
	reason      string
}

// NewAccountGuard creates a guard seeded with the current equity.
func NewAccountGuard(cfg GuardConfig, equity float64) *AccountGuard {
	return &AccountGuard{
		cfg:      cfg,
		peak:     equity,
		dayStart: equity,
		last:     equity,
	}
}

// Update feeds the latest equity and re-evaluates both breakers.
func (g *AccountGuard) Update(equity float64) GuardStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	if equity <= 0 {
		return g.statusLocked()
	}
	g.last = equity
	if g.peak <= 0 || equity > g.peak {
		g.peak = equity
	}
	if g.dayStart <= 0 {
		g.dayStart = equity
	}

	dd := g.drawdownLocked()
	if g.cfg.MaxDrawdownPct > 0 && dd >= g.cfg.MaxDrawdownPct && !g.drawdownHit {
		g.drawdownHit = true
		g.reason = fmt.Sprintf("drawdown %.1f%% exceeds limit %.1f%%", dd, g.cfg.MaxDrawdownPct)
	}

	daily := g.dailyLocked()
	if g.cfg.MaxDailyLossPct > 0 && daily <= -g.cfg.MaxDailyLossPct && !g.dailyHit && !g.drawdownHit {
		g.dailyHit = true
		g.reason = fmt.Sprintf("daily loss %.1f%% exceeds limit %.1f%%", daily, g.cfg.MaxDailyLossPct)
	}

	return g.statusLocked()
}

// ResetDay starts a new trading day at equity and clears the daily halt.
func (g *AccountGuard) ResetDay(equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if equity > 0 {
		g.dayStart = equity
		g.last = equity
	}
	g.dailyHit = false
	if !g.drawdownHit {
		g.reason = ""
	}
}

// Resume clears every halt and resets the peak to the last equity.
func (g *AccountGuard) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drawdownHit = false
	g.dailyHit = false
	g.reason = ""
	g.peak = g.last
}

// Halted reports whether new entries are blocked and why.
func (g *AccountGuard) Halted() (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.drawdownHit || g.dailyHit, g.reason
}

// Status returns the current guard view.
func (g *AccountGuard) Status() GuardStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.statusLocked()
}

func (g *AccountGuard) statusLocked() GuardStatus {
	return GuardStatus{
		Halted:      g.drawdownHit || g.dailyHit,
		Reason:      g.reason,
		PeakEquity:  g.peak,
		DayStart:    g.dayStart,
		DrawdownPct: g.drawdownLocked(),
		DailyPnLPct: g.dailyLocked(),
	}
}

func (g *AccountGuard) drawdownLocked() float64 {
	if g.peak <= 0 {
		return 0
	}
	return (g.peak - g.last) / g.peak * 100
}

func (g *AccountGuard) dailyLocked() float64 {
	if g.dayStart <= 0 {
		return 0
	}
	return (g.last - g.dayStart) / g.dayStart * 100
}
