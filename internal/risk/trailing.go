package risk

import (
	"fmt"
	"sort"
	"sync"
)

// TrailingConfig controls when a trailing stop engages and how far it trails.
type TrailingConfig struct {
	ActivationPct float64
	DistancePct   float64
	StopLossPct   float64
}

// StopAction is the outcome of a trailing stop update.
type StopAction string

const (
	StopHold  StopAction = "hold"
	StopClose StopAction = "close"
)

// StopUpdate describes the current protective stop for a position.
type StopUpdate struct {
	Action    StopAction
	StopPrice float64
	PnLPct    float64
	Trailing  bool
	Reason    string
}

// TrailingStops tracks ratcheting stops for open long positions.
type TrailingStops struct {
	cfg TrailingConfig

	mu    sync.Mutex
	stops map[string]float64
}

// NewTrailingStops creates an empty tracker.
func NewTrailingStops(cfg TrailingConfig) *TrailingStops {
	return &TrailingStops{cfg: cfg, stops: make(map[string]float64)}
}

// Update recomputes the stop for symbol at price. Below the activation profit
// the fixed stop-loss applies; above it the stop trails the price and only
// ever moves up.
func (t *TrailingStops) Update(symbol string, price, entry float64) StopUpdate {
	if entry <= 0 || price <= 0 {
		return StopUpdate{Action: StopHold, Reason: "no price"}
	}
	pnlPct := (price - entry) / entry * 100
	fixed := entry * (1 - t.cfg.StopLossPct/100)

	t.mu.Lock()
	defer t.mu.Unlock()

	current, trailing := t.stops[symbol]
	if !trailing && pnlPct < t.cfg.ActivationPct {
		if price <= fixed {
			return StopUpdate{
				Action:    StopClose,
				StopPrice: fixed,
				PnLPct:    pnlPct,
				Reason:    fmt.Sprintf("stop_loss (%+.1f%%)", pnlPct),
			}
		}
		return StopUpdate{Action: StopHold, StopPrice: fixed, PnLPct: pnlPct, Reason: "below activation"}
	}

	if !trailing {
		current = fixed
	}
	stop := price * (1 - t.cfg.DistancePct/100)
	if stop < current {
		stop = current
	}
	t.stops[symbol] = stop

	if price <= stop {
		delete(t.stops, symbol)
		return StopUpdate{
			Action:    StopClose,
			StopPrice: stop,
			PnLPct:    pnlPct,
			Trailing:  true,
			Reason:    fmt.Sprintf("trailing_stop (%+.1f%% locked)", pnlPct),
		}
	}
	return StopUpdate{
		Action:    StopHold,
		StopPrice: stop,
		PnLPct:    pnlPct,
		Trailing:  true,
		Reason:    fmt.Sprintf("trailing at %.2f", stop),
	}
}

// Clear forgets the stop for symbol.
func (t *TrailingStops) Clear(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.stops, symbol)
}

// Stop returns the trailing stop for symbol if one is active.
func (t *TrailingStops) Stop(symbol string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stops[symbol]
	return s, ok
}

// Active lists symbols with an engaged trailing stop.
func (t *TrailingStops) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.stops))
	for s := range t.stops {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
