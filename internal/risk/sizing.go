package risk

import (
	"math"

	"consensus-trader/internal/models"
)

// PositionSize returns the dollar size for a trade so that a stop-loss hit
// loses RiskPerTradePct of equity, capped at MaxPositionSize.
func PositionSize(equity float64, cfg Config) float64 {
	if equity <= 0 || math.IsNaN(equity) || cfg.StopLossPct <= 0 {
		return 0
	}
	raw := equity * (cfg.RiskPerTradePct / 100) / (cfg.StopLossPct / 100)
	return math.Min(cfg.MaxPositionSize, raw)
}

// BracketLevels returns stop-loss and take-profit prices for entry. BUY places
// the stop below and the target above; SELL mirrors both.
func BracketLevels(dir models.Direction, entry float64, cfg Config) (stop, target float64) {
	sl := cfg.StopLossPct / 100
	tp := cfg.TakeProfitPct / 100
	if dir == models.Sell {
		return entry * (1 + sl), entry * (1 - tp)
	}
	return entry * (1 - sl), entry * (1 + tp)
}

// StopLossExposure is the dollar loss of size when price moves by the stop
// distance.
func StopLossExposure(size float64, cfg Config) float64 {
	return size * cfg.StopLossPct / 100
}
