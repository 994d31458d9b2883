// Package risk gates consensus decisions against portfolio constraints and
// computes bracket levels and position size for approved trades.
package risk

import (
	"math"
	"time"

	"consensus-trader/internal/errors"
)

// Config holds the risk limits consumed by the gate.
type Config struct {
	MaxPositionSize       float64 // dollars
	RiskPerTradePct       float64
	StopLossPct           float64
	TakeProfitPct         float64
	MaxOpenPositions      int
	SignalCooldownMinutes int
	MinVolumeRatio        float64

	TrendFilter    bool
	EarningsFilter bool
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxPositionSize:       1000,
		RiskPerTradePct:       2,
		StopLossPct:           2,
		TakeProfitPct:         4,
		MaxOpenPositions:      5,
		SignalCooldownMinutes: 30,
		MinVolumeRatio:        1.5,
		TrendFilter:           true,
		EarningsFilter:        true,
	}
}

// Cooldown returns the cooldown window as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.SignalCooldownMinutes) * time.Minute
}

// MinRewardRisk is the smallest allowed take-profit to stop-loss ratio.
const MinRewardRisk = 2.0

// Validate checks the limits. Every failure wraps errors.ErrConfigInvalid and
// must stop the engine before any cycle runs.
func (c Config) Validate() error {
	positive := []struct {
		field string
		value float64
	}{
		{"max_position_size", c.MaxPositionSize},
		{"risk_per_trade_pct", c.RiskPerTradePct},
		{"stop_loss_pct", c.StopLossPct},
		{"take_profit_pct", c.TakeProfitPct},
		{"min_volume_ratio", c.MinVolumeRatio},
	}
	for _, p := range positive {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) || p.value <= 0 {
			return errors.NewConfigError(p.field, p.value, "must be positive")
		}
	}
	if c.RiskPerTradePct > 100 {
		return errors.NewConfigError("risk_per_trade_pct", c.RiskPerTradePct, "must not exceed 100")
	}
	if c.StopLossPct >= 100 {
		return errors.NewConfigError("stop_loss_pct", c.StopLossPct, "must be below 100")
	}
	if c.TakeProfitPct >= 100 {
		return errors.NewConfigError("take_profit_pct", c.TakeProfitPct, "must be below 100")
	}
	if c.MaxOpenPositions < 1 {
		return errors.NewConfigError("max_open_positions", c.MaxOpenPositions, "must be at least 1")
	}
	if c.SignalCooldownMinutes < 0 {
		return errors.NewConfigError("signal_cooldown_minutes", c.SignalCooldownMinutes, "must not be negative")
	}
	if c.TakeProfitPct < MinRewardRisk*c.StopLossPct {
		return errors.NewConfigError("take_profit_pct", c.TakeProfitPct,
			"reward:risk below 2:1 (take_profit_pct must be >= 2 x stop_loss_pct)")
	}
	return nil
}
