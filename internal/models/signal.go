package models

import "math"

// StrategyID identifies one of the three signal producers.
type StrategyID string

const (
	StrategyMomentum      StrategyID = "momentum"
	StrategyMeanReversion StrategyID = "mean_reversion"
	StrategyNewsSentiment StrategyID = "news_sentiment"
)

// StrategyIDs lists the producers in their fixed evaluation order.
var StrategyIDs = [3]StrategyID{StrategyMomentum, StrategyMeanReversion, StrategyNewsSentiment}

// StrategySignal is the output of a single producer for one symbol and cycle.
type StrategySignal struct {
	StrategyID StrategyID `json:"strategy_id"`
	Direction  Direction  `json:"direction"`
	Strength   float64    `json:"strength"`
	Evidence   []string   `json:"evidence"`
}

// HoldSignal builds a HOLD signal with zero strength.
func HoldSignal(id StrategyID, evidence ...string) StrategySignal {
	return StrategySignal{
		StrategyID: id,
		Direction:  Hold,
		Strength:   0,
		Evidence:   evidence,
	}
}

// Clamped returns a copy with strength limited to [0, 1]. NaN becomes 0 and an
// unknown direction becomes HOLD.
func (s StrategySignal) Clamped() StrategySignal {
	s.Strength = ClampStrength(s.Strength)
	if !s.Direction.Valid() {
		s.Direction = Hold
	}
	if s.Evidence != nil {
		ev := make([]string, len(s.Evidence))
		copy(ev, s.Evidence)
		s.Evidence = ev
	}
	return s
}

// ClampStrength limits a strength value to [0, 1].
func ClampStrength(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
