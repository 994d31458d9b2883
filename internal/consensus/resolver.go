// Package consensus reconciles the three strategy signals for a symbol into a
// single BUY, SELL or HOLD decision.
package consensus

import (
	"fmt"
	"strings"
	"time"

	"consensus-trader/internal/models"
)

const (
	// DefaultStrongThreshold is the strength at which a lone signal may carry
	// the decision.
	DefaultStrongThreshold = 0.85

	// MinAgreement is the number of matching signals for a majority.
	MinAgreement = 2
)

// Resolver applies the agreement rule. The zero value uses
// DefaultStrongThreshold.
type Resolver struct {
	StrongThreshold float64
}

// NewResolver creates a resolver with the given strong single signal
// threshold. Values outside (0, 1] fall back to the default.
func NewResolver(strong float64) *Resolver {
	if strong <= 0 || strong > 1 {
		strong = DefaultStrongThreshold
	}
	return &Resolver{StrongThreshold: strong}
}

// tally is the per-direction aggregate of one cycle.
type tally struct {
	count int
	sum   float64
	max   float64
}

func (t tally) mean() float64 {
	if t.count == 0 {
		return 0
	}
	return t.sum / float64(t.count)
}

// Resolve reconciles signals with the default threshold.
func Resolve(symbol string, at time.Time, signals [3]models.StrategySignal) models.ConsensusDecision {
	var r Resolver
	return r.Resolve(symbol, at, signals)
}

// Resolve reconciles signals into a decision. Strengths are clamped to [0, 1]
// first. A direction wins with two of three votes, or, when neither side has a
// majority, with a single signal at or above the strong threshold. If BUY and
// SELL both qualify the result is HOLD.
func (r *Resolver) Resolve(symbol string, at time.Time, signals [3]models.StrategySignal) models.ConsensusDecision {
	strong := r.StrongThreshold
	if strong <= 0 || strong > 1 {
		strong = DefaultStrongThreshold
	}

	decision := models.ConsensusDecision{
		Symbol:    symbol,
		Timestamp: at,
		Direction: models.Hold,
	}

	tallies := make(map[models.Direction]*tally, 2)
	tallies[models.Buy] = &tally{}
	tallies[models.Sell] = &tally{}

	var maxStrength float64
	for i, s := range signals {
		s = s.Clamped()
		decision.Signals[i] = s
		if s.Strength > maxStrength {
			maxStrength = s.Strength
		}
		t, ok := tallies[s.Direction]
		if !ok {
			continue
		}
		t.count++
		t.sum += s.Strength
		if s.Strength > t.max {
			t.max = s.Strength
		}
	}

	buy, sell := tallies[models.Buy], tallies[models.Sell]
	majority := buy.count >= MinAgreement || sell.count >= MinAgreement

	qualifies := func(t *tally) bool {
		if t.count >= MinAgreement {
			return true
		}
		return !majority && t.count == 1 && t.max >= strong
	}

	buyWins, sellWins := qualifies(buy), qualifies(sell)
	switch {
	case buyWins && sellWins:
		decision.Confidence = maxStrength
	case buyWins:
		decision.Direction = models.Buy
		decision.AgreeCount = buy.count
		decision.Confidence = buy.mean()
	case sellWins:
		decision.Direction = models.Sell
		decision.AgreeCount = sell.count
		decision.Confidence = sell.mean()
	default:
		decision.Confidence = maxStrength
	}

	return decision
}

// Summary renders a one-line view of the decision and its inputs, e.g.
// "BUY 2/3 70% [momentum BUY 0.80, mean_reversion BUY 0.60, news_sentiment HOLD 0.20]".
func Summary(d models.ConsensusDecision) string {
	parts := make([]string, 0, len(d.Signals))
	for _, s := range d.Signals {
		parts = append(parts, fmt.Sprintf("%s %s %.2f", s.StrategyID, s.Direction, s.Strength))
	}
	return fmt.Sprintf("%s %d/3 %.0f%% [%s]",
		d.Direction, d.AgreeCount, d.Confidence*100, strings.Join(parts, ", "))
}
