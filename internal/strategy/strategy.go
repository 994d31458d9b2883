// Package strategy provides the three signal producers and the failure
// isolation used when running them.
package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"

	"consensus-trader/internal/analysis"
	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
)

// Producer turns snapshots into a directional signal for one symbol.
type Producer interface {
	// ID returns the producer's fixed strategy identifier.
	ID() models.StrategyID
	// Evaluate scores the snapshots. Errors are converted to HOLD by SafeEvaluate.
	Evaluate(ctx context.Context, f analysis.FeatureSnapshot, s analysis.SentimentSnapshot) (models.StrategySignal, error)
}

// Params holds the producer thresholds.
type Params struct {
	MomentumThreshold      float64
	MeanReversionThreshold float64
	NewsThreshold          float64
	SentimentThreshold     float64
	MinArticles            int
	VolumeMultiplier       float64
}

// DefaultParams returns the standard thresholds.
func DefaultParams() Params {
	return Params{
		MomentumThreshold:      0.45,
		MeanReversionThreshold: 0.38,
		NewsThreshold:          0.55,
		SentimentThreshold:     0.3,
		MinArticles:            2,
		VolumeMultiplier:       1.5,
	}
}

// Set returns the three producers in their fixed order.
func Set(p Params) [3]Producer {
	return [3]Producer{
		NewMomentum(p.MomentumThreshold, p.VolumeMultiplier),
		NewMeanReversion(p.MeanReversionThreshold),
		NewNewsSentiment(p.NewsThreshold, p.SentimentThreshold, p.MinArticles),
	}
}

// BaseProducer provides the identifier and threshold shared by all producers.
type BaseProducer struct {
	id        models.StrategyID
	threshold float64
}

// NewBaseProducer creates a base producer. A threshold outside (0, 1] is
// replaced by 0.5.
func NewBaseProducer(id models.StrategyID, threshold float64) BaseProducer {
	if threshold <= 0 || threshold > 1 || math.IsNaN(threshold) {
		threshold = 0.5
	}
	return BaseProducer{id: id, threshold: threshold}
}

// ID returns the strategy identifier.
func (b *BaseProducer) ID() models.StrategyID {
	return b.id
}

// Threshold returns the minimum strength for a directional signal.
func (b *BaseProducer) Threshold() float64 {
	return b.threshold
}

// Hold builds a zero-strength HOLD with one evidence line.
func (b *BaseProducer) Hold(format string, args ...interface{}) models.StrategySignal {
	return models.HoldSignal(b.id, fmt.Sprintf(format, args...))
}

// score accumulates weighted conditions and the evidence for those that hold.
type score struct {
	total    float64
	max      float64
	evidence []string
}

func newScore(ceiling float64) *score {
	return &score{max: ceiling}
}

// add adds weight when cond holds. An empty note adds no evidence.
func (s *score) add(cond bool, weight float64, note string) {
	if !cond {
		return
	}
	s.total += weight
	if note != "" {
		s.evidence = append(s.evidence, note)
	}
}

func (s *score) strength() float64 {
	if s.max <= 0 {
		return 0
	}
	return s.total / s.max
}

// decide picks the stronger side when it clears the threshold. Strengths are
// rounded to two decimals; a tie or a sub-threshold score is HOLD.
func (b *BaseProducer) decide(buy, sell *score, holdNote string) models.StrategySignal {
	bs, ss := buy.strength(), sell.strength()
	switch {
	case bs >= b.threshold && bs > ss:
		return models.StrategySignal{StrategyID: b.id, Direction: models.Buy, Strength: round2(bs), Evidence: buy.evidence}
	case ss >= b.threshold && ss > bs:
		return models.StrategySignal{StrategyID: b.id, Direction: models.Sell, Strength: round2(ss), Evidence: sell.evidence}
	}
	return b.Hold("%s | buy %.0f%% sell %.0f%%", holdNote, bs*100, ss*100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ErrorEvidence formats the evidence line of a failed producer.
func ErrorEvidence(id models.StrategyID, err error) string {
	cause := err.Error()
	var se *errors.StrategyError
	if errors.As(err, &se) && se.Err != nil {
		cause = se.Err.Error()
	}
	return fmt.Sprintf("error: %s: %s", id, strings.TrimSpace(cause))
}

// SafeEvaluate runs p and converts an error or panic into a zero-strength HOLD
// carrying an error evidence line. The error is still returned for logging.
// Successful signals are stamped with the producer ID and clamped.
func SafeEvaluate(ctx context.Context, p Producer, f analysis.FeatureSnapshot, s analysis.SentimentSnapshot) (sig models.StrategySignal, err error) {
	id := p.ID()
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewStrategyError(string(id), f.Symbol, fmt.Errorf("panic: %v", r))
			sig = models.HoldSignal(id, ErrorEvidence(id, err))
		}
	}()

	sig, err = p.Evaluate(ctx, f, s)
	if err != nil {
		if _, ok := err.(*errors.StrategyError); !ok {
			err = errors.NewStrategyError(string(id), f.Symbol, err)
		}
		return models.HoldSignal(id, ErrorEvidence(id, err)), err
	}
	sig.StrategyID = id
	return sig.Clamped(), nil
}
