// Package execution turns risk assessments into order intents or suppressed
// signals. It is the hand-off point to the broker and notifier.
package execution

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"consensus-trader/internal/models"
)

// Outcome holds exactly one of Intent or Suppressed.
type Outcome struct {
	Intent     *models.ExecutionIntent  `json:"intent,omitempty"`
	Suppressed *models.SuppressedSignal `json:"suppressed,omitempty"`
}

// Approved reports whether the outcome carries an order intent.
func (o Outcome) Approved() bool {
	return o.Intent != nil
}

// Symbol returns the symbol of whichever side is set.
func (o Outcome) Symbol() string {
	switch {
	case o.Intent != nil:
		return o.Intent.Symbol
	case o.Suppressed != nil:
		return o.Suppressed.Symbol
	}
	return ""
}

// Authorizer maps assessments to outcomes. It keeps no state between calls.
type Authorizer struct {
	newID func() string
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithIDFunc overrides intent ID generation.
func WithIDFunc(fn func() string) Option {
	return func(a *Authorizer) {
		a.newID = fn
	}
}

// NewAuthorizer creates an authorizer that stamps intents with UUIDs.
func NewAuthorizer(opts ...Option) *Authorizer {
	a := &Authorizer{newID: uuid.NewString}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var defaultAuthorizer = NewAuthorizer()

// Authorize uses a default authorizer.
func Authorize(assessment models.RiskAssessment, decision models.ConsensusDecision) Outcome {
	return defaultAuthorizer.Authorize(assessment, decision)
}

// Authorize returns an intent for an approved assessment and a suppressed
// signal otherwise.
func (a *Authorizer) Authorize(assessment models.RiskAssessment, decision models.ConsensusDecision) Outcome {
	if !assessment.Approved || !decision.Actionable() {
		reason := assessment.Reason
		if assessment.Approved || reason == models.ReasonNone {
			reason = models.ReasonNoConsensus
		}
		return Outcome{Suppressed: &models.SuppressedSignal{
			Symbol:     decision.Symbol,
			Direction:  decision.Direction,
			Reason:     reason,
			Detail:     assessment.Detail,
			Confidence: decision.Confidence,
			AgreeCount: decision.AgreeCount,
			Timestamp:  decision.Timestamp,
		}}
	}

	entry, stop, target := RoundLevels(decision.Direction,
		assessment.EntryPrice, assessment.StopLossPrice, assessment.TakeProfitPrice)

	breakdown := make([]models.StrategySignal, len(decision.Signals))
	for i, s := range decision.Signals {
		breakdown[i] = s.Clamped()
	}

	return Outcome{Intent: &models.ExecutionIntent{
		ID:              a.newID(),
		Symbol:          decision.Symbol,
		Direction:       decision.Direction,
		EntryPrice:      entry,
		StopLossPrice:   stop,
		TakeProfitPrice: target,
		PositionSize:    assessment.PositionSize,
		Quantity:        Quantity(assessment.PositionSize, entry),
		Confidence:      decision.Confidence,
		AgreeCount:      decision.AgreeCount,
		Timestamp:       decision.Timestamp,
		Rationale:       Rationale(decision),
		Breakdown:       breakdown,
	}}
}

var cents = decimal.New(1, -2)

// RoundLevels rounds prices to cents. Entry rounds half away from zero; stop
// and target round away from entry (BUY floors the stop and ceils the target,
// SELL mirrors). Float noise below a micro-cent is dropped first.
func RoundLevels(dir models.Direction, entry, stop, target float64) (float64, float64, float64) {
	e := decimal.NewFromFloat(entry).Round(2)
	s := decimal.NewFromFloat(stop)
	t := decimal.NewFromFloat(target)

	if dir == models.Sell {
		s = roundUp(s)
		t = roundDown(t)
	} else {
		s = roundDown(s)
		t = roundUp(t)
	}

	ef, _ := e.Float64()
	sf, _ := s.Float64()
	tf, _ := t.Float64()
	return ef, sf, tf
}

func roundDown(d decimal.Decimal) decimal.Decimal {
	return d.Round(6).Div(cents).Floor().Mul(cents)
}

func roundUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(6).Div(cents).Ceil().Mul(cents)
}

// Quantity is the whole number of shares that fit in size at entry. It is
// zero when one share costs more than size.
func Quantity(size, entry float64) int {
	if size <= 0 || entry <= 0 {
		return 0
	}
	q := decimal.NewFromFloat(size).Div(decimal.NewFromFloat(entry)).Floor()
	return int(q.IntPart())
}

// Rationale joins the evidence of every contributing signal, e.g.
// "BUY 2/3 (72%) | momentum BUY 0.80: macd_cross_up, above_ema200 | ...".
func Rationale(d models.ConsensusDecision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d/3 (%.0f%%)", d.Direction, d.AgreeCount, d.Confidence*100)
	for _, s := range d.Signals {
		fmt.Fprintf(&b, " | %s %s %.2f", s.StrategyID, s.Direction, s.Strength)
		if len(s.Evidence) > 0 {
			b.WriteString(": ")
			b.WriteString(strings.Join(s.Evidence, ", "))
		}
	}
	return b.String()
}
