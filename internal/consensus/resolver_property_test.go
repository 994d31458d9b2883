package consensus

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"consensus-trader/internal/models"
)

func genTradeDirection() gopter.Gen {
	return gen.OneConstOf(models.Buy, models.Sell)
}

func genDirection() gopter.Gen {
	return gen.OneConstOf(models.Buy, models.Sell, models.Hold)
}

// place puts the odd signal at slot and fills the others with pair.
func place(slot int, odd models.StrategySignal, pair [2]models.StrategySignal) [3]models.StrategySignal {
	var out [3]models.StrategySignal
	j := 0
	for i := range out {
		if i == slot {
			out[i] = odd
			continue
		}
		out[i] = pair[j]
		j++
	}
	for i := range out {
		out[i].StrategyID = models.StrategyIDs[i]
	}
	return out
}

// Property: two matching trade directions win regardless of the third signal.
func TestProperty_MajorityWins(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("2-of-3 returns the shared direction", prop.ForAll(
		func(dir models.Direction, s1, s2 float64, third models.Direction, s3 float64, slot int) bool {
			signals := place(slot,
				models.StrategySignal{Direction: third, Strength: s3},
				[2]models.StrategySignal{{Direction: dir, Strength: s1}, {Direction: dir, Strength: s2}},
			)
			d := Resolve("SPY", time.Now(), signals)
			if d.Direction != dir {
				return false
			}
			want := 2
			if third == dir {
				want = 3
			}
			return d.AgreeCount == want
		},
		genTradeDirection(),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		genDirection(),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

// Property: a lone strong signal decides when the others hold or dissent
// weakly without forming a majority.
func TestProperty_StrongSingleOverride(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("strong single returns its direction", prop.ForAll(
		func(dir models.Direction, strong float64, dissent bool, weak, holdStrength float64, slot int) bool {
			other := models.StrategySignal{Direction: models.Hold, Strength: weak}
			if dissent {
				other.Direction = dir.Opposite()
			}
			signals := place(slot,
				models.StrategySignal{Direction: dir, Strength: strong},
				[2]models.StrategySignal{other, {Direction: models.Hold, Strength: holdStrength}},
			)
			d := Resolve("QQQ", time.Now(), signals)
			return d.Direction == dir && d.AgreeCount == 1 && d.Confidence == strong
		},
		genTradeDirection(),
		gen.Float64Range(DefaultStrongThreshold, 1),
		gen.Bool(),
		gen.Float64Range(0, 0.84),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

// Property: opposing strong singles resolve to HOLD.
func TestProperty_ConflictHolds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("BUY and SELL both qualifying returns HOLD", prop.ForAll(
		func(buy, sell, hold float64, slot int) bool {
			signals := place(slot,
				models.StrategySignal{Direction: models.Hold, Strength: hold},
				[2]models.StrategySignal{
					{Direction: models.Buy, Strength: buy},
					{Direction: models.Sell, Strength: sell},
				},
			)
			d := Resolve("IWM", time.Now(), signals)
			return d.Direction == models.Hold && d.AgreeCount == 0
		},
		gen.Float64Range(DefaultStrongThreshold, 1),
		gen.Float64Range(DefaultStrongThreshold, 1),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

// Property: for any input the decision is well formed.
func TestProperty_DecisionWellFormed(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("confidence in range and agree count consistent", prop.ForAll(
		func(d1 models.Direction, s1 float64, d2 models.Direction, s2 float64, d3 models.Direction, s3 float64) bool {
			signals := [3]models.StrategySignal{
				{StrategyID: models.StrategyMomentum, Direction: d1, Strength: s1},
				{StrategyID: models.StrategyMeanReversion, Direction: d2, Strength: s2},
				{StrategyID: models.StrategyNewsSentiment, Direction: d3, Strength: s3},
			}
			d := Resolve("DIA", time.Now(), signals)

			if d.Confidence < 0 || d.Confidence > 1 {
				return false
			}
			matching := 0
			for _, s := range d.Signals {
				if s.Strength < 0 || s.Strength > 1 {
					return false
				}
				if s.Direction == d.Direction {
					matching++
				}
			}
			if d.Direction == models.Hold {
				return d.AgreeCount == 0
			}
			return d.AgreeCount == matching && d.AgreeCount >= 1
		},
		genDirection(), gen.Float64Range(-1, 2),
		genDirection(), gen.Float64Range(-1, 2),
		genDirection(), gen.Float64Range(-1, 2),
	))

	properties.TestingRun(t)
}
