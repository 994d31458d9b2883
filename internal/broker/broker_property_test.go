package broker

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"consensus-trader/internal/models"
)

// Property: for any BUY intent with a positive quantity and levels around the
// entry, the bracket order validates, keeps whole-cent legs and never moves a
// leg toward the entry.
func TestProperty_BracketOrderFromIntent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("bracket legs are whole cents and bracket the entry", prop.ForAll(
		func(entry, slPct, tpMult float64, qty int) bool {
			stop := entry * (1 - slPct/100)
			target := entry * (1 + slPct*tpMult/100)
			intent := models.ExecutionIntent{
				ID:              "intent",
				Symbol:          "AAPL",
				Direction:       models.Buy,
				EntryPrice:      entry,
				StopLossPrice:   stop,
				TakeProfitPrice: target,
				Quantity:        qty,
			}

			order, err := NewBracketOrder(intent)
			if err != nil {
				t.Logf("NewBracketOrder: %v", err)
				return false
			}
			if order.Side != models.OrderSideBuy || order.TimeInForce != "gtc" {
				return false
			}
			if !wholeCents(order.StopLossPrice) || !wholeCents(order.TakeProfitPrice) {
				t.Logf("legs not in cents: %v %v", order.StopLossPrice, order.TakeProfitPrice)
				return false
			}
			return order.StopLossPrice <= stop+1e-6 && order.TakeProfitPrice >= target-1e-6
		},
		gen.Float64Range(5, 2000),
		gen.Float64Range(0.5, 10),
		gen.Float64Range(2, 4),
		gen.IntRange(1, 1000),
	))

	properties.Property("zero quantity never validates", prop.ForAll(
		func(entry float64) bool {
			_, err := NewBracketOrder(models.ExecutionIntent{
				Symbol:          "AAPL",
				Direction:       models.Buy,
				StopLossPrice:   entry * 0.98,
				TakeProfitPrice: entry * 1.04,
			})
			return err != nil
		},
		gen.Float64Range(5, 2000),
	))

	properties.TestingRun(t)
}

func wholeCents(v float64) bool {
	c := v * 100
	return math.Abs(c-math.Round(c)) < 1e-6
}
