package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"consensus-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trader.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Property: a logged signal reads back unchanged except for the reason, which
// is cut to MaxReasonLength.
func TestProperty_SignalLogRoundTrip(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	directions := []models.Direction{models.Buy, models.Sell, models.Hold}
	base := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	seq := 0

	properties.Property("signal log round-trip", prop.ForAll(
		func(dirIdx int, confidence float64, consensus int, reasonLen int, acted bool) bool {
			ctx := context.Background()
			seq++
			entry := &models.SignalLogEntry{
				Symbol:     fmt.Sprintf("SYM%d", seq),
				Direction:  directions[dirIdx],
				Confidence: confidence,
				Consensus:  consensus,
				Reason:     strings.Repeat("r", reasonLen),
				Acted:      acted,
				Timestamp:  base.Add(time.Duration(seq) * time.Second),
			}
			if err := store.LogSignal(ctx, entry); err != nil {
				t.Logf("LogSignal: %v", err)
				return false
			}

			got, err := store.GetSignals(ctx, SignalFilter{Symbol: entry.Symbol})
			if err != nil || len(got) != 1 {
				t.Logf("GetSignals: %v (%d rows)", err, len(got))
				return false
			}
			e := got[0]

			wantLen := reasonLen
			if wantLen > MaxReasonLength {
				wantLen = MaxReasonLength
			}
			return e.ID == entry.ID &&
				e.Direction == entry.Direction &&
				floatEqual(e.Confidence, confidence, 1e-12) &&
				e.Consensus == consensus &&
				len(e.Reason) == wantLen &&
				e.Acted == acted &&
				e.Timestamp.Equal(entry.Timestamp)
		},
		gen.IntRange(0, len(directions)-1),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 3),
		gen.IntRange(0, 2*MaxReasonLength),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: closing a trade stores P&L that matches the side, and a second
// close leaves the first exit in place.
func TestProperty_TradeCloseComputesPnL(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	entryTime := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	seq := 0

	properties.Property("close computes side-aware P&L once", prop.ForAll(
		func(sell bool, qty int, entry, exit float64) bool {
			ctx := context.Background()
			seq++
			side := models.OrderSideBuy
			if sell {
				side = models.OrderSideSell
			}
			entry = roundToDecimal(entry, 2)
			exit = roundToDecimal(exit, 2)

			trade := &models.Trade{
				ID:         fmt.Sprintf("trade-%d", seq),
				Symbol:     fmt.Sprintf("SYM%d", seq),
				Side:       side,
				Quantity:   qty,
				EntryPrice: entry,
				EntryTime:  entryTime,
				Strategy:   "consensus",
				Confidence: 0.7,
			}
			if err := store.RecordOpen(ctx, trade); err != nil {
				t.Logf("RecordOpen: %v", err)
				return false
			}

			closed, err := store.RecordClose(ctx, trade.ID, exit, "take_profit", entryTime.Add(time.Hour))
			if err != nil {
				t.Logf("RecordClose: %v", err)
				return false
			}

			want := (exit - entry) * float64(qty)
			if sell {
				want = -want
			}
			if !floatEqual(closed.PnL, want, 0.006) {
				t.Logf("pnl = %v, want %v", closed.PnL, want)
				return false
			}
			if math.Signbit(closed.PnLPercent) != math.Signbit(closed.PnL) && closed.PnL != 0 {
				return false
			}

			again, err := store.RecordClose(ctx, trade.ID, exit*2, "stop_loss", entryTime.Add(2*time.Hour))
			if err != nil {
				return false
			}
			return again.ExitReason == "take_profit" && floatEqual(again.ExitPrice, exit, 1e-9)
		},
		gen.Bool(),
		gen.IntRange(1, 500),
		gen.Float64Range(1, 1000),
		gen.Float64Range(1, 1000),
	))

	properties.TestingRun(t)
}

// roundToDecimal rounds a float to specified decimal places
func roundToDecimal(val float64, places int) float64 {
	multiplier := math.Pow(10, float64(places))
	return math.Round(val*multiplier) / multiplier
}

// floatEqual compares two floats with a tolerance.
func floatEqual(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
