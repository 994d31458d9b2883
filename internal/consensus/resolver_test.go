package consensus

import (
	"math"
	"testing"
	"time"

	"consensus-trader/internal/models"
)

var at = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

func sig(id models.StrategyID, dir models.Direction, strength float64, evidence ...string) models.StrategySignal {
	return models.StrategySignal{StrategyID: id, Direction: dir, Strength: strength, Evidence: evidence}
}

func triple(d1 models.Direction, s1 float64, d2 models.Direction, s2 float64, d3 models.Direction, s3 float64) [3]models.StrategySignal {
	return [3]models.StrategySignal{
		sig(models.StrategyMomentum, d1, s1),
		sig(models.StrategyMeanReversion, d2, s2),
		sig(models.StrategyNewsSentiment, d3, s3),
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		signals    [3]models.StrategySignal
		wantDir    models.Direction
		wantAgree  int
		wantConfid float64
	}{
		{
			name:       "two buys and a hold",
			signals:    triple(models.Buy, 0.8, models.Buy, 0.65, models.Hold, 0.2),
			wantDir:    models.Buy,
			wantAgree:  2,
			wantConfid: 0.725,
		},
		{
			name:       "unanimous sell",
			signals:    triple(models.Sell, 0.5, models.Sell, 0.6, models.Sell, 0.7),
			wantDir:    models.Sell,
			wantAgree:  3,
			wantConfid: 0.6,
		},
		{
			name:       "majority beats a strong dissenter",
			signals:    triple(models.Buy, 0.4, models.Sell, 0.95, models.Buy, 0.5),
			wantDir:    models.Buy,
			wantAgree:  2,
			wantConfid: 0.45,
		},
		{
			name:       "strong single override",
			signals:    triple(models.Hold, 0.1, models.Sell, 0.9, models.Hold, 0),
			wantDir:    models.Sell,
			wantAgree:  1,
			wantConfid: 0.9,
		},
		{
			name:       "strong single at the threshold",
			signals:    triple(models.Buy, 0.85, models.Hold, 0.3, models.Sell, 0.4),
			wantDir:    models.Buy,
			wantAgree:  1,
			wantConfid: 0.85,
		},
		{
			name:       "weak single is not enough",
			signals:    triple(models.Buy, 0.84, models.Hold, 0.3, models.Hold, 0.1),
			wantDir:    models.Hold,
			wantAgree:  0,
			wantConfid: 0.84,
		},
		{
			name:       "opposing strong signals conflict",
			signals:    triple(models.Buy, 0.9, models.Sell, 0.88, models.Hold, 0.1),
			wantDir:    models.Hold,
			wantAgree:  0,
			wantConfid: 0.9,
		},
		{
			name:       "all hold",
			signals:    triple(models.Hold, 0.2, models.Hold, 0.1, models.Hold, 0),
			wantDir:    models.Hold,
			wantAgree:  0,
			wantConfid: 0.2,
		},
		{
			name:       "out of range strengths clamp",
			signals:    triple(models.Buy, 1.7, models.Buy, -0.3, models.Hold, math.NaN()),
			wantDir:    models.Buy,
			wantAgree:  2,
			wantConfid: 0.5,
		},
		{
			name:       "unknown direction counts as hold",
			signals:    triple(models.Direction("LONG"), 0.99, models.Hold, 0, models.Hold, 0),
			wantDir:    models.Hold,
			wantAgree:  0,
			wantConfid: 0.99,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Resolve("AAPL", at, tt.signals)
			if d.Direction != tt.wantDir {
				t.Errorf("direction = %s, want %s", d.Direction, tt.wantDir)
			}
			if d.AgreeCount != tt.wantAgree {
				t.Errorf("agree_count = %d, want %d", d.AgreeCount, tt.wantAgree)
			}
			if math.Abs(d.Confidence-tt.wantConfid) > 1e-9 {
				t.Errorf("confidence = %v, want %v", d.Confidence, tt.wantConfid)
			}
			if d.Symbol != "AAPL" || !d.Timestamp.Equal(at) {
				t.Errorf("symbol/timestamp not carried: %s %v", d.Symbol, d.Timestamp)
			}
			for i, s := range d.Signals {
				if s.StrategyID != tt.signals[i].StrategyID {
					t.Errorf("signal %d = %s, want %s", i, s.StrategyID, tt.signals[i].StrategyID)
				}
			}
		})
	}
}

func TestResolveDoesNotAliasEvidence(t *testing.T) {
	signals := triple(models.Buy, 0.8, models.Buy, 0.7, models.Hold, 0)
	signals[0].Evidence = []string{"macd_cross_up"}

	d := Resolve("AAPL", at, signals)
	signals[0].Evidence[0] = "mutated"

	if got := d.Signals[0].Evidence[0]; got != "macd_cross_up" {
		t.Errorf("evidence aliased caller slice: %q", got)
	}
}

func TestResolverCustomThreshold(t *testing.T) {
	r := NewResolver(0.7)
	d := r.Resolve("MSFT", at, triple(models.Sell, 0.75, models.Hold, 0, models.Hold, 0))
	if d.Direction != models.Sell {
		t.Fatalf("direction = %s, want SELL", d.Direction)
	}

	if r := NewResolver(1.5); r.StrongThreshold != DefaultStrongThreshold {
		t.Errorf("threshold = %v, want default", r.StrongThreshold)
	}
}

func TestSummary(t *testing.T) {
	d := Resolve("AAPL", at, triple(models.Buy, 0.8, models.Buy, 0.6, models.Hold, 0.2))
	want := "BUY 2/3 70% [momentum BUY 0.80, mean_reversion BUY 0.60, news_sentiment HOLD 0.20]"
	if got := Summary(d); got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}
