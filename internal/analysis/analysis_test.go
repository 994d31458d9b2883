package analysis

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
)

func bars(n int, start, step float64) []models.Candle {
	t0 := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		c := start + float64(i)*step
		out[i] = models.Candle{
			Timestamp: t0.Add(time.Duration(i) * 15 * time.Minute),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    10000,
		}
	}
	return out
}

func TestBuildFeatureSnapshot(t *testing.T) {
	intraday := bars(80, 100, 0.25)
	intraday[79].Volume = 30000

	snap, err := BuildFeatureSnapshot("AAPL", intraday, bars(60, 150, 1))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Bars != 80 || snap.Price != intraday[79].Close {
		t.Errorf("bars/price = %d/%v", snap.Bars, snap.Price)
	}
	if !snap.ADXReady || !snap.OscillatorsReady {
		t.Error("optional indicators not ready with 80 bars")
	}
	if !snap.SuperTrendBullish {
		t.Error("SuperTrend bearish on a rising series")
	}
	if snap.Price <= snap.EMA50 || snap.EMA50 <= snap.EMA200 {
		t.Errorf("EMA ordering on a rising series: price %v ema50 %v ema200 %v", snap.Price, snap.EMA50, snap.EMA200)
	}
	if snap.RSI.Now <= 50 {
		t.Errorf("RSI = %v, want > 50", snap.RSI.Now)
	}
	// 30000 / mean(19*10000 + 30000)/20 = 30000/11000
	if math.Abs(snap.VolumeRatio-30000.0/11000.0) > 1e-9 {
		t.Errorf("volume ratio = %v", snap.VolumeRatio)
	}
	if want := 0.75 / intraday[76].Close * 100; math.Abs(snap.PriceChangePct-want) > 1e-9 {
		t.Errorf("price change = %v, want %v", snap.PriceChangePct, want)
	}
	if !snap.Structure.StrongUptrend() {
		t.Errorf("structure = %+v, want HH+HL", snap.Structure)
	}
	if snap.DailyTrend != models.TrendBullish {
		t.Errorf("daily trend = %s", snap.DailyTrend)
	}
}

func TestBuildFeatureSnapshotShortHistoryUsesDefaults(t *testing.T) {
	snap, err := BuildFeatureSnapshot("AAPL", bars(20, 100, 0.1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ADXReady || snap.ADX != 30 || !snap.SuperTrendBullish {
		t.Errorf("ADX defaults not applied: %+v", snap)
	}
	if snap.OscillatorsReady || snap.StochRSIK.Now != 50 || snap.CMF != 0 {
		t.Errorf("oscillator defaults not applied: %+v", snap)
	}
	if snap.DailyTrend != models.TrendUnknown {
		t.Errorf("daily trend = %q, want unknown", snap.DailyTrend)
	}
}

func TestBuildFeatureSnapshotErrors(t *testing.T) {
	if _, err := BuildFeatureSnapshot("AAPL", bars(1, 100, 0), nil); !errors.Is(err, errors.ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
	bad := bars(10, 100, 0)
	bad[9].Close = 0
	var de *errors.DataError
	if _, err := BuildFeatureSnapshot("AAPL", bad, nil); !errors.As(err, &de) {
		t.Errorf("err = %v, want DataError", err)
	}
}

func TestDailyTrend(t *testing.T) {
	tests := []struct {
		name  string
		daily []models.Candle
		want  models.Trend
	}{
		{"too short", bars(29, 100, 1), models.TrendUnknown},
		{"rising", bars(60, 100, 1), models.TrendBullish},
		{"falling", bars(60, 200, -1), models.TrendBearish},
		{"flat", bars(60, 100, 0), models.TrendNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DailyTrend(tt.daily); got != tt.want {
				t.Errorf("DailyTrend = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScoreText(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"", 0},
		{"Shares trade sideways", 0},
		{"Apple beats estimates", 1},
		{"Company faces lawsuit", -1},
		{"Record revenue but layoffs", 0},
		{"Analyst upgrade despite debt", 1.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := ScoreText(tt.text); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ScoreText(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestScoreArticles(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	articles := []models.Article{
		{Headline: "Old news", CreatedAt: now.Add(-5 * time.Hour)},
		{Headline: "Nvidia beats estimates", CreatedAt: now.Add(-time.Hour)},
		{Headline: "Nvidia faces lawsuit", Summary: "investigation opened", CreatedAt: now.Add(-2 * time.Hour)},
	}
	got := ScoreArticles(articles)
	if got.Count != 3 {
		t.Fatalf("count = %d", got.Count)
	}
	if got.TopHeadline != "Nvidia beats estimates" {
		t.Errorf("top headline = %q", got.TopHeadline)
	}
	if got.Score != 0 {
		t.Errorf("score = %v, want 0 ((1 - 1 + 0) / 3)", got.Score)
	}
	if empty := ScoreArticles(nil); empty.Count != 0 || empty.Score != 0 {
		t.Errorf("empty = %+v", empty)
	}
}

func TestBuildSentimentSnapshot(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	articles := []models.Article{
		{Headline: "MSFT earnings call scheduled", CreatedAt: now.Add(-2 * time.Hour)},
		{Headline: "Microsoft reports revenue growth and strong earnings", CreatedAt: now.Add(-3 * time.Hour)},
	}

	snap := BuildSentimentSnapshot("MSFT", articles, -1, now)
	if !snap.EarningsWindow {
		t.Error("earnings window not detected")
	}
	if snap.Catalyst != 0.6 {
		t.Errorf("catalyst = %v, want 0.6", snap.Catalyst)
	}
	if snap.ArticleCount != 2 || snap.Score <= 0 {
		t.Errorf("snapshot = %+v", snap)
	}

	stale := []models.Article{{Headline: "Quarterly earnings recap", CreatedAt: now.AddDate(0, 0, -3)}}
	if BuildSentimentSnapshot("MSFT", stale, 0, now).EarningsWindow {
		t.Error("article outside the window flagged earnings")
	}
	if got := BuildSentimentSnapshot("MSFT", articles, 0.2, now).Catalyst; got != 0.2 {
		t.Errorf("explicit catalyst overridden: %v", got)
	}
}

func TestProperty_ScoreTextBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	words := []string{"beat", "miss", "record", "lawsuit", "growth", "debt", "deal", "cut", "the", "shares", "upgrade", "loss"}

	// Property: any combination of keywords scores within [-1, 1].
	properties.Property("score is within [-1, 1]", prop.ForAll(
		func(picked []string) bool {
			s := ScoreText(strings.Join(picked, " "))
			return s >= -1 && s <= 1 && !math.IsNaN(s)
		},
		gen.SliceOf(gen.IntRange(0, len(words)-1).Map(func(i int) string { return words[i] })),
	))

	properties.TestingRun(t)
}
