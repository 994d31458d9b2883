// Package analysis turns raw bars and news into the feature and sentiment
// snapshots the strategy producers read.
package analysis

import (
	"context"
	"math"
	"time"

	"consensus-trader/internal/analysis/indicators"
	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
)

// Indicator periods shared by every snapshot.
const (
	RSIPeriod         = 14
	MACDFast          = 12
	MACDSlow          = 26
	MACDSignal        = 9
	ADXPeriod         = 14
	SuperTrendPeriod  = 10
	SuperTrendMult    = 3.0
	BollingerPeriod   = 20
	BollingerStdDev   = 2.0
	StochK            = 14
	StochD            = 3
	CMFPeriod         = 20
	ATRPeriod         = 14
	VolumePeriod      = 20
	PriceChangeBars   = 3
	MinDailyTrendBars = 30

	// Below this many bars the pandas-style optional indicators (ADX,
	// SuperTrend, StochRSI, CMF) keep their neutral defaults.
	MinOptionalBars = 30
)

// Pair holds the latest and previous value of a series.
type Pair struct {
	Now  float64 `json:"now"`
	Prev float64 `json:"prev"`
}

// CrossedAbove reports a cross of p over other between the two bars.
func (p Pair) CrossedAbove(other Pair) bool {
	return p.Prev < other.Prev && p.Now >= other.Now
}

// CrossedBelow reports a cross of p under other between the two bars.
func (p Pair) CrossedBelow(other Pair) bool {
	return p.Prev > other.Prev && p.Now <= other.Now
}

// Rising reports whether the latest value is above the previous one.
func (p Pair) Rising() bool {
	return p.Now > p.Prev
}

// FeatureSnapshot is the technical view of one symbol at the latest bar.
type FeatureSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Bars      int       `json:"bars"`
	Price     float64   `json:"price"`

	RSI        Pair    `json:"rsi"`
	MACD       Pair    `json:"macd"`
	MACDSignal Pair    `json:"macd_signal"`
	EMA50      float64 `json:"ema50"`
	EMA200     float64 `json:"ema200"`
	VWAP       float64 `json:"vwap"`

	// Neutral defaults (ADX 30, SuperTrend bullish) apply when ADXReady is false.
	ADX               float64 `json:"adx"`
	ADXReady          bool    `json:"adx_ready"`
	SuperTrendBullish bool    `json:"supertrend_bullish"`

	BollingerUpper  float64 `json:"bb_upper"`
	BollingerMiddle float64 `json:"bb_middle"`
	BollingerLower  float64 `json:"bb_lower"`
	BollingerWidth  float64 `json:"bb_width"`
	StochK          Pair    `json:"stoch_k"`
	StochD          Pair    `json:"stoch_d"`
	ATR             float64 `json:"atr"`

	// StochRSI defaults to 50 and CMF to 0 when OscillatorsReady is false.
	StochRSIK        Pair    `json:"stochrsi_k"`
	StochRSID        Pair    `json:"stochrsi_d"`
	CMF              float64 `json:"cmf"`
	OscillatorsReady bool    `json:"oscillators_ready"`

	VolumeRatio    float64                    `json:"volume_ratio"`
	PriceChangePct float64                    `json:"price_change_pct"`
	Structure      indicators.MarketStructure `json:"structure"`
	DailyTrend     models.Trend               `json:"daily_trend"`
}

// Builder computes snapshots with a shared indicator engine.
type Builder struct {
	engine *indicators.Engine
}

// NewBuilder registers every snapshot indicator on an engine with the given
// number of workers.
func NewBuilder(workers int) *Builder {
	e := indicators.NewEngine(workers)
	e.RegisterIndicator(indicators.NewRSI(RSIPeriod))
	e.RegisterIndicator(indicators.NewEMA(50))
	e.RegisterIndicator(indicators.NewEMA(200))
	e.RegisterIndicator(indicators.NewVWAP())
	e.RegisterIndicator(indicators.NewATR(ATRPeriod))
	e.RegisterIndicator(indicators.NewCMF(CMFPeriod))
	e.RegisterMultiIndicator(indicators.NewMACD(MACDFast, MACDSlow, MACDSignal))
	e.RegisterMultiIndicator(indicators.NewADX(ADXPeriod))
	e.RegisterMultiIndicator(indicators.NewSuperTrend(SuperTrendPeriod, SuperTrendMult))
	e.RegisterMultiIndicator(indicators.NewBollingerBands(BollingerPeriod, BollingerStdDev))
	e.RegisterMultiIndicator(indicators.NewStochastic(StochK, StochD))
	e.RegisterMultiIndicator(indicators.NewStochRSI(RSIPeriod, RSIPeriod, 3, 3))
	return &Builder{engine: e}
}

var defaultBuilder = NewBuilder(4)

// BuildFeatureSnapshot builds a snapshot with the package default builder.
func BuildFeatureSnapshot(symbol string, intraday, daily []models.Candle) (FeatureSnapshot, error) {
	return defaultBuilder.Build(context.Background(), symbol, intraday, daily)
}

// Build computes the feature snapshot for symbol. Indicators that need more
// history than available are left at their neutral values; producers apply
// their own minimum bar counts. At least two intraday bars are required.
func (b *Builder) Build(ctx context.Context, symbol string, intraday, daily []models.Candle) (FeatureSnapshot, error) {
	if len(intraday) < 2 {
		return FeatureSnapshot{}, errors.NewDataError("bars", symbol,
			"need at least 2 intraday bars", errors.ErrInsufficientData)
	}
	last := intraday[len(intraday)-1]
	if last.Close <= 0 || math.IsNaN(last.Close) || math.IsInf(last.Close, 0) {
		return FeatureSnapshot{}, errors.NewDataError("bars", symbol, "latest close is not a usable price", nil)
	}

	res, err := b.engine.CalculateAll(ctx, intraday)
	if err != nil {
		return FeatureSnapshot{}, err
	}

	snap := FeatureSnapshot{
		Symbol:            symbol,
		Timestamp:         last.Timestamp,
		Bars:              len(intraday),
		Price:             last.Close,
		ADX:               30,
		SuperTrendBullish: true,
		StochRSIK:         Pair{Now: 50, Prev: 50},
		StochRSID:         Pair{Now: 50, Prev: 50},
		VolumeRatio:       1,
		DailyTrend:        DailyTrend(daily),
	}

	if v, ok := res.Series("RSI_14"); ok {
		snap.RSI = pair(v)
	}
	if v, ok := res.Component("MACD_12_26_9", "macd"); ok {
		snap.MACD = pair(v)
	}
	if v, ok := res.Component("MACD_12_26_9", "signal"); ok {
		snap.MACDSignal = pair(v)
	}
	if v, ok := res.Series("EMA_50"); ok {
		snap.EMA50 = indicators.Last(v, 0)
	}
	if v, ok := res.Series("EMA_200"); ok {
		snap.EMA200 = indicators.Last(v, 0)
	}
	if v, ok := res.Series("VWAP"); ok {
		snap.VWAP = indicators.Last(v, 0)
	}
	if v, ok := res.Series("ATR_14"); ok {
		snap.ATR = indicators.Last(v, 0)
	}
	if v, ok := res.Component("BollingerBands_20_2.0", "upper"); ok {
		snap.BollingerUpper = indicators.Last(v, 0)
		snap.BollingerMiddle = lastOf(res, "BollingerBands_20_2.0", "middle")
		snap.BollingerLower = lastOf(res, "BollingerBands_20_2.0", "lower")
		snap.BollingerWidth = lastOf(res, "BollingerBands_20_2.0", "bandwidth")
	}
	if v, ok := res.Component("Stochastic_14_3", "percent_k"); ok {
		snap.StochK = pair(v)
		d, _ := res.Component("Stochastic_14_3", "percent_d")
		snap.StochD = pair(d)
	}

	if len(intraday) >= MinOptionalBars {
		if v, ok := res.Component("ADX_14", "adx"); ok {
			snap.ADX = indicators.Last(v, 0)
			snap.ADXReady = true
		}
		if v, ok := res.Component("SuperTrend_10_3.0", "direction"); ok {
			snap.SuperTrendBullish = indicators.Last(v, 0) > 0
		}
		k, okK := res.Component("StochRSI_14_14_3_3", "k")
		d, okD := res.Component("StochRSI_14_14_3_3", "d")
		cmf, okC := res.Series("CMF_20")
		if okK && okD && okC {
			snap.StochRSIK = pair(k)
			snap.StochRSID = pair(d)
			snap.CMF = indicators.Last(cmf, 0)
			snap.OscillatorsReady = true
		}
	}

	if ratio, err := indicators.VolumeRatio(intraday, VolumePeriod); err == nil {
		snap.VolumeRatio = ratio
	}
	if len(intraday) > PriceChangeBars {
		base := intraday[len(intraday)-1-PriceChangeBars].Close
		if base > 0 {
			snap.PriceChangePct = (last.Close - base) / base * 100
		}
	}
	if s, err := indicators.CalculateStructure(intraday); err == nil {
		snap.Structure = s
	}

	return snap, nil
}

// DailyTrend classifies the higher-timeframe trend from EMA20 and EMA50 of
// daily closes. Fewer than 30 bars yields TrendUnknown.
func DailyTrend(daily []models.Candle) models.Trend {
	if len(daily) < MinDailyTrendBars {
		return models.TrendUnknown
	}
	closes := indicators.Closes(daily)
	price := closes[len(closes)-1]
	ema20 := indicators.Last(indicators.CalculateEMA(closes, 20), 0)
	ema50 := indicators.Last(indicators.CalculateEMA(closes, 50), 0)

	switch {
	case price > ema20 && ema20 > ema50:
		return models.TrendBullish
	case price < ema20 && ema20 < ema50:
		return models.TrendBearish
	}
	return models.TrendNeutral
}

func pair(values []float64) Pair {
	return Pair{Now: indicators.Last(values, 0), Prev: indicators.Last(values, 1)}
}

func lastOf(res indicators.Results, name, key string) float64 {
	v, _ := res.Component(name, key)
	return indicators.Last(v, 0)
}
