package strategy

import (
	"context"
	"fmt"

	"consensus-trader/internal/analysis"
	"consensus-trader/internal/analysis/indicators"
	"consensus-trader/internal/models"
)

const (
	momentumMinBars     = 60
	momentumChoppyADX   = 15.0
	momentumTrendingADX = 20.0
	momentumStrongADX   = 35.0
	momentumOverbought  = 75.0
	momentumBuyMax      = 13.0
	momentumSellMax     = 11.5
)

// Momentum trades trend continuation: price above its long EMAs, RSI around
// the midline, MACD crossovers, volume, swing structure, ADX and SuperTrend.
type Momentum struct {
	BaseProducer
	volumeMultiplier float64
}

// NewMomentum creates the momentum producer.
func NewMomentum(threshold, volumeMultiplier float64) *Momentum {
	if volumeMultiplier <= 0 {
		volumeMultiplier = 1.5
	}
	return &Momentum{
		BaseProducer:     NewBaseProducer(models.StrategyMomentum, threshold),
		volumeMultiplier: volumeMultiplier,
	}
}

// Evaluate scores the feature snapshot; sentiment is not used.
func (m *Momentum) Evaluate(_ context.Context, f analysis.FeatureSnapshot, _ analysis.SentimentSnapshot) (models.StrategySignal, error) {
	if f.Bars < momentumMinBars {
		return m.Hold("not enough data (%d bars)", f.Bars), nil
	}
	if f.ADX < momentumChoppyADX {
		return m.Hold("ADX %.0f, choppy market", f.ADX), nil
	}

	trending := f.ADX >= momentumTrendingADX
	strongTrend := f.ADXReady && f.ADX >= momentumStrongADX
	st := f.Structure
	aboveVWAP := f.VWAP > 0 && f.Price > f.VWAP

	buy := newScore(momentumBuyMax)
	buy.add(f.Price > f.EMA200, 1.0, "price above EMA200")
	buy.add(f.Price > f.EMA50, 0.5, "")
	buy.add(f.RSI.Prev < 52 && f.RSI.Now >= 48, 2.0, fmt.Sprintf("RSI crossed 50 (%.1f)", f.RSI.Now))
	buy.add(f.MACD.CrossedAbove(f.MACDSignal), 2.0, "MACD bullish crossover")
	buy.add(f.VolumeRatio > m.volumeMultiplier, 1.0, fmt.Sprintf("vol %.2fx avg", f.VolumeRatio))
	buy.add(f.RSI.Now < momentumOverbought, 0.5, "")
	buy.add(st.HigherHigh, 1.5, structureNote(st))
	buy.add(st.StrongUptrend(), 0.5, "")
	buy.add(aboveVWAP, 0.5, fmt.Sprintf("above VWAP (%.2f)", f.VWAP))
	buy.add(trending, 1.0, "")
	buy.add(strongTrend, 0.5, "")
	buy.add(f.SuperTrendBullish, 1.5, "SuperTrend up")
	buy.add(f.ADXReady, 0, fmt.Sprintf("ADX %.0f", f.ADX))

	sell := newScore(momentumSellMax)
	sell.add(f.Price < f.EMA200, 2.0, "price below EMA200")
	sell.add(f.RSI.Prev > 48 && f.RSI.Now <= 52, 2.0, fmt.Sprintf("RSI dropped below 50 (%.1f)", f.RSI.Now))
	sell.add(f.MACD.CrossedBelow(f.MACDSignal), 2.0, "MACD bearish crossover")
	sell.add(f.RSI.Now > momentumOverbought, 1.0, fmt.Sprintf("RSI overbought (%.1f)", f.RSI.Now))
	sell.add(st.LowerLow, 1.5, structureNote(st))
	sell.add(st.StrongDowntrend(), 0.5, "")
	sell.add(trending, 0.5, "")
	sell.add(!f.SuperTrendBullish, 1.5, "SuperTrend down")
	sell.add(f.ADXReady, 0, fmt.Sprintf("ADX %.0f", f.ADX))

	return m.decide(buy, sell, fmt.Sprintf("no clear signal | RSI %.1f | ADX %.0f", f.RSI.Now, f.ADX)), nil
}

func structureNote(s indicators.MarketStructure) string {
	switch s.Label() {
	case indicators.StructureStrongUp:
		return "structure: HH+HL (strong uptrend)"
	case indicators.StructureHigherHigh:
		return "structure: HH (new highs)"
	case indicators.StructureStrongDown:
		return "structure: LL+LH"
	case indicators.StructureLowerLow:
		return "structure: LL (new lows)"
	}
	return "structure: ranging"
}
