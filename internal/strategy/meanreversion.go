package strategy

import (
	"context"
	"fmt"

	"consensus-trader/internal/analysis"
	"consensus-trader/internal/models"
)

const (
	meanRevMinBars       = 40
	meanRevSqueezeWidth  = 0.02
	meanRevRSIOversold   = 35.0
	meanRevRSIOverbought = 65.0
	meanRevBuyMax        = 17.5
	meanRevSellMax       = 15.0
)

// MeanReversion trades oversold bounces off the lower Bollinger band and
// exits toward the mean or upper band, confirmed by RSI, Stochastic,
// StochRSI and Chaikin Money Flow.
type MeanReversion struct {
	BaseProducer
}

// NewMeanReversion creates the mean reversion producer.
func NewMeanReversion(threshold float64) *MeanReversion {
	return &MeanReversion{BaseProducer: NewBaseProducer(models.StrategyMeanReversion, threshold)}
}

// Evaluate scores the feature snapshot; sentiment is not used.
func (m *MeanReversion) Evaluate(_ context.Context, f analysis.FeatureSnapshot, _ analysis.SentimentSnapshot) (models.StrategySignal, error) {
	if f.Bars < meanRevMinBars {
		return m.Hold("not enough data (%d bars)", f.Bars), nil
	}
	if f.BollingerWidth < meanRevSqueezeWidth {
		return m.Hold("BB squeeze (width %.2f%%), skipping mean reversion", f.BollingerWidth*100), nil
	}

	st := f.Structure
	srsiK, srsiD := f.StochRSIK, f.StochRSID
	srsiOversold := f.OscillatorsReady && srsiK.Now < 20
	srsiOverbought := f.OscillatorsReady && srsiK.Now > 80
	srsiCrossUp := f.OscillatorsReady && srsiK.CrossedAbove(srsiD) && srsiK.Now < 50
	srsiCrossDown := f.OscillatorsReady && srsiK.CrossedBelow(srsiD) && srsiK.Now > 50
	accumulating := f.OscillatorsReady && f.CMF > 0

	buy := newScore(meanRevBuyMax)
	buy.add(f.Price <= f.BollingerLower*1.015, 3.0, fmt.Sprintf("price at lower BB (%.2f)", f.BollingerLower))
	buy.add(f.RSI.Now < meanRevRSIOversold, 2.0, fmt.Sprintf("RSI oversold (%.1f)", f.RSI.Now))
	buy.add(f.StochK.Now < 25, 1.5, "")
	buy.add(f.StochK.CrossedAbove(f.StochD), 2.0, fmt.Sprintf("Stoch %%K crossover (%.1f)", f.StochK.Now))
	buy.add(f.RSI.Rising(), 1.0, "RSI turning up")
	buy.add(f.VolumeRatio > 1.3, 0.5, "")
	buy.add(st.HigherHigh || st.HigherLow, 1.0, "")
	buy.add(!st.StrongDowntrend(), 0.5, "")
	buy.add(srsiOversold, 2.0, fmt.Sprintf("StochRSI oversold (%.0f)", srsiK.Now))
	buy.add(srsiCrossUp, 1.5, "")
	buy.add(accumulating, 1.5, fmt.Sprintf("CMF accumulating (%+.2f)", f.CMF))
	buy.add(f.OscillatorsReady && f.CMF > 0.1, 0.5, "")
	if f.ATR > 0 {
		buy.add(true, 0, fmt.Sprintf("mean target %.2f, ATR stop %.2f", f.BollingerMiddle, f.Price-2*f.ATR))
	}

	sell := newScore(meanRevSellMax)
	sell.add(f.Price >= f.BollingerUpper*0.985, 3.0, fmt.Sprintf("price at upper BB (%.2f)", f.BollingerUpper))
	sell.add(f.Price >= f.BollingerMiddle*0.995, 1.5, fmt.Sprintf("reached mean (%.2f)", f.BollingerMiddle))
	sell.add(f.RSI.Now > meanRevRSIOverbought, 2.0, fmt.Sprintf("RSI overbought (%.1f)", f.RSI.Now))
	sell.add(f.StochK.Now > 75, 1.5, "")
	sell.add(f.StochK.CrossedBelow(f.StochD), 2.0, fmt.Sprintf("Stoch %%K bearish (%.1f)", f.StochK.Now))
	sell.add(!st.StrongUptrend(), 0.5, "")
	sell.add(srsiOverbought, 2.0, fmt.Sprintf("StochRSI overbought (%.0f)", srsiK.Now))
	sell.add(srsiCrossDown, 1.5, "")
	sell.add(!accumulating, 1.0, fmt.Sprintf("CMF distributing (%+.2f)", f.CMF))

	return m.decide(buy, sell, fmt.Sprintf("in band | RSI %.1f | StochRSI %.0f | CMF %+.2f", f.RSI.Now, srsiK.Now, f.CMF)), nil
}
