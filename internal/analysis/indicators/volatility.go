package indicators

import (
	"fmt"

	"consensus-trader/internal/models"
)

// ATR calculates the Average True Range with Wilder smoothing.
type ATR struct {
	period int
}

// NewATR creates a new ATR indicator.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("ATR_%d", a.period)
}

func (a *ATR) Period() int {
	return a.period
}

func (a *ATR) Calculate(candles []models.Candle) ([]float64, error) {
	if a.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < a.period {
		return nil, ErrInsufficientData
	}

	tr := make([]float64, len(candles))
	tr[0] = candles[0].High - candles[0].Low
	for i := 1; i < len(candles); i++ {
		tr[i] = trueRange(candles[i], candles[i-1])
	}
	return wilderSmooth(tr, a.period), nil
}

// BollingerBands calculates Bollinger Bands around a simple moving average
// using the sample standard deviation.
type BollingerBands struct {
	period    int
	stdDevMul float64
}

// NewBollingerBands creates a new Bollinger Bands indicator, typically (20, 2).
func NewBollingerBands(period int, stdDevMul float64) *BollingerBands {
	return &BollingerBands{
		period:    period,
		stdDevMul: stdDevMul,
	}
}

func (b *BollingerBands) Name() string {
	return fmt.Sprintf("BollingerBands_%d_%.1f", b.period, b.stdDevMul)
}

func (b *BollingerBands) Period() int {
	return b.period
}

// Calculate returns "middle", "upper", "lower", "bandwidth" ((upper-lower)/middle)
// and "percent_b".
func (b *BollingerBands) Calculate(candles []models.Candle) (map[string][]float64, error) {
	if b.period < 2 || b.stdDevMul <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < b.period {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	closes := Closes(candles)
	middle := make([]float64, n)
	upper := make([]float64, n)
	lower := make([]float64, n)
	bandwidth := make([]float64, n)
	percentB := make([]float64, n)

	for i := b.period - 1; i < n; i++ {
		window := closes[i-b.period+1 : i+1]
		sma := mean(window)
		offset := b.stdDevMul * sampleStdDev(window)

		middle[i] = sma
		upper[i] = sma + offset
		lower[i] = sma - offset
		if sma != 0 {
			bandwidth[i] = (upper[i] - lower[i]) / sma
		}
		if offset != 0 {
			percentB[i] = (closes[i] - lower[i]) / (upper[i] - lower[i])
		}
	}

	return map[string][]float64{
		"middle":    middle,
		"upper":     upper,
		"lower":     lower,
		"bandwidth": bandwidth,
		"percent_b": percentB,
	}, nil
}
