package indicators

import (
	"fmt"

	"consensus-trader/internal/models"
)

// VWAP calculates the session Volume Weighted Average Price. The running sums
// reset at the first bar of each calendar day in the candle's location.
type VWAP struct{}

// NewVWAP creates a new VWAP indicator.
func NewVWAP() *VWAP {
	return &VWAP{}
}

func (v *VWAP) Name() string {
	return "VWAP"
}

func (v *VWAP) Period() int {
	return 1
}

func (v *VWAP) Calculate(candles []models.Candle) ([]float64, error) {
	if len(candles) == 0 {
		return nil, ErrInsufficientData
	}

	out := make([]float64, len(candles))
	var pv, vol float64
	for i, c := range candles {
		if i > 0 && !sameDay(c, candles[i-1]) {
			pv, vol = 0, 0
		}
		pv += typicalPrice(c) * float64(c.Volume)
		vol += float64(c.Volume)
		if vol > 0 {
			out[i] = pv / vol
		} else {
			out[i] = typicalPrice(c)
		}
	}
	return out, nil
}

func sameDay(a, b models.Candle) bool {
	ay, am, ad := a.Timestamp.Date()
	by, bm, bd := b.Timestamp.Date()
	return ay == by && am == bm && ad == bd
}

// CMF calculates Chaikin Money Flow in [-1, 1].
type CMF struct {
	period int
}

// NewCMF creates a new CMF indicator.
func NewCMF(period int) *CMF {
	return &CMF{period: period}
}

func (c *CMF) Name() string {
	return fmt.Sprintf("CMF_%d", c.period)
}

func (c *CMF) Period() int {
	return c.period
}

func (c *CMF) Calculate(candles []models.Candle) ([]float64, error) {
	if c.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < c.period {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	flow := make([]float64, n)
	for i, k := range candles {
		if span := k.High - k.Low; span > 0 {
			multiplier := ((k.Close - k.Low) - (k.High - k.Close)) / span
			flow[i] = multiplier * float64(k.Volume)
		}
	}

	out := make([]float64, n)
	var sumFlow, sumVol float64
	for i := 0; i < n; i++ {
		sumFlow += flow[i]
		sumVol += float64(candles[i].Volume)
		if i >= c.period {
			sumFlow -= flow[i-c.period]
			sumVol -= float64(candles[i-c.period].Volume)
		}
		if i >= c.period-1 && sumVol > 0 {
			out[i] = sumFlow / sumVol
		}
	}
	return out, nil
}

// VolumeRatio divides the latest volume by the mean volume of the last period
// bars, the latest included. It returns 1 when the average is zero.
func VolumeRatio(candles []models.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, ErrInvalidPeriod
	}
	if len(candles) < period {
		return 0, ErrInsufficientData
	}
	var total float64
	for _, c := range candles[len(candles)-period:] {
		total += float64(c.Volume)
	}
	avg := total / float64(period)
	if avg == 0 {
		return 1, nil
	}
	return float64(candles[len(candles)-1].Volume) / avg, nil
}
