package indicators

import (
	"fmt"

	"consensus-trader/internal/models"
)

// RSI calculates the Relative Strength Index with Wilder smoothing.
type RSI struct {
	period int
}

// NewRSI creates a new RSI indicator.
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string {
	return fmt.Sprintf("RSI_%d", r.period)
}

func (r *RSI) Period() int {
	return r.period + 1
}

func (r *RSI) Calculate(candles []models.Candle) ([]float64, error) {
	if r.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < r.Period() {
		return nil, ErrInsufficientData
	}
	return CalculateRSI(Closes(candles), r.period), nil
}

// CalculateRSI computes RSI over raw values. The first value is at index
// period; earlier entries are zero. Returns nil when values are too short.
func CalculateRSI(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period+1 {
		return nil
	}
	n := len(values)
	out := make([]float64, n)

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < n; i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// Stochastic calculates the Stochastic Oscillator (%K and %D).
type Stochastic struct {
	kPeriod int
	dPeriod int
}

// NewStochastic creates a new Stochastic indicator.
func NewStochastic(kPeriod, dPeriod int) *Stochastic {
	return &Stochastic{kPeriod: kPeriod, dPeriod: dPeriod}
}

func (s *Stochastic) Name() string {
	return fmt.Sprintf("Stochastic_%d_%d", s.kPeriod, s.dPeriod)
}

func (s *Stochastic) Period() int {
	return s.kPeriod + s.dPeriod - 1
}

// Calculate returns "percent_k" and "percent_d". A flat range yields 50.
func (s *Stochastic) Calculate(candles []models.Candle) (map[string][]float64, error) {
	if s.kPeriod <= 0 || s.dPeriod <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < s.Period() {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	hi, lo := highs(candles), lows(candles)
	k := make([]float64, n)
	for i := s.kPeriod - 1; i < n; i++ {
		top := highest(hi[i-s.kPeriod+1 : i+1])
		bottom := lowest(lo[i-s.kPeriod+1 : i+1])
		k[i] = percentOfRange(candles[i].Close, bottom, top)
	}
	d := rollingMean(k, s.dPeriod, s.kPeriod-1)

	return map[string][]float64{
		"percent_k": k,
		"percent_d": d,
	}, nil
}

// StochRSI applies the stochastic formula to RSI values and smooths the
// result into %K and %D.
type StochRSI struct {
	rsiPeriod   int
	stochPeriod int
	kSmooth     int
	dSmooth     int
}

// NewStochRSI creates a new StochRSI indicator, typically (14, 14, 3, 3).
func NewStochRSI(rsiPeriod, stochPeriod, kSmooth, dSmooth int) *StochRSI {
	return &StochRSI{
		rsiPeriod:   rsiPeriod,
		stochPeriod: stochPeriod,
		kSmooth:     kSmooth,
		dSmooth:     dSmooth,
	}
}

func (s *StochRSI) Name() string {
	return fmt.Sprintf("StochRSI_%d_%d_%d_%d", s.rsiPeriod, s.stochPeriod, s.kSmooth, s.dSmooth)
}

func (s *StochRSI) Period() int {
	return s.rsiPeriod + s.stochPeriod + s.kSmooth + s.dSmooth - 2
}

// Calculate returns "k" and "d" in [0, 100].
func (s *StochRSI) Calculate(candles []models.Candle) (map[string][]float64, error) {
	if s.rsiPeriod <= 0 || s.stochPeriod <= 0 || s.kSmooth <= 0 || s.dSmooth <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < s.Period() {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	rsi := CalculateRSI(Closes(candles), s.rsiPeriod)

	first := s.rsiPeriod + s.stochPeriod - 1
	raw := make([]float64, n)
	for i := first; i < n; i++ {
		window := rsi[i-s.stochPeriod+1 : i+1]
		raw[i] = percentOfRange(rsi[i], lowest(window), highest(window))
	}
	k := rollingMean(raw, s.kSmooth, first)
	d := rollingMean(k, s.dSmooth, first+s.kSmooth-1)

	return map[string][]float64{
		"k": k,
		"d": d,
	}, nil
}

func percentOfRange(v, bottom, top float64) float64 {
	if top == bottom {
		return 50
	}
	return 100 * (v - bottom) / (top - bottom)
}

// rollingMean averages window values ending at each index, starting once the
// window lies entirely at or after start.
func rollingMean(values []float64, window, start int) []float64 {
	out := make([]float64, len(values))
	for i := start + window - 1; i < len(values); i++ {
		out[i] = mean(values[i-window+1 : i+1])
	}
	return out
}
