package indicators

import (
	"math"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
)

var (
	// ErrInsufficientData is returned when there are fewer candles than the
	// indicator needs.
	ErrInsufficientData = errors.ErrInsufficientData
	// ErrInvalidPeriod is returned for non-positive periods or multipliers.
	ErrInvalidPeriod = errors.New("invalid period")
)

// Last returns the value back bars from the end of values, or NaN when the
// series is too short. Last(v, 0) is the latest value.
func Last(values []float64, back int) float64 {
	i := len(values) - 1 - back
	if back < 0 || i < 0 {
		return math.NaN()
	}
	return values[i]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// sampleStdDev uses the n-1 denominator.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var variance float64
	for _, v := range values {
		d := v - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

func trueRange(current, previous models.Candle) float64 {
	return math.Max(current.High-current.Low,
		math.Max(math.Abs(current.High-previous.Close), math.Abs(current.Low-previous.Close)))
}

func typicalPrice(c models.Candle) float64 {
	return (c.High + c.Low + c.Close) / 3
}

// Closes extracts close prices from candles.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func highs(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

func lows(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func highest(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	h := values[0]
	for _, v := range values[1:] {
		h = math.Max(h, v)
	}
	return h
}

func lowest(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	l := values[0]
	for _, v := range values[1:] {
		l = math.Min(l, v)
	}
	return l
}

// wilderSmooth seeds with the mean of the first period values and then applies
// Wilder's 1/period smoothing. Entries before the seed are zero.
func wilderSmooth(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	out := make([]float64, len(values))
	out[period-1] = mean(values[:period])
	alpha := 1.0 / float64(period)
	for i := period; i < len(values); i++ {
		out[i] = out[i-1] + alpha*(values[i]-out[i-1])
	}
	return out
}
