package indicators

import (
	"fmt"
	"math"

	"consensus-trader/internal/models"
)

// EMA calculates an Exponential Moving Average seeded with the first close,
// so long periods still produce values on short histories.
type EMA struct {
	period int
}

// NewEMA creates a new EMA indicator.
func NewEMA(period int) *EMA {
	return &EMA{period: period}
}

func (e *EMA) Name() string {
	return fmt.Sprintf("EMA_%d", e.period)
}

func (e *EMA) Period() int {
	return e.period
}

func (e *EMA) Calculate(candles []models.Candle) ([]float64, error) {
	if e.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) == 0 {
		return nil, ErrInsufficientData
	}
	return CalculateEMA(Closes(candles), e.period), nil
}

// CalculateEMA computes an EMA over raw values with alpha 2/(period+1).
func CalculateEMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) == 0 {
		return nil
	}
	out := make([]float64, len(values))
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACD calculates Moving Average Convergence Divergence.
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

// NewMACD creates a new MACD indicator, typically (12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fastPeriod:   fast,
		slowPeriod:   slow,
		signalPeriod: signal,
	}
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d", m.fastPeriod, m.slowPeriod, m.signalPeriod)
}

func (m *MACD) Period() int {
	return m.slowPeriod + m.signalPeriod - 1
}

// Calculate returns "macd", "signal" and "histogram".
func (m *MACD) Calculate(candles []models.Candle) (map[string][]float64, error) {
	if m.fastPeriod <= 0 || m.slowPeriod <= 0 || m.signalPeriod <= 0 || m.fastPeriod >= m.slowPeriod {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < m.Period() {
		return nil, ErrInsufficientData
	}

	closes := Closes(candles)
	fast := CalculateEMA(closes, m.fastPeriod)
	slow := CalculateEMA(closes, m.slowPeriod)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fast[i] - slow[i]
	}
	signal := CalculateEMA(line, m.signalPeriod)
	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - signal[i]
	}

	return map[string][]float64{
		"macd":      line,
		"signal":    signal,
		"histogram": hist,
	}, nil
}

// ADX calculates the Average Directional Index with +DI and -DI.
type ADX struct {
	period int
}

// NewADX creates a new ADX indicator.
func NewADX(period int) *ADX {
	return &ADX{period: period}
}

func (a *ADX) Name() string {
	return fmt.Sprintf("ADX_%d", a.period)
}

func (a *ADX) Period() int {
	return a.period*2 + 1
}

// Calculate returns "adx", "plus_di" and "minus_di", all in [0, 100].
func (a *ADX) Calculate(candles []models.Candle) (map[string][]float64, error) {
	if a.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < a.Period() {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	// Directional movement starts at the second bar; index j maps to candle j+1.
	plusDM := make([]float64, n-1)
	minusDM := make([]float64, n-1)
	tr := make([]float64, n-1)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
		tr[i-1] = trueRange(candles[i], candles[i-1])
	}

	sPlus := wilderSmooth(plusDM, a.period)
	sMinus := wilderSmooth(minusDM, a.period)
	sTR := wilderSmooth(tr, a.period)

	plusDI := make([]float64, n)
	minusDI := make([]float64, n)
	dx := make([]float64, 0, n)
	for j := a.period - 1; j < n-1; j++ {
		var p, m float64
		if sTR[j] > 0 {
			p = 100 * sPlus[j] / sTR[j]
			m = 100 * sMinus[j] / sTR[j]
		}
		plusDI[j+1], minusDI[j+1] = p, m
		if p+m > 0 {
			dx = append(dx, 100*math.Abs(p-m)/(p+m))
		} else {
			dx = append(dx, 0)
		}
	}

	adx := make([]float64, n)
	smoothed := wilderSmooth(dx, a.period)
	// dx[0] belongs to candle index period.
	for k := a.period - 1; k < len(smoothed); k++ {
		adx[k+a.period] = smoothed[k]
	}

	return map[string][]float64{
		"adx":      adx,
		"plus_di":  plusDI,
		"minus_di": minusDI,
	}, nil
}

// SuperTrend calculates the ATR band trend follower.
type SuperTrend struct {
	atrPeriod  int
	multiplier float64
}

// NewSuperTrend creates a new SuperTrend indicator, typically (10, 3).
func NewSuperTrend(atrPeriod int, multiplier float64) *SuperTrend {
	return &SuperTrend{
		atrPeriod:  atrPeriod,
		multiplier: multiplier,
	}
}

func (s *SuperTrend) Name() string {
	return fmt.Sprintf("SuperTrend_%d_%.1f", s.atrPeriod, s.multiplier)
}

func (s *SuperTrend) Period() int {
	return s.atrPeriod + 1
}

// Calculate returns "supertrend", "direction" (+1 bullish, -1 bearish),
// "upper_band" and "lower_band".
func (s *SuperTrend) Calculate(candles []models.Candle) (map[string][]float64, error) {
	if s.atrPeriod <= 0 || s.multiplier <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < s.Period() {
		return nil, ErrInsufficientData
	}

	atr, err := NewATR(s.atrPeriod).Calculate(candles)
	if err != nil {
		return nil, err
	}

	n := len(candles)
	line := make([]float64, n)
	direction := make([]float64, n)
	upper := make([]float64, n)
	lower := make([]float64, n)

	start := s.atrPeriod - 1
	for i := start; i < n; i++ {
		mid := (candles[i].High + candles[i].Low) / 2
		upper[i] = mid + s.multiplier*atr[i]
		lower[i] = mid - s.multiplier*atr[i]

		if i == start {
			direction[i] = 1
			line[i] = lower[i]
			continue
		}

		prevClose := candles[i-1].Close
		if upper[i] > upper[i-1] && prevClose <= upper[i-1] {
			upper[i] = upper[i-1]
		}
		if lower[i] < lower[i-1] && prevClose >= lower[i-1] {
			lower[i] = lower[i-1]
		}

		price := candles[i].Close
		switch {
		case price > upper[i-1]:
			direction[i] = 1
		case price < lower[i-1]:
			direction[i] = -1
		default:
			direction[i] = direction[i-1]
		}
		if direction[i] > 0 {
			line[i] = lower[i]
		} else {
			line[i] = upper[i]
		}
	}

	return map[string][]float64{
		"supertrend": line,
		"direction":  direction,
		"upper_band": upper,
		"lower_band": lower,
	}, nil
}
