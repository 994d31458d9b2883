package indicators

import (
	"consensus-trader/internal/models"
)

// Structure labels swing structure over a short lookback.
type Structure string

const (
	StructureStrongUp   Structure = "HH_HL"
	StructureHigherHigh Structure = "HH"
	StructureStrongDown Structure = "LL_LH"
	StructureLowerLow   Structure = "LL"
	StructureRanging    Structure = "RANGING"
)

// MarketStructure compares the extremes of the most recent bars with the
// bars before them.
type MarketStructure struct {
	HigherHigh bool
	HigherLow  bool
	LowerLow   bool
	LowerHigh  bool
}

const (
	structureLookback = 20
	structureRecent   = 5
	structurePrior    = 10
)

// CalculateStructure inspects the last 20 bars: the last 5 are compared with
// the 10 bars before them (or everything before them on shorter histories).
func CalculateStructure(candles []models.Candle) (MarketStructure, error) {
	if len(candles) < structureRecent+1 {
		return MarketStructure{}, ErrInsufficientData
	}
	window := candles
	if len(window) > structureLookback {
		window = window[len(window)-structureLookback:]
	}
	hi, lo := highs(window), lows(window)
	n := len(window)

	recentHigh := highest(hi[n-structureRecent:])
	recentLow := lowest(lo[n-structureRecent:])

	priorStart := 0
	if n >= structureRecent+structurePrior {
		priorStart = n - structureRecent - structurePrior
	}
	priorHigh := highest(hi[priorStart : n-structureRecent])
	priorLow := lowest(lo[priorStart : n-structureRecent])

	return MarketStructure{
		HigherHigh: recentHigh > priorHigh,
		HigherLow:  recentLow > priorLow,
		LowerLow:   recentLow < priorLow,
		LowerHigh:  recentHigh < priorHigh,
	}, nil
}

// Label summarises the structure; strong patterns win over single conditions.
func (m MarketStructure) Label() Structure {
	switch {
	case m.HigherHigh && m.HigherLow:
		return StructureStrongUp
	case m.HigherHigh:
		return StructureHigherHigh
	case m.LowerLow && m.LowerHigh:
		return StructureStrongDown
	case m.LowerLow:
		return StructureLowerLow
	}
	return StructureRanging
}

// StrongDowntrend reports lower lows with lower highs.
func (m MarketStructure) StrongDowntrend() bool {
	return m.LowerLow && m.LowerHigh
}

// StrongUptrend reports higher highs with higher lows.
func (m MarketStructure) StrongUptrend() bool {
	return m.HigherHigh && m.HigherLow
}
