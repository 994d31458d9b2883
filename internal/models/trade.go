package models

import "time"

// Trade represents a position opened from an intent, closed or still open.
type Trade struct {
	ID         string
	Symbol     string
	Side       OrderSide
	Quantity   int
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   *time.Time
	PnL        float64
	PnLPercent float64
	ExitReason string
	Strategy   string
	Confidence float64
	IntentID   string
}

// Closed reports whether the trade has an exit.
func (t Trade) Closed() bool {
	return t.ExitTime != nil
}

// SignalLogEntry is one row of the signal log.
type SignalLogEntry struct {
	ID         int64
	Symbol     string
	Direction  Direction
	Confidence float64
	Consensus  int
	Reason     string
	Acted      bool
	Timestamp  time.Time
}

// PortfolioSnapshot is a point-in-time account summary.
type PortfolioSnapshot struct {
	Timestamp      time.Time
	PortfolioValue float64
	Cash           float64
	OpenPositions  int
	DayPnL         float64
}
