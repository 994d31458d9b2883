package models

import "time"

// ExecutionIntent is an authorized order handed to the broker and notifier.
type ExecutionIntent struct {
	ID              string           `json:"id"`
	Symbol          string           `json:"symbol"`
	Direction       Direction        `json:"direction"`
	EntryPrice      float64          `json:"entry_price"`
	StopLossPrice   float64          `json:"stop_loss_price"`
	TakeProfitPrice float64          `json:"take_profit_price"`
	PositionSize    float64          `json:"position_size"`
	Quantity        int              `json:"quantity"`
	Confidence      float64          `json:"confidence"`
	AgreeCount      int              `json:"agree_count"`
	Timestamp       time.Time        `json:"timestamp"`
	Rationale       string           `json:"rationale"`
	Breakdown       []StrategySignal `json:"breakdown"`
}

// Record builds the notifier record for this intent.
func (i ExecutionIntent) Record() SignalRecord {
	breakdown := make([]StrategySignal, len(i.Breakdown))
	copy(breakdown, i.Breakdown)
	return SignalRecord{
		Symbol:          i.Symbol,
		Direction:       i.Direction,
		Timestamp:       i.Timestamp,
		Confidence:      i.Confidence,
		AgreeCount:      i.AgreeCount,
		EntryPrice:      i.EntryPrice,
		StopLossPrice:   i.StopLossPrice,
		TakeProfitPrice: i.TakeProfitPrice,
		PositionSize:    i.PositionSize,
		Quantity:        i.Quantity,
		Rationale:       i.Rationale,
		Breakdown:       breakdown,
	}
}

// SuppressedSignal records why a decision did not become an order.
type SuppressedSignal struct {
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	Reason     RejectionReason `json:"reason"`
	Detail     string          `json:"detail,omitempty"`
	Confidence float64         `json:"confidence"`
	AgreeCount int             `json:"agree_count"`
	Timestamp  time.Time       `json:"timestamp"`
}

// SignalRecord is the formatted record consumed by notifiers and dashboards.
type SignalRecord struct {
	Symbol          string           `json:"symbol"`
	Direction       Direction        `json:"direction"`
	Timestamp       time.Time        `json:"timestamp"`
	Confidence      float64          `json:"confidence"`
	AgreeCount      int              `json:"agree_count"`
	EntryPrice      float64          `json:"entry_price"`
	StopLossPrice   float64          `json:"stop_loss_price"`
	TakeProfitPrice float64          `json:"take_profit_price"`
	PositionSize    float64          `json:"position_size"`
	Quantity        int              `json:"quantity"`
	Rationale       string           `json:"rationale"`
	Breakdown       []StrategySignal `json:"breakdown"`
}

// Complete reports whether every field the notifier renders is populated.
func (r SignalRecord) Complete() bool {
	if r.Symbol == "" || r.Timestamp.IsZero() {
		return false
	}
	if r.Direction != Buy && r.Direction != Sell {
		return false
	}
	if r.AgreeCount < 1 || r.Confidence <= 0 {
		return false
	}
	if r.EntryPrice <= 0 || r.StopLossPrice <= 0 || r.TakeProfitPrice <= 0 {
		return false
	}
	if len(r.Breakdown) != 3 {
		return false
	}
	for _, s := range r.Breakdown {
		if s.StrategyID == "" || !s.Direction.Valid() {
			return false
		}
	}
	return true
}
