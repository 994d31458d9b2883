package models

import "time"

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SideFor maps a trade direction to an order side.
func SideFor(d Direction) OrderSide {
	if d == Sell {
		return OrderSideSell
	}
	return OrderSideBuy
}

// BracketOrder submits entry, stop-loss and take-profit legs in one request.
type BracketOrder struct {
	ClientOrderID   string
	Symbol          string
	Side            OrderSide
	Quantity        int
	StopLossPrice   float64
	TakeProfitPrice float64
	TimeInForce     string // gtc, day
}

// OrderResult is the broker acknowledgement of a submitted order.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Status        string
	FilledQty     int
	FilledPrice   float64
	SubmittedAt   time.Time
}

// Position represents an open trading position.
type Position struct {
	Symbol        string
	Quantity      float64
	AvgEntryPrice float64
	CurrentPrice  float64
	MarketValue   float64
	UnrealizedPL  float64
}

// Account represents account balances.
type Account struct {
	Equity      float64
	LastEquity  float64
	Cash        float64
	BuyingPower float64
}
