// Package models provides domain models for the consensus trading engine.
package models

import (
	"time"
)

// Direction represents the directional call of a signal or decision.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Valid reports whether d is one of BUY, SELL or HOLD.
func (d Direction) Valid() bool {
	switch d {
	case Buy, Sell, Hold:
		return true
	}
	return false
}

// Opposite returns the opposing trade direction. HOLD has no opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case Buy:
		return Sell
	case Sell:
		return Buy
	}
	return Hold
}

// Trend represents the higher-timeframe trend used by the daily trend filter.
type Trend string

const (
	TrendUnknown Trend = ""
	TrendBullish Trend = "BULLISH"
	TrendBearish Trend = "BEARISH"
	TrendNeutral Trend = "NEUTRAL"
)

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen   MarketStatus = "OPEN"
	MarketClosed MarketStatus = "CLOSED"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Article represents a news item attached to one or more symbols.
type Article struct {
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
	Symbols   []string  `json:"symbols"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url"`
}

// Mover is one symbol's intraday move, used to rank the dynamic watchlist.
type Mover struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	ChangePct float64 `json:"change_pct"`
	Volume    int64   `json:"volume"`
}

// Clock represents the broker's view of the trading session.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}
