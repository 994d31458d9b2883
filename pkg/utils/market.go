package utils

import (
	"time"

	"consensus-trader/internal/models"
)

// NewYork is the exchange timezone for US equities.
var NewYork *time.Location

func init() {
	var err error
	NewYork, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback to EST without daylight saving
		NewYork = time.FixedZone("EST", -5*60*60)
	}
}

const (
	openMinute  = 9*60 + 30
	closeMinute = 16 * 60
)

// MarketStatusAt returns the regular-session status at t. Exchange holidays
// are not modelled; the broker clock is authoritative when available.
func MarketStatusAt(t time.Time) models.MarketStatus {
	now := t.In(NewYork)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return models.MarketClosed
	}
	m := now.Hour()*60 + now.Minute()
	if m >= openMinute && m < closeMinute {
		return models.MarketOpen
	}
	return models.MarketClosed
}

// IsMarketOpen returns true if the regular session is open now.
func IsMarketOpen() bool {
	return MarketStatusAt(time.Now()) == models.MarketOpen
}

// NextMarketOpen returns the next session open after t.
func NextMarketOpen(t time.Time) time.Time {
	now := t.In(NewYork)
	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 30, 0, 0, NewYork)
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// MarketCloseOn returns the session close for the day of t.
func MarketCloseOn(t time.Time) time.Time {
	now := t.In(NewYork)
	return time.Date(now.Year(), now.Month(), now.Day(), 16, 0, 0, 0, NewYork)
}

// ClockAt builds a market clock for t from the regular session hours.
func ClockAt(t time.Time) models.Clock {
	open := MarketStatusAt(t) == models.MarketOpen
	next := MarketCloseOn(t)
	if !open || !t.Before(next) {
		next = MarketCloseOn(NextMarketOpen(t))
	}
	return models.Clock{
		Timestamp: t,
		IsOpen:    open,
		NextOpen:  NextMarketOpen(t),
		NextClose: next,
	}
}

// NextDailyAt returns the next occurrence of hh:mm in loc strictly after t.
func NextDailyAt(t time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	at, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = NewYork
	}
	now := t.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}
