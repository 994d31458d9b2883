// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Broker defines the account and order operations the engine needs.
type Broker interface {
	// Account
	GetAccount(ctx context.Context) (*models.Account, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetClock(ctx context.Context) (*models.Clock, error)

	// Orders
	SubmitBracketOrder(ctx context.Context, order models.BracketOrder) (*models.OrderResult, error)
	ClosePosition(ctx context.Context, symbol string) (*models.OrderResult, error)

	IsPaperTrading() bool
}

// MarketData defines the bar and news feeds the snapshot builders consume.
type MarketData interface {
	GetBars(ctx context.Context, req BarsRequest) ([]models.Candle, error)
	GetNews(ctx context.Context, req NewsRequest) ([]models.Article, error)
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
	TopMovers(ctx context.Context, req MoversRequest) ([]models.Mover, error)
}

// BarsRequest represents a request for historical bars.
type BarsRequest struct {
	Symbol    string
	Timeframe string // 1Min, 5Min, 15Min, 30Min, 1Hour, 1Day
	Limit     int
	Start     time.Time
	End       time.Time
}

// MoversRequest asks for the Top symbols of Universe ranked by absolute
// percent change, then volume. Symbols priced above MaxPrice are left out
// when MaxPrice is positive.
type MoversRequest struct {
	Universe []string
	Top      int
	MaxPrice float64
}

// RankMovers filters and orders snapshots for req.
func RankMovers(snapshots []models.Mover, req MoversRequest) []models.Mover {
	ranked := make([]models.Mover, 0, len(snapshots))
	for _, m := range snapshots {
		if m.Price <= 0 || (req.MaxPrice > 0 && m.Price > req.MaxPrice) {
			continue
		}
		ranked = append(ranked, m)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		ci, cj := math.Abs(ranked[i].ChangePct), math.Abs(ranked[j].ChangePct)
		if ci != cj {
			return ci > cj
		}
		if ranked[i].Volume != ranked[j].Volume {
			return ranked[i].Volume > ranked[j].Volume
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	if req.Top >= 0 && len(ranked) > req.Top {
		ranked = ranked[:req.Top]
	}
	return ranked
}

// NewsRequest represents a request for recent articles.
type NewsRequest struct {
	Symbols []string
	Since   time.Time
	Limit   int
}

// TimeframeDuration returns the bar length of a timeframe string.
func TimeframeDuration(tf string) (time.Duration, error) {
	switch tf {
	case "1Min":
		return time.Minute, nil
	case "5Min":
		return 5 * time.Minute, nil
	case "15Min":
		return 15 * time.Minute, nil
	case "30Min":
		return 30 * time.Minute, nil
	case "1Hour":
		return time.Hour, nil
	case "1Day":
		return 24 * time.Hour, nil
	}
	return 0, errors.NewValidationError("timeframe", tf, "unsupported timeframe")
}

// NewBracketOrder builds the bracket order for a BUY intent. The stop is
// floored and the target ceiled to whole cents so both legs stay at least a
// cent away from the entry.
func NewBracketOrder(intent models.ExecutionIntent) (models.BracketOrder, error) {
	order := models.BracketOrder{
		ClientOrderID:   intent.ID,
		Symbol:          intent.Symbol,
		Side:            models.SideFor(intent.Direction),
		Quantity:        intent.Quantity,
		StopLossPrice:   floorCents(intent.StopLossPrice),
		TakeProfitPrice: ceilCents(intent.TakeProfitPrice),
		TimeInForce:     "gtc",
	}
	if order.Side == models.OrderSideSell {
		order.StopLossPrice = ceilCents(intent.StopLossPrice)
		order.TakeProfitPrice = floorCents(intent.TakeProfitPrice)
	}
	return order, ValidateBracketOrder(order)
}

// ValidateBracketOrder checks that the legs bracket the trade direction.
func ValidateBracketOrder(o models.BracketOrder) error {
	if o.Symbol == "" {
		return errors.NewValidationError("symbol", o.Symbol, "required")
	}
	if o.Quantity < 1 {
		return errors.NewValidationError("quantity", o.Quantity, "bracket orders need at least one whole share")
	}
	if o.StopLossPrice <= 0 || o.TakeProfitPrice <= 0 {
		return errors.NewValidationError("legs", fmt.Sprintf("%.2f/%.2f", o.StopLossPrice, o.TakeProfitPrice), "stop and target must be positive")
	}
	switch o.Side {
	case models.OrderSideBuy:
		if o.StopLossPrice >= o.TakeProfitPrice {
			return errors.NewValidationError("legs", o.StopLossPrice, "stop must be below target for a buy")
		}
	case models.OrderSideSell:
		if o.StopLossPrice <= o.TakeProfitPrice {
			return errors.NewValidationError("legs", o.StopLossPrice, "stop must be above target for a sell")
		}
	default:
		return errors.NewValidationError("side", o.Side, "unknown order side")
	}
	return nil
}

func floorCents(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(6).RoundFloor(2).Float64()
	return f
}

func ceilCents(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(6).RoundCeil(2).Float64()
	return f
}

// priceString formats a price the way the order API expects it.
func priceString(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// parseDecimal reads a numeric string field, treating empty as zero.
func parseDecimal(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
