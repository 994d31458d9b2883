package broker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
	"consensus-trader/pkg/utils"
)

// PaperBroker implements Broker for paper trading simulation. Market data
// comes from an optional real feed; fills happen at the last known price.
type PaperBroker struct {
	// Real feed for bars, news and prices
	data MarketData

	// Simulated state
	cash       float64
	lastEquity float64
	day        string
	positions  map[string]*models.Position
	brackets   map[string]bracketLegs
	orders     []models.OrderResult

	orderCounter int

	// Price cache for simulation
	priceCache map[string]float64

	now func() time.Time
	mu  sync.RWMutex
}

type bracketLegs struct {
	side   models.OrderSide
	stop   float64
	target float64
}

// Fill describes a bracket leg executed by ProcessPrice.
type Fill struct {
	Symbol string
	Price  float64
	Reason string // stop_loss or take_profit
	Order  models.OrderResult
}

// PaperBrokerConfig holds configuration for paper broker.
type PaperBrokerConfig struct {
	Data           MarketData
	InitialBalance float64
	Now            func() time.Time
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	initialBalance := cfg.InitialBalance
	if initialBalance <= 0 {
		initialBalance = 100000
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &PaperBroker{
		data:       cfg.Data,
		cash:       initialBalance,
		lastEquity: initialBalance,
		day:        now().In(utils.NewYork).Format("2006-01-02"),
		positions:  make(map[string]*models.Position),
		brackets:   make(map[string]bracketLegs),
		priceCache: make(map[string]float64),
		now:        now,
	}
}

// IsPaperTrading returns true to indicate this is a paper broker.
func (p *PaperBroker) IsPaperTrading() bool {
	return true
}

// GetAccount returns the simulated balances marked to the cached prices.
func (p *PaperBroker) GetAccount(ctx context.Context) (*models.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.equityLocked()
	if day := p.now().In(utils.NewYork).Format("2006-01-02"); day != p.day {
		p.day = day
		p.lastEquity = equity
	}
	return &models.Account{
		Equity:      equity,
		LastEquity:  p.lastEquity,
		Cash:        p.cash,
		BuyingPower: math.Max(p.cash, 0),
	}, nil
}

// GetPositions returns open positions sorted by symbol.
func (p *PaperBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetClock derives the session from regular US market hours.
func (p *PaperBroker) GetClock(ctx context.Context) (*models.Clock, error) {
	c := utils.ClockAt(p.now())
	return &c, nil
}

// SubmitBracketOrder fills the entry at the cached price and arms the legs.
func (p *PaperBroker) SubmitBracketOrder(ctx context.Context, order models.BracketOrder) (*models.OrderResult, error) {
	if err := ValidateBracketOrder(order); err != nil {
		return nil, err
	}

	price, err := p.priceFor(ctx, order.Symbol)
	if err != nil {
		return nil, errors.NewOrderError(order.ClientOrderID, order.Symbol, "submit", "no price to fill at", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.positions[order.Symbol]; exists {
		return nil, errors.NewOrderError(order.ClientOrderID, order.Symbol, "submit", "position already open", errors.ErrOrderRejected)
	}

	orderValue := price * float64(order.Quantity)
	if order.Side == models.OrderSideBuy && p.cash < orderValue {
		return nil, errors.NewOrderError(order.ClientOrderID, order.Symbol, "submit",
			fmt.Sprintf("insufficient funds: need %.2f, have %.2f", orderValue, p.cash), errors.ErrOrderRejected)
	}

	qty := float64(order.Quantity)
	if order.Side == models.OrderSideBuy {
		p.cash -= orderValue
	} else {
		p.cash += orderValue
		qty = -qty
	}
	p.positions[order.Symbol] = &models.Position{
		Symbol:        order.Symbol,
		Quantity:      qty,
		AvgEntryPrice: price,
		CurrentPrice:  price,
		MarketValue:   price * qty,
	}
	p.brackets[order.Symbol] = bracketLegs{side: order.Side, stop: order.StopLossPrice, target: order.TakeProfitPrice}

	return p.recordOrderLocked(order.ClientOrderID, order.Symbol, order.Quantity, price), nil
}

// ClosePosition closes the whole position at the cached price.
func (p *PaperBroker) ClosePosition(ctx context.Context, symbol string) (*models.OrderResult, error) {
	price, err := p.priceFor(ctx, symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return nil, errors.NewOrderError("", symbol, "close", "no open position", errors.ErrPositionNotFound)
	}
	if err != nil {
		price = pos.CurrentPrice
	}
	return p.closeLocked(pos, price), nil
}

// UpdatePrice updates the cached price for a symbol without firing legs.
func (p *PaperBroker) UpdatePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markLocked(symbol, price)
}

// ProcessPrice updates the cached price and executes a bracket leg the price
// has crossed. Legs fill at their own price.
func (p *PaperBroker) ProcessPrice(symbol string, price float64) *Fill {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.markLocked(symbol, price)

	legs, ok := p.brackets[symbol]
	pos, open := p.positions[symbol]
	if !ok || !open {
		return nil
	}

	var fillPrice float64
	var reason string
	switch legs.side {
	case models.OrderSideBuy:
		if price <= legs.stop {
			fillPrice, reason = legs.stop, "stop_loss"
		} else if price >= legs.target {
			fillPrice, reason = legs.target, "take_profit"
		}
	case models.OrderSideSell:
		if price >= legs.stop {
			fillPrice, reason = legs.stop, "stop_loss"
		} else if price <= legs.target {
			fillPrice, reason = legs.target, "take_profit"
		}
	}
	if reason == "" {
		return nil
	}

	order := p.closeLocked(pos, fillPrice)
	return &Fill{Symbol: symbol, Price: fillPrice, Reason: reason, Order: *order}
}

// Orders returns every simulated fill in submission order.
func (p *PaperBroker) Orders() []models.OrderResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.OrderResult, len(p.orders))
	copy(out, p.orders)
	return out
}

// Reset resets the paper broker to initial state.
func (p *PaperBroker) Reset(initialBalance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cash = initialBalance
	p.lastEquity = initialBalance
	p.positions = make(map[string]*models.Position)
	p.brackets = make(map[string]bracketLegs)
	p.orders = nil
	p.orderCounter = 0
}

// GetBars delegates to the data feed and caches the latest close.
func (p *PaperBroker) GetBars(ctx context.Context, req BarsRequest) ([]models.Candle, error) {
	if p.data == nil {
		return nil, errors.NewBrokerError("get_bars", 0, "no data feed configured", errors.ErrBrokerUnavailable)
	}
	bars, err := p.data.GetBars(ctx, req)
	if err == nil && len(bars) > 0 && req.Timeframe != "1Day" {
		p.UpdatePrice(req.Symbol, bars[len(bars)-1].Close)
	}
	return bars, err
}

// GetNews delegates to the data feed.
func (p *PaperBroker) GetNews(ctx context.Context, req NewsRequest) ([]models.Article, error) {
	if p.data == nil {
		return nil, errors.NewBrokerError("get_news", 0, "no data feed configured", errors.ErrBrokerUnavailable)
	}
	return p.data.GetNews(ctx, req)
}

// TopMovers delegates to the data feed.
func (p *PaperBroker) TopMovers(ctx context.Context, req MoversRequest) ([]models.Mover, error) {
	if p.data == nil {
		return nil, errors.NewBrokerError("top_movers", 0, "no data feed configured", errors.ErrBrokerUnavailable)
	}
	return p.data.TopMovers(ctx, req)
}

// GetLatestPrice returns the cached price, falling back to the data feed.
func (p *PaperBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return p.priceFor(ctx, symbol)
}

func (p *PaperBroker) priceFor(ctx context.Context, symbol string) (float64, error) {
	p.mu.RLock()
	price := p.priceCache[symbol]
	p.mu.RUnlock()
	if price > 0 {
		return price, nil
	}
	if p.data == nil {
		return 0, errors.NewDataError("price", symbol, "no cached price", errors.ErrNotFound)
	}
	price, err := p.data.GetLatestPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	p.UpdatePrice(symbol, price)
	return price, nil
}

func (p *PaperBroker) markLocked(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.priceCache[symbol] = price
	if pos, ok := p.positions[symbol]; ok {
		pos.CurrentPrice = price
		pos.MarketValue = price * pos.Quantity
		pos.UnrealizedPL = (price - pos.AvgEntryPrice) * pos.Quantity
	}
}

func (p *PaperBroker) closeLocked(pos *models.Position, price float64) *models.OrderResult {
	p.cash += price * pos.Quantity
	qty := int(math.Abs(pos.Quantity))
	delete(p.positions, pos.Symbol)
	delete(p.brackets, pos.Symbol)
	return p.recordOrderLocked("", pos.Symbol, qty, price)
}

func (p *PaperBroker) recordOrderLocked(clientID, symbol string, qty int, price float64) *models.OrderResult {
	p.orderCounter++
	now := p.now()
	result := models.OrderResult{
		OrderID:       fmt.Sprintf("PAPER_%d_%d", now.Unix(), p.orderCounter),
		ClientOrderID: clientID,
		Symbol:        symbol,
		Status:        "filled",
		FilledQty:     qty,
		FilledPrice:   price,
		SubmittedAt:   now,
	}
	p.orders = append(p.orders, result)
	return &result
}

func (p *PaperBroker) equityLocked() float64 {
	equity := p.cash
	for _, pos := range p.positions {
		equity += pos.CurrentPrice * pos.Quantity
	}
	return equity
}

// Ensure PaperBroker implements the broker interfaces
var (
	_ Broker     = (*PaperBroker)(nil)
	_ MarketData = (*PaperBroker)(nil)
	_ Broker     = (*AlpacaBroker)(nil)
	_ MarketData = (*AlpacaBroker)(nil)
)
