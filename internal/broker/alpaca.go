package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/models"
	"consensus-trader/internal/performance"
	"consensus-trader/internal/resilience"
	"consensus-trader/pkg/utils"
)

// AlpacaBroker implements Broker and MarketData on the Alpaca REST API.
type AlpacaBroker struct {
	baseURL   string
	dataURL   string
	apiKey    string
	secretKey string
	client    *http.Client
	retry     utils.RetryConfig
	limiter   *performance.RateLimiter
	breaker   *resilience.Breaker
	logger    zerolog.Logger
}

// AlpacaConfig holds configuration for the Alpaca broker.
type AlpacaConfig struct {
	BaseURL           string
	DataURL           string
	APIKey            string
	SecretKey         string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int // Alpaca allows 200
	Breaker           resilience.Config
	Logger            zerolog.Logger
}

// NewAlpacaBroker creates a new Alpaca client.
func NewAlpacaBroker(cfg AlpacaConfig) *AlpacaBroker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries + 1
	retry.Retryable = errors.IsRetryable
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 200
	}

	return &AlpacaBroker{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		dataURL:   strings.TrimRight(cfg.DataURL, "/"),
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		client:    &http.Client{Timeout: timeout},
		retry:     retry,
		limiter:   performance.NewRateLimiter(float64(rpm)/60, rpm/10+1),
		breaker:   resilience.New("alpaca", cfg.Breaker, cfg.Logger),
		logger:    logging.WithComponent(cfg.Logger, "alpaca"),
	}
}

// IsPaperTrading reports whether the client points at the Alpaca paper
// endpoint.
func (a *AlpacaBroker) IsPaperTrading() bool {
	return strings.Contains(a.baseURL, "paper")
}

// ============================================================================
// Wire types
// ============================================================================

type alpacaAccount struct {
	Equity      string `json:"equity"`
	LastEquity  string `json:"last_equity"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
}

type alpacaPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
	MarketValue   string `json:"market_value"`
	UnrealizedPL  string `json:"unrealized_pl"`
}

type alpacaClock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type alpacaLeg struct {
	LimitPrice string `json:"limit_price,omitempty"`
	StopPrice  string `json:"stop_price,omitempty"`
}

type alpacaOrderRequest struct {
	Symbol        string     `json:"symbol"`
	Qty           string     `json:"qty"`
	Side          string     `json:"side"`
	Type          string     `json:"type"`
	TimeInForce   string     `json:"time_in_force"`
	OrderClass    string     `json:"order_class,omitempty"`
	ClientOrderID string     `json:"client_order_id,omitempty"`
	TakeProfit    *alpacaLeg `json:"take_profit,omitempty"`
	StopLoss      *alpacaLeg `json:"stop_loss,omitempty"`
}

type alpacaOrder struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id"`
	Symbol         string    `json:"symbol"`
	Status         string    `json:"status"`
	FilledQty      string    `json:"filled_qty"`
	FilledAvgPrice string    `json:"filled_avg_price"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

type alpacaBar struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V int64     `json:"v"`
}

type alpacaBars struct {
	Bars          []alpacaBar `json:"bars"`
	NextPageToken *string     `json:"next_page_token"`
}

type alpacaNews struct {
	News []struct {
		Headline  string    `json:"headline"`
		Summary   string    `json:"summary"`
		Source    string    `json:"source"`
		Symbols   []string  `json:"symbols"`
		CreatedAt time.Time `json:"created_at"`
		URL       string    `json:"url"`
	} `json:"news"`
}

type alpacaLatestTrade struct {
	Trade struct {
		P float64 `json:"p"`
	} `json:"trade"`
}

type alpacaSnapshot struct {
	LatestTrade *struct {
		P float64 `json:"p"`
	} `json:"latestTrade"`
	DailyBar *struct {
		V int64 `json:"v"`
	} `json:"dailyBar"`
	PrevDailyBar *struct {
		C float64 `json:"c"`
	} `json:"prevDailyBar"`
}

type alpacaError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ============================================================================
// Account
// ============================================================================

// GetAccount returns the account balances.
func (a *AlpacaBroker) GetAccount(ctx context.Context) (*models.Account, error) {
	var acct alpacaAccount
	if err := a.do(ctx, "get_account", http.MethodGet, a.baseURL+"/v2/account", nil, &acct); err != nil {
		return nil, err
	}
	return &models.Account{
		Equity:      parseDecimal(acct.Equity),
		LastEquity:  parseDecimal(acct.LastEquity),
		Cash:        parseDecimal(acct.Cash),
		BuyingPower: parseDecimal(acct.BuyingPower),
	}, nil
}

// GetPositions returns every open position.
func (a *AlpacaBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	var raw []alpacaPosition
	if err := a.do(ctx, "get_positions", http.MethodGet, a.baseURL+"/v2/positions", nil, &raw); err != nil {
		return nil, err
	}
	positions := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, models.Position{
			Symbol:        p.Symbol,
			Quantity:      parseDecimal(p.Qty),
			AvgEntryPrice: parseDecimal(p.AvgEntryPrice),
			CurrentPrice:  parseDecimal(p.CurrentPrice),
			MarketValue:   parseDecimal(p.MarketValue),
			UnrealizedPL:  parseDecimal(p.UnrealizedPL),
		})
	}
	return positions, nil
}

// GetClock returns the exchange clock.
func (a *AlpacaBroker) GetClock(ctx context.Context) (*models.Clock, error) {
	var c alpacaClock
	if err := a.do(ctx, "get_clock", http.MethodGet, a.baseURL+"/v2/clock", nil, &c); err != nil {
		return nil, err
	}
	return &models.Clock{
		Timestamp: c.Timestamp,
		IsOpen:    c.IsOpen,
		NextOpen:  c.NextOpen,
		NextClose: c.NextClose,
	}, nil
}

// ============================================================================
// Orders
// ============================================================================

// SubmitBracketOrder places a market entry with GTC stop-loss and
// take-profit legs. Order submissions are not retried.
func (a *AlpacaBroker) SubmitBracketOrder(ctx context.Context, order models.BracketOrder) (*models.OrderResult, error) {
	if err := ValidateBracketOrder(order); err != nil {
		return nil, err
	}
	tif := order.TimeInForce
	if tif == "" {
		tif = "gtc"
	}
	req := alpacaOrderRequest{
		Symbol:        order.Symbol,
		Qty:           strconv.Itoa(order.Quantity),
		Side:          string(order.Side),
		Type:          "market",
		TimeInForce:   tif,
		OrderClass:    "bracket",
		ClientOrderID: order.ClientOrderID,
		TakeProfit:    &alpacaLeg{LimitPrice: priceString(order.TakeProfitPrice)},
		StopLoss:      &alpacaLeg{StopPrice: priceString(order.StopLossPrice)},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding order: %w", err)
	}

	var resp alpacaOrder
	if err := a.doOnce(ctx, "submit_order", http.MethodPost, a.baseURL+"/v2/orders", body, &resp); err != nil {
		return nil, errors.NewOrderError(order.ClientOrderID, order.Symbol, "submit", "bracket order failed", err)
	}
	logging.LogOrder(a.logger, resp.ID, resp.Symbol, string(order.Side), resp.Status)
	return toOrderResult(resp), nil
}

// ClosePosition liquidates the whole position in symbol at market.
func (a *AlpacaBroker) ClosePosition(ctx context.Context, symbol string) (*models.OrderResult, error) {
	var resp alpacaOrder
	endpoint := a.baseURL + "/v2/positions/" + url.PathEscape(symbol)
	if err := a.doOnce(ctx, "close_position", http.MethodDelete, endpoint, nil, &resp); err != nil {
		return nil, errors.NewOrderError("", symbol, "close", "close position failed", err)
	}
	logging.LogOrder(a.logger, resp.ID, symbol, string(models.OrderSideSell), resp.Status)
	return toOrderResult(resp), nil
}

func toOrderResult(o alpacaOrder) *models.OrderResult {
	qty, _ := strconv.ParseFloat(o.FilledQty, 64)
	return &models.OrderResult{
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Status:        o.Status,
		FilledQty:     int(qty),
		FilledPrice:   parseDecimal(o.FilledAvgPrice),
		SubmittedAt:   o.SubmittedAt,
	}
}

// ============================================================================
// Market data
// ============================================================================

// GetBars fetches up to req.Limit of the most recent bars, oldest first,
// following page tokens.
func (a *AlpacaBroker) GetBars(ctx context.Context, req BarsRequest) ([]models.Candle, error) {
	step, err := TimeframeDuration(req.Timeframe)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 200
	}
	start := req.Start
	if start.IsZero() {
		// Sessions cover roughly a quarter of the clock; look back far
		// enough that limit bars exist across weekends.
		lookback := time.Duration(limit) * step * 4
		if step >= 24*time.Hour {
			lookback = time.Duration(limit) * step * 3 / 2
		}
		start = time.Now().Add(-lookback - 72*time.Hour)
	}

	q := url.Values{}
	q.Set("timeframe", req.Timeframe)
	q.Set("start", start.UTC().Format(time.RFC3339))
	if !req.End.IsZero() {
		q.Set("end", req.End.UTC().Format(time.RFC3339))
	}
	q.Set("limit", "10000")
	q.Set("adjustment", "raw")
	q.Set("feed", "iex")

	var candles []models.Candle
	for {
		var page alpacaBars
		endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", a.dataURL, url.PathEscape(req.Symbol), q.Encode())
		if err := a.do(ctx, "get_bars", http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		for _, b := range page.Bars {
			candles = append(candles, models.Candle{
				Timestamp: b.T,
				Open:      b.O,
				High:      b.H,
				Low:       b.L,
				Close:     b.C,
				Volume:    b.V,
			})
		}
		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		q.Set("page_token", *page.NextPageToken)
	}

	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// GetNews fetches articles for the symbols published since req.Since.
func (a *AlpacaBroker) GetNews(ctx context.Context, req NewsRequest) ([]models.Article, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(req.Symbols, ","))
	if !req.Since.IsZero() {
		q.Set("start", req.Since.UTC().Format(time.RFC3339))
	}
	limit := req.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "desc")

	var resp alpacaNews
	if err := a.do(ctx, "get_news", http.MethodGet, a.dataURL+"/v1beta1/news?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	articles := make([]models.Article, 0, len(resp.News))
	for _, n := range resp.News {
		articles = append(articles, models.Article{
			Headline:  n.Headline,
			Summary:   n.Summary,
			Source:    n.Source,
			Symbols:   n.Symbols,
			CreatedAt: n.CreatedAt,
			URL:       n.URL,
		})
	}
	return articles, nil
}

// GetLatestPrice returns the last trade price for symbol.
func (a *AlpacaBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	var resp alpacaLatestTrade
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/trades/latest?feed=iex", a.dataURL, url.PathEscape(symbol))
	if err := a.do(ctx, "latest_trade", http.MethodGet, endpoint, nil, &resp); err != nil {
		return 0, err
	}
	if resp.Trade.P <= 0 {
		return 0, errors.NewDataError("price", symbol, "no latest trade", errors.ErrNotFound)
	}
	return resp.Trade.P, nil
}

// TopMovers ranks req.Universe by today's move using one snapshot request
// per chunk of symbols.
func (a *AlpacaBroker) TopMovers(ctx context.Context, req MoversRequest) ([]models.Mover, error) {
	const chunk = 100
	movers := make([]models.Mover, 0, len(req.Universe))
	for start := 0; start < len(req.Universe); start += chunk {
		end := start + chunk
		if end > len(req.Universe) {
			end = len(req.Universe)
		}
		q := url.Values{}
		q.Set("symbols", strings.Join(req.Universe[start:end], ","))
		q.Set("feed", "iex")

		var resp map[string]alpacaSnapshot
		if err := a.do(ctx, "snapshots", http.MethodGet, a.dataURL+"/v2/stocks/snapshots?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}
		for symbol, snap := range resp {
			if snap.LatestTrade == nil {
				continue
			}
			m := models.Mover{Symbol: symbol, Price: snap.LatestTrade.P}
			if snap.PrevDailyBar != nil && snap.PrevDailyBar.C > 0 {
				m.ChangePct = (m.Price - snap.PrevDailyBar.C) / snap.PrevDailyBar.C * 100
			}
			if snap.DailyBar != nil {
				m.Volume = snap.DailyBar.V
			}
			movers = append(movers, m)
		}
	}
	return RankMovers(movers, req), nil
}

// ============================================================================
// Transport
// ============================================================================

// do runs an idempotent request with retry on transient failures.
// do retries transient failures. Once retries keep failing the breaker
// opens and calls fail fast with resilience.ErrOpen until the cooldown ends.
func (a *AlpacaBroker) do(ctx context.Context, op, method, endpoint string, body []byte, out interface{}) error {
	return a.breaker.Execute(ctx, func(ctx context.Context) error {
		return utils.Retry(ctx, a.retry, func() error {
			return a.doOnce(ctx, op, method, endpoint, body, out)
		})
	})
}

// Breaker returns the circuit breaker guarding the REST calls.
func (a *AlpacaBroker) Breaker() *resilience.Breaker {
	return a.breaker
}

func (a *AlpacaBroker) doOnce(ctx context.Context, op, method, endpoint string, body []byte, out interface{}) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.NewBrokerError(op, 0, "building request", err)
	}
	req.Header.Set("APCA-API-KEY-ID", a.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		logging.LogAPICall(a.logger, method, op, time.Since(start), err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewBrokerError(op, 0, "request failed", errors.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewBrokerError(op, resp.StatusCode, "reading response", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := statusError(op, resp.StatusCode, data)
		logging.LogAPICall(a.logger, method, op, time.Since(start), apiErr)
		return apiErr
	}
	logging.LogAPICall(a.logger, method, op, time.Since(start), nil)

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewBrokerError(op, resp.StatusCode, "decoding response", err)
	}
	return nil
}

func statusError(op string, status int, body []byte) error {
	var apiErr alpacaError
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}

	var sentinel error
	switch {
	case status == http.StatusTooManyRequests:
		sentinel = errors.ErrRateLimited
	case status == http.StatusNotFound:
		sentinel = errors.ErrNotFound
	case status == http.StatusForbidden || status == http.StatusUnprocessableEntity:
		sentinel = errors.ErrOrderRejected
	case status >= 500:
		sentinel = errors.ErrBrokerUnavailable
	}
	return errors.NewBrokerError(op, status, msg, sentinel)
}
