package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/broker"
	"consensus-trader/internal/errors"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/models"
	"consensus-trader/internal/store"
)

// BrokerSink turns intents into broker orders. BUY intents become bracket
// orders; SELL intents close the held position. Fills are recorded in the
// trade journal when a store is configured.
type BrokerSink struct {
	broker broker.Broker
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewBrokerSink creates a broker sink. st may be nil.
func NewBrokerSink(b broker.Broker, st store.Store, logger zerolog.Logger) *BrokerSink {
	return &BrokerSink{
		broker: b,
		store:  st,
		logger: logging.WithComponent(logger, "broker_sink"),
		now:    time.Now,
	}
}

// Name identifies the sink.
func (s *BrokerSink) Name() string {
	return "broker"
}

// Dispatch executes intent.
func (s *BrokerSink) Dispatch(ctx context.Context, intent models.ExecutionIntent) error {
	switch intent.Direction {
	case models.Buy:
		return s.open(ctx, intent)
	case models.Sell:
		return s.close(ctx, intent)
	}
	return errors.Wrapf(errors.ErrOrderRejected, "unsupported direction %q", intent.Direction)
}

func (s *BrokerSink) open(ctx context.Context, intent models.ExecutionIntent) error {
	logger := logging.WithSymbol(s.logger, intent.Symbol)
	if intent.Quantity < 1 {
		logger.Warn().
			Float64("size", intent.PositionSize).
			Float64("entry", intent.EntryPrice).
			Msg("Position size buys less than one share, order skipped")
		return nil
	}

	order, err := broker.NewBracketOrder(intent)
	if err != nil {
		return err
	}
	res, err := s.broker.SubmitBracketOrder(ctx, order)
	if err != nil {
		return errors.Wrapf(err, "submit bracket order for %s", intent.Symbol)
	}
	logging.LogOrder(logger, res.OrderID, intent.Symbol, string(order.Side), res.Status)

	if s.store == nil {
		return nil
	}
	trade := &models.Trade{
		ID:         intent.ID,
		Symbol:     intent.Symbol,
		Side:       models.OrderSideBuy,
		Quantity:   intent.Quantity,
		EntryPrice: intent.EntryPrice,
		EntryTime:  intent.Timestamp,
		Strategy:   agreeingStrategies(intent),
		Confidence: intent.Confidence,
		IntentID:   intent.ID,
	}
	if res.FilledQty > 0 {
		trade.Quantity = res.FilledQty
	}
	if res.FilledPrice > 0 {
		trade.EntryPrice = res.FilledPrice
	}
	if trade.EntryTime.IsZero() {
		trade.EntryTime = s.now()
	}
	if err := s.store.RecordOpen(ctx, trade); err != nil {
		return errors.Wrap(err, "record trade open")
	}
	return nil
}

func (s *BrokerSink) close(ctx context.Context, intent models.ExecutionIntent) error {
	logger := logging.WithSymbol(s.logger, intent.Symbol)
	res, err := s.broker.ClosePosition(ctx, intent.Symbol)
	if err != nil {
		return errors.Wrapf(err, "close position %s", intent.Symbol)
	}
	logging.LogOrder(logger, res.OrderID, intent.Symbol, string(models.OrderSideSell), res.Status)

	price := res.FilledPrice
	if price <= 0 {
		price = intent.EntryPrice
	}
	at := intent.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	return closeJournal(ctx, s.store, intent.Symbol, price, "signal_sell", at)
}

// closeJournal closes the open journal entry for symbol. A missing entry is
// not an error: positions opened outside the engine have none.
func closeJournal(ctx context.Context, st store.Store, symbol string, price float64, reason string, at time.Time) error {
	if st == nil {
		return nil
	}
	trade, err := st.OpenTrade(ctx, symbol)
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "open trade for %s", symbol)
	}
	if _, err := st.RecordClose(ctx, trade.ID, price, reason, at); err != nil {
		return errors.Wrapf(err, "record close for %s", symbol)
	}
	return nil
}

// agreeingStrategies lists the producers that voted with the intent.
func agreeingStrategies(intent models.ExecutionIntent) string {
	ids := make([]string, 0, len(intent.Breakdown))
	for _, s := range intent.Breakdown {
		if s.Direction == intent.Direction {
			ids = append(ids, string(s.StrategyID))
		}
	}
	return strings.Join(ids, "+")
}
