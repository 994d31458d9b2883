package engine

import (
	"context"

	"consensus-trader/internal/broker"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/metrics"
	"consensus-trader/internal/models"
	"consensus-trader/internal/risk"
	"consensus-trader/internal/store"
)

// Exit reasons recorded in the trade journal.
const (
	ExitStopLoss     = "stop_loss"
	ExitTakeProfit   = "take_profit"
	ExitTrailingStop = "trailing_stop"
	ExitBracket      = "bracket_exit"
)

// Exit is a position closed by the engine or found closed at the broker.
type Exit struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Reason string  `json:"reason"`
}

// PriceProcessor is implemented by brokers that simulate bracket legs
// locally.
type PriceProcessor interface {
	ProcessPrice(symbol string, price float64) *broker.Fill
}

// managePositions fires simulated bracket legs and trailing stops for the
// open long positions.
func (e *Engine) managePositions(ctx context.Context, positions []models.Position) []Exit {
	var exits []Exit
	pp, simulated := e.broker.(PriceProcessor)

	for _, pos := range positions {
		if pos.Quantity <= 0 || pos.CurrentPrice <= 0 {
			continue
		}
		logger := logging.WithSymbol(e.logger, pos.Symbol)

		if simulated {
			if fill := pp.ProcessPrice(pos.Symbol, pos.CurrentPrice); fill != nil {
				logging.LogOrder(logger, fill.Order.OrderID, pos.Symbol, string(models.OrderSideSell), fill.Reason)
				e.journalExit(ctx, Exit{Symbol: pos.Symbol, Price: fill.Price, Reason: fill.Reason})
				exits = append(exits, Exit{Symbol: pos.Symbol, Price: fill.Price, Reason: fill.Reason})
				if e.trailing != nil {
					e.trailing.Clear(pos.Symbol)
				}
				continue
			}
		}

		if e.trailing == nil {
			continue
		}
		upd := e.trailing.Update(pos.Symbol, pos.CurrentPrice, pos.AvgEntryPrice)
		if upd.Action != risk.StopClose {
			if upd.Trailing {
				logger.Debug().Float64("stop", upd.StopPrice).Float64("pnl_pct", upd.PnLPct).Msg("Trailing stop")
			}
			continue
		}

		reason := ExitStopLoss
		if upd.Trailing {
			reason = ExitTrailingStop
		}
		res, err := e.broker.ClosePosition(ctx, pos.Symbol)
		if err != nil {
			metrics.SinkErrorsTotal.WithLabelValues("broker").Inc()
			logger.Error().Err(err).Str("reason", upd.Reason).Msg("Failed to close position at stop")
			continue
		}
		logging.LogOrder(logger, res.OrderID, pos.Symbol, string(models.OrderSideSell), res.Status)
		e.trailing.Clear(pos.Symbol)

		price := res.FilledPrice
		if price <= 0 {
			price = pos.CurrentPrice
		}
		ex := Exit{Symbol: pos.Symbol, Price: price, Reason: reason}
		e.journalExit(ctx, ex)
		exits = append(exits, ex)
		logger.Info().Str("reason", upd.Reason).Float64("price", price).Msg("Position closed by stop")
	}
	return exits
}

// reconcileExits closes journal entries whose position is gone at the
// broker, which is how server-side bracket legs show up.
func (e *Engine) reconcileExits(ctx context.Context, positions []models.Position, report *CycleReport) {
	if e.store == nil {
		return
	}
	closed := false
	open, err := e.store.GetTrades(ctx, store.TradeFilter{Closed: &closed})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to load open trades")
		return
	}

	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.Quantity != 0 {
			held[p.Symbol] = true
		}
	}
	for _, ex := range report.Exits {
		held[ex.Symbol] = true
	}

	for _, t := range open {
		if held[t.Symbol] {
			continue
		}
		logger := logging.WithSymbol(e.logger, t.Symbol)
		if e.market == nil {
			logger.Debug().Msg("No market data to price bracket exit")
			continue
		}
		price, err := e.market.GetLatestPrice(ctx, t.Symbol)
		if err != nil || price <= 0 {
			logger.Warn().Err(err).Msg("Cannot price bracket exit")
			continue
		}
		if _, err := e.store.RecordClose(ctx, t.ID, price, ExitBracket, e.now()); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues("store").Inc()
			logger.Warn().Err(err).Msg("Failed to record bracket exit")
			continue
		}
		if e.trailing != nil {
			e.trailing.Clear(t.Symbol)
		}
		report.Exits = append(report.Exits, Exit{Symbol: t.Symbol, Price: price, Reason: ExitBracket})
		logger.Info().Float64("price", price).Msg("Bracket exit reconciled")
	}
}

func (e *Engine) journalExit(ctx context.Context, ex Exit) {
	if err := closeJournal(ctx, e.store, ex.Symbol, ex.Price, ex.Reason, e.now()); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues("store").Inc()
		logger := logging.WithSymbol(e.logger, ex.Symbol)
		logger.Warn().Err(err).Msg("Failed to journal exit")
	}
}
