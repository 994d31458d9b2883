package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/execution"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/metrics"
	"consensus-trader/internal/models"
	"consensus-trader/internal/notify"
	"consensus-trader/internal/performance"
	"consensus-trader/internal/risk"
	"consensus-trader/internal/store"
	"consensus-trader/internal/stream"
	"consensus-trader/pkg/utils"
)

// CycleReport summarizes one scan cycle.
type CycleReport struct {
	Cycle      int64                     `json:"cycle"`
	StartedAt  time.Time                 `json:"started_at"`
	Duration   time.Duration             `json:"duration"`
	MarketOpen bool                      `json:"market_open"`
	Checked    int                       `json:"checked"`
	Intents    []models.ExecutionIntent  `json:"intents"`
	Suppressed []models.SuppressedSignal `json:"suppressed"`
	Skipped    []string                  `json:"skipped,omitempty"`
	Failed     map[string]string         `json:"failed,omitempty"`
	Exits      []Exit                    `json:"exits,omitempty"`
	Equity     float64                   `json:"equity"`
	DayPnL     float64                   `json:"day_pnl"`
	Positions  []models.Position         `json:"positions"`
	Guard      *risk.GuardStatus         `json:"guard,omitempty"`
}

// accountView is the broker state read once at the start of a cycle.
type accountView struct {
	account   *models.Account
	positions []models.Position
	clock     *models.Clock
	state     models.PortfolioState
}

func (e *Engine) loadAccount(ctx context.Context) (*accountView, error) {
	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get account")
	}
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get positions")
	}
	clock, err := e.broker.GetClock(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get clock")
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		if p.Quantity != 0 {
			symbols = append(symbols, p.Symbol)
		}
	}
	return &accountView{
		account:   account,
		positions: positions,
		clock:     clock,
		state:     models.NewPortfolioState(account.Equity, clock.IsOpen, symbols...),
	}, nil
}

// book is the portfolio shared by the workers of one cycle. Approvals update
// it under the lock so two symbols cannot both take the last free slot.
type book struct {
	mu    sync.Mutex
	state models.PortfolioState
}

func newBook(state models.PortfolioState) *book {
	return &book{state: state.Clone()}
}

func (b *book) assess(g *risk.Gate, d models.ConsensusDecision) models.RiskAssessment {
	b.mu.Lock()
	defer b.mu.Unlock()

	a := g.Assess(d, b.state)
	if !a.Approved {
		return a
	}
	switch d.Direction {
	case models.Buy:
		b.state.OpenPositions[d.Symbol] = struct{}{}
	case models.Sell:
		delete(b.state.OpenPositions, d.Symbol)
	}
	return a
}

// RunCycle evaluates every symbol once. Broker state is read once; exits are
// processed before new entries are evaluated. A cycle already in flight makes
// the call fail with ErrSymbolBusy.
func (e *Engine) RunCycle(ctx context.Context, symbols []string) (*CycleReport, error) {
	if !e.cycleMu.TryLock() {
		metrics.SkippedTotal.WithLabelValues("cycle").Inc()
		return nil, errors.Wrap(errors.ErrSymbolBusy, "scan cycle")
	}
	defer e.cycleMu.Unlock()

	start := time.Now()
	report := &CycleReport{
		Cycle:     e.cycles.Add(1),
		StartedAt: e.now(),
		Failed:    map[string]string{},
	}
	logger := e.logger.With().Int64("cycle", report.Cycle).Logger()

	view, err := e.loadAccount(ctx)
	if err != nil {
		_ = e.notifier.SendError(ctx, err, "scan cycle")
		return nil, err
	}
	report.MarketOpen = view.clock.IsOpen
	report.Equity = view.account.Equity
	if view.account.LastEquity > 0 {
		report.DayPnL = view.account.Equity - view.account.LastEquity
	}
	e.updateGuard(view, report)

	for _, ex := range e.managePositions(ctx, view.positions) {
		report.Exits = append(report.Exits, ex)
		view.state = withoutPosition(view.state, ex.Symbol)
	}
	e.reconcileExits(ctx, view.positions, report)

	b := newBook(view.state)
	var mu sync.Mutex
	err = performance.ForEach(ctx, e.workers, symbols, func(symbol string) {
		ev, err := e.cycleSymbol(ctx, symbol, b)
		mu.Lock()
		defer mu.Unlock()
		switch {
		case errors.Is(err, errors.ErrSymbolBusy):
			report.Skipped = append(report.Skipped, symbol)
		case err != nil:
			report.Failed[symbol] = err.Error()
		default:
			report.Checked++
			if ev.Outcome.Intent != nil {
				report.Intents = append(report.Intents, *ev.Outcome.Intent)
			} else if ev.Outcome.Suppressed != nil {
				report.Suppressed = append(report.Suppressed, *ev.Outcome.Suppressed)
			}
		}
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Scan cycle interrupted")
	}
	sort.Slice(report.Intents, func(i, j int) bool { return report.Intents[i].Symbol < report.Intents[j].Symbol })
	sort.Strings(report.Skipped)

	if positions, perr := e.broker.GetPositions(ctx); perr == nil {
		report.Positions = positions
	} else {
		report.Positions = view.positions
	}
	e.snapshotPortfolio(ctx, view, report)

	report.Duration = time.Since(start)
	metrics.CyclesTotal.Inc()
	metrics.CycleDuration.Observe(report.Duration.Seconds())
	logging.LogCycle(logger, report.Cycle, len(symbols), len(report.Intents), len(report.Suppressed), len(report.Skipped), report.Duration)

	e.mu.Lock()
	e.lastCycle = report
	e.totals.Cycles++
	e.totals.Exits += int64(len(report.Exits))
	e.mu.Unlock()

	if len(report.Intents) > 0 || len(report.Exits) > 0 {
		if nerr := e.notifier.SendScanSummary(ctx, e.scanSummary(report)); nerr != nil {
			metrics.SinkErrorsTotal.WithLabelValues("notifier").Inc()
			logger.Warn().Err(nerr).Msg("Scan summary notification failed")
		}
	}
	return report, ctx.Err()
}

// cycleSymbol evaluates one symbol inside a cycle and hands the result to
// the store, sinks and notifier.
func (e *Engine) cycleSymbol(ctx context.Context, symbol string, b *book) (*Evaluation, error) {
	unlock, ok := e.inflight.TryLock(symbol)
	if !ok {
		metrics.SkippedTotal.WithLabelValues("symbol").Inc()
		return nil, errors.Wrap(errors.ErrSymbolBusy, symbol)
	}
	defer unlock()

	f, s, err := e.snapshots.Snapshots(ctx, symbol)
	if err != nil {
		logger := logging.WithSymbol(e.logger, symbol)
		logger.Warn().Err(err).Msg("Snapshot build failed")
		return nil, err
	}

	ev := e.evaluate(ctx, symbol, f, s, func(d models.ConsensusDecision) models.RiskAssessment {
		return b.assess(e.gate, d)
	})
	e.record(ev)

	if intent := ev.Outcome.Intent; intent != nil {
		e.persistCooldown(ctx, symbol)
		e.dispatch(ctx, *intent)
	}
	e.persist(ctx, ev)
	e.notifyOutcome(ctx, ev.Outcome)
	return &ev, nil
}

// dispatch delivers an intent to every sink. Sink failures are logged and
// counted; they never change the decision.
func (e *Engine) dispatch(ctx context.Context, intent models.ExecutionIntent) {
	for _, sink := range e.sinks {
		if err := sink.Dispatch(ctx, intent); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(sink.Name()).Inc()
			logger := logging.WithSymbol(e.logger, intent.Symbol)
			logger.Error().Err(err).
				Str("sink", sink.Name()).
				Str("intent_id", intent.ID).
				Msg("Intent dispatch failed")
		}
	}
}

func (e *Engine) persistCooldown(ctx context.Context, symbol string) {
	if e.cooldowns == nil {
		return
	}
	at, ok := e.gate.LastSignal(symbol)
	if !ok {
		return
	}
	if err := e.cooldowns.SaveCooldown(ctx, symbol, at); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues("cooldowns").Inc()
		logger := logging.WithSymbol(e.logger, symbol)
		logger.Warn().Err(err).Msg("Failed to persist cooldown")
	}
}

// persist writes the decision audit row, the signal log entry for actionable
// decisions and the decision event.
func (e *Engine) persist(ctx context.Context, ev Evaluation) {
	intentID := ""
	if ev.Outcome.Intent != nil {
		intentID = ev.Outcome.Intent.ID
	}
	logger := logging.WithSymbol(e.logger, ev.Symbol)

	if e.store != nil {
		if err := e.store.SaveDecision(ctx, &store.DecisionRecord{
			Symbol:     ev.Symbol,
			Timestamp:  ev.Decision.Timestamp,
			Decision:   ev.Decision,
			Assessment: ev.Assessment,
			IntentID:   intentID,
		}); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues("store").Inc()
			logger.Warn().Err(err).Msg("Failed to save decision")
		}

		if ev.Decision.Actionable() {
			reason := ""
			if ev.Outcome.Intent != nil {
				reason = ev.Outcome.Intent.Rationale
			} else if sup := ev.Outcome.Suppressed; sup != nil {
				reason = string(sup.Reason)
				if sup.Detail != "" {
					reason += ": " + sup.Detail
				}
			}
			if err := e.store.LogSignal(ctx, &models.SignalLogEntry{
				Symbol:     ev.Symbol,
				Direction:  ev.Decision.Direction,
				Confidence: ev.Decision.Confidence,
				Consensus:  ev.Decision.AgreeCount,
				Reason:     store.TruncateReason(reason),
				Acted:      ev.Outcome.Approved(),
				Timestamp:  ev.Decision.Timestamp,
			}); err != nil {
				metrics.SinkErrorsTotal.WithLabelValues("store").Inc()
				logger.Warn().Err(err).Msg("Failed to log signal")
			}
		}
	}

	if e.decisions != nil {
		if err := e.decisions.PublishDecision(ctx, stream.DecisionEvent{
			Decision:   ev.Decision,
			Assessment: ev.Assessment,
			IntentID:   intentID,
		}); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues("decisions").Inc()
		}
	}
}

func (e *Engine) notifyOutcome(ctx context.Context, o execution.Outcome) {
	var err error
	switch {
	case o.Intent != nil:
		err = e.notifier.SendSignal(ctx, o.Intent.Record())
	case o.Suppressed != nil:
		err = e.notifier.SendSuppressed(ctx, *o.Suppressed)
	}
	if err != nil {
		metrics.SinkErrorsTotal.WithLabelValues("notifier").Inc()
		logger := logging.WithSymbol(e.logger, o.Symbol())
		logger.Warn().Err(err).Msg("Notification failed")
	}
}

// updateGuard rolls the trading day and feeds the account guard.
func (e *Engine) updateGuard(view *accountView, report *CycleReport) {
	metrics.Equity.Set(view.account.Equity)
	metrics.OpenPositions.Set(float64(view.state.OpenCount()))
	if e.guard == nil {
		return
	}

	day := e.now().In(utils.NewYork).Format("2006-01-02")
	e.mu.Lock()
	rolled := e.day != "" && e.day != day
	e.day = day
	e.mu.Unlock()
	if rolled {
		start := view.account.LastEquity
		if start <= 0 {
			start = view.account.Equity
		}
		e.guard.ResetDay(start)
		e.logger.Info().Str("day", day).Float64("equity", start).Msg("New trading day")
	}

	st := e.guard.Update(view.account.Equity)
	report.Guard = &st
	if st.Halted {
		e.logger.Warn().Str("reason", st.Reason).Msg("Account guard halted new entries")
	}
}

func (e *Engine) snapshotPortfolio(ctx context.Context, view *accountView, report *CycleReport) {
	if e.store == nil {
		return
	}
	open := 0
	for _, p := range report.Positions {
		if p.Quantity != 0 {
			open++
		}
	}
	if err := e.store.SnapshotPortfolio(ctx, models.PortfolioSnapshot{
		Timestamp:      report.StartedAt,
		PortfolioValue: view.account.Equity,
		Cash:           view.account.Cash,
		OpenPositions:  open,
		DayPnL:         report.DayPnL,
	}); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues("store").Inc()
		e.logger.Warn().Err(err).Msg("Failed to snapshot portfolio")
	}
}

func (e *Engine) scanSummary(r *CycleReport) notify.ScanSummary {
	intents := make([]models.SignalRecord, 0, len(r.Intents))
	for _, in := range r.Intents {
		intents = append(intents, in.Record())
	}
	return notify.ScanSummary{
		Cycle:         r.Cycle,
		Checked:       r.Checked,
		Skipped:       len(r.Skipped),
		Suppressed:    len(r.Suppressed),
		Intents:       intents,
		Equity:        r.Equity,
		DayPnL:        r.DayPnL,
		OpenPositions: r.Positions,
		Duration:      r.Duration,
	}
}

func withoutPosition(state models.PortfolioState, symbol string) models.PortfolioState {
	out := state.Clone()
	delete(out.OpenPositions, symbol)
	return out
}
