// Package engine wires the strategy producers, consensus resolver, risk gate
// and authorizer into per-symbol evaluations and whole-watchlist scan cycles.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/analysis"
	"consensus-trader/internal/broker"
	"consensus-trader/internal/config"
	"consensus-trader/internal/consensus"
	"consensus-trader/internal/errors"
	"consensus-trader/internal/execution"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/metrics"
	"consensus-trader/internal/models"
	"consensus-trader/internal/notify"
	"consensus-trader/internal/performance"
	"consensus-trader/internal/risk"
	"consensus-trader/internal/store"
	"consensus-trader/internal/strategy"
	"consensus-trader/internal/stream"
)

// DefaultProducerTimeout bounds one fan-out of the three producers.
const DefaultProducerTimeout = 10 * time.Second

// SnapshotSource builds the inputs of one evaluation.
type SnapshotSource interface {
	Snapshots(ctx context.Context, symbol string) (analysis.FeatureSnapshot, analysis.SentimentSnapshot, error)
}

// IntentSink receives approved execution intents.
type IntentSink interface {
	Name() string
	Dispatch(ctx context.Context, intent models.ExecutionIntent) error
}

// DecisionPublisher receives every decision with its verdict.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, ev stream.DecisionEvent) error
}

// Deps are the collaborators of an Engine. Gate, Broker and Snapshots are
// required; the rest are optional.
type Deps struct {
	Producers  [3]strategy.Producer
	Resolver   *consensus.Resolver
	Gate       *risk.Gate
	Guard      *risk.AccountGuard
	Trailing   *risk.TrailingStops
	Authorizer *execution.Authorizer
	Broker     broker.Broker
	Market     broker.MarketData
	Snapshots  SnapshotSource
	Store      store.Store
	Cooldowns  store.CooldownStore
	Sinks      []IntentSink
	Decisions  DecisionPublisher
	Notifier   notify.Notifier
	Logger     zerolog.Logger
}

// Options tune an Engine.
type Options struct {
	Workers         int
	ProducerTimeout time.Duration
	Now             func() time.Time
}

// Engine evaluates symbols. It is safe for concurrent use; evaluations of
// the same symbol never overlap.
type Engine struct {
	producers  [3]strategy.Producer
	resolver   *consensus.Resolver
	gate       *risk.Gate
	guard      *risk.AccountGuard
	trailing   *risk.TrailingStops
	authorizer *execution.Authorizer
	broker     broker.Broker
	market     broker.MarketData
	snapshots  SnapshotSource
	store      store.Store
	cooldowns  store.CooldownStore
	sinks      []IntentSink
	decisions  DecisionPublisher
	notifier   notify.Notifier
	logger     zerolog.Logger

	workers         int
	producerTimeout time.Duration
	now             func() time.Time

	inflight *risk.KeyedMutex
	cycleMu  sync.Mutex
	cycles   atomic.Int64
	paused   atomic.Bool

	mu        sync.RWMutex
	day       string
	lastCycle *CycleReport
	totals    Totals
}

// Totals are running counters since the engine started.
type Totals struct {
	Cycles     int64 `json:"cycles"`
	Evaluated  int64 `json:"evaluated"`
	Intents    int64 `json:"intents"`
	Suppressed int64 `json:"suppressed"`
	Exits      int64 `json:"exits"`
}

// Evaluation is the full trace of one symbol evaluation.
type Evaluation struct {
	Symbol     string                     `json:"symbol"`
	Signals    [3]models.StrategySignal   `json:"signals"`
	Decision   models.ConsensusDecision   `json:"decision"`
	Assessment models.RiskAssessment      `json:"assessment"`
	Outcome    execution.Outcome          `json:"outcome"`
	Features   analysis.FeatureSnapshot   `json:"-"`
	Sentiment  analysis.SentimentSnapshot `json:"-"`
	Duration   time.Duration              `json:"duration"`
}

// New creates an Engine.
func New(deps Deps, opts Options) (*Engine, error) {
	var errs errors.MultiError
	if deps.Gate == nil {
		errs.Append(errors.NewConfigError("engine.gate", "", "risk gate is required"))
	}
	if deps.Broker == nil {
		errs.Append(errors.NewConfigError("engine.broker", "", "broker is required"))
	}
	if deps.Snapshots == nil {
		errs.Append(errors.NewConfigError("engine.snapshots", "", "snapshot source is required"))
	}
	for i, p := range deps.Producers {
		if p == nil {
			errs.Append(errors.NewConfigError("engine.producers", i, "producer is nil"))
		}
	}
	if err := errs.ErrOrNil(); err != nil {
		return nil, err
	}

	e := &Engine{
		producers:       deps.Producers,
		resolver:        deps.Resolver,
		gate:            deps.Gate,
		guard:           deps.Guard,
		trailing:        deps.Trailing,
		authorizer:      deps.Authorizer,
		broker:          deps.Broker,
		market:          deps.Market,
		snapshots:       deps.Snapshots,
		store:           deps.Store,
		cooldowns:       deps.Cooldowns,
		sinks:           deps.Sinks,
		decisions:       deps.Decisions,
		notifier:        deps.Notifier,
		logger:          logging.WithComponent(deps.Logger, "engine"),
		workers:         opts.Workers,
		producerTimeout: opts.ProducerTimeout,
		now:             opts.Now,
		inflight:        risk.NewKeyedMutex(),
	}
	if e.resolver == nil {
		e.resolver = consensus.NewResolver(consensus.DefaultStrongThreshold)
	}
	if e.authorizer == nil {
		e.authorizer = execution.NewAuthorizer()
	}
	if e.notifier == nil {
		e.notifier = notify.NewMultiNotifier(config.NotificationConfig{})
	}
	if e.cooldowns == nil && e.store != nil {
		e.cooldowns = e.store
	}
	if e.workers <= 0 {
		e.workers = 4
	}
	if e.producerTimeout <= 0 {
		e.producerTimeout = DefaultProducerTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// RestoreCooldowns hydrates the gate with persisted approval times.
func (e *Engine) RestoreCooldowns(ctx context.Context) (int, error) {
	if e.cooldowns == nil {
		return 0, nil
	}
	times, err := e.cooldowns.LoadCooldowns(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "load cooldowns")
	}
	e.gate.Restore(times)
	pruned := e.gate.Prune()
	e.logger.Info().Int("restored", len(times)).Int("expired", pruned).Msg("Cooldowns restored")
	return len(times) - pruned, nil
}

// EvaluateSymbol runs one full evaluation of symbol against portfolio and
// returns the authorized intent or the suppressed signal. It fails with
// ErrSymbolBusy when the symbol is already being evaluated.
func (e *Engine) EvaluateSymbol(ctx context.Context, symbol string, f analysis.FeatureSnapshot, s analysis.SentimentSnapshot, portfolio models.PortfolioState) (execution.Outcome, error) {
	unlock, ok := e.inflight.TryLock(symbol)
	if !ok {
		metrics.SkippedTotal.WithLabelValues("symbol").Inc()
		return execution.Outcome{}, errors.Wrap(errors.ErrSymbolBusy, symbol)
	}
	defer unlock()

	ev := e.evaluate(ctx, symbol, f, s, func(d models.ConsensusDecision) models.RiskAssessment {
		return e.gate.Assess(d, portfolio)
	})
	e.record(ev)
	return ev.Outcome, nil
}

// Evaluate builds fresh snapshots for symbol and evaluates it against the
// live account without recording a cooldown, persisting or dispatching.
func (e *Engine) Evaluate(ctx context.Context, symbol string) (*Evaluation, error) {
	unlock, ok := e.inflight.TryLock(symbol)
	if !ok {
		return nil, errors.Wrap(errors.ErrSymbolBusy, symbol)
	}
	defer unlock()

	view, err := e.loadAccount(ctx)
	if err != nil {
		return nil, err
	}
	f, s, err := e.snapshots.Snapshots(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshots for %s", symbol)
	}
	ev := e.evaluate(ctx, symbol, f, s, func(d models.ConsensusDecision) models.RiskAssessment {
		return e.gate.Preview(d, view.state)
	})
	return &ev, nil
}

// evaluate runs the producers, resolves their signals and passes the decision
// through assess and the authorizer. The caller holds the symbol lock.
func (e *Engine) evaluate(ctx context.Context, symbol string, f analysis.FeatureSnapshot, s analysis.SentimentSnapshot, assess func(models.ConsensusDecision) models.RiskAssessment) Evaluation {
	start := time.Now()
	logger := logging.WithSymbol(e.logger, symbol)
	if f.Symbol == "" {
		f.Symbol = symbol
	}

	signals := e.runProducers(ctx, f, s)
	for _, sig := range signals {
		logging.LogSignal(logger, symbol, sig)
		metrics.SignalsTotal.WithLabelValues(string(sig.StrategyID), string(sig.Direction)).Inc()
	}

	decision := e.resolver.Resolve(symbol, e.now(), signals)
	decision.Price = f.Price
	decision.DailyTrend = f.DailyTrend
	decision.EarningsWindow = s.EarningsWindow
	metrics.DecisionsTotal.WithLabelValues(string(decision.Direction)).Inc()
	if decision.Actionable() {
		logging.LogDecision(logger, decision)
	}

	assessment := assess(decision)
	outcome := e.authorizer.Authorize(assessment, decision)
	switch {
	case outcome.Intent != nil:
		metrics.IntentsTotal.WithLabelValues(string(outcome.Intent.Direction)).Inc()
		logging.LogIntent(logger, *outcome.Intent)
	case outcome.Suppressed != nil:
		metrics.RejectionsTotal.WithLabelValues(string(outcome.Suppressed.Reason)).Inc()
		logging.LogSuppressed(logger, *outcome.Suppressed)
	}

	dur := time.Since(start)
	metrics.EvaluationDuration.Observe(dur.Seconds())
	return Evaluation{
		Symbol:     symbol,
		Signals:    signals,
		Decision:   decision,
		Assessment: assessment,
		Outcome:    outcome,
		Features:   f,
		Sentiment:  s,
		Duration:   dur,
	}
}

type producerResult struct {
	index  int
	signal models.StrategySignal
	err    error
}

// runProducers evaluates the three producers in parallel and waits for all of
// them or the producer timeout. A producer that fails, panics or misses the
// deadline contributes a zero-strength HOLD.
func (e *Engine) runProducers(ctx context.Context, f analysis.FeatureSnapshot, s analysis.SentimentSnapshot) [3]models.StrategySignal {
	ctx, cancel := context.WithTimeout(ctx, e.producerTimeout)
	defer cancel()

	resultChan := make(chan producerResult, len(e.producers))
	var wg sync.WaitGroup

	for i, p := range e.producers {
		wg.Add(1)
		go func(i int, p strategy.Producer) {
			defer wg.Done()
			sig, err := strategy.SafeEvaluate(ctx, p, f, s)
			resultChan <- producerResult{index: i, signal: sig, err: err}
		}(i, p)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var signals [3]models.StrategySignal
	done := [3]bool{}
	collect := func(r producerResult) {
		signals[r.index] = r.signal
		done[r.index] = true
		if r.err != nil {
			id := e.producers[r.index].ID()
			metrics.StrategyErrorsTotal.WithLabelValues(string(id)).Inc()
			logger := logging.WithStrategy(e.logger, id)
			logger.Warn().Err(r.err).Str("symbol", f.Symbol).Msg("Strategy failed, counted as HOLD")
		}
	}

wait:
	for {
		select {
		case r, ok := <-resultChan:
			if !ok {
				break wait
			}
			collect(r)
		case <-ctx.Done():
			break wait
		}
	}

	for i, p := range e.producers {
		if done[i] {
			continue
		}
		id := p.ID()
		err := errors.NewStrategyError(string(id), f.Symbol, errors.ErrTimeout)
		collect(producerResult{index: i, signal: models.HoldSignal(id, strategy.ErrorEvidence(id, err)), err: err})
	}
	return signals
}

// record folds one evaluation into the running totals.
func (e *Engine) record(ev Evaluation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totals.Evaluated++
	if ev.Outcome.Approved() {
		e.totals.Intents++
	} else {
		e.totals.Suppressed++
	}
}

// Status is a point-in-time view of the engine.
type Status struct {
	Mode      string               `json:"mode"`
	Paused    bool                 `json:"paused"`
	Totals    Totals               `json:"totals"`
	LastCycle *CycleReport         `json:"last_cycle,omitempty"`
	Guard     *risk.GuardStatus    `json:"guard,omitempty"`
	Cooldowns map[string]time.Time `json:"cooldowns"`
	Trailing  []string             `json:"trailing,omitempty"`
	Memory    performance.MemStats `json:"memory"`
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.mu.RLock()
	st := Status{
		Mode:      "live",
		Totals:    e.totals,
		LastCycle: e.lastCycle,
	}
	e.mu.RUnlock()

	if e.broker.IsPaperTrading() {
		st.Mode = "paper"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	st.Paused = e.Paused(ctx)
	cancel()
	if e.guard != nil {
		g := e.guard.Status()
		st.Guard = &g
	}
	if e.trailing != nil {
		st.Trailing = e.trailing.Active()
	}
	st.Cooldowns = e.gate.Snapshot()
	st.Memory = performance.MemoryStats()
	return st
}

// Gate returns the engine's risk gate.
func (e *Engine) Gate() *risk.Gate {
	return e.gate
}

// Store returns the configured store, which may be nil.
func (e *Engine) Store() store.Store {
	return e.store
}
