package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/broker"
	"consensus-trader/internal/config"
	"consensus-trader/internal/errors"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/metrics"
	"consensus-trader/internal/notify"
	"consensus-trader/internal/performance"
	"consensus-trader/internal/store"
	"consensus-trader/pkg/utils"
)

// Scanner runs RunCycle on a fixed interval and sends the daily summary.
type Scanner struct {
	// MarketHoursOnly skips ticks while the market is closed.
	MarketHoursOnly bool

	engine    *Engine
	watchlist []string
	movers    broker.MoversRequest
	interval  time.Duration
	summaryAt string
	loc       *time.Location

	running atomic.Bool
	wg      sync.WaitGroup
	intents atomic.Int64
	logger  zerolog.Logger
}

// NewScanner creates a scanner over the configured watchlist.
func NewScanner(e *Engine, cfg config.ScannerConfig, logger zerolog.Logger) *Scanner {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		loc = utils.NewYork
	}
	interval := cfg.Interval()
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scanner{
		engine:          e,
		watchlist:       cfg.Watchlist,
		interval:        interval,
		summaryAt:       cfg.DailySummaryTime,
		loc:             loc,
		MarketHoursOnly: true,
		logger:          logging.WithComponent(logger, "scanner"),
		movers: broker.MoversRequest{
			Universe: cfg.MoverUniverse,
			Top:      cfg.DynamicTopN,
			MaxPrice: cfg.MoverMaxPrice,
		},
	}
}

// Run scans immediately and then on every tick until ctx is cancelled. A
// tick that arrives while the previous cycle is still running is skipped.
// Run waits for the cycle in flight before returning.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info().
		Strs("watchlist", s.watchlist).
		Int("dynamic_top_n", s.movers.Top).
		Dur("interval", s.interval).
		Msg("Scanner started")

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	summary := s.summaryTimer()
	defer func() {
		if summary != nil {
			summary.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.stopped()
			return nil
		case <-ticker.C:
			s.tick(ctx)
		case <-timerC(summary):
			if err := s.engine.SendDailySummary(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Daily summary failed")
			}
			summary = s.summaryTimer()
		}
	}
}

// tick starts a cycle unless the scanner is paused or a cycle is already
// running.
func (s *Scanner) tick(ctx context.Context) {
	if s.engine.Paused(ctx) {
		metrics.SkippedTotal.WithLabelValues("paused").Inc()
		s.logger.Info().Msg("Scanner paused, tick skipped")
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		metrics.SkippedTotal.WithLabelValues("tick").Inc()
		s.logger.Warn().Msg("Previous scan still running, tick skipped")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.scan(ctx)
	}()
}

func (s *Scanner) scan(ctx context.Context) {
	if s.MarketHoursOnly {
		clock, err := s.engine.broker.GetClock(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Clock unavailable, scanning anyway")
		} else if !clock.IsOpen {
			s.logger.Debug().Time("next_open", clock.NextOpen).Msg("Market closed, scan skipped")
			return
		}
	}

	report, err := s.engine.RunCycle(ctx, s.symbols(ctx))
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("Scan cycle failed")
	}
	if report != nil {
		s.intents.Add(int64(len(report.Intents)))
	}
	s.engine.gate.Prune()
}

// symbols returns the watchlist merged with today's top movers. A failed
// movers lookup scans the watchlist alone.
func (s *Scanner) symbols(ctx context.Context) []string {
	if s.movers.Top <= 0 || len(s.movers.Universe) == 0 || s.engine.market == nil {
		return s.watchlist
	}
	movers, err := s.engine.market.TopMovers(ctx, s.movers)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Top movers unavailable, scanning watchlist only")
		return s.watchlist
	}

	out := make([]string, 0, len(s.watchlist)+len(movers))
	seen := make(map[string]struct{}, cap(out))
	added := make([]string, 0, len(movers))
	for _, sym := range s.watchlist {
		if _, ok := seen[sym]; !ok {
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	for _, m := range movers {
		if _, ok := seen[m.Symbol]; !ok {
			seen[m.Symbol] = struct{}{}
			out = append(out, m.Symbol)
			added = append(added, m.Symbol)
		}
	}
	s.logger.Debug().Strs("movers", added).Int("symbols", len(out)).Msg("Dynamic watchlist built")
	return out
}

func (s *Scanner) summaryTimer() *time.Timer {
	if s.summaryAt == "" {
		return nil
	}
	next, err := utils.NextDailyAt(s.engine.now(), s.summaryAt, s.loc)
	if err != nil {
		s.logger.Warn().Err(err).Str("time", s.summaryAt).Msg("Invalid daily summary time")
		return nil
	}
	return time.NewTimer(time.Until(next))
}

func (s *Scanner) stopped() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := notify.Stopped{
		Cycles:  s.engine.Status().Totals.Cycles,
		Intents: int(s.intents.Load()),
	}
	if account, err := s.engine.broker.GetAccount(ctx); err == nil {
		st.Equity = account.Equity
	}
	if err := s.engine.notifier.SendStopped(ctx, st); err != nil {
		s.logger.Warn().Err(err).Msg("Shutdown notification failed")
	}
	s.logger.Info().Int64("cycles", st.Cycles).Int("intents", st.Intents).Msg("Scanner stopped")
}

// timerC returns t's channel, or nil so a select never fires on it.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// DailySummary builds the end-of-day report from the broker account and the
// trades closed today.
func (e *Engine) DailySummary(ctx context.Context) (notify.DailySummary, error) {
	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		return notify.DailySummary{}, errors.Wrap(err, "get account")
	}
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return notify.DailySummary{}, errors.Wrap(err, "get positions")
	}

	now := e.now().In(utils.NewYork)
	summary := notify.DailySummary{
		Date:      now.Format("2006-01-02"),
		Equity:    account.Equity,
		Cash:      account.Cash,
		Positions: positions,
	}
	if account.LastEquity > 0 {
		summary.DayPnL = account.Equity - account.LastEquity
		summary.DayPnLPercent = summary.DayPnL / account.LastEquity * 100
	}

	if e.store != nil {
		closed := true
		trades, err := e.store.GetTrades(ctx, store.TradeFilter{Closed: &closed})
		if err != nil {
			return summary, errors.Wrap(err, "closed trades")
		}
		today := trades[:0]
		for _, t := range trades {
			if t.ExitTime != nil && t.ExitTime.In(utils.NewYork).Format("2006-01-02") == summary.Date {
				today = append(today, t)
			}
		}
		stats := performance.Summarize(today)
		summary.TradesClosed = stats.TotalTrades
		summary.WinRate = stats.WinRate
		summary.RealizedPnL = stats.TotalPnL
	}
	return summary, nil
}

// SendDailySummary builds and sends the daily summary.
func (e *Engine) SendDailySummary(ctx context.Context) error {
	summary, err := e.DailySummary(ctx)
	if err != nil {
		return err
	}
	return e.notifier.SendDailySummary(ctx, summary)
}
