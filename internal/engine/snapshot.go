package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/analysis"
	"consensus-trader/internal/broker"
	"consensus-trader/internal/config"
	"consensus-trader/internal/errors"
	"consensus-trader/internal/logging"
)

const newsLimit = 50

// MarketSnapshots builds feature and sentiment snapshots from a market data
// feed.
type MarketSnapshots struct {
	data         broker.MarketData
	builder      *analysis.Builder
	timeframe    string
	bars         int
	dailyBars    int
	newsLookback time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// NewMarketSnapshots creates a snapshot source over data.
func NewMarketSnapshots(data broker.MarketData, cfg config.StrategyConfig, workers int, logger zerolog.Logger) *MarketSnapshots {
	return &MarketSnapshots{
		data:         data,
		builder:      analysis.NewBuilder(workers),
		timeframe:    cfg.Timeframe,
		bars:         cfg.Bars,
		dailyBars:    cfg.DailyBars,
		newsLookback: cfg.NewsLookback(),
		now:          time.Now,
		logger:       logging.WithComponent(logger, "snapshots"),
	}
}

// Snapshots fetches intraday bars, daily bars and news for symbol. Only the
// intraday bars are required; daily bars and news degrade to an unknown
// trend and an empty sentiment view.
func (m *MarketSnapshots) Snapshots(ctx context.Context, symbol string) (analysis.FeatureSnapshot, analysis.SentimentSnapshot, error) {
	now := m.now()
	logger := logging.WithSymbol(m.logger, symbol)

	intraday, err := m.data.GetBars(ctx, broker.BarsRequest{
		Symbol:    symbol,
		Timeframe: m.timeframe,
		Limit:     m.bars,
		Start:     lookbackStart(now, m.timeframe, m.bars),
	})
	if err != nil {
		return analysis.FeatureSnapshot{}, analysis.SentimentSnapshot{}, errors.Wrapf(err, "%s bars", m.timeframe)
	}

	daily, err := m.data.GetBars(ctx, broker.BarsRequest{
		Symbol:    symbol,
		Timeframe: "1Day",
		Limit:     m.dailyBars,
		Start:     lookbackStart(now, "1Day", m.dailyBars),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Daily bars unavailable, trend unknown")
		daily = nil
	}

	articles, err := m.data.GetNews(ctx, broker.NewsRequest{
		Symbols: []string{symbol},
		Since:   now.Add(-m.newsLookback),
		Limit:   newsLimit,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("News unavailable")
		articles = nil
	}

	f, err := m.builder.Build(ctx, symbol, intraday, daily)
	if err != nil {
		return analysis.FeatureSnapshot{}, analysis.SentimentSnapshot{}, err
	}
	return f, analysis.BuildSentimentSnapshot(symbol, articles, -1, now), nil
}

// lookbackStart returns a start time that covers bars of timeframe across
// nights, weekends and holidays.
func lookbackStart(now time.Time, timeframe string, bars int) time.Time {
	d, err := broker.TimeframeDuration(timeframe)
	if err != nil || bars <= 0 {
		return time.Time{}
	}
	span := d * time.Duration(bars)
	if d >= 24*time.Hour {
		// Five sessions per seven calendar days plus holiday slack.
		return now.Add(-(span*7/5 + 10*24*time.Hour))
	}
	// 6.5 session hours a day, five sessions a week: 168h / 32.5h.
	return now.Add(-(span*336/65 + 3*24*time.Hour))
}
