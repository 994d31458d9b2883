package cli

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/broker"
	"consensus-trader/internal/config"
	"consensus-trader/internal/consensus"
	"consensus-trader/internal/engine"
	"consensus-trader/internal/errors"
	"consensus-trader/internal/notify"
	"consensus-trader/internal/resilience"
	"consensus-trader/internal/risk"
	"consensus-trader/internal/store"
	"consensus-trader/internal/strategy"
	"consensus-trader/internal/stream"
)

// App holds the application dependencies. Everything past Config is built
// on demand by the commands that need it.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger

	Broker    broker.Broker
	Market    broker.MarketData
	Store     *store.SQLiteStore
	Redis     *store.RedisCooldowns
	Publisher *stream.Publisher
	Notifier  *notify.MultiNotifier
	Guard     *risk.AccountGuard
	Engine    *engine.Engine

	closers []func() error
}

// Close releases every opened resource in reverse order.
func (a *App) Close() error {
	var errs errors.MultiError
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs.Append(a.closers[i]())
	}
	a.closers = nil
	return errs.ErrOrNil()
}

// OpenStore opens the SQLite signal log unless it is disabled.
func (a *App) OpenStore() (*store.SQLiteStore, error) {
	if a.Store != nil || !a.Config.Store.Enabled {
		return a.Store, nil
	}
	st, err := store.NewSQLiteStore(a.Config.Store.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open signal store")
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)
	a.Logger.Debug().Str("path", a.Config.Store.Path).Msg("SQLite store initialized")
	return st, nil
}

// requireStore is OpenStore for commands that cannot work without history.
func (a *App) requireStore() (*store.SQLiteStore, error) {
	st, err := a.OpenStore()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.NewConfigError("store.enabled", false, "the signal store is disabled")
	}
	return st, nil
}

// BuildEngine wires broker, store, risk, strategies, sinks and notifiers
// into an engine.
func (a *App) BuildEngine(ctx context.Context) (*engine.Engine, error) {
	if a.Engine != nil {
		return a.Engine, nil
	}
	cfg := a.Config

	alpaca := broker.NewAlpacaBroker(broker.AlpacaConfig{
		BaseURL:    cfg.Broker.BaseURL,
		DataURL:    cfg.Broker.DataURL,
		APIKey:     cfg.Credentials.Alpaca.APIKey,
		SecretKey:  cfg.Credentials.Alpaca.SecretKey,
		Timeout:    cfg.Broker.Timeout,
		MaxRetries: cfg.Broker.MaxRetries,
		Breaker: resilience.Config{
			FailureThreshold: cfg.Broker.BreakerFailures,
			Cooldown:         cfg.Broker.BreakerCooldown,
		},
		Logger: a.Logger,
	})
	a.Market = alpaca
	if cfg.IsPaperMode() {
		a.Broker = broker.NewPaperBroker(broker.PaperBrokerConfig{
			Data:           alpaca,
			InitialBalance: cfg.Broker.PaperEquity,
		})
		a.Logger.Debug().Float64("equity", cfg.Broker.PaperEquity).Msg("Paper broker initialized")
	} else {
		a.Broker = alpaca
		a.Logger.Debug().Str("base_url", cfg.Broker.BaseURL).Msg("Alpaca broker initialized")
	}

	deps := engine.Deps{
		Producers: strategy.Set(cfg.StrategyParams()),
		Resolver:  consensus.NewResolver(cfg.Strategy.StrongSignalThreshold),
		Broker:    a.Broker,
		Market:    alpaca,
		Snapshots: engine.NewMarketSnapshots(alpaca, cfg.Strategy, cfg.Scanner.Workers, a.Logger),
		Logger:    a.Logger,
	}

	st, err := a.OpenStore()
	if err != nil {
		return nil, err
	}
	if st != nil {
		deps.Store = st
	}

	if cfg.Redis.Enabled {
		rc, err := store.NewRedisCooldowns(ctx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      time.Duration(cfg.Risk.SignalCooldownMinutes) * time.Minute,
		})
		if err != nil {
			return nil, errors.Wrap(errors.ErrConnectionFailed, err.Error())
		}
		a.Redis = rc
		a.closers = append(a.closers, rc.Close)
		deps.Cooldowns = rc
		a.Logger.Debug().Str("addr", cfg.Redis.Addr).Msg("Redis cooldown ledger initialized")
	}

	// Seeded with zero; the first cycle feeds the real equity.
	a.Guard = risk.NewAccountGuard(cfg.Risk.Guard(), 0)
	deps.Guard = a.Guard
	gate, err := risk.NewGate(cfg.Risk.Gate(), risk.WithGuard(a.Guard), risk.WithLogger(a.Logger))
	if err != nil {
		return nil, err
	}
	deps.Gate = gate
	if cfg.Risk.TrailingStop {
		deps.Trailing = risk.NewTrailingStops(cfg.Risk.Trailing())
	}

	deps.Sinks = []engine.IntentSink{engine.NewBrokerSink(a.Broker, deps.Store, a.Logger)}
	if cfg.Kafka.Enabled {
		pub, err := stream.NewPublisher(cfg.Kafka, a.Logger)
		if err != nil {
			return nil, err
		}
		a.Publisher = pub
		a.closers = append(a.closers, pub.Close)
		deps.Sinks = append(deps.Sinks, pub)
		deps.Decisions = pub
		a.Logger.Debug().Strs("brokers", cfg.Kafka.Brokers).Msg("Kafka publisher initialized")
	}

	a.Notifier = notify.NewMultiNotifier(cfg.Notifications)
	if cfg.Notifications.Enabled && cfg.Notifications.Terminal {
		a.Notifier.AddChannel(notify.NewTerminalNotifier(os.Stderr))
	}
	deps.Notifier = a.Notifier

	eng, err := engine.New(deps, engine.Options{
		Workers:         cfg.Scanner.Workers,
		ProducerTimeout: cfg.Scanner.ProducerTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.Engine = eng

	if n, err := eng.RestoreCooldowns(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to restore signal cooldowns")
	} else if n > 0 {
		a.Logger.Info().Int("symbols", n).Msg("Restored signal cooldowns")
	}
	return eng, nil
}

// Mode names the execution mode for display.
func (a *App) Mode() string {
	if a.Config.IsPaperMode() {
		return "paper"
	}
	return "live"
}
