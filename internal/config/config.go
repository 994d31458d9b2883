// Package config provides configuration management for the consensus trader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/risk"
	"consensus-trader/internal/strategy"
)

// EnvPrefix is the prefix for environment overrides of config keys, e.g.
// CTRADER_RISK_STOP_LOSS_PCT.
const EnvPrefix = "CTRADER"

// Config holds all application configuration.
type Config struct {
	Broker        BrokerConfig       `mapstructure:"broker"`
	Risk          RiskConfig         `mapstructure:"risk"`
	Strategy      StrategyConfig     `mapstructure:"strategy"`
	Scanner       ScannerConfig      `mapstructure:"scanner"`
	Store         StoreConfig        `mapstructure:"store"`
	Redis         RedisConfig        `mapstructure:"redis"`
	Kafka         KafkaConfig        `mapstructure:"kafka"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	API           ServerConfig       `mapstructure:"api"`
	Metrics       ServerConfig       `mapstructure:"metrics"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Credentials   Credentials        `mapstructure:"-" json:"-"` // Loaded separately
}

// BrokerConfig selects and tunes the broker integration.
type BrokerConfig struct {
	Mode            string        `mapstructure:"mode" default:"paper" validate:"oneof=paper live"`
	BaseURL         string        `mapstructure:"base_url" default:"https://paper-api.alpaca.markets" validate:"url"`
	DataURL         string        `mapstructure:"data_url" default:"https://data.alpaca.markets" validate:"url"`
	Timeout         time.Duration `mapstructure:"timeout" default:"10s" validate:"gt=0"`
	MaxRetries      int           `mapstructure:"max_retries" default:"3" validate:"gte=0,lte=10"`
	BreakerFailures int           `mapstructure:"breaker_failures" default:"5" validate:"gte=1"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" default:"30s" validate:"gt=0"`
	PaperEquity     float64       `mapstructure:"paper_equity" default:"100000" validate:"gt=0"`
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	MaxPositionSize       float64 `mapstructure:"max_position_size" default:"1000"`
	RiskPerTradePct       float64 `mapstructure:"risk_per_trade_pct" default:"2"`
	StopLossPct           float64 `mapstructure:"stop_loss_pct" default:"2"`
	TakeProfitPct         float64 `mapstructure:"take_profit_pct" default:"4"`
	MaxOpenPositions      int     `mapstructure:"max_open_positions" default:"5"`
	SignalCooldownMinutes int     `mapstructure:"signal_cooldown_minutes" default:"30"`
	MinVolumeRatio        float64 `mapstructure:"min_volume_ratio" default:"1.5"`
	TrendFilter           bool    `mapstructure:"trend_filter" default:"true"`
	EarningsFilter        bool    `mapstructure:"earnings_filter" default:"true"`

	MaxDrawdownPct        float64 `mapstructure:"max_drawdown_pct" default:"10" validate:"gte=0,lt=100"`
	MaxDailyLossPct       float64 `mapstructure:"max_daily_loss_pct" default:"5" validate:"gte=0,lt=100"`
	TrailingStop          bool    `mapstructure:"trailing_stop" default:"true"`
	TrailingActivationPct float64 `mapstructure:"trailing_activation_pct" default:"2" validate:"gte=0"`
	TrailingDistancePct   float64 `mapstructure:"trailing_distance_pct" default:"1" validate:"gt=0,lt=100"`
}

// Gate returns the limits consumed by the risk gate.
func (r RiskConfig) Gate() risk.Config {
	return risk.Config{
		MaxPositionSize:       r.MaxPositionSize,
		RiskPerTradePct:       r.RiskPerTradePct,
		StopLossPct:           r.StopLossPct,
		TakeProfitPct:         r.TakeProfitPct,
		MaxOpenPositions:      r.MaxOpenPositions,
		SignalCooldownMinutes: r.SignalCooldownMinutes,
		MinVolumeRatio:        r.MinVolumeRatio,
		TrendFilter:           r.TrendFilter,
		EarningsFilter:        r.EarningsFilter,
	}
}

// Guard returns the account circuit breaker limits.
func (r RiskConfig) Guard() risk.GuardConfig {
	return risk.GuardConfig{
		MaxDrawdownPct:  r.MaxDrawdownPct,
		MaxDailyLossPct: r.MaxDailyLossPct,
	}
}

// Trailing returns the trailing stop settings.
func (r RiskConfig) Trailing() risk.TrailingConfig {
	return risk.TrailingConfig{
		ActivationPct: r.TrailingActivationPct,
		DistancePct:   r.TrailingDistancePct,
		StopLossPct:   r.StopLossPct,
	}
}

// StrategyConfig tunes the three signal producers and the resolver.
type StrategyConfig struct {
	StrongSignalThreshold  float64 `mapstructure:"strong_signal_threshold" default:"0.85" validate:"gt=0,lte=1"`
	MomentumThreshold      float64 `mapstructure:"momentum_threshold" default:"0.45" validate:"gt=0,lte=1"`
	MeanReversionThreshold float64 `mapstructure:"mean_reversion_threshold" default:"0.38" validate:"gt=0,lte=1"`
	NewsThreshold          float64 `mapstructure:"news_threshold" default:"0.55" validate:"gt=0,lte=1"`
	SentimentThreshold     float64 `mapstructure:"sentiment_threshold" default:"0.3" validate:"gt=0,lte=1"`
	MinArticles            int     `mapstructure:"min_articles" default:"2" validate:"gte=1"`
	NewsLookbackHours      int     `mapstructure:"news_lookback_hours" default:"24" validate:"gte=1"`
	Timeframe              string  `mapstructure:"timeframe" default:"15Min" validate:"oneof=1Min 5Min 15Min 30Min 1Hour"`
	Bars                   int     `mapstructure:"bars" default:"200" validate:"gte=60"`
	DailyBars              int     `mapstructure:"daily_bars" default:"60" validate:"gte=30"`
}

// StrategyParams returns the producer thresholds. The momentum volume
// multiplier follows risk.min_volume_ratio.
func (c *Config) StrategyParams() strategy.Params {
	return strategy.Params{
		MomentumThreshold:      c.Strategy.MomentumThreshold,
		MeanReversionThreshold: c.Strategy.MeanReversionThreshold,
		NewsThreshold:          c.Strategy.NewsThreshold,
		SentimentThreshold:     c.Strategy.SentimentThreshold,
		MinArticles:            c.Strategy.MinArticles,
		VolumeMultiplier:       c.Risk.MinVolumeRatio,
	}
}

// NewsLookback returns how far back the news feed is queried.
func (s StrategyConfig) NewsLookback() time.Duration {
	return time.Duration(s.NewsLookbackHours) * time.Hour
}

// ScannerConfig controls the periodic scan loop.
type ScannerConfig struct {
	Watchlist        []string      `mapstructure:"watchlist" default:"[\"AAPL\",\"MSFT\",\"NVDA\",\"AMZN\",\"GOOGL\",\"META\",\"TSLA\",\"SPY\",\"QQQ\"]" validate:"min=1,dive,required"`
	IntervalMinutes  int           `mapstructure:"interval_minutes" default:"15" validate:"gte=1"`
	Workers          int           `mapstructure:"workers" default:"4" validate:"gte=1,lte=64"`
	ProducerTimeout  time.Duration `mapstructure:"producer_timeout" default:"30s" validate:"gt=0"`
	DailySummaryTime string        `mapstructure:"daily_summary_time" default:"16:05" validate:"datetime=15:04"`
	Timezone         string        `mapstructure:"timezone" default:"America/New_York" validate:"timezone"`
	DynamicTopN      int           `mapstructure:"dynamic_top_n" default:"15" validate:"gte=0,lte=50"`
	MoverUniverse    []string      `mapstructure:"mover_universe" default:"[\"AAPL\",\"MSFT\",\"GOOGL\",\"AMZN\",\"NVDA\",\"META\",\"TSLA\",\"AMD\",\"INTC\",\"ORCL\",\"JPM\",\"BAC\",\"GS\",\"WFC\",\"MS\",\"C\",\"V\",\"MA\",\"PYPL\",\"JNJ\",\"PFE\",\"ABBV\",\"MRK\",\"UNH\",\"CVS\",\"AMGN\",\"XOM\",\"CVX\",\"COP\",\"SLB\",\"OXY\",\"WMT\",\"TGT\",\"COST\",\"HD\",\"LOW\",\"GLD\",\"SLV\",\"USO\",\"UUP\",\"FXE\",\"SPY\",\"QQQ\",\"IWM\",\"DIA\",\"NFLX\",\"DIS\",\"CMCSA\",\"T\",\"VZ\",\"TMUS\"]" validate:"required_unless=DynamicTopN 0,dive,required"`
	MoverMaxPrice    float64       `mapstructure:"mover_max_price" default:"300" validate:"gt=0"`
}

// Interval returns the scan interval as a duration.
func (s ScannerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// StoreConfig holds the SQLite signal log location.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" default:"true"`
	Path    string `mapstructure:"path"`
}

// RedisConfig holds the shared cooldown ledger connection.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix" default:"ctrader:"`
}

// KafkaConfig holds the event publisher settings.
type KafkaConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Brokers        []string      `mapstructure:"brokers" default:"[\"localhost:9092\"]" validate:"required_if=Enabled true"`
	IntentTopic    string        `mapstructure:"intent_topic" default:"trade-intents"`
	DecisionTopic  string        `mapstructure:"decision_topic" default:"trade-decisions"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" default:"5s" validate:"gt=0"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled        bool           `mapstructure:"enabled" default:"true"`
	Terminal       bool           `mapstructure:"terminal" default:"true"`
	NotifyRejected bool           `mapstructure:"notify_rejected"`
	Webhook        WebhookConfig  `mapstructure:"webhook"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url" validate:"omitempty,url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// ServerConfig holds an HTTP listener.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" default:"info" validate:"oneof=debug info warn error"`
	Console    bool   `mapstructure:"console" default:"true"`
	File       bool   `mapstructure:"file" default:"true"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" default:"100" validate:"gte=1"`
	MaxBackups int    `mapstructure:"max_backups" default:"7" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" default:"30" validate:"gte=0"`
}

// Log converts to the logging package config.
func (l LoggingConfig) Log() logging.LogConfig {
	return logging.LogConfig{
		Level:      l.Level,
		Console:    l.Console,
		File:       l.File,
		FilePath:   l.FilePath,
		MaxSize:    l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAgeDays,
	}
}

// Credentials holds API credentials.
type Credentials struct {
	Alpaca AlpacaCredentials `mapstructure:"alpaca"`
}

// AlpacaCredentials holds Alpaca API credentials.
type AlpacaCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
}

var validate = validator.New()

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/consensus-trader"
	}
	return filepath.Join(home, ".config", "consensus-trader")
}

// Default returns a config populated only from struct defaults.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.fillPaths(DefaultConfigDir())
	cfg.API.Addr = ":8080"
	cfg.Metrics.Addr = ":9090"
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml or credentials.toml is replaced with a commented template.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env supplies secrets; both locations are optional.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	cfg := Default()

	if err := loadConfigFile(configDir, "config", configTemplate, 0644, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadConfigFile(configDir, "credentials", credentialsTemplate, 0600, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	cfg.fillPaths(configDir)

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadConfigFile(configDir, name, template string, perm os.FileMode, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		path, werr := writeTemplate(configDir, name, template, perm)
		if werr != nil {
			return werr
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	// Slices from the file replace the defaults instead of merging into them.
	return v.Unmarshal(target, func(dc *mapstructure.DecoderConfig) {
		dc.ZeroFields = true
	})
}

func (c *Config) fillPaths(configDir string) {
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(configDir, "trader.db")
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(configDir, "logs", "trader.log")
	}
}

func applyEnvOverrides(cfg *Config) {
	// Alpaca credentials
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Credentials.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_SECRET_KEY"); v != "" {
		cfg.Credentials.Alpaca.SecretKey = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}

	// Telegram
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
		cfg.Notifications.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}

	// Trading mode
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Broker.Mode = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
}

// Validate checks field constraints and the cross-field risk invariants.
// Every failure wraps errors.ErrConfigInvalid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewConfigError(fieldName(fe), fe.Value(), fmt.Sprintf("failed %q", fe.Tag()))
		}
		return errors.NewConfigError("config", nil, err.Error())
	}

	if err := c.Risk.Gate().Validate(); err != nil {
		return err
	}

	if c.Telegram() && (c.Notifications.Telegram.BotToken == "" || c.Notifications.Telegram.ChatID == "") {
		return errors.NewConfigError("notifications.telegram", nil, "bot_token and chat_id are required when enabled")
	}

	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return errors.NewConfigError("notifications.webhook.url", nil, "required when the webhook is enabled")
	}

	if c.IsLiveMode() && (c.Credentials.Alpaca.APIKey == "" || c.Credentials.Alpaca.SecretKey == "") {
		return errors.NewConfigError("credentials.alpaca", nil, "api_key and secret_key are required in live mode")
	}

	return nil
}

// fieldName turns "Config.Risk.MaxDrawdownPct" into "Risk.MaxDrawdownPct".
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Telegram reports whether Telegram delivery is switched on.
func (c *Config) Telegram() bool {
	return c.Notifications.Enabled && c.Notifications.Telegram.Enabled
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Broker.Mode == "paper"
}

// IsLiveMode returns true if orders go to the live broker.
func (c *Config) IsLiveMode() bool {
	return c.Broker.Mode == "live"
}
