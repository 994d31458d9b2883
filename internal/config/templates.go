package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Consensus Trader Configuration
# Every key can be overridden with CTRADER_<SECTION>_<KEY>, e.g. CTRADER_RISK_STOP_LOSS_PCT.

[broker]
# "paper" simulates fills locally, "live" sends bracket orders to Alpaca
mode = "paper"
# Alpaca trading endpoint (paper-api for the Alpaca paper account)
base_url = "https://paper-api.alpaca.markets"
data_url = "https://data.alpaca.markets"
timeout = "10s"
max_retries = 3
# Consecutive failed calls that open the circuit, and how long it stays open
breaker_failures = 5
breaker_cooldown = "30s"
# Starting equity for the local paper broker
paper_equity = 100000.0

[risk]
# Dollar ceiling per position
max_position_size = 1000.0
# Percent of equity lost when a stop-loss is hit
risk_per_trade_pct = 2.0
stop_loss_pct = 2.0
# Must be at least 2 x stop_loss_pct
take_profit_pct = 4.0
max_open_positions = 5
# Minimum minutes between two approved signals for one symbol
signal_cooldown_minutes = 30
# Volume confirmation multiple of the 20-bar average
min_volume_ratio = 1.5
# Block BUYs against a bearish daily trend
trend_filter = true
# Block BUYs while earnings news is in the window
earnings_filter = true
# Halt new entries on drawdown from peak (latches until resumed)
max_drawdown_pct = 10.0
# Halt new entries for the day on this intraday loss
max_daily_loss_pct = 5.0
trailing_stop = true
trailing_activation_pct = 2.0
trailing_distance_pct = 1.0

[strategy]
# A single signal at or above this strength decides when no majority exists
strong_signal_threshold = 0.85
momentum_threshold = 0.45
mean_reversion_threshold = 0.38
news_threshold = 0.55
sentiment_threshold = 0.3
min_articles = 2
news_lookback_hours = 24
# Bar size: 1Min, 5Min, 15Min, 30Min, 1Hour
timeframe = "15Min"
bars = 200
daily_bars = 60

[scanner]
watchlist = ["AAPL", "MSFT", "NVDA", "AMZN", "GOOGL", "META", "TSLA", "SPY", "QQQ"]
interval_minutes = 15
# Symbols evaluated in parallel
workers = 4
producer_timeout = "30s"
# Daily portfolio summary (local exchange time)
daily_summary_time = "16:05"
timezone = "America/New_York"
# Merge the top N movers of mover_universe into the watchlist each scan (0 = off)
dynamic_top_n = 15
# Movers above this price buy too few shares to be worth scanning
mover_max_price = 300.0
mover_universe = [
    "AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA", "AMD", "INTC", "ORCL",
    "JPM", "BAC", "GS", "WFC", "MS", "C", "V", "MA", "PYPL", "JNJ",
    "PFE", "ABBV", "MRK", "UNH", "CVS", "AMGN", "XOM", "CVX", "COP", "SLB",
    "OXY", "WMT", "TGT", "COST", "HD", "LOW", "GLD", "SLV", "USO", "UUP",
    "FXE", "SPY", "QQQ", "IWM", "DIA", "NFLX", "DIS", "CMCSA", "T", "VZ",
    "TMUS",
]

[store]
enabled = true
# Defaults to trader.db next to this file
path = ""

[redis]
# Shares cooldowns between instances
enabled = false
addr = "localhost:6379"
password = ""
db = 0
prefix = "ctrader:"

[kafka]
enabled = false
brokers = ["localhost:9092"]
intent_topic = "trade-intents"
decision_topic = "trade-decisions"
publish_timeout = "5s"

[notifications]
enabled = true
terminal = true
# Also notify suppressed signals
notify_rejected = false

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[api]
enabled = false
addr = ":8080"

[metrics]
enabled = false
addr = ":9090"

[logging]
# debug, info, warn, error
level = "info"
console = true
file = true
# Defaults to logs/trader.log next to this file
file_path = ""
max_size_mb = 100
max_backups = 7
max_age_days = 30
`

const credentialsTemplate = `# Consensus Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.
# ALPACA_API_KEY / ALPACA_SECRET_KEY in the environment or .env take precedence.

[alpaca]
api_key = ""
secret_key = ""
`

// writeTemplate writes a commented template for name unless one exists.
func writeTemplate(configDir, name, template string, perm os.FileMode) (string, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, []byte(template), perm); err != nil {
		return "", fmt.Errorf("writing %s template: %w", name, err)
	}

	return path, nil
}

// InitTemplates writes config.toml and credentials.toml into configDir. With
// force, existing files are replaced.
func InitTemplates(configDir string, force bool) ([]string, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	files := []struct {
		name     string
		template string
		perm     os.FileMode
	}{
		{"config", configTemplate, 0644},
		{"credentials", credentialsTemplate, 0600},
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(configDir, f.name+".toml")
		if force {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return written, fmt.Errorf("removing %s: %w", path, err)
			}
		}
		if _, err := writeTemplate(configDir, f.name, f.template, f.perm); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
