package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/risk"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoadCreatesTemplates(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, name := range []string{"config.toml", "credentials.toml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	if err == nil && info.Mode().Perm() != 0600 {
		t.Errorf("credentials perm = %v, want 0600", info.Mode().Perm())
	}

	if got := cfg.Risk.Gate(); got != risk.DefaultConfig() {
		t.Errorf("risk = %+v, want %+v", got, risk.DefaultConfig())
	}
	if cfg.Broker.Mode != "paper" || cfg.Broker.Timeout != 10*time.Second {
		t.Errorf("broker = %+v", cfg.Broker)
	}
	if cfg.Scanner.Interval() != 15*time.Minute || len(cfg.Scanner.Watchlist) != 9 {
		t.Errorf("scanner = %+v", cfg.Scanner)
	}
	if cfg.Store.Path != filepath.Join(dir, "trader.db") {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
}

func TestTemplateMatchesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	def := Default()
	def.fillPaths(dir)
	if !reflect.DeepEqual(cfg.Strategy, def.Strategy) {
		t.Errorf("strategy template %+v != defaults %+v", cfg.Strategy, def.Strategy)
	}
	if !reflect.DeepEqual(cfg.Risk, def.Risk) {
		t.Errorf("risk template %+v != defaults %+v", cfg.Risk, def.Risk)
	}
	if !reflect.DeepEqual(cfg.Scanner, def.Scanner) {
		t.Errorf("scanner template %+v != defaults %+v", cfg.Scanner, def.Scanner)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", `
[risk]
stop_loss_pct = 1.5
take_profit_pct = 4.5
trend_filter = false

[scanner]
watchlist = ["IWM", "DIA"]
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Risk.StopLossPct != 1.5 || cfg.Risk.TakeProfitPct != 4.5 {
		t.Errorf("risk = %+v", cfg.Risk)
	}
	if cfg.Risk.TrendFilter {
		t.Error("explicit false replaced by default")
	}
	if !cfg.Risk.EarningsFilter {
		t.Error("missing key lost its default")
	}
	if !reflect.DeepEqual(cfg.Scanner.Watchlist, []string{"IWM", "DIA"}) {
		t.Errorf("watchlist = %v, want [IWM DIA]", cfg.Scanner.Watchlist)
	}
	if cfg.Scanner.Workers != 4 {
		t.Errorf("workers = %d, want default 4", cfg.Scanner.Workers)
	}
}

func TestLoadRejectsUnsafeRewardRisk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", `
[risk]
stop_loss_pct = 3.0
take_profit_pct = 4.0
`)

	_, err := Load(dir)
	if !errors.Is(err, errors.ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid", err)
	}
	var ce *errors.ConfigError
	if !errors.As(err, &ce) || ce.Field != "take_profit_pct" {
		t.Errorf("err = %v, want take_profit_pct ConfigError", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err != nil {
		t.Fatalf("first Load: %v", err)
	}

	t.Setenv("CTRADER_RISK_MAX_OPEN_POSITIONS", "8")
	t.Setenv("ALPACA_API_KEY", "key-from-env")
	t.Setenv("ALPACA_SECRET_KEY", "secret-from-env")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Risk.MaxOpenPositions != 8 {
		t.Errorf("max_open_positions = %d, want 8", cfg.Risk.MaxOpenPositions)
	}
	if cfg.Credentials.Alpaca.APIKey != "key-from-env" || cfg.Credentials.Alpaca.SecretKey != "secret-from-env" {
		t.Errorf("credentials = %+v", cfg.Credentials.Alpaca)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad mode", func(c *Config) { c.Broker.Mode = "margin" }, true},
		{"live without keys", func(c *Config) { c.Broker.Mode = "live" }, true},
		{"live with keys", func(c *Config) {
			c.Broker.Mode = "live"
			c.Credentials.Alpaca = AlpacaCredentials{APIKey: "k", SecretKey: "s"}
		}, false},
		{"zero stop loss", func(c *Config) { c.Risk.StopLossPct = 0 }, true},
		{"empty watchlist", func(c *Config) { c.Scanner.Watchlist = nil }, true},
		{"bad summary time", func(c *Config) { c.Scanner.DailySummaryTime = "4pm" }, true},
		{"bad timezone", func(c *Config) { c.Scanner.Timezone = "Mars/Olympus" }, true},
		{"too many movers", func(c *Config) { c.Scanner.DynamicTopN = 51 }, true},
		{"movers without universe", func(c *Config) { c.Scanner.MoverUniverse = nil }, true},
		{"static watchlist only", func(c *Config) {
			c.Scanner.DynamicTopN = 0
			c.Scanner.MoverUniverse = nil
		}, false},
		{"take profit at 100", func(c *Config) { c.Risk.TakeProfitPct = 100 }, true},
		{"telegram without token", func(c *Config) { c.Notifications.Telegram.Enabled = true }, true},
		{"webhook without url", func(c *Config) { c.Notifications.Webhook.Enabled = true }, true},
		{"strong threshold above one", func(c *Config) { c.Strategy.StrongSignalThreshold = 1.2 }, true},
		{"kafka without brokers", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = nil
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, errors.ErrConfigInvalid) {
					t.Fatalf("err = %v, want ErrConfigInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestInitTemplatesForce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", "# edited\n")

	if _, err := InitTemplates(dir, false); err != nil {
		t.Fatalf("InitTemplates: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "config.toml"))
	if string(b) != "# edited\n" {
		t.Error("existing config overwritten without force")
	}

	paths, err := InitTemplates(dir, true)
	if err != nil {
		t.Fatalf("InitTemplates force: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("paths = %v", paths)
	}
	b, _ = os.ReadFile(filepath.Join(dir, "config.toml"))
	if string(b) != configTemplate {
		t.Error("force did not rewrite the template")
	}
}
