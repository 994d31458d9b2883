package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"consensus-trader/internal/config"
	"consensus-trader/pkg/utils"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View, validate and initialize the application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load already validated; reaching here means the files are valid.
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write config.toml and credentials.toml templates",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			written, err := config.InitTemplates(dir, force)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string][]string{"written": written})
			}
			for _, path := range written {
				output.Success("Wrote %s", path)
			}
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	cmd.AddCommand(initCmd)

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Broker")
	output.Printf("  Mode:              %s\n", cfg.Broker.Mode)
	output.Printf("  Base URL:          %s\n", cfg.Broker.BaseURL)
	if cfg.IsPaperMode() {
		output.Printf("  Paper equity:      %s\n", utils.FormatUSD(cfg.Broker.PaperEquity))
	}
	output.Println()

	output.Bold("Risk")
	output.Printf("  Max position:      %s\n", utils.FormatUSD(cfg.Risk.MaxPositionSize))
	output.Printf("  Risk per trade:    %.1f%%\n", cfg.Risk.RiskPerTradePct)
	output.Printf("  Stop / target:     %.1f%% / %.1f%%\n", cfg.Risk.StopLossPct, cfg.Risk.TakeProfitPct)
	output.Printf("  Max positions:     %d\n", cfg.Risk.MaxOpenPositions)
	output.Printf("  Signal cooldown:   %d min\n", cfg.Risk.SignalCooldownMinutes)
	output.Printf("  Trend filter:      %v\n", cfg.Risk.TrendFilter)
	output.Printf("  Earnings filter:   %v\n", cfg.Risk.EarningsFilter)
	output.Printf("  Drawdown halt:     %.1f%%\n", cfg.Risk.MaxDrawdownPct)
	output.Printf("  Daily loss halt:   %.1f%%\n", cfg.Risk.MaxDailyLossPct)
	output.Println()

	output.Bold("Strategies")
	output.Printf("  Momentum:          %.2f\n", cfg.Strategy.MomentumThreshold)
	output.Printf("  Mean reversion:    %.2f\n", cfg.Strategy.MeanReversionThreshold)
	output.Printf("  News sentiment:    %.2f\n", cfg.Strategy.NewsThreshold)
	output.Printf("  Strong signal:     %.2f\n", cfg.Strategy.StrongSignalThreshold)
	output.Printf("  Bars:              %d x %s\n", cfg.Strategy.Bars, cfg.Strategy.Timeframe)
	output.Println()

	output.Bold("Scanner")
	output.Printf("  Watchlist:         %s\n", strings.Join(cfg.Scanner.Watchlist, ", "))
	output.Printf("  Interval:          %s\n", cfg.Scanner.Interval())
	output.Printf("  Workers:           %d\n", cfg.Scanner.Workers)
	output.Printf("  Daily summary:     %s %s\n", cfg.Scanner.DailySummaryTime, cfg.Scanner.Timezone)
	output.Println()

	output.Bold("Integrations")
	output.Printf("  Signal store:      %v (%s)\n", cfg.Store.Enabled, cfg.Store.Path)
	output.Printf("  Redis cooldowns:   %v\n", cfg.Redis.Enabled)
	output.Printf("  Kafka publisher:   %v\n", cfg.Kafka.Enabled)
	output.Printf("  HTTP API:          %v %s\n", cfg.API.Enabled, cfg.API.Addr)
	output.Printf("  Metrics:           %v %s\n", cfg.Metrics.Enabled, cfg.Metrics.Addr)
	output.Printf("  Telegram:          %v\n", cfg.Telegram())
	output.Printf("  Webhook:           %v\n", cfg.Notifications.Webhook.Enabled)
}
