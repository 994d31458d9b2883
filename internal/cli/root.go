package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"consensus-trader/internal/config"
	"consensus-trader/internal/logging"
)

// Version information
var (
	Version   = "0.3.0"
	BuildDate = "unknown"
)

// skipConfig marks commands that run without loading config.toml.
const skipConfig = "skip-config"

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Consensus Trader - multi-strategy signal engine with risk-gated execution",
		Long: `Consensus Trader evaluates a watchlist with three independent strategies
(momentum, mean reversion, news sentiment), takes a majority vote and sends
approved signals through a risk gate before placing bracket orders on Alpaca.

Paper mode simulates fills locally. Use 'trader config init' to write the
configuration templates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return app.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/consensus-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(app),
		newRunCmd(app),
		newScanCmd(app),
		newEvaluateCmd(app),
		newSignalsCmd(app),
		newDecisionsCmd(app),
		newPerformanceCmd(app),
		newPauseCmd(app),
		newResumeCmd(app),
	)

	return rootCmd
}

// load reads the configuration and sets up logging.
func (a *App) load(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.ConfigDir = dir
	if a.ConfigDir == "" {
		a.ConfigDir = config.DefaultConfigDir()
	}

	logCfg := cfg.Logging.Log()
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		// Keep stdout parseable.
		logCfg.Console = false
	}
	a.Logger = logging.NewLoggerWithConfig(logCfg)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Consensus Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}
