package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"consensus-trader/internal/api"
	"consensus-trader/internal/engine"
	"consensus-trader/internal/metrics"
	"consensus-trader/internal/models"
	"consensus-trader/internal/notify"
	"consensus-trader/internal/store"
	"consensus-trader/pkg/utils"
)

func newRunCmd(app *App) *cobra.Command {
	var allHours bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scanner until interrupted",
		Long: `Run scans the watchlist every scanner.interval_minutes while the market is
open, dispatches approved intents and sends a daily summary. The HTTP API and
the Prometheus endpoint start when enabled in config.toml.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := app.BuildEngine(ctx)
			if err != nil {
				return err
			}
			cfg := app.Config
			logger := app.Logger

			if cfg.API.Enabled {
				var st store.Store
				if app.Store != nil {
					st = app.Store
				}
				srv := api.NewServer(cfg.API, eng, st, logger)
				srv.Start()
				defer shutdown(func(ctx context.Context) error { return srv.Stop(ctx) })
			}
			if cfg.Metrics.Enabled && cfg.Metrics.Addr != cfg.API.Addr {
				ms := metrics.Serve(cfg.Metrics.Addr)
				logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics listening")
				defer shutdown(ms.Shutdown)
			}

			var equity float64
			if acct, err := app.Broker.GetAccount(ctx); err != nil {
				logger.Warn().Err(err).Msg("Failed to read account at startup")
			} else {
				equity = acct.Equity
			}
			if err := app.Notifier.SendStartup(ctx, notify.Startup{
				Mode:         app.Mode(),
				Watchlist:    cfg.Scanner.Watchlist,
				Interval:     cfg.Scanner.Interval(),
				RiskPct:      cfg.Risk.RiskPerTradePct,
				MaxPositions: cfg.Risk.MaxOpenPositions,
				Equity:       equity,
			}); err != nil {
				logger.Warn().Err(err).Msg("Failed to send startup notification")
			}

			scanner := engine.NewScanner(eng, cfg.Scanner, logger)
			scanner.MarketHoursOnly = !allHours
			logger.Info().
				Str("mode", app.Mode()).
				Strs("watchlist", cfg.Scanner.Watchlist).
				Dur("interval", cfg.Scanner.Interval()).
				Msg("Scanner started")
			return scanner.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&allHours, "all-hours", false, "scan while the market is closed")
	return cmd
}

// shutdown gives a listener a few seconds to drain.
func shutdown(stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil && err != http.ErrServerClosed {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
	}
}

func newScanCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [SYMBOL...]",
		Short: "Run one scan cycle",
		Long: `Scan runs a single cycle over the given symbols, or the configured watchlist,
and dispatches approved intents exactly as 'run' would. It evaluates even
while the market is closed; the risk gate then rejects every signal with
MARKET_CLOSED.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.BuildEngine(cmd.Context())
			if err != nil {
				return err
			}

			symbols := app.Config.Scanner.Watchlist
			if len(args) > 0 {
				symbols = upper(args)
			}
			report, err := eng.RunCycle(cmd.Context(), symbols)
			if report == nil {
				return err
			}
			if output.IsJSON() {
				if jerr := output.JSON(report); jerr != nil {
					return jerr
				}
				return err
			}
			printCycle(output, report)
			return err
		},
	}
}

func printCycle(output *Output, r *engine.CycleReport) {
	market := output.Red("closed")
	if r.MarketOpen {
		market = output.Green("open")
	}
	output.Bold("Cycle #%d", r.Cycle)
	output.Printf("  Market:     %s\n", market)
	output.Printf("  Checked:    %d in %s\n", r.Checked, r.Duration.Round(time.Millisecond))
	output.Printf("  Equity:     %s (day %s)\n", utils.FormatUSD(r.Equity), output.PnL(r.DayPnL, utils.FormatPnL(r.DayPnL)))
	if r.Guard != nil && r.Guard.Halted {
		output.Warning("  Entries halted: %s", r.Guard.Reason)
	}
	output.Println()

	if len(r.Intents) > 0 {
		output.Bold("Intents")
		rows := make([][]string, 0, len(r.Intents))
		for _, in := range r.Intents {
			rows = append(rows, []string{
				in.Symbol,
				string(in.Direction),
				fmt.Sprintf("%d", in.Quantity),
				fmt.Sprintf("%.2f", in.EntryPrice),
				fmt.Sprintf("%.2f", in.StopLossPrice),
				fmt.Sprintf("%.2f", in.TakeProfitPrice),
				fmt.Sprintf("%.0f%%", in.Confidence*100),
				fmt.Sprintf("%d/3", in.AgreeCount),
			})
		}
		output.Table([]string{"SYMBOL", "SIDE", "QTY", "ENTRY", "STOP", "TARGET", "CONF", "VOTES"}, rows)
		output.Println()
	}

	if len(r.Suppressed) > 0 {
		output.Bold("Suppressed")
		rows := make([][]string, 0, len(r.Suppressed))
		for _, s := range r.Suppressed {
			rows = append(rows, []string{s.Symbol, string(s.Direction), string(s.Reason), utils.Truncate(s.Detail, 60)})
		}
		output.Table([]string{"SYMBOL", "SIDE", "REASON", "DETAIL"}, rows)
		output.Println()
	}

	for _, ex := range r.Exits {
		output.Info("Exit %s at %.2f (%s)", ex.Symbol, ex.Price, ex.Reason)
	}
	if len(r.Skipped) > 0 {
		output.Dim("Skipped (busy): %s", strings.Join(r.Skipped, ", "))
	}
	for sym, reason := range r.Failed {
		output.Error("%s failed: %s", sym, reason)
	}
	if len(r.Intents) == 0 && len(r.Suppressed) == 0 {
		output.Dim("No actionable signals.")
	}
}

func newEvaluateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate SYMBOL...",
		Short: "Dry-run the strategies, consensus and risk gate",
		Long: `Evaluate shows what each strategy votes, the consensus and the risk verdict
for the given symbols. Nothing is persisted or dispatched and no cooldown
starts.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.BuildEngine(cmd.Context())
			if err != nil {
				return err
			}

			evals := make([]*engine.Evaluation, 0, len(args))
			for _, sym := range upper(args) {
				ev, err := eng.Evaluate(cmd.Context(), sym)
				if err != nil {
					if output.IsJSON() {
						return err
					}
					output.Error("%s: %v", sym, err)
					continue
				}
				evals = append(evals, ev)
			}
			if output.IsJSON() {
				return output.JSON(evals)
			}
			for _, ev := range evals {
				printEvaluation(output, ev)
			}
			return nil
		},
	}
}

func printEvaluation(output *Output, ev *engine.Evaluation) {
	d := ev.Decision
	output.Bold("%s  %s  %d/3 agree  confidence %.0f%%  price %.2f",
		ev.Symbol, output.Direction(d.Direction), d.AgreeCount, d.Confidence*100, d.Price)

	rows := make([][]string, 0, len(ev.Signals))
	for _, s := range ev.Signals {
		rows = append(rows, []string{
			string(s.StrategyID),
			string(s.Direction),
			fmt.Sprintf("%.2f", s.Strength),
			utils.Truncate(strings.Join(s.Evidence, "; "), 70),
		})
	}
	output.Table([]string{"STRATEGY", "VOTE", "STRENGTH", "EVIDENCE"}, rows)

	switch {
	case ev.Outcome.Intent != nil:
		in := ev.Outcome.Intent
		output.Success("APPROVED %s %d @ %.2f  stop %.2f  target %.2f  (%s)",
			in.Direction, in.Quantity, in.EntryPrice, in.StopLossPrice, in.TakeProfitPrice, utils.FormatUSD(in.PositionSize))
	case ev.Outcome.Suppressed != nil:
		s := ev.Outcome.Suppressed
		output.Warning("SUPPRESSED %s: %s", s.Reason, s.Detail)
	case d.Direction == models.Hold:
		output.Dim("HOLD: no consensus")
	}
	output.Println()
}

func upper(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
