package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"consensus-trader/internal/models"
	"consensus-trader/internal/performance"
	"consensus-trader/internal/store"
	"consensus-trader/pkg/utils"
)

func newSignalsCmd(app *App) *cobra.Command {
	var (
		symbol    string
		direction string
		actedOnly bool
		days      int
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Show the signal log",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.requireStore()
			if err != nil {
				return err
			}

			filter := store.SignalFilter{
				Symbol:    strings.ToUpper(symbol),
				Direction: models.Direction(strings.ToUpper(direction)),
				Limit:     limit,
			}
			if actedOnly {
				acted := true
				filter.Acted = &acted
			}
			if days > 0 {
				filter.StartDate = time.Now().AddDate(0, 0, -days)
			}

			signals, err := st.GetSignals(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(signals)
			}
			if len(signals) == 0 {
				output.Dim("No signals logged.")
				return nil
			}

			rows := make([][]string, 0, len(signals))
			for _, s := range signals {
				acted := "-"
				if s.Acted {
					acted = "yes"
				}
				rows = append(rows, []string{
					s.Timestamp.In(utils.NewYork).Format("01-02 15:04"),
					s.Symbol,
					string(s.Direction),
					fmt.Sprintf("%.0f%%", s.Confidence*100),
					fmt.Sprintf("%d/3", s.Consensus),
					acted,
					utils.Truncate(s.Reason, 60),
				})
			}
			output.Table([]string{"TIME (ET)", "SYMBOL", "SIDE", "CONF", "VOTES", "ACTED", "REASON"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "filter by symbol")
	cmd.Flags().StringVar(&direction, "direction", "", "filter by direction (BUY, SELL)")
	cmd.Flags().BoolVar(&actedOnly, "acted", false, "only signals that produced an order")
	cmd.Flags().IntVar(&days, "days", 0, "only the last N days")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")
	return cmd
}

func newDecisionsCmd(app *App) *cobra.Command {
	var (
		symbol   string
		rejected bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show consensus decisions with their risk verdicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.requireStore()
			if err != nil {
				return err
			}

			filter := store.DecisionFilter{Symbol: strings.ToUpper(symbol), Limit: limit}
			if rejected {
				approved := false
				filter.Approved = &approved
			}
			records, err := st.GetDecisions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Dim("No decisions recorded.")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, r := range records {
				verdict := "approved"
				if !r.Assessment.Approved {
					verdict = string(r.Assessment.Reason)
				}
				rows = append(rows, []string{
					r.Timestamp.In(utils.NewYork).Format("01-02 15:04"),
					r.Symbol,
					string(r.Decision.Direction),
					fmt.Sprintf("%d/3", r.Decision.AgreeCount),
					fmt.Sprintf("%.0f%%", r.Decision.Confidence*100),
					verdict,
				})
			}
			output.Table([]string{"TIME (ET)", "SYMBOL", "SIDE", "VOTES", "CONF", "VERDICT"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "filter by symbol")
	cmd.Flags().BoolVar(&rejected, "rejected", false, "only rejected decisions")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")
	return cmd
}

func newPerformanceCmd(app *App) *cobra.Command {
	var (
		symbol string
		days   int
	)

	cmd := &cobra.Command{
		Use:   "performance",
		Short: "Summarize closed trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.requireStore()
			if err != nil {
				return err
			}

			since := time.Now().AddDate(0, 0, -days)
			trades, err := st.GetTrades(cmd.Context(), store.TradeFilter{
				Symbol:    strings.ToUpper(symbol),
				StartDate: since,
			})
			if err != nil {
				return err
			}
			stats := performance.Summarize(trades)
			bySymbol := performance.BySymbol(trades)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"since":     since,
					"stats":     stats,
					"by_symbol": bySymbol,
				})
			}

			output.Bold("Performance since %s", since.Format("2006-01-02"))
			output.Printf("  Trades:        %d closed, %d open\n", stats.TotalTrades, stats.OpenTrades)
			output.Printf("  Win rate:      %.1f%% (%d W / %d L)\n", stats.WinRate, stats.Wins, stats.Losses)
			output.Printf("  Avg win/loss:  %s / %s\n", utils.FormatUSD(stats.AvgWin), utils.FormatUSD(stats.AvgLoss))
			output.Printf("  Profit factor: %.2f\n", stats.ProfitFactor)
			output.Printf("  Total P&L:     %s\n", output.PnL(stats.TotalPnL, utils.FormatPnL(stats.TotalPnL)))
			if stats.BestTrade != nil {
				output.Printf("  Best:          %s %s\n", stats.BestTrade.Symbol, utils.FormatPnL(stats.BestTrade.PnL))
			}
			if stats.WorstTrade != nil {
				output.Printf("  Worst:         %s %s\n", stats.WorstTrade.Symbol, utils.FormatPnL(stats.WorstTrade.PnL))
			}

			if len(bySymbol) > 0 {
				output.Println()
				rows := make([][]string, 0, len(bySymbol))
				for _, s := range bySymbol {
					rows = append(rows, []string{s.Symbol, fmt.Sprintf("%d", s.Trades), utils.FormatPnL(s.PnL)})
				}
				output.Table([]string{"SYMBOL", "TRADES", "P&L"}, rows)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "filter by symbol")
	cmd.Flags().IntVar(&days, "days", 30, "look back N days")
	return cmd
}
