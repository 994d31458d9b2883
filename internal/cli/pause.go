package cli

import (
	"github.com/spf13/cobra"

	"consensus-trader/internal/engine"
)

func newPauseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the scanner",
		Long: `Stop the running scanner from starting new cycles. The switch is kept in the
signal store, so it reaches a "run" process using the same store and survives
restarts. Open positions keep their bracket orders.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPaused(cmd, app, true)
		},
	}
}

func newResumeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPaused(cmd, app, false)
		},
	}
}

func setPaused(cmd *cobra.Command, app *App, paused bool) error {
	st, err := app.requireStore()
	if err != nil {
		return err
	}
	if err := engine.SetPaused(cmd.Context(), st, paused); err != nil {
		return err
	}

	output := NewOutput(cmd)
	if output.IsJSON() {
		return output.JSON(map[string]bool{"paused": paused})
	}
	if paused {
		output.Success("Scanner paused; it skips cycles from its next tick")
	} else {
		output.Success("Scanner resumed")
	}
	return nil
}
