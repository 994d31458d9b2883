package engine

import (
	"context"
	"strconv"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/store"
)

// statePaused is the engine_state key of the scanner pause switch.
const statePaused = "scanner.paused"

// Pause stops the scanner from starting new cycles. Manual scans and dry
// evaluations still run. The switch is persisted when a store is configured,
// so it reaches a scanner running in another process and survives restarts.
func (e *Engine) Pause(ctx context.Context) error {
	return e.setPaused(ctx, true)
}

// Resume lets the scanner start cycles again.
func (e *Engine) Resume(ctx context.Context) error {
	return e.setPaused(ctx, false)
}

func (e *Engine) setPaused(ctx context.Context, paused bool) error {
	e.paused.Store(paused)
	if e.store != nil {
		if err := SetPaused(ctx, e.store, paused); err != nil {
			return err
		}
	}
	e.logger.Info().Bool("paused", paused).Msg("Scanner pause switch changed")
	return nil
}

// SetPaused writes the pause switch to st, where the scanner of any engine
// sharing st picks it up on its next tick.
func SetPaused(ctx context.Context, st store.StateStore, paused bool) error {
	if err := st.SaveState(ctx, statePaused, strconv.FormatBool(paused)); err != nil {
		return errors.Wrap(err, "persist pause switch")
	}
	return nil
}

// Paused reports whether the scanner is paused. The persisted switch wins
// over the in-memory one; a store read failure keeps the last known value.
func (e *Engine) Paused(ctx context.Context) bool {
	if e.store == nil {
		return e.paused.Load()
	}
	v, err := e.store.LoadState(ctx, statePaused)
	switch {
	case errors.Is(err, errors.ErrNotFound):
	case err != nil:
		e.logger.Warn().Err(err).Msg("Failed to read pause switch")
	default:
		if paused, perr := strconv.ParseBool(v); perr == nil {
			e.paused.Store(paused)
		}
	}
	return e.paused.Load()
}
