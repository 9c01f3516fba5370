package app

import (
	"context"
	"errors"

	"signal-intel/internal/provider"
)

const defaultBackfillPasses = 20

// Backfill drains the pending validation backlog: it runs validation passes
// back to back until a pass resolves nothing new or MaxPasses is reached.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = defaultBackfillPasses
	}

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	resolved := 0
	for pass := 1; pass <= opts.MaxPasses; pass++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res := rt.service.Validate(ctx)
		if !res.Success {
			a.Logger.Error().Int("pass", pass).Str("error", res.Error).Msg("validation pass failed")
			return errors.New(res.Error)
		}
		resolved += res.WindowsResolved
		a.Logger.Info().Int("pass", pass).
			Int("examined", res.Examined).
			Int("windows_resolved", res.WindowsResolved).
			Msg("backfill pass complete")

		if res.WindowsResolved == 0 {
			break
		}
		if err := provider.SleepContext(ctx, opts.Pause); err != nil {
			return err
		}
	}

	a.Logger.Info().Int("windows_resolved", resolved).Msg("backfill complete")
	return nil
}
