package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signal-intel/internal/alerting"
	"signal-intel/internal/pipeline"
	"signal-intel/internal/storage"
)

// SimulateOptions describe a synthetic signal pushed through the alert path.
type SimulateOptions struct {
	Symbol     string
	Direction  string
	Confidence float64
	Narrative  string
}

// SimulateAlert pushes a synthetic signal through the alert path without
// storing it.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}
	if opts.Confidence <= 0 || opts.Confidence > 1 {
		return errors.New("--confidence must be within (0,1]")
	}

	symbol := pipeline.NormalizeSymbol(opts.Symbol)
	if symbol == "" {
		symbol = a.Config.Pipeline.DefaultInstrument
	}
	narrative := opts.Narrative
	if narrative == "" {
		narrative = fmt.Sprintf("Simulated %s signal on %s", opts.Direction, symbol)
	}

	now := time.Now().UTC()
	sig := storage.Signal{
		ID:               uuid.NewString(),
		InstrumentID:     symbol,
		Type:             storage.SignalStandard,
		Category:         storage.CategoryEvent,
		Direction:        storage.Direction(opts.Direction),
		Confidence:       opts.Confidence,
		Narrative:        narrative,
		ValidationStatus: storage.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// min confidence 0: a simulation always fires
	dispatcher := alerting.NewDispatcher(a.newNotifier(), nil, 0, a.Config.Alerting.Channels, a.Logger)
	if sent := dispatcher.Dispatch(ctx, []storage.Signal{sig}, map[string]string{symbol: symbol}); sent == 0 {
		return errors.New("alert was not delivered, check the logs")
	}
	a.Logger.Info().Str("signal_id", sig.ID).Str("instrument", symbol).Msg("simulated alert dispatched")
	return nil
}
