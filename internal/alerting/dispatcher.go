package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signal-intel/internal/storage"
)

// Dispatcher pushes high-confidence signals through a notifier and keeps
// an audit record of every attempt.
type Dispatcher struct {
	notifier      Notifier
	store         storage.AlertStore
	minConfidence float64
	channels      []string
	logger        zerolog.Logger
	now           func() time.Time
}

func NewDispatcher(notifier Notifier, store storage.AlertStore, minConfidence float64, channels []string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier:      notifier,
		store:         store,
		minConfidence: minConfidence,
		channels:      channels,
		logger:        logger.With().Str("component", "alert_dispatcher").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch alerts on every signal at or above the confidence bar and returns
// how many were delivered. Delivery failures are logged and recorded, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, signals []storage.Signal, symbols map[string]string) int {
	if d == nil || d.notifier == nil {
		return 0
	}
	sent := 0
	for _, sig := range signals {
		if sig.Confidence < d.minConfidence {
			continue
		}
		note := Notification{
			SignalID:     sig.ID,
			Instrument:   symbols[sig.InstrumentID],
			SignalType:   string(sig.Type),
			Direction:    string(sig.Direction),
			Confidence:   sig.Confidence,
			Narrative:    sig.Narrative,
			Insight:      sig.Insight,
			Keywords:     sig.Keywords,
			Corroborated: sig.Corroborated,
			CreatedAt:    sig.CreatedAt,
			Channels:     d.channels,
		}
		err := d.notifier.Notify(ctx, note)
		if err != nil {
			d.logger.Error().Err(err).Str("signal_id", sig.ID).Msg("failed to dispatch alert")
		} else {
			sent++
		}
		d.record(ctx, sig.ID, err == nil)
	}
	return sent
}

func (d *Dispatcher) record(ctx context.Context, signalID string, delivered bool) {
	if d.store == nil {
		return
	}
	channel := "log"
	if len(d.channels) > 0 {
		channel = d.channels[0]
	}
	record := storage.AlertRecord{
		SignalID:  signalID,
		Channel:   channel,
		Delivered: delivered,
		SentAt:    d.now(),
	}
	if _, err := d.store.InsertAlert(ctx, record); err != nil {
		d.logger.Error().Err(err).Str("signal_id", signalID).Msg("failed to persist alert record")
	}
}
