package validation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"signal-intel/internal/marketdata"
	"signal-intel/internal/metrics"
	"signal-intel/internal/storage"
)

// ErrPassInProgress is returned when a pass is already running in this process.
var ErrPassInProgress = errors.New("validation: pass already in progress")

// Store is the persistence surface a validation pass needs.
type Store interface {
	storage.SignalStore
	storage.OutcomeStore
	storage.InstrumentStore
}

// OutcomeRecorder receives one resolved status per signal per pass.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, sourceIDs []string, outcome storage.ValidationStatus) ([]storage.SourceCredibility, error)
}

// Options tune a validation pass. Thresholds are percent moves.
type Options struct {
	BatchSize               int
	Threshold               decimal.Decimal
	HighVolatilityThreshold decimal.Decimal
	HighVolatilitySymbols   []string
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if !o.Threshold.IsPositive() {
		o.Threshold = decimal.RequireFromString("0.4")
	}
	if !o.HighVolatilityThreshold.IsPositive() {
		o.HighVolatilityThreshold = decimal.RequireFromString("0.7")
	}
	return o
}

// PassResult summarises one validation pass.
type PassResult struct {
	Examined        int
	Validated       int
	WindowsResolved int
	WindowsPending  int
	Outcomes        []storage.ValidationOutcome
}

// Engine resolves due validation windows of pending signals.
type Engine struct {
	store       Store
	moves       marketdata.MoveProvider
	credibility OutcomeRecorder
	opts        Options
	highVol     map[string]struct{}
	metrics     *metrics.Registry
	logger      zerolog.Logger
	now         func() time.Time

	passMu sync.Mutex
}

func NewEngine(store Store, moves marketdata.MoveProvider, credibility OutcomeRecorder, opts Options, reg *metrics.Registry, logger zerolog.Logger) *Engine {
	opts = opts.withDefaults()
	highVol := make(map[string]struct{}, len(opts.HighVolatilitySymbols))
	for _, sym := range opts.HighVolatilitySymbols {
		highVol[strings.ToUpper(strings.TrimSpace(sym))] = struct{}{}
	}
	if moves == nil {
		moves = marketdata.Unavailable{}
	}
	return &Engine{
		store:       store,
		moves:       moves,
		credibility: credibility,
		opts:        opts,
		highVol:     highVol,
		metrics:     reg,
		logger:      logger.With().Str("component", "validation").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ThresholdFor returns the move an instrument must make to count as a hit.
func (e *Engine) ThresholdFor(inst storage.Instrument) decimal.Decimal {
	if inst.HighVolatility {
		return e.opts.HighVolatilityThreshold
	}
	if _, ok := e.highVol[strings.ToUpper(inst.Symbol)]; ok {
		return e.opts.HighVolatilityThreshold
	}
	return e.opts.Threshold
}

// RunPass validates a batch of pending signals, oldest first. Windows whose
// move is not yet available stay unresolved for a later pass. Per-signal
// failures are collected and returned together with the partial result.
func (e *Engine) RunPass(ctx context.Context) (PassResult, error) {
	if !e.passMu.TryLock() {
		return PassResult{}, ErrPassInProgress
	}
	defer e.passMu.Unlock()

	signals, err := e.store.ListPendingSignals(ctx, e.opts.BatchSize)
	if err != nil {
		return PassResult{}, fmt.Errorf("list pending signals: %w", err)
	}
	if len(signals) == 0 {
		e.logger.Info().Msg("no pending signals to validate")
		return PassResult{}, nil
	}

	instruments, err := e.store.ListInstruments(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("list instruments: %w", err)
	}
	byID := make(map[string]storage.Instrument, len(instruments))
	for _, inst := range instruments {
		byID[inst.ID] = inst
	}

	var (
		result PassResult
		errs   []error
	)
	now := e.now()
	for _, sig := range signals {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result.Examined++

		inst, ok := byID[sig.InstrumentID]
		if !ok {
			e.logger.Warn().Str("signal_id", sig.ID).Str("instrument_id", sig.InstrumentID).Msg("signal references unknown instrument")
			continue
		}

		resolved, pending, err := e.validateSignal(ctx, sig, inst, now)
		result.WindowsPending += pending
		result.WindowsResolved += len(resolved)
		result.Outcomes = append(result.Outcomes, resolved...)
		if len(resolved) > 0 {
			result.Validated++
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("signal %s: %w", sig.ID, err))
		}
	}

	e.logger.Info().
		Int("examined", result.Examined).
		Int("validated", result.Validated).
		Int("windows_resolved", result.WindowsResolved).
		Int("windows_pending", result.WindowsPending).
		Msg("validation pass complete")
	return result, errors.Join(errs...)
}

// validateSignal resolves every due window of one signal and returns the
// outcomes this call recorded plus how many due windows stayed open. A new
// window owes credit to the signal's sources and its status is held back
// until every source accepted it; later passes retry what is still owed.
func (e *Engine) validateSignal(ctx context.Context, sig storage.Signal, inst storage.Instrument, now time.Time) ([]storage.ValidationOutcome, int, error) {
	windows := make(map[string]storage.ValidationOutcome, len(sig.ValidationWindows)+len(Windows))
	for k, v := range sig.ValidationWindows {
		windows[k] = v
	}

	due := DueWindows(sig.CreatedAt, now, windows)
	if len(due) == 0 && len(owedSources(windows)) == 0 {
		return nil, 0, nil
	}

	var (
		recorded []storage.ValidationOutcome
		pending  int
		synced   bool
	)
	threshold := e.ThresholdFor(inst)
	for _, w := range due {
		from := sig.CreatedAt
		to := from.Add(w.Duration())
		move, err := e.moves.Move(ctx, inst, from, to)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return recorded, pending, ctxErr
			}
			pending++
			if !errors.Is(err, marketdata.ErrUnavailable) {
				e.logger.Warn().Err(err).Str("signal_id", sig.ID).Str("window", w.Label).Msg("market move lookup failed, window left open")
			}
			continue
		}

		ev := Classify(sig.Direction, move.PercentChange, threshold)
		outcome, err := e.store.InsertOutcome(ctx, storage.ValidationOutcome{
			SignalID:         sig.ID,
			Window:           w.Label,
			PercentChange:    move.PercentChange,
			ActualMove:       ev.ActualMove,
			DirectionCorrect: ev.DirectionCorrect,
			ThresholdMet:     ev.ThresholdMet,
			Outcome:          ev.Outcome,
			ValidatedAt:      now,
		})
		if errors.Is(err, storage.ErrDuplicateOutcome) {
			// another pass recorded this window first; it owns the credit
			if err := e.syncOutcomes(ctx, sig.ID, windows); err != nil {
				return recorded, pending, err
			}
			synced = true
			continue
		}
		if err != nil {
			return recorded, pending, e.persist(ctx, sig, windows, len(recorded) > 0 || synced, fmt.Errorf("record %s outcome: %w", w.Label, err))
		}

		outcome.CreditOwed = distinctSources(sig.SourceIDs)
		windows[w.Label] = outcome
		recorded = append(recorded, outcome)
		e.metrics.IncValidationOutcome(w.Label, string(outcome.Outcome))
		e.logger.Debug().
			Str("signal_id", sig.ID).
			Str("window", w.Label).
			Str("percent_change", move.PercentChange.String()).
			Str("outcome", string(outcome.Outcome)).
			Msg("window resolved")
	}

	owed := owedSources(windows)
	if len(owed) > 0 {
		if err := e.credit(ctx, sig, windows, owed); err != nil {
			return recorded, pending, e.persist(ctx, sig, windows, true, err)
		}
	}
	return recorded, pending, e.persist(ctx, sig, windows, len(owed) > 0 || len(recorded) > 0 || synced, nil)
}

// credit applies the signal's best status once to every owed source and
// clears what was accepted. Sources that failed stay owed.
func (e *Engine) credit(ctx context.Context, sig storage.Signal, windows map[string]storage.ValidationOutcome, owed []string) error {
	if e.credibility == nil {
		settleCredit(windows, nil)
		return nil
	}
	status := Promote(sig.ValidationStatus, BestStatus(windows))
	updated, err := e.credibility.RecordOutcome(ctx, owed, status)
	if err == nil {
		settleCredit(windows, nil)
		return nil
	}
	accepted := make(map[string]struct{}, len(updated))
	for _, src := range updated {
		accepted[src.ID] = struct{}{}
	}
	settleCredit(windows, accepted)
	return fmt.Errorf("update source credibility: %w", err)
}

// persist writes the merged window cache and the status implied by its
// credited windows when anything changed. cause, when set, is returned
// alongside any write error.
func (e *Engine) persist(ctx context.Context, sig storage.Signal, windows map[string]storage.ValidationOutcome, changed bool, cause error) error {
	if !changed {
		return cause
	}
	settled := make(map[string]storage.ValidationOutcome, len(windows))
	for label, o := range windows {
		if len(o.CreditOwed) == 0 {
			settled[label] = o
		}
	}
	status := Promote(sig.ValidationStatus, BestStatus(settled))
	if err := e.store.UpdateSignalValidation(ctx, sig.ID, status, windows); err != nil {
		return errors.Join(cause, fmt.Errorf("update signal validation: %w", err))
	}
	return cause
}

// syncOutcomes adopts windows stored by another pass without touching the
// ones already cached.
func (e *Engine) syncOutcomes(ctx context.Context, signalID string, windows map[string]storage.ValidationOutcome) error {
	stored, err := e.store.ListOutcomes(ctx, signalID)
	if err != nil {
		return fmt.Errorf("reload outcomes: %w", err)
	}
	for _, o := range stored {
		if _, ok := windows[o.Window]; !ok {
			windows[o.Window] = o
		}
	}
	return nil
}

func distinctSources(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// owedSources unions the sources still owed credit across all windows.
func owedSources(windows map[string]storage.ValidationOutcome) []string {
	var all []string
	for _, o := range windows {
		all = append(all, o.CreditOwed...)
	}
	owed := distinctSources(all)
	sort.Strings(owed)
	return owed
}

// settleCredit drops accepted sources from every window's debt; a nil set
// clears it entirely.
func settleCredit(windows map[string]storage.ValidationOutcome, accepted map[string]struct{}) {
	for label, o := range windows {
		if len(o.CreditOwed) == 0 {
			continue
		}
		if accepted == nil {
			o.CreditOwed = nil
		} else {
			kept := o.CreditOwed[:0:0]
			for _, id := range o.CreditOwed {
				if _, ok := accepted[id]; !ok {
					kept = append(kept, id)
				}
			}
			o.CreditOwed = kept
			if len(kept) == 0 {
				o.CreditOwed = nil
			}
		}
		windows[label] = o
	}
}
