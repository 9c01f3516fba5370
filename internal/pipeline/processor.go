package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-intel/internal/metrics"
	"signal-intel/internal/provider"
	"signal-intel/internal/storage"
)

// LearningPhaseContext is the history string used before any source has a track record.
const LearningPhaseContext = "System is in learning phase. No historical patterns yet."

// ErrNoInstruments is returned when signals were synthesized but no instrument is tracked.
var ErrNoInstruments = errors.New("pipeline: no tracked instruments")

// HistoryProvider renders source performance for the synthesis prompt.
type HistoryProvider interface {
	HistoricalContext(ctx context.Context) (string, error)
}

// Store is the persistence surface a processing run needs.
type Store interface {
	storage.RawItemStore
	storage.SignalStore
	storage.SourceStore
	storage.InstrumentStore
}

// Options tune a processing run.
type Options struct {
	BatchSize           int
	DefaultInstrument   string
	KeywordLimit        int
	CrossSourceMinItems int
	HighConfidence      float64
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.DefaultInstrument == "" {
		o.DefaultInstrument = DefaultInstrumentSymbol
	}
	if o.KeywordLimit <= 0 {
		o.KeywordLimit = 10
	}
	if o.CrossSourceMinItems <= 0 {
		o.CrossSourceMinItems = 5
	}
	if o.HighConfidence <= 0 {
		o.HighConfidence = defaultCorroborationThreshold
	}
	return o
}

// Result summarises one processing run.
type Result struct {
	RawItemsProcessed  int
	ExtractionFailures int
	SignalsGenerated   int
	HighConfidence     int
	Signals            []storage.Signal
}

// Processor runs extraction, synthesis and corroboration over unprocessed
// raw items and persists the resulting signals.
type Processor struct {
	store         Store
	extractor     *Extractor
	synthesizer   *Synthesizer
	corroboration *CorroborationStage
	history       HistoryProvider
	opts          Options
	metrics       *metrics.Registry
	logger        zerolog.Logger
	now           func() time.Time
}

func NewProcessor(
	store Store,
	extractor *Extractor,
	synthesizer *Synthesizer,
	corroboration *CorroborationStage,
	history HistoryProvider,
	opts Options,
	reg *metrics.Registry,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		store:         store,
		extractor:     extractor,
		synthesizer:   synthesizer,
		corroboration: corroboration,
		history:       history,
		opts:          opts.withDefaults(),
		metrics:       reg,
		logger:        logger.With().Str("component", "processor").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run processes one batch. Raw items are marked processed only after their
// signals were persisted, so a storage failure leaves them for the next run.
func (p *Processor) Run(ctx context.Context) (Result, error) {
	items, err := p.store.ListUnprocessed(ctx, p.opts.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("list unprocessed raw items: %w", err)
	}
	if len(items) == 0 {
		p.logger.Info().Msg("no new raw items to process")
		return Result{}, nil
	}

	extractions, failed := p.extractor.ExtractAll(ctx, items)
	p.logger.Info().Int("items", len(items)).Int("extraction_failures", failed).Msg("extraction complete")

	history := p.historicalContext(ctx)
	candidates, err := p.synthesizer.Synthesize(ctx, extractions, history)
	if err != nil {
		// items stay unprocessed until the pattern provider has credentials
		return Result{ExtractionFailures: failed}, fmt.Errorf("synthesize signals: %w", err)
	}
	if p.corroboration != nil {
		candidates = p.corroboration.Apply(ctx, candidates)
	}

	var signals []storage.Signal
	if len(candidates) > 0 {
		signals, err = p.buildSignals(ctx, items, extractions, candidates)
		if err != nil {
			return Result{ExtractionFailures: failed}, err
		}
		if err := p.store.InsertSignals(ctx, signals); err != nil {
			return Result{ExtractionFailures: failed}, fmt.Errorf("insert signals: %w", err)
		}
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	if err := p.store.MarkProcessed(ctx, ids); err != nil {
		return Result{ExtractionFailures: failed, SignalsGenerated: len(signals), Signals: signals}, fmt.Errorf("mark raw items processed: %w", err)
	}

	result := Result{
		RawItemsProcessed:  len(items),
		ExtractionFailures: failed,
		SignalsGenerated:   len(signals),
		Signals:            signals,
	}
	for _, sig := range signals {
		if sig.Confidence >= p.opts.HighConfidence {
			result.HighConfidence++
		}
		p.metrics.IncSignal(string(sig.Type))
	}
	p.metrics.AddItemsProcessed(len(items))

	p.logger.Info().
		Int("raw_items", result.RawItemsProcessed).
		Int("signals", result.SignalsGenerated).
		Int("high_confidence", result.HighConfidence).
		Msg("processing run complete")
	return result, nil
}

func (p *Processor) historicalContext(ctx context.Context) string {
	if p.history == nil {
		return LearningPhaseContext
	}
	history, err := p.history.HistoricalContext(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("historical context unavailable")
		return LearningPhaseContext
	}
	if strings.TrimSpace(history) == "" {
		return LearningPhaseContext
	}
	return history
}

func (p *Processor) buildSignals(ctx context.Context, items []storage.RawItem, extractions []provider.Extraction, candidates []Candidate) ([]storage.Signal, error) {
	tracked, err := p.store.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	instrument, ok := ResolveInstrument(extractions, tracked, p.opts.DefaultInstrument)
	if !ok {
		return nil, ErrNoInstruments
	}
	if mentioned, found := MostMentionedSymbol(extractions); found && NormalizeSymbol(instrument.Symbol) != mentioned {
		p.logger.Warn().Str("mentioned", mentioned).Str("instrument", instrument.Symbol).
			Msg("mentioned symbol is not tracked; attaching signals to the first tracked instrument")
	}

	sourceIDs, err := p.contributingSources(ctx, items)
	if err != nil {
		return nil, err
	}
	keywords := batchKeywords(extractions, p.opts.KeywordLimit)
	crossSource := len(extractions) > p.opts.CrossSourceMinItems
	now := p.now()

	signals := make([]storage.Signal, 0, len(candidates))
	for _, c := range candidates {
		signals = append(signals, storage.Signal{
			ID:                   uuid.NewString(),
			InstrumentID:         instrument.ID,
			Type:                 c.Type,
			Category:             c.Category,
			Direction:            c.Direction,
			Confidence:           clamp01(c.Confidence),
			PredictedImpact:      c.PredictedImpact,
			Keywords:             append([]string(nil), keywords...),
			Narrative:            c.Narrative,
			Reasoning:            c.Reasoning,
			Insight:              c.Insight,
			SourceIDs:            append([]string(nil), sourceIDs...),
			Corroborated:         c.Corroborated,
			CrossSourceConfirmed: crossSource,
			ValidationStatus:     storage.StatusPending,
			ValidationWindows:    map[string]storage.ValidationOutcome{},
			CreatedAt:            now,
			UpdatedAt:            now,
		})
	}

	p.logger.Debug().
		Str("instrument", instrument.Symbol).
		Int("sources", len(sourceIDs)).
		Int("candidates", len(candidates)).
		Msg("signals assembled")
	return signals, nil
}

// contributingSources registers each distinct source of the batch and returns their ids.
func (p *Processor) contributingSources(ctx context.Context, items []storage.RawItem) ([]string, error) {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, item := range items {
		name := strings.TrimSpace(item.SourceName)
		if name == "" {
			name = strings.TrimSpace(item.SourcePlatform)
		}
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		src, err := p.store.EnsureSource(ctx, name, item.SourcePlatform)
		if err != nil {
			return nil, fmt.Errorf("register source %q: %w", name, err)
		}
		ids = append(ids, src.ID)
	}
	return ids, nil
}

func batchKeywords(extractions []provider.Extraction, limit int) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, limit)
	for _, ex := range extractions {
		for _, kw := range ex.Keywords {
			kw = strings.TrimSpace(kw)
			key := strings.ToLower(kw)
			if kw == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, kw)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}
