package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"signal-intel/internal/provider"
	"signal-intel/internal/storage"
)

const (
	defaultWindow = 7 * 24 * time.Hour

	degradedImprovement = "Error analyzing performance"
	degradedInsights    = "Meta-analysis unavailable"
)

// Store is the persistence surface of the weekly learning run.
type Store interface {
	storage.SignalStore
	storage.SourceStore
	storage.LearningStore
}

// Result reports a learning run. Skipped is set when the window held no signals.
type Result struct {
	Skipped bool
	Metrics storage.LearningMetrics
}

// Stage summarises a trailing window of signals into a LearningMetrics record.
type Stage struct {
	store   Store
	analyst provider.MetaAnalyst
	window  time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

func NewStage(store Store, analyst provider.MetaAnalyst, window time.Duration, logger zerolog.Logger) *Stage {
	if window <= 0 {
		window = defaultWindow
	}
	return &Stage{
		store:   store,
		analyst: analyst,
		window:  window,
		logger:  logger.With().Str("component", "learning").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run analyses the trailing window and persists one record. A failed
// meta-analysis still persists a degraded record. Storage failures and a
// meta provider without credentials are returned as errors and persist nothing.
func (s *Stage) Run(ctx context.Context) (Result, error) {
	end := s.now()
	start := end.Add(-s.window)

	signals, err := s.store.ListSignalsBetween(ctx, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("list signals: %w", err)
	}
	if len(signals) == 0 {
		s.logger.Info().Time("since", start).Msg("no signals in learning window, skipping")
		return Result{Skipped: true}, nil
	}

	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list sources: %w", err)
	}

	record := storage.LearningMetrics{
		WeekStart:    start,
		WeekEnd:      end,
		TotalSignals: len(signals),
	}

	analysis, err := s.analyze(ctx, signals, sources)
	if errors.Is(err, provider.ErrNoCredentials) {
		return Result{}, fmt.Errorf("meta-analysis: %w", err)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("meta-analysis failed, persisting degraded record")
		record.Degraded = true
		record.BestSources = []storage.SourceScore{}
		record.WorstSources = []storage.SourceScore{}
		record.KeywordEffectiveness = map[string]float64{}
		record.Improvements = []string{degradedImprovement}
		record.Insights = degradedInsights
	} else {
		record.AccuracyRate = clampUnit(analysis.AccuracyRate)
		record.BestSources = scores(analysis.BestSources)
		record.WorstSources = scores(analysis.WorstSources)
		record.KeywordEffectiveness = keywordScores(analysis.KeywordEffectiveness)
		record.Improvements = append([]string{}, analysis.Improvements...)
		record.Insights = analysis.Insights
	}

	saved, err := s.store.InsertLearningMetrics(ctx, record)
	if err != nil {
		return Result{}, fmt.Errorf("insert learning metrics: %w", err)
	}

	s.logger.Info().
		Int("signals", saved.TotalSignals).
		Float64("accuracy_rate", saved.AccuracyRate).
		Bool("degraded", saved.Degraded).
		Msg("learning run complete")
	return Result{Metrics: saved}, nil
}

func (s *Stage) analyze(ctx context.Context, signals []storage.Signal, sources []storage.SourceCredibility) (provider.MetaAnalysis, error) {
	if s.analyst == nil {
		return provider.MetaAnalysis{}, provider.ErrNoCredentials
	}

	in := provider.MetaInput{
		Signals: make([]provider.SignalSummary, 0, len(signals)),
		Sources: make([]provider.SourceSummary, 0, len(sources)),
	}
	for _, sig := range signals {
		in.Signals = append(in.Signals, provider.SignalSummary{
			Keywords: sig.Keywords,
			Status:   string(sig.ValidationStatus),
		})
	}
	for _, src := range sources {
		in.Sources = append(in.Sources, provider.SourceSummary{
			Name:         src.Name,
			Accuracy:     src.Accuracy.InexactFloat64(),
			TotalSignals: src.TotalSignals,
		})
	}
	return s.analyst.MetaAnalyze(ctx, in)
}

func scores(in []provider.SourceScore) []storage.SourceScore {
	out := make([]storage.SourceScore, 0, len(in))
	for _, sc := range in {
		if sc.Source == "" {
			continue
		}
		out = append(out, storage.SourceScore{Source: sc.Source, Accuracy: clampUnit(sc.Accuracy)})
	}
	return out
}

func keywordScores(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for kw, v := range in {
		out[kw] = clampUnit(v)
	}
	return out
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 1)
}
