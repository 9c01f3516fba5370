package credibility

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"signal-intel/internal/metrics"
	"signal-intel/internal/pipeline"
	"signal-intel/internal/storage"
)

var (
	MinWeight = decimal.RequireFromString("0.3")
	MaxWeight = decimal.NewFromInt(2)

	rewardStep  = decimal.RequireFromString("0.05")
	penaltyStep = decimal.RequireFromString("0.10")
	partialCred = decimal.RequireFromString("0.5")
	one         = decimal.NewFromInt(1)
)

// historyLimit caps how many sources are rendered into the synthesis prompt.
const historyLimit = 20

// Apply folds one resolved outcome into a source record. Pending outcomes
// leave the record untouched and report false.
//
// Partial outcomes earn half a true positive but do not move the weight.
func Apply(src storage.SourceCredibility, outcome storage.ValidationStatus) (storage.SourceCredibility, bool) {
	switch outcome {
	case storage.StatusTruePositive:
		src.TruePositives = src.TruePositives.Add(one)
		src.Weight = decimal.Min(MaxWeight, src.Weight.Add(rewardStep))
	case storage.StatusFalsePositive:
		src.FalsePositives++
		src.Weight = decimal.Max(MinWeight, src.Weight.Sub(penaltyStep))
	case storage.StatusPartial:
		src.TruePositives = src.TruePositives.Add(partialCred)
	default:
		return src, false
	}
	src.TotalSignals++
	src.Accuracy = Accuracy(src.TruePositives, src.TotalSignals)
	return src, true
}

// Accuracy is truePositives / total, zero when nothing was recorded.
func Accuracy(truePositives decimal.Decimal, total int64) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return truePositives.DivRound(decimal.NewFromInt(total), 4)
}

// Engine applies validation outcomes to source credibility records.
type Engine struct {
	store   storage.SourceStore
	locks   *keyedMutex
	metrics *metrics.Registry
	logger  zerolog.Logger
}

func NewEngine(store storage.SourceStore, reg *metrics.Registry, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		locks:   newKeyedMutex(),
		metrics: reg,
		logger:  logger.With().Str("component", "credibility").Logger(),
	}
}

// RecordOutcome updates every distinct source once with the outcome.
// Updates to the same source are serialized in-process and performed as an
// atomic read-modify-write by the store. Missing sources are skipped.
func (e *Engine) RecordOutcome(ctx context.Context, sourceIDs []string, outcome storage.ValidationStatus) ([]storage.SourceCredibility, error) {
	if outcome == storage.StatusPending || len(sourceIDs) == 0 {
		return nil, nil
	}

	var (
		updated []storage.SourceCredibility
		errs    []error
		seen    = make(map[string]struct{}, len(sourceIDs))
	)
	for _, id := range sourceIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		src, err := e.update(ctx, id, outcome)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			e.logger.Warn().Str("source_id", id).Msg("source not registered, outcome skipped")
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("update source %s: %w", id, err))
			continue
		}

		updated = append(updated, src)
		e.metrics.SetSourceWeight(src.Name, src.Weight.InexactFloat64())
		e.logger.Debug().
			Str("source", src.Name).
			Str("outcome", string(outcome)).
			Str("weight", src.Weight.StringFixed(2)).
			Str("accuracy", src.Accuracy.StringFixed(4)).
			Msg("source credibility updated")
	}
	return updated, errors.Join(errs...)
}

func (e *Engine) update(ctx context.Context, id string, outcome storage.ValidationStatus) (storage.SourceCredibility, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	return e.store.UpdateSource(ctx, id, func(src *storage.SourceCredibility) error {
		next, _ := Apply(*src, outcome)
		*src = next
		return nil
	})
}

// HistoricalContext renders source performance for the synthesis prompt,
// best accuracy first. Before any source has resolved signals it returns
// the learning-phase sentence.
func (e *Engine) HistoricalContext(ctx context.Context) (string, error) {
	sources, err := e.store.ListSources(ctx)
	if err != nil {
		return "", fmt.Errorf("list sources: %w", err)
	}

	withHistory := make([]storage.SourceCredibility, 0, len(sources))
	for _, src := range sources {
		if src.TotalSignals > 0 {
			withHistory = append(withHistory, src)
		}
	}
	if len(withHistory) == 0 {
		return pipeline.LearningPhaseContext, nil
	}
	sort.SliceStable(withHistory, func(i, j int) bool {
		return withHistory[i].Accuracy.GreaterThan(withHistory[j].Accuracy)
	})
	if len(withHistory) > historyLimit {
		withHistory = withHistory[:historyLimit]
	}

	var b strings.Builder
	b.WriteString("Source performance (accuracy, trust weight, resolved signals):\n")
	for _, src := range withHistory {
		fmt.Fprintf(&b, "- %s", src.Name)
		if src.Platform != "" {
			fmt.Fprintf(&b, " [%s]", src.Platform)
		}
		fmt.Fprintf(&b, ": accuracy %s%%, weight %s, %d signals\n",
			src.Accuracy.Mul(decimal.NewFromInt(100)).StringFixed(1),
			src.Weight.StringFixed(2),
			src.TotalSignals,
		)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

var _ pipeline.HistoryProvider = (*Engine)(nil)
