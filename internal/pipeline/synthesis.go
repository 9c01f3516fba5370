package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"signal-intel/internal/provider"
	"signal-intel/internal/storage"
)

const defaultConfidenceFloor = 0.5

// Candidate is a synthesized signal before instrument resolution.
type Candidate struct {
	Type            storage.SignalType
	Category        storage.Category
	Direction       storage.Direction
	Confidence      float64
	PredictedImpact *float64
	Narrative       string
	Reasoning       string
	Insight         string
	Corroborated    bool
}

// Synthesizer turns a batch of extractions into candidate signals.
type Synthesizer struct {
	analyzer provider.PatternAnalyzer
	floor    float64
	logger   zerolog.Logger
}

func NewSynthesizer(analyzer provider.PatternAnalyzer, floor float64, logger zerolog.Logger) *Synthesizer {
	if floor <= 0 {
		floor = defaultConfidenceFloor
	}
	return &Synthesizer{
		analyzer: analyzer,
		floor:    floor,
		logger:   logger.With().Str("component", "synthesis").Logger(),
	}
}

// Synthesize asks the pattern analyzer for candidates. Provider or parse
// failure yields an empty list; only missing credentials are returned as an
// error, since the batch could never be analyzed. Returned candidates have
// confidence in [floor, 1] and known enum values.
func (s *Synthesizer) Synthesize(ctx context.Context, extractions []provider.Extraction, history string) ([]Candidate, error) {
	if len(extractions) == 0 {
		return nil, nil
	}
	if s.analyzer == nil {
		return nil, fmt.Errorf("pattern analysis: %w", provider.ErrNoCredentials)
	}

	raw, err := s.analyzer.Analyze(ctx, extractions, history)
	if err != nil {
		if errors.Is(err, provider.ErrNoCredentials) {
			return nil, err
		}
		s.logger.Warn().Err(err).Int("extractions", len(extractions)).Msg("pattern analysis failed, no candidates")
		return nil, nil
	}

	out := make([]Candidate, 0, len(raw))
	for _, c := range raw {
		confidence := clamp01(c.Confidence)
		if confidence < s.floor {
			continue
		}
		out = append(out, Candidate{
			Type:            normalizeType(c.Type),
			Category:        normalizeCategory(c.Category),
			Direction:       normalizeDirection(c.Direction),
			Confidence:      confidence,
			PredictedImpact: c.PredictedImpact,
			Narrative:       strings.TrimSpace(c.Narrative),
			Reasoning:       strings.TrimSpace(c.Reasoning),
		})
	}
	if dropped := len(raw) - len(out); dropped > 0 {
		s.logger.Debug().Int("dropped", dropped).Float64("floor", s.floor).Msg("discarded candidates below confidence floor")
	}
	return out, nil
}

func normalizeType(v string) storage.SignalType {
	switch storage.SignalType(strings.ToLower(strings.TrimSpace(v))) {
	case storage.SignalWhisper:
		return storage.SignalWhisper
	case storage.SignalContext:
		return storage.SignalContext
	default:
		return storage.SignalStandard
	}
}

func normalizeCategory(v string) storage.Category {
	switch c := storage.Category(strings.ToLower(strings.TrimSpace(v))); c {
	case storage.CategorySentiment, storage.CategoryNarrative, storage.CategoryEvent, storage.CategoryTechnical, storage.CategoryMeta:
		return c
	default:
		return storage.CategorySentiment
	}
}

func normalizeDirection(v string) storage.Direction {
	switch d := storage.Direction(strings.ToLower(strings.TrimSpace(v))); d {
	case storage.DirectionBullish, storage.DirectionBearish, storage.DirectionNeutral:
		return d
	default:
		return storage.DirectionNeutral
	}
}
