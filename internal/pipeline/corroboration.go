package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"signal-intel/internal/provider"
)

const (
	defaultCorroborationThreshold = 0.7
	maxConfidenceDelta            = 0.3

	corroborationUnavailable = "Validation unavailable"
)

// UnavailableCorroboration is the neutral result used when the evidence check fails.
func UnavailableCorroboration() provider.Corroboration {
	return provider.Corroboration{
		Validated:             false,
		SupportingEvidence:    []string{},
		ContradictingEvidence: []string{},
		Insight:               corroborationUnavailable,
		ConfidenceAdjustment:  0,
	}
}

// AdjustConfidence applies a corroboration delta, bounding the delta to
// ±0.3 and the result to [0, 1].
func AdjustConfidence(original, delta float64) float64 {
	return clamp01(original + clamp(delta, -maxConfidenceDelta, maxConfidenceDelta))
}

// CorroborationStage re-checks high-confidence candidates.
type CorroborationStage struct {
	corroborator provider.Corroborator
	threshold    float64
	logger       zerolog.Logger
}

func NewCorroborationStage(corroborator provider.Corroborator, threshold float64, logger zerolog.Logger) *CorroborationStage {
	if threshold <= 0 {
		threshold = defaultCorroborationThreshold
	}
	return &CorroborationStage{
		corroborator: corroborator,
		threshold:    threshold,
		logger:       logger.With().Str("component", "corroboration").Logger(),
	}
}

// Check corroborates one narrative, degrading to UnavailableCorroboration.
func (c *CorroborationStage) Check(ctx context.Context, narrative string) provider.Corroboration {
	if c.corroborator == nil {
		return UnavailableCorroboration()
	}
	result, err := c.corroborator.Corroborate(ctx, narrative)
	if err != nil {
		c.logger.Warn().Err(err).Msg("corroboration failed, leaving confidence unchanged")
		return UnavailableCorroboration()
	}
	result.ConfidenceAdjustment = clamp(result.ConfidenceAdjustment, -maxConfidenceDelta, maxConfidenceDelta)
	return result
}

// Apply corroborates candidates at or above the threshold and returns the
// adjusted list. Candidates below the threshold pass through unchanged.
func (c *CorroborationStage) Apply(ctx context.Context, candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)

	for i := range out {
		if out[i].Confidence < c.threshold {
			continue
		}
		result := c.Check(ctx, out[i].Narrative)
		before := out[i].Confidence
		out[i].Confidence = AdjustConfidence(before, result.ConfidenceAdjustment)
		out[i].Corroborated = result.Validated
		out[i].Insight = result.Insight

		c.logger.Debug().
			Float64("before", before).
			Float64("after", out[i].Confidence).
			Bool("validated", result.Validated).
			Msg("candidate corroborated")
	}
	return out
}
