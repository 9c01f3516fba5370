package pipeline

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"signal-intel/internal/provider"
	"signal-intel/internal/storage"
)

const (
	defaultMaxContentChars = 2000
	defaultParallelism     = 8

	extractionFailedSummary = "Error processing content"
)

// DefaultExtraction is the neutral result used when classification fails.
func DefaultExtraction() provider.Extraction {
	return provider.Extraction{
		Sentiment:           "neutral",
		Keywords:            []string{},
		RelevantInstruments: []string{},
		AnomalyScore:        0,
		Summary:             extractionFailedSummary,
	}
}

// Extractor classifies raw items into compact summaries.
type Extractor struct {
	classifier  provider.Classifier
	maxChars    int
	parallelism int
	logger      zerolog.Logger
}

// NewExtractor builds an extractor. Non-positive limits fall back to defaults.
func NewExtractor(classifier provider.Classifier, maxChars, parallelism int, logger zerolog.Logger) *Extractor {
	if maxChars <= 0 {
		maxChars = defaultMaxContentChars
	}
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Extractor{
		classifier:  classifier,
		maxChars:    maxChars,
		parallelism: parallelism,
		logger:      logger.With().Str("component", "extraction").Logger(),
	}
}

// Extract classifies one piece of content. It never fails: any provider or
// parse error yields DefaultExtraction.
func (e *Extractor) Extract(ctx context.Context, content string) provider.Extraction {
	if e.classifier == nil {
		return DefaultExtraction()
	}
	result, err := e.classifier.Classify(ctx, truncateRunes(content, e.maxChars))
	if err != nil {
		e.logger.Warn().Err(err).Msg("classification failed, using neutral default")
		return DefaultExtraction()
	}
	return normalizeExtraction(result)
}

// ExtractAll classifies every item with bounded parallelism. The returned
// slice is aligned with items; failed reports how many fell back to default.
func (e *Extractor) ExtractAll(ctx context.Context, items []storage.RawItem) (results []provider.Extraction, failed int) {
	settled := SettleAll(ctx, items, e.parallelism, func(ctx context.Context, item storage.RawItem) (provider.Extraction, error) {
		return e.Extract(ctx, item.Content), nil
	})

	results = make([]provider.Extraction, 0, len(settled))
	for _, s := range settled {
		if s.Err != nil {
			results = append(results, DefaultExtraction())
			failed++
			continue
		}
		if s.Value.Summary == extractionFailedSummary {
			failed++
		}
		results = append(results, s.Value)
	}
	return results, failed
}

func normalizeExtraction(in provider.Extraction) provider.Extraction {
	switch strings.ToLower(strings.TrimSpace(in.Sentiment)) {
	case "positive", "bullish":
		in.Sentiment = "positive"
	case "negative", "bearish":
		in.Sentiment = "negative"
	default:
		in.Sentiment = "neutral"
	}
	if in.Keywords == nil {
		in.Keywords = []string{}
	}
	instruments := make([]string, 0, len(in.RelevantInstruments))
	for _, sym := range in.RelevantInstruments {
		if norm := NormalizeSymbol(sym); norm != "" {
			instruments = append(instruments, norm)
		}
	}
	in.RelevantInstruments = instruments
	in.AnomalyScore = clamp01(in.AnomalyScore)
	return in
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v != v: // NaN
		return lo
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
