package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-intel/internal/provider"
	"signal-intel/internal/storage"
)

type classifyFunc func(ctx context.Context, content string) (provider.Extraction, error)

func (f classifyFunc) Classify(ctx context.Context, content string) (provider.Extraction, error) {
	return f(ctx, content)
}

type analyzeFunc func(ctx context.Context, ex []provider.Extraction, history string) ([]provider.Candidate, error)

func (f analyzeFunc) Analyze(ctx context.Context, ex []provider.Extraction, history string) ([]provider.Candidate, error) {
	return f(ctx, ex, history)
}

type corroborateFunc func(ctx context.Context, narrative string) (provider.Corroboration, error)

func (f corroborateFunc) Corroborate(ctx context.Context, narrative string) (provider.Corroboration, error) {
	return f(ctx, narrative)
}

func TestExtractNeverFails(t *testing.T) {
	failing := classifyFunc(func(context.Context, string) (provider.Extraction, error) {
		return provider.Extraction{}, provider.ErrParse
	})
	ex := NewExtractor(failing, 0, 0, zerolog.Nop())

	got := ex.Extract(context.Background(), "anything")
	assert.Equal(t, DefaultExtraction(), got)
	assert.Equal(t, "neutral", got.Sentiment)
	assert.Empty(t, got.Keywords)
	assert.Zero(t, got.AnomalyScore)
}

func TestExtractTruncatesContentByRunes(t *testing.T) {
	var seen string
	capture := classifyFunc(func(_ context.Context, content string) (provider.Extraction, error) {
		seen = content
		return provider.Extraction{Sentiment: "Bullish", AnomalyScore: 3}, nil
	})
	ex := NewExtractor(capture, 10, 1, zerolog.Nop())

	got := ex.Extract(context.Background(), strings.Repeat("€", 25))
	assert.Equal(t, 10, utf8.RuneCountInString(seen))
	assert.True(t, utf8.ValidString(seen))
	assert.Equal(t, "positive", got.Sentiment)
	assert.Equal(t, 1.0, got.AnomalyScore)
}

func TestExtractAllIsolatesFailures(t *testing.T) {
	var inFlight, peak int32
	classifier := classifyFunc(func(_ context.Context, content string) (provider.Extraction, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		if strings.HasPrefix(content, "bad") {
			return provider.Extraction{}, errors.New("provider down")
		}
		return provider.Extraction{Sentiment: "negative", Summary: content}, nil
	})
	ex := NewExtractor(classifier, 0, 2, zerolog.Nop())

	items := []storage.RawItem{
		{ID: "1", Content: "good one"},
		{ID: "2", Content: "bad one"},
		{ID: "3", Content: "good two"},
		{ID: "4", Content: "bad two"},
		{ID: "5", Content: "good three"},
	}
	results, failed := ex.ExtractAll(context.Background(), items)

	require.Len(t, results, 5)
	assert.Equal(t, 2, failed)
	assert.Equal(t, "good one", results[0].Summary)
	assert.Equal(t, extractionFailedSummary, results[1].Summary)
	assert.Equal(t, "good three", results[4].Summary)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestSettleAllKeepsOrderAndErrors(t *testing.T) {
	boom := errors.New("boom")
	results := SettleAll(context.Background(), []int{1, 2, 3, 4}, 3, func(_ context.Context, n int) (int, error) {
		if n == 3 {
			return 0, boom
		}
		return n * 10, nil
	})

	require.Len(t, results, 4)
	assert.Equal(t, 10, results[0].Value)
	assert.ErrorIs(t, results[2].Err, boom)
	assert.Equal(t, 40, results[3].Value)
}

func TestSynthesizeClampsFiltersAndNormalizes(t *testing.T) {
	analyzer := analyzeFunc(func(_ context.Context, _ []provider.Extraction, history string) ([]provider.Candidate, error) {
		assert.Equal(t, LearningPhaseContext, history)
		return []provider.Candidate{
			{Type: "WHISPER", Category: "event", Direction: "bullish", Confidence: 1.4},
			{Type: "signal", Category: "gossip", Direction: "sideways", Confidence: 0.55},
			{Type: "context", Category: "meta", Direction: "bearish", Confidence: 0.49},
			{Type: "unknown", Category: "technical", Direction: "neutral", Confidence: -2},
		}, nil
	})
	s := NewSynthesizer(analyzer, 0, zerolog.Nop())

	got, err := s.Synthesize(context.Background(), []provider.Extraction{{}}, LearningPhaseContext)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, storage.SignalWhisper, got[0].Type)
	assert.Equal(t, 1.0, got[0].Confidence)
	assert.Equal(t, storage.SignalStandard, got[1].Type)
	assert.Equal(t, storage.CategorySentiment, got[1].Category)
	assert.Equal(t, storage.DirectionNeutral, got[1].Direction)
}

func TestSynthesizeProviderFailureYieldsNothing(t *testing.T) {
	analyzer := analyzeFunc(func(context.Context, []provider.Extraction, string) ([]provider.Candidate, error) {
		return nil, provider.ErrParse
	})
	s := NewSynthesizer(analyzer, 0.5, zerolog.Nop())
	got, err := s.Synthesize(context.Background(), []provider.Extraction{{}}, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSynthesizeWithoutCredentialsFails(t *testing.T) {
	analyzer := analyzeFunc(func(context.Context, []provider.Extraction, string) ([]provider.Candidate, error) {
		return nil, fmt.Errorf("pattern: %w", provider.ErrNoCredentials)
	})
	s := NewSynthesizer(analyzer, 0.5, zerolog.Nop())

	got, err := s.Synthesize(context.Background(), []provider.Extraction{{}}, "")
	require.ErrorIs(t, err, provider.ErrNoCredentials)
	assert.Empty(t, got)

	got, err = NewSynthesizer(nil, 0.5, zerolog.Nop()).Synthesize(context.Background(), []provider.Extraction{{}}, "")
	require.ErrorIs(t, err, provider.ErrNoCredentials)
	assert.Empty(t, got)
}

func TestAdjustConfidenceStaysBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		orig := rng.Float64()
		delta := rng.Float64()*4 - 2
		got := AdjustConfidence(orig, delta)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
		assert.LessOrEqual(t, got-orig, 0.3+1e-9)
		assert.GreaterOrEqual(t, got-orig, -0.3-1e-9)
	}
	assert.InDelta(t, 0.9, AdjustConfidence(0.8, 0.1), 1e-9)
	assert.InDelta(t, 1.0, AdjustConfidence(0.95, 0.3), 1e-9)
	assert.InDelta(t, 0.4, AdjustConfidence(0.7, -0.9), 1e-9)
}

func TestCorroborationOnlyAboveThreshold(t *testing.T) {
	var checked []string
	corroborator := corroborateFunc(func(_ context.Context, narrative string) (provider.Corroboration, error) {
		checked = append(checked, narrative)
		return provider.Corroboration{Validated: true, Insight: "confirmed", ConfidenceAdjustment: 0.5}, nil
	})
	stage := NewCorroborationStage(corroborator, 0.7, zerolog.Nop())

	out := stage.Apply(context.Background(), []Candidate{
		{Narrative: "low", Confidence: 0.69},
		{Narrative: "edge", Confidence: 0.7},
	})

	assert.Equal(t, []string{"edge"}, checked)
	assert.Equal(t, 0.69, out[0].Confidence)
	assert.False(t, out[0].Corroborated)
	assert.InDelta(t, 1.0, out[1].Confidence, 1e-9)
	assert.True(t, out[1].Corroborated)
	assert.Equal(t, "confirmed", out[1].Insight)
}

func TestCorroborationFailureIsNeutral(t *testing.T) {
	corroborator := corroborateFunc(func(context.Context, string) (provider.Corroboration, error) {
		return provider.Corroboration{}, provider.ErrQuota
	})
	stage := NewCorroborationStage(corroborator, 0.7, zerolog.Nop())

	out := stage.Apply(context.Background(), []Candidate{{Narrative: "n", Confidence: 0.8}})
	assert.Equal(t, 0.8, out[0].Confidence)
	assert.False(t, out[0].Corroborated)
	assert.Equal(t, "Validation unavailable", out[0].Insight)
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"eurusd":   "EUR/USD",
		"EUR-USD":  "EUR/USD",
		" gbp/usd": "GBP/USD",
		"XAU_USD":  "XAU/USD",
		"BTC":      "BTC",
		"":         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeSymbol(in), in)
	}
}

func TestResolveInstrument(t *testing.T) {
	tracked := []storage.Instrument{
		{ID: "aud", Symbol: "AUD/USD"},
		{ID: "eur", Symbol: "EUR/USD"},
		{ID: "gbp", Symbol: "GBP/USD"},
	}

	t.Run("most mentioned wins", func(t *testing.T) {
		ex := []provider.Extraction{
			{RelevantInstruments: []string{"EUR/USD", "GBP/USD"}},
			{RelevantInstruments: []string{"gbpusd"}},
		}
		inst, ok := ResolveInstrument(ex, tracked, "")
		require.True(t, ok)
		assert.Equal(t, "gbp", inst.ID)
	})

	t.Run("tie keeps first seen", func(t *testing.T) {
		ex := []provider.Extraction{{RelevantInstruments: []string{"EUR/USD", "GBP/USD"}}}
		inst, _ := ResolveInstrument(ex, tracked, "")
		assert.Equal(t, "eur", inst.ID)
	})

	t.Run("no mention uses default", func(t *testing.T) {
		inst, _ := ResolveInstrument([]provider.Extraction{{}}, tracked, "")
		assert.Equal(t, "eur", inst.ID)
	})

	t.Run("untracked falls back to first tracked", func(t *testing.T) {
		ex := []provider.Extraction{{RelevantInstruments: []string{"USD/TRY"}}}
		inst, _ := ResolveInstrument(ex, tracked, "")
		assert.Equal(t, "aud", inst.ID)
	})

	t.Run("nothing tracked", func(t *testing.T) {
		_, ok := ResolveInstrument(nil, nil, "")
		assert.False(t, ok)
	})
}

func TestBatchKeywordsFirstTen(t *testing.T) {
	ex := []provider.Extraction{
		{Keywords: []string{"fed", "rates", "FED", "cpi", "nfp", "ecb"}},
		{Keywords: []string{"boj", "yen", "gold", "oil", "jobs", "pmi", "gdp"}},
	}
	got := batchKeywords(ex, 10)
	assert.Equal(t, []string{"fed", "rates", "cpi", "nfp", "ecb", "boj", "yen", "gold", "oil", "jobs"}, got)
}
