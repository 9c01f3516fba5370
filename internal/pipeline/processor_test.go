package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-intel/internal/provider"
	"signal-intel/internal/storage"
)

type failingInsertStore struct {
	*storage.MemoryStore
}

func (failingInsertStore) InsertSignals(context.Context, []storage.Signal) error {
	return errors.New("disk full")
}

func seedProcessorStore(t *testing.T, store *storage.MemoryStore, items int) {
	t.Helper()
	ctx := context.Background()
	for _, sym := range []string{"EUR/USD", "GBP/USD", "XAU/USD"} {
		_, err := store.UpsertInstrument(ctx, storage.Instrument{Symbol: sym, HighVolatility: sym == "XAU/USD"})
		require.NoError(t, err)
	}
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := make([]storage.RawItem, 0, items)
	for i := 0; i < items; i++ {
		raw = append(raw, storage.RawItem{
			ID:             fmt.Sprintf("item-%02d", i),
			SourcePlatform: "rss",
			SourceName:     fmt.Sprintf("feed-%d", i%3),
			Content:        fmt.Sprintf("gold headline %d", i),
			CollectedAt:    base.Add(time.Duration(i) * time.Minute),
		})
	}
	_, err := store.InsertRawItems(ctx, raw)
	require.NoError(t, err)
}

func newTestProcessor(store Store, corroborationDelta float64) *Processor {
	classifier := classifyFunc(func(_ context.Context, content string) (provider.Extraction, error) {
		return provider.Extraction{
			Sentiment:           "positive",
			Keywords:            []string{"gold", "fed"},
			RelevantInstruments: []string{"XAU/USD"},
			AnomalyScore:        0.6,
			Summary:             content,
		}, nil
	})
	analyzer := analyzeFunc(func(context.Context, []provider.Extraction, string) ([]provider.Candidate, error) {
		return []provider.Candidate{
			{Type: "signal", Category: "event", Direction: "bullish", Confidence: 0.8, Narrative: "gold bid"},
			{Type: "whisper", Category: "sentiment", Direction: "bullish", Confidence: 0.6, Narrative: "chatter"},
		}, nil
	})
	corroborator := corroborateFunc(func(context.Context, string) (provider.Corroboration, error) {
		return provider.Corroboration{Validated: true, Insight: "supported", ConfidenceAdjustment: corroborationDelta}, nil
	})

	logger := zerolog.Nop()
	return NewProcessor(
		store,
		NewExtractor(classifier, 0, 4, logger),
		NewSynthesizer(analyzer, 0.5, logger),
		NewCorroborationStage(corroborator, 0.7, logger),
		nil,
		Options{},
		nil,
		logger,
	)
}

func TestProcessorRunPersistsSignals(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedProcessorStore(t, store, 6)

	result, err := newTestProcessor(store, 0.1).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 6, result.RawItemsProcessed)
	assert.Equal(t, 2, result.SignalsGenerated)
	assert.Equal(t, 1, result.HighConfidence)

	signals, err := store.ListPendingSignals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	instruments, err := store.ListInstruments(ctx)
	require.NoError(t, err)
	var gold string
	for _, inst := range instruments {
		if inst.Symbol == "XAU/USD" {
			gold = inst.ID
		}
	}
	for _, sig := range signals {
		assert.Equal(t, gold, sig.InstrumentID)
		assert.True(t, sig.CrossSourceConfirmed, "six extractions exceed the cross-source minimum")
		assert.Len(t, sig.SourceIDs, 3)
		assert.Equal(t, []string{"gold", "fed"}, sig.Keywords)
		assert.Equal(t, storage.StatusPending, sig.ValidationStatus)
	}

	byNarrative := map[string]storage.Signal{}
	for _, sig := range signals {
		byNarrative[sig.Narrative] = sig
	}
	assert.InDelta(t, 0.9, byNarrative["gold bid"].Confidence, 1e-9)
	assert.True(t, byNarrative["gold bid"].Corroborated)
	assert.InDelta(t, 0.6, byNarrative["chatter"].Confidence, 1e-9)
	assert.False(t, byNarrative["chatter"].Corroborated)

	left, err := store.ListUnprocessed(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, left)

	sources, err := store.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 3)
}

func TestProcessorSmallBatchIsNotCrossSource(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedProcessorStore(t, store, 5)

	_, err := newTestProcessor(store, 0).Run(ctx)
	require.NoError(t, err)

	signals, err := store.ListPendingSignals(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, signals)
	assert.False(t, signals[0].CrossSourceConfirmed)
}

func TestProcessorInsertFailureKeepsItemsUnprocessed(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	seedProcessorStore(t, mem, 3)

	_, err := newTestProcessor(failingInsertStore{mem}, 0).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert signals")

	left, err := mem.ListUnprocessed(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestProcessorEmptyBatch(t *testing.T) {
	result, err := newTestProcessor(storage.NewMemoryStore(), 0).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.RawItemsProcessed)
	assert.Zero(t, result.SignalsGenerated)
}

func TestProcessorWithoutInstrumentsFails(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, err := store.InsertRawItems(ctx, []storage.RawItem{{ID: "x", SourceName: "s", Content: "c"}})
	require.NoError(t, err)

	_, err = newTestProcessor(store, 0).Run(ctx)
	assert.ErrorIs(t, err, ErrNoInstruments)
}

func TestProcessorWithoutPatternCredentialsKeepsItems(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedProcessorStore(t, store, 3)

	logger := zerolog.Nop()
	classifier := classifyFunc(func(_ context.Context, content string) (provider.Extraction, error) {
		return provider.Extraction{Sentiment: "positive", RelevantInstruments: []string{"EUR/USD"}, Summary: content}, nil
	})
	pattern := provider.NewLLM(
		provider.NewChatClient(provider.ChatConfig{Name: "pattern"}, provider.NewCredentialPool("pattern", nil)),
		provider.NewExecutor(nil, provider.ExecutorOptions{Name: "pattern"}, logger, nil),
		provider.StageOptions{},
	)
	p := NewProcessor(store, NewExtractor(classifier, 0, 2, logger), NewSynthesizer(pattern, 0.5, logger), nil, nil, Options{}, nil, logger)

	result, err := p.Run(ctx)
	require.ErrorIs(t, err, provider.ErrNoCredentials)
	assert.Zero(t, result.RawItemsProcessed)
	assert.Zero(t, result.SignalsGenerated)

	left, err := store.ListUnprocessed(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, left, 3)
}
