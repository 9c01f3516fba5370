package learning

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-intel/internal/provider"
	"signal-intel/internal/storage"
)

var runTime = time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)

type analystFunc func(ctx context.Context, in provider.MetaInput) (provider.MetaAnalysis, error)

func (f analystFunc) MetaAnalyze(ctx context.Context, in provider.MetaInput) (provider.MetaAnalysis, error) {
	return f(ctx, in)
}

func seed(t *testing.T, store *storage.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	_, err := store.EnsureSource(ctx, "reuters", "rss")
	require.NoError(t, err)

	err = store.InsertSignals(ctx, []storage.Signal{
		{ID: "in-window", Keywords: []string{"fed"}, ValidationStatus: storage.StatusTruePositive, CreatedAt: runTime.Add(-48 * time.Hour)},
		{ID: "too-old", Keywords: []string{"ecb"}, ValidationStatus: storage.StatusFalsePositive, CreatedAt: runTime.Add(-8 * 24 * time.Hour)},
	})
	require.NoError(t, err)
}

func newStage(store Store, analyst provider.MetaAnalyst) *Stage {
	s := NewStage(store, analyst, 0, zerolog.Nop())
	s.now = func() time.Time { return runTime }
	return s
}

func TestRunPersistsAnalysis(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seed(t, store)

	var got provider.MetaInput
	analyst := analystFunc(func(_ context.Context, in provider.MetaInput) (provider.MetaAnalysis, error) {
		got = in
		return provider.MetaAnalysis{
			AccuracyRate:         1.7,
			BestSources:          []provider.SourceScore{{Source: "reuters", Accuracy: 0.9}},
			KeywordEffectiveness: map[string]float64{"fed": 0.8, "noise": -1},
			Improvements:         []string{"weight central bank news higher"},
			Insights:             "fed coverage leads price",
		}, nil
	})

	res, err := newStage(store, analyst).Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	require.Len(t, got.Signals, 1)
	assert.Equal(t, []string{"fed"}, got.Signals[0].Keywords)
	assert.Equal(t, "true_positive", got.Signals[0].Status)
	require.Len(t, got.Sources, 1)

	m := res.Metrics
	assert.Equal(t, 1, m.TotalSignals)
	assert.Equal(t, 1.0, m.AccuracyRate)
	assert.Equal(t, 0.0, m.KeywordEffectiveness["noise"])
	assert.Equal(t, []storage.SourceScore{{Source: "reuters", Accuracy: 0.9}}, m.BestSources)
	assert.Empty(t, m.WorstSources)
	assert.False(t, m.Degraded)
	assert.Equal(t, runTime.Add(-7*24*time.Hour), m.WeekStart)

	stored, err := store.ListLearningMetrics(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRunDegradesOnProviderFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seed(t, store)

	analyst := analystFunc(func(context.Context, provider.MetaInput) (provider.MetaAnalysis, error) {
		return provider.MetaAnalysis{}, provider.ErrParse
	})

	res, err := newStage(store, analyst).Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Metrics.Degraded)
	assert.Zero(t, res.Metrics.AccuracyRate)
	assert.Equal(t, []string{"Error analyzing performance"}, res.Metrics.Improvements)
	assert.Equal(t, "Meta-analysis unavailable", res.Metrics.Insights)

	stored, err := store.ListLearningMetrics(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRunWithoutCredentialsPersistsNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seed(t, store)

	analyst := analystFunc(func(context.Context, provider.MetaInput) (provider.MetaAnalysis, error) {
		return provider.MetaAnalysis{}, fmt.Errorf("meta: %w", provider.ErrNoCredentials)
	})

	_, err := newStage(store, analyst).Run(ctx)
	require.ErrorIs(t, err, provider.ErrNoCredentials)

	_, err = newStage(store, nil).Run(ctx)
	require.ErrorIs(t, err, provider.ErrNoCredentials)

	stored, err := store.ListLearningMetrics(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRunSkipsEmptyWindow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	called := false
	analyst := analystFunc(func(context.Context, provider.MetaInput) (provider.MetaAnalysis, error) {
		called = true
		return provider.MetaAnalysis{}, nil
	})

	res, err := newStage(store, analyst).Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.False(t, called)

	stored, err := store.ListLearningMetrics(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}
