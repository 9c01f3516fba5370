package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveProviderCall("groq", "success", time.Second)
		r.IncProviderRetry("groq")
		r.AddItemsCollected("rss", 3)
		r.AddItemsProcessed(3)
		r.IncSignal("whisper")
		r.IncValidationOutcome("2hr", "true_positive")
		r.SetSourceWeight("reuters", 1.05)
		r.ObserveTrigger("process", true, time.Second)
	})
	assert.NotNil(t, r.Handler())
}

func TestRegistryCounts(t *testing.T) {
	r := NewRegistry()

	r.ObserveProviderCall("groq", "success", 100*time.Millisecond)
	r.ObserveProviderCall("groq", "success", 200*time.Millisecond)
	r.IncProviderRetry("gemini")
	r.IncValidationOutcome("8hr", "partial")
	r.SetSourceWeight("reuters", 1.1)

	assert.InDelta(t, 2, testutil.ToFloat64(r.ProviderCalls.WithLabelValues("groq", "success")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.ProviderRetries.WithLabelValues("gemini")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.ValidationOutcomes.WithLabelValues("8hr", "partial")), 1e-9)
	assert.InDelta(t, 1.1, testutil.ToFloat64(r.SourceWeight.WithLabelValues("reuters")), 1e-9)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
