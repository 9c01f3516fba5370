package app

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-intel/internal/storage"
)

func signalAt(at time.Time, instrument string, confidence float64, status storage.ValidationStatus) storage.Signal {
	return storage.Signal{
		ID:               at.Format(time.RFC3339Nano),
		InstrumentID:     instrument,
		Type:             storage.SignalStandard,
		Category:         storage.CategorySentiment,
		Direction:        storage.DirectionBullish,
		Confidence:       confidence,
		Keywords:         []string{"ecb", "rates"},
		Narrative:        "ECB hawkish\nsurprise",
		ValidationStatus: status,
		CreatedAt:        at,
	}
}

func TestDownsampleKeepsEndpoints(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	assert.Equal(t, items, downsample(items, 0))
	assert.Equal(t, items, downsample(items, 20))
	assert.Equal(t, []int{9}, downsample(items, 1))

	got := downsample(items, 4)
	require.Len(t, got, 4)
	assert.Equal(t, 0, got[0])
	assert.Equal(t, 9, got[3])
}

func TestHitRateSeriesCountsPartialAsHalf(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	signals := []storage.Signal{
		signalAt(base, "i1", 0.6, storage.StatusPending),
		signalAt(base.Add(time.Hour), "i1", 0.7, storage.StatusTruePositive),
		signalAt(base.Add(2*time.Hour), "i1", 0.8, storage.StatusPartial),
		signalAt(base.Add(3*time.Hour), "i1", 0.9, storage.StatusFalsePositive),
		signalAt(base.Add(4*time.Hour), "i1", 0.9, storage.StatusPending),
	}

	rates := hitRateSeries(signals)
	assert.InDeltaSlice(t, []float64{0, 100, 75, 50, 50}, rates, 1e-9)
}

func TestFilterSignals(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	signals := []storage.Signal{
		signalAt(base, "eur", 0.6, storage.StatusPending),
		signalAt(base.Add(time.Hour), "gold", 0.7, storage.StatusTruePositive),
		signalAt(base.Add(2*time.Hour), "eur", 0.8, storage.StatusTruePositive),
	}
	symbols := map[string]string{"eur": "EUR/USD", "gold": "XAU/USD"}

	assert.Len(t, filterSignals(signals, symbols, "", ""), 3)
	assert.Len(t, filterSignals(signals, symbols, "EUR/USD", ""), 2)
	assert.Len(t, filterSignals(signals, symbols, "", storage.StatusTruePositive), 2)

	got := filterSignals(signals, symbols, "EUR/USD", storage.StatusTruePositive)
	require.Len(t, got, 1)
	assert.Equal(t, 0.8, got[0].Confidence)
	assert.Len(t, signals, 3)
}

func TestWriteSignalsCSV(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "nested", "signals.csv")

	err := writeSignalsCSV(path, []storage.Signal{signalAt(base, "eur", 0.75, storage.StatusPartial)}, map[string]string{"eur": "EUR/USD"})
	require.NoError(t, err)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "created_at", records[0][0])
	assert.Equal(t, []string{
		"2025-03-01T12:00:00Z", "EUR/USD", "signal", "sentiment", "bullish", "0.7500",
		"false", "false", "partial", "ecb;rates", "ECB hawkish\nsurprise",
	}, records[1])
}

func TestWriteSignalsPNG(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	err := writeSignalsPNG(filepath.Join(dir, "one.png"), []storage.Signal{signalAt(base, "eur", 0.6, storage.StatusPending)}, 0)
	require.Error(t, err)

	// all pending with equal confidence: flat series must still render
	signals := []storage.Signal{
		signalAt(base, "eur", 0.6, storage.StatusPending),
		signalAt(base.Add(time.Hour), "eur", 0.6, storage.StatusPending),
		signalAt(base.Add(2*time.Hour), "eur", 0.6, storage.StatusPending),
	}
	path := filepath.Join(dir, "chart.png")
	require.NoError(t, writeSignalsPNG(path, signals, 2))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestWriteSignalsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSignals(&buf, nil, nil))
	assert.Equal(t, "no signals found\n", buf.String())

	buf.Reset()
	sig := signalAt(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), "eur", 0.75, storage.StatusPending)
	sig.Direction = ""
	require.NoError(t, writeSignals(&buf, []storage.Signal{sig}, []storage.Instrument{{ID: "eur", Symbol: "EUR/USD"}}))

	out := buf.String()
	assert.Contains(t, out, "EUR/USD")
	assert.Contains(t, out, "0.75")
	assert.Contains(t, out, "ECB hawkish surprise")
	assert.Contains(t, out, " - ")
}

func TestWriteSourcesTable(t *testing.T) {
	var buf bytes.Buffer
	src := storage.SourceCredibility{
		Name:           "Reuters",
		Platform:       "rss",
		TotalSignals:   4,
		TruePositives:  decimal.RequireFromString("2.5"),
		FalsePositives: 1,
		Accuracy:       decimal.RequireFromString("0.625"),
		Weight:         decimal.RequireFromString("1.05"),
	}
	require.NoError(t, writeSources(&buf, []storage.SourceCredibility{src}))

	out := buf.String()
	assert.Contains(t, out, "Reuters")
	assert.Contains(t, out, "2.5")
	assert.Contains(t, out, "62.5")
	assert.Contains(t, out, "1.05")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
