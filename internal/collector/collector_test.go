package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-intel/internal/provider"
	"signal-intel/internal/storage"
)

type searchFunc func(ctx context.Context, symbol string) ([]provider.Finding, error)

func (f searchFunc) Search(ctx context.Context, symbol string) ([]provider.Finding, error) {
	return f(ctx, symbol)
}

func TestSearchCollectorBatchesAndMapsFindings(t *testing.T) {
	var (
		order  []string
		pauses []time.Duration
	)
	searcher := searchFunc(func(_ context.Context, symbol string) ([]provider.Finding, error) {
		order = append(order, symbol)
		if symbol == "USD/JPY" {
			return nil, provider.ErrQuota
		}
		return []provider.Finding{
			{Source: "", Type: "", Content: "dovish remarks", Sentiment: "bullish", Confidence: 0.7, Timestamp: "2024-03-01T10:00:00Z"},
			{Source: "Reuters", Type: "economic", Content: "  "},
		}, nil
	})

	c := NewSearchCollector(searcher, SearchOptions{Symbols: []string{"EUR/USD", "GBP/USD", "USD/JPY"}}, zerolog.Nop())
	c.sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	items, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EUR/USD", "GBP/USD", "USD/JPY"}, order)
	assert.Equal(t, []time.Duration{3 * time.Second}, pauses)

	require.Len(t, items, 2)
	first := items[0]
	assert.Equal(t, "EUR/USD: dovish remarks", first.Content)
	assert.Equal(t, "Gemini Search", first.SourceName)
	assert.Equal(t, "news", first.SourcePlatform)
	assert.Equal(t, "EUR/USD", first.Metadata["pair"])
	assert.Equal(t, 0.7, first.Metadata["confidence"])
	assert.NotEqual(t, first.ID, items[1].ID)
}

func TestSearchCollectorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	searcher := searchFunc(func(context.Context, string) ([]provider.Finding, error) {
		cancel()
		return []provider.Finding{{Content: "first"}}, nil
	})
	c := NewSearchCollector(searcher, SearchOptions{Symbols: []string{"EUR/USD", "GBP/USD", "XAU/USD"}, Pause: -1}, zerolog.Nop())

	items, err := c.Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, items, 1)
}

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Wire</title>
<item><title>ECB holds rates</title><description>The euro slipped after the decision.</description><link>https://example.com/ecb</link><pubDate>Fri, 01 Mar 2024 10:00:00 GMT</pubDate></item>
<item><title>Tech earnings beat</title><description>Chipmakers rally.</description><link>https://example.com/tech</link></item>
</channel></rss>`

func TestRSSCollectorFiltersByKeyword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssBody))
	}))
	defer srv.Close()

	c := NewRSSCollector(RSSOptions{Feeds: []Feed{
		{Name: "Broken", URL: srv.URL + "/broken"},
		{Name: "Reuters", URL: srv.URL + "/feed"},
	}}, zerolog.Nop())

	items, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Reuters", items[0].SourceName)
	assert.Equal(t, "rss_feed", items[0].SourcePlatform)
	assert.Equal(t, "https://example.com/ecb", items[0].URL)
	assert.True(t, strings.HasPrefix(items[0].Content, "ECB holds rates\n\n"))

	again, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, items[0].ID, again[0].ID, "ids are stable across runs")
}

func TestRedditCollectorFiltersUpvotesAndKeywords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/Forex/hot.json", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"data":{"children":[
			{"data":{"title":"EURUSD breakout","selftext":"watching 1.09","permalink":"/r/Forex/1","ups":40,"num_comments":3,"author":"a"}},
			{"data":{"title":"gold to the moon","selftext":"","permalink":"/r/Forex/2","ups":5}},
			{"data":{"title":"my new car","selftext":"","permalink":"/r/Forex/3","ups":900}}
		]}}`))
	}))
	defer srv.Close()

	c := NewRedditCollector(RedditOptions{BaseURL: srv.URL, Subreddits: []string{"Forex"}}, zerolog.Nop())
	items, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "r/Forex", items[0].SourceName)
	assert.Equal(t, "https://reddit.com/r/Forex/1", items[0].URL)
	assert.Equal(t, 40, items[0].Metadata["upvotes"])
}

type stubCollector struct {
	name  string
	items []storage.RawItem
	err   error
	block bool
}

func (s stubCollector) Name() string { return s.name }

func (s stubCollector) Collect(ctx context.Context) ([]storage.RawItem, error) {
	if s.block {
		<-ctx.Done()
		return s.items, ctx.Err()
	}
	return s.items, s.err
}

func rawItems(prefix string, n int) []storage.RawItem {
	out := make([]storage.RawItem, n)
	for i := range out {
		out[i] = storage.RawItem{ID: fmt.Sprintf("%s-%d", prefix, i), SourceName: prefix, Content: "c"}
	}
	return out
}

func TestRunnerStoresPartialResults(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := NewRunner(store, 50*time.Millisecond, nil, zerolog.Nop(),
		stubCollector{name: "fast", items: rawItems("fast", 3)},
		stubCollector{name: "broken", err: errors.New("dns failure")},
		stubCollector{name: "slow", items: rawItems("slow", 1), block: true},
	)

	res, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.BudgetHit)
	assert.Equal(t, 4, res.Collected)
	assert.Equal(t, 4, res.Stored)
	assert.Equal(t, 3, res.PerCollector["fast"])

	pending, err := store.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
}

func TestRunnerFailsWhenNothingCollected(t *testing.T) {
	runner := NewRunner(storage.NewMemoryStore(), time.Second, nil, zerolog.Nop(),
		stubCollector{name: "broken", err: errors.New("dns failure")},
	)
	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestRunnerRunsCollectorsConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	gate := func(name string) Collector {
		return collectorFunc{name: name, fn: func(ctx context.Context) ([]storage.RawItem, error) {
			wg.Done()
			wg.Wait()
			return rawItems(name, 1), nil
		}}
	}
	runner := NewRunner(storage.NewMemoryStore(), 5*time.Second, nil, zerolog.Nop(), gate("a"), gate("b"))

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Collected)
	assert.False(t, res.BudgetHit)
}

type collectorFunc struct {
	name string
	fn   func(ctx context.Context) ([]storage.RawItem, error)
}

func (c collectorFunc) Name() string { return c.name }

func (c collectorFunc) Collect(ctx context.Context) ([]storage.RawItem, error) { return c.fn(ctx) }
