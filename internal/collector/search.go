package collector

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"signal-intel/internal/provider"
	"signal-intel/internal/storage"
)

const (
	defaultSearchBatch = 2
	defaultSearchPause = 3 * time.Second

	searchSourceName = "Gemini Search"
	searchSourceType = "news"
)

// SearchOptions tune the search-grounded collector.
type SearchOptions struct {
	Symbols   []string
	BatchSize int
	Pause     time.Duration
}

// SearchCollector asks a search-grounded provider for recent findings on
// each tracked instrument, a few instruments at a time.
type SearchCollector struct {
	searcher provider.Searcher
	opts     SearchOptions
	logger   zerolog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewSearchCollector(searcher provider.Searcher, opts SearchOptions, logger zerolog.Logger) *SearchCollector {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSearchBatch
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	} else if opts.Pause == 0 {
		opts.Pause = defaultSearchPause
	}
	return &SearchCollector{
		searcher: searcher,
		opts:     opts,
		logger:   logger.With().Str("component", "search_collector").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    provider.SleepContext,
	}
}

func (s *SearchCollector) Name() string { return "search" }

func (s *SearchCollector) Collect(ctx context.Context) ([]storage.RawItem, error) {
	var items []storage.RawItem
	symbols := s.opts.Symbols
	for i := 0; i < len(symbols); i += s.opts.BatchSize {
		end := i + s.opts.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		for _, symbol := range symbols[i:end] {
			if err := ctx.Err(); err != nil {
				return items, err
			}
			findings, err := s.searcher.Search(ctx, symbol)
			if err != nil {
				s.logger.Warn().Err(err).Str("symbol", symbol).Msg("search failed")
				continue
			}
			items = append(items, s.toItems(symbol, findings)...)
			s.logger.Debug().Str("symbol", symbol).Int("findings", len(findings)).Msg("search complete")
		}
		if end < len(symbols) {
			if err := s.sleep(ctx, s.opts.Pause); err != nil {
				return items, err
			}
		}
	}
	return items, nil
}

func (s *SearchCollector) toItems(symbol string, findings []provider.Finding) []storage.RawItem {
	now := s.now()
	items := make([]storage.RawItem, 0, len(findings))
	for _, f := range findings {
		content := strings.TrimSpace(f.Content)
		if content == "" {
			continue
		}
		name := strings.TrimSpace(f.Source)
		if name == "" {
			name = searchSourceName
		}
		platform := strings.TrimSpace(f.Type)
		if platform == "" {
			platform = searchSourceType
		}
		items = append(items, storage.RawItem{
			ID:             stableID(symbol, name, content),
			SourcePlatform: platform,
			SourceName:     name,
			Content:        symbol + ": " + content,
			Metadata: map[string]any{
				"pair":       symbol,
				"sentiment":  f.Sentiment,
				"confidence": f.Confidence,
				"timestamp":  f.Timestamp,
			},
			CollectedAt: now,
		})
	}
	return items
}
