package collector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"signal-intel/internal/storage"
)

// Feed is one RSS or Atom source.
type Feed struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// RSSOptions parameterise the feed collector.
type RSSOptions struct {
	Feeds     []Feed
	Keywords  []string
	UserAgent string
	Timeout   time.Duration
}

// RSSCollector reads news feeds and keeps items mentioning forex keywords.
type RSSCollector struct {
	opts   RSSOptions
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

func NewRSSCollector(opts RSSOptions, logger zerolog.Logger) *RSSCollector {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if len(opts.Keywords) == 0 {
		opts.Keywords = ForexKeywords
	}
	return &RSSCollector{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "rss_collector").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *RSSCollector) Name() string { return "rss" }

func (r *RSSCollector) Collect(ctx context.Context) ([]storage.RawItem, error) {
	var items []storage.RawItem
	for _, feed := range r.opts.Feeds {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		got, err := r.collectFeed(ctx, feed)
		if err != nil {
			r.logger.Warn().Err(err).Str("feed", feed.URL).Msg("feed fetch failed")
			continue
		}
		items = append(items, got...)
	}
	return items, nil
}

func (r *RSSCollector) collectFeed(ctx context.Context, feed Feed) ([]storage.RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, err
	}
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "Mozilla/5.0")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	name := feed.Name
	if name == "" {
		name = parsed.Title
	}
	now := r.now()
	items := make([]storage.RawItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		title := strings.TrimSpace(it.Title)
		desc := strings.TrimSpace(it.Description)
		if !matchesAny(title+" "+desc, r.opts.Keywords) {
			continue
		}
		link := strings.TrimSpace(it.Link)
		items = append(items, storage.RawItem{
			ID:             stableID(feed.URL, link, title),
			SourcePlatform: "rss_feed",
			SourceName:     name,
			Content:        title + "\n\n" + desc,
			URL:            link,
			Metadata: map[string]any{
				"pubDate": it.Published,
				"feed":    feed.URL,
			},
			CollectedAt: now,
		})
	}
	return items, nil
}
