package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"signal-intel/internal/storage"
)

const (
	defaultRedditBase = "https://old.reddit.com"
	defaultMinUpvotes = 5
	redditPageSize    = 25
)

// RedditOptions parameterise the subreddit collector.
type RedditOptions struct {
	BaseURL    string
	Subreddits []string
	Keywords   []string
	MinUpvotes int
	UserAgent  string
	Timeout    time.Duration
}

// RedditCollector reads hot posts and keeps upvoted forex discussions.
type RedditCollector struct {
	opts    RedditOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
	now     func() time.Time
}

func NewRedditCollector(opts RedditOptions, logger zerolog.Logger) *RedditCollector {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if len(opts.Keywords) == 0 {
		opts.Keywords = ForexKeywords
	}
	if opts.MinUpvotes <= 0 {
		opts.MinUpvotes = defaultMinUpvotes
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultRedditBase
	}
	return &RedditCollector{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "reddit_collector").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedditCollector) Name() string { return "reddit" }

func (r *RedditCollector) Collect(ctx context.Context) ([]storage.RawItem, error) {
	var items []storage.RawItem
	for _, sub := range r.opts.Subreddits {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		got, err := r.collectSubreddit(ctx, sub)
		if err != nil {
			r.logger.Warn().Err(err).Str("subreddit", sub).Msg("subreddit fetch failed")
			continue
		}
		items = append(items, got...)
	}
	r.logger.Debug().Int("posts", len(items)).Msg("reddit collection complete")
	return items, nil
}

func (r *RedditCollector) collectSubreddit(ctx context.Context, sub string) ([]storage.RawItem, error) {
	endpoint := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", r.baseURL, url.PathEscape(sub), redditPageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "signal-intel/1.0")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reddit returned status %d", resp.StatusCode)
	}

	var listing redditListing
	if err := json.Unmarshal(payload, &listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	now := r.now()
	items := make([]storage.RawItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Ups <= r.opts.MinUpvotes {
			continue
		}
		if !matchesAny(post.Title+" "+post.Selftext, r.opts.Keywords) {
			continue
		}
		link := "https://reddit.com" + post.Permalink
		items = append(items, storage.RawItem{
			ID:             stableID(link),
			SourcePlatform: "reddit",
			SourceName:     "r/" + sub,
			Content:        post.Title + "\n\n" + post.Selftext,
			URL:            link,
			Metadata: map[string]any{
				"upvotes":      post.Ups,
				"num_comments": post.NumComments,
				"created_utc":  post.CreatedUTC,
				"author":       post.Author,
			},
			CollectedAt: now,
		})
	}
	return items, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title       string  `json:"title"`
				Selftext    string  `json:"selftext"`
				Permalink   string  `json:"permalink"`
				Author      string  `json:"author"`
				Ups         int     `json:"ups"`
				NumComments int     `json:"num_comments"`
				CreatedUTC  float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}
