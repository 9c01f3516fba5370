package marketdata

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
	"github.com/shopspring/decimal"

	"signal-intel/internal/provider"
	"signal-intel/internal/storage"
)

const (
	timeSeriesPath   = "/time_series"
	quoteTimeLayout  = "2006-01-02 15:04:05"
	defaultQuoteBase = "https://api.twelvedata.com"
)

// QuoteOptions parameterise the HTTP time-series provider.
type QuoteOptions struct {
	BaseURL   string
	Interval  string
	UserAgent string
	Timeout   time.Duration
}

// QuoteAPI reads first and last candles of a window from a Twelve Data
// style time-series endpoint. Keys rotate per attempt.
type QuoteAPI struct {
	opts    QuoteOptions
	creds   *provider.CredentialPool
	exec    *provider.Executor
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewQuoteAPI constructs a quote provider. exec owns rate limiting and retries.
func NewQuoteAPI(opts QuoteOptions, creds *provider.CredentialPool, exec *provider.Executor, logger zerolog.Logger) *QuoteAPI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Interval == "" {
		opts.Interval = "5min"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultQuoteBase
	}

	return &QuoteAPI{
		opts:    opts,
		creds:   creds,
		exec:    exec,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "quote_api").Logger(),
		now:     time.Now,
	}
}

// Move fetches the window's candles and compares first open to last close.
func (q *QuoteAPI) Move(ctx context.Context, inst storage.Instrument, from, to time.Time) (Move, error) {
	if err := checkWindow(from, to, q.now()); err != nil {
		return Move{}, err
	}
	if q.creds == nil || q.creds.Size() == 0 {
		return Move{}, fmt.Errorf("%w: no quote api keys", ErrUnavailable)
	}

	body, err := q.exec.Do(ctx, func(ctx context.Context) (string, error) {
		return q.fetch(ctx, inst.Symbol, from, to)
	})
	if err != nil {
		return Move{}, err
	}

	var res timeSeriesResponse
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return Move{}, fmt.Errorf("decode time series: %w", err)
	}
	if strings.EqualFold(res.Status, "error") {
		return Move{}, fmt.Errorf("%w: %s", ErrUnavailable, res.Message)
	}
	if len(res.Values) == 0 {
		return Move{}, fmt.Errorf("%w: no candles for %s", ErrUnavailable, inst.Symbol)
	}

	first, last := res.Values[0], res.Values[len(res.Values)-1]
	if first.Datetime > last.Datetime {
		first, last = last, first
	}
	open, err := decimal.NewFromString(first.Open)
	if err != nil {
		return Move{}, fmt.Errorf("parse open price: %w", err)
	}
	closePrice, err := decimal.NewFromString(last.Close)
	if err != nil {
		return Move{}, fmt.Errorf("parse close price: %w", err)
	}

	move, err := NewMove(inst.Symbol, "quote_api", from, to, open, closePrice)
	if err != nil {
		return Move{}, err
	}
	q.logger.Debug().
		Str("symbol", inst.Symbol).
		Int("candles", len(res.Values)).
		Str("percent_change", move.PercentChange.String()).
		Msg("move fetched")
	return move, nil
}

func (q *QuoteAPI) fetch(ctx context.Context, symbol string, from, to time.Time) (string, error) {
	key, err := q.creds.Next()
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", q.opts.Interval)
	params.Set("start_date", from.UTC().Format(quoteTimeLayout))
	params.Set("end_date", to.UTC().Format(quoteTimeLayout))
	params.Set("timezone", "UTC")
	params.Set("order", "ASC")
	params.Set("outputsize", "5000")
	params.Set("apikey", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+timeSeriesPath+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(q.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "signal-intel/1.0")
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &provider.StatusError{Provider: "quote_api", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	// the api reports throttling inside a 200 body
	var probe struct {
		Code   int    `json:"code"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && probe.Code == http.StatusTooManyRequests {
		return "", &provider.StatusError{Provider: "quote_api", StatusCode: probe.Code, Body: strings.TrimSpace(string(payload))}
	}
	return string(payload), nil
}

type timeSeriesResponse struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Values  []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		Close    string `json:"close"`
	} `json:"values"`
}

var _ MoveProvider = (*QuoteAPI)(nil)
