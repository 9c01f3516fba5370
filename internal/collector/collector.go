package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"signal-intel/internal/metrics"
	"signal-intel/internal/storage"
)

const defaultBudget = 50 * time.Second

// Collector gathers raw items from one kind of source. On context expiry a
// collector returns what it gathered so far together with the context error.
type Collector interface {
	Name() string
	Collect(ctx context.Context) ([]storage.RawItem, error)
}

// ForexKeywords flags content relevant to the tracked currency markets.
var ForexKeywords = []string{
	"eur/usd", "gbp/usd", "usd/jpy", "usd/chf", "aud/usd", "usd/cad", "xau/usd",
	"eurusd", "gbpusd", "usdjpy", "usdchf", "audusd", "usdcad", "xauusd",
	"gold", "dollar", "euro", "pound", "yen", "franc", "forex", "currency",
	"exchange rate", "central bank", "fed", "ecb", "boe", "boj",
	"interest rate", "monetary policy",
}

// matchesAny reports whether the lower-cased text contains any keyword.
func matchesAny(text string, keywords []string) bool {
	text = strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// stableID derives a deterministic item id so re-collected links dedupe.
func stableID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(parts, "|"))).String()
}

// RunResult summarises one collection run.
type RunResult struct {
	Collected    int
	Stored       int
	PerCollector map[string]int
	Elapsed      time.Duration
	BudgetHit    bool
}

// Runner fans out to every collector under a shared wall-clock budget and
// stores whatever was gathered when the budget runs out.
type Runner struct {
	collectors []Collector
	store      storage.RawItemStore
	budget     time.Duration
	metrics    *metrics.Registry
	logger     zerolog.Logger
}

func NewRunner(store storage.RawItemStore, budget time.Duration, reg *metrics.Registry, logger zerolog.Logger, collectors ...Collector) *Runner {
	if budget <= 0 {
		budget = defaultBudget
	}
	return &Runner{
		collectors: collectors,
		store:      store,
		budget:     budget,
		metrics:    reg,
		logger:     logger.With().Str("component", "collector").Logger(),
	}
}

// Run collects from every source concurrently. A failing collector does not
// affect the others; the error is returned only when nothing could be stored.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	start := time.Now()
	budgetCtx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	var (
		mu    sync.Mutex
		items []storage.RawItem
		errs  []error
		res   = RunResult{PerCollector: make(map[string]int, len(r.collectors))}
	)

	var wg conc.WaitGroup
	for _, c := range r.collectors {
		c := c
		wg.Go(func() {
			got, err := c.Collect(budgetCtx)

			mu.Lock()
			defer mu.Unlock()
			items = append(items, got...)
			res.PerCollector[c.Name()] = len(got)
			r.metrics.AddItemsCollected(c.Name(), len(got))

			switch {
			case err == nil:
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				res.BudgetHit = true
			default:
				r.logger.Warn().Err(err).Str("collector", c.Name()).Int("items", len(got)).Msg("collector failed")
				errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			}
		})
	}
	if panicked := wg.WaitAndRecover(); panicked != nil {
		errs = append(errs, panicked.AsError())
	}

	res.Collected = len(items)
	res.Elapsed = time.Since(start)
	if budgetCtx.Err() != nil && ctx.Err() == nil {
		res.BudgetHit = true
	}

	if len(items) > 0 {
		stored, err := r.store.InsertRawItems(ctx, items)
		if err != nil {
			return res, fmt.Errorf("store raw items: %w", err)
		}
		res.Stored = stored
	}

	r.logger.Info().
		Int("collected", res.Collected).
		Int("stored", res.Stored).
		Bool("budget_hit", res.BudgetHit).
		Dur("elapsed", res.Elapsed).
		Msg("collection run complete")

	if res.Collected == 0 && len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}
