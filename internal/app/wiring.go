package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"signal-intel/internal/alerting"
	"signal-intel/internal/collector"
	"signal-intel/internal/config"
	"signal-intel/internal/credibility"
	"signal-intel/internal/learning"
	"signal-intel/internal/marketdata"
	"signal-intel/internal/metrics"
	"signal-intel/internal/pipeline"
	"signal-intel/internal/provider"
	"signal-intel/internal/service"
	"signal-intel/internal/storage"
	"signal-intel/internal/validation"
)

// providerSet is one executor-guarded client per provider role.
type providerSet struct {
	classifier    *provider.LLM
	pattern       *provider.LLM
	corroboration *provider.LLM
	meta          *provider.LLM
	search        *provider.LLM
}

// limiterPool hands out one limiter per vendor endpoint, so roles that call
// the same API share its spacing. The widest configured interval wins.
type limiterPool map[string]provider.Limiter

func limiterKey(name string, cfg config.ProviderConfig) string {
	base := strings.ToLower(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if base == "" {
		return name
	}
	return base
}

func newLimiterPool(p config.ProvidersConfig) limiterPool {
	roles := map[string]config.ProviderConfig{
		"classifier":    p.Classifier,
		"pattern":       p.Pattern,
		"corroboration": p.Corroboration,
		"meta":          p.Meta,
		"search":        p.Search,
		"quote":         p.Quote,
	}
	intervals := make(map[string]time.Duration, len(roles))
	for name, cfg := range roles {
		key := limiterKey(name, cfg)
		intervals[key] = max(intervals[key], cfg.MinInterval)
	}
	pool := make(limiterPool, len(intervals))
	for key, interval := range intervals {
		if interval > 0 {
			pool[key] = provider.NewIntervalLimiter(interval)
		}
	}
	return pool
}

// get returns the shared limiter for a role, nil when it is unthrottled.
func (p limiterPool) get(name string, cfg config.ProviderConfig) provider.Limiter {
	if limiter, ok := p[limiterKey(name, cfg)]; ok {
		return limiter
	}
	return nil
}

func (a *App) newExecutor(name string, cfg config.ProviderConfig, limiters limiterPool, reg *metrics.Registry) *provider.Executor {
	return provider.NewExecutor(limiters.get(name, cfg), provider.ExecutorOptions{
		Name:        name,
		Timeout:     cfg.Timeout,
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
	}, a.Logger, reg)
}

func (a *App) newLLM(name string, cfg config.ProviderConfig, limiters limiterPool, reg *metrics.Registry) *provider.LLM {
	creds := provider.NewCredentialPool(name, cfg.Keys)
	if creds.Size() == 0 {
		a.Logger.Warn().Str("provider", name).Msg("no credentials configured")
	}
	chat := provider.NewChatClient(provider.ChatConfig{
		Name:       name,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		HTTPClient: &http.Client{Timeout: cfg.Timeout + 5*time.Second},
	}, creds)
	return provider.NewLLM(chat, a.newExecutor(name, cfg, limiters, reg), provider.StageOptions{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
}

func (a *App) newProviders(limiters limiterPool, reg *metrics.Registry) providerSet {
	p := a.Config.Providers
	return providerSet{
		classifier:    a.newLLM("classifier", p.Classifier, limiters, reg),
		pattern:       a.newLLM("pattern", p.Pattern, limiters, reg),
		corroboration: a.newLLM("corroboration", p.Corroboration, limiters, reg),
		meta:          a.newLLM("meta", p.Meta, limiters, reg),
		search:        a.newLLM("search", p.Search, limiters, reg),
	}
}

// newMoves chains the quote API before the on-chain feeds and caches the
// result in redis when available.
func (a *App) newMoves(rdb redis.Cmdable, limiters limiterPool, reg *metrics.Registry) marketdata.MoveProvider {
	md := a.Config.MarketData
	quoteCfg := a.Config.Providers.Quote

	var providers []marketdata.MoveProvider
	if len(quoteCfg.Keys) > 0 {
		providers = append(providers, marketdata.NewQuoteAPI(marketdata.QuoteOptions{
			BaseURL:   quoteCfg.BaseURL,
			Interval:  md.QuoteInterval,
			UserAgent: md.UserAgent,
			Timeout:   quoteCfg.Timeout,
		}, provider.NewCredentialPool("quote", quoteCfg.Keys), a.newExecutor("quote", quoteCfg, limiters, reg), a.Logger))
	}
	if md.Ethereum.RPCURL != "" {
		providers = append(providers, marketdata.NewChainlink(marketdata.ChainlinkOptions{
			RPCURL:    md.Ethereum.RPCURL,
			BlockTime: md.Ethereum.BlockTime,
			Timeout:   md.Ethereum.RequestTimeout,
		}, a.Logger))
	}
	if len(providers) == 0 {
		a.Logger.Warn().Msg("no market data provider configured; validation windows stay pending")
		return marketdata.Unavailable{}
	}

	return marketdata.NewCached(marketdata.NewChain(a.Logger, providers...), rdb, marketdata.CacheOptions{
		Prefix: a.Config.Redis.Prefix,
		TTL:    a.Config.Redis.TTL,
	}, a.Logger)
}

func (a *App) newCollectors(search provider.Searcher) []collector.Collector {
	c := a.Config.Collector
	feeds := make([]collector.Feed, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		feeds = append(feeds, collector.Feed{Name: f.Name, URL: f.URL})
	}

	collectors := []collector.Collector{
		collector.NewSearchCollector(search, collector.SearchOptions{
			Symbols:   a.Config.TrackedSymbols(),
			BatchSize: c.SearchBatchSize,
			Pause:     c.SearchPause,
		}, a.Logger),
	}
	if len(feeds) > 0 {
		collectors = append(collectors, collector.NewRSSCollector(collector.RSSOptions{
			Feeds:     feeds,
			UserAgent: c.UserAgent,
			Timeout:   c.RequestTimeout,
		}, a.Logger))
	}
	if len(c.Subreddits) > 0 {
		collectors = append(collectors, collector.NewRedditCollector(collector.RedditOptions{
			Subreddits: c.Subreddits,
			MinUpvotes: c.MinUpvotes,
			UserAgent:  c.UserAgent,
			Timeout:    c.RequestTimeout,
		}, a.Logger))
	}
	return collectors
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newDispatcher(store storage.AlertStore) *alerting.Dispatcher {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	return alerting.NewDispatcher(a.newNotifier(), store, a.Config.Alerting.MinConfidence, a.Config.Alerting.Channels, a.Logger)
}

func (a *App) newService(store storage.Repository, rdb redis.Cmdable, reg *metrics.Registry) *service.Service {
	cfg := a.Config
	limiters := newLimiterPool(cfg.Providers)
	providers := a.newProviders(limiters, reg)
	cred := credibility.NewEngine(store, reg, a.Logger)

	processor := pipeline.NewProcessor(
		store,
		pipeline.NewExtractor(providers.classifier, cfg.Pipeline.MaxContentChars, cfg.Pipeline.Parallelism, a.Logger),
		pipeline.NewSynthesizer(providers.pattern, cfg.Pipeline.ConfidenceFloor, a.Logger),
		pipeline.NewCorroborationStage(providers.corroboration, cfg.Pipeline.CorroborationThreshold, a.Logger),
		cred,
		pipeline.Options{
			BatchSize:           cfg.Pipeline.BatchSize,
			DefaultInstrument:   cfg.Pipeline.DefaultInstrument,
			KeywordLimit:        cfg.Pipeline.KeywordLimit,
			CrossSourceMinItems: cfg.Pipeline.CrossSourceMinItems,
			HighConfidence:      cfg.Pipeline.CorroborationThreshold,
		},
		reg,
		a.Logger,
	)

	validator := validation.NewEngine(store, a.newMoves(rdb, limiters, reg), cred, validation.Options{
		BatchSize:               cfg.Validation.BatchSize,
		Threshold:               decimal.NewFromFloat(cfg.Validation.ThresholdPct),
		HighVolatilityThreshold: decimal.NewFromFloat(cfg.Validation.HighVolatilityThresholdPct),
		HighVolatilitySymbols:   cfg.Validation.HighVolatilitySymbols,
	}, reg, a.Logger)

	return service.New(service.Deps{
		Store:      store,
		Collector:  collector.NewRunner(store, cfg.Collector.Budget, reg, a.Logger, a.newCollectors(providers.search)...),
		Processor:  processor,
		Classifier: providers.classifier,
		Pattern:    providers.pattern,
		Meta:       providers.meta,
		Validator:  validator,
		Learner:    learning.NewStage(store, providers.meta, cfg.Learning.Window, a.Logger),
		Alerts:     a.newDispatcher(store),
		Metrics:    reg,
	}, a.lockKey(), a.Logger)
}
