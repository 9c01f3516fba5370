package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"signal-intel/internal/logging"
)

const envPrefix = "SIGNALINTEL"

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Validation ValidationConfig `mapstructure:"validation"`
	MarketData MarketDataConfig `mapstructure:"marketdata"`
	Collector  CollectorConfig  `mapstructure:"collector"`
	Learning   LearningConfig   `mapstructure:"learning"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the persistent store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig enables the market-move cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

// SchedulerConfig governs the cadence of the background loops.
type SchedulerConfig struct {
	CollectInterval  time.Duration `mapstructure:"collect_interval"`
	ValidateInterval time.Duration `mapstructure:"validate_interval"`
	LearnInterval    time.Duration `mapstructure:"learn_interval"`
	AlignToInterval  bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	TriggerToken string        `mapstructure:"trigger_token"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	// Trigger routes run a full stage synchronously.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ProviderConfig describes one knowledge or market-data vendor.
type ProviderConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Keys        []string      `mapstructure:"keys"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// ProvidersConfig holds one entry per provider role.
type ProvidersConfig struct {
	Classifier    ProviderConfig `mapstructure:"classifier"`
	Pattern       ProviderConfig `mapstructure:"pattern"`
	Corroboration ProviderConfig `mapstructure:"corroboration"`
	Meta          ProviderConfig `mapstructure:"meta"`
	Search        ProviderConfig `mapstructure:"search"`
	Quote         ProviderConfig `mapstructure:"quote"`
}

// PipelineConfig tunes processing runs.
type PipelineConfig struct {
	BatchSize              int     `mapstructure:"batch_size"`
	Parallelism            int     `mapstructure:"parallelism"`
	MaxContentChars        int     `mapstructure:"max_content_chars"`
	ConfidenceFloor        float64 `mapstructure:"confidence_floor"`
	CorroborationThreshold float64 `mapstructure:"corroboration_threshold"`
	DefaultInstrument      string  `mapstructure:"default_instrument"`
	KeywordLimit           int     `mapstructure:"keyword_limit"`
	CrossSourceMinItems    int     `mapstructure:"cross_source_min_items"`
}

// ValidationConfig tunes validation passes. Thresholds are percent moves.
type ValidationConfig struct {
	BatchSize                  int      `mapstructure:"batch_size"`
	ThresholdPct               float64  `mapstructure:"threshold_pct"`
	HighVolatilityThresholdPct float64  `mapstructure:"high_volatility_threshold_pct"`
	HighVolatilitySymbols      []string `mapstructure:"high_volatility_symbols"`
}

// MarketDataConfig configures the move providers.
type MarketDataConfig struct {
	QuoteInterval string         `mapstructure:"quote_interval"`
	UserAgent     string         `mapstructure:"user_agent"`
	Ethereum      EthereumConfig `mapstructure:"ethereum"`
}

// EthereumConfig covers on-chain price feed access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	BlockTime      time.Duration `mapstructure:"block_time"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// InstrumentConfig seeds a tracked instrument.
type InstrumentConfig struct {
	Symbol         string `mapstructure:"symbol"`
	Name           string `mapstructure:"name"`
	HighVolatility bool   `mapstructure:"high_volatility"`
	FeedAddress    string `mapstructure:"feed_address"`
}

// FeedConfig names one RSS feed.
type FeedConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// CollectorConfig tunes data collection.
type CollectorConfig struct {
	Budget          time.Duration      `mapstructure:"budget"`
	Instruments     []InstrumentConfig `mapstructure:"instruments"`
	SearchBatchSize int                `mapstructure:"search_batch_size"`
	SearchPause     time.Duration      `mapstructure:"search_pause"`
	Feeds           []FeedConfig       `mapstructure:"feeds"`
	Subreddits      []string           `mapstructure:"subreddits"`
	MinUpvotes      int                `mapstructure:"min_upvotes"`
	UserAgent       string             `mapstructure:"user_agent"`
	RequestTimeout  time.Duration      `mapstructure:"request_timeout"`
}

// LearningConfig tunes the meta-learning run.
type LearningConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	MinConfidence float64        `mapstructure:"min_confidence"`
	Channels      []string       `mapstructure:"channels"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig configures the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv reads a .env next to the config file, then one in the working
// directory. Variables already present in the environment win.
func loadDotEnv(path string) error {
	candidates := []string{".env"}
	if path != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(path), ".env")}, candidates...)
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, file := range candidates {
		abs, err := filepath.Abs(file)
		if err != nil {
			abs = file
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "signal-intel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.sqlite_path", "signal-intel.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "72h")
	v.SetDefault("redis.prefix", "signalintel:move:")

	v.SetDefault("scheduler.collect_interval", "15m")
	v.SetDefault("scheduler.validate_interval", "1h")
	v.SetDefault("scheduler.learn_interval", "168h")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73696753))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "5m")

	v.SetDefault("providers.classifier.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("providers.classifier.model", "llama-3.1-8b-instant")
	v.SetDefault("providers.classifier.min_interval", "2s")
	v.SetDefault("providers.classifier.timeout", "15s")
	v.SetDefault("providers.classifier.max_attempts", 3)
	v.SetDefault("providers.classifier.backoff", "5s")
	v.SetDefault("providers.classifier.temperature", 0.1)
	v.SetDefault("providers.classifier.max_tokens", 500)

	v.SetDefault("providers.pattern.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("providers.pattern.model", "gemini-2.0-flash")
	v.SetDefault("providers.pattern.min_interval", "4s")
	v.SetDefault("providers.pattern.timeout", "45s")
	v.SetDefault("providers.pattern.max_attempts", 3)
	v.SetDefault("providers.pattern.backoff", "5s")
	v.SetDefault("providers.pattern.temperature", 0.3)
	v.SetDefault("providers.pattern.max_tokens", 2000)

	v.SetDefault("providers.corroboration.base_url", "https://api.perplexity.ai")
	v.SetDefault("providers.corroboration.model", "sonar")
	v.SetDefault("providers.corroboration.min_interval", "1s")
	v.SetDefault("providers.corroboration.timeout", "30s")
	v.SetDefault("providers.corroboration.max_attempts", 3)
	v.SetDefault("providers.corroboration.backoff", "5s")
	v.SetDefault("providers.corroboration.temperature", 0.2)
	v.SetDefault("providers.corroboration.max_tokens", 500)

	v.SetDefault("providers.meta.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("providers.meta.model", "gemini-2.0-flash")
	v.SetDefault("providers.meta.min_interval", "4s")
	v.SetDefault("providers.meta.timeout", "45s")
	v.SetDefault("providers.meta.max_attempts", 3)
	v.SetDefault("providers.meta.backoff", "5s")
	v.SetDefault("providers.meta.temperature", 0.4)
	v.SetDefault("providers.meta.max_tokens", 3000)

	v.SetDefault("providers.search.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("providers.search.model", "gemini-2.0-flash")
	v.SetDefault("providers.search.min_interval", "4s")
	v.SetDefault("providers.search.timeout", "30s")
	v.SetDefault("providers.search.max_attempts", 2)
	v.SetDefault("providers.search.backoff", "5s")
	v.SetDefault("providers.search.temperature", 0.2)
	v.SetDefault("providers.search.max_tokens", 2000)

	v.SetDefault("providers.quote.base_url", "https://api.twelvedata.com")
	v.SetDefault("providers.quote.min_interval", "8s")
	v.SetDefault("providers.quote.timeout", "15s")
	v.SetDefault("providers.quote.max_attempts", 3)
	v.SetDefault("providers.quote.backoff", "5s")

	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.parallelism", 4)
	v.SetDefault("pipeline.max_content_chars", 2000)
	v.SetDefault("pipeline.confidence_floor", 0.5)
	v.SetDefault("pipeline.corroboration_threshold", 0.7)
	v.SetDefault("pipeline.default_instrument", "EUR/USD")
	v.SetDefault("pipeline.keyword_limit", 10)
	v.SetDefault("pipeline.cross_source_min_items", 5)

	v.SetDefault("validation.batch_size", 100)
	v.SetDefault("validation.threshold_pct", 0.4)
	v.SetDefault("validation.high_volatility_threshold_pct", 0.7)
	v.SetDefault("validation.high_volatility_symbols", []string{"XAU/USD", "BTC/USD"})

	v.SetDefault("marketdata.quote_interval", "5min")
	v.SetDefault("marketdata.user_agent", "signal-intel/1.0")
	v.SetDefault("marketdata.ethereum.block_time", "12s")
	v.SetDefault("marketdata.ethereum.request_timeout", "10s")

	v.SetDefault("collector.budget", "50s")
	v.SetDefault("collector.instruments", []map[string]any{
		{"symbol": "EUR/USD", "name": "Euro / US Dollar"},
		{"symbol": "GBP/USD", "name": "British Pound / US Dollar"},
		{"symbol": "USD/JPY", "name": "US Dollar / Japanese Yen"},
		{"symbol": "XAU/USD", "name": "Gold / US Dollar", "high_volatility": true},
	})
	v.SetDefault("collector.search_batch_size", 2)
	v.SetDefault("collector.search_pause", "3s")
	v.SetDefault("collector.feeds", []map[string]any{
		{"name": "FXStreet", "url": "https://www.fxstreet.com/rss/news"},
		{"name": "ForexLive", "url": "https://www.forexlive.com/feed/news"},
	})
	v.SetDefault("collector.subreddits", []string{"Forex", "Economics"})
	v.SetDefault("collector.min_upvotes", 5)
	v.SetDefault("collector.user_agent", "signal-intel/1.0")
	v.SetDefault("collector.request_timeout", "10s")

	v.SetDefault("learning.window", "168h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_confidence", 0.8)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	// secrets have no default but must still be visible to AutomaticEnv
	for _, key := range []string{
		"database.dsn",
		"redis.addr",
		"redis.password",
		"http.trigger_token",
		"marketdata.ethereum.rpc_url",
		"alerting.telegram.bot_token",
		"alerting.telegram.chat_id",
	} {
		v.SetDefault(key, "")
	}
	for _, role := range []string{"classifier", "pattern", "corroboration", "meta", "search", "quote"} {
		v.SetDefault("providers."+role+".keys", []string{})
	}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("database.driver must be one of postgres, sqlite, memory (got %q)", c.Database.Driver)
	}
	if c.Database.Driver == DriverSQLite && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.CollectInterval <= 0 || c.Scheduler.ValidateInterval <= 0 || c.Scheduler.LearnInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than zero")
	}
	if c.Pipeline.ConfidenceFloor < 0 || c.Pipeline.ConfidenceFloor > 1 {
		return fmt.Errorf("pipeline.confidence_floor must be within [0,1]")
	}
	if c.Pipeline.CorroborationThreshold < 0 || c.Pipeline.CorroborationThreshold > 1 {
		return fmt.Errorf("pipeline.corroboration_threshold must be within [0,1]")
	}
	if c.Validation.ThresholdPct < 0 || c.Validation.HighVolatilityThresholdPct < 0 {
		return fmt.Errorf("validation thresholds cannot be negative")
	}
	if c.Alerting.MinConfidence < 0 || c.Alerting.MinConfidence > 1 {
		return fmt.Errorf("alerting.min_confidence must be within [0,1]")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// TrackedSymbols lists the configured instrument symbols in order.
func (c *Config) TrackedSymbols() []string {
	out := make([]string, 0, len(c.Collector.Instruments))
	for _, inst := range c.Collector.Instruments {
		out = append(out, inst.Symbol)
	}
	return out
}
