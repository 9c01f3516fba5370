package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"signal-intel/internal/config"
	"signal-intel/internal/httpapi"
	"signal-intel/internal/metrics"
	"signal-intel/internal/scheduler"
	"signal-intel/internal/service"
	"signal-intel/internal/storage"
	"signal-intel/internal/storage/gormstore"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// runtime holds everything one command needs; close releases it.
type runtime struct {
	store   storage.Repository
	metrics *metrics.Registry
	service *service.Service
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) openStore(ctx context.Context) (storage.Repository, func(), error) {
	db := a.Config.Database
	switch db.Driver {
	case config.DriverMemory:
		a.Logger.Warn().Msg("using in-memory store; data is lost on exit")
		return storage.NewMemoryStore(), func() {}, nil
	case config.DriverSQLite:
		store, err := gormstore.Open(db.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store, err := storage.Open(ctx, db, a.Config.App.Name)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

func (a *App) newRedis(ctx context.Context) (redis.Cmdable, func()) {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		a.Logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable; move cache disabled")
		_ = client.Close()
		return nil, nil
	}
	return client, func() { _ = client.Close() }
}

// seedInstruments makes sure every configured instrument is tracked.
func (a *App) seedInstruments(ctx context.Context, store storage.InstrumentStore) error {
	for _, inst := range a.Config.Collector.Instruments {
		if inst.Symbol == "" {
			continue
		}
		if _, err := store.UpsertInstrument(ctx, storage.Instrument{
			Symbol:         inst.Symbol,
			Name:           inst.Name,
			HighVolatility: inst.HighVolatility,
			FeedAddress:    inst.FeedAddress,
		}); err != nil {
			return fmt.Errorf("seed instrument %s: %w", inst.Symbol, err)
		}
	}
	return nil
}

func (a *App) build(ctx context.Context) (*runtime, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rt := &runtime{store: store, metrics: metrics.NewRegistry(), closers: []func(){closeStore}}

	if err := a.seedInstruments(ctx, store); err != nil {
		rt.close()
		return nil, err
	}

	rdb, closeRedis := a.newRedis(ctx)
	if closeRedis != nil {
		rt.closers = append(rt.closers, closeRedis)
	}

	rt.service = a.newService(store, rdb, rt.metrics)
	return rt, nil
}

func (a *App) lockKey() int64 {
	if a.Config.Database.Driver != config.DriverPostgres {
		return 0
	}
	return a.Config.Scheduler.AdvisoryLockKey
}

func (a *App) schedules() service.Schedules {
	s := a.Config.Scheduler
	opts := func(name string, interval time.Duration, immediate bool) scheduler.Options {
		return scheduler.Options{
			Name:           name,
			Interval:       interval,
			AlignToStart:   s.AlignToInterval,
			StartupDelay:   s.StartupDelay,
			RunImmediately: immediate,
		}
	}
	return service.Schedules{
		Collect:  opts("collect", s.CollectInterval, true),
		Validate: opts("validate", s.ValidateInterval, false),
		Learn:    opts("learn", s.LearnInterval, false),
	}
}

// Run executes the scheduler loops until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	a.Logger.Info().Msg("starting signal pipeline")
	if err := rt.service.Run(ctx, a.schedules()); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}
	a.Logger.Info().Msg("signal pipeline stopped")
	return nil
}

// ServeOptions configure the serve command.
type ServeOptions struct {
	Addr        string
	NoScheduler bool
}

// Serve runs the HTTP API, optionally alongside the scheduler loops.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	addr := opts.Addr
	if addr == "" {
		addr = a.Config.HTTP.Addr
	}
	router := httpapi.NewRouter(rt.service, rt.metrics, httpapi.RouterConfig{
		TriggerToken: a.Config.HTTP.TriggerToken,
		Production:   a.Config.App.Environment == "production",
	}, a.Logger)
	server := httpapi.NewServer(addr, router, a.Config.HTTP.ReadTimeout, a.Config.HTTP.WriteTimeout, a.Logger)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Run(gctx) })
	if !opts.NoScheduler {
		group.Go(func() error { return rt.service.Run(gctx, a.schedules()) })
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Migrate applies the SQL migrations to the configured postgres database.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.Driver != config.DriverPostgres {
		a.Logger.Info().Str("driver", a.Config.Database.Driver).Msg("schema is managed automatically for this driver")
		return nil
	}
	store, err := storage.Open(ctx, a.Config.Database, a.Config.App.Name)
	if err != nil {
		return err
	}
	defer store.Close()

	applied, err := store.ApplyMigrations(ctx, a.Config.Database.MigrationsPath)
	if err != nil {
		return err
	}
	a.Logger.Info().Strs("files", applied).Msg("migrations applied")
	return a.seedInstruments(ctx, store)
}

// ExportOptions hold parameters for exporting historical signals.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	// Instrument and Status narrow the export; empty keeps everything.
	Instrument string
	Status     storage.ValidationStatus
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the validation backlog drain.
type BackfillOptions struct {
	MaxPasses int
	Pause     time.Duration
}
