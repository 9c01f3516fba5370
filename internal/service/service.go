package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"signal-intel/internal/alerting"
	"signal-intel/internal/collector"
	"signal-intel/internal/learning"
	"signal-intel/internal/metrics"
	"signal-intel/internal/pipeline"
	"signal-intel/internal/provider"
	"signal-intel/internal/scheduler"
	"signal-intel/internal/storage"
	"signal-intel/internal/validation"
)

// ErrEmptyIngest is returned when an ingest request carries no usable items.
var ErrEmptyIngest = errors.New("service: no items to ingest")

// Advisory lock offsets from the configured base key, one per stage.
const (
	lockProcess int64 = iota + 1
	lockValidate
	lockLearn
)

// Deps are the stage implementations a Service orchestrates.
type Deps struct {
	Store      storage.Repository
	Collector  *collector.Runner
	Processor  *pipeline.Processor
	// Classifier, Pattern and Meta report missing credentials up front;
	// nil means the stage has no readiness check.
	Classifier provider.Readiness
	Pattern    provider.Readiness
	Meta       provider.Readiness
	Validator  *validation.Engine
	Learner    *learning.Stage
	Alerts     *alerting.Dispatcher
	Metrics    *metrics.Registry
}

// Schedules configure the background loops started by Run.
type Schedules struct {
	Collect  scheduler.Options
	Validate scheduler.Options
	Learn    scheduler.Options
}

// Service orchestrates collection, processing, validation and learning.
type Service struct {
	deps    Deps
	locker  storage.AdvisoryLocker
	lockKey int64
	logger  zerolog.Logger
	now     func() time.Time
}

// New constructs the signal service. lockKey 0 disables cross-process locking.
func New(deps Deps, lockKey int64, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		deps:    deps,
		locker:  locker,
		lockKey: lockKey,
		logger:  logger.With().Str("component", "service").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CollectResult reports a collection run.
type CollectResult struct {
	Success        bool           `json:"success"`
	ItemsCollected int            `json:"items_collected"`
	ItemsStored    int            `json:"items_stored"`
	PerCollector   map[string]int `json:"per_collector,omitempty"`
	BudgetHit      bool           `json:"budget_hit"`
	Elapsed        string         `json:"elapsed"`
	Error          string         `json:"error,omitempty"`
}

// ProcessResult reports a processing run.
type ProcessResult struct {
	Success            bool   `json:"success"`
	Skipped            bool   `json:"skipped,omitempty"`
	RawItemsProcessed  int    `json:"raw_items_processed"`
	ExtractionFailures int    `json:"extraction_failures"`
	SignalsGenerated   int    `json:"signals_generated"`
	HighConfidence     int    `json:"high_confidence"`
	AlertsSent         int    `json:"alerts_sent"`
	Error              string `json:"error,omitempty"`
}

// ValidateResult reports a validation pass.
type ValidateResult struct {
	Success         bool   `json:"success"`
	Skipped         bool   `json:"skipped,omitempty"`
	Examined        int    `json:"examined"`
	Validated       int    `json:"validated"`
	WindowsResolved int    `json:"windows_resolved"`
	WindowsPending  int    `json:"windows_pending"`
	Error           string `json:"error,omitempty"`
}

// LearnResult reports a meta-learning run.
type LearnResult struct {
	Success      bool     `json:"success"`
	Skipped      bool     `json:"skipped,omitempty"`
	Degraded     bool     `json:"degraded,omitempty"`
	AccuracyRate float64  `json:"accuracy_rate"`
	TotalSignals int      `json:"total_signals"`
	Improvements []string `json:"improvements,omitempty"`
	Insights     string   `json:"insights,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Ingest stores externally supplied raw items. Items without content are
// dropped; missing ids and timestamps are filled in.
func (s *Service) Ingest(ctx context.Context, items []storage.RawItem) (int, error) {
	now := s.now()
	accepted := make([]storage.RawItem, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			continue
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CollectedAt.IsZero() {
			item.CollectedAt = now
		}
		if item.SourceName == "" {
			item.SourceName = "ingest"
		}
		if item.SourcePlatform == "" {
			item.SourcePlatform = "api"
		}
		item.Processed = false
		accepted = append(accepted, item)
	}
	if len(accepted) == 0 {
		return 0, ErrEmptyIngest
	}

	stored, err := s.deps.Store.InsertRawItems(ctx, accepted)
	if err != nil {
		return 0, fmt.Errorf("ingest raw items: %w", err)
	}
	s.logger.Info().Int("received", len(items)).Int("stored", stored).Msg("raw items ingested")
	return stored, nil
}

// Collect runs every collector once within the configured budget.
func (s *Service) Collect(ctx context.Context) CollectResult {
	started := time.Now()
	if s.deps.Collector == nil {
		return s.finishCollect(started, CollectResult{Error: "collection not configured"})
	}

	res, err := s.deps.Collector.Run(ctx)
	out := CollectResult{
		Success:        err == nil,
		ItemsCollected: res.Collected,
		ItemsStored:    res.Stored,
		PerCollector:   res.PerCollector,
		BudgetHit:      res.BudgetHit,
		Elapsed:        res.Elapsed.Round(time.Millisecond).String(),
	}
	if err != nil {
		out.Error = err.Error()
	}
	return s.finishCollect(started, out)
}

func (s *Service) finishCollect(started time.Time, out CollectResult) CollectResult {
	s.deps.Metrics.ObserveTrigger("collect", out.Success, time.Since(started))
	return out
}

// Process turns unprocessed raw items into signals and alerts on the
// confident ones. Alert delivery never fails the run.
func (s *Service) Process(ctx context.Context) ProcessResult {
	started := time.Now()
	out := s.process(ctx)
	s.deps.Metrics.ObserveTrigger("process", out.Success, time.Since(started))
	return out
}

func (s *Service) process(ctx context.Context) ProcessResult {
	if s.deps.Processor == nil {
		return ProcessResult{Error: "processing not configured"}
	}
	if err := ready(s.deps.Classifier, s.deps.Pattern); err != nil {
		s.logger.Error().Err(err).Msg("provider unavailable, skipping processing")
		return ProcessResult{Error: err.Error()}
	}

	unlock, proceed, err := s.acquireLock(ctx, lockProcess)
	if err != nil {
		return ProcessResult{Error: err.Error()}
	}
	if !proceed {
		s.logger.Debug().Msg("skip processing because advisory lock held elsewhere")
		return ProcessResult{Success: true, Skipped: true}
	}
	if unlock != nil {
		defer unlock()
	}

	res, err := s.deps.Processor.Run(ctx)
	out := ProcessResult{
		Success:            err == nil,
		RawItemsProcessed:  res.RawItemsProcessed,
		ExtractionFailures: res.ExtractionFailures,
		SignalsGenerated:   res.SignalsGenerated,
		HighConfidence:     res.HighConfidence,
	}
	if err != nil {
		out.Error = err.Error()
		return out
	}

	if s.deps.Alerts != nil && len(res.Signals) > 0 {
		out.AlertsSent = s.deps.Alerts.Dispatch(ctx, res.Signals, s.symbolIndex(ctx))
	}
	return out
}

func (s *Service) symbolIndex(ctx context.Context) map[string]string {
	instruments, err := s.deps.Store.ListInstruments(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load instruments for alerts")
		return nil
	}
	index := make(map[string]string, len(instruments))
	for _, inst := range instruments {
		index[inst.ID] = inst.Symbol
	}
	return index
}

// Validate resolves due validation windows of pending signals.
func (s *Service) Validate(ctx context.Context) ValidateResult {
	started := time.Now()
	out := s.validate(ctx)
	s.deps.Metrics.ObserveTrigger("validate", out.Success, time.Since(started))
	return out
}

func (s *Service) validate(ctx context.Context) ValidateResult {
	if s.deps.Validator == nil {
		return ValidateResult{Error: "validation not configured"}
	}

	unlock, proceed, err := s.acquireLock(ctx, lockValidate)
	if err != nil {
		return ValidateResult{Error: err.Error()}
	}
	if !proceed {
		s.logger.Debug().Msg("skip validation because advisory lock held elsewhere")
		return ValidateResult{Success: true, Skipped: true}
	}
	if unlock != nil {
		defer unlock()
	}

	res, err := s.deps.Validator.RunPass(ctx)
	if errors.Is(err, validation.ErrPassInProgress) {
		return ValidateResult{Success: true, Skipped: true}
	}
	out := ValidateResult{
		Success:         err == nil,
		Examined:        res.Examined,
		Validated:       res.Validated,
		WindowsResolved: res.WindowsResolved,
		WindowsPending:  res.WindowsPending,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// Learn runs the weekly meta-learning summary.
func (s *Service) Learn(ctx context.Context) LearnResult {
	started := time.Now()
	out := s.learn(ctx)
	s.deps.Metrics.ObserveTrigger("learn", out.Success, time.Since(started))
	return out
}

func (s *Service) learn(ctx context.Context) LearnResult {
	if s.deps.Learner == nil {
		return LearnResult{Error: "learning not configured"}
	}
	if err := ready(s.deps.Meta); err != nil {
		s.logger.Error().Err(err).Msg("meta provider unavailable, skipping learning")
		return LearnResult{Error: err.Error()}
	}

	unlock, proceed, err := s.acquireLock(ctx, lockLearn)
	if err != nil {
		return LearnResult{Error: err.Error()}
	}
	if !proceed {
		return LearnResult{Success: true, Skipped: true}
	}
	if unlock != nil {
		defer unlock()
	}

	res, err := s.deps.Learner.Run(ctx)
	if err != nil {
		return LearnResult{Error: err.Error()}
	}
	if res.Skipped {
		return LearnResult{Success: true, Skipped: true}
	}
	return LearnResult{
		Success:      true,
		Degraded:     res.Metrics.Degraded,
		AccuracyRate: res.Metrics.AccuracyRate,
		TotalSignals: res.Metrics.TotalSignals,
		Improvements: res.Metrics.Improvements,
		Insights:     res.Metrics.Insights,
	}
}

// RecentSignals lists the newest signals.
func (s *Service) RecentSignals(ctx context.Context, limit int) ([]storage.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.deps.Store.ListRecentSignals(ctx, limit)
}

// Sources lists source credibility ranked by accuracy.
func (s *Service) Sources(ctx context.Context) ([]storage.SourceCredibility, error) {
	return s.deps.Store.ListSources(ctx)
}

// Run starts the collect+process, validate and learn loops and blocks until
// ctx is cancelled.
func (s *Service) Run(ctx context.Context, schedules Schedules) error {
	group, gctx := errgroup.WithContext(ctx)

	loops := []struct {
		opts scheduler.Options
		tick scheduler.TickFunc
	}{
		{schedules.Collect, s.collectTick},
		{schedules.Validate, s.validateTick},
		{schedules.Learn, s.learnTick},
	}
	for _, loop := range loops {
		if loop.opts.Interval <= 0 {
			continue
		}
		sched := scheduler.New(loop.opts, s.logger)
		tick := loop.tick
		group.Go(func() error {
			return sched.Run(gctx, tick)
		})
	}

	err := group.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Service) collectTick(ctx context.Context, slot time.Time) error {
	collected := s.Collect(ctx)
	if !collected.Success {
		s.logger.Warn().Time("slot", slot).Str("error", collected.Error).Msg("collection failed, processing backlog anyway")
	}
	processed := s.Process(ctx)
	if !processed.Success {
		return errors.New(processed.Error)
	}
	s.logger.Info().Time("slot", slot).
		Int("items_collected", collected.ItemsCollected).
		Int("signals", processed.SignalsGenerated).
		Msg("collect cycle complete")
	return nil
}

func (s *Service) validateTick(ctx context.Context, _ time.Time) error {
	if res := s.Validate(ctx); !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

func (s *Service) learnTick(ctx context.Context, _ time.Time) error {
	if res := s.Learn(ctx); !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context, offset int64) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey+offset)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// ready returns the first missing-credentials error among checks.
func ready(checks ...provider.Readiness) error {
	for _, check := range checks {
		if check == nil {
			continue
		}
		if err := check.Available(); err != nil {
			return err
		}
	}
	return nil
}
