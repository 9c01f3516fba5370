// Package gormstore persists the pipeline into an embedded SQLite database
// through gorm, for single-node deployments without PostgreSQL.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"signal-intel/internal/storage"
)

// Store implements storage.Repository on gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the sqlite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database.dsn is required for sqlite")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&rawItemRow{},
		&signalRow{},
		&outcomeRow{},
		&sourceRow{},
		&learningRow{},
		&instrumentRow{},
		&alertRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *Store) getDB(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.db.WithContext(ctx), nil
}

func (s *Store) InsertRawItems(ctx context.Context, items []storage.RawItem) (int, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	rows := make([]rawItemRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, toRawItemRow(item))
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("insert raw items: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]storage.RawItem, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	var rows []rawItemRow
	if err := db.Where("processed = ?", false).Order("collected_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list unprocessed raw items: %w", err)
	}
	out := make([]storage.RawItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (s *Store) MarkProcessed(ctx context.Context, ids []string) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := db.Model(&rawItemRow{}).Where("id IN ?", ids).Update("processed", true).Error; err != nil {
		return fmt.Errorf("mark raw items processed: %w", err)
	}
	return nil
}

func (s *Store) InsertSignals(ctx context.Context, signals []storage.Signal) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	if len(signals) == 0 {
		return nil
	}
	rows := make([]signalRow, 0, len(signals))
	for _, sig := range signals {
		rows = append(rows, toSignalRow(sig))
	}
	if err := db.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert signals: %w", err)
	}
	return nil
}

func (s *Store) ListPendingSignals(ctx context.Context, limit int) ([]storage.Signal, error) {
	return s.findSignals(ctx, "list pending signals", func(db *gorm.DB) *gorm.DB {
		return db.Where("validation_status = ?", string(storage.StatusPending)).Order("created_at ASC").Limit(limit)
	})
}

func (s *Store) ListSignalsBetween(ctx context.Context, from, to time.Time) ([]storage.Signal, error) {
	return s.findSignals(ctx, "list signals between", func(db *gorm.DB) *gorm.DB {
		return db.Where("created_at >= ? AND created_at < ?", from, to).Order("created_at ASC")
	})
}

func (s *Store) ListRecentSignals(ctx context.Context, limit int) ([]storage.Signal, error) {
	return s.findSignals(ctx, "list recent signals", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at DESC").Limit(limit)
	})
}

func (s *Store) findSignals(ctx context.Context, op string, scope func(*gorm.DB) *gorm.DB) ([]storage.Signal, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	var rows []signalRow
	if err := scope(db).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]storage.Signal, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (s *Store) UpdateSignalValidation(ctx context.Context, id string, status storage.ValidationStatus, windows map[string]storage.ValidationOutcome) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	if windows == nil {
		windows = map[string]storage.ValidationOutcome{}
	}
	res := db.Model(&signalRow{ID: id}).Updates(map[string]any{
		"validation_status":  string(status),
		"validation_windows": windowsColumn(windows),
		"updated_at":         s.now(),
	})
	if res.Error != nil {
		return fmt.Errorf("update signal validation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) InsertOutcome(ctx context.Context, outcome storage.ValidationOutcome) (storage.ValidationOutcome, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return storage.ValidationOutcome{}, err
	}
	if outcome.ValidatedAt.IsZero() {
		outcome.ValidatedAt = s.now()
	}
	row := toOutcomeRow(outcome)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return storage.ValidationOutcome{}, fmt.Errorf("insert outcome: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ValidationOutcome{}, storage.ErrDuplicateOutcome
	}
	return row.toModel(), nil
}

func (s *Store) ListOutcomes(ctx context.Context, signalID string) ([]storage.ValidationOutcome, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	var rows []outcomeRow
	if err := db.Where("signal_id = ?", signalID).Order("validated_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	out := make([]storage.ValidationOutcome, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (s *Store) EnsureSource(ctx context.Context, name, platform string) (storage.SourceCredibility, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return storage.SourceCredibility{}, err
	}
	row := toSourceRow(storage.NewSource(uuid.NewString(), name, platform, s.now()))
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return storage.SourceCredibility{}, fmt.Errorf("ensure source: %w", err)
	}
	var existing sourceRow
	if err := db.Where("name = ?", name).First(&existing).Error; err != nil {
		return storage.SourceCredibility{}, fmt.Errorf("load source %q: %w", name, err)
	}
	return existing.toModel(), nil
}

func (s *Store) GetSource(ctx context.Context, id string) (storage.SourceCredibility, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return storage.SourceCredibility{}, err
	}
	var row sourceRow
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.SourceCredibility{}, storage.ErrNotFound
		}
		return storage.SourceCredibility{}, fmt.Errorf("get source: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListSources(ctx context.Context) ([]storage.SourceCredibility, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	var rows []sourceRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	out := make([]storage.SourceCredibility, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	// accuracy is stored as text, so order in Go rather than in SQL
	sortByAccuracy(out)
	return out, nil
}

func (s *Store) UpdateSource(ctx context.Context, id string, fn func(*storage.SourceCredibility) error) (storage.SourceCredibility, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return storage.SourceCredibility{}, err
	}

	var updated storage.SourceCredibility
	txErr := db.Transaction(func(tx *gorm.DB) error {
		var row sourceRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("lock source: %w", err)
		}
		src := row.toModel()
		if err := fn(&src); err != nil {
			return err
		}
		src.UpdatedAt = s.now()
		next := toSourceRow(src)
		if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("update source: %w", err)
		}
		updated = src
		return nil
	})
	if txErr != nil {
		return storage.SourceCredibility{}, txErr
	}
	return updated, nil
}

func (s *Store) InsertLearningMetrics(ctx context.Context, metrics storage.LearningMetrics) (storage.LearningMetrics, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return storage.LearningMetrics{}, err
	}
	if metrics.CreatedAt.IsZero() {
		metrics.CreatedAt = s.now()
	}
	row := toLearningRow(metrics)
	if err := db.Create(&row).Error; err != nil {
		return storage.LearningMetrics{}, fmt.Errorf("insert learning metrics: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListLearningMetrics(ctx context.Context, limit int) ([]storage.LearningMetrics, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	var rows []learningRow
	if err := db.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list learning metrics: %w", err)
	}
	out := make([]storage.LearningMetrics, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (s *Store) ListInstruments(ctx context.Context) ([]storage.Instrument, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	var rows []instrumentRow
	if err := db.Order("symbol ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	out := make([]storage.Instrument, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (s *Store) UpsertInstrument(ctx context.Context, inst storage.Instrument) (storage.Instrument, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return storage.Instrument{}, err
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = s.now()
	}
	row := toInstrumentRow(inst)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "high_volatility", "feed_address"}),
	}).Create(&row).Error; err != nil {
		return storage.Instrument{}, fmt.Errorf("upsert instrument: %w", err)
	}
	var stored instrumentRow
	if err := db.Where("symbol = ?", inst.Symbol).First(&stored).Error; err != nil {
		return storage.Instrument{}, fmt.Errorf("load instrument %q: %w", inst.Symbol, err)
	}
	return stored.toModel(), nil
}

func (s *Store) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return storage.AlertRecord{}, err
	}
	if alert.SentAt.IsZero() {
		alert.SentAt = s.now()
	}
	row := alertRow{SignalID: alert.SignalID, Channel: alert.Channel, Delivered: alert.Delivered, SentAt: alert.SentAt}
	if err := db.Create(&row).Error; err != nil {
		return storage.AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}
	alert.ID = row.ID
	return alert, nil
}

func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	var rows []alertRow
	if err := db.Order("sent_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	out := make([]storage.AlertRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, storage.AlertRecord{
			ID:        row.ID,
			SignalID:  row.SignalID,
			Channel:   row.Channel,
			Delivered: row.Delivered,
			SentAt:    row.SentAt,
		})
	}
	return out, nil
}

var _ storage.Repository = (*Store)(nil)
