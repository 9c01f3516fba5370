package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a record lookup matches nothing.
	ErrNotFound = errors.New("storage: record not found")
	// ErrDuplicateOutcome is returned when a (signal, window) outcome already exists.
	ErrDuplicateOutcome = errors.New("storage: outcome already recorded for window")
)

const (
	insertRawItemSQL = `INSERT INTO raw_items (
        id,
        source_platform,
        source_name,
        content,
        url,
        metadata,
        collected_at,
        processed
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (id) DO NOTHING;`

	listUnprocessedSQL = `SELECT
        id,
        source_platform,
        source_name,
        content,
        url,
        metadata,
        collected_at,
        processed
    FROM raw_items
    WHERE processed = false
    ORDER BY collected_at DESC
    LIMIT $1;`

	markProcessedSQL = `UPDATE raw_items SET processed = true WHERE id = ANY($1);`

	insertSignalSQL = `INSERT INTO signals (
        id,
        instrument_id,
        signal_type,
        category,
        direction,
        confidence,
        predicted_impact,
        keywords,
        narrative,
        reasoning,
        insight,
        source_ids,
        corroborated,
        cross_source_confirmed,
        validation_status,
        validation_windows,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
    );`

	selectSignalColumns = `SELECT
        id,
        instrument_id,
        signal_type,
        category,
        direction,
        confidence,
        predicted_impact,
        keywords,
        narrative,
        reasoning,
        insight,
        source_ids,
        corroborated,
        cross_source_confirmed,
        validation_status,
        validation_windows,
        created_at,
        updated_at
    FROM signals`

	listPendingSignalsSQL = selectSignalColumns + `
    WHERE validation_status = 'pending'
    ORDER BY created_at ASC
    LIMIT $1;`

	listSignalsBetweenSQL = selectSignalColumns + `
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	listRecentSignalsSQL = selectSignalColumns + `
    ORDER BY created_at DESC
    LIMIT $1;`

	updateSignalValidationSQL = `UPDATE signals
    SET validation_status = $2,
        validation_windows = $3,
        updated_at = $4
    WHERE id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RawItemStore persists collected content.
type RawItemStore interface {
	InsertRawItems(ctx context.Context, items []RawItem) (int, error)
	ListUnprocessed(ctx context.Context, limit int) ([]RawItem, error)
	MarkProcessed(ctx context.Context, ids []string) error
}

// SignalStore persists signals and their validation state.
type SignalStore interface {
	InsertSignals(ctx context.Context, signals []Signal) error
	ListPendingSignals(ctx context.Context, limit int) ([]Signal, error)
	ListSignalsBetween(ctx context.Context, from, to time.Time) ([]Signal, error)
	ListRecentSignals(ctx context.Context, limit int) ([]Signal, error)
	UpdateSignalValidation(ctx context.Context, id string, status ValidationStatus, windows map[string]ValidationOutcome) error
}

// OutcomeStore records per-window validation outcomes. InsertOutcome returns
// ErrDuplicateOutcome when the window was already resolved.
type OutcomeStore interface {
	InsertOutcome(ctx context.Context, outcome ValidationOutcome) (ValidationOutcome, error)
	ListOutcomes(ctx context.Context, signalID string) ([]ValidationOutcome, error)
}

// SourceStore persists source credibility. UpdateSource applies fn as an
// atomic read-modify-write of a single source row.
type SourceStore interface {
	EnsureSource(ctx context.Context, name, platform string) (SourceCredibility, error)
	GetSource(ctx context.Context, id string) (SourceCredibility, error)
	ListSources(ctx context.Context) ([]SourceCredibility, error)
	UpdateSource(ctx context.Context, id string, fn func(*SourceCredibility) error) (SourceCredibility, error)
}

// LearningStore persists weekly learning metrics.
type LearningStore interface {
	InsertLearningMetrics(ctx context.Context, metrics LearningMetrics) (LearningMetrics, error)
	ListLearningMetrics(ctx context.Context, limit int) ([]LearningMetrics, error)
}

// InstrumentStore persists tracked instruments.
type InstrumentStore interface {
	ListInstruments(ctx context.Context) ([]Instrument, error)
	UpsertInstrument(ctx context.Context, inst Instrument) (Instrument, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository aggregates every collection the pipeline reads and writes.
type Repository interface {
	RawItemStore
	SignalStore
	OutcomeStore
	SourceStore
	LearningStore
	InstrumentStore
	AlertStore
}

// Store implements Repository on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock is dropped with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertRawItems persists collected items, skipping ids that already exist.
func (s *Store) InsertRawItems(ctx context.Context, items []RawItem) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		metadata, err := json.Marshal(nonNilMap(item.Metadata))
		if err != nil {
			return 0, fmt.Errorf("marshal raw item metadata: %w", err)
		}
		batch.Queue(insertRawItemSQL,
			item.ID,
			item.SourcePlatform,
			item.SourceName,
			item.Content,
			item.URL,
			metadata,
			item.CollectedAt,
			item.Processed,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range items {
		tag, execErr := results.Exec()
		if execErr != nil {
			return inserted, fmt.Errorf("insert raw item: %w", execErr)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListUnprocessed lists the newest raw items that have not been extracted yet.
func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]RawItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listUnprocessedSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list unprocessed raw items: %w", queryErr)
	}
	defer rows.Close()

	items := make([]RawItem, 0, limit)
	for rows.Next() {
		var (
			item     RawItem
			metadata []byte
		)
		if err := rows.Scan(
			&item.ID,
			&item.SourcePlatform,
			&item.SourceName,
			&item.Content,
			&item.URL,
			&metadata,
			&item.CollectedAt,
			&item.Processed,
		); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
				return nil, fmt.Errorf("parse raw item metadata: %w", err)
			}
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// MarkProcessed flags raw items as consumed by extraction.
func (s *Store) MarkProcessed(ctx context.Context, ids []string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if _, execErr := pool.Exec(ctx, markProcessedSQL, ids); execErr != nil {
		return fmt.Errorf("mark raw items processed: %w", execErr)
	}
	return nil
}

// InsertSignals persists newly synthesized signals.
func (s *Store) InsertSignals(ctx context.Context, signals []Signal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, sig := range signals {
		windows, err := json.Marshal(cloneWindows(sig.ValidationWindows))
		if err != nil {
			return fmt.Errorf("marshal validation windows: %w", err)
		}
		batch.Queue(insertSignalSQL,
			sig.ID,
			sig.InstrumentID,
			string(sig.Type),
			string(sig.Category),
			nullableString(string(sig.Direction)),
			sig.Confidence,
			sig.PredictedImpact,
			nonNilSlice(sig.Keywords),
			sig.Narrative,
			sig.Reasoning,
			sig.Insight,
			nonNilSlice(sig.SourceIDs),
			sig.Corroborated,
			sig.CrossSourceConfirmed,
			string(sig.ValidationStatus),
			windows,
			sig.CreatedAt,
			sig.UpdatedAt,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range signals {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert signal: %w", execErr)
		}
	}
	return nil
}

// ListPendingSignals lists unresolved signals, oldest first.
func (s *Store) ListPendingSignals(ctx context.Context, limit int) ([]Signal, error) {
	return s.querySignals(ctx, "list pending signals", listPendingSignalsSQL, limit)
}

// ListSignalsBetween lists signals created within a time window.
func (s *Store) ListSignalsBetween(ctx context.Context, from, to time.Time) ([]Signal, error) {
	return s.querySignals(ctx, "list signals between", listSignalsBetweenSQL, from, to)
}

// ListRecentSignals lists the most recent signals ordered by descending creation time.
func (s *Store) ListRecentSignals(ctx context.Context, limit int) ([]Signal, error) {
	return s.querySignals(ctx, "list recent signals", listRecentSignalsSQL, limit)
}

// UpdateSignalValidation stores a signal's status and window ledger.
func (s *Store) UpdateSignalValidation(ctx context.Context, id string, status ValidationStatus, windows map[string]ValidationOutcome) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(cloneWindows(windows))
	if err != nil {
		return fmt.Errorf("marshal validation windows: %w", err)
	}
	tag, execErr := pool.Exec(ctx, updateSignalValidationSQL, id, string(status), payload, s.now())
	if execErr != nil {
		return fmt.Errorf("update signal validation: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) querySignals(ctx context.Context, op, query string, args ...any) ([]Signal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	signals := make([]Signal, 0)
	for rows.Next() {
		sig, scanErr := scanSignal(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		signals = append(signals, sig)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return signals, nil
}

func scanSignal(rows pgx.Rows) (Signal, error) {
	var (
		sig        Signal
		sigType    string
		category   string
		direction  sql.NullString
		impact     *float64
		status     string
		windowsRaw []byte
	)

	if err := rows.Scan(
		&sig.ID,
		&sig.InstrumentID,
		&sigType,
		&category,
		&direction,
		&sig.Confidence,
		&impact,
		&sig.Keywords,
		&sig.Narrative,
		&sig.Reasoning,
		&sig.Insight,
		&sig.SourceIDs,
		&sig.Corroborated,
		&sig.CrossSourceConfirmed,
		&status,
		&windowsRaw,
		&sig.CreatedAt,
		&sig.UpdatedAt,
	); err != nil {
		return Signal{}, err
	}

	sig.Type = SignalType(sigType)
	sig.Category = Category(category)
	if direction.Valid {
		sig.Direction = Direction(direction.String)
	}
	sig.PredictedImpact = impact
	sig.ValidationStatus = ValidationStatus(status)
	sig.ValidationWindows = map[string]ValidationOutcome{}
	if len(windowsRaw) > 0 {
		if err := json.Unmarshal(windowsRaw, &sig.ValidationWindows); err != nil {
			return Signal{}, fmt.Errorf("parse validation windows: %w", err)
		}
	}
	return sig, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nonNilSlice(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilMap(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

var _ Repository = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
