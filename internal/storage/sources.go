package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertOutcomeSQL = `INSERT INTO signal_outcomes (
        signal_id,
        validation_window,
        percent_change,
        actual_move,
        direction_correct,
        threshold_met,
        outcome,
        validated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (signal_id, validation_window) DO NOTHING
    RETURNING id;`

	listOutcomesSQL = `SELECT
        id,
        signal_id,
        validation_window,
        percent_change,
        actual_move,
        direction_correct,
        threshold_met,
        outcome,
        validated_at
    FROM signal_outcomes
    WHERE signal_id = $1
    ORDER BY validated_at;`

	ensureSourceSQL = `INSERT INTO data_sources (
        id,
        name,
        platform,
        total_signals,
        true_positives,
        false_positives,
        accuracy,
        weight,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,0,0,0,0,$4,$5,$5
    )
    ON CONFLICT (name) DO NOTHING;`

	selectSourceColumns = `SELECT
        id,
        name,
        platform,
        total_signals,
        true_positives,
        false_positives,
        accuracy,
        weight,
        created_at,
        updated_at
    FROM data_sources`

	getSourceByNameSQL    = selectSourceColumns + ` WHERE name = $1;`
	getSourceSQL          = selectSourceColumns + ` WHERE id = $1;`
	getSourceForUpdateSQL = selectSourceColumns + ` WHERE id = $1 FOR UPDATE;`
	listSourcesSQL        = selectSourceColumns + ` ORDER BY accuracy DESC, name;`

	updateSourceSQL = `UPDATE data_sources
    SET total_signals = $2,
        true_positives = $3,
        false_positives = $4,
        accuracy = $5,
        weight = $6,
        updated_at = $7
    WHERE id = $1;`

	insertLearningSQL = `INSERT INTO learning_metrics (
        week_start,
        week_end,
        total_signals,
        accuracy_rate,
        best_sources,
        worst_sources,
        keyword_effectiveness,
        improvements,
        insights,
        degraded,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    RETURNING id;`

	listLearningSQL = `SELECT
        id,
        week_start,
        week_end,
        total_signals,
        accuracy_rate,
        best_sources,
        worst_sources,
        keyword_effectiveness,
        improvements,
        insights,
        degraded,
        created_at
    FROM learning_metrics
    ORDER BY created_at DESC
    LIMIT $1;`

	listInstrumentsSQL = `SELECT
        id,
        symbol,
        name,
        high_volatility,
        feed_address,
        created_at
    FROM instruments
    ORDER BY symbol;`

	upsertInstrumentSQL = `INSERT INTO instruments (
        id,
        symbol,
        name,
        high_volatility,
        feed_address,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (symbol) DO UPDATE SET
        name = EXCLUDED.name,
        high_volatility = EXCLUDED.high_volatility,
        feed_address = EXCLUDED.feed_address
    RETURNING id, created_at;`

	insertAlertSQL = `INSERT INTO alerts (
        signal_id,
        channel,
        delivered,
        sent_at
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id;`

	listRecentAlertsSQL = `SELECT
        id,
        signal_id,
        channel,
        delivered,
        sent_at
    FROM alerts
    ORDER BY sent_at DESC
    LIMIT $1;`
)

// InsertOutcome records a window resolution. A second insert for the same
// (signal, window) returns ErrDuplicateOutcome and leaves the first intact.
func (s *Store) InsertOutcome(ctx context.Context, outcome ValidationOutcome) (ValidationOutcome, error) {
	pool, err := s.getPool()
	if err != nil {
		return ValidationOutcome{}, err
	}
	if outcome.ValidatedAt.IsZero() {
		outcome.ValidatedAt = s.now()
	}

	scanErr := pool.QueryRow(ctx, insertOutcomeSQL,
		outcome.SignalID,
		outcome.Window,
		outcome.PercentChange.String(),
		outcome.ActualMove.String(),
		outcome.DirectionCorrect,
		outcome.ThresholdMet,
		string(outcome.Outcome),
		outcome.ValidatedAt,
	).Scan(&outcome.ID)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return ValidationOutcome{}, ErrDuplicateOutcome
	}
	if scanErr != nil {
		return ValidationOutcome{}, fmt.Errorf("insert outcome: %w", scanErr)
	}
	return outcome, nil
}

// ListOutcomes returns every resolved window for a signal.
func (s *Store) ListOutcomes(ctx context.Context, signalID string) ([]ValidationOutcome, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOutcomesSQL, signalID)
	if queryErr != nil {
		return nil, fmt.Errorf("list outcomes: %w", queryErr)
	}
	defer rows.Close()

	outcomes := make([]ValidationOutcome, 0, 4)
	for rows.Next() {
		var (
			o         ValidationOutcome
			pctStr    string
			moveStr   string
			outcomeSt string
		)
		if err := rows.Scan(
			&o.ID,
			&o.SignalID,
			&o.Window,
			&pctStr,
			&moveStr,
			&o.DirectionCorrect,
			&o.ThresholdMet,
			&outcomeSt,
			&o.ValidatedAt,
		); err != nil {
			return nil, err
		}
		if o.PercentChange, err = decimal.NewFromString(pctStr); err != nil {
			return nil, fmt.Errorf("parse percent change: %w", err)
		}
		if o.ActualMove, err = decimal.NewFromString(moveStr); err != nil {
			return nil, fmt.Errorf("parse actual move: %w", err)
		}
		o.Outcome = ValidationStatus(outcomeSt)
		outcomes = append(outcomes, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return outcomes, nil
}

// EnsureSource returns the source with the given name, creating it at the
// default weight when it does not exist yet.
func (s *Store) EnsureSource(ctx context.Context, name, platform string) (SourceCredibility, error) {
	pool, err := s.getPool()
	if err != nil {
		return SourceCredibility{}, err
	}

	now := s.now()
	if _, execErr := pool.Exec(ctx, ensureSourceSQL, uuid.NewString(), name, platform, DefaultWeight.String(), now); execErr != nil {
		return SourceCredibility{}, fmt.Errorf("ensure source: %w", execErr)
	}
	src, scanErr := scanSource(pool.QueryRow(ctx, getSourceByNameSQL, name))
	if scanErr != nil {
		return SourceCredibility{}, fmt.Errorf("load source %q: %w", name, scanErr)
	}
	return src, nil
}

// GetSource loads a single source by id.
func (s *Store) GetSource(ctx context.Context, id string) (SourceCredibility, error) {
	pool, err := s.getPool()
	if err != nil {
		return SourceCredibility{}, err
	}
	src, scanErr := scanSource(pool.QueryRow(ctx, getSourceSQL, id))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return SourceCredibility{}, ErrNotFound
	}
	if scanErr != nil {
		return SourceCredibility{}, fmt.Errorf("get source: %w", scanErr)
	}
	return src, nil
}

// ListSources returns all sources ordered by accuracy descending.
func (s *Store) ListSources(ctx context.Context) ([]SourceCredibility, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSourcesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list sources: %w", queryErr)
	}
	defer rows.Close()

	sources := make([]SourceCredibility, 0)
	for rows.Next() {
		src, scanErr := scanSource(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		sources = append(sources, src)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return sources, nil
}

// UpdateSource locks the source row, applies fn and writes the result back
// inside one transaction.
func (s *Store) UpdateSource(ctx context.Context, id string, fn func(*SourceCredibility) error) (SourceCredibility, error) {
	pool, err := s.getPool()
	if err != nil {
		return SourceCredibility{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return SourceCredibility{}, fmt.Errorf("begin source update: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	src, scanErr := scanSource(tx.QueryRow(ctx, getSourceForUpdateSQL, id))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return SourceCredibility{}, ErrNotFound
	}
	if scanErr != nil {
		return SourceCredibility{}, fmt.Errorf("lock source: %w", scanErr)
	}

	if err := fn(&src); err != nil {
		return SourceCredibility{}, err
	}
	src.UpdatedAt = s.now()

	if _, execErr := tx.Exec(ctx, updateSourceSQL,
		src.ID,
		src.TotalSignals,
		src.TruePositives.String(),
		src.FalsePositives,
		src.Accuracy.String(),
		src.Weight.String(),
		src.UpdatedAt,
	); execErr != nil {
		return SourceCredibility{}, fmt.Errorf("update source: %w", execErr)
	}
	if err := tx.Commit(ctx); err != nil {
		return SourceCredibility{}, fmt.Errorf("commit source update: %w", err)
	}
	return src, nil
}

func scanSource(row pgx.Row) (SourceCredibility, error) {
	var (
		src      SourceCredibility
		tpStr    string
		accStr   string
		weightSt string
	)
	if err := row.Scan(
		&src.ID,
		&src.Name,
		&src.Platform,
		&src.TotalSignals,
		&tpStr,
		&src.FalsePositives,
		&accStr,
		&weightSt,
		&src.CreatedAt,
		&src.UpdatedAt,
	); err != nil {
		return SourceCredibility{}, err
	}

	var err error
	if src.TruePositives, err = decimal.NewFromString(tpStr); err != nil {
		return SourceCredibility{}, fmt.Errorf("parse true positives: %w", err)
	}
	if src.Accuracy, err = decimal.NewFromString(accStr); err != nil {
		return SourceCredibility{}, fmt.Errorf("parse accuracy: %w", err)
	}
	if src.Weight, err = decimal.NewFromString(weightSt); err != nil {
		return SourceCredibility{}, fmt.Errorf("parse weight: %w", err)
	}
	return src, nil
}

// InsertLearningMetrics appends a weekly learning record.
func (s *Store) InsertLearningMetrics(ctx context.Context, metrics LearningMetrics) (LearningMetrics, error) {
	pool, err := s.getPool()
	if err != nil {
		return LearningMetrics{}, err
	}
	if metrics.CreatedAt.IsZero() {
		metrics.CreatedAt = s.now()
	}

	best, err := json.Marshal(metrics.BestSources)
	if err != nil {
		return LearningMetrics{}, fmt.Errorf("marshal best sources: %w", err)
	}
	worst, err := json.Marshal(metrics.WorstSources)
	if err != nil {
		return LearningMetrics{}, fmt.Errorf("marshal worst sources: %w", err)
	}
	keywords, err := json.Marshal(metrics.KeywordEffectiveness)
	if err != nil {
		return LearningMetrics{}, fmt.Errorf("marshal keyword effectiveness: %w", err)
	}

	if scanErr := pool.QueryRow(ctx, insertLearningSQL,
		metrics.WeekStart,
		metrics.WeekEnd,
		metrics.TotalSignals,
		metrics.AccuracyRate,
		best,
		worst,
		keywords,
		nonNilSlice(metrics.Improvements),
		metrics.Insights,
		metrics.Degraded,
		metrics.CreatedAt,
	).Scan(&metrics.ID); scanErr != nil {
		return LearningMetrics{}, fmt.Errorf("insert learning metrics: %w", scanErr)
	}
	return metrics, nil
}

// ListLearningMetrics returns the most recent learning records.
func (s *Store) ListLearningMetrics(ctx context.Context, limit int) ([]LearningMetrics, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listLearningSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list learning metrics: %w", queryErr)
	}
	defer rows.Close()

	out := make([]LearningMetrics, 0, limit)
	for rows.Next() {
		var (
			m                     LearningMetrics
			best, worst, keywords []byte
		)
		if err := rows.Scan(
			&m.ID,
			&m.WeekStart,
			&m.WeekEnd,
			&m.TotalSignals,
			&m.AccuracyRate,
			&best,
			&worst,
			&keywords,
			&m.Improvements,
			&m.Insights,
			&m.Degraded,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalIfPresent(best, &m.BestSources); err != nil {
			return nil, fmt.Errorf("parse best sources: %w", err)
		}
		if err := unmarshalIfPresent(worst, &m.WorstSources); err != nil {
			return nil, fmt.Errorf("parse worst sources: %w", err)
		}
		if err := unmarshalIfPresent(keywords, &m.KeywordEffectiveness); err != nil {
			return nil, fmt.Errorf("parse keyword effectiveness: %w", err)
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListInstruments returns tracked instruments ordered by symbol.
func (s *Store) ListInstruments(ctx context.Context) ([]Instrument, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listInstrumentsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list instruments: %w", queryErr)
	}
	defer rows.Close()

	out := make([]Instrument, 0)
	for rows.Next() {
		var inst Instrument
		if err := rows.Scan(&inst.ID, &inst.Symbol, &inst.Name, &inst.HighVolatility, &inst.FeedAddress, &inst.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpsertInstrument creates or refreshes a tracked instrument keyed by symbol.
func (s *Store) UpsertInstrument(ctx context.Context, inst Instrument) (Instrument, error) {
	pool, err := s.getPool()
	if err != nil {
		return Instrument{}, err
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = s.now()
	}

	if scanErr := pool.QueryRow(ctx, upsertInstrumentSQL,
		inst.ID,
		inst.Symbol,
		inst.Name,
		inst.HighVolatility,
		inst.FeedAddress,
		inst.CreatedAt,
	).Scan(&inst.ID, &inst.CreatedAt); scanErr != nil {
		return Instrument{}, fmt.Errorf("upsert instrument: %w", scanErr)
	}
	return inst, nil
}

// InsertAlert persists an alert audit record.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}
	if alert.SentAt.IsZero() {
		alert.SentAt = s.now()
	}

	if scanErr := pool.QueryRow(ctx, insertAlertSQL,
		alert.SignalID,
		alert.Channel,
		alert.Delivered,
		alert.SentAt,
	).Scan(&alert.ID); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts returns the most recent alert records.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	out := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var a AlertRecord
		if err := rows.Scan(&a.ID, &a.SignalID, &a.Channel, &a.Delivered, &a.SentAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func unmarshalIfPresent(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
