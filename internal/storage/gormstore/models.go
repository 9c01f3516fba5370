package gormstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"signal-intel/internal/storage"
)

type rawItemRow struct {
	ID             string         `gorm:"primaryKey"`
	SourcePlatform string         `gorm:"index"`
	SourceName     string
	Content        string
	URL            string
	Metadata       map[string]any `gorm:"serializer:json"`
	CollectedAt    time.Time      `gorm:"index"`
	Processed      bool           `gorm:"index"`
}

func (rawItemRow) TableName() string { return "raw_items" }

func toRawItemRow(item storage.RawItem) rawItemRow {
	return rawItemRow{
		ID:             item.ID,
		SourcePlatform: item.SourcePlatform,
		SourceName:     item.SourceName,
		Content:        item.Content,
		URL:            item.URL,
		Metadata:       item.Metadata,
		CollectedAt:    item.CollectedAt,
		Processed:      item.Processed,
	}
}

func (r rawItemRow) toModel() storage.RawItem {
	return storage.RawItem{
		ID:             r.ID,
		SourcePlatform: r.SourcePlatform,
		SourceName:     r.SourceName,
		Content:        r.Content,
		URL:            r.URL,
		Metadata:       r.Metadata,
		CollectedAt:    r.CollectedAt,
		Processed:      r.Processed,
	}
}

type signalRow struct {
	ID                   string `gorm:"primaryKey"`
	InstrumentID         string `gorm:"index"`
	SignalType           string
	Category             string
	Direction            *string
	Confidence           float64
	PredictedImpact      *float64
	Keywords             []string `gorm:"serializer:json"`
	Narrative            string
	Reasoning            string
	Insight              string
	SourceIDs            []string `gorm:"serializer:json"`
	Corroborated         bool
	CrossSourceConfirmed bool
	ValidationStatus     string        `gorm:"index"`
	ValidationWindows    windowsColumn `gorm:"type:text"`
	CreatedAt            time.Time     `gorm:"index"`
	UpdatedAt            time.Time
}

func (signalRow) TableName() string { return "signals" }

func toSignalRow(sig storage.Signal) signalRow {
	var direction *string
	if sig.Direction != "" {
		d := string(sig.Direction)
		direction = &d
	}
	windows := sig.ValidationWindows
	if windows == nil {
		windows = map[string]storage.ValidationOutcome{}
	}
	return signalRow{
		ID:                   sig.ID,
		InstrumentID:         sig.InstrumentID,
		SignalType:           string(sig.Type),
		Category:             string(sig.Category),
		Direction:            direction,
		Confidence:           sig.Confidence,
		PredictedImpact:      sig.PredictedImpact,
		Keywords:             sig.Keywords,
		Narrative:            sig.Narrative,
		Reasoning:            sig.Reasoning,
		Insight:              sig.Insight,
		SourceIDs:            sig.SourceIDs,
		Corroborated:         sig.Corroborated,
		CrossSourceConfirmed: sig.CrossSourceConfirmed,
		ValidationStatus:     string(sig.ValidationStatus),
		ValidationWindows:    windowsColumn(windows),
		CreatedAt:            sig.CreatedAt,
		UpdatedAt:            sig.UpdatedAt,
	}
}

func (r signalRow) toModel() storage.Signal {
	sig := storage.Signal{
		ID:                   r.ID,
		InstrumentID:         r.InstrumentID,
		Type:                 storage.SignalType(r.SignalType),
		Category:             storage.Category(r.Category),
		Confidence:           r.Confidence,
		PredictedImpact:      r.PredictedImpact,
		Keywords:             r.Keywords,
		Narrative:            r.Narrative,
		Reasoning:            r.Reasoning,
		Insight:              r.Insight,
		SourceIDs:            r.SourceIDs,
		Corroborated:         r.Corroborated,
		CrossSourceConfirmed: r.CrossSourceConfirmed,
		ValidationStatus:     storage.ValidationStatus(r.ValidationStatus),
		ValidationWindows:    map[string]storage.ValidationOutcome(r.ValidationWindows),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.Direction != nil {
		sig.Direction = storage.Direction(*r.Direction)
	}
	if sig.ValidationWindows == nil {
		sig.ValidationWindows = map[string]storage.ValidationOutcome{}
	}
	return sig
}

// windowsColumn stores the per-window outcome cache as JSON text.
type windowsColumn map[string]storage.ValidationOutcome

func (w windowsColumn) Value() (driver.Value, error) {
	if w == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(map[string]storage.ValidationOutcome(w))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (w *windowsColumn) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*w = windowsColumn{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan validation windows: unsupported type %T", src)
	}
	out := map[string]storage.ValidationOutcome{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("scan validation windows: %w", err)
		}
	}
	*w = out
	return nil
}

type outcomeRow struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	SignalID         string `gorm:"uniqueIndex:idx_outcome_signal_window"`
	Window           string `gorm:"column:validation_window;uniqueIndex:idx_outcome_signal_window"`
	PercentChange    decimal.Decimal
	ActualMove       decimal.Decimal
	DirectionCorrect bool
	ThresholdMet     bool
	Outcome          string
	ValidatedAt      time.Time
}

func (outcomeRow) TableName() string { return "signal_outcomes" }

func toOutcomeRow(o storage.ValidationOutcome) outcomeRow {
	return outcomeRow{
		SignalID:         o.SignalID,
		Window:           o.Window,
		PercentChange:    o.PercentChange,
		ActualMove:       o.ActualMove,
		DirectionCorrect: o.DirectionCorrect,
		ThresholdMet:     o.ThresholdMet,
		Outcome:          string(o.Outcome),
		ValidatedAt:      o.ValidatedAt,
	}
}

func (r outcomeRow) toModel() storage.ValidationOutcome {
	return storage.ValidationOutcome{
		ID:               r.ID,
		SignalID:         r.SignalID,
		Window:           r.Window,
		PercentChange:    r.PercentChange,
		ActualMove:       r.ActualMove,
		DirectionCorrect: r.DirectionCorrect,
		ThresholdMet:     r.ThresholdMet,
		Outcome:          storage.ValidationStatus(r.Outcome),
		ValidatedAt:      r.ValidatedAt,
	}
}

type sourceRow struct {
	ID             string `gorm:"primaryKey"`
	Name           string `gorm:"uniqueIndex"`
	Platform       string
	TotalSignals   int64
	TruePositives  decimal.Decimal
	FalsePositives int64
	Accuracy       decimal.Decimal
	Weight         decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (sourceRow) TableName() string { return "data_sources" }

func toSourceRow(src storage.SourceCredibility) sourceRow {
	return sourceRow{
		ID:             src.ID,
		Name:           src.Name,
		Platform:       src.Platform,
		TotalSignals:   src.TotalSignals,
		TruePositives:  src.TruePositives,
		FalsePositives: src.FalsePositives,
		Accuracy:       src.Accuracy,
		Weight:         src.Weight,
		CreatedAt:      src.CreatedAt,
		UpdatedAt:      src.UpdatedAt,
	}
}

func (r sourceRow) toModel() storage.SourceCredibility {
	return storage.SourceCredibility{
		ID:             r.ID,
		Name:           r.Name,
		Platform:       r.Platform,
		TotalSignals:   r.TotalSignals,
		TruePositives:  r.TruePositives,
		FalsePositives: r.FalsePositives,
		Accuracy:       r.Accuracy,
		Weight:         r.Weight,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func sortByAccuracy(sources []storage.SourceCredibility) {
	sort.SliceStable(sources, func(i, j int) bool {
		if c := sources[i].Accuracy.Cmp(sources[j].Accuracy); c != 0 {
			return c > 0
		}
		return sources[i].Name < sources[j].Name
	})
}

type learningRow struct {
	ID                   int64 `gorm:"primaryKey;autoIncrement"`
	WeekStart            time.Time
	WeekEnd              time.Time
	TotalSignals         int
	AccuracyRate         float64
	BestSources          []storage.SourceScore `gorm:"serializer:json"`
	WorstSources         []storage.SourceScore `gorm:"serializer:json"`
	KeywordEffectiveness map[string]float64    `gorm:"serializer:json"`
	Improvements         []string              `gorm:"serializer:json"`
	Insights             string
	Degraded             bool
	CreatedAt            time.Time `gorm:"index"`
}

func (learningRow) TableName() string { return "learning_metrics" }

func toLearningRow(m storage.LearningMetrics) learningRow {
	return learningRow{
		ID:                   m.ID,
		WeekStart:            m.WeekStart,
		WeekEnd:              m.WeekEnd,
		TotalSignals:         m.TotalSignals,
		AccuracyRate:         m.AccuracyRate,
		BestSources:          m.BestSources,
		WorstSources:         m.WorstSources,
		KeywordEffectiveness: m.KeywordEffectiveness,
		Improvements:         m.Improvements,
		Insights:             m.Insights,
		Degraded:             m.Degraded,
		CreatedAt:            m.CreatedAt,
	}
}

func (r learningRow) toModel() storage.LearningMetrics {
	return storage.LearningMetrics{
		ID:                   r.ID,
		WeekStart:            r.WeekStart,
		WeekEnd:              r.WeekEnd,
		TotalSignals:         r.TotalSignals,
		AccuracyRate:         r.AccuracyRate,
		BestSources:          r.BestSources,
		WorstSources:         r.WorstSources,
		KeywordEffectiveness: r.KeywordEffectiveness,
		Improvements:         r.Improvements,
		Insights:             r.Insights,
		Degraded:             r.Degraded,
		CreatedAt:            r.CreatedAt,
	}
}

type instrumentRow struct {
	ID             string `gorm:"primaryKey"`
	Symbol         string `gorm:"uniqueIndex"`
	Name           string
	HighVolatility bool
	FeedAddress    string
	CreatedAt      time.Time
}

func (instrumentRow) TableName() string { return "instruments" }

func toInstrumentRow(inst storage.Instrument) instrumentRow {
	return instrumentRow{
		ID:             inst.ID,
		Symbol:         inst.Symbol,
		Name:           inst.Name,
		HighVolatility: inst.HighVolatility,
		FeedAddress:    inst.FeedAddress,
		CreatedAt:      inst.CreatedAt,
	}
}

func (r instrumentRow) toModel() storage.Instrument {
	return storage.Instrument{
		ID:             r.ID,
		Symbol:         r.Symbol,
		Name:           r.Name,
		HighVolatility: r.HighVolatility,
		FeedAddress:    r.FeedAddress,
		CreatedAt:      r.CreatedAt,
	}
}

type alertRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	SignalID  string `gorm:"index"`
	Channel   string
	Delivered bool
	SentAt    time.Time
}

func (alertRow) TableName() string { return "alerts" }
