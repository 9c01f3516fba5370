package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalType is the validation-horizon tier of a signal.
type SignalType string

const (
	SignalWhisper  SignalType = "whisper"
	SignalStandard SignalType = "signal"
	SignalContext  SignalType = "context"
)

// Category classifies what kind of evidence produced a signal.
type Category string

const (
	CategorySentiment Category = "sentiment"
	CategoryNarrative Category = "narrative"
	CategoryEvent     Category = "event"
	CategoryTechnical Category = "technical"
	CategoryMeta      Category = "meta"
)

// Direction is the predicted price direction. The empty value means no direction was given.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// ValidationStatus is both a signal's overall status and a single window's outcome.
type ValidationStatus string

const (
	StatusPending       ValidationStatus = "pending"
	StatusTruePositive  ValidationStatus = "true_positive"
	StatusFalsePositive ValidationStatus = "false_positive"
	StatusPartial       ValidationStatus = "partial"
)

// RawItem is one collected unit of content awaiting extraction.
type RawItem struct {
	ID             string
	SourcePlatform string
	SourceName     string
	Content        string
	URL            string
	Metadata       map[string]any
	CollectedAt    time.Time
	Processed      bool
}

// Signal is a scored, time-boxed market call attached to one instrument.
type Signal struct {
	ID                   string
	InstrumentID         string
	Type                 SignalType
	Category             Category
	Direction            Direction
	Confidence           float64
	PredictedImpact      *float64
	Keywords             []string
	Narrative            string
	Reasoning            string
	Insight              string
	SourceIDs            []string
	Corroborated         bool
	CrossSourceConfirmed bool
	ValidationStatus     ValidationStatus
	ValidationWindows    map[string]ValidationOutcome
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ValidationOutcome is the immutable resolution of one signal for one window.
type ValidationOutcome struct {
	ID               int64            `json:"id,omitempty"`
	SignalID         string           `json:"signal_id"`
	Window           string           `json:"window"`
	PercentChange    decimal.Decimal  `json:"percent_change"`
	ActualMove       decimal.Decimal  `json:"actual_move"`
	DirectionCorrect bool             `json:"direction_correct"`
	ThresholdMet     bool             `json:"threshold_met"`
	Outcome          ValidationStatus `json:"outcome"`
	ValidatedAt      time.Time        `json:"validated_at"`
	// CreditOwed lists sources not yet credited with this window's result.
	// Only the signal's window cache carries it.
	CreditOwed []string `json:"credit_owed,omitempty"`
}

// SourceCredibility tracks how far a data source can be trusted.
type SourceCredibility struct {
	ID             string
	Name           string
	Platform       string
	TotalSignals   int64
	TruePositives  decimal.Decimal
	FalsePositives int64
	Accuracy       decimal.Decimal
	Weight         decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SourceScore ranks a source inside a learning report.
type SourceScore struct {
	Source   string  `json:"source"`
	Accuracy float64 `json:"accuracy"`
}

// LearningMetrics is the append-only weekly meta-learning record.
type LearningMetrics struct {
	ID                   int64
	WeekStart            time.Time
	WeekEnd              time.Time
	TotalSignals         int
	AccuracyRate         float64
	BestSources          []SourceScore
	WorstSources         []SourceScore
	KeywordEffectiveness map[string]float64
	Improvements         []string
	Insights             string
	Degraded             bool
	CreatedAt            time.Time
}

// Instrument is a tracked market symbol signals can be attached to.
type Instrument struct {
	ID             string
	Symbol         string
	Name           string
	HighVolatility bool
	FeedAddress    string
	CreatedAt      time.Time
}

// AlertRecord captures an emitted signal alert for auditing.
type AlertRecord struct {
	ID        int64
	SignalID  string
	Channel   string
	Delivered bool
	SentAt    time.Time
}

// DefaultWeight is the trust weight every new source starts with.
var DefaultWeight = decimal.NewFromInt(1)

// NewSource returns a fresh credibility record with neutral trust.
func NewSource(id, name, platform string, now time.Time) SourceCredibility {
	return SourceCredibility{
		ID:            id,
		Name:          name,
		Platform:      platform,
		TruePositives: decimal.Zero,
		Accuracy:      decimal.Zero,
		Weight:        DefaultWeight,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func cloneWindows(in map[string]ValidationOutcome) map[string]ValidationOutcome {
	out := make(map[string]ValidationOutcome, len(in))
	for k, v := range in {
		v.CreditOwed = append([]string(nil), v.CreditOwed...)
		out[k] = v
	}
	return out
}

func cloneSignal(s Signal) Signal {
	s.Keywords = append([]string(nil), s.Keywords...)
	s.SourceIDs = append([]string(nil), s.SourceIDs...)
	s.ValidationWindows = cloneWindows(s.ValidationWindows)
	if s.PredictedImpact != nil {
		v := *s.PredictedImpact
		s.PredictedImpact = &v
	}
	return s
}
