package httpapi

import (
	"time"

	"signal-intel/internal/storage"
)

// SignalView is the JSON shape of a signal.
type SignalView struct {
	ID                   string                               `json:"id"`
	InstrumentID         string                               `json:"instrument_id"`
	Type                 string                               `json:"signal_type"`
	Category             string                               `json:"category"`
	Direction            string                               `json:"direction,omitempty"`
	Confidence           float64                              `json:"confidence"`
	PredictedImpact      *float64                             `json:"predicted_impact,omitempty"`
	Keywords             []string                             `json:"keywords"`
	Narrative            string                               `json:"narrative"`
	Insight              string                               `json:"insight,omitempty"`
	SourceIDs            []string                             `json:"source_ids"`
	Corroborated         bool                                 `json:"corroborated"`
	CrossSourceConfirmed bool                                 `json:"cross_source_confirmed"`
	ValidationStatus     string                               `json:"validation_status"`
	ValidationWindows    map[string]storage.ValidationOutcome `json:"validation_windows"`
	CreatedAt            time.Time                            `json:"created_at"`
}

func newSignalView(s storage.Signal) SignalView {
	windows := s.ValidationWindows
	if windows == nil {
		windows = map[string]storage.ValidationOutcome{}
	}
	return SignalView{
		ID:                   s.ID,
		InstrumentID:         s.InstrumentID,
		Type:                 string(s.Type),
		Category:             string(s.Category),
		Direction:            string(s.Direction),
		Confidence:           s.Confidence,
		PredictedImpact:      s.PredictedImpact,
		Keywords:             nonNil(s.Keywords),
		Narrative:            s.Narrative,
		Insight:              s.Insight,
		SourceIDs:            nonNil(s.SourceIDs),
		Corroborated:         s.Corroborated,
		CrossSourceConfirmed: s.CrossSourceConfirmed,
		ValidationStatus:     string(s.ValidationStatus),
		ValidationWindows:    windows,
		CreatedAt:            s.CreatedAt,
	}
}

// SourceView is the JSON shape of a source's credibility.
type SourceView struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Platform       string  `json:"platform"`
	TotalSignals   int64   `json:"total_signals"`
	TruePositives  string  `json:"true_positives"`
	FalsePositives int64   `json:"false_positives"`
	Accuracy       float64 `json:"accuracy"`
	Weight         float64 `json:"weight"`
}

func newSourceView(s storage.SourceCredibility) SourceView {
	return SourceView{
		ID:             s.ID,
		Name:           s.Name,
		Platform:       s.Platform,
		TotalSignals:   s.TotalSignals,
		TruePositives:  s.TruePositives.String(),
		FalsePositives: s.FalsePositives,
		Accuracy:       s.Accuracy.InexactFloat64(),
		Weight:         s.Weight.InexactFloat64(),
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
