package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Extraction is the per-item summary produced by a Classifier.
type Extraction struct {
	Sentiment           string   `json:"sentiment" jsonschema:"enum=positive,enum=negative,enum=neutral"`
	Keywords            []string `json:"keywords"`
	RelevantInstruments []string `json:"relevant_instruments" jsonschema:"description=Instrument symbols such as EUR/USD"`
	AnomalyScore        float64  `json:"anomaly_score" jsonschema:"minimum=0,maximum=1"`
	Summary             string   `json:"summary"`
}

// Candidate is a proposed signal returned by a PatternAnalyzer.
type Candidate struct {
	Type            string   `json:"signal_type" jsonschema:"enum=whisper,enum=signal,enum=context"`
	Category        string   `json:"category" jsonschema:"enum=sentiment,enum=narrative,enum=event,enum=technical,enum=meta"`
	Direction       string   `json:"direction" jsonschema:"enum=bullish,enum=bearish,enum=neutral"`
	Confidence      float64  `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	PredictedImpact *float64 `json:"predicted_impact,omitempty" jsonschema:"description=Expected percent move"`
	Narrative       string   `json:"narrative"`
	Reasoning       string   `json:"reasoning"`
}

// Corroboration is the evidence check returned by a Corroborator.
type Corroboration struct {
	Validated             bool     `json:"validated"`
	SupportingEvidence    []string `json:"supporting_evidence"`
	ContradictingEvidence []string `json:"contradicting_evidence"`
	Insight               string   `json:"contextual_insights"`
	ConfidenceAdjustment  float64  `json:"confidence_adjustment" jsonschema:"minimum=-0.3,maximum=0.3"`
}

// SourceScore ranks one source in a meta analysis.
type SourceScore struct {
	Source   string  `json:"source"`
	Accuracy float64 `json:"accuracy"`
}

// SourceSummary is the performance line a MetaAnalyst sees per source.
type SourceSummary struct {
	Name         string
	Accuracy     float64
	TotalSignals int64
}

// SignalSummary is the keyword and status view of one weekly signal.
type SignalSummary struct {
	Keywords []string
	Status   string
}

// MetaInput is the weekly performance snapshot given to a MetaAnalyst.
type MetaInput struct {
	Signals []SignalSummary
	Sources []SourceSummary
}

// MetaAnalysis is the weekly learning report.
type MetaAnalysis struct {
	AccuracyRate         float64            `json:"accuracy_rate" jsonschema:"minimum=0,maximum=1"`
	BestSources          []SourceScore      `json:"best_sources"`
	WorstSources         []SourceScore      `json:"worst_sources"`
	KeywordEffectiveness map[string]float64 `json:"keyword_effectiveness"`
	Improvements         []string           `json:"improvements"`
	Insights             string             `json:"insights"`
}

// Finding is one search-grounded observation about an instrument.
type Finding struct {
	Source     string  `json:"source"`
	Type       string  `json:"type" jsonschema:"enum=news,enum=social,enum=economic,enum=technical"`
	Content    string  `json:"content"`
	Sentiment  string  `json:"sentiment" jsonschema:"enum=bullish,enum=bearish,enum=neutral"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Timestamp  string  `json:"timestamp"`
}

// Classifier turns one piece of content into an Extraction.
type Classifier interface {
	Classify(ctx context.Context, content string) (Extraction, error)
}

// PatternAnalyzer proposes candidate signals from a batch of extractions.
type PatternAnalyzer interface {
	Analyze(ctx context.Context, extractions []Extraction, history string) ([]Candidate, error)
}

// Corroborator checks a candidate narrative against independent evidence.
type Corroborator interface {
	Corroborate(ctx context.Context, narrative string) (Corroboration, error)
}

// MetaAnalyst produces the weekly learning report.
type MetaAnalyst interface {
	MetaAnalyze(ctx context.Context, in MetaInput) (MetaAnalysis, error)
}

// Searcher gathers search-grounded findings for one instrument.
type Searcher interface {
	Search(ctx context.Context, symbol string) ([]Finding, error)
}

// Readiness is implemented by providers that can tell up front whether they
// have credentials to run.
type Readiness interface {
	Available() error
}

// StageOptions carries per-call generation settings.
type StageOptions struct {
	Temperature float64
	MaxTokens   int
}

// LLM implements every provider role over a Completer and an Executor.
type LLM struct {
	chat Completer
	exec *Executor
	opts StageOptions
}

// NewLLM binds a completer to the executor guarding its vendor.
func NewLLM(chat Completer, exec *Executor, opts StageOptions) *LLM {
	return &LLM{chat: chat, exec: exec, opts: opts}
}

// Available reports whether the underlying completer has credentials.
func (l *LLM) Available() error {
	return l.chat.Available()
}

func (l *LLM) complete(ctx context.Context, system, user string) (string, error) {
	req := ChatRequest{
		System:      system,
		User:        user,
		MaxTokens:   l.opts.MaxTokens,
		Temperature: Temp(l.opts.Temperature),
	}
	return l.exec.Do(ctx, func(ctx context.Context) (string, error) {
		return l.chat.Complete(ctx, req)
	})
}

func (l *LLM) Classify(ctx context.Context, content string) (Extraction, error) {
	user := fmt.Sprintf(`Analyze this market content for trading signals.

Content:
%s

Extract the sentiment, instrument-related keywords (currencies, central banks, economic terms), the instrument symbols it concerns, an anomaly score between 0 and 1 for how unusual or urgent it is, and a one-sentence summary.

Respond with a single JSON object matching this schema:
%s`, content, extractionSchema)

	raw, err := l.complete(ctx, "You are a market intelligence analyst. Always respond with valid JSON.", user)
	if err != nil {
		return Extraction{}, err
	}
	var out Extraction
	if err := DecodeObject(raw, &out); err != nil {
		return Extraction{}, err
	}
	return out, nil
}

func (l *LLM) Analyze(ctx context.Context, extractions []Extraction, history string) ([]Candidate, error) {
	var summary strings.Builder
	for i, ex := range extractions {
		fmt.Fprintf(&summary, "%d. %s (sentiment: %s, anomaly: %.2f)\n", i+1, ex.Summary, ex.Sentiment, ex.AnomalyScore)
	}

	user := fmt.Sprintf(`You have %d pieces of market intelligence. Identify early trading signals.

Recent data:
%s
Historical context:
%s

Signal tiers: "whisper" resolves within 2 hours, "signal" within 8 hours, "context" within 48 hours.
Be conservative and only return signals with confidence of at least 0.5. Return an empty array when nothing qualifies.

Respond with a JSON array matching this schema:
%s`, len(extractions), summary.String(), history, candidatesSchema)

	raw, err := l.complete(ctx, "You are an expert market analyst with pattern recognition capabilities. Always respond with valid JSON.", user)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	if err := DecodeArray(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *LLM) Corroborate(ctx context.Context, narrative string) (Corroboration, error) {
	user := fmt.Sprintf(`Research this market signal: %q.

Find supporting evidence, contradicting evidence and the broader context, then propose a confidence adjustment between -0.3 and 0.3.

Respond with a single JSON object matching this schema:
%s`, narrative, corroborationSchema)

	raw, err := l.complete(ctx, "You are a market research assistant. Provide factual, sourced information about market impacts.", user)
	if err != nil {
		return Corroboration{}, err
	}
	var out Corroboration
	if err := DecodeObject(raw, &out); err != nil {
		return Corroboration{}, err
	}
	return out, nil
}

func (l *LLM) MetaAnalyze(ctx context.Context, in MetaInput) (MetaAnalysis, error) {
	var tp, fp int
	for _, s := range in.Signals {
		switch s.Status {
		case "true_positive":
			tp++
		case "false_positive":
			fp++
		}
	}

	var sources strings.Builder
	for _, s := range in.Sources {
		fmt.Fprintf(&sources, "%s: %.2f accuracy (%d signals)\n", s.Name, s.Accuracy, s.TotalSignals)
	}
	signals, err := json.Marshal(in.Signals)
	if err != nil {
		return MetaAnalysis{}, fmt.Errorf("marshal weekly signals: %w", err)
	}

	user := fmt.Sprintf(`Analyze this week's performance.

Total signals: %d
True positives: %d
False positives: %d

Source performance:
%s
Signal keywords and outcomes:
%s

Compute the overall accuracy rate, the top 3 and bottom 3 sources, keyword effectiveness, 3-5 specific improvements for next week and strategic insights.

Respond with a single JSON object matching this schema:
%s`, len(in.Signals), tp, fp, sources.String(), signals, metaSchema)

	raw, err := l.complete(ctx, "You are the meta-learning system of a market intelligence platform. Always respond with valid JSON.", user)
	if err != nil {
		return MetaAnalysis{}, err
	}
	var out MetaAnalysis
	if err := DecodeObject(raw, &out); err != nil {
		return MetaAnalysis{}, err
	}
	return out, nil
}

func (l *LLM) Search(ctx context.Context, symbol string) ([]Finding, error) {
	user := fmt.Sprintf(`Search the web for the latest market intelligence on %s in the past 6 hours.

Focus on breaking news from major financial outlets, trader and analyst sentiment, central bank statements or economic releases, and unusual market moves or technical patterns.

Respond with only a JSON array matching this schema:
%s`, symbol, findingsSchema)

	raw, err := l.complete(ctx, "", user)
	if err != nil {
		return nil, err
	}
	var out []Finding
	if err := DecodeArray(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var (
	extractionSchema    = schemaFor[Extraction]()
	candidatesSchema    = schemaFor[[]Candidate]()
	corroborationSchema = schemaFor[Corroboration]()
	metaSchema          = schemaFor[MetaAnalysis]()
	findingsSchema      = schemaFor[[]Finding]()
)

func schemaFor[T any]() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return "{}"
	}
	return string(raw)
}

var (
	_ Classifier      = (*LLM)(nil)
	_ PatternAnalyzer = (*LLM)(nil)
	_ Corroborator    = (*LLM)(nil)
	_ MetaAnalyst     = (*LLM)(nil)
	_ Searcher        = (*LLM)(nil)
	_ Readiness       = (*LLM)(nil)
)
