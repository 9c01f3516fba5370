package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository used by tests and dry runs.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	rawItems    map[string]RawItem
	signals     map[string]Signal
	outcomes    map[string]map[string]ValidationOutcome
	sources     map[string]SourceCredibility
	learning    []LearningMetrics
	instruments map[string]Instrument
	alerts      []AlertRecord
	nextID      int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         func() time.Time { return time.Now().UTC() },
		rawItems:    make(map[string]RawItem),
		signals:     make(map[string]Signal),
		outcomes:    make(map[string]map[string]ValidationOutcome),
		sources:     make(map[string]SourceCredibility),
		instruments: make(map[string]Instrument),
	}
}

// SetClock overrides the store's time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) InsertRawItems(_ context.Context, items []RawItem) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, item := range items {
		if _, ok := m.rawItems[item.ID]; ok {
			continue
		}
		item.Metadata = cloneMetadata(item.Metadata)
		m.rawItems[item.ID] = item
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStore) ListUnprocessed(_ context.Context, limit int) ([]RawItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RawItem, 0, len(m.rawItems))
	for _, item := range m.rawItems {
		if item.Processed {
			continue
		}
		item.Metadata = cloneMetadata(item.Metadata)
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CollectedAt.Equal(out[j].CollectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CollectedAt.After(out[j].CollectedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		item, ok := m.rawItems[id]
		if !ok {
			continue
		}
		item.Processed = true
		m.rawItems[id] = item
	}
	return nil
}

func (m *MemoryStore) InsertSignals(_ context.Context, signals []Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sig := range signals {
		m.signals[sig.ID] = cloneSignal(sig)
	}
	return nil
}

func (m *MemoryStore) ListPendingSignals(_ context.Context, limit int) ([]Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.filterSignals(func(s Signal) bool { return s.ValidationStatus == StatusPending })
	sortSignalsAsc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListSignalsBetween(_ context.Context, from, to time.Time) ([]Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.filterSignals(func(s Signal) bool {
		return !s.CreatedAt.Before(from) && s.CreatedAt.Before(to)
	})
	sortSignalsAsc(out)
	return out, nil
}

func (m *MemoryStore) ListRecentSignals(_ context.Context, limit int) ([]Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.filterSignals(func(Signal) bool { return true })
	sortSignalsAsc(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateSignalValidation(_ context.Context, id string, status ValidationStatus, windows map[string]ValidationOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sig, ok := m.signals[id]
	if !ok {
		return ErrNotFound
	}
	sig.ValidationStatus = status
	sig.ValidationWindows = cloneWindows(windows)
	sig.UpdatedAt = m.now()
	m.signals[id] = sig
	return nil
}

func (m *MemoryStore) filterSignals(keep func(Signal) bool) []Signal {
	out := make([]Signal, 0, len(m.signals))
	for _, sig := range m.signals {
		if keep(sig) {
			out = append(out, cloneSignal(sig))
		}
	}
	return out
}

func sortSignalsAsc(signals []Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].CreatedAt.Equal(signals[j].CreatedAt) {
			return signals[i].ID < signals[j].ID
		}
		return signals[i].CreatedAt.Before(signals[j].CreatedAt)
	})
}

func (m *MemoryStore) InsertOutcome(_ context.Context, outcome ValidationOutcome) (ValidationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	windows, ok := m.outcomes[outcome.SignalID]
	if !ok {
		windows = make(map[string]ValidationOutcome)
		m.outcomes[outcome.SignalID] = windows
	}
	if _, exists := windows[outcome.Window]; exists {
		return ValidationOutcome{}, ErrDuplicateOutcome
	}
	m.nextID++
	outcome.ID = m.nextID
	if outcome.ValidatedAt.IsZero() {
		outcome.ValidatedAt = m.now()
	}
	windows[outcome.Window] = outcome
	return outcome, nil
}

func (m *MemoryStore) ListOutcomes(_ context.Context, signalID string) ([]ValidationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ValidationOutcome, 0, len(m.outcomes[signalID]))
	for _, o := range m.outcomes[signalID] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) EnsureSource(_ context.Context, name, platform string) (SourceCredibility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, src := range m.sources {
		if src.Name == name {
			return src, nil
		}
	}
	src := NewSource(uuid.NewString(), name, platform, m.now())
	m.sources[src.ID] = src
	return src, nil
}

// PutSource stores a source verbatim, replacing any record with the same id.
func (m *MemoryStore) PutSource(src SourceCredibility) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.ID] = src
}

func (m *MemoryStore) GetSource(_ context.Context, id string) (SourceCredibility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[id]
	if !ok {
		return SourceCredibility{}, ErrNotFound
	}
	return src, nil
}

func (m *MemoryStore) ListSources(_ context.Context) ([]SourceCredibility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SourceCredibility, 0, len(m.sources))
	for _, src := range m.sources {
		out = append(out, src)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Accuracy.Cmp(out[j].Accuracy); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) UpdateSource(_ context.Context, id string, fn func(*SourceCredibility) error) (SourceCredibility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[id]
	if !ok {
		return SourceCredibility{}, ErrNotFound
	}
	if err := fn(&src); err != nil {
		return SourceCredibility{}, err
	}
	src.UpdatedAt = m.now()
	m.sources[id] = src
	return src, nil
}

func (m *MemoryStore) InsertLearningMetrics(_ context.Context, metrics LearningMetrics) (LearningMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	metrics.ID = m.nextID
	if metrics.CreatedAt.IsZero() {
		metrics.CreatedAt = m.now()
	}
	m.learning = append(m.learning, metrics)
	return metrics, nil
}

func (m *MemoryStore) ListLearningMetrics(_ context.Context, limit int) ([]LearningMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LearningMetrics, 0, len(m.learning))
	for i := len(m.learning) - 1; i >= 0; i-- {
		out = append(out, m.learning[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListInstruments(_ context.Context) ([]Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Instrument, 0, len(m.instruments))
	for _, inst := range m.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MemoryStore) UpsertInstrument(_ context.Context, inst Instrument) (Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.instruments[inst.Symbol]; ok {
		inst.ID = existing.ID
		inst.CreatedAt = existing.CreatedAt
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = m.now()
	}
	m.instruments[inst.Symbol] = inst
	return inst, nil
}

func (m *MemoryStore) InsertAlert(_ context.Context, alert AlertRecord) (AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	alert.ID = m.nextID
	if alert.SentAt.IsZero() {
		alert.SentAt = m.now()
	}
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *MemoryStore) ListRecentAlerts(_ context.Context, limit int) ([]AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AlertRecord, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		out = append(out, m.alerts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func cloneMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Repository = (*MemoryStore)(nil)
