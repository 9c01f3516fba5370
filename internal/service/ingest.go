package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"signal-intel/internal/storage"
)

// ErrIngestNotArray is returned when an ingest payload is not a JSON array.
var ErrIngestNotArray = errors.New("service: ingest payload must be a JSON array")

// IngestItem is the wire shape of one externally supplied raw item.
type IngestItem struct {
	ID             string         `json:"id,omitempty"`
	SourcePlatform string         `json:"source_platform"`
	SourceName     string         `json:"source_name"`
	Content        string         `json:"content"`
	URL            string         `json:"url,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CollectedAt    *time.Time     `json:"collected_at,omitempty"`
}

// RawItem converts the wire shape into a storage record.
func (i IngestItem) RawItem() storage.RawItem {
	item := storage.RawItem{
		ID:             i.ID,
		SourcePlatform: i.SourcePlatform,
		SourceName:     i.SourceName,
		Content:        i.Content,
		URL:            i.URL,
		Metadata:       i.Metadata,
	}
	if i.CollectedAt != nil {
		item.CollectedAt = i.CollectedAt.UTC()
	}
	return item
}

// DecodeIngest parses a JSON array of ingest items.
func DecodeIngest(r io.Reader) ([]storage.RawItem, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ingest payload: %w", err)
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '[' {
		return nil, ErrIngestNotArray
	}

	var wire []IngestItem
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("decode ingest payload: %w", err)
	}
	items := make([]storage.RawItem, 0, len(wire))
	for _, w := range wire {
		items = append(items, w.RawItem())
	}
	return items, nil
}
