package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIngest(t *testing.T) {
	items, err := DecodeIngest(strings.NewReader(`[
		{"source_platform":"twitter","source_name":"@fxdesk","content":"yen weakening","collected_at":"2024-03-01T10:00:00+02:00"},
		{"content":"no source"}
	]`))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "@fxdesk", items[0].SourceName)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), items[0].CollectedAt)
	assert.True(t, items[1].CollectedAt.IsZero())
}

func TestDecodeIngestRejectsNonArray(t *testing.T) {
	_, err := DecodeIngest(strings.NewReader(`{"content":"x"}`))
	assert.ErrorIs(t, err, ErrIngestNotArray)

	_, err = DecodeIngest(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrIngestNotArray)

	_, err = DecodeIngest(strings.NewReader(`[{"content":`))
	assert.Error(t, err)
}
