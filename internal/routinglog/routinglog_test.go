package routinglog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routing.jsonl")
	w, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestAppend_ThenSinceReturnsIt(t *testing.T) {
	w := newTestWriter(t)
	now := time.Now().UTC()

	w.Append(Entry{RequestID: "r1", Timestamp: now, ModelID: "claude-haiku", Tier: types.TierSimple})

	entries, err := w.Since(now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "r1", entries[0].RequestID)
	assert.Equal(t, "claude-haiku", entries[0].ModelID)
}

func TestSince_ExcludesEntriesBeforeCutoff(t *testing.T) {
	w := newTestWriter(t)
	base := time.Now().UTC()

	w.Append(Entry{RequestID: "old", Timestamp: base.Add(-time.Hour), ModelID: "m1"})
	w.Append(Entry{RequestID: "new", Timestamp: base, ModelID: "m2"})

	entries, err := w.Since(base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].RequestID)
}

func TestLookup_ResolvesAppendedRequest(t *testing.T) {
	w := newTestWriter(t)
	w.Append(Entry{RequestID: "parent-1", ModelID: "claude-sonnet", Timestamp: time.Now()})

	modelID, ok := w.Lookup("parent-1")
	require.True(t, ok)
	assert.Equal(t, "claude-sonnet", modelID)

	_, ok = w.Lookup("unknown")
	assert.False(t, ok)
}

func TestOpen_ReplaysIndexAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.jsonl")

	w1, err := Open(path, nil)
	require.NoError(t, err)
	w1.Append(Entry{RequestID: "r1", ModelID: "claude-opus", Timestamp: time.Now()})
	require.NoError(t, w1.Close())

	w2, err := Open(path, nil)
	require.NoError(t, err)
	defer w2.Close()

	modelID, ok := w2.Lookup("r1")
	require.True(t, ok)
	assert.Equal(t, "claude-opus", modelID)
}
