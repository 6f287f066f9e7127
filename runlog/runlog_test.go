package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, max int) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs.json")
	return NewStore(path, max), path
}

func TestStore_AppendCreatesFile(t *testing.T) {
	s, path := newTestStore(t, 5)

	require.NoError(t, s.Append(Entry{Event: EventBotRun, Success: true}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.BotLogs, 1)
	assert.True(t, doc.BotLogs[0].Success)
	assert.NotEmpty(t, doc.BotLogs[0].ID)
	assert.False(t, doc.BotLogs[0].Timestamp.IsZero())
}

func TestStore_BucketNeverExceedsMax(t *testing.T) {
	s, _ := newTestStore(t, 5)

	for i := 0; i < 12; i++ {
		require.NoError(t, s.Append(Entry{Event: EventBotRun, Detail: map[string]any{"n": i}}))
	}

	doc := s.Load()
	require.Len(t, doc.BotLogs, 5)
	// most recent entries are retained, oldest dropped first
	assert.EqualValues(t, 7, doc.BotLogs[0].Detail["n"])
	assert.EqualValues(t, 11, doc.BotLogs[4].Detail["n"])
}

func TestStore_BucketsAreIndependent(t *testing.T) {
	s, _ := newTestStore(t, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(Entry{Event: EventBotRun}))
	}
	require.NoError(t, s.Append(Entry{Event: EventCleanupRun}))

	doc := s.Load()
	assert.Len(t, doc.BotLogs, 3)
	assert.Len(t, doc.CleanupLogs, 1)
}

func TestStore_ToleratesCorruptFile(t *testing.T) {
	s, path := newTestStore(t, 5)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	require.NoError(t, s.Append(Entry{Event: EventCleanupRun, Success: true}))

	doc := s.Load()
	require.Len(t, doc.CleanupLogs, 1)
	assert.Empty(t, doc.BotLogs)
}

func TestStore_ToleratesMissingBucket(t *testing.T) {
	s, path := newTestStore(t, 5)
	// a file written by the cleanup job alone has no bot_logs key
	require.NoError(t, os.WriteFile(path, []byte(`{"cleanup_logs":[{"id":"x","event":"cleanup-run"}]}`), 0o644))

	require.NoError(t, s.Append(Entry{Event: EventBotRun}))

	doc := s.Load()
	assert.Len(t, doc.CleanupLogs, 1)
	assert.Len(t, doc.BotLogs, 1)
}

func TestStore_RejectsUnknownEvent(t *testing.T) {
	s, _ := newTestStore(t, 5)
	assert.Error(t, s.Append(Entry{Event: "mystery"}))
}

func TestStore_NoLeftoverTempFile(t *testing.T) {
	s, path := newTestStore(t, 5)
	require.NoError(t, s.Append(Entry{Event: EventBotRun}))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestStore_PreservesErrorAndDetail(t *testing.T) {
	s, _ := newTestStore(t, 5)
	require.NoError(t, s.Append(Entry{
		Event:  EventBotRun,
		Error:  fmt.Sprintf("failed to download avatar, status: %d", 404),
		Detail: map[string]any{"changed": true, "published": 0},
	}))

	doc := s.Load()
	require.Len(t, doc.BotLogs, 1)
	assert.Contains(t, doc.BotLogs[0].Error, "404")
	assert.EqualValues(t, true, doc.BotLogs[0].Detail["changed"])
}
