package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cvgorod/chat-insights/internal/models"
)

func testDoc(t *testing.T) *Document {
	t.Helper()
	analyzedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	doc := NewDocument()
	doc.Chats["101"] = &models.CacheEntry{
		Expectation:    "wants weekly tulip pre-orders",
		Priority:       models.PriorityHigh,
		Actions:        []string{"a", "b", "c"},
		LastAnalyzedAt: &analyzedAt,
	}
	return doc
}

func TestLoadMissingFile(t *testing.T) {
	doc := Load(filepath.Join(t.TempDir(), "nope.json"), zap.NewNop())

	assert.Nil(t, doc.UpdatedAt)
	assert.Empty(t, doc.Chats)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	doc := Load(path, zap.NewNop())

	assert.Empty(t, doc.Chats)
}

func TestWriteLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "cache.json")

	require.NoError(t, Write(path, testDoc(t)))

	loaded := Load(path, zap.NewNop())
	require.Contains(t, loaded.Chats, "101")
	assert.Equal(t, "wants weekly tulip pre-orders", loaded.Chats["101"].Expectation)
	assert.Equal(t, []string{"a", "b", "c"}, loaded.Chats["101"].Actions)
}

func TestCrashBetweenTempWriteAndRename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, Write(path, testDoc(t)))

	// Simulate a crash after the temp write but before the rename: a stray
	// temp file with garbage must not affect what readers see.
	require.NoError(t, os.WriteFile(path+".tmp", []byte("garbage"), 0o644))

	loaded := Load(path, zap.NewNop())
	require.Contains(t, loaded.Chats, "101")
	assert.Equal(t, models.PriorityHigh, loaded.Chats["101"].Priority)
}

func TestWriteReplacesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, Write(path, testDoc(t)))

	doc := NewDocument()
	doc.Chats["202"] = &models.CacheEntry{Expectation: "new entry"}
	require.NoError(t, Write(path, doc))

	loaded := Load(path, zap.NewNop())
	assert.NotContains(t, loaded.Chats, "101")
	assert.Contains(t, loaded.Chats, "202")

	// No temp file should be left behind.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
