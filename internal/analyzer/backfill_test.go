package analyzer

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cvgorod/chat-insights/internal/models"
	"github.com/cvgorod/chat-insights/internal/storage"
)

func newTestBackfill(store storage.MessageStore, clf *stubClassifier) *Backfill {
	b := NewBackfill(store, clf, zap.NewNop())
	b.batchPause = 0
	return b
}

// seedBacklog adds n client messages, deliberately giving several of them the
// same timestamp so the id tiebreak is exercised.
func seedBacklog(store *storage.MemoryStorage, n int, base time.Time) []int64 {
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		// Four messages per timestamp bucket.
		ts := base.Add(time.Duration(i/4) * time.Minute)
		id := int64(i + 1)
		store.AddMessage(models.ChatMessage{
			ID:        id,
			ChatID:    int64(i%3 + 1),
			Text:      "client message",
			Timestamp: ts,
		}, storage.UserFlags{})
		ids = append(ids, id)
	}
	return ids
}

// Every message must be visited exactly once, in (timestamp, id) order,
// regardless of batch size.
func TestBackfillCursorCompleteness(t *testing.T) {
	base := time.Now().UTC().Add(-24 * time.Hour)

	for _, batchSize := range []int{1, 3, 7, 10, 100} {
		t.Run(fmt.Sprintf("batch_size_%d", batchSize), func(t *testing.T) {
			store := storage.NewMemoryStorage()
			ids := seedBacklog(store, 25, base)

			clf := newStubClassifier()
			b := newTestBackfill(store, clf)

			stats, err := b.Run(context.Background(), BackfillOptions{
				Days:        30,
				BatchSize:   batchSize,
				Concurrency: 1,
			})
			require.NoError(t, err)

			assert.Equal(t, len(ids), stats.Processed)
			assert.Equal(t, len(ids), stats.Saved)

			// No gaps, no duplicates, strictly ascending ids (ids were
			// assigned in (timestamp, id) order above).
			require.Len(t, clf.visitedIDs, len(ids))
			assert.True(t, sort.SliceIsSorted(clf.visitedIDs, func(i, j int) bool {
				return clf.visitedIDs[i] < clf.visitedIDs[j]
			}), "visit order must follow (timestamp, id)")

			seen := make(map[int64]bool)
			for _, id := range clf.visitedIDs {
				assert.False(t, seen[id], "message %d visited twice", id)
				seen[id] = true
			}
			for _, id := range ids {
				assert.True(t, seen[id], "message %d never visited", id)
			}
		})
	}
}

func TestBackfillSecondRunIsNoop(t *testing.T) {
	base := time.Now().UTC().Add(-24 * time.Hour)
	store := storage.NewMemoryStorage()
	seedBacklog(store, 10, base)

	clf := newStubClassifier()
	b := newTestBackfill(store, clf)

	first, err := b.Run(context.Background(), BackfillOptions{Days: 30, BatchSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 10, first.Saved)

	second, err := b.Run(context.Background(), BackfillOptions{Days: 30, BatchSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 10, clf.intentCalls, "already-analyzed messages must not be re-classified")
}

func TestBackfillDuplicateGuard(t *testing.T) {
	base := time.Now().UTC().Add(-24 * time.Hour)
	store := storage.NewMemoryStorage()
	seedBacklog(store, 5, base)

	// A concurrent writer already stored message 3.
	require.NoError(t, store.SaveAnalysis(context.Background(), &models.MessageAnalysis{
		MessageID: 3,
		Intent:    models.IntentOther,
		Sentiment: models.SentimentNeutral,
	}))

	clf := newStubClassifier()
	b := newTestBackfill(store, clf)

	stats, err := b.Run(context.Background(), BackfillOptions{Days: 30, BatchSize: 50})
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Saved)
	assert.NotContains(t, clf.visitedIDs, int64(3))
	assert.Equal(t, 5, store.AnalysisCount())
}

func TestBackfillExcludesStaffAndBots(t *testing.T) {
	base := time.Now().UTC().Add(-24 * time.Hour)
	store := storage.NewMemoryStorage()

	store.AddMessage(models.ChatMessage{ID: 1, ChatID: 1, Text: "client", Timestamp: base}, storage.UserFlags{})
	store.AddMessage(models.ChatMessage{ID: 2, ChatID: 1, Text: "from bot", Timestamp: base}, storage.UserFlags{IsBot: true})
	store.AddMessage(models.ChatMessage{ID: 3, ChatID: 1, Text: "from staff", Timestamp: base}, storage.UserFlags{IsStaff: true})
	store.AddMessage(models.ChatMessage{ID: 4, ChatID: 1, Text: "from manager", Timestamp: base}, storage.UserFlags{IsManager: true})
	store.AddMessage(models.ChatMessage{ID: 5, ChatID: 1, Text: "", Timestamp: base}, storage.UserFlags{})

	clf := newStubClassifier()
	b := newTestBackfill(store, clf)

	stats, err := b.Run(context.Background(), BackfillOptions{Days: 30, BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Saved)
	assert.Equal(t, []int64{1}, clf.visitedIDs)
}

func TestBackfillDryRun(t *testing.T) {
	base := time.Now().UTC().Add(-24 * time.Hour)
	store := storage.NewMemoryStorage()
	seedBacklog(store, 8, base)

	clf := newStubClassifier()
	b := newTestBackfill(store, clf)

	stats, err := b.Run(context.Background(), BackfillOptions{Days: 30, BatchSize: 3, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 8, stats.Processed)
	assert.Equal(t, 0, stats.Saved)
	assert.Equal(t, 0, clf.intentCalls)
	assert.Equal(t, 0, store.AnalysisCount())
	assert.Equal(t, 8, stats.IntentCounts["dry_run"])
}

func TestBackfillAbortsOnClassifierError(t *testing.T) {
	base := time.Now().UTC().Add(-24 * time.Hour)
	store := storage.NewMemoryStorage()
	seedBacklog(store, 4, base)

	clf := newStubClassifier()
	clf.intentErr = context.DeadlineExceeded
	b := newTestBackfill(store, clf)

	_, err := b.Run(context.Background(), BackfillOptions{Days: 30, BatchSize: 2, Concurrency: 1})
	assert.Error(t, err)
	// Nothing was saved for the failing items.
	assert.Equal(t, 0, store.AnalysisCount())
}
