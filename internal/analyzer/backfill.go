package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cvgorod/chat-insights/internal/classifier"
	"github.com/cvgorod/chat-insights/internal/models"
	"github.com/cvgorod/chat-insights/internal/storage"
)

// BackfillOptions control one historical intent/sentiment run.
type BackfillOptions struct {
	Days        int
	BatchSize   int
	Concurrency int
	DryRun      bool
}

func (o *BackfillOptions) applyDefaults() {
	if o.Days <= 0 {
		o.Days = 30
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
}

// BackfillStats is the outcome of a backfill run.
type BackfillStats struct {
	Processed    int
	Saved        int
	Batches      int
	IntentCounts map[string]int
}

// Backfill walks the whole client-message backlog in (timestamp, id) order
// and fills the per-message analysis store. The cursor lives only for the
// duration of the run; a restarted run resumes through the already-analyzed
// exclusion in the batch query, with the per-message existence check as a
// second layer.
type Backfill struct {
	store      storage.MessageStore
	classifier classifier.Classifier
	logger     *zap.Logger

	now func() time.Time
	// Pause between batches keeps sustained provider pressure down.
	batchPause time.Duration
}

func NewBackfill(store storage.MessageStore, clf classifier.Classifier, logger *zap.Logger) *Backfill {
	return &Backfill{
		store:      store,
		classifier: clf,
		logger:     logger,
		now:        time.Now,
		batchPause: 200 * time.Millisecond,
	}
}

// Run drives repeated fetch/classify/persist cycles until the scan is
// exhausted. Unlike the interactive pipeline, provider transport exhaustion
// aborts the run: progress is preserved and the next run resumes.
func (b *Backfill) Run(ctx context.Context, opts BackfillOptions) (BackfillStats, error) {
	opts.applyDefaults()

	until := b.now().UTC()
	since := until.Add(-time.Duration(opts.Days) * 24 * time.Hour)

	stats := BackfillStats{IntentCounts: make(map[string]int)}
	cursor := models.Cursor{LastTimestamp: since}

	b.logger.Info("starting intent backfill",
		zap.Time("since", since),
		zap.Time("until", until),
		zap.Int("batch_size", opts.BatchSize),
		zap.Int("concurrency", opts.Concurrency),
		zap.Bool("dry_run", opts.DryRun))

	for {
		batch, err := b.store.NextClientBatch(ctx, since, until, cursor, opts.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to fetch batch: %w", err)
		}
		if len(batch) == 0 {
			b.logger.Info("backfill complete", zap.Int("batches", stats.Batches))
			break
		}

		stats.Batches++
		b.logger.Info("processing batch",
			zap.Int("batch", stats.Batches),
			zap.Int("messages", len(batch)),
			zap.Time("last_timestamp", batch[len(batch)-1].Timestamp))

		var mu sync.Mutex
		tasks := make([]func(context.Context) error, 0, len(batch))
		for _, msg := range batch {
			msg := msg
			tasks = append(tasks, func(taskCtx context.Context) error {
				saved, intent, err := b.processMessage(taskCtx, msg, opts.DryRun)
				if err != nil {
					return err
				}
				mu.Lock()
				stats.Processed++
				if saved {
					stats.Saved++
				}
				stats.IntentCounts[intent]++
				mu.Unlock()
				return nil
			})
		}

		if err := runBounded(ctx, opts.Concurrency, tasks); err != nil {
			return stats, err
		}

		// Advance only past work that actually completed.
		last := batch[len(batch)-1]
		cursor.Advance(last.Timestamp, last.ID)

		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-time.After(b.batchPause):
		}
	}

	for intent, count := range stats.IntentCounts {
		b.logger.Info("intent distribution", zap.String("intent", intent), zap.Int("count", count))
	}

	return stats, nil
}

func (b *Backfill) processMessage(ctx context.Context, msg models.ChatMessage, dryRun bool) (bool, string, error) {
	if dryRun {
		return false, "dry_run", nil
	}

	// Defense in depth: the batch query already excludes analyzed messages,
	// but a concurrent writer may have landed one since the fetch.
	exists, err := b.store.HasAnalysis(ctx, msg.ID)
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if exists {
		return false, "skipped_exists", nil
	}

	analysis, err := b.classifier.ClassifyIntent(ctx, msg.ID, msg.Text)
	if err != nil {
		return false, "", err
	}

	if err := b.store.SaveAnalysis(ctx, analysis); err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return true, analysis.Intent, nil
}
