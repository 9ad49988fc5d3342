// Package analyzer runs the incremental classification pipeline: find chats
// with recent activity, skip the ones whose cached analysis is still fresh,
// assemble a transcript window for the rest, classify them under a bounded
// concurrency limit and persist the merged cache document.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cvgorod/chat-insights/internal/cache"
	"github.com/cvgorod/chat-insights/internal/classifier"
	"github.com/cvgorod/chat-insights/internal/models"
	"github.com/cvgorod/chat-insights/internal/storage"
)

// RunOptions are the knobs of one expectation analysis run.
type RunOptions struct {
	Force       bool
	Limit       int
	DryRun      bool
	ActiveHours int
	ContextDays int
	MaxMessages int
	Concurrency int
}

func (o *RunOptions) applyDefaults() {
	if o.ActiveHours <= 0 {
		o.ActiveHours = 24
	}
	if o.ContextDays <= 0 {
		o.ContextDays = 3
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = 50
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
}

// Analyzer owns the expectation pipeline. Construct once and reuse; all state
// of a single run lives in the run itself.
type Analyzer struct {
	store      storage.MessageStore
	classifier classifier.Classifier
	cachePath  string
	logger     *zap.Logger

	now func() time.Time
}

func New(store storage.MessageStore, clf classifier.Classifier, cachePath string, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		store:      store,
		classifier: clf,
		cachePath:  cachePath,
		logger:     logger,
		now:        time.Now,
	}
}

// shouldAnalyze is the staleness gate: a chat is reanalyzed only when it has
// activity newer than its cached analysis, or when the run is forced.
func shouldAnalyze(cached *models.CacheEntry, lastMessageAt time.Time, force bool) bool {
	if force {
		return true
	}
	if cached == nil || cached.LastAnalyzedAt == nil {
		return true
	}
	return lastMessageAt.After(*cached.LastAnalyzedAt)
}

// formatConversation renders the transcript the way the prompt expects:
// oldest first, one "[ROLE] name: text" line per message.
func formatConversation(messages []models.ChatMessage) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		name := strings.TrimSpace(msg.Sender)
		if name == "" {
			name = string(msg.Role)
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", msg.Role, name, strings.TrimSpace(msg.Text)))
	}
	return strings.Join(lines, "\n")
}

// lastClientMessage returns the text of the most recent client message in the
// window, if any.
func lastClientMessage(messages []models.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleClient && messages[i].Text != "" {
			return messages[i].Text
		}
	}
	return ""
}

// Run executes one full pipeline pass and returns the resulting document.
// Per-chat failures are counted and logged but never abort the run; only
// auth failures and store unavailability propagate.
func (a *Analyzer) Run(ctx context.Context, opts RunOptions) (*cache.Document, error) {
	opts.applyDefaults()

	runID := uuid.New().String()[:8]
	logger := a.logger.With(zap.String("run_id", runID))

	doc := cache.Load(a.cachePath, logger)

	now := a.now().UTC()
	activeSince := now.Add(-time.Duration(opts.ActiveHours) * time.Hour)

	activeChats, err := a.store.ActiveChats(ctx, activeSince, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan active chats: %w", err)
	}

	logger.Info("starting expectation analysis",
		zap.Int("active_chats", len(activeChats)),
		zap.Bool("force", opts.Force),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("concurrency", opts.Concurrency))

	var (
		mu       sync.Mutex
		analyzed int
		skipped  int
		failed   int
	)

	tasks := make([]func(context.Context) error, 0, len(activeChats))
	for _, chat := range activeChats {
		chat := chat
		tasks = append(tasks, func(taskCtx context.Context) error {
			outcome, err := a.processChat(taskCtx, logger, doc, &mu, chat, opts)
			if err != nil {
				if isRunFatal(err) {
					return err
				}
				logger.Warn("chat analysis failed",
					zap.Int64("chat_id", chat.ChatID),
					zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			switch outcome {
			case outcomeSkipped:
				skipped++
			default:
				analyzed++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := runBounded(ctx, opts.Concurrency, tasks); err != nil {
		return nil, err
	}

	updatedAt := a.now().UTC()
	doc.UpdatedAt = &updatedAt
	doc.Stats = cache.Stats{
		ActiveChats: len(activeChats),
		Analyzed:    analyzed,
		Skipped:     skipped,
		Failed:      failed,
	}

	if !opts.DryRun {
		if err := cache.Write(a.cachePath, doc); err != nil {
			return nil, err
		}
	}

	logger.Info("expectation analysis finished",
		zap.Int("analyzed", analyzed),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))

	return doc, nil
}

type chatOutcome int

const (
	outcomeAnalyzed chatOutcome = iota
	outcomeSkipped
)

func (a *Analyzer) processChat(ctx context.Context, logger *zap.Logger, doc *cache.Document, mu *sync.Mutex, chat models.ChatActivity, opts RunOptions) (chatOutcome, error) {
	chatKey := strconv.FormatInt(chat.ChatID, 10)

	mu.Lock()
	cached := doc.Chats[chatKey]
	mu.Unlock()

	if !shouldAnalyze(cached, chat.LastMessageAt, opts.Force) {
		lastMessageAt := chat.LastMessageAt
		mu.Lock()
		cached.LastMessageAt = &lastMessageAt
		cached.Skipped = true
		mu.Unlock()
		return outcomeSkipped, nil
	}

	contextSince := a.now().UTC().Add(-time.Duration(opts.ContextDays) * 24 * time.Hour)
	messages, err := a.store.ChatContext(ctx, chat.ChatID, contextSince, opts.MaxMessages)
	if err != nil {
		// Only the store can fail here; losing it dooms the whole run.
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if len(messages) == 0 {
		// Nothing to classify: store a placeholder and mark the chat
		// analyzed without paying for a provider call.
		if !opts.DryRun {
			a.storeEntry(doc, mu, chatKey, chat, classifier.PlaceholderExpectation(), "", 0)
		}
		return outcomeAnalyzed, nil
	}

	if opts.DryRun {
		return outcomeAnalyzed, nil
	}

	conversation := formatConversation(messages)
	label := chat.Label()
	if label == "" {
		label = chatKey
	}

	result, tokens, err := a.classifier.AnalyzeExpectations(ctx, label, conversation)
	if err != nil {
		return 0, err
	}

	a.storeEntry(doc, mu, chatKey, chat, result, lastClientMessage(messages), tokens)
	return outcomeAnalyzed, nil
}

func (a *Analyzer) storeEntry(doc *cache.Document, mu *sync.Mutex, chatKey string, chat models.ChatActivity, result models.ExpectationResult, lastClient string, tokens int) {
	lastMessageAt := chat.LastMessageAt
	analyzedAt := a.now().UTC()

	mu.Lock()
	defer mu.Unlock()

	entry := doc.Chats[chatKey]
	if entry == nil {
		entry = &models.CacheEntry{}
		doc.Chats[chatKey] = entry
	}

	entry.ChatName = chat.ChatName
	entry.CustomerName = chat.CustomerName
	entry.CustomerSyncID = chat.CustomerSyncID
	entry.Expectation = result.Expectation
	entry.Priority = result.Priority
	entry.Actions = result.Actions
	entry.LastClientMessage = lastClient
	entry.LastMessageAt = &lastMessageAt
	entry.TokensUsed = tokens
	entry.Skipped = false

	// LastAnalyzedAt is monotone non-decreasing per chat.
	if entry.LastAnalyzedAt == nil || analyzedAt.After(*entry.LastAnalyzedAt) {
		entry.LastAnalyzedAt = &analyzedAt
	}
}

// ErrStoreUnavailable marks a failure of the message store itself rather
// than of a single chat's analysis.
var ErrStoreUnavailable = errors.New("message store unavailable")

// isRunFatal separates per-chat soft failures from faults the whole run
// cannot survive.
func isRunFatal(err error) bool {
	return errors.Is(err, classifier.ErrUnauthorized) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled)
}
