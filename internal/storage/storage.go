package storage

import (
	"context"
	"time"

	"github.com/cvgorod/chat-insights/internal/models"
)

// MessageStore is the read side over the shared message database plus the
// append-only per-message analysis store this pipeline owns.
type MessageStore interface {
	// ActiveChats returns chats with at least one message since the given
	// time, most recently active first. limit <= 0 means no limit.
	ActiveChats(ctx context.Context, since time.Time, limit int) ([]models.ChatActivity, error)

	// ChatContext returns the newest maxMessages non-empty text messages of a
	// chat since the given time, reordered ascending by timestamp.
	ChatContext(ctx context.Context, chatID int64, since time.Time, maxMessages int) ([]models.ChatMessage, error)

	// NextClientBatch returns up to limit client messages strictly after the
	// cursor in (timestamp, id) order, excluding messages that already have a
	// stored analysis.
	NextClientBatch(ctx context.Context, since, until time.Time, cursor models.Cursor, limit int) ([]models.ChatMessage, error)

	// HasAnalysis reports whether a result is already stored for a message.
	HasAnalysis(ctx context.Context, messageID int64) (bool, error)

	// SaveAnalysis appends one per-message result.
	SaveAnalysis(ctx context.Context, analysis *models.MessageAnalysis) error

	Close() error
}
