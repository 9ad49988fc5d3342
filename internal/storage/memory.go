package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cvgorod/chat-insights/internal/models"
)

// UserFlags carries the raw sender attributes the role precedence is derived
// from. Staff users are excluded from the client backfill scan.
type UserFlags struct {
	IsBot     bool
	IsStaff   bool
	IsManager bool
	RoleName  string
}

type storedMessage struct {
	msg   models.ChatMessage
	flags UserFlags
}

type chatInfo struct {
	Name           string
	CustomerName   string
	CustomerSyncID string
}

// MemoryStorage is an in-memory MessageStore used in tests and local runs
// without a database.
type MemoryStorage struct {
	mu       sync.RWMutex
	messages []storedMessage
	chats    map[int64]chatInfo
	analyses map[int64]*models.MessageAnalysis
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		chats:    make(map[int64]chatInfo),
		analyses: make(map[int64]*models.MessageAnalysis),
	}
}

// AddMessage stores a message along with its sender flags. The role field of
// the message is derived here, mirroring what the SQL role expression does.
func (s *MemoryStorage) AddMessage(msg models.ChatMessage, flags UserFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Role = models.DeriveRole(flags.IsBot, flags.RoleName, flags.IsManager)
	s.messages = append(s.messages, storedMessage{msg: msg, flags: flags})
}

// SetChatInfo attaches display names to a chat id.
func (s *MemoryStorage) SetChatInfo(chatID int64, name, customerName, customerSyncID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats[chatID] = chatInfo{Name: name, CustomerName: customerName, CustomerSyncID: customerSyncID}
}

func (s *MemoryStorage) ActiveChats(ctx context.Context, since time.Time, limit int) ([]models.ChatActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[int64]time.Time)
	for _, sm := range s.messages {
		if sm.msg.Timestamp.Before(since) {
			continue
		}
		if ts, ok := latest[sm.msg.ChatID]; !ok || sm.msg.Timestamp.After(ts) {
			latest[sm.msg.ChatID] = sm.msg.Timestamp
		}
	}

	var chats []models.ChatActivity
	for chatID, ts := range latest {
		info := s.chats[chatID]
		chats = append(chats, models.ChatActivity{
			ChatID:         chatID,
			LastMessageAt:  ts,
			ChatName:       info.Name,
			CustomerName:   info.CustomerName,
			CustomerSyncID: info.CustomerSyncID,
		})
	}

	sort.Slice(chats, func(i, j int) bool {
		return chats[i].LastMessageAt.After(chats[j].LastMessageAt)
	})

	if limit > 0 && len(chats) > limit {
		chats = chats[:limit]
	}
	return chats, nil
}

func (s *MemoryStorage) ChatContext(ctx context.Context, chatID int64, since time.Time, maxMessages int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []models.ChatMessage
	for _, sm := range s.messages {
		if sm.msg.ChatID != chatID || sm.msg.Timestamp.Before(since) || sm.msg.Text == "" {
			continue
		}
		msgs = append(msgs, sm.msg)
	}

	// Keep the newest maxMessages, then return ascending. The id tiebreak
	// keeps messages sharing a timestamp in a stable order across calls.
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.After(msgs[j].Timestamp)
		}
		return msgs[i].ID > msgs[j].ID
	})
	if len(msgs) > maxMessages {
		msgs = msgs[:maxMessages]
	}
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs, nil
}

func (s *MemoryStorage) NextClientBatch(ctx context.Context, since, until time.Time, cursor models.Cursor, limit int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []models.ChatMessage
	for _, sm := range s.messages {
		m := sm.msg
		if m.Text == "" || m.Timestamp.Before(since) || m.Timestamp.After(until) {
			continue
		}
		if sm.flags.IsBot || sm.flags.IsStaff || sm.flags.IsManager {
			continue
		}
		if _, done := s.analyses[m.ID]; done {
			continue
		}
		if !afterCursor(m, cursor) {
			continue
		}
		msgs = append(msgs, m)
	}

	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func afterCursor(m models.ChatMessage, cursor models.Cursor) bool {
	if m.Timestamp.After(cursor.LastTimestamp) {
		return true
	}
	return m.Timestamp.Equal(cursor.LastTimestamp) && m.ID > cursor.LastID
}

func (s *MemoryStorage) HasAnalysis(ctx context.Context, messageID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.analyses[messageID]
	return ok, nil
}

func (s *MemoryStorage) SaveAnalysis(ctx context.Context, analysis *models.MessageAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.analyses[analysis.MessageID]; exists {
		return nil
	}
	s.analyses[analysis.MessageID] = analysis
	return nil
}

// AnalysisCount reports how many per-message results are stored.
func (s *MemoryStorage) AnalysisCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.analyses)
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
