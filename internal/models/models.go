package models

import "time"

// SenderRole identifies who wrote a chat message.
type SenderRole string

const (
	RoleClient   SenderRole = "CLIENT"
	RoleManager  SenderRole = "MANAGER"
	RoleDirector SenderRole = "DIRECTOR"
	RoleBot      SenderRole = "BOT"
)

// DeriveRole resolves a sender role from the raw user flags. Precedence is
// fixed: bot beats everything, then director, then manager, with client as the
// default. Getting this order wrong changes classification quality silently.
func DeriveRole(isBot bool, roleName string, isManager bool) SenderRole {
	switch {
	case isBot:
		return RoleBot
	case roleName == "director":
		return RoleDirector
	case roleName == "manager" || isManager:
		return RoleManager
	default:
		return RoleClient
	}
}

// ChatMessage is a single message as read from the message store.
type ChatMessage struct {
	ID        int64      `json:"id"`
	ChatID    int64      `json:"chat_id"`
	Role      SenderRole `json:"role"`
	Sender    string     `json:"sender"`
	Text      string     `json:"text"`
	Timestamp time.Time  `json:"timestamp"`
}

// ChatActivity is one row of the active-chat scan: a chat that had at least
// one message inside the lookback window.
type ChatActivity struct {
	ChatID         int64     `json:"chat_id"`
	LastMessageAt  time.Time `json:"last_message_at"`
	ChatName       string    `json:"chat_name"`
	CustomerName   string    `json:"customer_name"`
	CustomerSyncID string    `json:"customer_sync_id"`
}

// Label picks the best display name for a chat when building a prompt.
func (a ChatActivity) Label() string {
	if a.CustomerName != "" {
		return a.CustomerName
	}
	return a.ChatName
}

// ConversationWindow is the request-scoped transcript slice handed to the
// classifier. Messages are ordered ascending by timestamp. Never persisted.
type ConversationWindow struct {
	ChatID   int64
	Since    time.Time
	Messages []ChatMessage
}

// Cursor is a forward-only watermark over the (timestamp, id) order of the
// message stream. A batch fetch returns only rows strictly greater than the
// cursor, and the cursor advances only to the last row actually processed.
type Cursor struct {
	LastTimestamp time.Time
	LastID        int64
}

// Advance moves the cursor to the given row.
func (c *Cursor) Advance(ts time.Time, id int64) {
	c.LastTimestamp = ts
	c.LastID = id
}
