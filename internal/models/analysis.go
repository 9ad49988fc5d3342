package models

import "time"

// Priority levels for an expectation analysis.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Intent values the classifier is allowed to return. Anything else is
// normalized to IntentUnknown at the provider boundary.
const (
	IntentQuestion     = "question"
	IntentOrder        = "order"
	IntentComplaint    = "complaint"
	IntentInterest     = "interest"
	IntentConfirmation = "confirmation"
	IntentOther        = "other"
	IntentUnknown      = "unknown"
)

// Sentiment values.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentUnknown  = "unknown"
)

// ActionCount is the contractual number of recommended actions per
// expectation. Shorter provider output is padded, longer is truncated.
const ActionCount = 3

// ExpectationResult is the per-conversation analysis: what the customer
// expects from us and what a manager should do about it.
type ExpectationResult struct {
	Expectation string   `json:"expectation"`
	Priority    string   `json:"priority"`
	Actions     []string `json:"actions"`
}

// MessageAnalysis is the per-message intent/sentiment classification as it is
// persisted in the append-only message_analysis store.
type MessageAnalysis struct {
	MessageID        int64          `json:"message_id"`
	Intent           string         `json:"intent"`
	Sentiment        string         `json:"sentiment"`
	Entities         map[string]any `json:"entities"`
	Confidence       float64        `json:"confidence"`
	ModelUsed        string         `json:"model_used"`
	TokensUsed       int            `json:"tokens_used"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
}

// CacheEntry is the merged-cache record for one chat. LastAnalyzedAt is
// monotonically non-decreasing; the chat is reanalyzed only when
// LastMessageAt moves past it (or a run is forced).
type CacheEntry struct {
	ChatName          string     `json:"chat_name,omitempty"`
	CustomerName      string     `json:"customer_name,omitempty"`
	CustomerSyncID    string     `json:"customer_sync_id,omitempty"`
	Expectation       string     `json:"expectation"`
	Priority          string     `json:"priority"`
	Actions           []string   `json:"actions"`
	LastClientMessage string     `json:"last_client_message,omitempty"`
	LastMessageAt     *time.Time `json:"last_message_at"`
	LastAnalyzedAt    *time.Time `json:"last_analyzed_at"`
	TokensUsed        int        `json:"tokens_used,omitempty"`
	Skipped           bool       `json:"skipped"`
}
