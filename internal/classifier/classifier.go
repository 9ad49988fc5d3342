package classifier

import (
	"context"
	"errors"
	"strings"

	"github.com/cvgorod/chat-insights/internal/models"
)

// ErrUnauthorized means the provider rejected our credentials. A run cannot
// proceed past this, unlike per-item malformation which is degraded in place.
var ErrUnauthorized = errors.New("classification provider rejected credentials")

// Classifier is the single boundary to the external classification service.
// Implementations must never return an error for malformed provider output —
// only for unrecoverable transport or auth failures.
type Classifier interface {
	// AnalyzeExpectations summarizes a conversation into what the customer
	// expects and what a manager should do. Returns the token usage of the
	// underlying call.
	AnalyzeExpectations(ctx context.Context, label, conversation string) (models.ExpectationResult, int, error)

	// ClassifyIntent classifies a single client message.
	ClassifyIntent(ctx context.Context, messageID int64, text string) (*models.MessageAnalysis, error)
}

// actionFiller pads short action lists so every expectation carries exactly
// models.ActionCount entries.
const actionFiller = "Clarify the customer's request"

var (
	validPriorities = map[string]bool{
		models.PriorityHigh:   true,
		models.PriorityMedium: true,
		models.PriorityLow:    true,
	}
	validIntents = map[string]bool{
		models.IntentQuestion:     true,
		models.IntentOrder:        true,
		models.IntentComplaint:    true,
		models.IntentInterest:     true,
		models.IntentConfirmation: true,
		models.IntentOther:        true,
		models.IntentUnknown:      true,
	}
	validSentiments = map[string]bool{
		models.SentimentPositive: true,
		models.SentimentNeutral:  true,
		models.SentimentNegative: true,
		models.SentimentUnknown:  true,
	}
)

// stripCodeFences removes markdown fencing the model sometimes wraps around
// its JSON despite being told not to.
func stripCodeFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// NormalizeExpectation enforces the result shape: exactly ActionCount actions
// and a priority from the allowed set. Invalid priorities become medium.
func NormalizeExpectation(result models.ExpectationResult) models.ExpectationResult {
	actions := result.Actions
	for len(actions) < models.ActionCount {
		actions = append(actions, actionFiller)
	}
	result.Actions = actions[:models.ActionCount]

	if !validPriorities[result.Priority] {
		result.Priority = models.PriorityMedium
	}
	return result
}

// NormalizeIntent validates enum fields against their allowed sets and clamps
// confidence into [0, 1]. Invalid values fall back to unknown rather than
// failing the item.
func NormalizeIntent(analysis *models.MessageAnalysis) {
	if !validIntents[analysis.Intent] {
		analysis.Intent = models.IntentUnknown
	}
	if !validSentiments[analysis.Sentiment] {
		analysis.Sentiment = models.SentimentUnknown
	}
	if analysis.Entities == nil {
		analysis.Entities = map[string]any{}
	}
	if analysis.Confidence < 0 {
		analysis.Confidence = 0
	}
	if analysis.Confidence > 1 {
		analysis.Confidence = 1
	}
}

// DegradedExpectation is the conservative default substituted when provider
// output cannot be parsed.
func DegradedExpectation() models.ExpectationResult {
	return NormalizeExpectation(models.ExpectationResult{
		Expectation: "",
		Priority:    models.PriorityMedium,
		Actions:     nil,
	})
}

// PlaceholderExpectation is stored for chats with no qualifying text messages
// in the context window. The classifier is never called for these.
func PlaceholderExpectation() models.ExpectationResult {
	return models.ExpectationResult{
		Expectation: "No data to analyze",
		Priority:    models.PriorityLow,
		Actions: []string{
			"Check whether the chat has messages",
			"Confirm the chat status",
			"Refresh the customer record",
		},
	}
}

// DegradedIntent is the conservative default for a message whose
// classification could not be parsed.
func DegradedIntent(messageID int64, model string) *models.MessageAnalysis {
	return &models.MessageAnalysis{
		MessageID:  messageID,
		Intent:     models.IntentUnknown,
		Sentiment:  models.SentimentUnknown,
		Entities:   map[string]any{},
		Confidence: 0,
		ModelUsed:  model,
	}
}
