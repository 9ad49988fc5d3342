package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvgorod/chat-insights/internal/models"
)

func TestNormalizeExpectationPadsShortActions(t *testing.T) {
	result := NormalizeExpectation(models.ExpectationResult{
		Expectation: "wants a restock date",
		Priority:    models.PriorityHigh,
		Actions:     []string{"Call the customer"},
	})

	require.Len(t, result.Actions, models.ActionCount)
	assert.Equal(t, "Call the customer", result.Actions[0])
	assert.Equal(t, actionFiller, result.Actions[1])
	assert.Equal(t, actionFiller, result.Actions[2])
}

func TestNormalizeExpectationTruncatesLongActions(t *testing.T) {
	result := NormalizeExpectation(models.ExpectationResult{
		Priority: models.PriorityLow,
		Actions:  []string{"a", "b", "c", "d", "e"},
	})

	assert.Equal(t, []string{"a", "b", "c"}, result.Actions)
}

func TestNormalizeExpectationInvalidPriority(t *testing.T) {
	result := NormalizeExpectation(models.ExpectationResult{
		Priority: "urgent",
		Actions:  []string{"a", "b", "c"},
	})

	assert.Equal(t, models.PriorityMedium, result.Priority)
}

func TestNormalizeExpectationKeepsValidPriority(t *testing.T) {
	for _, p := range []string{models.PriorityHigh, models.PriorityMedium, models.PriorityLow} {
		result := NormalizeExpectation(models.ExpectationResult{Priority: p})
		assert.Equal(t, p, result.Priority)
	}
}

func TestNormalizeIntent(t *testing.T) {
	tests := []struct {
		name          string
		analysis      models.MessageAnalysis
		wantIntent    string
		wantSentiment string
		wantConf      float64
	}{
		{
			name:          "valid passes through",
			analysis:      models.MessageAnalysis{Intent: "order", Sentiment: "positive", Confidence: 0.9},
			wantIntent:    "order",
			wantSentiment: "positive",
			wantConf:      0.9,
		},
		{
			name:          "invalid enums become unknown",
			analysis:      models.MessageAnalysis{Intent: "purchase", Sentiment: "ecstatic", Confidence: 0.5},
			wantIntent:    models.IntentUnknown,
			wantSentiment: models.SentimentUnknown,
			wantConf:      0.5,
		},
		{
			name:          "confidence clamped high",
			analysis:      models.MessageAnalysis{Intent: "question", Sentiment: "neutral", Confidence: 42},
			wantIntent:    "question",
			wantSentiment: "neutral",
			wantConf:      1,
		},
		{
			name:          "confidence clamped low",
			analysis:      models.MessageAnalysis{Intent: "other", Sentiment: "negative", Confidence: -0.3},
			wantIntent:    "other",
			wantSentiment: "negative",
			wantConf:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			NormalizeIntent(&tt.analysis)
			assert.Equal(t, tt.wantIntent, tt.analysis.Intent)
			assert.Equal(t, tt.wantSentiment, tt.analysis.Sentiment)
			assert.Equal(t, tt.wantConf, tt.analysis.Confidence)
			assert.NotNil(t, tt.analysis.Entities)
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	raw := "```json\n{\"intent\": \"order\"}\n```"
	assert.Equal(t, `{"intent": "order"}`, stripCodeFences(raw))

	// Plain JSON passes through untouched.
	assert.Equal(t, `{"a":1}`, stripCodeFences(" {\"a\":1} "))
}

func TestPlaceholderExpectation(t *testing.T) {
	p := PlaceholderExpectation()

	assert.Equal(t, models.PriorityLow, p.Priority)
	assert.Len(t, p.Actions, models.ActionCount)
	assert.NotEmpty(t, p.Expectation)
}

func TestDegradedExpectation(t *testing.T) {
	d := DegradedExpectation()

	assert.Equal(t, models.PriorityMedium, d.Priority)
	assert.Len(t, d.Actions, models.ActionCount)
}

func TestDegradedIntent(t *testing.T) {
	d := DegradedIntent(17, "deepseek-chat")

	assert.Equal(t, int64(17), d.MessageID)
	assert.Equal(t, models.IntentUnknown, d.Intent)
	assert.Equal(t, models.SentimentUnknown, d.Sentiment)
	assert.Zero(t, d.Confidence)
	assert.Equal(t, "deepseek-chat", d.ModelUsed)
}
