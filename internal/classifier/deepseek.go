package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cvgorod/chat-insights/internal/models"
)

const (
	expectationTimeout = 60 * time.Second
	intentTimeout      = 30 * time.Second
	maxAttempts        = 3

	// Single messages are truncated before prompting; anything past this adds
	// cost without adding signal for intent classification.
	maxIntentRunes = 500

	systemPrompt = "You are an analyst for a flower wholesale company. Return ONLY JSON, no markdown."

	expectationPrompt = `You are an analyst for the flower wholesale company CVGorod. Analyze the customer conversation.

Business context:
- CVGorod is a wholesale flower company
- Customers own flower shops and salons
- A bot sends pre-order reminders
- Managers process orders and answer questions

Conversation with customer "%s":
---
%s
---

Return JSON:
{
  "expectation": "What the customer expects from us (brief)",
  "priority": "high|medium|low",
  "actions": ["Exactly 3 short actions for the manager"]
}`

	intentPrompt = `You are an analyst for a flower wholesale company. Classify the customer message.

Message: "%s"

Return JSON:
{
  "intent": "question|order|complaint|interest|confirmation|other",
  "sentiment": "positive|neutral|negative",
  "entities": {"product": "...", "quantity": ..., "price": ...},
  "confidence": 0.0-1.0
}

Examples:
- "How much are the tulips?" -> intent: question, sentiment: neutral
- "I'll take 50 roses" -> intent: order, sentiment: positive
- "The flowers arrived damaged!" -> intent: complaint, sentiment: negative
- "Beautiful peonies, I'm in" -> intent: interest, sentiment: positive
- "Yes, placing the order" -> intent: confirmation, sentiment: positive`
)

// DeepSeekClassifier talks to a DeepSeek-compatible chat completion endpoint
// through the OpenAI client.
type DeepSeekClassifier struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewDeepSeekClassifier(apiKey, baseURL, model string, maxTokens int, temperature float64, logger *zap.Logger) *DeepSeekClassifier {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &DeepSeekClassifier{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// complete performs one chat completion with retry on transient transport
// failures. Auth failures surface as ErrUnauthorized and are never retried.
func (c *DeepSeekClassifier) complete(ctx context.Context, prompt string, timeout time.Duration) (string, int, error) {
	var content string
	var tokens int

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	attempt := 0
	operation := func() error {
		attempt++

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		})
		if err != nil {
			if isAuthError(err) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnauthorized, err))
			}
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("provider call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}

		// An empty choices list is incomplete provider output, not a
		// transport failure: hand back empty content and let the parse
		// fallback substitute the degraded default.
		content = ""
		if len(resp.Choices) > 0 {
			content = resp.Choices[0].Message.Content
		}
		tokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, maxAttempts-1), ctx))
	if err != nil {
		return "", 0, err
	}
	return content, tokens, nil
}

func (c *DeepSeekClassifier) AnalyzeExpectations(ctx context.Context, label, conversation string) (models.ExpectationResult, int, error) {
	prompt := fmt.Sprintf(expectationPrompt, label, conversation)

	content, tokens, err := c.complete(ctx, prompt, expectationTimeout)
	if err != nil {
		return models.ExpectationResult{}, 0, err
	}

	var result models.ExpectationResult
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &result); err != nil {
		c.logger.Warn("failed to parse expectation response, using degraded default",
			zap.Error(err),
			zap.String("response", content))
		return DegradedExpectation(), tokens, nil
	}

	return NormalizeExpectation(result), tokens, nil
}

func (c *DeepSeekClassifier) ClassifyIntent(ctx context.Context, messageID int64, text string) (*models.MessageAnalysis, error) {
	start := time.Now()

	runes := []rune(text)
	if len(runes) > maxIntentRunes {
		text = string(runes[:maxIntentRunes])
	}
	prompt := fmt.Sprintf(intentPrompt, text)

	content, tokens, err := c.complete(ctx, prompt, intentTimeout)
	if err != nil {
		return nil, err
	}

	analysis := &models.MessageAnalysis{
		MessageID: messageID,
		ModelUsed: c.model,
	}
	var parsed struct {
		Intent     string         `json:"intent"`
		Sentiment  string         `json:"sentiment"`
		Entities   map[string]any `json:"entities"`
		Confidence float64        `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &parsed); err != nil {
		c.logger.Warn("failed to parse intent response, using degraded default",
			zap.Error(err),
			zap.Int64("message_id", messageID),
			zap.String("response", content))
		degraded := DegradedIntent(messageID, c.model)
		degraded.TokensUsed = tokens
		degraded.ProcessingTimeMS = time.Since(start).Milliseconds()
		return degraded, nil
	}

	analysis.Intent = parsed.Intent
	analysis.Sentiment = parsed.Sentiment
	analysis.Entities = parsed.Entities
	analysis.Confidence = parsed.Confidence
	analysis.TokensUsed = tokens
	analysis.ProcessingTimeMS = time.Since(start).Milliseconds()
	NormalizeIntent(analysis)

	return analysis, nil
}

func isAuthError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized ||
			apiErr.HTTPStatusCode == http.StatusForbidden
	}
	return false
}

// isTransient covers timeouts, connection failures, rate limits and server
// errors. Everything else fails the call immediately.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return false
}
