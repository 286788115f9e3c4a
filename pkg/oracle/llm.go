package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/codagent/flowkit/pkg/models"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultModel    = "gpt-4o-mini"

	llmRequestTimeout = 30 * time.Second
	llmMaxRetries     = 2
)

// Classifier is the LLM-backed decision implementation. It asks an
// OpenAI-compatible chat completions endpoint to pick exactly one label and
// rejects anything outside the option set.
type Classifier struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClassifier creates an LLM classifier.
func NewClassifier(logger *slog.Logger) *Classifier {
	return &Classifier{
		httpClient: &http.Client{Timeout: llmRequestTimeout},
		logger:     logger.With("component", "oracle_llm"),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify resolves the request with the tenant's LLM credential. Transient
// failures are retried with exponential backoff; the response must be one
// of the valid options or the call fails with ErrUnexpectedLabel.
func (c *Classifier) Classify(ctx context.Context, settings *models.TenantSettings, req Request) (string, error) {
	if settings == nil || settings.AIAPIKey == "" {
		return "", ErrNoCredential
	}

	options := req.ValidOptions()

	prompt := req.Prompt
	if req.IsCondition() {
		prompt = conditionPrompt(req.Condition)
	}

	body, err := json.Marshal(chatRequest{
		Model: model(settings),
		Messages: []chatMessage{
			{
				Role: "system",
				Content: "You are a CRM decision engine. Answer with exactly one of the following labels and nothing else: " +
					strings.Join(options, ", "),
			},
			{Role: "user", Content: prompt + "\n\nOrder context:\n" + orderContext(req.Order)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	var label string

	operation := func() error {
		label, err = c.call(ctx, endpoint(settings), settings.AIAPIKey, body)

		return err
	}

	err = backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), llmMaxRetries), ctx))
	if err != nil {
		return "", err
	}

	for _, opt := range options {
		if strings.EqualFold(strings.TrimSpace(label), opt) {
			return opt, nil
		}
	}

	return "", fmt.Errorf("%w: %q not in %v", ErrUnexpectedLabel, label, options)
}

func (c *Classifier) call(ctx context.Context, url, apiKey string, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to build chat request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", backoff.Permanent(fmt.Errorf("chat request rejected: status %d", resp.StatusCode))
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat request failed: status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}

	var parsed chatResponse

	err = json.Unmarshal(payload, &parsed)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode chat response: %w", err))
	}

	if len(parsed.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("chat response has no choices"))
	}

	return parsed.Choices[0].Message.Content, nil
}

func conditionPrompt(cond *models.CheckConditionConfig) string {
	return fmt.Sprintf("Evaluate whether the condition holds for the order. Condition type: %s, tag: %q, expected status: %q, field: %q.",
		cond.ConditionType, cond.TagName, cond.ExpectedStatus, cond.Field)
}

func orderContext(order *models.Order) string {
	if order == nil {
		return "{}"
	}

	raw, err := json.Marshal(order.TemplateData())
	if err != nil {
		return "{}"
	}

	return string(raw)
}

func endpoint(settings *models.TenantSettings) string {
	if settings.LLMEndpoint != "" {
		return settings.LLMEndpoint
	}

	return defaultEndpoint
}

func model(settings *models.TenantSettings) string {
	if settings.LLMModel != "" {
		return settings.LLMModel
	}

	return defaultModel
}
