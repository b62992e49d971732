package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatbot-backend/internal/models"
)

const (
	providerOpenRouter       = "openrouter"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	maxErrorBodyBytes        = 4096
)

// OpenRouterConfig configures the OpenRouterClient. Any endpoint that speaks
// the OpenAI chat-completions format works as BaseURL.
type OpenRouterConfig struct {
	APIKey   string
	BaseURL  string
	SiteURL  string // sent as HTTP-Referer
	SiteName string // sent as X-Title
	// Timeout of zero leaves the transport default in place.
	Timeout    time.Duration
	HTTPClient *http.Client
}

type OpenRouterClient struct {
	client   *http.Client
	apiKey   string
	base     string
	siteURL  string
	siteName string
}

func NewOpenRouterClient(cfg OpenRouterConfig) (*OpenRouterClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openrouter api key must be provided")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultOpenRouterBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenRouterClient{
		client:   client,
		apiKey:   cfg.APIKey,
		base:     strings.TrimRight(base, "/"),
		siteURL:  cfg.SiteURL,
		siteName: cfg.SiteName,
	}, nil
}

// Generate posts the full history to {base}/chat/completions and returns the
// first choice's message.
func (c *OpenRouterClient) Generate(ctx context.Context, messages []models.ChatMessage, params GenerationParams) (models.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "gateway.generate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", providerOpenRouter),
		attribute.String("llm.model", params.Model),
		attribute.Int("llm.messages", len(messages)),
	)

	msg, err := c.generate(ctx, messages, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return msg, err
}

func (c *OpenRouterClient) generate(ctx context.Context, messages []models.ChatMessage, params GenerationParams) (models.ChatMessage, error) {
	if len(messages) == 0 {
		return models.ChatMessage{}, errors.New("at least one message must be provided")
	}

	reqBody := chatCompletionRequest{
		Model:       params.Model,
		Messages:    make([]chatCompletionMessage, 0, len(messages)),
		Temperature: params.Temperature,
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, chatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return models.ChatMessage{}, &UpstreamError{Provider: providerOpenRouter, Detail: "request failed", Err: err}
	}
	defer resp.Body.Close()
	gatewayMetrics.recordDuration(ctx, providerOpenRouter, float64(time.Since(start).Milliseconds()))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return models.ChatMessage{}, &UpstreamError{
			Provider:   providerOpenRouter,
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(body, resp.Status),
		}
	}

	var apiResp chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return models.ChatMessage{}, &UpstreamError{Provider: providerOpenRouter, Detail: "decode response", Err: err}
	}

	gatewayMetrics.recordUsage(ctx, integerUsage(apiResp.Usage))

	if len(apiResp.Choices) == 0 {
		return models.ChatMessage{}, &UpstreamError{Provider: providerOpenRouter, Detail: "response contained no choices"}
	}

	return models.ChatMessage{
		Role:    models.RoleAssistant,
		Content: apiResp.Choices[0].Message.Content,
	}, nil
}

// integerUsage keeps the whole-number counters (prompt_tokens, ...) of a usage block.
func integerUsage(usage map[string]interface{}) map[string]int64 {
	out := make(map[string]int64, len(usage))
	for key, value := range usage {
		if f, ok := value.(float64); ok && f == float64(int64(f)) {
			out[key] = int64(f)
		}
	}
	return out
}

// errorDetail prefers the provider's {"error":{"message":...}} envelope and
// falls back to the raw body, then the HTTP status text.
func errorDetail(body []byte, status string) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if detail := strings.TrimSpace(string(body)); detail != "" {
		return detail
	}
	return status
}

type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []chatCompletionMessage `json:"messages"`
	Temperature float32                 `json:"temperature"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int                   `json:"index"`
		Message      chatCompletionMessage `json:"message"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
}

var _ Gateway = (*OpenRouterClient)(nil)
