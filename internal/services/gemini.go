package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"chatbot-backend/internal/models"
)

const providerGemini = "gemini"

// GeminiClient implements Gateway on top of the Gemini chat API.
type GeminiClient struct {
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key must be provided")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (g *GeminiClient) Close() {
	g.client.Close()
}

// Generate replays all but the last message as chat history and sends the
// last one, which must come from the user.
func (g *GeminiClient) Generate(ctx context.Context, messages []models.ChatMessage, params GenerationParams) (models.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "gateway.generate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", providerGemini),
		attribute.String("llm.model", params.Model),
		attribute.Int("llm.messages", len(messages)),
	)

	history, last, err := toGeminiHistory(messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.ChatMessage{}, err
	}

	// A model handle per call keeps temperature changes from leaking between requests.
	model := g.client.GenerativeModel(params.Model)
	model.SetTemperature(params.Temperature)

	cs := model.StartChat()
	cs.History = history

	start := time.Now()
	resp, err := cs.SendMessage(ctx, genai.Text(last))
	gatewayMetrics.recordDuration(ctx, providerGemini, float64(time.Since(start).Milliseconds()))
	if err != nil {
		upErr := geminiUpstreamError(err)
		span.RecordError(upErr)
		span.SetStatus(codes.Error, upErr.Error())
		return models.ChatMessage{}, upErr
	}

	if resp.UsageMetadata != nil {
		gatewayMetrics.recordUsage(ctx, map[string]int64{
			"prompt_tokens":     int64(resp.UsageMetadata.PromptTokenCount),
			"completion_tokens": int64(resp.UsageMetadata.CandidatesTokenCount),
			"total_tokens":      int64(resp.UsageMetadata.TotalTokenCount),
		})
	}

	if len(resp.Candidates) == 0 {
		upErr := &UpstreamError{Provider: providerGemini, Detail: "response contained no candidates"}
		span.SetStatus(codes.Error, upErr.Error())
		return models.ChatMessage{}, upErr
	}

	return models.ChatMessage{Role: models.RoleAssistant, Content: extractText(resp)}, nil
}

func toGeminiHistory(messages []models.ChatMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", errors.New("at least one message must be provided")
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleUser {
		return nil, "", fmt.Errorf("last message must have role %q, got %q", models.RoleUser, last.Role)
	}

	history := make([]*genai.Content, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return history, last.Content, nil
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

func geminiUpstreamError(err error) *UpstreamError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		detail := apiErr.Message
		if detail == "" {
			detail = apiErr.Body
		}
		return &UpstreamError{Provider: providerGemini, StatusCode: apiErr.Code, Detail: detail, Err: err}
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &UpstreamError{Provider: providerGemini, Detail: "response blocked by safety filters", Err: err}
	}
	return &UpstreamError{Provider: providerGemini, Detail: err.Error(), Err: err}
}

var _ Gateway = (*GeminiClient)(nil)
