package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"chatbot-backend/internal/models"
	"chatbot-backend/internal/repository"
)

type conversationStore interface {
	GetOrCreate(sessionID string) ([]models.ChatMessage, bool)
	Get(sessionID string) ([]models.ChatMessage, error)
	Append(sessionID string, msgs ...models.ChatMessage) (int, error)
	Clear(sessionID string) error
	Delete(sessionID string) bool
	List() map[string]int
	LockSession(sessionID string) (unlock func())
}

// ChatService runs conversation turns against a store and a model gateway.
type ChatService struct {
	store     conversationStore
	gateway   Gateway
	params    GenerationParams
	publisher Publisher
	logger    *slog.Logger
	turns     metric.Int64Counter
}

func NewChatService(store conversationStore, gateway Gateway, params GenerationParams, publisher Publisher, logger *slog.Logger) *ChatService {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	turns, err := meter.Int64Counter("chat.turns", metric.WithDescription("Processed conversation turns"))
	if err != nil {
		logger.Warn("failed to create turn counter", "error", err)
	}
	return &ChatService{
		store:     store,
		gateway:   gateway,
		params:    params,
		publisher: publisher,
		logger:    logger,
		turns:     turns,
	}
}

// ProcessTurn appends the user's message, asks the gateway for a reply and
// appends that too. Turns on the same session are serialized.
//
// If the gateway fails the user message is left in the history and the
// gateway's error is returned unchanged, so the next turn sees the unanswered
// message.
func (s *ChatService) ProcessTurn(ctx context.Context, sessionID, userInput string) (*models.TurnResult, error) {
	if strings.TrimSpace(userInput) == "" {
		return nil, &ValidationError{Fields: map[string]string{"user_input": "must not be empty"}}
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = models.DefaultSessionID
	}

	ctx, span := tracer.Start(ctx, "chat.process_turn", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	unlock := s.store.LockSession(sessionID)
	defer unlock()

	history, created := s.store.GetOrCreate(sessionID)
	if created {
		s.logger.Info("new session created", "session_id", sessionID)
	}

	userMsg := models.ChatMessage{Role: models.RoleUser, Content: userInput}
	if _, err := s.store.Append(sessionID, userMsg); err != nil {
		s.recordTurn(ctx, "store_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, sessionGone(sessionID, err)
	}
	outbound := append(history, userMsg)

	reply, err := s.gateway.Generate(ctx, outbound, s.params)
	if err != nil {
		s.logger.Error("error processing chat request", "session_id", sessionID, "error", err)
		s.recordTurn(ctx, "upstream_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	assistantMsg := models.ChatMessage{Role: models.RoleAssistant, Content: reply.Content}
	count, err := s.store.Append(sessionID, assistantMsg)
	if err != nil {
		s.recordTurn(ctx, "store_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, sessionGone(sessionID, err)
	}

	s.recordTurn(ctx, "success")
	s.logger.Info("turn completed",
		"session_id", sessionID,
		"user", truncate(userInput, 50),
		"bot", truncate(reply.Content, 50),
		"message_count", count,
	)

	s.publisher.Publish(ctx, sessionID, models.WSMessage{
		Type:    models.WSTypeTurnCompleted,
		Payload: models.TurnEvent{SessionID: sessionID, MessageCount: count, Reply: reply.Content},
	})

	return &models.TurnResult{Reply: reply.Content, SessionID: sessionID}, nil
}

// DeleteSession removes the session and reports whether it existed.
func (s *ChatService) DeleteSession(ctx context.Context, sessionID string) bool {
	if !s.store.Delete(sessionID) {
		return false
	}
	s.logger.Info("session cleared", "session_id", sessionID)
	s.publisher.Publish(ctx, sessionID, models.WSMessage{
		Type:    models.WSTypeSessionDeleted,
		Payload: models.TurnEvent{SessionID: sessionID},
	})
	return true
}

// ClearSession empties a session's history without unbinding it.
func (s *ChatService) ClearSession(ctx context.Context, sessionID string) error {
	unlock := s.store.LockSession(sessionID)
	defer unlock()

	if err := s.store.Clear(sessionID); err != nil {
		if errors.Is(err, repository.ErrUnknownSession) {
			return &NotFoundError{Message: "Session " + sessionID + " not found"}
		}
		return err
	}
	s.publisher.Publish(ctx, sessionID, models.WSMessage{
		Type:    models.WSTypeSessionCleared,
		Payload: models.TurnEvent{SessionID: sessionID},
	})
	return nil
}

func (s *ChatService) History(sessionID string) ([]models.ChatMessage, error) {
	history, err := s.store.Get(sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrUnknownSession) {
			return nil, &NotFoundError{Message: "Session " + sessionID + " not found"}
		}
		return nil, err
	}
	return history, nil
}

func (s *ChatService) ListSessions() map[string]int {
	return s.store.List()
}

func (s *ChatService) recordTurn(ctx context.Context, outcome string) {
	if s.turns == nil {
		return
	}
	s.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// sessionGone maps a store miss during a turn, which only happens when the
// session is deleted while the turn is in flight.
func sessionGone(sessionID string, err error) error {
	if errors.Is(err, repository.ErrUnknownSession) {
		return &NotFoundError{Message: "Session " + sessionID + " was deleted during the turn"}
	}
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
