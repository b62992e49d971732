package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"chatbot-backend/internal/models"
)

// Publisher fans session events out to websocket subscribers.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, msg models.WSMessage)
}

// SessionChannel is the redis pub/sub channel carrying a session's events.
func SessionChannel(sessionID string) string {
	return "session_updates:" + sessionID
}

type RedisPublisher struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewRedisPublisher(client *redis.Client, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{redis: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, sessionID string, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to encode session event", "session_id", sessionID, "error", err)
		return
	}
	if err := p.redis.Publish(ctx, SessionChannel(sessionID), string(data)).Err(); err != nil {
		p.logger.Warn("failed to publish session event", "session_id", sessionID, "type", msg.Type, "error", err)
	}
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, models.WSMessage) {}
