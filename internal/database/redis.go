package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients holds separate connections for publishing session events and
// for the websocket hub's subscriptions.
type RedisClients struct {
	Publisher *redis.Client
	PubSub    *redis.Client
}

func NewRedisClients(ctx context.Context, redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	publisher := redis.NewClient(opt)
	if err := publisher.Ping(ctx).Err(); err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to ping Redis (publisher): %w", err)
	}

	subOpt := *opt
	pubsub := redis.NewClient(&subOpt)
	if err := pubsub.Ping(ctx).Err(); err != nil {
		publisher.Close()
		pubsub.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	return &RedisClients{
		Publisher: publisher,
		PubSub:    pubsub,
	}, nil
}

func (r *RedisClients) Close() {
	r.Publisher.Close()
	r.PubSub.Close()
}
