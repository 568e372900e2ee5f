package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// RedisConfig tunes the top-of-book publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// TopPublisher pushes top-of-book updates onto Redis pub/sub channels,
// one channel per instrument under a shared prefix. Consumers that only
// care about the inside market subscribe here instead of replaying the
// full record stream.
type TopPublisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewTopPublisher connects to Redis and verifies the connection.
func NewTopPublisher(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*TopPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "tob"
	}
	return &TopPublisher{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_publisher"),
	}, nil
}

// EmitTop publishes one top-of-book update.
func (p *TopPublisher) EmitTop(ctx context.Context, tob model.TopOfBook) error {
	payload, err := json.Marshal(tob)
	if err != nil {
		return fmt.Errorf("marshaling top of book: %w", err)
	}
	key := fmt.Sprintf("%s:%s:%s", p.channel, tob.Exchange, tob.Symbol)
	if err := p.client.Publish(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", key, err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *TopPublisher) Close() error {
	return p.client.Close()
}
