package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes one channel per room (prefix+ROOMID) and pattern
// subscribes to all of them.
type RedisBus struct {
	redis   *redis.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewRedisBus(client *redis.Client, prefix string, timeout time.Duration, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		redis:   client,
		prefix:  prefix,
		timeout: timeout,
		logger:  logger,
	}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.redis.Publish(ctx, b.prefix+env.RoomID, data).Err(); err != nil {
		return fmt.Errorf("publish to room %s: %w", env.RoomID, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	sub := b.redis.PSubscribe(ctx, b.prefix+"*")

	confirmCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if _, err := sub.Receive(confirmCtx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s*: %w", b.prefix, err)
	}

	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Warn("dropping malformed envelope", "channel", msg.Channel, "error", err)
					continue
				}
				fn(env)
			}
		}
	}()
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *RedisBus) Close() error {
	return nil
}
