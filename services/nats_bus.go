package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsBus publishes on <prefix>.<ROOMID> and subscribes to <prefix>.>.
type NatsBus struct {
	conn    *nats.Conn
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

func ConnectNats(url string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("partyhost"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

func NewNatsBus(conn *nats.Conn, prefix string, timeout time.Duration, logger *slog.Logger) *NatsBus {
	return &NatsBus{
		conn:    conn,
		prefix:  prefix,
		timeout: timeout,
		logger:  logger,
	}
}

func (b *NatsBus) subject(roomID string) string {
	return b.prefix + "." + roomID
}

func (b *NatsBus) Publish(_ context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.conn.Publish(b.subject(env.RoomID), data); err != nil {
		return fmt.Errorf("publish to room %s: %w", env.RoomID, err)
	}
	return nil
}

func (b *NatsBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	sub, err := b.conn.Subscribe(b.prefix+".>", func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn("dropping malformed envelope", "subject", msg.Subject, "error", err)
			return
		}
		fn(env)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s.>: %w", b.prefix, err)
	}
	// FlushTimeout makes sure the server has registered the interest before
	// we report the subscription as live.
	if err := b.conn.FlushTimeout(b.timeout); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("subscribe %s.>: %w", b.prefix, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (b *NatsBus) Close() error {
	return b.conn.Drain()
}
