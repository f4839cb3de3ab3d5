package services

import (
	"context"
	"encoding/json"
	"sync"
)

// Envelope is one room-wide delivery. Either Message goes to every seated
// connection (minus Exclude), or Views carries a distinct frame per player.
// Seats pins each player to the connection that should receive it, so a
// stale socket left over from a reconnect gets nothing.
type Envelope struct {
	RoomID  string                     `json:"roomId"`
	Message json.RawMessage            `json:"message,omitempty"`
	Views   map[string]json.RawMessage `json:"views,omitempty"`
	Seats   map[string]string          `json:"seats"`
	Exclude string                     `json:"exclude,omitempty"`
}

// Frame returns what the given player should receive on connID, or nil.
func (e *Envelope) Frame(playerID, connID string) []byte {
	if playerID == "" || e.Seats[playerID] != connID {
		return nil
	}
	if e.Views != nil {
		return e.Views[playerID]
	}
	if playerID == e.Exclude {
		return nil
	}
	return e.Message
}

// Bus fans room deliveries out to every server process. Each process
// subscribes once and hands envelopes to its Hub.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe registers fn until ctx is canceled. It returns once the
	// subscription is live.
	Subscribe(ctx context.Context, fn func(Envelope)) error
	Close() error
}

// LocalBus delivers in process. It is enough for a single node.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[int]func(Envelope)
	next     int
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(Envelope))}
}

func (b *LocalBus) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.handlers {
		fn(env)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = fn
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.handlers = make(map[int]func(Envelope))
	b.mu.Unlock()
	return nil
}
