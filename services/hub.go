package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"partyhost/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Conn is a live connection as the room service sees it.
type Conn interface {
	Session() *Session
	// Send queues a frame without blocking. It reports false when the
	// connection is closed or too slow to keep up.
	Send(frame []byte) bool
	Close()
}

// Dispatcher handles everything a connection says and its disconnect.
type Dispatcher interface {
	Handle(ctx context.Context, conn Conn, msg models.Message)
	Disconnect(ctx context.Context, conn Conn)
}

// Hub tracks the connections of this process and delivers bus envelopes to
// the ones seated in the envelope's room.
type Hub struct {
	clients    map[Conn]bool
	mutex      sync.RWMutex
	bus        Bus
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewHub(bus Bus, dispatcher Dispatcher, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[Conn]bool),
		bus:        bus,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start subscribes the hub to the bus. Deliveries stop when ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	return h.bus.Subscribe(ctx, h.deliver)
}

func (h *Hub) Register(c Conn) {
	h.mutex.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mutex.Unlock()

	h.logger.Debug("client registered", "conn_id", c.Session().ConnID, "clients", total)
}

func (h *Hub) Unregister(c Conn) {
	h.mutex.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	total := len(h.clients)
	h.mutex.Unlock()

	if ok {
		c.Close()
		h.logger.Debug("client unregistered", "conn_id", c.Session().ConnID, "clients", total)
	}
}

func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(env Envelope) {
	var slow []Conn

	h.mutex.RLock()
	for c := range h.clients {
		sess := c.Session()
		if sess.RoomID() != env.RoomID {
			continue
		}
		frame := env.Frame(sess.PlayerID(), sess.ConnID)
		if frame == nil {
			continue
		}
		if !c.Send(frame) {
			slow = append(slow, c)
		}
	}
	h.mutex.RUnlock()

	for _, c := range slow {
		h.logger.Warn("send buffer full, dropping client", "conn_id", c.Session().ConnID, "room_id", env.RoomID)
		h.Unregister(c)
	}
}

// RegisterClient wraps an upgraded socket and starts its pumps.
func (h *Hub) RegisterClient(socket *websocket.Conn, session *Session) *Client {
	c := &Client{
		hub:     h,
		socket:  socket,
		session: session,
		send:    make(chan []byte, sendBufferSize),
	}
	h.Register(c)

	go c.writePump()
	go c.readPump()
	return c
}

// Client is one WebSocket connection.
type Client struct {
	hub     *Hub
	socket  *websocket.Conn
	session *Session

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	logger := c.hub.logger.With("conn_id", c.session.ConnID)
	defer func() {
		c.hub.Unregister(c)
		c.socket.Close()
		c.hub.dispatcher.Disconnect(context.Background(), c)
	}()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		c.hub.dispatcher.Handle(context.Background(), c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
