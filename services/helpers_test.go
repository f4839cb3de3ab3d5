package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"partyhost/content"
	"partyhost/games"
	"partyhost/models"

	"github.com/stretchr/testify/require"
)

// counterGame is a minimal game used to drive the engine from tests.
type counterGame struct{}

type counterState struct {
	Count int `json:"count"`
}

func (counterGame) Kind() string { return "COUNTER" }

func (counterGame) Init(c *games.Context) error {
	c.SetPhase("ROUND")
	return c.SetState(counterState{})
}

func (counterGame) View(room *models.Room, viewerID string) (any, error) {
	var st counterState
	if err := json.Unmarshal(room.State, &st); err != nil {
		return nil, err
	}
	return map[string]any{"count": st.Count, "viewer": viewerID}, nil
}

func (g counterGame) Handlers() map[string]games.Handler {
	return map[string]games.Handler{
		"inc": func(c *games.Context, _ json.RawMessage) error {
			var st counterState
			if err := c.State(&st); err != nil {
				return err
			}
			st.Count++
			return c.SetState(st)
		},
		"noop": func(c *games.Context, _ json.RawMessage) error {
			return nil
		},
		"nope": func(c *games.Context, _ json.RawMessage) error {
			return c.Reject("Not your turn")
		},
		"boom": func(c *games.Context, _ json.RawMessage) error {
			panic("boom")
		},
		"finish": func(c *games.Context, _ json.RawMessage) error {
			c.Finish(map[string]string{"winner": c.Sender})
			return nil
		},
		"later": func(c *games.Context, payload json.RawMessage) error {
			var in struct {
				Ms   int    `json:"ms"`
				Name string `json:"name"`
			}
			if err := json.Unmarshal(payload, &in); err != nil {
				return games.ErrIgnored
			}
			if in.Name == "" {
				in.Name = "tick"
			}
			c.Schedule(in.Name, time.Duration(in.Ms)*time.Millisecond)
			return nil
		},
	}
}

// errBrokenTimer is what the "broken" timer fails with.
var errBrokenTimer = errors.New("timer state unreadable")

func (counterGame) OnTimer(c *games.Context, name string) error {
	if name == "broken" {
		return errBrokenTimer
	}
	var st counterState
	if err := c.State(&st); err != nil {
		return err
	}
	st.Count += 100
	return c.SetState(st)
}

// fakeConn records every frame sent to it.
type fakeConn struct {
	session *Session

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) Session() *Session { return c.session }

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// take returns and clears the frames received so far.
func (c *fakeConn) take(t *testing.T) []models.Message {
	t.Helper()
	c.mu.Lock()
	frames := c.frames
	c.frames = nil
	c.mu.Unlock()

	msgs := make([]models.Message, 0, len(frames))
	for _, f := range frames {
		var m models.Message
		require.NoError(t, json.Unmarshal(f, &m))
		msgs = append(msgs, m)
	}
	return msgs
}

// only asserts exactly one frame of the given type arrived and decodes it.
func (c *fakeConn) only(t *testing.T, msgType string, v any) {
	t.Helper()
	msgs := c.take(t)
	require.Len(t, msgs, 1, "frames: %v", msgs)
	require.Equal(t, msgType, msgs[0].Type, "payload: %s", msgs[0].Payload)
	if v != nil {
		require.NoError(t, json.Unmarshal(msgs[0].Payload, v))
	}
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type testEnv struct {
	svc       *RoomService
	hub       *Hub
	store     RoomStore
	memory    *MemoryStore
	clock     *fakeClock
	scheduler *Scheduler
}

func newTestEnv(t *testing.T, mods ...func(*RoomServiceConfig)) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, nil, mods...)
}

func newTestEnvWithStore(t *testing.T, wrap func(RoomStore) RoomStore, mods ...func(*RoomServiceConfig)) *testEnv {
	t.Helper()
	clock := newFakeClock()
	memory := NewMemoryStore(24*time.Hour, clock.Now)
	var store RoomStore = memory
	if wrap != nil {
		store = wrap(memory)
	}

	cat, err := content.Builtin()
	require.NoError(t, err)
	ito, err := games.NewIto(cat.Deck(games.KindIto))
	require.NoError(t, err)
	spy, err := games.NewSpy(cat.Deck(games.KindSpy), 8*time.Minute)
	require.NoError(t, err)
	registry, err := games.NewRegistry(ito, spy, counterGame{})
	require.NoError(t, err)

	cfg := RoomServiceConfig{DefaultGame: games.KindIto}
	for _, m := range mods {
		m(&cfg)
	}

	logger := testLogger()
	scheduler := NewScheduler(logger)
	t.Cleanup(scheduler.Stop)

	bus := NewLocalBus()
	svc := NewRoomService(store, bus, registry, scheduler, logger, cfg)
	hub := NewHub(bus, svc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, hub.Start(ctx))

	return &testEnv{svc: svc, hub: hub, store: store, memory: memory, clock: clock, scheduler: scheduler}
}

func (e *testEnv) connect() *fakeConn {
	c := &fakeConn{session: NewSession("")}
	e.hub.Register(c)
	return c
}

func (e *testEnv) send(t *testing.T, c *fakeConn, msgType string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = b
	}
	e.svc.Handle(context.Background(), c, models.Message{Type: msgType, Payload: raw})
}

// createRoom opens a room hosted by playerID and returns its code.
func (e *testEnv) createRoom(t *testing.T, c *fakeConn, playerID, kind string) string {
	t.Helper()
	e.send(t, c, models.EventCreateRoom, models.CreateRoomPayload{Nickname: "host-" + playerID, GameKind: kind, PlayerID: playerID})
	var joined models.JoinedRoomPayload
	c.only(t, models.EventJoinedRoom, &joined)
	return joined.RoomID
}

func (e *testEnv) join(t *testing.T, c *fakeConn, roomID, playerID string) {
	t.Helper()
	e.send(t, c, models.EventJoinRoom, models.JoinRoomPayload{RoomID: roomID, Nickname: "nick-" + playerID, PlayerID: playerID})
}

func (e *testEnv) room(t *testing.T, roomID string) *models.Room {
	t.Helper()
	room, err := e.store.Get(context.Background(), roomID)
	require.NoError(t, err)
	return room
}

// seatedRoom creates a room of kind with one connection per id, the first
// being the host, and clears everyone's inbox.
func (e *testEnv) seatedRoom(t *testing.T, kind string, ids ...string) (string, []*fakeConn) {
	t.Helper()
	conns := make([]*fakeConn, len(ids))
	conns[0] = e.connect()
	roomID := e.createRoom(t, conns[0], ids[0], kind)
	for i, id := range ids[1:] {
		conns[i+1] = e.connect()
		e.join(t, conns[i+1], roomID, id)
	}
	for _, c := range conns {
		c.take(t)
	}
	return roomID, conns
}
