package routes

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"partyhost/content"
	"partyhost/games"
	"partyhost/handlers"
	"partyhost/middleware"
	"partyhost/models"
	"partyhost/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "routes-secret"

type fakeDecks struct {
	mu    sync.Mutex
	saved map[string][]json.RawMessage
}

func (f *fakeDecks) Decks(context.Context) (map[string][]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved, nil
}

func (f *fakeDecks) ReplaceDeck(_ context.Context, game string, items []json.RawMessage) error {
	if len(items) == 0 {
		return content.ErrEmptyDeck
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[game] = items
	return nil
}

type testServer struct {
	*httptest.Server
	store services.RoomStore
	decks *fakeDecks
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catalog, err := content.Builtin()
	require.NoError(t, err)
	ito, err := games.NewIto(catalog.Deck(games.KindIto))
	require.NoError(t, err)
	enigma, err := games.NewEnigma(catalog.Deck(games.KindEnigma), time.Minute)
	require.NoError(t, err)
	spy, err := games.NewSpy(catalog.Deck(games.KindSpy), time.Minute)
	require.NoError(t, err)
	registry, err := games.NewRegistry(ito, enigma, spy)
	require.NoError(t, err)

	store := services.NewMemoryStore(24*time.Hour, time.Now)
	bus := services.NewLocalBus()
	scheduler := services.NewScheduler(logger)
	t.Cleanup(scheduler.Stop)

	svc := services.NewRoomService(store, bus, registry, scheduler, logger, services.RoomServiceConfig{
		DefaultGame: games.KindIto,
	})
	hub := services.NewHub(bus, svc, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, hub.Start(ctx))

	decks := &fakeDecks{saved: map[string][]json.RawMessage{}}
	router := gin.New()
	router.Use(middleware.CORS())
	SetupRoutes(router,
		handlers.NewRoomHandler(store, registry, hub, logger),
		handlers.NewDeckHandler(catalog, decks, games.ValidateDeck, logger),
		hub, testSecret, logger)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, decks: decks}
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	frame, err := models.Encode(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func read(t *testing.T, conn *websocket.Conn, msgType string, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg models.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, msgType, msg.Type, "payload: %s", msg.Payload)
	if v != nil {
		require.NoError(t, json.Unmarshal(msg.Payload, v))
	}
}

func TestWebSocketRoomFlow(t *testing.T) {
	srv := newTestServer(t)

	host := srv.dial(t, "")
	write(t, host, models.EventCreateRoom, models.CreateRoomPayload{Nickname: "Ana", GameKind: games.KindSpy, PlayerID: "p1"})
	var created models.JoinedRoomPayload
	read(t, host, models.EventJoinedRoom, &created)
	require.Len(t, created.RoomID, 4)
	assert.Equal(t, "p1", created.PlayerID)
	assert.Equal(t, models.PhaseLobby, created.Phase)

	guest := srv.dial(t, "")
	write(t, guest, models.EventJoinRoom, models.JoinRoomPayload{RoomID: strings.ToLower(created.RoomID), Nickname: "Bo", PlayerID: "p2"})
	var joined models.JoinedRoomPayload
	read(t, guest, models.EventJoinedRoom, &joined)
	assert.Equal(t, created.RoomID, joined.RoomID)
	assert.Len(t, joined.Players, 2)

	var update models.UpdatePlayersPayload
	read(t, host, models.EventUpdatePlayers, &update)
	assert.Len(t, update.Players, 2)

	write(t, host, models.EventStartGame, nil)
	var hostView, guestView models.JoinedRoomPayload
	read(t, host, models.EventJoinedRoom, &hostView)
	read(t, guest, models.EventJoinedRoom, &guestView)
	assert.Equal(t, models.PhasePlaying, hostView.Phase)
	assert.NotNil(t, hostView.Projection)

	write(t, guest, models.EventPing, nil)
	read(t, guest, models.EventPong, nil)

	resp, err := http.Get(srv.URL + "/api/rooms/" + strings.ToLower(created.RoomID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, created.RoomID, summary["id"])
	assert.Equal(t, games.KindSpy, summary["gameKind"])
	assert.NotContains(t, summary, "state")
	assert.Len(t, summary["players"], 2)
}

func TestWebSocketDisconnectGoesOffline(t *testing.T) {
	srv := newTestServer(t)

	host := srv.dial(t, "")
	write(t, host, models.EventCreateRoom, models.CreateRoomPayload{Nickname: "Ana", PlayerID: "p1"})
	var created models.JoinedRoomPayload
	read(t, host, models.EventJoinedRoom, &created)

	guest := srv.dial(t, "")
	write(t, guest, models.EventJoinRoom, models.JoinRoomPayload{RoomID: created.RoomID, Nickname: "Bo", PlayerID: "p2"})
	read(t, guest, models.EventJoinedRoom, nil)
	read(t, host, models.EventUpdatePlayers, nil)

	require.NoError(t, guest.Close())

	var update models.UpdatePlayersPayload
	read(t, host, models.EventUpdatePlayers, &update)
	for _, p := range update.Players {
		if p.ID == "p2" {
			assert.False(t, p.Online)
		}
	}

	again := srv.dial(t, "?playerId=p2")
	write(t, again, models.EventRejoinRoom, models.RejoinRoomPayload{RoomID: created.RoomID})
	var rejoined models.JoinedRoomPayload
	read(t, again, models.EventJoinedRoom, &rejoined)
	assert.Equal(t, "p2", rejoined.PlayerID)
	read(t, host, models.EventUpdatePlayers, nil)
}

func TestVerifiedIdentityWins(t *testing.T) {
	srv := newTestServer(t)
	token, err := middleware.IssueToken(testSecret, "alice", "", time.Hour)
	require.NoError(t, err)

	conn := srv.dial(t, "?token="+token)
	write(t, conn, models.EventCreateRoom, models.CreateRoomPayload{Nickname: "Alice", PlayerID: "mallory"})
	var joined models.JoinedRoomPayload
	read(t, conn, models.EventJoinedRoom, &joined)
	assert.Equal(t, "alice", joined.PlayerID)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRestEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/games")
	require.NoError(t, err)
	var listed struct {
		Games []string `json:"games"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	assert.Equal(t, []string{games.KindEnigma, games.KindIto, games.KindSpy}, listed.Games)

	resp, err = http.Get(srv.URL + "/api/rooms/ZZZZ")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/decks")
	require.NoError(t, err)
	var decks struct {
		Decks map[string]int `json:"decks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decks))
	resp.Body.Close()
	assert.Positive(t, decks.Decks[games.KindIto])
}

func TestReplaceDeckRequiresAdmin(t *testing.T) {
	srv := newTestServer(t)
	body := `{"items":["Paris","Tokyo"]}`

	put := func(token string) int {
		req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/decks/spy", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	player, err := middleware.IssueToken(testSecret, "p1", "", time.Hour)
	require.NoError(t, err)
	admin, err := middleware.IssueToken(testSecret, "ops", middleware.RoleAdmin, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, put(""))
	assert.Equal(t, http.StatusForbidden, put(player))
	assert.Equal(t, http.StatusOK, put(admin))

	saved, err := srv.decks.Decks(context.Background())
	require.NoError(t, err)
	assert.Len(t, saved[games.KindSpy], 2)
}
