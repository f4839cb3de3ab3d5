package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"partyhost/games"
	"partyhost/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	roomCodeLength   = 4
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeAttempts = 10
	maxNicknameLen   = 32
	maxPlayerIDLen   = 64
	maxChatLen       = 500
)

var errSeatMissing = errors.New("player has no seat in room")

type RoomServiceConfig struct {
	DefaultGame     string
	DisconnectGrace time.Duration
	MaxRetries      int
	// TimerRetry is how long a deadline that failed to apply waits before
	// it is tried again.
	TimerRetry time.Duration
}

// RoomService is the room lifecycle controller. It keeps no rooms in memory:
// every operation loads the room, mutates it and saves it with a version
// check, then fans the result out through the bus.
type RoomService struct {
	store     RoomStore
	bus       Bus
	registry  *games.Registry
	scheduler *Scheduler
	logger    *slog.Logger
	tracer    trace.Tracer
	cfg       RoomServiceConfig
	now       func() time.Time
}

func NewRoomService(store RoomStore, bus Bus, registry *games.Registry, scheduler *Scheduler, logger *slog.Logger, cfg RoomServiceConfig) *RoomService {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.TimerRetry <= 0 {
		cfg.TimerRetry = 5 * time.Second
	}
	return &RoomService{
		store:     store,
		bus:       bus,
		registry:  registry,
		scheduler: scheduler,
		logger:    logger,
		tracer:    otel.Tracer("partyhost/services"),
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *RoomService) clock() time.Time {
	return s.now().UTC()
}

// Handle dispatches one inbound frame. Errors and panics never escape: the
// sender gets an error_msg and other connections are unaffected.
func (s *RoomService) Handle(ctx context.Context, conn Conn, msg models.Message) {
	sess := conn.Session()
	ctx, span := s.tracer.Start(ctx, "room."+msg.Type, trace.WithAttributes(
		attribute.String("conn.id", sess.ConnID),
		attribute.String("room.id", sess.RoomID()),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic handling event", "type", msg.Type, "conn_id", sess.ConnID, "panic", r)
			span.SetStatus(codes.Error, "panic")
			conn.Send(models.MustEncode(models.EventError, models.ErrorPayload{Text: "Something went wrong"}))
		}
	}()

	var err error
	switch msg.Type {
	case models.EventCreateRoom:
		err = s.CreateRoom(ctx, conn, msg.Payload)
	case models.EventJoinRoom:
		err = s.JoinRoom(ctx, conn, msg.Payload)
	case models.EventRejoinRoom:
		err = s.RejoinRoom(ctx, conn, msg.Payload)
	case models.EventStartGame:
		err = s.StartGame(ctx, conn)
	case models.EventLeaveRoom:
		err = s.LeaveRoom(ctx, conn)
	case models.EventSelectGame:
		err = s.SelectGame(ctx, conn, msg.Payload)
	case models.EventReturnToLobby:
		err = s.ReturnToLobby(ctx, conn)
	case models.EventSendMessage:
		err = s.SendMessage(ctx, conn, msg.Payload)
	case models.EventPing:
		conn.Send(models.MustEncode(models.EventPong, nil))
	default:
		err = s.GameEvent(ctx, conn, msg.Type, msg.Payload)
	}

	if err != nil {
		if !errors.Is(err, games.ErrIgnored) {
			span.RecordError(err)
		}
		s.replyError(conn, msg.Type, err)
	}
}

func (s *RoomService) replyError(conn Conn, event string, err error) {
	var text string
	if r, ok := games.IsRejection(err); ok {
		text = r.Text
	} else {
		switch {
		case errors.Is(err, games.ErrIgnored):
			s.logger.Debug("event ignored", "type", event, "conn_id", conn.Session().ConnID)
			return
		case errors.Is(err, ErrRoomNotFound):
			text = "Room not found"
		case errors.Is(err, ErrNotHost):
			text = "Only the host can do that"
		case errors.Is(err, ErrUnknownGame):
			text = "Unknown game"
		case errors.Is(err, ErrNotInRoom):
			text = "You are not in a room"
		case errors.Is(err, ErrWrongPhase):
			text = "Not allowed right now"
		case errors.Is(err, ErrBadRequest):
			text = "Invalid request"
		default:
			s.logger.Error("event failed", "type", event, "conn_id", conn.Session().ConnID, "error", err)
			text = "Something went wrong, please try again"
		}
	}
	conn.Send(models.MustEncode(models.EventError, models.ErrorPayload{Text: text}))
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func reject(text string) error {
	return &games.Rejection{Text: text}
}

func cleanNickname(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxNicknameLen {
		s = string(r[:maxNicknameLen])
	}
	return s
}

func (s *RoomService) plugin(kind string) (games.Plugin, error) {
	p, ok := s.registry.Get(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, kind)
	}
	return p, nil
}

// mutate runs load, fn, save for one room, re-running the whole cycle when
// another writer saved first. fn must derive everything from the room it is
// handed since it may run more than once. When fn returns false the room is
// not written. A room left without players is deleted.
func (s *RoomService) mutate(ctx context.Context, roomID string, fn func(room *models.Room) (bool, error)) (*models.Room, error) {
	for attempt := 1; ; attempt++ {
		room, err := s.store.Get(ctx, roomID)
		if err != nil {
			return nil, err
		}

		save, err := fn(room)
		if err != nil {
			return room, err
		}
		if !save {
			s.armDeadlines(room)
			return room, nil
		}

		if room.Empty() {
			err = s.store.Delete(ctx, room.ID, room.Version)
			if err == nil {
				s.scheduler.CancelRoom(room.ID)
				return room, nil
			}
		} else {
			err = s.store.Save(ctx, room)
			if err == nil {
				s.armDeadlines(room)
				return room, nil
			}
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= s.cfg.MaxRetries {
			return nil, err
		}
		s.logger.Debug("version conflict, retrying", "room_id", roomID, "attempt", attempt)
	}
}

func (s *RoomService) armDeadlines(room *models.Room) {
	roomID := room.ID
	s.scheduler.SyncDeadlines(roomID, room.Deadlines, func(name string) {
		s.FireDeadline(context.Background(), roomID, name)
	})
}

func newRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf), nil
}

// leaveCurrent takes the connection out of the room it was seated in once it
// has entered nextRoom. Failing to enter a room leaves the old seat alone.
func (s *RoomService) leaveCurrent(ctx context.Context, conn Conn, nextRoom string) {
	current := conn.Session().RoomID()
	if current == "" || current == nextRoom {
		return
	}
	if err := s.LeaveRoom(ctx, conn); err != nil {
		s.logger.Warn("leaving previous room failed", "room_id", current, "error", err)
	}
}

func (s *RoomService) CreateRoom(ctx context.Context, conn Conn, raw json.RawMessage) error {
	var in models.CreateRoomPayload
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	nickname := cleanNickname(in.Nickname)
	if nickname == "" {
		return reject("Nickname is required")
	}
	if len(in.PlayerID) > maxPlayerIDLen {
		return ErrBadRequest
	}
	kind := strings.ToUpper(strings.TrimSpace(in.GameKind))
	if kind == "" {
		kind = s.cfg.DefaultGame
	}
	if _, err := s.plugin(kind); err != nil {
		return err
	}

	sess := conn.Session()
	playerID := sess.resolvePlayerID(in.PlayerID)

	var room *models.Room
	for attempt := 0; attempt < roomCodeAttempts; attempt++ {
		code, err := newRoomCode()
		if err != nil {
			return err
		}
		candidate := models.NewRoom(code, kind, models.Player{
			ID:       playerID,
			ConnID:   sess.ConnID,
			Nickname: nickname,
		}, s.clock())

		err = s.store.Create(ctx, candidate)
		if errors.Is(err, ErrRoomExists) {
			continue
		}
		if err != nil {
			return err
		}
		room = candidate
		break
	}
	if room == nil {
		return fmt.Errorf("no free room code after %d attempts", roomCodeAttempts)
	}

	s.leaveCurrent(ctx, conn, room.ID)
	sess.Bind(playerID, room.ID)
	s.logger.Info("room created", "room_id", room.ID, "game", room.GameKind, "player_id", playerID)
	return s.sendJoined(conn, room, playerID)
}

func (s *RoomService) JoinRoom(ctx context.Context, conn Conn, raw json.RawMessage) error {
	var in models.JoinRoomPayload
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	roomID := models.NormalizeRoomID(in.RoomID)
	if roomID == "" {
		return ErrRoomNotFound
	}
	if len(in.PlayerID) > maxPlayerIDLen {
		return ErrBadRequest
	}
	nickname := cleanNickname(in.Nickname)

	sess := conn.Session()
	playerID := sess.resolvePlayerID(in.PlayerID)

	room, err := s.mutate(ctx, roomID, func(room *models.Room) (bool, error) {
		if _, added := room.AddPlayer(playerID, sess.ConnID, nickname); added && nickname == "" {
			room.Player(playerID).Nickname = "Player " + fmt.Sprint(len(room.Players))
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	s.leaveCurrent(ctx, conn, room.ID)
	s.scheduler.Cancel(room.ID, presenceTimerPrefix+playerID)
	sess.Bind(playerID, room.ID)
	s.logger.Info("player joined", "room_id", room.ID, "player_id", playerID, "players", len(room.Players))

	if err := s.sendJoined(conn, room, playerID); err != nil {
		return err
	}
	s.broadcastIncremental(ctx, room, models.EventUpdatePlayers, models.UpdatePlayersPayload{Players: room.PlayerViews()}, playerID)
	return nil
}

// RejoinRoom restores a seat after a reconnect. Every failure to find the
// room or the seat is answered with rejoin_failed so the client can fall
// back to its home screen.
func (s *RoomService) RejoinRoom(ctx context.Context, conn Conn, raw json.RawMessage) error {
	var in models.RejoinRoomPayload
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	sess := conn.Session()
	roomID := models.NormalizeRoomID(in.RoomID)
	playerID := in.PlayerID
	if sess.Verified() || playerID == "" {
		playerID = sess.PlayerID()
	}
	if roomID == "" || playerID == "" {
		conn.Send(models.MustEncode(models.EventRejoinFailed, struct{}{}))
		return nil
	}

	var cameOnline bool
	room, err := s.mutate(ctx, roomID, func(room *models.Room) (bool, error) {
		cameOnline = false
		p := room.Player(playerID)
		if p == nil {
			return false, errSeatMissing
		}
		if p.ConnID == sess.ConnID && p.Online {
			return false, nil
		}
		cameOnline = !p.Online
		p.ConnID = sess.ConnID
		p.Online = true
		return true, nil
	})
	if errors.Is(err, ErrRoomNotFound) || errors.Is(err, errSeatMissing) {
		s.logger.Info("rejoin failed", "room_id", roomID, "player_id", playerID, "reason", err)
		conn.Send(models.MustEncode(models.EventRejoinFailed, struct{}{}))
		return nil
	}
	if err != nil {
		return err
	}

	s.leaveCurrent(ctx, conn, room.ID)
	s.scheduler.Cancel(room.ID, presenceTimerPrefix+playerID)
	sess.Bind(playerID, room.ID)
	s.logger.Info("player rejoined", "room_id", room.ID, "player_id", playerID)

	if err := s.sendJoined(conn, room, playerID); err != nil {
		return err
	}
	if cameOnline {
		s.broadcastIncremental(ctx, room, models.EventUpdatePlayers, models.UpdatePlayersPayload{Players: room.PlayerViews()}, playerID)
	}
	return nil
}

func (s *RoomService) seated(conn Conn) (roomID, playerID string, err error) {
	sess := conn.Session()
	roomID, playerID = sess.RoomID(), sess.PlayerID()
	if roomID == "" || playerID == "" {
		return "", "", ErrNotInRoom
	}
	return roomID, playerID, nil
}

func (s *RoomService) StartGame(ctx context.Context, conn Conn) error {
	roomID, playerID, err := s.seated(conn)
	if err != nil {
		return err
	}

	room, err := s.mutate(ctx, roomID, func(room *models.Room) (bool, error) {
		if !room.IsHost(playerID) {
			return false, ErrNotHost
		}
		p, err := s.plugin(room.GameKind)
		if err != nil {
			return false, err
		}
		room.ResetGame()
		room.Phase = models.PhasePlaying
		if err := p.Init(games.NewContext(room, playerID, s.clock())); err != nil {
			return false, fmt.Errorf("init %s: %w", room.GameKind, err)
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("game started", "room_id", room.ID, "game", room.GameKind, "players", len(room.Players))
	s.broadcastProjection(ctx, room, models.EventJoinedRoom)
	return nil
}

// GameEvent routes a game-specific event to the active plugin.
func (s *RoomService) GameEvent(ctx context.Context, conn Conn, event string, payload json.RawMessage) error {
	roomID, playerID, err := s.seated(conn)
	if err != nil {
		return games.ErrIgnored
	}

	var gctx *games.Context
	room, err := s.mutate(ctx, roomID, func(room *models.Room) (bool, error) {
		gctx = nil
		if room.Phase == models.PhaseLobby || room.Player(playerID) == nil {
			return false, games.ErrIgnored
		}
		p, err := s.plugin(room.GameKind)
		if err != nil {
			return false, err
		}
		h, ok := p.Handlers()[event]
		if !ok {
			return false, games.ErrIgnored
		}
		gctx = games.NewContext(room, playerID, s.clock())
		if err := h(gctx, payload); err != nil {
			return false, err
		}
		return gctx.Changed(), nil
	})
	if err != nil {
		return err
	}
	if gctx == nil || !gctx.Changed() {
		return nil
	}

	s.afterGameChange(ctx, room, gctx)
	return nil
}

// afterGameChange broadcasts the new projections and, once, the results of
// a finished game.
func (s *RoomService) afterGameChange(ctx context.Context, room *models.Room, gctx *games.Context) {
	s.broadcastProjection(ctx, room, models.EventUpdateGameData)
	if results, finished := gctx.Finished(); finished {
		s.logger.Info("game over", "room_id", room.ID, "game", room.GameKind)
		s.broadcastIncremental(ctx, room, models.EventGameOver, models.GameOverPayload{Results: results}, "")
	}
}

// presenceChanged runs the plugin presence hook after playerID left or went
// offline. It returns nil when the game does not care.
func (s *RoomService) presenceChanged(room *models.Room, playerID string) (*games.Context, error) {
	if room.Phase == models.PhaseLobby || room.Phase == models.PhaseGameOver {
		return nil, nil
	}
	p, err := s.plugin(room.GameKind)
	if err != nil {
		return nil, err
	}
	ph, ok := p.(games.PresenceHandler)
	if !ok {
		return nil, nil
	}
	gctx := games.NewContext(room, "", s.clock())
	if err := ph.OnPresence(gctx, playerID); err != nil && !errors.Is(err, games.ErrIgnored) {
		return nil, err
	}
	return gctx, nil
}

func (s *RoomService) LeaveRoom(ctx context.Context, conn Conn) error {
	sess := conn.Session()
	roomID, playerID, err := s.seated(conn)
	if err != nil {
		return nil
	}
	sess.Leave()
	s.scheduler.Cancel(roomID, presenceTimerPrefix+playerID)

	var gctx *games.Context
	room, err := s.mutate(ctx, roomID, func(room *models.Room) (bool, error) {
		gctx = nil
		if !room.RemovePlayer(playerID) {
			return false, nil
		}
		if room.Empty() {
			return true, nil
		}
		var err error
		gctx, err = s.presenceChanged(room, playerID)
		return true, err
	})
	if errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if room.Empty() {
		s.logger.Info("room closed", "room_id", room.ID)
		return nil
	}
	s.logger.Info("player left", "room_id", room.ID, "player_id", playerID, "players", len(room.Players))
	s.broadcastIncremental(ctx, room, models.EventUpdatePlayers, models.UpdatePlayersPayload{Players: room.PlayerViews()}, "")
	if gctx != nil && gctx.Changed() {
		s.afterGameChange(ctx, room, gctx)
	}
	return nil
}

func (s *RoomService) SelectGame(ctx context.Context, conn Conn, raw json.RawMessage) error {
	var in models.SelectGamePayload
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	roomID, playerID, err := s.seated(conn)
	if err != nil {
		return err
	}
	kind := strings.ToUpper(strings.TrimSpace(in.GameKind))
	if _, err := s.plugin(kind); err != nil {
		return err
	}

	room, err := s.mutate(ctx, roomID, func(room *models.Room) (bool, error) {
		if !room.IsHost(playerID) {
			return false, ErrNotHost
		}
		if room.Phase != models.PhaseLobby {
			return false, ErrWrongPhase
		}
		if room.GameKind == kind {
			return false, nil
		}
		room.GameKind = kind
		return true, nil
	})
	if err != nil {
		return err
	}

	s.broadcastProjection(ctx, room, models.EventJoinedRoom)
	return nil
}

func (s *RoomService) ReturnToLobby(ctx context.Context, conn Conn) error {
	roomID, playerID, err := s.seated(conn)
	if err != nil {
		return err
	}

	room, err := s.mutate(ctx, roomID, func(room *models.Room) (bool, error) {
		if !room.IsHost(playerID) {
			return false, ErrNotHost
		}
		if room.Phase != models.PhaseGameOver {
			return false, ErrWrongPhase
		}
		room.ResetGame()
		room.Phase = models.PhaseLobby
		return true, nil
	})
	if err != nil {
		return err
	}

	s.broadcastProjection(ctx, room, models.EventJoinedRoom)
	return nil
}

// SendMessage relays a chat line to everyone seated in the sender's room.
// Chat is not persisted.
func (s *RoomService) SendMessage(ctx context.Context, conn Conn, raw json.RawMessage) error {
	var in models.SendMessagePayload
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	roomID, playerID, err := s.seated(conn)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return games.ErrIgnored
	}
	if r := []rune(text); len(r) > maxChatLen {
		text = string(r[:maxChatLen])
	}

	room, err := s.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	p := room.Player(playerID)
	if p == nil {
		return ErrNotInRoom
	}

	s.broadcastIncremental(ctx, room, models.EventReceiveMessage, models.ReceiveMessagePayload{
		PlayerID: playerID,
		Nickname: p.Nickname,
		Text:     text,
	}, "")
	return nil
}

// Disconnect starts the grace period of a closed connection. The player is
// only marked offline if nothing rebinds the seat before it runs out.
func (s *RoomService) Disconnect(ctx context.Context, conn Conn) {
	sess := conn.Session()
	roomID, playerID := sess.RoomID(), sess.PlayerID()
	if roomID == "" || playerID == "" {
		return
	}
	connID := sess.ConnID

	if s.cfg.DisconnectGrace <= 0 {
		s.MarkOffline(ctx, roomID, playerID, connID)
		return
	}
	s.scheduler.Schedule(roomID, presenceTimerPrefix+playerID, s.now().Add(s.cfg.DisconnectGrace), func() {
		s.MarkOffline(context.Background(), roomID, playerID, connID)
	})
}

// MarkOffline flags the player offline if connID is still their current
// connection. A reconnect on any process makes it a no-op.
func (s *RoomService) MarkOffline(ctx context.Context, roomID, playerID, connID string) {
	ctx, span := s.tracer.Start(ctx, "room.offline", trace.WithAttributes(attribute.String("room.id", roomID)))
	defer span.End()

	var (
		gctx    *games.Context
		offline bool
	)
	room, err := s.mutate(ctx, roomID, func(room *models.Room) (bool, error) {
		gctx, offline = nil, false
		p := room.Player(playerID)
		if p == nil || p.ConnID != connID || !p.Online {
			return false, nil
		}
		p.Online = false
		offline = true
		var err error
		gctx, err = s.presenceChanged(room, playerID)
		return true, err
	})
	if err != nil {
		if !errors.Is(err, ErrRoomNotFound) {
			span.RecordError(err)
			s.logger.Error("marking player offline failed", "room_id", roomID, "player_id", playerID, "error", err)
		}
		return
	}
	if !offline {
		return
	}

	s.logger.Info("player offline", "room_id", roomID, "player_id", playerID)
	s.broadcastIncremental(ctx, room, models.EventUpdatePlayers, models.UpdatePlayersPayload{Players: room.PlayerViews()}, "")
	if gctx != nil && gctx.Changed() {
		s.afterGameChange(ctx, room, gctx)
	}
}

// FireDeadline consumes a persisted deadline. Whichever process saves first
// wins; the others find the deadline gone and do nothing.
func (s *RoomService) FireDeadline(ctx context.Context, roomID, name string) {
	ctx, span := s.tracer.Start(ctx, "room.deadline", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("timer", name),
	))
	defer span.End()

	var gctx *games.Context
	room, err := s.mutate(ctx, roomID, func(room *models.Room) (bool, error) {
		gctx = nil
		at, ok := room.Deadlines[name]
		if !ok || s.clock().Before(at) {
			return false, nil
		}
		room.ClearDeadline(name)

		p, err := s.plugin(room.GameKind)
		if err != nil {
			return true, nil
		}
		th, ok := p.(games.TimerHandler)
		if !ok {
			return true, nil
		}
		gctx = games.NewContext(room, "", s.clock())
		if err := th.OnTimer(gctx, name); err != nil && !errors.Is(err, games.ErrIgnored) {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			s.scheduler.CancelRoom(roomID)
			return
		}
		span.RecordError(err)
		s.logger.Error("deadline failed", "room_id", roomID, "timer", name, "error", err, "retry_in", s.cfg.TimerRetry)
		// The timer that brought us here is spent and the deadline is still
		// on the room, so nothing else would try it again.
		s.scheduler.Schedule(roomID, deadlineTimerPrefix+name, s.clock().Add(s.cfg.TimerRetry), func() {
			s.FireDeadline(context.Background(), roomID, name)
		})
		return
	}
	if gctx == nil || !gctx.Changed() {
		return
	}

	s.logger.Info("deadline reached", "room_id", roomID, "timer", name)
	s.afterGameChange(ctx, room, gctx)
}
