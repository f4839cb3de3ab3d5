package services

import (
	"sync"

	"github.com/google/uuid"
)

// Session is what the server knows about one live connection. It is never
// persisted and is rebuilt on every connect.
type Session struct {
	ConnID string

	mu       sync.RWMutex
	playerID string
	roomID   string
	verified bool
}

// NewSession starts a session. A non-empty playerID marks an identity that
// was verified by a token and cannot be overridden by the client.
func NewSession(playerID string) *Session {
	return &Session{
		ConnID:   uuid.NewString(),
		playerID: playerID,
		verified: playerID != "",
	}
}

func (s *Session) PlayerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playerID
}

func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *Session) Verified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verified
}

// Bind records that this connection now plays as playerID in roomID.
func (s *Session) Bind(playerID, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerID = playerID
	s.roomID = roomID
}

func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = ""
}

// resolvePlayerID picks the identity for an entering player: a verified
// identity always wins, then the client-supplied id, then a previous id on
// this connection, then a fresh one.
func (s *Session) resolvePlayerID(requested string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.verified:
		return s.playerID
	case requested != "":
		return requested
	case s.playerID != "":
		return s.playerID
	default:
		return uuid.NewString()
	}
}

// Suggest remembers a client-supplied player id for a connection without a
// verified identity. Payload ids still take precedence.
func (s *Session) Suggest(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verified && s.playerID == "" {
		s.playerID = playerID
	}
}
