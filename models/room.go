package models

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	PhaseLobby    = "LOBBY"
	PhasePlaying  = "PLAYING"
	PhaseGameOver = "GAME_OVER"
)

// Room is a single game session. It is the unit of state persisted in the
// shared store; nothing else about a session outlives a request.
type Room struct {
	ID        string               `json:"id"`
	Players   []Player             `json:"players"`
	GameKind  string               `json:"gameKind"`
	Phase     string               `json:"phase"`
	State     json.RawMessage      `json:"state,omitempty"`
	Deadlines map[string]time.Time `json:"deadlines,omitempty"`
	Version   int64                `json:"version"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// NormalizeRoomID makes room codes case-insensitive.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// NewRoom seeds a lobby with its creator as host.
func NewRoom(id, gameKind string, host Player, now time.Time) *Room {
	host.IsHost = true
	host.Online = true
	return &Room{
		ID:        NormalizeRoomID(id),
		Players:   []Player{host},
		GameKind:  gameKind,
		Phase:     PhaseLobby,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Player returns the seat for a stable player id, or nil.
func (r *Room) Player(id string) *Player {
	for i := range r.Players {
		if r.Players[i].ID == id {
			return &r.Players[i]
		}
	}
	return nil
}

// Host returns the seat holding the host flag, or nil in an empty room.
func (r *Room) Host() *Player {
	for i := range r.Players {
		if r.Players[i].IsHost {
			return &r.Players[i]
		}
	}
	return nil
}

func (r *Room) IsHost(playerID string) bool {
	p := r.Player(playerID)
	return p != nil && p.IsHost
}

// AddPlayer seats a new player, or rebinds the existing seat when the same
// stable id joins again. It returns the seat and whether it was newly added.
func (r *Room) AddPlayer(id, connID, nickname string) (*Player, bool) {
	if p := r.Player(id); p != nil {
		p.ConnID = connID
		p.Online = true
		if nickname != "" {
			p.Nickname = nickname
		}
		return p, false
	}
	r.Players = append(r.Players, Player{
		ID:       id,
		ConnID:   connID,
		Nickname: nickname,
		Online:   true,
	})
	return &r.Players[len(r.Players)-1], true
}

// RemovePlayer drops a seat and keeps exactly one host among the remaining
// players. It returns false when the player was not seated.
func (r *Room) RemovePlayer(id string) bool {
	idx := -1
	for i := range r.Players {
		if r.Players[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	wasHost := r.Players[idx].IsHost
	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)
	if wasHost && len(r.Players) > 0 {
		r.promoteHost()
	}
	return true
}

// promoteHost hands the host flag to the first online player, falling back
// to the first remaining seat when nobody is online.
func (r *Room) promoteHost() {
	next := 0
	for i := range r.Players {
		if r.Players[i].Online {
			next = i
			break
		}
	}
	for i := range r.Players {
		r.Players[i].IsHost = i == next
	}
}

func (r *Room) Empty() bool {
	return len(r.Players) == 0
}

// PlayerViews is the public player list.
func (r *Room) PlayerViews() []PlayerView {
	views := make([]PlayerView, 0, len(r.Players))
	for _, p := range r.Players {
		views = append(views, p.View())
	}
	return views
}

// Seats maps each player id to its current connection. Deliveries to any
// other connection of the same player are skipped.
func (r *Room) Seats() map[string]string {
	seats := make(map[string]string, len(r.Players))
	for _, p := range r.Players {
		if p.ConnID != "" {
			seats[p.ID] = p.ConnID
		}
	}
	return seats
}

// ResetGame clears everything the active game owns.
func (r *Room) ResetGame() {
	r.State = nil
	r.Deadlines = nil
	for i := range r.Players {
		r.Players[i].GameData = nil
	}
}

func (r *Room) SetDeadline(name string, at time.Time) {
	if r.Deadlines == nil {
		r.Deadlines = make(map[string]time.Time)
	}
	r.Deadlines[name] = at
}

func (r *Room) ClearDeadline(name string) {
	delete(r.Deadlines, name)
	if len(r.Deadlines) == 0 {
		r.Deadlines = nil
	}
}
