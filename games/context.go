package games

import (
	"encoding/json"
	"fmt"
	"time"

	"partyhost/models"
)

// Context is a plugin's window on one room for the duration of one event.
// Everything a handler changes goes through it so the engine knows whether
// to persist and broadcast.
type Context struct {
	Room   *models.Room
	Sender string

	now      time.Time
	changed  bool
	finished bool
	results  any
}

func NewContext(room *models.Room, sender string, now time.Time) *Context {
	return &Context{Room: room, Sender: sender, now: now}
}

func (c *Context) Now() time.Time {
	return c.now
}

// IsHost reports whether the sender holds the host seat.
func (c *Context) IsHost() bool {
	return c.Room.IsHost(c.Sender)
}

// State decodes the game state into v. An empty state leaves v untouched.
func (c *Context) State(v any) error {
	if len(c.Room.State) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Room.State, v); err != nil {
		return fmt.Errorf("decode %s state: %w", c.Room.GameKind, err)
	}
	return nil
}

func (c *Context) SetState(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s state: %w", c.Room.GameKind, err)
	}
	c.Room.State = b
	c.changed = true
	return nil
}

// PlayerData decodes a player's private game data into v.
func (c *Context) PlayerData(playerID string, v any) error {
	p := c.Room.Player(playerID)
	if p == nil || len(p.GameData) == 0 {
		return nil
	}
	return json.Unmarshal(p.GameData, v)
}

func (c *Context) SetPlayerData(playerID string, v any) error {
	p := c.Room.Player(playerID)
	if p == nil {
		return fmt.Errorf("player %s not in room %s", playerID, c.Room.ID)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.GameData = b
	c.changed = true
	return nil
}

func (c *Context) SetPhase(phase string) {
	if c.Room.Phase != phase {
		c.Room.Phase = phase
		c.changed = true
	}
}

// Schedule arms a named deadline. It is persisted with the room and fires
// through the plugin's OnTimer even if this process restarts.
func (c *Context) Schedule(name string, after time.Duration) {
	c.Room.SetDeadline(name, c.now.Add(after))
	c.changed = true
}

func (c *Context) Cancel(name string) {
	if _, ok := c.Room.Deadlines[name]; ok {
		c.Room.ClearDeadline(name)
		c.changed = true
	}
}

// Finish ends the game and clears all deadlines. The results are sent once
// to every participant.
func (c *Context) Finish(results any) {
	c.Room.Phase = models.PhaseGameOver
	c.Room.Deadlines = nil
	c.finished = true
	c.results = results
	c.changed = true
}

// Reject returns a refusal shown to the sender only.
func (c *Context) Reject(format string, args ...any) error {
	return &Rejection{Text: fmt.Sprintf(format, args...)}
}

// LivePlayers returns the players currently online, in seat order.
func (c *Context) LivePlayers() []models.Player {
	live := make([]models.Player, 0, len(c.Room.Players))
	for _, p := range c.Room.Players {
		if p.Online {
			live = append(live, p)
		}
	}
	return live
}

func (c *Context) MarkChanged() {
	c.changed = true
}

func (c *Context) Changed() bool {
	return c.changed
}

func (c *Context) Finished() (any, bool) {
	return c.results, c.finished
}
