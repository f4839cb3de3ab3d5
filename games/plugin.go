// Package games holds the contract every game plugs into and the bundled
// games. Plugins only ever see a room through a Context; they never touch the
// store or the bus.
package games

import (
	"encoding/json"

	"partyhost/models"
)

// Handler reacts to one named client event while a game is running.
type Handler func(c *Context, payload json.RawMessage) error

type Plugin interface {
	// Kind is the registry key, e.g. "ITO".
	Kind() string
	// Init builds fresh state for a room that is leaving the lobby.
	Init(c *Context) error
	// View returns what viewerID may see of the room's game. It must not
	// mutate the room.
	View(room *models.Room, viewerID string) (any, error)
	Handlers() map[string]Handler
}

// TimerHandler is implemented by plugins that schedule deadlines.
type TimerHandler interface {
	OnTimer(c *Context, name string) error
}

// PresenceHandler is implemented by plugins whose collective steps depend on
// who is still around. It runs after a player leaves or goes offline.
type PresenceHandler interface {
	OnPresence(c *Context, playerID string) error
}
