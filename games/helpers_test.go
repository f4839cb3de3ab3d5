package games

import (
	"encoding/json"
	"testing"
	"time"

	"partyhost/content"
	"partyhost/models"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

func newRoom(kind string, ids ...string) *models.Room {
	r := models.NewRoom("TEST", kind, models.Player{ID: ids[0], ConnID: "c-" + ids[0], Nickname: "nick-" + ids[0]}, testNow)
	for _, id := range ids[1:] {
		r.AddPlayer(id, "c-"+id, "nick-"+id)
	}
	return r
}

func deck(t *testing.T, kind string) []json.RawMessage {
	t.Helper()
	c, err := content.Builtin()
	require.NoError(t, err)
	return c.Deck(kind)
}

func start(t *testing.T, p Plugin, room *models.Room) {
	t.Helper()
	require.NoError(t, p.Init(NewContext(room, room.Host().ID, testNow)))
}

// send runs a handler the way the engine does and returns the context so
// tests can inspect what changed.
func send(t *testing.T, p Plugin, room *models.Room, sender, event string, payload any) (*Context, error) {
	t.Helper()
	h, ok := p.Handlers()[event]
	require.True(t, ok, "no handler for %s", event)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	c := NewContext(room, sender, testNow)
	return c, h(c, raw)
}

// viewJSON renders a projection the way it goes over the wire.
func viewJSON(t *testing.T, p Plugin, room *models.Room, viewer string) string {
	t.Helper()
	v, err := p.View(room, viewer)
	require.NoError(t, err)
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func viewMap(t *testing.T, p Plugin, room *models.Room, viewer string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(viewJSON(t, p, room, viewer)), &m))
	return m
}
