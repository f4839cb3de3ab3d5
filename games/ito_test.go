package games

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"testing"

	"partyhost/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIto(t *testing.T) *Ito {
	g, err := NewIto(deck(t, KindIto))
	require.NoError(t, err)
	return g
}

func secretOf(t *testing.T, room *models.Room, id string) int {
	var s itoSecret
	require.NoError(t, json.Unmarshal(room.Player(id).GameData, &s))
	return s.SecretNumber
}

func TestItoInitDealsUniqueSecrets(t *testing.T) {
	g := newIto(t)
	room := newRoom(KindIto, "a", "b", "c", "d")
	start(t, g, room)

	assert.Equal(t, ItoPhaseClue, room.Phase)
	seen := map[int]bool{}
	for _, p := range room.Players {
		n := secretOf(t, room, p.ID)
		assert.GreaterOrEqual(t, n, 1)
		assert.LessOrEqual(t, n, 100)
		assert.False(t, seen[n], "secret %d dealt twice", n)
		seen[n] = true
	}
}

func TestItoViewShowsOnlyOwnSecret(t *testing.T) {
	g := newIto(t)
	room := newRoom(KindIto, "a", "b", "c")
	start(t, g, room)

	for _, viewer := range []string{"a", "b", "c"} {
		v := viewMap(t, g, room, viewer)
		assert.Equal(t, float64(secretOf(t, room, viewer)), v["mySecret"])
		assert.NotContains(t, v, "secrets", "viewer %s sees other secrets", viewer)
		assert.NotContains(t, viewJSON(t, g, room, viewer), "secretNumber")
	}
}

func TestItoAllCluesMoveToOrdering(t *testing.T) {
	g := newIto(t)
	room := newRoom(KindIto, "a", "b", "c")
	start(t, g, room)

	_, err := send(t, g, room, "a", "ito_submit_clue", map[string]string{"clue": "warm"})
	require.NoError(t, err)
	_, err = send(t, g, room, "b", "ito_submit_clue", map[string]string{"clue": "cold"})
	require.NoError(t, err)
	assert.Equal(t, ItoPhaseClue, room.Phase)

	_, err = send(t, g, room, "c", "ito_submit_clue", map[string]string{"clue": "hot"})
	require.NoError(t, err)
	assert.Equal(t, ItoPhaseOrdering, room.Phase)
}

func TestItoOfflinePlayerDoesNotBlockClues(t *testing.T) {
	g := newIto(t)
	room := newRoom(KindIto, "a", "b", "c")
	start(t, g, room)

	_, err := send(t, g, room, "a", "ito_submit_clue", map[string]string{"clue": "warm"})
	require.NoError(t, err)
	_, err = send(t, g, room, "b", "ito_submit_clue", map[string]string{"clue": "cold"})
	require.NoError(t, err)

	room.Player("c").Online = false
	c := NewContext(room, "", testNow)
	require.NoError(t, g.OnPresence(c, "c"))
	assert.True(t, c.Changed())
	assert.Equal(t, ItoPhaseOrdering, room.Phase)
}

func TestItoLeaverDroppedFromRound(t *testing.T) {
	g := newIto(t)
	room := newRoom(KindIto, "a", "b", "c")
	start(t, g, room)

	_, err := send(t, g, room, "c", "ito_submit_clue", map[string]string{"clue": "x"})
	require.NoError(t, err)
	room.RemovePlayer("c")
	require.NoError(t, g.OnPresence(NewContext(room, "", testNow), "c"))

	v := viewMap(t, g, room, "a")
	assert.Equal(t, []any{"a", "b"}, v["order"])
	assert.Empty(t, v["clues"])
}

func TestItoRejectsEmptyClueAndWrongPhase(t *testing.T) {
	g := newIto(t)
	room := newRoom(KindIto, "a", "b")
	start(t, g, room)

	_, err := send(t, g, room, "a", "ito_submit_clue", map[string]string{"clue": "  "})
	_, rejected := IsRejection(err)
	assert.True(t, rejected)

	_, err = send(t, g, room, "a", "ito_reveal", struct{}{})
	assert.ErrorIs(t, err, ErrIgnored)
}

func TestItoRevealScoresOrder(t *testing.T) {
	g := newIto(t)
	room := newRoom(KindIto, "a", "b", "c")
	start(t, g, room)
	for _, id := range []string{"a", "b", "c"} {
		_, err := send(t, g, room, id, "ito_submit_clue", map[string]string{"clue": "clue-" + id})
		require.NoError(t, err)
	}

	ids := []string{"a", "b", "c"}
	sort.Slice(ids, func(i, j int) bool { return secretOf(t, room, ids[i]) < secretOf(t, room, ids[j]) })

	_, err := send(t, g, room, "b", "ito_update_order", map[string][]string{"order": ids})
	_, rejected := IsRejection(err)
	assert.True(t, rejected, "only the host reorders")

	_, err = send(t, g, room, "a", "ito_update_order", map[string][]string{"order": {"a", "a", "b"}})
	_, rejected = IsRejection(err)
	assert.True(t, rejected, "order must be a permutation")

	_, err = send(t, g, room, "a", "ito_update_order", map[string][]string{"order": ids})
	require.NoError(t, err)

	c, err := send(t, g, room, "a", "ito_reveal", struct{}{})
	require.NoError(t, err)
	results, finished := c.Finished()
	require.True(t, finished)
	assert.Equal(t, models.PhaseGameOver, room.Phase)

	res := results.(*ItoResults)
	assert.Equal(t, 3, res.TotalScore)
	assert.Equal(t, 3, res.MaxScore)
	for _, r := range res.Results {
		assert.True(t, r.IsCorrect)
		assert.Equal(t, "clue-"+r.PlayerID, r.Clue)
	}

	// after reveal every secret is public
	js := viewJSON(t, g, room, "b")
	for _, id := range ids {
		assert.True(t, strings.Contains(js, fmt.Sprintf(`"%s":%d`, id, secretOf(t, room, id))))
	}
}

func TestItoRestart(t *testing.T) {
	g := newIto(t)
	room := newRoom(KindIto, "a", "b")
	start(t, g, room)
	_, err := send(t, g, room, "a", "ito_submit_clue", map[string]string{"clue": "x"})
	require.NoError(t, err)

	_, err = send(t, g, room, "a", "ito_restart", struct{}{})
	require.NoError(t, err)
	assert.Equal(t, ItoPhaseClue, room.Phase)
	assert.Empty(t, viewMap(t, g, room, "a")["clues"])
}

// withoutOwnSecret is a projection minus the viewer's own number. Before the
// reveal it must be the same for everyone.
func withoutOwnSecret(t *testing.T, g *Ito, room *models.Room, viewer string) map[string]any {
	t.Helper()
	v := viewMap(t, g, room, viewer)
	delete(v, "mySecret")
	return v
}

func TestItoRandomRoundsNeverLeakOtherSecrets(t *testing.T) {
	g := newIto(t)
	for seed := uint64(1); seed <= 40; seed++ {
		rng := rand.New(rand.NewPCG(seed, 42))
		ids := make([]string, 2+rng.IntN(7))
		for i := range ids {
			ids[i] = fmt.Sprintf("p%d", i)
		}
		room := newRoom(KindIto, ids...)
		start(t, g, room)

		for step := 0; step < 30 && room.Phase != models.PhaseGameOver; step++ {
			players := room.Players
			sender := players[rng.IntN(len(players))].ID

			switch rng.IntN(4) {
			case 0, 1:
				_, err := send(t, g, room, sender, "ito_submit_clue", map[string]string{"clue": fmt.Sprintf("clue %d", rng.IntN(1000))})
				requireHandled(t, err)
			case 2:
				var st itoState
				require.NoError(t, json.Unmarshal(room.State, &st))
				order := append([]string(nil), st.Order...)
				rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
				_, err := send(t, g, room, room.Host().ID, "ito_update_order", map[string][]string{"order": order})
				requireHandled(t, err)
			case 3:
				if len(players) > 2 && rng.IntN(3) == 0 {
					room.RemovePlayer(sender)
					require.NoError(t, g.OnPresence(NewContext(room, "", testNow), sender))
				} else if p := room.Player(sender); p != nil {
					p.Online = !p.Online
					require.NoError(t, g.OnPresence(NewContext(room, "", testNow), sender))
				}
			}

			shared := withoutOwnSecret(t, g, room, "")
			assert.NotContains(t, shared, "secrets", "seed %d step %d", seed, step)
			assert.NotContains(t, shared, "results", "seed %d step %d", seed, step)

			for _, viewer := range room.Players {
				raw := viewJSON(t, g, room, viewer.ID)
				assert.NotContains(t, raw, "secretNumber", "seed %d step %d", seed, step)

				v := viewMap(t, g, room, viewer.ID)
				mine := secretOf(t, room, viewer.ID)
				assert.Equal(t, float64(mine), v["mySecret"], "seed %d step %d viewer %s", seed, step, viewer.ID)
				for _, other := range room.Players {
					if other.ID == viewer.ID {
						continue
					}
					assert.NotEqual(t, float64(secretOf(t, room, other.ID)), v["mySecret"],
						"seed %d step %d: %s sees %s's number", seed, step, viewer.ID, other.ID)
				}
				assert.Equal(t, shared, withoutOwnSecret(t, g, room, viewer.ID),
					"seed %d step %d: %s gets a projection nobody else gets", seed, step, viewer.ID)
			}
		}
	}
}

// requireHandled accepts the outcomes a player can legitimately cause.
func requireHandled(t *testing.T, err error) {
	t.Helper()
	if err == nil || errors.Is(err, ErrIgnored) {
		return
	}
	_, ok := IsRejection(err)
	require.True(t, ok, "unexpected error: %v", err)
}
