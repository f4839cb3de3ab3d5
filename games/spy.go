package games

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"partyhost/models"
)

const (
	KindSpy = "SPY"

	SpyPhasePlaying = "PLAYING"

	SpyRoleSpy      = "SPY"
	SpyRoleCivilian = "CIVILIAN"

	spyRoundTimer = "round"
)

type spyState struct {
	Location string    `json:"location"`
	SpyID    string    `json:"spyId"`
	EndsAt   time.Time `json:"endsAt"`
	Revealed bool      `json:"revealed"`
}

type SpyResults struct {
	SpyID       string `json:"spyId"`
	SpyNickname string `json:"spyNickname"`
	Location    string `json:"location"`
}

type spyView struct {
	Role     string    `json:"role"`
	Location string    `json:"location,omitempty"`
	SpyID    string    `json:"spyId,omitempty"`
	EndsAt   time.Time `json:"endsAt"`
	Revealed bool      `json:"revealed"`
}

// Spy hands everyone the same secret location except one random player,
// the spy, who has to work it out from the conversation.
type Spy struct {
	locations []string
	roundTime time.Duration
}

func NewSpy(deck []json.RawMessage, roundTime time.Duration) (*Spy, error) {
	locations := make([]string, 0, len(deck))
	for i, raw := range deck {
		var loc string
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, fmt.Errorf("spy location %d: %w", i, err)
		}
		if strings.TrimSpace(loc) == "" {
			return nil, fmt.Errorf("spy location %d: name is required", i)
		}
		locations = append(locations, loc)
	}
	if len(locations) == 0 {
		return nil, fmt.Errorf("spy: empty location deck")
	}
	return &Spy{locations: locations, roundTime: roundTime}, nil
}

func (g *Spy) Kind() string { return KindSpy }

func (g *Spy) Handlers() map[string]Handler {
	return map[string]Handler{
		"spy_reveal": g.reveal,
	}
}

func (g *Spy) Init(c *Context) error {
	candidates := c.LivePlayers()
	if len(candidates) == 0 {
		candidates = c.Room.Players
	}
	st := spyState{
		Location: g.locations[rand.IntN(len(g.locations))],
		SpyID:    candidates[rand.IntN(len(candidates))].ID,
		EndsAt:   c.Now().Add(g.roundTime),
	}
	c.SetPhase(SpyPhasePlaying)
	c.Schedule(spyRoundTimer, g.roundTime)
	return c.SetState(st)
}

func (g *Spy) finish(c *Context) error {
	var st spyState
	if err := c.State(&st); err != nil {
		return err
	}
	st.Revealed = true
	if err := c.SetState(st); err != nil {
		return err
	}
	res := SpyResults{SpyID: st.SpyID, Location: st.Location}
	if p := c.Room.Player(st.SpyID); p != nil {
		res.SpyNickname = p.Nickname
	}
	c.Finish(res)
	return nil
}

func (g *Spy) reveal(c *Context, _ json.RawMessage) error {
	if c.Room.Phase != SpyPhasePlaying {
		return ErrIgnored
	}
	if !c.IsHost() {
		return c.Reject("Only the host can reveal the spy")
	}
	return g.finish(c)
}

func (g *Spy) OnTimer(c *Context, name string) error {
	if name != spyRoundTimer || c.Room.Phase != SpyPhasePlaying {
		return ErrIgnored
	}
	return g.finish(c)
}

// OnPresence ends the round when the spy leaves the room for good.
func (g *Spy) OnPresence(c *Context, playerID string) error {
	if c.Room.Phase != SpyPhasePlaying {
		return nil
	}
	var st spyState
	if err := c.State(&st); err != nil {
		return err
	}
	if playerID != st.SpyID || c.Room.Player(playerID) != nil {
		return nil
	}
	return g.finish(c)
}

func (g *Spy) View(room *models.Room, viewerID string) (any, error) {
	var st spyState
	if len(room.State) > 0 {
		if err := json.Unmarshal(room.State, &st); err != nil {
			return nil, err
		}
	}
	v := spyView{EndsAt: st.EndsAt, Revealed: st.Revealed, Role: SpyRoleCivilian}
	if viewerID == st.SpyID {
		v.Role = SpyRoleSpy
	} else {
		v.Location = st.Location
	}
	if st.Revealed {
		v.Location = st.Location
		v.SpyID = st.SpyID
	}
	return v, nil
}
