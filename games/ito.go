package games

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"partyhost/models"
)

const (
	KindIto = "ITO"

	ItoPhaseClue     = "CLUE"
	ItoPhaseOrdering = "ORDERING"

	itoDeckSize = 100
)

type ItoTheme struct {
	Title string `json:"title"`
	Min   string `json:"min"`
	Max   string `json:"max"`
}

type itoState struct {
	Theme ItoTheme          `json:"theme"`
	Clues map[string]string `json:"clues"`
	Order []string          `json:"order"`
	// Secrets is filled on reveal; until then each number lives only in
	// its owner's game data.
	Secrets map[string]int `json:"secrets,omitempty"`
	Results *ItoResults    `json:"results,omitempty"`
}

type itoSecret struct {
	SecretNumber int `json:"secretNumber"`
}

type ItoResult struct {
	PlayerID     string `json:"playerId"`
	Nickname     string `json:"nickname"`
	SecretNumber int    `json:"secretNumber"`
	Clue         string `json:"clue"`
	IsCorrect    bool   `json:"isCorrect"`
}

type ItoResults struct {
	Results    []ItoResult `json:"results"`
	TotalScore int         `json:"totalScore"`
	MaxScore   int         `json:"maxScore"`
}

type itoView struct {
	Theme     ItoTheme          `json:"theme"`
	Clues     map[string]string `json:"clues"`
	Order     []string          `json:"order"`
	MySecret  int               `json:"mySecret,omitempty"`
	Secrets   map[string]int    `json:"secrets,omitempty"`
	Results   *ItoResults       `json:"results,omitempty"`
	Submitted int               `json:"submitted"`
	Expected  int               `json:"expected"`
}

// Ito is a cooperative game: everyone gets a secret number from 1 to 100,
// gives a clue about it on the round's theme, then the group orders
// themselves from lowest to highest without saying the numbers.
type Ito struct {
	themes []ItoTheme
}

func NewIto(deck []json.RawMessage) (*Ito, error) {
	themes := make([]ItoTheme, 0, len(deck))
	for i, raw := range deck {
		var th ItoTheme
		if err := json.Unmarshal(raw, &th); err != nil {
			return nil, fmt.Errorf("ito theme %d: %w", i, err)
		}
		if strings.TrimSpace(th.Title) == "" {
			return nil, fmt.Errorf("ito theme %d: title is required", i)
		}
		themes = append(themes, th)
	}
	if len(themes) == 0 {
		return nil, fmt.Errorf("ito: empty theme deck")
	}
	return &Ito{themes: themes}, nil
}

func (g *Ito) Kind() string { return KindIto }

func (g *Ito) Handlers() map[string]Handler {
	return map[string]Handler{
		"ito_submit_clue":  g.submitClue,
		"ito_update_order": g.updateOrder,
		"ito_reveal":       g.reveal,
		"ito_restart":      g.restart,
	}
}

func (g *Ito) Init(c *Context) error {
	deck := rand.Perm(itoDeckSize)
	st := itoState{
		Theme: g.themes[rand.IntN(len(g.themes))],
		Clues: map[string]string{},
		Order: make([]string, 0, len(c.Room.Players)),
	}
	for i, p := range c.Room.Players {
		if err := c.SetPlayerData(p.ID, itoSecret{SecretNumber: deck[i%itoDeckSize] + 1}); err != nil {
			return err
		}
		st.Order = append(st.Order, p.ID)
	}
	c.SetPhase(ItoPhaseClue)
	return c.SetState(st)
}

func (g *Ito) load(c *Context) (*itoState, error) {
	var st itoState
	if err := c.State(&st); err != nil {
		return nil, err
	}
	if st.Clues == nil {
		st.Clues = map[string]string{}
	}
	return &st, nil
}

func (g *Ito) secret(c *Context, playerID string) int {
	var s itoSecret
	if err := c.PlayerData(playerID, &s); err != nil {
		return 0
	}
	return s.SecretNumber
}

func (g *Ito) submitClue(c *Context, payload json.RawMessage) error {
	if c.Room.Phase != ItoPhaseClue {
		return ErrIgnored
	}
	var in struct {
		Clue string `json:"clue"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return ErrIgnored
	}
	st, err := g.load(c)
	if err != nil {
		return err
	}
	if !contains(st.Order, c.Sender) {
		return c.Reject("You are not playing this round")
	}
	clue := strings.TrimSpace(in.Clue)
	if clue == "" {
		return c.Reject("Clue cannot be empty")
	}

	st.Clues[c.Sender] = clue
	g.advance(c, st)
	return c.SetState(st)
}

// advance moves to ORDERING once every live participant has a clue in. The
// live set is recomputed each time so one absent player cannot block the
// round.
func (g *Ito) advance(c *Context, st *itoState) {
	if c.Room.Phase != ItoPhaseClue {
		return
	}
	live := 0
	for _, p := range c.LivePlayers() {
		if !contains(st.Order, p.ID) {
			continue
		}
		live++
		if _, ok := st.Clues[p.ID]; !ok {
			return
		}
	}
	if live > 0 {
		c.SetPhase(ItoPhaseOrdering)
	}
}

func (g *Ito) updateOrder(c *Context, payload json.RawMessage) error {
	if c.Room.Phase != ItoPhaseOrdering {
		return ErrIgnored
	}
	if !c.IsHost() {
		return c.Reject("Only the host can reorder the cards")
	}
	var in struct {
		Order []string `json:"order"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return ErrIgnored
	}
	st, err := g.load(c)
	if err != nil {
		return err
	}
	if !samePlayers(st.Order, in.Order) {
		return c.Reject("Order must contain every player exactly once")
	}
	st.Order = in.Order
	return c.SetState(st)
}

func (g *Ito) reveal(c *Context, _ json.RawMessage) error {
	if c.Room.Phase != ItoPhaseOrdering {
		return ErrIgnored
	}
	if !c.IsHost() {
		return c.Reject("Only the host can reveal the cards")
	}
	st, err := g.load(c)
	if err != nil {
		return err
	}

	st.Secrets = make(map[string]int, len(st.Order))
	for _, id := range st.Order {
		st.Secrets[id] = g.secret(c, id)
	}
	perfect := append([]string(nil), st.Order...)
	sort.SliceStable(perfect, func(i, j int) bool {
		return st.Secrets[perfect[i]] < st.Secrets[perfect[j]]
	})

	res := &ItoResults{MaxScore: len(st.Order)}
	for i, id := range st.Order {
		r := ItoResult{
			PlayerID:     id,
			SecretNumber: st.Secrets[id],
			Clue:         st.Clues[id],
			IsCorrect:    perfect[i] == id,
		}
		if p := c.Room.Player(id); p != nil {
			r.Nickname = p.Nickname
		}
		if r.IsCorrect {
			res.TotalScore++
		}
		res.Results = append(res.Results, r)
	}
	st.Results = res

	if err := c.SetState(st); err != nil {
		return err
	}
	c.Finish(res)
	return nil
}

func (g *Ito) restart(c *Context, _ json.RawMessage) error {
	if !c.IsHost() {
		return c.Reject("Only the host can restart")
	}
	for i := range c.Room.Players {
		c.Room.Players[i].GameData = nil
	}
	c.Room.Deadlines = nil
	return g.Init(c)
}

// OnPresence drops departed players from the round and re-checks whether
// the clue step is complete.
func (g *Ito) OnPresence(c *Context, playerID string) error {
	st, err := g.load(c)
	if err != nil {
		return err
	}
	if c.Room.Player(playerID) == nil && contains(st.Order, playerID) {
		st.Order = remove(st.Order, playerID)
		delete(st.Clues, playerID)
		c.MarkChanged()
	}
	before := c.Room.Phase
	g.advance(c, st)
	if before == c.Room.Phase && !c.Changed() {
		return nil
	}
	return c.SetState(st)
}

func (g *Ito) View(room *models.Room, viewerID string) (any, error) {
	var st itoState
	if len(room.State) > 0 {
		if err := json.Unmarshal(room.State, &st); err != nil {
			return nil, err
		}
	}
	v := itoView{
		Theme:     st.Theme,
		Clues:     st.Clues,
		Order:     st.Order,
		Secrets:   st.Secrets,
		Results:   st.Results,
		Submitted: len(st.Clues),
		Expected:  len(st.Order),
	}
	if v.Clues == nil {
		v.Clues = map[string]string{}
	}
	if p := room.Player(viewerID); p != nil && len(p.GameData) > 0 {
		var s itoSecret
		if err := json.Unmarshal(p.GameData, &s); err != nil {
			return nil, err
		}
		v.MySecret = s.SecretNumber
	}
	return v, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func samePlayers(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	seen := make(map[string]bool, len(got))
	for _, id := range got {
		if seen[id] || !contains(want, id) {
			return false
		}
		seen[id] = true
	}
	return true
}
