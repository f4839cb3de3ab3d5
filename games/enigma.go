package games

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"
	"unicode"

	"partyhost/models"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	KindEnigma = "ENIGMA"

	EnigmaPhasePlaying = "PLAYING"
	EnigmaPhaseReveal  = "REVEAL"

	enigmaRoundTimer = "round"
	enigmaPoints     = 10
)

type Riddle struct {
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
}

type enigmaState struct {
	Deck    []Riddle       `json:"deck"`
	Current *Riddle        `json:"current,omitempty"`
	Round   int            `json:"round"`
	Winner  string         `json:"winner,omitempty"`
	Scores  map[string]int `json:"scores"`
}

type EnigmaScore struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
}

type enigmaRiddleView struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

type enigmaView struct {
	Round     int               `json:"round"`
	Remaining int               `json:"remaining"`
	Riddle    *enigmaRiddleView `json:"riddle,omitempty"`
	Winner    string            `json:"winner,omitempty"`
	Scores    map[string]int    `json:"scores"`
	EndsAt    *time.Time        `json:"endsAt,omitempty"`
}

// Enigma is a riddle race: the first correct guess wins the round. A round
// that nobody solves before its deadline is revealed automatically.
type Enigma struct {
	riddles   []Riddle
	roundTime time.Duration
}

func NewEnigma(deck []json.RawMessage, roundTime time.Duration) (*Enigma, error) {
	riddles := make([]Riddle, 0, len(deck))
	for i, raw := range deck {
		var r Riddle
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("enigma riddle %d: %w", i, err)
		}
		if r.Question == "" || len(r.Answers) == 0 {
			return nil, fmt.Errorf("enigma riddle %d: question and answers are required", i)
		}
		riddles = append(riddles, r)
	}
	if len(riddles) == 0 {
		return nil, fmt.Errorf("enigma: empty riddle deck")
	}
	return &Enigma{riddles: riddles, roundTime: roundTime}, nil
}

func (g *Enigma) Kind() string { return KindEnigma }

func (g *Enigma) Handlers() map[string]Handler {
	return map[string]Handler{
		"enigma_guess": g.guess,
		"enigma_next":  g.next,
	}
}

func (g *Enigma) Init(c *Context) error {
	deck := append([]Riddle(nil), g.riddles...)
	rand.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	st := &enigmaState{Deck: deck, Scores: map[string]int{}}
	for _, p := range c.Room.Players {
		st.Scores[p.ID] = 0
	}
	return g.nextRound(c, st)
}

func (g *Enigma) nextRound(c *Context, st *enigmaState) error {
	if len(st.Deck) == 0 {
		st.Current = nil
		if err := c.SetState(st); err != nil {
			return err
		}
		c.Finish(g.ranking(c.Room, st))
		return nil
	}

	last := len(st.Deck) - 1
	r := st.Deck[last]
	st.Deck = st.Deck[:last]
	st.Current = &r
	st.Round++
	st.Winner = ""
	c.SetPhase(EnigmaPhasePlaying)
	if g.roundTime > 0 {
		c.Schedule(enigmaRoundTimer, g.roundTime)
	}
	return c.SetState(st)
}

func (g *Enigma) load(c *Context) (*enigmaState, error) {
	var st enigmaState
	if err := c.State(&st); err != nil {
		return nil, err
	}
	if st.Scores == nil {
		st.Scores = map[string]int{}
	}
	return &st, nil
}

func (g *Enigma) guess(c *Context, payload json.RawMessage) error {
	if c.Room.Phase != EnigmaPhasePlaying {
		return ErrIgnored
	}
	var in struct {
		Guess string `json:"guess"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || strings.TrimSpace(in.Guess) == "" {
		return ErrIgnored
	}
	st, err := g.load(c)
	if err != nil {
		return err
	}
	if st.Current == nil {
		return ErrIgnored
	}
	if !MatchAnswer(in.Guess, st.Current.Answers) {
		return c.Reject("Wrong answer!")
	}

	p := c.Room.Player(c.Sender)
	if p == nil {
		return ErrIgnored
	}
	st.Scores[p.ID] += enigmaPoints
	st.Winner = p.Nickname
	c.Cancel(enigmaRoundTimer)
	c.SetPhase(EnigmaPhaseReveal)
	return c.SetState(st)
}

func (g *Enigma) next(c *Context, _ json.RawMessage) error {
	if c.Room.Phase == models.PhaseGameOver {
		return ErrIgnored
	}
	if !c.IsHost() {
		return c.Reject("Only the host can move to the next riddle")
	}
	st, err := g.load(c)
	if err != nil {
		return err
	}
	c.Cancel(enigmaRoundTimer)
	return g.nextRound(c, st)
}

// OnTimer reveals a round nobody solved in time.
func (g *Enigma) OnTimer(c *Context, name string) error {
	if name != enigmaRoundTimer || c.Room.Phase != EnigmaPhasePlaying {
		return ErrIgnored
	}
	c.SetPhase(EnigmaPhaseReveal)
	return nil
}

func (g *Enigma) ranking(room *models.Room, st *enigmaState) []EnigmaScore {
	out := make([]EnigmaScore, 0, len(room.Players))
	for _, p := range room.Players {
		out = append(out, EnigmaScore{PlayerID: p.ID, Nickname: p.Nickname, Score: st.Scores[p.ID]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (g *Enigma) View(room *models.Room, _ string) (any, error) {
	var st enigmaState
	if len(room.State) > 0 {
		if err := json.Unmarshal(room.State, &st); err != nil {
			return nil, err
		}
	}
	v := enigmaView{
		Round:     st.Round,
		Remaining: len(st.Deck),
		Winner:    st.Winner,
		Scores:    st.Scores,
	}
	if v.Scores == nil {
		v.Scores = map[string]int{}
	}
	if st.Current != nil {
		v.Riddle = &enigmaRiddleView{Question: st.Current.Question}
		if room.Phase != EnigmaPhasePlaying {
			v.Riddle.Answer = st.Current.Answers[0]
		}
	}
	if at, ok := room.Deadlines[enigmaRoundTimer]; ok {
		v.EndsAt = &at
	}
	return v, nil
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeAnswer folds case, accents and inner whitespace so "  A Tôalha"
// matches "a toalha".
func NormalizeAnswer(s string) string {
	out, _, err := transform.String(foldAccents, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

func MatchAnswer(guess string, answers []string) bool {
	g := NormalizeAnswer(guess)
	for _, a := range answers {
		if NormalizeAnswer(a) == g {
			return true
		}
	}
	return false
}
