// Package content supplies the decks each game draws from: themes, riddles,
// locations. Items are opaque JSON to everything but the game that owns them.
package content

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

//go:embed decks/*.json
var builtin embed.FS

type Catalog struct {
	decks map[string][]json.RawMessage
}

// Builtin loads the decks shipped with the binary, one file per game.
func Builtin() (*Catalog, error) {
	entries, err := builtin.ReadDir("decks")
	if err != nil {
		return nil, err
	}
	c := &Catalog{decks: make(map[string][]json.RawMessage, len(entries))}
	for _, e := range entries {
		data, err := builtin.ReadFile(path.Join("decks", e.Name()))
		if err != nil {
			return nil, err
		}
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("deck %s: %w", e.Name(), err)
		}
		c.decks[deckName(strings.TrimSuffix(e.Name(), ".json"))] = items
	}
	return c, nil
}

// Overlay replaces whole decks. Games missing from decks keep their
// built-in content.
func (c *Catalog) Overlay(decks map[string][]json.RawMessage) {
	for name, items := range decks {
		if len(items) == 0 {
			continue
		}
		c.decks[deckName(name)] = items
	}
}

func (c *Catalog) Deck(name string) []json.RawMessage {
	return c.decks[deckName(name)]
}

// Sizes reports how many items each deck holds.
func (c *Catalog) Sizes() map[string]int {
	out := make(map[string]int, len(c.decks))
	for name, items := range c.decks {
		out[name] = len(items)
	}
	return out
}

func deckName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
