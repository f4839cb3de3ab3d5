package games

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownDeck = errors.New("no game uses this deck")

// ValidateDeck reports whether items would build the game of kind. Decks are
// only decoded at startup, so anything stored must pass this first.
func ValidateDeck(kind string, items []json.RawMessage) error {
	var err error
	switch k := strings.ToUpper(strings.TrimSpace(kind)); k {
	case KindIto:
		_, err = NewIto(items)
	case KindEnigma:
		_, err = NewEnigma(items, time.Minute)
	case KindSpy:
		_, err = NewSpy(items, time.Minute)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDeck, k)
	}
	return err
}
