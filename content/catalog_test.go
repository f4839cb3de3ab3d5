package content

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)

	sizes := c.Sizes()
	assert.Len(t, sizes, 3)
	for _, name := range []string{"ENIGMA", "ITO", "SPY"} {
		assert.Positive(t, sizes[name], name)
		assert.NotEmpty(t, c.Deck(name), name)
	}
	assert.NotEmpty(t, c.Deck("spy"), "deck lookup is case-insensitive")
}

func TestOverlay(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)
	itoBefore := len(c.Deck("ITO"))

	c.Overlay(map[string][]json.RawMessage{
		"spy":    {json.RawMessage(`"Lighthouse"`)},
		"ENIGMA": nil,
	})

	assert.Equal(t, []json.RawMessage{json.RawMessage(`"Lighthouse"`)}, c.Deck("SPY"))
	assert.NotEmpty(t, c.Deck("ENIGMA"), "empty overlay keeps built-in deck")
	assert.Len(t, c.Deck("ITO"), itoBefore)
	assert.Equal(t, 1, c.Sizes()["SPY"])
}
