package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionIdentity(t *testing.T) {
	anon := NewSession("")
	assert.NotEmpty(t, anon.ConnID)
	assert.False(t, anon.Verified())
	assert.NotEmpty(t, anon.resolvePlayerID(""))
	assert.Equal(t, "p1", anon.resolvePlayerID("p1"))

	anon.Suggest("hint")
	assert.Equal(t, "hint", anon.resolvePlayerID(""))
	assert.Equal(t, "p1", anon.resolvePlayerID("p1"))

	verified := NewSession("me")
	verified.Suggest("hint")
	assert.True(t, verified.Verified())
	assert.Equal(t, "me", verified.resolvePlayerID("someone-else"))
}

func TestSessionBindAndLeave(t *testing.T) {
	s := NewSession("")
	s.Bind("p1", "ABCD")
	assert.Equal(t, "p1", s.PlayerID())
	assert.Equal(t, "ABCD", s.RoomID())

	s.Leave()
	assert.Empty(t, s.RoomID())
	assert.Equal(t, "p1", s.PlayerID())
	assert.Equal(t, "p1", s.resolvePlayerID(""))
}
