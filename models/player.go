package models

import "encoding/json"

// Player is a participant's seat inside a room. The ID is assigned by the
// client and survives reconnects; ConnID changes on every new connection.
type Player struct {
	ID       string          `json:"id"`
	ConnID   string          `json:"connId"`
	Nickname string          `json:"nickname"`
	IsHost   bool            `json:"isHost"`
	Online   bool            `json:"online"`
	GameData json.RawMessage `json:"gameData,omitempty"` // owned by the active game
}

// PlayerView is the shape of a player sent to clients in player lists.
type PlayerView struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	IsHost   bool   `json:"isHost"`
	Online   bool   `json:"online"`
}

func (p Player) View() PlayerView {
	return PlayerView{
		ID:       p.ID,
		Nickname: p.Nickname,
		IsHost:   p.IsHost,
		Online:   p.Online,
	}
}

// Connected reports whether the player has a live connection to deliver to.
func (p Player) Connected() bool {
	return p.Online && p.ConnID != ""
}
