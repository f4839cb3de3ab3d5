package models

import "encoding/json"

// Message is the wire envelope for every frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound lifecycle events. Any other type is routed to the active game.
const (
	EventCreateRoom    = "create_room"
	EventJoinRoom      = "join_room"
	EventRejoinRoom    = "rejoin_room"
	EventStartGame     = "start_game"
	EventLeaveRoom     = "leave_room"
	EventSelectGame    = "select_game"
	EventReturnToLobby = "return_to_lobby"
	EventSendMessage   = "send_message"
	EventPing          = "ping"
)

// Outbound events.
const (
	EventJoinedRoom     = "joined_room"
	EventUpdatePlayers  = "update_players"
	EventUpdateGameData = "update_game_data"
	EventGameOver       = "game_over"
	EventError          = "error_msg"
	EventRejoinFailed   = "rejoin_failed"
	EventReceiveMessage = "receive_message"
	EventPong           = "pong"
)

type CreateRoomPayload struct {
	Nickname string `json:"nickname"`
	GameKind string `json:"gameKind"`
	PlayerID string `json:"playerId"`
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Nickname string `json:"nickname"`
	PlayerID string `json:"playerId"`
}

type RejoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type SelectGamePayload struct {
	GameKind string `json:"gameKind"`
}

type SendMessagePayload struct {
	Text string `json:"text"`
}

// ReceiveMessagePayload is a chat line relayed to everyone in the room,
// sender included.
type ReceiveMessagePayload struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Text     string `json:"text"`
}

// JoinedRoomPayload is the full view a participant receives on entry and on
// every wholesale state change.
type JoinedRoomPayload struct {
	RoomID     string       `json:"roomId"`
	PlayerID   string       `json:"playerId"`
	Players    []PlayerView `json:"players"`
	GameKind   string       `json:"gameKind"`
	Phase      string       `json:"phase"`
	Projection any          `json:"projection"`
}

type UpdatePlayersPayload struct {
	Players []PlayerView `json:"players"`
}

type UpdateGameDataPayload struct {
	Projection any    `json:"projection"`
	Phase      string `json:"phase"`
}

type GameOverPayload struct {
	Results any `json:"results"`
}

type ErrorPayload struct {
	Text string `json:"text"`
}

// Encode builds a ready-to-send frame.
func Encode(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(msgType string, payload any) []byte {
	b, err := Encode(msgType, payload)
	if err != nil {
		panic(err)
	}
	return b
}
