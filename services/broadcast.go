package services

import (
	"context"
	"encoding/json"

	"partyhost/models"
)

// projection is what viewerID sees of the running game, nil in the lobby.
func (s *RoomService) projection(room *models.Room, viewerID string) (any, error) {
	if room.Phase == models.PhaseLobby || len(room.State) == 0 {
		return nil, nil
	}
	p, err := s.plugin(room.GameKind)
	if err != nil {
		return nil, err
	}
	return p.View(room, viewerID)
}

func (s *RoomService) joinedPayload(room *models.Room, viewerID string) (models.JoinedRoomPayload, error) {
	view, err := s.projection(room, viewerID)
	if err != nil {
		return models.JoinedRoomPayload{}, err
	}
	return models.JoinedRoomPayload{
		RoomID:     room.ID,
		PlayerID:   viewerID,
		Players:    room.PlayerViews(),
		GameKind:   room.GameKind,
		Phase:      room.Phase,
		Projection: view,
	}, nil
}

// sendJoined replies to a single connection with its full view of the room.
func (s *RoomService) sendJoined(conn Conn, room *models.Room, viewerID string) error {
	payload, err := s.joinedPayload(room, viewerID)
	if err != nil {
		return err
	}
	frame, err := models.Encode(models.EventJoinedRoom, payload)
	if err != nil {
		return err
	}
	conn.Send(frame)
	return nil
}

// broadcastIncremental sends one frame to every seated connection of the
// room except the excluded player.
func (s *RoomService) broadcastIncremental(ctx context.Context, room *models.Room, msgType string, payload any, exclude string) {
	frame, err := models.Encode(msgType, payload)
	if err != nil {
		s.logger.Error("encode broadcast", "room_id", room.ID, "type", msgType, "error", err)
		return
	}
	s.publish(ctx, Envelope{
		RoomID:  room.ID,
		Message: frame,
		Seats:   room.Seats(),
		Exclude: exclude,
	})
}

// broadcastProjection computes a distinct view for every connected player
// and sends it as msgType, which is either joined_room or update_game_data.
func (s *RoomService) broadcastProjection(ctx context.Context, room *models.Room, msgType string) {
	views := make(map[string]json.RawMessage, len(room.Players))
	for _, p := range room.Players {
		if !p.Connected() {
			continue
		}

		var (
			payload any
			err     error
		)
		if msgType == models.EventJoinedRoom {
			payload, err = s.joinedPayload(room, p.ID)
		} else {
			var view any
			view, err = s.projection(room, p.ID)
			payload = models.UpdateGameDataPayload{Projection: view, Phase: room.Phase}
		}
		if err != nil {
			s.logger.Error("build projection", "room_id", room.ID, "player_id", p.ID, "error", err)
			continue
		}

		frame, err := models.Encode(msgType, payload)
		if err != nil {
			s.logger.Error("encode projection", "room_id", room.ID, "player_id", p.ID, "error", err)
			continue
		}
		views[p.ID] = frame
	}

	s.publish(ctx, Envelope{
		RoomID: room.ID,
		Views:  views,
		Seats:  room.Seats(),
	})
}

func (s *RoomService) publish(ctx context.Context, env Envelope) {
	if err := s.bus.Publish(ctx, env); err != nil {
		s.logger.Error("publish to bus", "room_id", env.RoomID, "error", err)
	}
}
