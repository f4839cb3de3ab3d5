package services

import (
	"context"

	"partyhost/models"
)

// RoomStore persists rooms in the shared state store. Implementations must be
// safe for concurrent use from many connections and many processes.
type RoomStore interface {
	// Get returns ErrRoomNotFound when the room is absent or expired.
	Get(ctx context.Context, roomID string) (*models.Room, error)
	// Create stores a brand-new room, failing with ErrRoomExists when the code
	// is already taken.
	Create(ctx context.Context, room *models.Room) error
	// Save writes the room only if the stored version still equals
	// room.Version, then increments it. A mismatch yields ErrVersionConflict.
	// Every save refreshes the idle TTL.
	Save(ctx context.Context, room *models.Room) error
	// Delete removes the room only if the stored version still equals
	// version. A mismatch yields ErrVersionConflict; an absent room is not
	// an error.
	Delete(ctx context.Context, roomID string, version int64) error
	Exists(ctx context.Context, roomID string) (bool, error)
	Ping(ctx context.Context) error
}
