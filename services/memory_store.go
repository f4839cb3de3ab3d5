package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"partyhost/models"
)

type memoryEntry struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

// MemoryStore keeps rooms in process. It serializes rooms exactly like the
// Redis store so both behave the same under tests and single-node runs.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]memoryEntry
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		rooms: make(map[string]memoryEntry),
		ttl:   ttl,
		now:   now,
	}
}

// lookup must be called with mu held. Expired entries are dropped lazily.
func (s *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := s.rooms[key]
	if !ok {
		return memoryEntry{}, false
	}
	if s.ttl > 0 && !s.now().Before(e.expiresAt) {
		delete(s.rooms, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) put(key string, room *models.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	s.rooms[key] = memoryEntry{
		data:      data,
		version:   room.Version,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, roomID string) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrStoreUnavailable
	}
	s.mu.Lock()
	e, ok := s.lookup(models.NormalizeRoomID(roomID))
	s.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	var room models.Room
	if err := json.Unmarshal(e.data, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *MemoryStore) Create(ctx context.Context, room *models.Room) error {
	if err := ctx.Err(); err != nil {
		return ErrStoreUnavailable
	}
	room.ID = models.NormalizeRoomID(room.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(room.ID); ok {
		return ErrRoomExists
	}
	room.Version = 1
	return s.put(room.ID, room)
}

func (s *MemoryStore) Save(ctx context.Context, room *models.Room) error {
	if err := ctx.Err(); err != nil {
		return ErrStoreUnavailable
	}
	key := models.NormalizeRoomID(room.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return ErrRoomNotFound
	}
	if e.version != room.Version {
		return ErrVersionConflict
	}

	room.Version++
	room.UpdatedAt = s.now().UTC()
	if err := s.put(key, room); err != nil {
		room.Version--
		return err
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, roomID string, version int64) error {
	if err := ctx.Err(); err != nil {
		return ErrStoreUnavailable
	}
	key := models.NormalizeRoomID(roomID)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return nil
	}
	if e.version != version {
		return ErrVersionConflict
	}
	delete(s.rooms, key)
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, roomID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, ErrStoreUnavailable
	}
	s.mu.Lock()
	_, ok := s.lookup(models.NormalizeRoomID(roomID))
	s.mu.Unlock()
	return ok, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrStoreUnavailable
	}
	return nil
}
