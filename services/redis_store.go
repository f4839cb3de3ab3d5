package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"partyhost/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one JSON document per room under prefix+ROOMID.
type RedisStore struct {
	redis   *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

func NewRedisStore(client *redis.Client, prefix string, ttl, timeout time.Duration) *RedisStore {
	return &RedisStore{
		redis:   client,
		prefix:  prefix,
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
	}
}

func (s *RedisStore) key(roomID string) string {
	return s.prefix + models.NormalizeRoomID(roomID)
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// storeErr keeps domain sentinels intact and folds everything else the
// client can return (timeouts, refused connections, pool exhaustion) into
// ErrStoreUnavailable.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrRoomNotFound
	case errors.Is(err, redis.TxFailedErr):
		return ErrVersionConflict
	case errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrRoomExists),
		errors.Is(err, ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
	}
}

func (s *RedisStore) Get(ctx context.Context, roomID string) (*models.Room, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.redis.Get(ctx, s.key(roomID)).Bytes()
	if err != nil {
		return nil, storeErr("get", err)
	}

	var room models.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &room, nil
}

func (s *RedisStore) Create(ctx context.Context, room *models.Room) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	room.ID = models.NormalizeRoomID(room.ID)
	room.Version = 1
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", room.ID, err)
	}

	ok, err := s.redis.SetNX(ctx, s.key(room.ID), data, s.ttl).Result()
	if err != nil {
		return storeErr("create", err)
	}
	if !ok {
		return ErrRoomExists
	}
	return nil
}

// Save runs a WATCH/MULTI transaction: the write is discarded if another
// process touched the key between our version check and EXEC.
func (s *RedisStore) Save(ctx context.Context, room *models.Room) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := s.key(room.ID)
	expected := room.Version

	next := *room
	next.Version = expected + 1
	next.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", room.ID, err)
	}

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var stored struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(current, &stored); err != nil {
			return fmt.Errorf("decode room %s: %w", room.ID, err)
		}
		if stored.Version != expected {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return storeErr("save", err)
	}

	room.Version = next.Version
	room.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, roomID string, version int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := s.key(roomID)
	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var stored struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(current, &stored); err != nil {
			return fmt.Errorf("decode room %s: %w", roomID, err)
		}
		if stored.Version != version {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	return storeErr("delete", err)
}

func (s *RedisStore) Exists(ctx context.Context, roomID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.redis.Exists(ctx, s.key(roomID)).Result()
	if err != nil {
		return false, storeErr("exists", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return storeErr("ping", s.redis.Ping(ctx).Err())
}
