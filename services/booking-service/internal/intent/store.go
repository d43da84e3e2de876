package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds at most one pending booking per client; Save replaces any previous one.
type Store interface {
	Save(ctx context.Context, clientID string, p PendingBooking) error
	Load(ctx context.Context, clientID string) (PendingBooking, error)
	Clear(ctx context.Context, clientID string) error
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Key is the well-known location of a client's in-flight booking.
func Key(clientID string) string {
	return "pending_booking:" + clientID
}

func (s *RedisStore) Save(ctx context.Context, clientID string, p PendingBooking) error {
	if clientID == "" {
		return errors.New("intent: client id is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("intent: encode: %w", err)
	}
	return s.rdb.Set(ctx, Key(clientID), raw, s.ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context, clientID string) (PendingBooking, error) {
	raw, err := s.rdb.Get(ctx, Key(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PendingBooking{}, ErrNotFound
	}
	if err != nil {
		return PendingBooking{}, err
	}
	var p PendingBooking
	if err := json.Unmarshal(raw, &p); err != nil {
		return PendingBooking{}, fmt.Errorf("intent: decode: %w", err)
	}
	return p, nil
}

func (s *RedisStore) Clear(ctx context.Context, clientID string) error {
	return s.rdb.Del(ctx, Key(clientID)).Err()
}

func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
