package storage

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/session-coordinator/internal/models"
)

// RedisCommands is the subset of redis used by RedisStore, small enough to
// fake in tests.
type RedisCommands interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	RPush(ctx context.Context, key string, value string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// RedisStore keeps the latest snapshot of each ride in a hash and a capped
// event list beside it, both expiring after ttl.
type RedisStore struct {
	c      RedisCommands
	prefix string
	ttl    time.Duration
	limit  int64
}

func NewRedisStore(addr, password, prefix string, ttl time.Duration) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisStoreWith(&redisAdapter{c: c}, prefix, ttl)
}

func NewRedisStoreWith(c RedisCommands, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ride:"
	}
	return &RedisStore{c: c, prefix: prefix, ttl: ttl, limit: DefaultHistoryLimit}
}

func (r *RedisStore) snapshotKey(rideID string) string { return r.prefix + rideID }
func (r *RedisStore) eventsKey(rideID string) string   { return r.prefix + rideID + ":events" }

func (r *RedisStore) RecordRide(ctx context.Context, ev models.RideEvent) error {
	key := r.snapshotKey(ev.RideID)
	if err := r.c.HSet(ctx, key, map[string]interface{}{
		"driver_id":        ev.DriverID,
		"rider_id":         ev.RiderID,
		"status":           ev.Status,
		"driver_location":  ev.DriverLocation,
		"pickup_location":  ev.PickupLocation,
		"ride_destination": ev.RideDestination,
		"last_event":       ev.Kind,
		"updated":          ev.RecordedAt.Format(time.RFC3339),
	}); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	lkey := r.eventsKey(ev.RideID)
	if err := r.c.RPush(ctx, lkey, string(b)); err != nil {
		return err
	}
	if err := r.c.LTrim(ctx, lkey, -r.limit, -1); err != nil {
		return err
	}
	if r.ttl > 0 {
		if err := r.c.Expire(ctx, key, r.ttl); err != nil {
			return err
		}
		return r.c.Expire(ctx, lkey, r.ttl)
	}
	return nil
}

func (r *RedisStore) History(ctx context.Context, rideID string) ([]models.RideEvent, error) {
	raw, err := r.c.LRange(ctx, r.eventsKey(rideID), 0, -1)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrRideNotFound
	}
	out := make([]models.RideEvent, 0, len(raw))
	for _, s := range raw {
		var ev models.RideEvent
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.c.Ping(ctx) }

// Close releases the client if the store owns one.
func (r *RedisStore) Close() error {
	if c, ok := r.c.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type redisAdapter struct{ c *redis.Client }

func (a *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return a.c.HSet(ctx, key, values).Err()
}

func (a *redisAdapter) RPush(ctx context.Context, key string, value string) error {
	return a.c.RPush(ctx, key, value).Err()
}

func (a *redisAdapter) LTrim(ctx context.Context, key string, start, stop int64) error {
	return a.c.LTrim(ctx, key, start, stop).Err()
}

func (a *redisAdapter) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return a.c.LRange(ctx, key, start, stop).Result()
}

func (a *redisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return a.c.Expire(ctx, key, ttl).Err()
}

func (a *redisAdapter) Ping(ctx context.Context) error { return a.c.Ping(ctx).Err() }

func (a *redisAdapter) Close() error { return a.c.Close() }
