// Package cache holds the redis-backed read models: the per-user active
// ride snapshot and the per-ride status timeline.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/rideshare/internal/models"
)

const genTTL = 24 * time.Hour

func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password})
}

// ActiveRides caches the "active ride for me" snapshot per user.
//
// Entries are stamped with the user's generation at the time the reader
// started its store query. Invalidate bumps the generation, so an entry
// written by a reader that raced a mutation is never served.
type ActiveRides struct {
	client *redis.Client
	ttl    time.Duration
}

func NewActiveRides(client *redis.Client, ttl time.Duration) *ActiveRides {
	return &ActiveRides{client: client, ttl: ttl}
}

type entry struct {
	Gen  int64        `json:"gen"`
	Ride *models.Ride `json:"ride"`
}

func entryKey(userID string) string { return "ride:active:" + userID }
func genKey(userID string) string   { return "ride:active:gen:" + userID }

func (a *ActiveRides) Generation(ctx context.Context, userID string) (int64, error) {
	v, err := a.client.Get(ctx, genKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Get returns the cached snapshot. ok is false on a miss or a stale entry;
// a cached "no active ride" is (nil, true, nil).
func (a *ActiveRides) Get(ctx context.Context, userID string) (*models.Ride, bool, error) {
	vals, err := a.client.MGet(ctx, genKey(userID), entryKey(userID)).Result()
	if err != nil {
		return nil, false, err
	}
	raw, _ := vals[1].(string)
	if raw == "" {
		return nil, false, nil
	}
	var current int64
	if s, ok := vals[0].(string); ok {
		if current, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, false, fmt.Errorf("parse generation: %w", err)
		}
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, false, fmt.Errorf("decode active ride entry: %w", err)
	}
	if e.Gen != current {
		return nil, false, nil
	}
	return e.Ride, true, nil
}

func (a *ActiveRides) Put(ctx context.Context, userID string, gen int64, r *models.Ride) error {
	b, err := json.Marshal(entry{Gen: gen, Ride: r})
	if err != nil {
		return err
	}
	return a.client.Set(ctx, entryKey(userID), b, a.ttl).Err()
}

func (a *ActiveRides) Invalidate(ctx context.Context, userIDs ...string) error {
	pipe := a.client.TxPipeline()
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		pipe.Incr(ctx, genKey(id))
		pipe.Expire(ctx, genKey(id), genTTL)
		pipe.Del(ctx, entryKey(id))
	}
	_, err := pipe.Exec(ctx)
	return err
}
