package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultVersionPrefix = "bookedcap:version:"

// incrementVersionLua starts a missing counter at 1 before incrementing so
// the first invalidation yields 2 and never reuses the initial version.
var incrementVersionLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('SET', KEYS[1], 1)
end
return redis.call('INCR', KEYS[1])
`)

// RedisStore keeps versions as plain counters without expiry and cached sums
// as integer strings with a TTL.
type RedisStore struct {
	client        redis.Cmdable
	versionPrefix string
}

// NewRedisStore constructs the store.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultVersionPrefix
	}
	return &RedisStore{client: client, versionPrefix: prefix}
}

// Version reads the current version.
func (r *RedisStore) Version(ctx context.Context, stashpointID uuid.UUID) (int64, error) {
	v, err := r.client.Get(ctx, r.versionPrefix+stashpointID.String()).Int64()
	if errors.Is(err, redis.Nil) {
		return initialVersion, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version: %w", err)
	}
	return v, nil
}

// IncrementVersion atomically advances the version.
func (r *RedisStore) IncrementVersion(ctx context.Context, stashpointID uuid.UUID) (int64, error) {
	v, err := incrementVersionLua.Run(ctx, r.client, []string{r.versionPrefix + stashpointID.String()}).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr version: %w", err)
	}
	return v, nil
}

// Get returns a cached sum.
func (r *RedisStore) Get(ctx context.Context, key string) (int, bool, error) {
	v, err := r.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

// Set stores a sum with SET EX.
func (r *RedisStore) Set(ctx context.Context, key string, bookedBags int, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, bookedBags, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
