package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/stashlite/internal/stash/domain"
	"github.com/example/stashlite/internal/storage"
)

const (
	defaultGeoKey    = "stashpoint:locs"
	defaultDocPrefix = "stashpoint:doc:"
)

var errInvalidGeoResult = errors.New("invalid geo search result")

// RedisGeoLocator keeps stashpoint positions in a Redis geo set and the
// stashpoint documents as JSON strings next to it.
type RedisGeoLocator struct {
	client    redis.Cmdable
	key       string
	docPrefix string
	timeout   time.Duration
}

// NewRedisGeoLocator constructs a Redis-backed locator.
func NewRedisGeoLocator(client redis.Cmdable, key string, timeout time.Duration) *RedisGeoLocator {
	if key == "" {
		key = defaultGeoKey
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisGeoLocator{client: client, key: key, docPrefix: defaultDocPrefix, timeout: timeout}
}

// Upsert writes the position and the document in one transaction.
func (r *RedisGeoLocator) Upsert(ctx context.Context, sp domain.Stashpoint) error {
	doc, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("marshal stashpoint: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{
			Name:      sp.ID.String(),
			Longitude: sp.Location.Lng,
			Latitude:  sp.Location.Lat,
		})
		pipe.Set(ctx, r.docPrefix+sp.ID.String(), doc, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert stashpoint: %w", err)
	}
	return nil
}

// Locate runs GEORADIUS for the radius, loads the matching documents with a
// single MGET and drops those whose schedule does not cover the window.
func (r *RedisGeoLocator) Locate(ctx context.Context, origin domain.GeoPoint, radiusKM float64, window domain.Window) ([]domain.Candidate, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("redis geo locator not configured")
	}
	ctx, cancel := storage.WithTimeout(ctx, r.timeout)
	defer cancel()

	locations, err := r.client.GeoRadius(ctx, r.key, origin.Lng, origin.Lat, &redis.GeoRadiusQuery{
		Radius:   radiusKM,
		Unit:     "km",
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis georadius: %w", err)
	}
	if len(locations) == 0 {
		return []domain.Candidate{}, nil
	}

	keys := make([]string, len(locations))
	for i, loc := range locations {
		if _, err := uuid.Parse(loc.Name); err != nil {
			return nil, fmt.Errorf("%w: %s", errInvalidGeoResult, loc.Name)
		}
		keys[i] = r.docPrefix + loc.Name
	}
	docs, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget stashpoints: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(locations))
	for i, raw := range docs {
		doc, ok := raw.(string)
		if !ok {
			// position without a document; the catalogue sync has not caught up.
			continue
		}
		var sp domain.Stashpoint
		if err := json.Unmarshal([]byte(doc), &sp); err != nil {
			return nil, fmt.Errorf("decode stashpoint %s: %w", locations[i].Name, err)
		}
		if !sp.Schedule.Covers(window) {
			continue
		}
		candidates = append(candidates, domain.Candidate{Stashpoint: sp, DistanceKM: locations[i].Dist})
	}
	return candidates, nil
}
