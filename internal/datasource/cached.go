package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rewired-gh/calspread/internal/logger"
	"github.com/rewired-gh/calspread/internal/metrics"
	"github.com/rewired-gh/calspread/internal/models"
)

// Cached is a Redis read-through cache in front of a Source.
// Redis failures are logged and fall through to the inner source.
type Cached struct {
	inner   Source
	client  *redis.Client
	ttl     time.Duration
	prefix  string
	metrics *metrics.Registry
}

// NewCached creates a Cached source. m may be nil.
func NewCached(inner Source, client *redis.Client, ttl time.Duration, prefix string, m *metrics.Registry) *Cached {
	return &Cached{inner: inner, client: client, ttl: ttl, prefix: prefix, metrics: m}
}

// Key returns the cache key for one instrument and range.
func (c *Cached) Key(inst models.Instrument, start, end time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", c.prefix, inst,
		models.Day(start).Format(models.DateLayout), models.Day(end).Format(models.DateLayout))
}

// Fetch implements Source. Empty results are not cached.
func (c *Cached) Fetch(ctx context.Context, inst models.Instrument, start, end time.Time) ([]models.Observation, error) {
	key := c.Key(inst, start, end)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var obs []models.Observation
		if err := json.Unmarshal(data, &obs); err == nil {
			c.metrics.RecordCacheLookup(metrics.CacheHit)
			logger.Debug("cache hit for %s (%d observations)", key, len(obs))
			return obs, nil
		}
		logger.Warn("discarding corrupt cache entry %s", key)
		c.metrics.RecordCacheLookup(metrics.CacheError)
	case errors.Is(err, redis.Nil):
		c.metrics.RecordCacheLookup(metrics.CacheMiss)
	default:
		logger.Warn("cache lookup for %s failed: %v", key, err)
		c.metrics.RecordCacheLookup(metrics.CacheError)
	}

	obs, err := c.inner.Fetch(ctx, inst, start, end)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return obs, nil
	}

	payload, err := json.Marshal(obs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode observations: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		logger.Warn("cache store for %s failed: %v", key, err)
	}

	return obs, nil
}
