// Package cache stores built neighbor graphs in Redis so repeated runs over
// the same dataset skip the search. Keys derive from the dataset digest and
// the search parameters, so any change to coordinates, identifiers, grouping
// or k misses cleanly.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/spatweave/spatweave/internal/domain/neighbors"
)

// GraphCache is the neighbor graph cache used by the pipeline.
type GraphCache interface {
	Get(ctx context.Context, key string) (*neighbors.Graph, bool, error)
	Set(ctx context.Context, key string, g *neighbors.Graph) error
	Stats() Stats
	Close() error
}

// Stats counts cache outcomes since startup.
type Stats struct {
	Hits   int64
	Misses int64
	Errors int64
}

// Key builds the cache key for one graph build. The group column is part of
// the key because it changes which neighbors are admissible.
func Key(digest string, k int, groupColumn string) string {
	if groupColumn == "" {
		groupColumn = "-"
	}
	return fmt.Sprintf("spatweave:graph:%s:k%d:%s", digest, k, groupColumn)
}

// envelope wraps the stored graph with its write time. TTL enforcement stays
// with Redis; the timestamp is for debugging stale entries.
type envelope struct {
	CachedAt time.Time        `json:"cached_at"`
	Graph    *neighbors.Graph `json:"graph"`
}

var nowFn = time.Now

// RedisGraphCache implements GraphCache on a Redis client.
type RedisGraphCache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewRedis connects a graph cache to Redis and verifies the connection.
func NewRedis(addr, password string, db int, ttl time.Duration) (*RedisGraphCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisGraphCache{client: rdb, ttl: ttl}, nil
}

// NewRedisWithClient wraps an existing client. Tests use it with a mock.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *RedisGraphCache {
	return &RedisGraphCache{client: client, ttl: ttl}
}

// Get retrieves a cached graph, reporting a miss for absent keys.
func (c *RedisGraphCache) Get(ctx context.Context, key string) (*neighbors.Graph, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			c.misses.Add(1)
			return nil, false, nil
		}
		c.errors.Add(1)
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		c.errors.Add(1)
		return nil, false, fmt.Errorf("decoding cached graph: %w", err)
	}
	if env.Graph == nil {
		c.errors.Add(1)
		return nil, false, fmt.Errorf("decoding cached graph: empty envelope")
	}

	c.hits.Add(1)
	log.Debug().Str("key", key).Time("cached_at", env.CachedAt).Msg("graph cache hit")
	return env.Graph, true, nil
}

// Set stores a graph under the key with the configured TTL.
func (c *RedisGraphCache) Set(ctx context.Context, key string, g *neighbors.Graph) error {
	data, err := json.Marshal(envelope{CachedAt: nowFn().UTC(), Graph: g})
	if err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("redis set: %w", err)
	}
	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("graph cached")
	return nil
}

// Stats returns the outcome counters.
func (c *RedisGraphCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}

// Close releases the Redis client.
func (c *RedisGraphCache) Close() error {
	return c.client.Close()
}

// Nop is the cache used when caching is disabled. Every lookup misses and
// writes are dropped.
type Nop struct{}

func (Nop) Get(context.Context, string) (*neighbors.Graph, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, *neighbors.Graph) error         { return nil }
func (Nop) Stats() Stats                                                { return Stats{} }
func (Nop) Close() error                                                { return nil }
