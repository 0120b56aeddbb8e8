package embedding

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
)

const (
	defaultMemoryCacheSize = 1024
	memoryEvictionPercent  = 10

	redisKeyPrefix   = "graphmem:embed:"
	redisDefaultTTL  = 24 * time.Hour
	redisDialTimeout = 5 * time.Second
	redisMaxIdle     = 3
	redisIdleTimeout = 240 * time.Second
)

// MemoryCache is an in-process embedding cache with bounded size. Eviction
// removes a slice of entries in random map order, same approach as the
// search result cache.
type MemoryCache struct {
	entries map[string][]float32
	maxSize int
	mu      sync.RWMutex
}

// NewMemoryCache creates a memory cache holding up to maxSize vectors;
// maxSize <= 0 uses the default.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = defaultMemoryCacheSize
	}
	return &MemoryCache{
		entries: make(map[string][]float32),
		maxSize: maxSize,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.entries[key]
	return vec, ok
}

func (c *MemoryCache) Put(_ context.Context, key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		evictCount := max(c.maxSize*memoryEvictionPercent/100, 1)
		evicted := 0
		for k := range c.entries {
			delete(c.entries, k)
			evicted++
			if evicted >= evictCount {
				break
			}
		}
	}
	c.entries[key] = vector
}

// Len returns the number of cached vectors.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache shares embeddings across processes through Redis. When the
// graph backend is FalkorDB the same server can hold both. Failures are
// logged and treated as cache misses; the cache never fails an Embed call.
type RedisCache struct {
	pool *redis.Pool
	ttl  time.Duration
}

// NewRedisCache creates a Redis-backed cache. ttl <= 0 uses the default.
func NewRedisCache(addr, password string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = redisDefaultTTL
	}
	pool := &redis.Pool{
		MaxIdle:     redisMaxIdle,
		IdleTimeout: redisIdleTimeout,
		Dial: func() (redis.Conn, error) {
			opts := []redis.DialOption{redis.DialConnectTimeout(redisDialTimeout)}
			if password != "" {
				opts = append(opts, redis.DialPassword(password))
			}
			return redis.Dial("tcp", addr, opts...)
		},
	}
	return &RedisCache{pool: pool, ttl: ttl}
}

func (c *RedisCache) Get(_ context.Context, key string) ([]float32, bool) {
	conn := c.pool.Get()
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", redisKeyPrefix+key))
	if err != nil {
		if err != redis.ErrNil {
			log.Debug().Err(err).Msg("Redis embedding cache get failed")
		}
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		log.Warn().Err(err).Msg("Redis embedding cache holds malformed vector, dropping")
		_, _ = conn.Do("DEL", redisKeyPrefix+key)
		return nil, false
	}
	return vec, true
}

func (c *RedisCache) Put(_ context.Context, key string, vector []float32) {
	data, err := json.Marshal(vector)
	if err != nil {
		return
	}

	conn := c.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SETEX", redisKeyPrefix+key, int(c.ttl.Seconds()), data); err != nil {
		log.Debug().Err(err).Msg("Redis embedding cache put failed")
	}
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.pool.Close()
}

// Compile-time checks.
var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
