package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisCache's connection, grounded on the
// teacher's caches/redis/redis.go Config (single-node fields only — this
// proxy has no need for the teacher's cluster/sentinel variants).
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Namespace  string
	DefaultTTL time.Duration
}

// RedisCache is a multi-instance-safe variant of Cache: the completed-entry
// store lives in Redis (shared across every proxy instance behind the same
// load balancer), while the in-flight producer/waiter table stays local to
// this process. A true cross-process single-flight would need pub/sub
// coordination between instances; this backend shares completed results
// only, so a request that arrives at a second
// instance while the first is still in flight simply becomes its own
// producer rather than a waiter — at worst a duplicate upstream call, never
// an incorrect one.
type RedisCache struct {
	client    *goredis.Client
	namespace string
	ttl       time.Duration

	mu       sync.Mutex
	inflight map[string]*future
}

// NewRedis dials addr and returns a ready RedisCache, or an error if the
// initial ping fails.
func NewRedis(cfg RedisConfig) (*RedisCache, error) {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{
		client:    client,
		namespace: cfg.Namespace,
		ttl:       cfg.DefaultTTL,
		inflight:  make(map[string]*future),
	}, nil
}

func (c *RedisCache) prefixed(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

// Lookup mirrors Cache.Lookup, consulting Redis for a completed entry
// before falling back to the local in-flight table.
func (c *RedisCache) Lookup(ctx context.Context, key string) (entry Entry, hit bool, handle *Handle, err error) {
	if entry, hit, err = c.getCompleted(ctx, key); err != nil {
		return Entry{}, false, nil, err
	}
	if hit {
		return entry, true, nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if f, found := c.inflight[key]; found {
		return Entry{}, false, &Handle{cache: nil, key: key, f: f, isProducer: false}, nil
	}

	f := &future{done: make(chan struct{})}
	c.inflight[key] = f
	h := &Handle{cache: nil, key: key, f: f, isProducer: true}
	return Entry{}, false, h, nil
}

func (c *RedisCache) getCompleted(ctx context.Context, key string) (Entry, bool, error) {
	val, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("redis entry decode: %w", err)
	}
	return entry, true, nil
}

// Complete stores entry in Redis and wakes local waiters. Unlike the
// in-memory Cache.Complete, this takes a context (the Redis write is a
// network call) and can fail; a failed Redis write still wakes local
// waiters with the in-memory entry so the hot path is not blocked on
// Redis being healthy, but the result will not replay for other instances.
func (c *RedisCache) Complete(ctx context.Context, h *Handle, entry Entry) error {
	c.mu.Lock()
	delete(c.inflight, h.key)
	c.mu.Unlock()

	h.f.complete(entry)

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis entry encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefixed(h.key), encoded, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Fail rejects local waiters without writing anything to Redis.
func (c *RedisCache) Fail(h *Handle, err error) {
	c.mu.Lock()
	delete(c.inflight, h.key)
	c.mu.Unlock()
	h.f.fail(err)
}

// Close releases the underlying Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
