package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupeTTL = 7 * 24 * time.Hour

// Deduper claims a (recipient, event, channel) tuple so each outbound message
// goes out once even when an event is redelivered.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// RedisDeduper implements Deduper with SET NX and a TTL.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper connects to Redis and verifies the connection.
func NewRedisDeduper(redisURL string) (*RedisDeduper, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisDeduperWithClient(client), nil
}

// NewRedisDeduperWithClient creates a deduper from an existing Redis client
func NewRedisDeduperWithClient(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{
		client: client,
		prefix: "notify:sent:",
		ttl:    defaultDedupeTTL,
	}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim notification %s: %w", key, err)
	}
	return ok, nil
}

// Close closes the Redis connection
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

// Ping checks if Redis is reachable
func (d *RedisDeduper) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// MemoryDeduper is the in-process fallback when Redis is not configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{
		seen: make(map[string]time.Time),
		ttl:  defaultDedupeTTL,
		now:  time.Now,
	}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now
	return true, nil
}
