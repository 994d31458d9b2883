package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldowns implements CooldownStore on Redis so several engine
// instances share one cooldown ledger. Keys expire after the cooldown.
type RedisCooldowns struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// RedisOptions configures the Redis cooldown ledger.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisCooldowns connects to Redis and verifies the connection.
func NewRedisCooldowns(ctx context.Context, opts RedisOptions) (*RedisCooldowns, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisCooldownsWithClient(client, opts.Prefix, opts.TTL), nil
}

// NewRedisCooldownsWithClient wraps an existing client.
func NewRedisCooldownsWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCooldowns {
	return &RedisCooldowns{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// Close closes the Redis connection.
func (r *RedisCooldowns) Close() error {
	return r.client.Close()
}

func (r *RedisCooldowns) key(symbol string) string {
	return r.prefix + "cooldown:" + symbol
}

// SaveCooldown stores at as Unix nanoseconds. An older time never replaces a
// newer one. Nothing is stored when the cooldown is zero or already over.
func (r *RedisCooldowns) SaveCooldown(ctx context.Context, symbol string, at time.Time) error {
	// A zero expiration means no expiry in Redis.
	if r.ttl <= 0 {
		return nil
	}
	// The key must outlive the window measured from at, not from now.
	ttl := r.ttl - r.now().Sub(at)
	if ttl <= 0 {
		return nil
	}

	key := r.key(symbol)
	if current, err := r.client.Get(ctx, key).Int64(); err == nil && current >= at.UnixNano() {
		return nil
	} else if err != nil && err != redis.Nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, at.UnixNano(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// LoadCooldowns scans every cooldown key under the prefix.
func (r *RedisCooldowns) LoadCooldowns(ctx context.Context) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	pattern := r.key("*")

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		nanos, err := r.client.Get(ctx, key).Int64()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, r.key(""))] = time.Unix(0, nanos).UTC()
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}
