package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPrefix namespaces gloss keys.
const RedisPrefix = "gloss:"

// Redis keeps glosses in Redis, one string key per phrase, so several
// machines can share what they resolved.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// OpenRedis connects to redisURL and checks the connection.
func OpenRedis(ctx context.Context, redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: RedisPrefix, ttl: ttl}
}

func (r *Redis) key(phrase string) string {
	return r.prefix + phrase
}

// Lookup implements Store.
func (r *Redis) Lookup(ctx context.Context, phrases []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(phrases) == 0 {
		return out, nil
	}
	keys := make([]string, len(phrases))
	for i, p := range phrases {
		keys[i] = r.key(p)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup glosses: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[phrases[i]] = s
		}
	}
	return out, nil
}

// Save implements Store.
func (r *Redis) Save(ctx context.Context, glosses map[string]string) error {
	if len(glosses) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for phrase, gloss := range glosses {
		pipe.Set(ctx, r.key(phrase), gloss, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save glosses: %w", err)
	}
	return nil
}

// Close implements Store.
func (r *Redis) Close() error {
	return r.client.Close()
}
