package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key (default: "wa-relay:msg:").
	Prefix string
	TTL    time.Duration
}

// Redis is a Store shared between processes through SETNX.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("dedup: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("dedup: redis ping failed: %w", err)
	}
	return newRedisWithClient(client, cfg.Prefix, cfg.TTL), nil
}

func newRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = keyPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttlOrDefault(ttl)}
}

func (r *Redis) Seen(ctx context.Context, messageID string) (bool, error) {
	id, err := normalizeID(messageID)
	if err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, r.prefix+id, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: redis setnx: %w", err)
	}
	return !ok, nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
