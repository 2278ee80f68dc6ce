package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/energizer-project/pingcache/internal/config"
	"github.com/energizer-project/pingcache/internal/motd"
)

// Player count sources.
const (
	SourceStatic = "static"
	SourceRedis  = "redis"
)

// StaticCounter reports a count set by an administrator.
type StaticCounter struct {
	n atomic.Int64
}

// NewStaticCounter creates a counter starting at n.
func NewStaticCounter(n int) *StaticCounter {
	c := &StaticCounter{}
	c.n.Store(int64(n))
	return c
}

// Set replaces the count.
func (c *StaticCounter) Set(n int) {
	c.n.Store(int64(n))
}

// PlayerCount implements motd.PlayerCounter.
func (c *StaticCounter) PlayerCount(context.Context) (int, error) {
	return int(c.n.Load()), nil
}

// RedisCounter reads a network-wide player count that proxies or game
// servers maintain under a single redis key. A missing key counts as zero.
type RedisCounter struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisCounter connects lazily; the first PlayerCount dials.
func NewRedisCounter(cfg config.PlayersConfig) *RedisCounter {
	timeout := time.Duration(cfg.TimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddress,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
	})
	return &RedisCounter{client: client, key: cfg.RedisKey, timeout: timeout}
}

// PlayerCount implements motd.PlayerCounter.
func (c *RedisCounter) PlayerCount(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.client.Get(ctx, c.key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s from redis: %w", c.key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("redis key %s holds a negative count %d", c.key, n)
	}
	return n, nil
}

// Ping checks the redis connection.
func (c *RedisCounter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}

// NewCounter builds the counter a players config selects.
func NewCounter(cfg config.PlayersConfig) (motd.PlayerCounter, error) {
	switch cfg.Source {
	case SourceStatic, "":
		return NewStaticCounter(cfg.Static), nil
	case SourceRedis:
		return NewRedisCounter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown player source %q", cfg.Source)
	}
}
