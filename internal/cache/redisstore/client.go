// Package redisstore wraps the Redis operations used by point datasets.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/wmsd/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// OpOptions applies a pool size and a per-operation timeout; zero values keep
// the defaults of New.
func OpOptions(poolSize int, opTimeout time.Duration) []Option {
	var opts []Option
	if poolSize > 0 {
		opts = append(opts, WithPoolSize(poolSize))
	}
	if opTimeout > 0 {
		opts = append(opts, WithDialTimeout(opTimeout), WithReadTimeout(opTimeout), WithWriteTimeout(opTimeout))
	}
	return opts
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	c := &Client{rdb: rdb}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// RPush appends values to the list at key in batches of at most batch
// entries, one pipeline round trip per batch.
func (c *Client) RPush(ctx context.Context, key string, values []string, batch int) error {
	if batch <= 0 {
		batch = 1000
	}
	start := time.Now()
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i := 0; i < len(values); i += batch {
			chunk := values[i:min(i+batch, len(values))]
			args := make([]any, len(chunk))
			for j, v := range chunk {
				args[j] = v
			}
			p.RPush(ctx, key, args...)
		}
		return nil
	})
	observability.ObserveCacheOp("rpush", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis RPUSH %q (%d values): %w", key, len(values), err)
	}
	return nil
}

// LRange returns the whole list at key; a missing key yields an empty slice.
func (c *Client) LRange(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	vals, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	observability.ObserveCacheOp("lrange", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE %q: %w", key, err)
	}
	return vals, nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// Shared hands out one process-wide client, connecting on first use. A
// failed connection attempt is retried by the next caller.
type Shared struct {
	addr string
	opts []Option

	mu     sync.Mutex
	client *Client
	closed bool
}

var ErrClosed = errors.New("redis connection closed")

func NewShared(addr string, opts ...Option) *Shared {
	return &Shared{addr: addr, opts: opts}
}

func (s *Shared) Get(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.client != nil {
		return s.client, nil
	}
	c, err := New(ctx, s.addr, s.opts...)
	if err != nil {
		return nil, err
	}
	s.client = c
	return c, nil
}

// Ping connects if needed and checks the server; used by readiness.
func (s *Shared) Ping(ctx context.Context) error {
	c, err := s.Get(ctx)
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}

// Close is the shutdown hook. It is safe to call when no connection was
// ever made.
func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
