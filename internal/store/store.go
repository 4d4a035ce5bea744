// Package store wraps all access to the shared Redis store with a bounded
// connection pool, per-call timeouts, and a retry policy for transient
// connectivity failures. Every cross-replica atomic primitive in the
// scheduler runs through this client.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the resilience policy for store access.
type Config struct {
	URL           string
	PoolSize      int
	ConnTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// Client is a pooled, timeout-bounded, retried Redis client.
type Client struct {
	rdb      *redis.Client
	attempts int
	delay    time.Duration
}

// Member is one entry of a due-ordered index read.
type Member struct {
	ID    string
	Score float64
}

// Connect creates and validates a store client. The go-redis internal retry
// is disabled; this package owns the retry policy so that transient and
// permanent failures can be told apart.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := parseOptions(cfg.URL)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = cfg.PoolSize
	opts.DialTimeout = cfg.ConnTimeout
	opts.ReadTimeout = cfg.ConnTimeout
	opts.WriteTimeout = cfg.ConnTimeout
	opts.MaxRetries = -1

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	return &Client{
		rdb:      rdb,
		attempts: cfg.RetryAttempts,
		delay:    cfg.RetryDelay,
	}, nil
}

// parseOptions accepts either a redis:// URL or a bare host:port address.
func parseOptions(url string) (*redis.Options, error) {
	if strings.Contains(url, "://") {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: url}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// do runs op, retrying transient failures up to the configured attempt
// budget with a fixed delay between tries. Permanent errors return
// immediately; exhaustion wraps the last error in ErrUnavailable.
func (c *Client) do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.delay):
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %s", ErrUnavailable, lastErr)
}

// RunScript executes a Lua script as one indivisible server-side operation.
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	var result interface{}
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := script.Run(ctx, c.rdb, keys, args...).Result()
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// Get fetches a string value, mapping a missing key to ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return value, err
}

// GetInt fetches an integer counter, treating a missing key as zero.
func (c *Client) GetInt(ctx context.Context, key string) (int64, error) {
	v, err := c.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, fmt.Errorf("non-numeric counter at %s: %w", key, err)
	}
	return n, nil
}

// Incr atomically increments a counter and returns the new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	var value int64
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.Incr(ctx, key).Result()
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

// ZRangeByScoreWithScores reads up to limit members with score <= max,
// lowest scores first.
func (c *Client) ZRangeByScoreWithScores(ctx context.Context, key string, max float64, limit int64) ([]Member, error) {
	var members []Member
	maxArg := fmt.Sprintf("%f", max)
	if math.IsInf(max, 1) {
		maxArg = "+inf"
	}
	err := c.do(ctx, func(ctx context.Context) error {
		zs, err := c.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   maxArg,
			Count: limit,
		}).Result()
		if err != nil {
			return err
		}
		members = members[:0]
		for _, z := range zs {
			id, ok := z.Member.(string)
			if !ok {
				continue
			}
			members = append(members, Member{ID: id, Score: z.Score})
		}
		return nil
	})
	return members, err
}

// Del removes a key. Missing keys are a no-op.
func (c *Client) Del(ctx context.Context, key string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Del(ctx, key).Err()
	})
}

// Redis exposes the underlying client for collaborators that manage their
// own command set, such as the metrics collector.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}
