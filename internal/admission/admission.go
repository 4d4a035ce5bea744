// Package admission enforces the global cap on concurrently active alert
// instances. The cap is checked and taken in one server-side operation;
// replica-local counting is never authoritative.
package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrCapacityExceeded is returned when admitting one more instance would
// exceed the configured cap. The caller may retry later.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// CounterKey holds the shared count of active instances.
const CounterKey = "alert:active_count"

// acquireScript atomically checks the cap and increments the counter.
// Returns -1 on rejection, the new count otherwise.
var acquireScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
	return -1
end
return redis.call('INCR', KEYS[1])
`)

// releaseScript decrements the counter without going below zero, so
// repeated releases for the same instance stay harmless.
var releaseScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n <= 0 then
	return 0
end
return redis.call('DECR', KEYS[1])
`)

// Store is the subset of store operations the controller needs.
type Store interface {
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)
	GetInt(ctx context.Context, key string) (int64, error)
}

// Controller guards instance admission against the shared counter.
type Controller struct {
	store     Store
	maxActive int64
}

// NewController creates a controller with the given admission cap.
func NewController(store Store, maxActive int64) *Controller {
	return &Controller{store: store, maxActive: maxActive}
}

// Acquire takes one admission slot, or returns ErrCapacityExceeded if the
// cap is reached. Check and increment happen in a single round trip.
func (c *Controller) Acquire(ctx context.Context) error {
	res, err := c.store.RunScript(ctx, acquireScript, []string{CounterKey}, c.maxActive)
	if err != nil {
		return fmt.Errorf("admission acquire failed: %w", err)
	}
	if n, ok := res.(int64); ok && n == -1 {
		return ErrCapacityExceeded
	}
	return nil
}

// Release returns one admission slot.
func (c *Controller) Release(ctx context.Context) error {
	if _, err := c.store.RunScript(ctx, releaseScript, []string{CounterKey}); err != nil {
		return fmt.Errorf("admission release failed: %w", err)
	}
	return nil
}

// Active returns a point-in-time snapshot of the shared counter. The value
// is informational only; admission decisions never read it separately.
func (c *Controller) Active(ctx context.Context) (int64, error) {
	return c.store.GetInt(ctx, CounterKey)
}
