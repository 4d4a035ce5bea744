// Package dedup provides the idempotency gates for schedule requests and
// event-triggered firings. Both gates share one atomic check-and-reserve
// primitive executed server-side, so concurrent replicas can never both
// pass for the same scope and content hash.
package dedup

import (
	"context"
	"fmt"
	"time"

	"alert-scheduler/internal/alert"

	"github.com/redis/go-redis/v9"
)

// Decision codes returned by the atomic primitive.
const (
	CodeAllowed   = "ALLOWED"
	CodeDuplicate = "DUPLICATE"
)

// ScopeSchedule is the scope identifier for schedule-request dedup keys.
// Event-scope keys use the instance ID instead.
const ScopeSchedule = "schedule"

// checkAndReserveScript is the atomic exists-or-reserve primitive. It must
// stay a single script: a separate EXISTS followed by SET would race across
// replicas.
var checkAndReserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], '1', 'EX', ARGV[1])
return 1
`)

// ScriptRunner executes a Lua script as one store-side operation.
type ScriptRunner interface {
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)
	Del(ctx context.Context, key string) error
}

// Key builds the dedup key for a scope and content hash.
func Key(scopeID, contentHash string) string {
	return fmt.Sprintf("dedup:alert:%s:%s", scopeID, contentHash)
}

// Deduper gates schedule requests (long TTL) and firings (short TTL).
type Deduper struct {
	store      ScriptRunner
	requestTTL time.Duration
	eventTTL   time.Duration
}

// NewDeduper creates a deduper with the given TTL windows.
func NewDeduper(store ScriptRunner, requestTTL, eventTTL time.Duration) *Deduper {
	return &Deduper{
		store:      store,
		requestTTL: requestTTL,
		eventTTL:   eventTTL,
	}
}

// CheckAndReserve runs the atomic primitive for one scope and hash. On the
// first call within the TTL window it reserves the key and returns
// (true, ALLOWED); any repeat inside the window returns (false, DUPLICATE)
// without side effects.
func (d *Deduper) CheckAndReserve(ctx context.Context, scopeID, contentHash string, ttl time.Duration) (bool, string, error) {
	res, err := d.store.RunScript(ctx, checkAndReserveScript, []string{Key(scopeID, contentHash)}, int64(ttl.Seconds()))
	if err != nil {
		return false, "", fmt.Errorf("dedup check-and-reserve failed: %w", err)
	}
	if n, ok := res.(int64); ok && n == 1 {
		return true, CodeAllowed, nil
	}
	return false, CodeDuplicate, nil
}

// CheckRequest gates a schedule request. The hash covers the operation and
// the normalized payload, so create/update/cancel never collide.
func (d *Deduper) CheckRequest(ctx context.Context, req *alert.ScheduleRequest) (bool, error) {
	allowed, _, err := d.CheckAndReserve(ctx, ScopeSchedule, req.ContentHash(), d.requestTTL)
	return allowed, err
}

// CheckEvent gates a firing for one instance within the dedup window.
func (d *Deduper) CheckEvent(ctx context.Context, instanceID, contentHash string) (bool, error) {
	allowed, _, err := d.CheckAndReserve(ctx, instanceID, contentHash, d.eventTTL)
	return allowed, err
}

// ReleaseRequest removes a schedule-request reservation. Used when the
// gated operation failed after the gate, so the caller's retry is not
// suppressed for the remainder of the TTL.
func (d *Deduper) ReleaseRequest(ctx context.Context, req *alert.ScheduleRequest) error {
	return d.store.Del(ctx, Key(ScopeSchedule, req.ContentHash()))
}

// ReleaseEvent removes a firing reservation. Used when a reserved firing
// could not be published and must stay eligible for the next scan cycle.
func (d *Deduper) ReleaseEvent(ctx context.Context, instanceID, contentHash string) error {
	return d.store.Del(ctx, Key(instanceID, contentHash))
}
