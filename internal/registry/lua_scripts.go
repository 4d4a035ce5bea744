// Package registry stores alert instances in Redis and maintains the
// due-ordered index the scanner claims from.
package registry

import "github.com/redis/go-redis/v9"

// Lua scripts for atomic registry mutations. Each script is one indivisible
// store-side operation: record and index updates are never split across
// round trips.

const (
	// createScript inserts a new instance and indexes it in one step, so no
	// instance is visible to the due scanner before being durably indexed.
	// KEYS: instance, due index, created index.
	// ARGV: instance JSON, due score ('' for event-driven), id, created_at.
	createScript = `
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 0
		end
		redis.call('SET', KEYS[1], ARGV[1])
		if ARGV[2] ~= '' then
			redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[3])
		end
		redis.call('ZADD', KEYS[3], tonumber(ARGV[4]), ARGV[3])
		return 1
	`

	// updateScript replaces an existing instance and re-indexes its due time.
	// KEYS: instance, due index.
	// ARGV: instance JSON, due score ('' for event-driven), id.
	updateScript = `
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return 0
		end
		redis.call('SET', KEYS[1], ARGV[1])
		redis.call('ZREM', KEYS[2], ARGV[3])
		if ARGV[2] ~= '' then
			redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[3])
		end
		return 1
	`

	// cancelScript marks an instance cancelled, removes it from the due
	// index, releases its admission slot, and queues it for the sweeper.
	// The record itself stays behind for audit until cleanup removes it.
	// KEYS: instance, due index, admission counter, reap queue.
	// ARGV: id, now.
	cancelScript = `
		local raw = redis.call('GET', KEYS[1])
		if not raw then
			return 0
		end
		local inst = cjson.decode(raw)
		if inst.status == 'cancelled' or inst.status == 'expired' then
			return 0
		end
		inst.status = 'cancelled'
		redis.call('SET', KEYS[1], cjson.encode(inst))
		redis.call('ZREM', KEYS[2], ARGV[1])
		local n = tonumber(redis.call('GET', KEYS[3]) or '0')
		if n > 0 then
			redis.call('DECR', KEYS[3])
		end
		redis.call('ZADD', KEYS[4], tonumber(ARGV[2]), ARGV[1])
		return 1
	`

	// claimScript is the optimistic compare-and-advance: it succeeds only
	// when the stored next_due_at still equals the value the scanner read,
	// so two replicas can never both dispatch the same due cycle.
	// KEYS: instance, due index.
	// ARGV: read due, next due, fired at, id.
	claimScript = `
		local raw = redis.call('GET', KEYS[1])
		if not raw then
			return 0
		end
		local inst = cjson.decode(raw)
		if inst.status ~= 'active' then
			return 0
		end
		if tonumber(inst.next_due_at) ~= tonumber(ARGV[1]) then
			return 0
		end
		inst.next_due_at = tonumber(ARGV[2])
		inst.last_fired_at = tonumber(ARGV[3])
		redis.call('SET', KEYS[1], cjson.encode(inst))
		if tonumber(ARGV[2]) > 0 then
			redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[4])
		else
			redis.call('ZREM', KEYS[2], ARGV[4])
		end
		return 1
	`

	// requeueScript rewinds next_due_at so a firing that could not be
	// published is picked up again by the next scan cycle. Event-driven
	// instances never enter the due index; their retry comes from upstream
	// redelivery.
	// KEYS: instance, due index.
	// ARGV: due, id.
	requeueScript = `
		local raw = redis.call('GET', KEYS[1])
		if not raw then
			return 0
		end
		local inst = cjson.decode(raw)
		if inst.status ~= 'active' or inst.schedule_kind == 'event' then
			return 0
		end
		inst.next_due_at = tonumber(ARGV[1])
		redis.call('SET', KEYS[1], cjson.encode(inst))
		redis.call('ZADD', KEYS[2], tonumber(ARGV[1]), ARGV[2])
		return 1
	`

	// removeScript deletes an instance from the record and every index,
	// releasing the admission slot only if the instance still held one.
	// Conditioned on existence, so concurrent sweeps are safe no-ops.
	// KEYS: instance, due index, created index, reap queue, admission counter.
	// ARGV: id.
	removeScript = `
		local raw = redis.call('GET', KEYS[1])
		if not raw then
			return 0
		end
		local inst = cjson.decode(raw)
		redis.call('DEL', KEYS[1])
		redis.call('ZREM', KEYS[2], ARGV[1])
		redis.call('ZREM', KEYS[3], ARGV[1])
		redis.call('ZREM', KEYS[4], ARGV[1])
		if inst.status == 'active' or inst.status == 'paused' then
			local n = tonumber(redis.call('GET', KEYS[5]) or '0')
			if n > 0 then
				redis.call('DECR', KEYS[5])
			end
		end
		return 1
	`
)

func newLuaScripts() map[string]*redis.Script {
	return map[string]*redis.Script{
		"create":  redis.NewScript(createScript),
		"update":  redis.NewScript(updateScript),
		"cancel":  redis.NewScript(cancelScript),
		"claim":   redis.NewScript(claimScript),
		"requeue": redis.NewScript(requeueScript),
		"remove":  redis.NewScript(removeScript),
	}
}
