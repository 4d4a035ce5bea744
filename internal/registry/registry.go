package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"alert-scheduler/internal/admission"
	"alert-scheduler/internal/alert"
	"alert-scheduler/internal/store"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no instance exists for the given ID.
var ErrNotFound = errors.New("instance not found")

// ErrAlreadyExists is returned when creating an instance whose ID is taken.
var ErrAlreadyExists = errors.New("instance already exists")

// Redis key layout.
const (
	DueIndexKey     = "alert:instances:due"
	CreatedIndexKey = "alert:instances:all"
	ReapQueueKey    = "alert:instances:reap"
)

// InstanceKey returns the record key for one instance.
func InstanceKey(id string) string {
	return "alert:instance:" + id
}

// Store is the subset of store operations the registry needs.
type Store interface {
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)
	Get(ctx context.Context, key string) (string, error)
	ZRangeByScoreWithScores(ctx context.Context, key string, max float64, limit int64) ([]store.Member, error)
}

// Registry provides durable CRUD over alert instances plus the due-ordered
// index. All mutations are single-round-trip Lua scripts.
type Registry struct {
	store   Store
	scripts map[string]*redis.Script
}

// NewRegistry creates a registry over the given store.
func NewRegistry(s Store) *Registry {
	return &Registry{
		store:   s,
		scripts: newLuaScripts(),
	}
}

// dueScore renders the due-index score argument; event-driven instances
// carry no due time and are skipped with an empty score.
func dueScore(in *alert.Instance) string {
	if in.Kind == alert.KindEvent || in.NextDueAt <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", in.NextDueAt)
}

// Create durably stores a new instance and its due-index entry in one
// atomic step. Callers must have passed admission first.
func (r *Registry) Create(ctx context.Context, in *alert.Instance) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	res, err := r.store.RunScript(ctx, r.scripts["create"],
		[]string{InstanceKey(in.ID), DueIndexKey, CreatedIndexKey},
		string(data), dueScore(in), in.ID, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create instance %s: %w", in.ID, err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Update replaces an existing instance record and re-indexes its due time.
func (r *Registry) Update(ctx context.Context, in *alert.Instance) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	res, err := r.store.RunScript(ctx, r.scripts["update"],
		[]string{InstanceKey(in.ID), DueIndexKey},
		string(data), dueScore(in), in.ID)
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", in.ID, err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel marks an instance cancelled, removes it from the due index,
// releases its admission slot, and queues it for the cleanup sweeper. The
// record remains briefly for audit. Returns false if the instance was
// already cancelled or does not exist.
func (r *Registry) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.store.RunScript(ctx, r.scripts["cancel"],
		[]string{InstanceKey(id), DueIndexKey, admission.CounterKey, ReapQueueKey},
		id, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to cancel instance %s: %w", id, err)
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}

// Get fetches one instance by ID.
func (r *Registry) Get(ctx context.Context, id string) (*alert.Instance, error) {
	raw, err := r.store.Get(ctx, InstanceKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance %s: %w", id, err)
	}
	var in alert.Instance
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("corrupt instance record %s: %w", id, err)
	}
	return &in, nil
}

// DueCandidates reads up to limit instances whose next_due_at has arrived,
// soonest first, with the due value each claim must compare against.
func (r *Registry) DueCandidates(ctx context.Context, now time.Time, limit int64) ([]store.Member, error) {
	return r.store.ZRangeByScoreWithScores(ctx, DueIndexKey, float64(now.Unix()), limit)
}

// Claim atomically advances next_due_at from readDue to nextDue, recording
// the firing time. It fails (returns false) if another replica already
// claimed this due cycle or the instance is no longer active.
func (r *Registry) Claim(ctx context.Context, id string, readDue, nextDue, firedAt int64) (bool, error) {
	res, err := r.store.RunScript(ctx, r.scripts["claim"],
		[]string{InstanceKey(id), DueIndexKey},
		readDue, nextDue, firedAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim instance %s: %w", id, err)
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}

// Requeue makes an instance due again at the given time, used when a
// claimed firing could not be published.
func (r *Registry) Requeue(ctx context.Context, id string, due time.Time) error {
	if _, err := r.store.RunScript(ctx, r.scripts["requeue"],
		[]string{InstanceKey(id), DueIndexKey},
		due.Unix(), id); err != nil {
		return fmt.Errorf("failed to requeue instance %s: %w", id, err)
	}
	return nil
}

// Remove deletes an instance and all its index entries, releasing its
// admission slot if it still held one. Idempotent: removing an absent
// instance returns false with no error.
func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	res, err := r.store.RunScript(ctx, r.scripts["remove"],
		[]string{InstanceKey(id), DueIndexKey, CreatedIndexKey, ReapQueueKey, admission.CounterKey},
		id)
	if err != nil {
		return false, fmt.Errorf("failed to remove instance %s: %w", id, err)
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}

// AgedOut lists up to limit instance IDs created strictly before the
// cutoff. Scores are whole unix seconds, so the inclusive range bound is
// cutoff-1.
func (r *Registry) AgedOut(ctx context.Context, cutoff time.Time, limit int64) ([]string, error) {
	members, err := r.store.ZRangeByScoreWithScores(ctx, CreatedIndexKey, float64(cutoff.Unix()-1), limit)
	if err != nil {
		return nil, err
	}
	return memberIDs(members), nil
}

// Reaped lists up to limit instance IDs queued for removal by cancellation.
func (r *Registry) Reaped(ctx context.Context, limit int64) ([]string, error) {
	members, err := r.store.ZRangeByScoreWithScores(ctx, ReapQueueKey, math.Inf(1), limit)
	if err != nil {
		return nil, err
	}
	return memberIDs(members), nil
}

// List returns up to limit instances, oldest first.
func (r *Registry) List(ctx context.Context, limit int64) ([]*alert.Instance, error) {
	members, err := r.store.ZRangeByScoreWithScores(ctx, CreatedIndexKey, math.Inf(1), limit)
	if err != nil {
		return nil, err
	}
	instances := make([]*alert.Instance, 0, len(members))
	for _, m := range members {
		in, err := r.Get(ctx, m.ID)
		if errors.Is(err, ErrNotFound) {
			// Removed between the index read and the fetch.
			continue
		}
		if err != nil {
			return nil, err
		}
		instances = append(instances, in)
	}
	return instances, nil
}

func memberIDs(members []store.Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}
