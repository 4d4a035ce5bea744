// Shared test mocks for scheduler dependencies.
package scheduler

import (
	"context"
	"sync"
	"time"

	"alert-scheduler/internal/alert"
	"alert-scheduler/internal/store"
)

type mockRequestDeduper struct {
	CheckRequestFn   func(ctx context.Context, req *alert.ScheduleRequest) (bool, error)
	ReleaseRequestFn func(ctx context.Context, req *alert.ScheduleRequest) error
	released         int
}

func (m *mockRequestDeduper) CheckRequest(ctx context.Context, req *alert.ScheduleRequest) (bool, error) {
	if m.CheckRequestFn != nil {
		return m.CheckRequestFn(ctx, req)
	}
	return true, nil
}

func (m *mockRequestDeduper) ReleaseRequest(ctx context.Context, req *alert.ScheduleRequest) error {
	m.released++
	if m.ReleaseRequestFn != nil {
		return m.ReleaseRequestFn(ctx, req)
	}
	return nil
}

type mockEventDeduper struct {
	CheckEventFn   func(ctx context.Context, instanceID, hash string) (bool, error)
	ReleaseEventFn func(ctx context.Context, instanceID, hash string) error
	released       []string
}

func (m *mockEventDeduper) CheckEvent(ctx context.Context, instanceID, hash string) (bool, error) {
	if m.CheckEventFn != nil {
		return m.CheckEventFn(ctx, instanceID, hash)
	}
	return true, nil
}

func (m *mockEventDeduper) ReleaseEvent(ctx context.Context, instanceID, hash string) error {
	m.released = append(m.released, instanceID+":"+hash)
	if m.ReleaseEventFn != nil {
		return m.ReleaseEventFn(ctx, instanceID, hash)
	}
	return nil
}

type mockAdmitter struct {
	AcquireFn func(ctx context.Context) error
	acquired  int
	releases  int
}

func (m *mockAdmitter) Acquire(ctx context.Context) error {
	m.acquired++
	if m.AcquireFn != nil {
		return m.AcquireFn(ctx)
	}
	return nil
}

func (m *mockAdmitter) Release(context.Context) error {
	m.releases++
	return nil
}

type mockRegistry struct {
	CreateFn        func(ctx context.Context, in *alert.Instance) error
	UpdateFn        func(ctx context.Context, in *alert.Instance) error
	CancelFn        func(ctx context.Context, id string, now time.Time) (bool, error)
	GetFn           func(ctx context.Context, id string) (*alert.Instance, error)
	ListFn          func(ctx context.Context, limit int64) ([]*alert.Instance, error)
	DueCandidatesFn func(ctx context.Context, now time.Time, limit int64) ([]store.Member, error)
	ClaimFn         func(ctx context.Context, id string, readDue, nextDue, firedAt int64) (bool, error)
	RequeueFn       func(ctx context.Context, id string, due time.Time) error
	requeued        []string
}

func (m *mockRegistry) Create(ctx context.Context, in *alert.Instance) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, in)
	}
	return nil
}

func (m *mockRegistry) Update(ctx context.Context, in *alert.Instance) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, in)
	}
	return nil
}

func (m *mockRegistry) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	if m.CancelFn != nil {
		return m.CancelFn(ctx, id, now)
	}
	return true, nil
}

func (m *mockRegistry) Get(ctx context.Context, id string) (*alert.Instance, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	return &alert.Instance{ID: id, Status: alert.StatusActive, NotifyTargets: []string{"user-1"}}, nil
}

func (m *mockRegistry) List(ctx context.Context, limit int64) ([]*alert.Instance, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockRegistry) DueCandidates(ctx context.Context, now time.Time, limit int64) ([]store.Member, error) {
	if m.DueCandidatesFn != nil {
		return m.DueCandidatesFn(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockRegistry) Claim(ctx context.Context, id string, readDue, nextDue, firedAt int64) (bool, error) {
	if m.ClaimFn != nil {
		return m.ClaimFn(ctx, id, readDue, nextDue, firedAt)
	}
	return true, nil
}

func (m *mockRegistry) Requeue(ctx context.Context, id string, due time.Time) error {
	m.requeued = append(m.requeued, id)
	if m.RequeueFn != nil {
		return m.RequeueFn(ctx, id, due)
	}
	return nil
}

type mockPublisher struct {
	PublishFiringFn func(ctx context.Context, instanceID string, targets []string) (int, error)
	published       []string
}

func (m *mockPublisher) PublishFiring(ctx context.Context, instanceID string, targets []string) (int, error) {
	m.published = append(m.published, instanceID)
	if m.PublishFiringFn != nil {
		return m.PublishFiringFn(ctx, instanceID, targets)
	}
	return 1, nil
}

type mockHandler struct {
	FireFn func(ctx context.Context, ev *alert.FiringEvent) error

	mu    sync.Mutex
	fired []*alert.FiringEvent
}

func (m *mockHandler) Fire(ctx context.Context, ev *alert.FiringEvent) error {
	m.mu.Lock()
	m.fired = append(m.fired, ev)
	m.mu.Unlock()
	if m.FireFn != nil {
		return m.FireFn(ctx, ev)
	}
	return nil
}

func validRequest(op alert.Operation) *alert.ScheduleRequest {
	return &alert.ScheduleRequest{
		Operation: op,
		Instance: alert.Instance{
			ID:              "inst-1",
			Target:          "0xabc",
			Kind:            alert.KindInterval,
			IntervalSeconds: 60,
			NotifyTargets:   []string{"user-1", "user-2"},
		},
	}
}
