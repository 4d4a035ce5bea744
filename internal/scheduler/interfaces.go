// Package scheduler orchestrates schedule requests, due scanning, and the
// firing pipeline on top of the dedup, admission, registry, and publisher
// components.
package scheduler

import (
	"context"
	"time"

	"alert-scheduler/internal/alert"
	"alert-scheduler/internal/store"
)

// RequestDeduper gates schedule requests and can release a reservation
// when the gated operation failed before reaching a durable decision.
type RequestDeduper interface {
	CheckRequest(ctx context.Context, req *alert.ScheduleRequest) (bool, error)
	ReleaseRequest(ctx context.Context, req *alert.ScheduleRequest) error
}

// EventDeduper gates firings and can release a reservation when a reserved
// firing could not be published.
type EventDeduper interface {
	CheckEvent(ctx context.Context, instanceID, contentHash string) (bool, error)
	ReleaseEvent(ctx context.Context, instanceID, contentHash string) error
}

// Admitter controls the global active-instance cap.
type Admitter interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// InstanceRegistry is the registry surface the scheduler needs.
type InstanceRegistry interface {
	Create(ctx context.Context, in *alert.Instance) error
	Update(ctx context.Context, in *alert.Instance) error
	Cancel(ctx context.Context, id string, now time.Time) (bool, error)
	Get(ctx context.Context, id string) (*alert.Instance, error)
	List(ctx context.Context, limit int64) ([]*alert.Instance, error)
	DueCandidates(ctx context.Context, now time.Time, limit int64) ([]store.Member, error)
	Claim(ctx context.Context, id string, readDue, nextDue, firedAt int64) (bool, error)
	Requeue(ctx context.Context, id string, due time.Time) error
}

// JobPublisher publishes the resolved targets of an allowed firing.
type JobPublisher interface {
	PublishFiring(ctx context.Context, instanceID string, targets []string) (int, error)
}

// FiringHandler accepts eligible firings from the scanner and the intake.
type FiringHandler interface {
	Fire(ctx context.Context, ev *alert.FiringEvent) error
}

// MetricsRecorder receives pipeline accounting.
type MetricsRecorder interface {
	RecordReceived()
	RecordProcessed()
	RecordError()
	IncrementCustom(name string)
}

// NoOpMetrics discards all accounting.
type NoOpMetrics struct{}

func (*NoOpMetrics) RecordReceived()        {}
func (*NoOpMetrics) RecordProcessed()       {}
func (*NoOpMetrics) RecordError()           {}
func (*NoOpMetrics) IncrementCustom(string) {}
