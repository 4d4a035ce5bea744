package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alert-scheduler/internal/alert"
	"alert-scheduler/internal/registry"
)

// Service applies schedule requests: dedup gate, then admission, then the
// registry mutation. Every accepted create holds one admission slot until
// cancellation or cleanup releases it.
type Service struct {
	dedup     RequestDeduper
	admission Admitter
	registry  InstanceRegistry
	metrics   MetricsRecorder
	now       func() time.Time
}

// NewService wires the schedule-request path. If m is nil, accounting is
// discarded.
func NewService(d RequestDeduper, a Admitter, r InstanceRegistry, m MetricsRecorder) *Service {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &Service{
		dedup:     d,
		admission: a,
		registry:  r,
		metrics:   m,
		now:       time.Now,
	}
}

// Apply runs one schedule request through dedup, admission, and the
// registry. Returns the resulting instance for create and update, nil for
// cancel. Duplicates return ErrDuplicateRequest with no side effects.
func (s *Service) Apply(ctx context.Context, req *alert.ScheduleRequest) (*alert.Instance, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedRequest, err)
	}

	allowed, err := s.dedup.CheckRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.metrics.IncrementCustom("requests_deduplicated")
		slog.Debug("Duplicate schedule request suppressed",
			"operation", req.Operation,
			"instance_id", req.Instance.ID,
		)
		return nil, ErrDuplicateRequest
	}

	var in *alert.Instance
	switch req.Operation {
	case alert.OpCreate:
		in, err = s.create(ctx, req)
	case alert.OpUpdate:
		in, err = s.update(ctx, req)
	case alert.OpCancel:
		err = s.cancel(ctx, req.Instance.ID)
	default:
		err = fmt.Errorf("%w: unknown operation %q", ErrMalformedRequest, req.Operation)
	}
	if err != nil {
		// The reservation must not outlive a failed operation: the caller
		// is allowed to retry once capacity frees up or the store recovers.
		if relErr := s.dedup.ReleaseRequest(ctx, req); relErr != nil {
			slog.Error("Failed to release request reservation after failed operation",
				"operation", req.Operation,
				"instance_id", req.Instance.ID,
				"error", relErr,
			)
		}
		return nil, err
	}
	return in, nil
}

func (s *Service) create(ctx context.Context, req *alert.ScheduleRequest) (*alert.Instance, error) {
	if err := s.admission.Acquire(ctx); err != nil {
		s.metrics.IncrementCustom("admission_rejections")
		return nil, err
	}

	now := s.now()
	in := req.Instance
	in.Status = alert.StatusActive
	in.CreatedAt = now.Unix()
	in.LastFiredAt = 0
	in.NextDueAt = in.NextDue(now)

	if err := s.registry.Create(ctx, &in); err != nil {
		// The slot was taken for an instance that never materialized.
		if relErr := s.admission.Release(ctx); relErr != nil {
			slog.Error("Failed to release admission slot after create failure",
				"instance_id", in.ID,
				"error", relErr,
			)
		}
		return nil, err
	}

	slog.Info("Created alert instance",
		"instance_id", in.ID,
		"schedule_kind", in.Kind,
		"next_due_at", in.NextDueAt,
	)
	return &in, nil
}

func (s *Service) update(ctx context.Context, req *alert.ScheduleRequest) (*alert.Instance, error) {
	existing, err := s.registry.Get(ctx, req.Instance.ID)
	if err != nil {
		return nil, err
	}

	in := req.Instance
	in.Status = existing.Status
	in.CreatedAt = existing.CreatedAt
	in.LastFiredAt = existing.LastFiredAt
	if scheduleChanged(&in, existing) {
		in.NextDueAt = in.NextDue(s.now())
	} else {
		// Unchanged schedule keeps its current due cycle.
		in.NextDueAt = existing.NextDueAt
	}

	if err := s.registry.Update(ctx, &in); err != nil {
		return nil, err
	}

	slog.Info("Updated alert instance",
		"instance_id", in.ID,
		"schedule_kind", in.Kind,
		"next_due_at", in.NextDueAt,
	)
	return &in, nil
}

// scheduleChanged reports whether the schedule-bearing fields differ.
func scheduleChanged(a, b *alert.Instance) bool {
	return a.Kind != b.Kind ||
		a.IntervalSeconds != b.IntervalSeconds ||
		a.CronExpr != b.CronExpr
}

func (s *Service) cancel(ctx context.Context, id string) error {
	cancelled, err := s.registry.Cancel(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !cancelled {
		// Already cancelled or gone; cancellation is idempotent.
		slog.Debug("Cancel was a no-op", "instance_id", id)
		return nil
	}
	slog.Info("Cancelled alert instance", "instance_id", id)
	return nil
}

// Get fetches one instance for the admin API.
func (s *Service) Get(ctx context.Context, id string) (*alert.Instance, error) {
	return s.registry.Get(ctx, id)
}

// List returns up to limit instances for the admin API, oldest first.
func (s *Service) List(ctx context.Context, limit int64) ([]*alert.Instance, error) {
	return s.registry.List(ctx, limit)
}

// IsNotFound reports whether err is the registry's not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, registry.ErrNotFound)
}
