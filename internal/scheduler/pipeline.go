package scheduler

import (
	"context"
	"log/slog"
	"time"

	"alert-scheduler/internal/alert"
)

// Pipeline carries a firing from the dedup gate to publication. Firings
// arrive either from the due scanner's claimed evaluations or from the
// upstream match-event intake; both paths are deduplicated identically.
type Pipeline struct {
	dedup     EventDeduper
	registry  InstanceRegistry
	publisher JobPublisher
	metrics   MetricsRecorder
	now       func() time.Time
}

// NewPipeline wires the firing path. If m is nil, accounting is discarded.
func NewPipeline(d EventDeduper, r InstanceRegistry, p JobPublisher, m MetricsRecorder) *Pipeline {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &Pipeline{
		dedup:     d,
		registry:  r,
		publisher: p,
		metrics:   m,
		now:       time.Now,
	}
}

// Fire runs one firing through dedup, the second active check, and the
// publisher. Once a firing passes the dedup gate it is either published or
// explicitly accounted: duplicates and inactive instances are counted, and
// a failed publish releases the reservation and requeues the instance so
// the next scan cycle retries it.
func (p *Pipeline) Fire(ctx context.Context, ev *alert.FiringEvent) error {
	p.metrics.RecordReceived()

	hash := ev.ContentHash()
	allowed, err := p.dedup.CheckEvent(ctx, ev.InstanceID, hash)
	if err != nil {
		p.metrics.RecordError()
		return err
	}
	if !allowed {
		p.metrics.IncrementCustom("firings_deduplicated")
		slog.Debug("Duplicate firing suppressed", "instance_id", ev.InstanceID)
		return nil
	}

	// Second active check: a cancel may have landed after this firing was
	// claimed. The dedup reservation stands either way; an inactive
	// instance must not fire for repeats of this event either.
	in, err := p.registry.Get(ctx, ev.InstanceID)
	if err != nil {
		if IsNotFound(err) {
			p.metrics.IncrementCustom("firings_dropped_inactive")
			return nil
		}
		p.metrics.RecordError()
		return err
	}
	if in.Status != alert.StatusActive {
		p.metrics.IncrementCustom("firings_dropped_inactive")
		slog.Debug("Dropping firing for inactive instance",
			"instance_id", ev.InstanceID,
			"status", in.Status,
		)
		return nil
	}

	batches, err := p.publisher.PublishFiring(ctx, in.ID, in.NotifyTargets)
	if err != nil {
		p.metrics.RecordError()
		// Undo the reservation and make the instance due again so the
		// firing is retried instead of silently dropped.
		if relErr := p.dedup.ReleaseEvent(ctx, ev.InstanceID, hash); relErr != nil {
			slog.Error("Failed to release dedup reservation after publish failure",
				"instance_id", ev.InstanceID,
				"error", relErr,
			)
		}
		if reqErr := p.registry.Requeue(ctx, ev.InstanceID, p.now()); reqErr != nil {
			slog.Error("Failed to requeue instance after publish failure",
				"instance_id", ev.InstanceID,
				"error", reqErr,
			)
		}
		return err
	}

	p.metrics.RecordProcessed()
	slog.Info("Published firing",
		"instance_id", in.ID,
		"batches", batches,
		"targets", len(in.NotifyTargets),
	)
	return nil
}
