// Package cleanup expires stale alert instances: cancelled ones queued for
// removal and instances past the maximum age. Removal and admission-slot
// release happen in one atomic registry operation, so concurrent sweeps
// from multiple replicas are safe and re-running a sweep is a no-op.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Registry is the registry surface the sweeper needs.
type Registry interface {
	AgedOut(ctx context.Context, cutoff time.Time, limit int64) ([]string, error)
	Reaped(ctx context.Context, limit int64) ([]string, error)
	Remove(ctx context.Context, id string) (bool, error)
}

// Recorder receives sweep accounting.
type Recorder interface {
	IncrementCustom(name string)
}

type noOpRecorder struct{}

func (noOpRecorder) IncrementCustom(string) {}

// Sweeper periodically removes expired and cancelled instances.
type Sweeper struct {
	registry  Registry
	metrics   Recorder
	interval  time.Duration
	batchSize int64
	maxAge    time.Duration
	now       func() time.Time
}

// NewSweeper creates a sweeper with the given batch size and age policy.
func NewSweeper(r Registry, interval time.Duration, batchSize int64, maxAge time.Duration, m Recorder) *Sweeper {
	if m == nil {
		m = noOpRecorder{}
	}
	return &Sweeper{
		registry:  r,
		metrics:   m,
		interval:  interval,
		batchSize: batchSize,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// Run executes sweep cycles on the configured interval until the context
// is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("Starting cleanup sweeper",
		"interval", s.interval,
		"batch_size", s.batchSize,
		"max_age", s.maxAge,
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Cleanup sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepCycle(ctx, s.now()); err != nil {
				slog.Error("Cleanup sweep failed", "error", err)
			}
		}
	}
}

// SweepCycle removes up to batchSize candidates: instances queued by
// cancellation plus instances older than the maximum age. Returns the
// number of instances actually removed.
func (s *Sweeper) SweepCycle(ctx context.Context, now time.Time) (int, error) {
	reaped, err := s.registry.Reaped(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list reap queue: %w", err)
	}
	aged, err := s.registry.AgedOut(ctx, now.Add(-s.maxAge), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list aged instances: %w", err)
	}

	removed := 0
	seen := make(map[string]bool, len(reaped)+len(aged))
	for _, id := range append(reaped, aged...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if int64(removed) >= s.batchSize {
			break
		}

		ok, err := s.registry.Remove(ctx, id)
		if err != nil {
			slog.Error("Failed to remove instance", "instance_id", id, "error", err)
			continue
		}
		if !ok {
			// Already removed by a concurrent sweep.
			continue
		}
		removed++
		s.metrics.IncrementCustom("instances_swept")
		slog.Debug("Removed stale instance", "instance_id", id)
	}

	if removed > 0 {
		slog.Info("Sweep cycle complete", "removed", removed)
	}
	return removed, nil
}
