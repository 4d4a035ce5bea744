package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alert-scheduler/internal/alert"
)

// Scanner periodically claims due instances and hands them to the firing
// pipeline. Claims are optimistic compare-and-advance operations, so
// overlapping cycles across replicas never double-dispatch one due cycle:
// the loser of a claim race simply leaves the candidate for the winner.
type Scanner struct {
	registry  InstanceRegistry
	handler   FiringHandler
	metrics   MetricsRecorder
	interval  time.Duration
	scanBatch int64
	dueBatch  int64
	now       func() time.Time
}

// NewScanner creates a due scanner. scanBatch bounds how many candidates
// are read per cycle; dueBatch bounds how many are claimed.
func NewScanner(r InstanceRegistry, h FiringHandler, interval time.Duration, scanBatch, dueBatch int64, m MetricsRecorder) *Scanner {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &Scanner{
		registry:  r,
		handler:   h,
		metrics:   m,
		interval:  interval,
		scanBatch: scanBatch,
		dueBatch:  dueBatch,
		now:       time.Now,
	}
}

// Run executes scan cycles on the configured interval until the context is
// cancelled.
func (s *Scanner) Run(ctx context.Context) {
	slog.Info("Starting due scanner",
		"interval", s.interval,
		"scan_batch", s.scanBatch,
		"due_batch", s.dueBatch,
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Due scanner stopped")
			return
		case <-ticker.C:
			if _, err := s.ScanCycle(ctx, s.now()); err != nil {
				slog.Error("Due scan cycle failed", "error", err)
			}
		}
	}
}

// ScanCycle reads due candidates and claims up to dueBatch of them,
// dispatching each claimed instance to the firing handler. Returns the
// number of claimed instances.
func (s *Scanner) ScanCycle(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.registry.DueCandidates(ctx, now, s.scanBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to read due candidates: %w", err)
	}

	claimed := 0
	for _, cand := range candidates {
		if int64(claimed) >= s.dueBatch {
			break
		}

		in, err := s.registry.Get(ctx, cand.ID)
		if err != nil {
			if IsNotFound(err) {
				// Removed between index read and fetch.
				continue
			}
			slog.Error("Failed to load due candidate", "instance_id", cand.ID, "error", err)
			continue
		}

		readDue := int64(cand.Score)
		ok, err := s.registry.Claim(ctx, in.ID, readDue, in.NextDue(now), now.Unix())
		if err != nil {
			slog.Error("Claim failed", "instance_id", in.ID, "error", err)
			continue
		}
		if !ok {
			// Another replica won this cycle.
			s.metrics.IncrementCustom("claims_lost")
			continue
		}
		claimed++

		ev := &alert.FiringEvent{
			InstanceID: in.ID,
			Payload:    scheduledPayload(readDue),
		}
		if err := s.handler.Fire(ctx, ev); err != nil {
			slog.Error("Firing failed", "instance_id", in.ID, "error", err)
		}
	}

	if claimed > 0 {
		slog.Debug("Scan cycle complete",
			"candidates", len(candidates),
			"claimed", claimed,
		)
	}
	return claimed, nil
}

// scheduledPayload is the canonical minimal payload for a time-triggered
// firing: the due cycle it represents. Two replicas evaluating the same
// cycle hash identically and fall into the same dedup window.
func scheduledPayload(dueAt int64) []byte {
	return []byte(fmt.Sprintf(`{"due_at":%d}`, dueAt))
}
