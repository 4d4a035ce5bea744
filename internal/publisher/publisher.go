// Package publisher turns allowed firings into capacity-bounded job
// microbatches on a durable NATS JetStream stream. Publishes are
// synchronous, so per-instance ordering follows publish order; there is no
// ordering guarantee across instances.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alert-scheduler/internal/alert"

	"github.com/nats-io/nats.go"
)

// ErrPublishFailure is returned when a microbatch could not be published
// after the retry budget. The caller requeues the instance so the firing is
// never silently lost.
var ErrPublishFailure = errors.New("publish failure")

// SubjectPrefix is the subject namespace for job messages; one subject per
// instance keeps per-instance ordering inspectable.
const SubjectPrefix = "alert.jobs."

// StreamPublisher is the JetStream surface the publisher needs.
// *nats.JetStreamContext satisfies it.
type StreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Sequencer hands out monotonically increasing per-instance sequence
// numbers through the shared store, valid across replicas.
type Sequencer interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// Recorder receives publish accounting.
type Recorder interface {
	RecordPublished()
	AddCustom(name string, delta uint64)
}

// NoOpRecorder discards all accounting.
type NoOpRecorder struct{}

func (NoOpRecorder) RecordPublished()         {}
func (NoOpRecorder) AddCustom(string, uint64) {}

// SeqKey returns the sequence counter key for one instance.
func SeqKey(instanceID string) string {
	return "alert:seq:" + instanceID
}

// Publisher splits target lists into microbatches and publishes them.
type Publisher struct {
	js            StreamPublisher
	seq           Sequencer
	maxBatch      int
	eventCap      int
	retryAttempts int
	retryDelay    time.Duration
	metrics       Recorder
}

// NewPublisher creates a publisher with the given batching caps and retry
// policy. If m is nil, accounting is discarded.
func NewPublisher(js StreamPublisher, seq Sequencer, maxBatchTargets, eventTargetsCap, retryAttempts int, retryDelay time.Duration, m Recorder) *Publisher {
	if m == nil {
		m = NoOpRecorder{}
	}
	return &Publisher{
		js:            js,
		seq:           seq,
		maxBatch:      maxBatchTargets,
		eventCap:      eventTargetsCap,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		metrics:       m,
	}
}

// EnsureStream creates the durable stream if it does not exist yet.
// Best effort: failure is logged, the stream may be provisioned externally.
func EnsureStream(js nats.JetStreamContext, name string) {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{SubjectPrefix + ">"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	})
	if err == nil {
		slog.Info("Created JetStream stream", "stream", name)
		return
	}
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		slog.Info("JetStream stream already exists", "stream", name)
		return
	}
	slog.Warn("Could not create JetStream stream (may need to be created manually)",
		"stream", name,
		"error", err,
	)
}

// PublishFiring publishes the resolved targets of one allowed firing as
// ordered microbatches. Targets beyond the per-event cap are dropped and
// accounted; each batch carries at most maxBatch targets. Returns the
// number of batches published.
func (p *Publisher) PublishFiring(ctx context.Context, instanceID string, targets []string) (int, error) {
	if len(targets) > p.eventCap {
		dropped := len(targets) - p.eventCap
		slog.Warn("Dropping targets beyond per-event cap",
			"instance_id", instanceID,
			"cap", p.eventCap,
			"dropped", dropped,
		)
		p.metrics.AddCustom("targets_dropped_capacity", uint64(dropped))
		targets = targets[:p.eventCap]
	}

	published := 0
	for start := 0; start < len(targets); start += p.maxBatch {
		end := start + p.maxBatch
		if end > len(targets) {
			end = len(targets)
		}
		if err := p.publishBatch(ctx, instanceID, targets[start:end]); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// publishBatch assigns the next per-instance sequence number and publishes
// one microbatch, retrying transient publish failures.
func (p *Publisher) publishBatch(ctx context.Context, instanceID string, targets []string) error {
	seq, err := p.seq.Incr(ctx, SeqKey(instanceID))
	if err != nil {
		return fmt.Errorf("%w: sequence allocation: %s", ErrPublishFailure, err)
	}

	job := alert.Job{
		InstanceID: instanceID,
		Targets:    targets,
		Seq:        seq,
		Timestamp:  time.Now().Unix(),
	}
	data, err := json.Marshal(&job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	subject := SubjectPrefix + instanceID
	var lastErr error
	for attempt := 0; attempt <= p.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}
		if _, lastErr = p.js.Publish(subject, data); lastErr == nil {
			p.metrics.RecordPublished()
			slog.Debug("Published job batch",
				"instance_id", instanceID,
				"seq", seq,
				"targets", len(targets),
			)
			return nil
		}
		slog.Error("Failed to publish job batch",
			"instance_id", instanceID,
			"seq", seq,
			"attempt", attempt,
			"error", lastErr,
		)
	}
	return fmt.Errorf("%w: %s", ErrPublishFailure, lastErr)
}
