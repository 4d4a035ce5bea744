// Package alert defines the scheduler's domain types: alert instances,
// schedule requests, firing events, and published jobs.
package alert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Status is the lifecycle state of an alert instance.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// ScheduleKind determines how an instance's next evaluation time is derived.
type ScheduleKind string

const (
	KindInterval ScheduleKind = "interval"
	KindCron     ScheduleKind = "cron"
	KindEvent    ScheduleKind = "event"
)

// Operation is the schedule-request operation type.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpCancel Operation = "cancel"
)

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Instance is a registered monitored condition with its own schedule.
// Instances are owned by the shared store; replicas never cache them
// beyond a single operation.
type Instance struct {
	ID              string          `json:"id"`
	Target          string          `json:"target"`
	Condition       json.RawMessage `json:"condition,omitempty"`
	Kind            ScheduleKind    `json:"schedule_kind"`
	IntervalSeconds int64           `json:"interval_seconds,omitempty"`
	CronExpr        string          `json:"cron_expr,omitempty"`
	NotifyTargets   []string        `json:"notify_targets"`
	NextDueAt       int64           `json:"next_due_at"`
	LastFiredAt     int64           `json:"last_fired_at"`
	Status          Status          `json:"status"`
	CreatedAt       int64           `json:"created_at"`
}

// Validate checks that the instance is well formed for its schedule kind.
func (in *Instance) Validate() error {
	if in.ID == "" {
		return fmt.Errorf("instance id cannot be empty")
	}
	if in.Target == "" {
		return fmt.Errorf("target cannot be empty")
	}
	if len(in.NotifyTargets) == 0 {
		return fmt.Errorf("notify_targets cannot be empty")
	}
	switch in.Kind {
	case KindInterval:
		if in.IntervalSeconds <= 0 {
			return fmt.Errorf("interval_seconds must be > 0 for interval schedules")
		}
	case KindCron:
		if _, err := cronParser.Parse(in.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", in.CronExpr, err)
		}
	case KindEvent:
		// Fired only by upstream match events; never enters the due index.
	default:
		return fmt.Errorf("unknown schedule kind: %q", in.Kind)
	}
	return nil
}

// NextDue returns the next evaluation time after now, in unix seconds.
// Event-driven instances have no due time and return 0.
func (in *Instance) NextDue(now time.Time) int64 {
	switch in.Kind {
	case KindInterval:
		return now.Unix() + in.IntervalSeconds
	case KindCron:
		sched, err := cronParser.Parse(in.CronExpr)
		if err != nil {
			// Validate rejects unparseable expressions before storage.
			return 0
		}
		return sched.Next(now).Unix()
	default:
		return 0
	}
}

// NewInstanceID returns a fresh unique instance identifier.
func NewInstanceID() string {
	return uuid.NewString()
}

// ScheduleRequest is a create/update/cancel request against the registry.
type ScheduleRequest struct {
	Operation Operation `json:"operation"`
	Instance  Instance  `json:"instance"`
}

// Validate checks the request shape. Cancel requests only need an instance ID;
// create and update must carry a full valid instance.
func (r *ScheduleRequest) Validate() error {
	switch r.Operation {
	case OpCreate, OpUpdate:
		return r.Instance.Validate()
	case OpCancel:
		if r.Instance.ID == "" {
			return fmt.Errorf("instance id cannot be empty")
		}
		return nil
	default:
		return fmt.Errorf("unknown operation: %q", r.Operation)
	}
}

// FiringEvent is a single eligible evaluation of an instance, produced either
// by the due scanner or by an upstream match event.
type FiringEvent struct {
	InstanceID string          `json:"instance_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Job is one capacity-bounded microbatch published downstream.
type Job struct {
	InstanceID string   `json:"instance_id"`
	Targets    []string `json:"targets"`
	Seq        int64    `json:"seq"`
	Timestamp  int64    `json:"timestamp"`
}
