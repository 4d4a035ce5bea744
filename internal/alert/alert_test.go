package alert

import (
	"testing"
	"time"
)

func validInstance() Instance {
	return Instance{
		ID:              "inst-1",
		Target:          "0xabc",
		Kind:            KindInterval,
		IntervalSeconds: 60,
		NotifyTargets:   []string{"user-1"},
	}
}

func TestInstanceValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Instance)
		wantErr bool
	}{
		{
			name:   "valid interval instance",
			mutate: func(*Instance) {},
		},
		{
			name: "valid cron instance",
			mutate: func(in *Instance) {
				in.Kind = KindCron
				in.CronExpr = "*/5 * * * *"
			},
		},
		{
			name: "valid event instance",
			mutate: func(in *Instance) {
				in.Kind = KindEvent
				in.IntervalSeconds = 0
			},
		},
		{
			name:    "empty id",
			mutate:  func(in *Instance) { in.ID = "" },
			wantErr: true,
		},
		{
			name:    "empty target",
			mutate:  func(in *Instance) { in.Target = "" },
			wantErr: true,
		},
		{
			name:    "no notify targets",
			mutate:  func(in *Instance) { in.NotifyTargets = nil },
			wantErr: true,
		},
		{
			name:    "zero interval",
			mutate:  func(in *Instance) { in.IntervalSeconds = 0 },
			wantErr: true,
		},
		{
			name: "bad cron expression",
			mutate: func(in *Instance) {
				in.Kind = KindCron
				in.CronExpr = "not a cron"
			},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			mutate:  func(in *Instance) { in.Kind = "hourly" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInstance()
			tt.mutate(&in)
			err := in.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInstanceNextDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)

	t.Run("interval", func(t *testing.T) {
		in := validInstance()
		got := in.NextDue(now)
		if want := now.Unix() + 60; got != want {
			t.Errorf("NextDue() = %d, want %d", got, want)
		}
	})

	t.Run("cron", func(t *testing.T) {
		in := validInstance()
		in.Kind = KindCron
		in.CronExpr = "0 * * * *"
		got := in.NextDue(now)
		want := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC).Unix()
		if got != want {
			t.Errorf("NextDue() = %d, want %d", got, want)
		}
	})

	t.Run("event has no due time", func(t *testing.T) {
		in := validInstance()
		in.Kind = KindEvent
		if got := in.NextDue(now); got != 0 {
			t.Errorf("NextDue() = %d, want 0", got)
		}
	})
}

func TestScheduleRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ScheduleRequest
		wantErr bool
	}{
		{
			name: "valid create",
			req:  ScheduleRequest{Operation: OpCreate, Instance: validInstance()},
		},
		{
			name: "valid update",
			req:  ScheduleRequest{Operation: OpUpdate, Instance: validInstance()},
		},
		{
			name: "cancel needs only id",
			req:  ScheduleRequest{Operation: OpCancel, Instance: Instance{ID: "inst-1"}},
		},
		{
			name:    "cancel without id",
			req:     ScheduleRequest{Operation: OpCancel},
			wantErr: true,
		},
		{
			name:    "unknown operation",
			req:     ScheduleRequest{Operation: "upsert", Instance: validInstance()},
			wantErr: true,
		},
		{
			name:    "create with invalid instance",
			req:     ScheduleRequest{Operation: OpCreate, Instance: Instance{ID: "inst-1"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewInstanceID(t *testing.T) {
	a, b := NewInstanceID(), NewInstanceID()
	if a == "" || b == "" {
		t.Fatal("NewInstanceID() returned empty ID")
	}
	if a == b {
		t.Errorf("NewInstanceID() returned duplicate IDs: %s", a)
	}
}
