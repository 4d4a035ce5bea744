package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"alert-scheduler/internal/admission"
	"alert-scheduler/internal/alert"
	"alert-scheduler/internal/store"

	"github.com/redis/go-redis/v9"
)

type scriptCall struct {
	script *redis.Script
	keys   []string
	args   []interface{}
}

// fakeStore records script executions and serves programmed results.
type fakeStore struct {
	calls     []scriptCall
	runResult interface{}
	runErr    error

	getResult string
	getErr    error

	zrangeResult []store.Member
	zrangeErr    error
	zrangeCalls  []zrangeCall
}

type zrangeCall struct {
	key   string
	max   float64
	limit int64
}

func (f *fakeStore) RunScript(_ context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	f.calls = append(f.calls, scriptCall{script: script, keys: keys, args: args})
	return f.runResult, f.runErr
}

func (f *fakeStore) Get(context.Context, string) (string, error) {
	return f.getResult, f.getErr
}

func (f *fakeStore) ZRangeByScoreWithScores(_ context.Context, key string, max float64, limit int64) ([]store.Member, error) {
	f.zrangeCalls = append(f.zrangeCalls, zrangeCall{key: key, max: max, limit: limit})
	return f.zrangeResult, f.zrangeErr
}

func testInstance() *alert.Instance {
	return &alert.Instance{
		ID:              "inst-1",
		Target:          "0xabc",
		Kind:            alert.KindInterval,
		IntervalSeconds: 60,
		NotifyTargets:   []string{"user-1"},
		NextDueAt:       1000,
		Status:          alert.StatusActive,
		CreatedAt:       900,
	}
}

func TestCreate(t *testing.T) {
	st := &fakeStore{runResult: int64(1)}
	r := NewRegistry(st)

	if err := r.Create(context.Background(), testInstance()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	call := st.calls[0]
	if call.script != r.scripts["create"] {
		t.Error("Create() must run the create script")
	}
	wantKeys := []string{"alert:instance:inst-1", DueIndexKey, CreatedIndexKey}
	for i, k := range wantKeys {
		if call.keys[i] != k {
			t.Errorf("keys[%d] = %s, want %s", i, call.keys[i], k)
		}
	}
	if call.args[1] != "1000" {
		t.Errorf("due score arg = %v, want \"1000\"", call.args[1])
	}
}

func TestCreateEventInstanceSkipsDueIndex(t *testing.T) {
	st := &fakeStore{runResult: int64(1)}
	r := NewRegistry(st)

	in := testInstance()
	in.Kind = alert.KindEvent
	in.IntervalSeconds = 0
	in.NextDueAt = 0

	if err := r.Create(context.Background(), in); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if st.calls[0].args[1] != "" {
		t.Errorf("event instance due score = %v, want empty", st.calls[0].args[1])
	}
}

func TestCreateDuplicate(t *testing.T) {
	st := &fakeStore{runResult: int64(0)}
	r := NewRegistry(st)

	err := r.Create(context.Background(), testInstance())
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Create() error = %v, want ErrAlreadyExists", err)
	}
}

func TestUpdateNotFound(t *testing.T) {
	st := &fakeStore{runResult: int64(0)}
	r := NewRegistry(st)

	err := r.Update(context.Background(), testInstance())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestCancel(t *testing.T) {
	st := &fakeStore{runResult: int64(1)}
	r := NewRegistry(st)

	now := time.Unix(2000, 0)
	cancelled, err := r.Cancel(context.Background(), "inst-1", now)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !cancelled {
		t.Error("Cancel() = false, want true")
	}

	call := st.calls[0]
	if call.script != r.scripts["cancel"] {
		t.Error("Cancel() must run the cancel script")
	}
	wantKeys := []string{"alert:instance:inst-1", DueIndexKey, admission.CounterKey, ReapQueueKey}
	for i, k := range wantKeys {
		if call.keys[i] != k {
			t.Errorf("keys[%d] = %s, want %s", i, call.keys[i], k)
		}
	}
}

func TestCancelNoOp(t *testing.T) {
	st := &fakeStore{runResult: int64(0)}
	r := NewRegistry(st)

	cancelled, err := r.Cancel(context.Background(), "inst-1", time.Now())
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled {
		t.Error("Cancel() on already-cancelled instance = true, want false")
	}
}

func TestGet(t *testing.T) {
	in := testInstance()
	data, _ := json.Marshal(in)
	st := &fakeStore{getResult: string(data)}
	r := NewRegistry(st)

	got, err := r.Get(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != in.ID || got.NextDueAt != in.NextDueAt || got.Status != in.Status {
		t.Errorf("Get() = %+v, want %+v", got, in)
	}
}

func TestGetNotFound(t *testing.T) {
	st := &fakeStore{getErr: store.ErrNotFound}
	r := NewRegistry(st)

	_, err := r.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGetCorruptRecord(t *testing.T) {
	st := &fakeStore{getResult: "{not json"}
	r := NewRegistry(st)

	if _, err := r.Get(context.Background(), "inst-1"); err == nil {
		t.Error("Get() on corrupt record must error")
	}
}

func TestClaim(t *testing.T) {
	tests := []struct {
		name      string
		runResult interface{}
		want      bool
	}{
		{name: "claim won", runResult: int64(1), want: true},
		{name: "claim lost", runResult: int64(0), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{runResult: tt.runResult}
			r := NewRegistry(st)

			ok, err := r.Claim(context.Background(), "inst-1", 1000, 1060, 1000)
			if err != nil {
				t.Fatalf("Claim() error = %v", err)
			}
			if ok != tt.want {
				t.Errorf("Claim() = %v, want %v", ok, tt.want)
			}

			call := st.calls[0]
			if call.script != r.scripts["claim"] {
				t.Error("Claim() must run the claim script")
			}
			if call.args[0] != int64(1000) || call.args[1] != int64(1060) {
				t.Errorf("claim args = %v, want read due 1000 and next due 1060", call.args)
			}
		})
	}
}

func TestRemoveIdempotent(t *testing.T) {
	st := &fakeStore{runResult: int64(0)}
	r := NewRegistry(st)

	removed, err := r.Remove(context.Background(), "gone")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if removed {
		t.Error("Remove() of absent instance = true, want false")
	}
}

func TestDueCandidates(t *testing.T) {
	st := &fakeStore{zrangeResult: []store.Member{
		{ID: "inst-1", Score: 900},
		{ID: "inst-2", Score: 950},
	}}
	r := NewRegistry(st)

	members, err := r.DueCandidates(context.Background(), time.Unix(1000, 0), 10)
	if err != nil {
		t.Fatalf("DueCandidates() error = %v", err)
	}
	if len(members) != 2 || members[0].ID != "inst-1" {
		t.Errorf("DueCandidates() = %+v", members)
	}
}

func TestAgedOutExcludesInstancesAtExactlyMaxAge(t *testing.T) {
	st := &fakeStore{zrangeResult: []store.Member{{ID: "old-1", Score: 500}}}
	r := NewRegistry(st)

	ids, err := r.AgedOut(context.Background(), time.Unix(1000, 0), 10)
	if err != nil {
		t.Fatalf("AgedOut() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "old-1" {
		t.Errorf("AgedOut() = %v", ids)
	}

	call := st.zrangeCalls[0]
	if call.key != CreatedIndexKey {
		t.Errorf("key = %s, want %s", call.key, CreatedIndexKey)
	}
	// An instance created exactly at the cutoff is not yet past the limit;
	// the inclusive range bound must stop one second short.
	if call.max != 999 {
		t.Errorf("range max = %f, want 999", call.max)
	}
}

func TestList(t *testing.T) {
	in := testInstance()
	data, _ := json.Marshal(in)
	st := &fakeStore{
		zrangeResult: []store.Member{{ID: "inst-1", Score: 900}},
		getResult:    string(data),
	}
	r := NewRegistry(st)

	instances, err := r.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(instances) != 1 || instances[0].ID != "inst-1" {
		t.Errorf("List() = %+v", instances)
	}
}

func TestListSkipsRemovedInstances(t *testing.T) {
	st := &fakeStore{
		zrangeResult: []store.Member{{ID: "inst-1", Score: 900}},
		getErr:       store.ErrNotFound,
	}
	r := NewRegistry(st)

	instances, err := r.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(instances) != 0 {
		t.Errorf("List() = %+v, want empty", instances)
	}
}
