package consumer

import (
	"context"
	"errors"
	"testing"

	"alert-scheduler/internal/alert"

	"github.com/segmentio/kafka-go"
)

type scriptedRead struct {
	ev  *alert.FiringEvent
	msg *kafka.Message
	err error
}

// scriptedReader serves a fixed sequence of reads, then cancels the
// context so the intake loop exits.
type scriptedReader struct {
	reads     []scriptedRead
	pos       int
	cancel    context.CancelFunc
	committed []*kafka.Message
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (*alert.FiringEvent, *kafka.Message, error) {
	if r.pos >= len(r.reads) {
		r.cancel()
		return nil, nil, ctx.Err()
	}
	read := r.reads[r.pos]
	r.pos++
	return read.ev, read.msg, read.err
}

func (r *scriptedReader) CommitMessage(_ context.Context, msg *kafka.Message) error {
	r.committed = append(r.committed, msg)
	return nil
}

func (r *scriptedReader) Close() error { return nil }

type fakeHandler struct {
	FireFn func(ctx context.Context, ev *alert.FiringEvent) error
	fired  []*alert.FiringEvent
}

func (h *fakeHandler) Fire(ctx context.Context, ev *alert.FiringEvent) error {
	h.fired = append(h.fired, ev)
	if h.FireFn != nil {
		return h.FireFn(ctx, ev)
	}
	return nil
}

func runIntake(t *testing.T, reads []scriptedRead, h *fakeHandler) *scriptedReader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &scriptedReader{reads: reads, cancel: cancel}
	if err := NewIntake(reader, h).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return reader
}

func TestIntakeCommitsAfterFire(t *testing.T) {
	msg := &kafka.Message{Offset: 7}
	h := &fakeHandler{}
	reader := runIntake(t, []scriptedRead{
		{ev: &alert.FiringEvent{InstanceID: "inst-1"}, msg: msg},
	}, h)

	if len(h.fired) != 1 || h.fired[0].InstanceID != "inst-1" {
		t.Fatalf("fired = %+v, want one event for inst-1", h.fired)
	}
	if len(reader.committed) != 1 || reader.committed[0] != msg {
		t.Errorf("committed = %v, want the delivered message", reader.committed)
	}
}

func TestIntakeLeavesOffsetOnFireError(t *testing.T) {
	h := &fakeHandler{
		FireFn: func(context.Context, *alert.FiringEvent) error {
			return errors.New("store down")
		},
	}
	reader := runIntake(t, []scriptedRead{
		{ev: &alert.FiringEvent{InstanceID: "inst-1"}, msg: &kafka.Message{Offset: 7}},
	}, h)

	if len(reader.committed) != 0 {
		t.Error("rejected event must leave the offset uncommitted for redelivery")
	}
}

func TestIntakeCommitsAndSkipsMalformed(t *testing.T) {
	bad := &kafka.Message{Offset: 3}
	h := &fakeHandler{}
	reader := runIntake(t, []scriptedRead{
		{msg: bad, err: errors.New("failed to unmarshal match event")},
		{ev: &alert.FiringEvent{InstanceID: "inst-2"}, msg: &kafka.Message{Offset: 4}},
	}, h)

	if len(h.fired) != 1 || h.fired[0].InstanceID != "inst-2" {
		t.Fatalf("fired = %+v, want only the well-formed event", h.fired)
	}
	// Both the malformed message and the processed one are committed.
	if len(reader.committed) != 2 || reader.committed[0] != bad {
		t.Errorf("committed = %v, want malformed message committed first", reader.committed)
	}
}

func TestIntakeContinuesPastReadError(t *testing.T) {
	h := &fakeHandler{}
	reader := runIntake(t, []scriptedRead{
		{err: errors.New("broker hiccup")},
		{ev: &alert.FiringEvent{InstanceID: "inst-1"}, msg: &kafka.Message{Offset: 1}},
	}, h)

	if len(h.fired) != 1 {
		t.Fatalf("fired %d events, want 1", len(h.fired))
	}
	if len(reader.committed) != 1 {
		t.Errorf("committed %d offsets, want 1", len(reader.committed))
	}
}

func TestNewConsumerValidation(t *testing.T) {
	tests := []struct {
		name    string
		brokers string
		topic   string
		groupID string
	}{
		{"empty brokers", "", "watch.matches", "alert-scheduler"},
		{"empty topic", "localhost:9092", "", "alert-scheduler"},
		{"empty group", "localhost:9092", "watch.matches", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConsumer(tt.brokers, tt.topic, tt.groupID); err == nil {
				t.Error("NewConsumer() accepted invalid config")
			}
		})
	}
}
