package consumer

import (
	"context"
	"log/slog"

	"alert-scheduler/internal/alert"

	"github.com/segmentio/kafka-go"
)

// MessageReader reads match events from the upstream pipeline.
type MessageReader interface {
	ReadMessage(ctx context.Context) (*alert.FiringEvent, *kafka.Message, error)
	CommitMessage(ctx context.Context, msg *kafka.Message) error
	Close() error
}

// FiringHandler accepts decoded match events.
type FiringHandler interface {
	Fire(ctx context.Context, ev *alert.FiringEvent) error
}

// Intake is the read-fire-commit loop feeding the firing pipeline.
type Intake struct {
	reader  MessageReader
	handler FiringHandler
}

// NewIntake creates an intake loop over the given reader and handler.
func NewIntake(reader MessageReader, handler FiringHandler) *Intake {
	return &Intake{reader: reader, handler: handler}
}

// Run continuously reads match events and hands them to the firing
// pipeline, committing offsets only after the pipeline accepted the
// message. Malformed messages are committed and skipped: redelivering
// them can never succeed.
func (i *Intake) Run(ctx context.Context) error {
	slog.Info("Starting match-event intake loop")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Match-event intake loop stopped")
			return nil
		default:
			ev, msg, err := i.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if msg != nil {
					// Undecodable payload: commit and move on.
					slog.Error("Skipping malformed match event", "error", err)
					if commitErr := i.reader.CommitMessage(ctx, msg); commitErr != nil {
						slog.Error("Failed to commit malformed message", "error", commitErr)
					}
					continue
				}
				slog.Error("Failed to read match event", "error", err)
				continue
			}

			if err := i.handler.Fire(ctx, ev); err != nil {
				// Leave the offset uncommitted; the message is redelivered
				// and the dedup gate keeps the retry idempotent.
				slog.Error("Firing pipeline rejected match event",
					"instance_id", ev.InstanceID,
					"error", err,
				)
				continue
			}

			if err := i.reader.CommitMessage(ctx, msg); err != nil {
				slog.Error("Failed to commit offset",
					"instance_id", ev.InstanceID,
					"error", err,
				)
			}
		}
	}
}
