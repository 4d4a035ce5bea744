// Package consumer reads matched-condition events from the upstream
// decoding pipeline over Kafka. Delivery is at least once: offsets are
// committed only after the firing pipeline accepted the message, and the
// event dedup gate absorbs redeliveries.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"alert-scheduler/internal/alert"

	"github.com/segmentio/kafka-go"
)

const (
	// maxPollWait bounds how long a read blocks waiting for data.
	maxPollWait = 500 * time.Millisecond
	// commitInterval batches offset commits.
	commitInterval = time.Second
)

// Consumer wraps a Kafka reader for match events.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a consumer for the match-event topic, configured for
// at-least-once delivery.
func NewConsumer(brokers, topic, groupID string) (*Consumer, error) {
	if brokers == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if groupID == "" {
		return nil, fmt.Errorf("groupID cannot be empty")
	}

	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	slog.Info("Initializing match-event consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokerList,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        maxPollWait,
		CommitInterval: commitInterval,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{reader: reader, topic: topic}, nil
}

// ReadMessage fetches and decodes the next match event. The raw message is
// returned for offset tracking; FetchMessage is used because ReadMessage
// auto-commits under a consumer group, and the offset must only move after
// the firing pipeline accepted the event.
func (c *Consumer) ReadMessage(ctx context.Context) (*alert.FiringEvent, *kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}

	var ev alert.FiringEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return nil, &msg, fmt.Errorf("failed to unmarshal match event: %w", err)
	}
	if ev.InstanceID == "" {
		return nil, &msg, fmt.Errorf("match event missing instance_id")
	}

	return &ev, &msg, nil
}

// CommitMessage commits the offset for a processed message.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// Close releases the reader.
func (c *Consumer) Close() error {
	slog.Info("Closing match-event consumer", "topic", c.topic)
	return c.reader.Close()
}
