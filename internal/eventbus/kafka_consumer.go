package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/matthewbaird/schemacanvas/internal/activity"
	"github.com/matthewbaird/schemacanvas/internal/event"
)

// DefaultKafkaTopic receives canvas events when no topic is configured.
const DefaultKafkaTopic = "schemacanvas.canvas-events"

// KafkaConfig holds Kafka producer configuration.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer forwards graph and sync events to a Kafka topic, keyed by
// project so one project's events stay ordered. Pointer and interaction
// events are not forwarded.
type KafkaConsumer struct {
	writer messageWriter
}

// NewKafkaConsumer creates a consumer writing to cfg.Topic.
func NewKafkaConsumer(cfg KafkaConfig) *KafkaConsumer {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaConsumer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (c *KafkaConsumer) HandleEvent(ctx context.Context, evt event.CanvasEvent) error {
	if !activity.Recorded(evt) {
		return nil
	}

	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.ProjectID),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
		},
	})
}

// Close flushes and closes the writer.
func (c *KafkaConsumer) Close() error {
	return c.writer.Close()
}
