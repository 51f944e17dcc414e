package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes notification events to a Kafka topic so other
// services (mail, analytics) can consume them. Delivery here is the same
// best-effort contract as the rest of the fan-out path.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Publish writes one notification event, keyed by user id so per-user
// ordering is preserved. A nil publisher skips silently.
func (p *KafkaPublisher) Publish(ctx context.Context, n Notification) error {
	if p == nil || p.writer == nil {
		return nil
	}

	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshalling notification event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(n.UserID, 10)),
		Value: value,
		Time:  n.CreatedAt,
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
