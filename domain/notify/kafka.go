package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const DefaultKafkaTopic = "user-matchmaking"

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes every notification to a topic keyed by user id,
// so a user's events stay ordered within one partition.
type KafkaNotifier struct {
	writer MessageWriter
}

type kafkaEnvelope struct {
	UserID  string      `json:"userId"`
	Event   Event       `json:"event"`
	Payload interface{} `json:"payload"`
	SentAt  int64       `json:"sentAtMs"`
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
}

func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (k *KafkaNotifier) Notify(ctx context.Context, userID string, event Event, payload interface{}) error {
	value, err := json.Marshal(kafkaEnvelope{
		UserID:  userID,
		Event:   event,
		Payload: payload,
		SentAt:  time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode %s for %s: %w", event, userID, err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(userID),
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(event)}},
	})
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", event, userID, err)
	}
	return nil
}
