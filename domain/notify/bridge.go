package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/segmentio/kafka-go"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// BridgeGroupID names the consumer group of one api instance. Each instance
// needs its own group so it sees every event for the sockets it holds, and
// the name must survive restarts so the broker does not accumulate groups.
// An empty configured value falls back to the hostname.
func BridgeGroupID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return "rally-socket-" + host
}

// NewKafkaBridgeReader reads the notification topic from the newest offset
// under a stable per-instance consumer group.
func NewKafkaBridgeReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    1 << 20,
	})
}

// Bridge replays events published by worker processes onto a local
// notifier, typically the socket.io server of an api process.
type Bridge struct {
	reader MessageReader
	target Notifier
	logger *slog.Logger
}

func NewBridge(reader MessageReader, target Notifier, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{reader: reader, target: target, logger: logger}
}

// Run blocks until ctx is cancelled or the reader fails.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		var env struct {
			UserID  string          `json:"userId"`
			Event   Event           `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(msg.Value, &env); err != nil || env.UserID == "" {
			b.logger.Warn("skipping malformed notification", "offset", msg.Offset, "error", err)
			continue
		}
		Send(ctx, b.logger, b.target, env.UserID, env.Event, env.Payload)
	}
}
