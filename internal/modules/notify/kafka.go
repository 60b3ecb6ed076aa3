// README: Publishes every notification to the move event stream.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"movedispatch/internal/types"
)

// KafkaPublisher writes asynchronously; delivery errors are logged by the
// writer's completion callback.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	l := log.With().Str("component", "kafka").Logger()
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				l.Warn().Err(err).Int("messages", len(messages)).Msg("publish failed")
			}
		},
	}
	return &KafkaPublisher{writer: w, log: l}
}

func (k *KafkaPublisher) Notify(ctx context.Context, userID types.ID, event string, payload any) {
	b, err := json.Marshal(Message{Type: event, UserID: userID, Data: payload, At: time.Now().UTC()})
	if err != nil {
		k.log.Error().Err(err).Str("event", event).Msg("encode message")
		return
	}
	// keyed by user so one user's events stay ordered within a partition
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(userID), Value: b}); err != nil {
		k.log.Warn().Err(err).Str("event", event).Msg("enqueue message")
	}
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
