package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/session-coordinator/internal/models"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes ride events keyed by ride id, so one ride's
// events stay ordered within a partition.
type KafkaProducer struct {
	writer MessageWriter
}

// BatchTimeout bounds how long a synchronous write waits for a batch to
// fill. The journal writes one event per call.
const BatchTimeout = 10 * time.Millisecond

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w}
}

func NewKafkaProducerWith(w MessageWriter) *KafkaProducer {
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) RecordRide(ctx context.Context, ev models.RideEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.RideID),
		Value:   b,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(ev.Kind)}},
	})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// DecodeRideEvent parses a message produced by RecordRide.
func DecodeRideEvent(m kafka.Message) (models.RideEvent, error) {
	var ev models.RideEvent
	err := json.Unmarshal(m.Value, &ev)
	return ev, err
}
