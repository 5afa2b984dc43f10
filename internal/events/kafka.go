package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaForwarder writes every event to a topic keyed by booking id, so one
// booking's events stay ordered within a partition.
type KafkaForwarder struct {
	writer *kafka.Writer
}

func NewKafkaForwarder(brokers []string, topic string) *KafkaForwarder {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaForwarder{writer: w}
}

func (k *KafkaForwarder) Handle(ctx context.Context, ev Event) error {
	b, err := Encode(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.BookingID), Value: b, Time: ev.OccurredAt})
}

func (k *KafkaForwarder) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
