package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-canteen-orders/internal/outbox"
)

// Producer writes synchronously so the outbox relay only marks a record sent
// once the brokers acknowledged it.
type Producer struct {
	w *kafka.Writer
}

// NewProducer builds a writer without a fixed topic; every message names its
// own topic.
func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteTimeout:           10 * time.Second,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	})
}

// PublishRecord satisfies outbox.Publisher. The record key keeps one
// seller's events on one partition, in order.
func (p *Producer) PublishRecord(ctx context.Context, rec outbox.Record) error {
	return p.Publish(ctx, rec.Topic, []byte(rec.Key), rec.Payload, RecordHeaders(rec)...)
}

func (p *Producer) Close() error { return p.w.Close() }

func RecordHeaders(rec outbox.Record) []kafka.Header {
	return []kafka.Header{
		{Key: "event_id", Value: []byte(rec.EventID)},
		{Key: "event_type", Value: []byte(rec.EventType)},
	}
}
