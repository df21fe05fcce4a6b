// Package kafka publishes order lifecycle events to Kafka.
package kafka

import (
	"context"
	"encoding/json"

	"github.com/Shopify/sarama"
	"github.com/go-faster/errors"

	"github.com/xenking/giftbox-api/internal/domain/order"
)

var _ order.EventPublisher = (*Publisher)(nil)

// Publisher sends order events keyed by order id so a consumer sees the
// events of one order in sequence.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewConfig returns the producer configuration used by Dial.
func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

// Dial connects a synchronous producer to brokers.
func Dial(brokers []string, topic string) (*Publisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewConfig())
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	return NewPublisher(producer, topic), nil
}

// NewPublisher wraps an existing producer.
func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Publish implements order.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, e order.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.OrderID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.Type)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return errors.Wrapf(err, "send %s for %s", e.Type, e.OrderID)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
