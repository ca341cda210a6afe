package runtime

import (
	"context"
	"encoding/json"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"

	"github.com/golemfactory/evmpay/events"
)

// KafkaEventSink bridges the caller-facing event stream of spec §6 onto a
// Kafka topic, for callers that want the stream durable and fanned out
// beyond this process rather than consumed in-process via
// Runtime.Subscribe. Wiring one in is optional: New works without it.
type KafkaEventSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaEventSink connects a synchronous producer to brokers. The
// caller owns the returned sink's lifetime: launch Run in its own
// goroutine and Close it on shutdown.
func NewKafkaEventSink(brokers []string, topic string) (*KafkaEventSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "runtime: connect kafka producer")
	}
	return &KafkaEventSink{producer: producer, topic: topic}, nil
}

// Run publishes every event read from in as a JSON message until in is
// closed or ctx is cancelled.
func (k *KafkaEventSink) Run(ctx context.Context, in <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			k.publish(e)
		}
	}
}

func (k *KafkaEventSink) publish(e events.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		logger.Warn("failed to marshal event for kafka", "kind", e.Kind, "err", err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(e.Kind),
		Value: sarama.ByteEncoder(body),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		logger.Warn("failed to publish event to kafka", "kind", e.Kind, "err", err)
	}
}

// Close releases the underlying producer connection.
func (k *KafkaEventSink) Close() error {
	return k.producer.Close()
}
