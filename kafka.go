package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// KafkaHeaderBuilder builds Kafka message headers for an event.
type KafkaHeaderBuilder func(event *Event) []kafka.Header

// KafkaRelay is a Subscriber that forwards events to Kafka. Each invocation
// produces one message and waits for its delivery report, so the crawler
// records a definite per-event outcome.
type KafkaRelay struct {
	id            string
	logger        *zap.Logger
	producer      *kafka.Producer
	producerProps kafka.ConfigMap
	defaultTopic  string
	headerBuilder KafkaHeaderBuilder
}

// KafkaRelayOption configures a KafkaRelay.
type KafkaRelayOption func(*KafkaRelay)

// WithKafkaProducerProps merges extra producer properties over the defaults.
func WithKafkaProducerProps(props kafka.ConfigMap) KafkaRelayOption {
	return func(r *KafkaRelay) {
		for k, v := range props {
			r.producerProps[k] = v
		}
	}
}

// WithKafkaDefaultTopic sets the Kafka topic events are produced to.
func WithKafkaDefaultTopic(topic string) KafkaRelayOption {
	return func(r *KafkaRelay) {
		r.defaultTopic = topic
	}
}

// WithKafkaHeaderBuilder replaces the default header builder.
func WithKafkaHeaderBuilder(builder KafkaHeaderBuilder) KafkaRelayOption {
	return func(r *KafkaRelay) {
		r.headerBuilder = builder
	}
}

// NewKafkaRelay creates a KafkaRelay identified by id in recorded subscriber
// failures.
func NewKafkaRelay(id string, logger *zap.Logger, opts ...KafkaRelayOption) (*KafkaRelay, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &KafkaRelay{
		id:     id,
		logger: logger,
		producerProps: kafka.ConfigMap{
			"acks":               "all",
			"retries":            3,
			"linger.ms":          10,
			"enable.idempotence": true,
			"compression.type":   "snappy",
		},
		defaultTopic:  "outbox-events",
		headerBuilder: buildKafkaHeaders,
	}
	for _, opt := range opts {
		opt(r)
	}

	producer, err := kafka.NewProducer(&r.producerProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	r.producer = producer

	return r, nil
}

// ID implements Subscriber.
func (r *KafkaRelay) ID() string {
	return r.id
}

// Handle implements Subscriber. It produces the event and blocks until the
// delivery report arrives or the delivery deadline in ctx expires.
func (r *KafkaRelay) Handle(ctx context.Context, event *Event) error {
	topic := r.defaultTopic

	r.logger.Debug("Relaying event to Kafka",
		zap.String("event_id", event.ID),
		zap.String("event_topic", string(event.Topic)),
		zap.String("kafka_topic", topic),
	)

	deliveryChan := make(chan kafka.Event, 1)
	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.ID),
		Value:          event.Payload,
		Headers:        r.headerBuilder(event),
		Timestamp:      event.OccurredAt,
	}

	if err := r.producer.Produce(message, deliveryChan); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event: %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes the producer and closes the Kafka connection.
func (r *KafkaRelay) Close() error {
	r.logger.Info("Closing kafka producer")
	r.producer.Flush(int((15 * time.Second).Milliseconds()))
	r.producer.Close()
	return nil
}

// buildKafkaHeaders is the default header builder.
func buildKafkaHeaders(event *Event) []kafka.Header {
	return []kafka.Header{
		{Key: "event_id", Value: []byte(event.ID)},
		{Key: "topic", Value: []byte(event.Topic)},
		{Key: "occurred_at", Value: []byte(event.OccurredAt.UTC().Format(time.RFC3339Nano))},
	}
}
