package events

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// SyncProducer is the subset of producer behaviour the event publisher needs.
type SyncProducer interface {
	PublishSync(topic string, key []byte, payload []byte) error
	Close() error
}

// KafkaProducer wraps a Sarama sync producer configured for idempotent,
// fully-acknowledged writes. Lifecycle events are an audit trail, so losing
// one is tolerable but duplicating or reordering them is not.
type KafkaProducer struct {
	logger   zerolog.Logger
	client   sarama.Client
	producer sarama.SyncProducer
}

// NewKafkaProducer connects to the supplied brokers.
func NewKafkaProducer(brokers []string, logger zerolog.Logger) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events producer: at least one broker is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 6
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events producer: create client: %w", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("events producer: create sync producer: %w", err)
	}

	return &KafkaProducer{
		logger:   logger.With().Str("component", "events-producer").Logger(),
		client:   client,
		producer: producer,
	}, nil
}

// PublishSync publishes a message and waits for the broker acknowledgment.
func (p *KafkaProducer) PublishSync(topic string, key []byte, payload []byte) error {
	if topic == "" {
		return errors.New("events producer: topic is required")
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("events producer: send: %w", err)
	}
	return nil
}

// Close releases the producer and its client connection.
func (p *KafkaProducer) Close() error {
	var errs []error
	if err := p.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
