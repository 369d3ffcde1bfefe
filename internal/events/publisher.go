package events

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/jobs"
)

// Lifecycle event types.
const (
	EventAttempt   = "attempt"
	EventCompleted = "completed"
	EventRetrying  = "retrying"
	EventFailed    = "failed"
)

// JobEvent is one lifecycle transition of a processing attempt.
type JobEvent struct {
	JobID          string       `json:"job_id"`
	CorrelationID  string       `json:"correlation_id"`
	JobType        jobs.JobType `json:"job_type"`
	EventType      string       `json:"event_type"`
	Attempt        int          `json:"attempt,omitempty"`
	Error          string       `json:"error,omitempty"`
	Retryable      bool         `json:"retryable,omitempty"`
	NextRetryDelay int64        `json:"next_retry_delay_ms,omitempty"`
	DurationMS     int64        `json:"duration_ms,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// DeadLetterRecord captures a terminally failed job for manual intervention.
type DeadLetterRecord struct {
	JobID         string         `json:"job_id"`
	CorrelationID string         `json:"correlation_id"`
	JobType       jobs.JobType   `json:"job_type"`
	Envelope      *jobs.Envelope `json:"envelope"`
	Attempts      int            `json:"attempts"`
	Retryable     bool           `json:"retryable"`
	LastError     string         `json:"last_error,omitempty"`
	FailedAt      time.Time      `json:"failed_at"`
}

// Publisher emits job lifecycle events and dead-letter records to Kafka
// topics. It is strictly best-effort: callers log returned errors and move
// on, and a nil *Publisher silently discards everything so the audit stream
// can be switched off by configuration.
type Publisher struct {
	producer    SyncProducer
	eventsTopic string
	dlqTopic    string
	logger      zerolog.Logger
	now         func() time.Time
}

// NewPublisher constructs an event publisher over the supplied producer.
func NewPublisher(producer SyncProducer, eventsTopic, dlqTopic string, logger zerolog.Logger) *Publisher {
	if producer == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Publisher{
		producer:    producer,
		eventsTopic: eventsTopic,
		dlqTopic:    dlqTopic,
		logger:      logger.With().Str("component", "events-publisher").Logger(),
		now:         time.Now,
	}
}

// PublishJobEvent writes the event to the lifecycle topic, keyed by
// correlation id so one job's transitions stay in partition order.
func (p *Publisher) PublishJobEvent(_ context.Context, event JobEvent) error {
	if p == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events publisher: marshal job event: %w", err)
	}
	if err := p.producer.PublishSync(p.eventsTopic, []byte(event.CorrelationID), payload); err != nil {
		return fmt.Errorf("events publisher: publish job event: %w", err)
	}
	return nil
}

// PublishDeadLetter writes the record to the dead-letter topic.
func (p *Publisher) PublishDeadLetter(_ context.Context, record DeadLetterRecord) error {
	if p == nil {
		return nil
	}
	if record.FailedAt.IsZero() {
		record.FailedAt = p.now()
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("events publisher: marshal dead letter: %w", err)
	}
	if err := p.producer.PublishSync(p.dlqTopic, []byte(record.CorrelationID), payload); err != nil {
		return fmt.Errorf("events publisher: publish dead letter: %w", err)
	}
	return nil
}
