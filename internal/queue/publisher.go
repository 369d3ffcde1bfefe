package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/jobs"
)

// CorrelationHeader carries the correlation id end to end: the publisher
// forwards it with every delivery and the processor endpoints read it back.
const CorrelationHeader = "X-Correlation-Id"

const defaultDedupWindow = time.Minute

// JobOptions tunes a single publish call.
type JobOptions struct {
	// Delay postpones the first delivery attempt.
	Delay time.Duration
	// Retries sets the transport-level redelivery count. The envelope's
	// RetryCount/MaxRetries budget is authoritative for the pipeline, so
	// processor deliveries leave this at zero and redelivery happens only
	// through explicit delayed re-publication.
	Retries int
	// DeduplicationID collapses duplicate publishes inside the queue's
	// dedup window.
	DeduplicationID string
}

// PublishResult reports where a job was sent and under which message handle.
type PublishResult struct {
	MessageID    string
	URL          string
	Deduplicated bool
}

// Publisher hands job envelopes to the durable queue for at-least-once HTTP
// delivery to this service's processor endpoints.
type Publisher struct {
	client      Client
	deliveryURL string
	dedupWindow time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewPublisher constructs a Publisher delivering to
// {publicBaseURL}/api/processors/{endpoint}.
func NewPublisher(client Client, publicBaseURL string, dedupWindow time.Duration, logger zerolog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("publisher: queue client is required")
	}
	if publicBaseURL == "" {
		return nil, errors.New("publisher: public base url is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	if dedupWindow <= 0 {
		dedupWindow = defaultDedupWindow
	}
	return &Publisher{
		client:      client,
		deliveryURL: publicBaseURL + "/api/processors",
		dedupWindow: dedupWindow,
		logger:      logger.With().Str("component", "job-publisher").Logger(),
		now:         time.Now,
	}, nil
}

// PublishJob submits the envelope for delivery to the named processor
// endpoint. Publish failures are logged and returned; the publisher never
// retries internally, the caller decides whether a failed submission is fatal
// to the triggering request.
func (p *Publisher) PublishJob(ctx context.Context, env *jobs.Envelope, endpoint string, opts JobOptions, correlationID string) (*PublishResult, error) {
	if endpoint == "" {
		return nil, errors.New("publisher: target endpoint is required")
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("publisher: invalid envelope: %w", err)
	}
	if correlationID == "" {
		correlationID = env.CorrelationID
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("publisher: marshal envelope: %w", err)
	}

	target := fmt.Sprintf("%s/%s", p.deliveryURL, endpoint)
	msg, err := p.client.Publish(ctx, body, PublishOptions{
		URL:             target,
		Headers:         map[string]string{CorrelationHeader: correlationID},
		Delay:           opts.Delay,
		Retries:         opts.Retries,
		DeduplicationID: opts.DeduplicationID,
	})
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("job_type", string(env.Type)).
			Str("correlation_id", correlationID).
			Str("target", target).
			Msg("job publish failed")
		return nil, err
	}

	p.logger.Info().
		Str("job_type", string(env.Type)).
		Str("correlation_id", correlationID).
		Str("message_id", msg.MessageID).
		Str("target", target).
		Bool("deduplicated", msg.Deduplicated).
		Int("retry_count", env.RetryCount).
		Msg("job published")

	return &PublishResult{MessageID: msg.MessageID, URL: target, Deduplicated: msg.Deduplicated}, nil
}

// PublishJobWithRetry publishes with an application retry budget and a
// deduplication key derived from the job type, correlation id and the current
// dedup-window bucket, so re-publishing the same logical job inside one
// window collapses to a single delivery.
func (p *Publisher) PublishJobWithRetry(ctx context.Context, env *jobs.Envelope, endpoint string, maxRetries int, correlationID string) (*PublishResult, error) {
	if maxRetries > 0 {
		bounded := *env
		bounded.MaxRetries = maxRetries
		env = &bounded
	}
	if correlationID == "" {
		correlationID = env.CorrelationID
	}
	return p.PublishJob(ctx, env, endpoint, JobOptions{
		DeduplicationID: p.dedupKey(env.Type, correlationID),
	}, correlationID)
}

// PublishDelayedJob publishes with only a delivery delay. The dispatch layer
// uses this to re-publish retrying jobs after their computed backoff.
func (p *Publisher) PublishDelayedJob(ctx context.Context, env *jobs.Envelope, endpoint string, delay time.Duration, correlationID string) (*PublishResult, error) {
	return p.PublishJob(ctx, env, endpoint, JobOptions{Delay: delay}, correlationID)
}

// GetJobStatus is a pass-through status query. A forgotten message id yields
// nil, nil: job status is inherently best-effort.
func (p *Publisher) GetJobStatus(ctx context.Context, messageID string) (*MessageStatus, error) {
	return p.client.GetMessage(ctx, messageID)
}

// CancelJob cancels a pending delivery; false, nil when the queue no longer
// knows the message.
func (p *Publisher) CancelJob(ctx context.Context, messageID string) (bool, error) {
	return p.client.DeleteMessage(ctx, messageID)
}

func (p *Publisher) dedupKey(t jobs.JobType, correlationID string) string {
	bucket := p.now().Unix() / int64(p.dedupWindow/time.Second)
	return fmt.Sprintf("%s-%s-%d", t, correlationID, bucket)
}
