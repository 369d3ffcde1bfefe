package server

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/events"
	"github.com/example/profile-provisioning/internal/handlers"
	"github.com/example/profile-provisioning/internal/jobs"
	"github.com/example/profile-provisioning/internal/processor"
	"github.com/example/profile-provisioning/internal/queue"
)

// endpointTypes maps processor endpoint names to the job type each one
// accepts. An endpoint outside this map is a 404.
var endpointTypes = map[string]jobs.JobType{
	handlers.EndpointProfiles: jobs.TypeProcessProfile,
	handlers.EndpointEmails:   jobs.TypeSendEmail,
	handlers.EndpointQRCodes:  jobs.TypeGenerateQRCode,
	handlers.EndpointCache:    jobs.TypeUpdateCache,
	handlers.EndpointPayments: jobs.TypeProcessPaymentWebhook,
}

// EndpointFor returns the processor endpoint serving the given job type.
func EndpointFor(t jobs.JobType) string {
	for endpoint, jobType := range endpointTypes {
		if jobType == t {
			return endpoint
		}
	}
	return ""
}

// RetryPublisher is the slice of the queue publisher the dispatcher needs:
// delayed re-publication of retrying envelopes plus message management.
type RetryPublisher interface {
	PublishDelayedJob(ctx context.Context, env *jobs.Envelope, endpoint string, delay time.Duration, correlationID string) (*queue.PublishResult, error)
	GetJobStatus(ctx context.Context, messageID string) (*queue.MessageStatus, error)
	CancelJob(ctx context.Context, messageID string) (bool, error)
}

// Dispatcher terminates queue deliveries. It picks the processor for the
// endpoint, runs one attempt and translates the outcome into a status code
// the queue understands: 2xx acknowledges, anything else is the queue's
// problem only when transport retries are in play, which they are not here,
// so a retrying job is explicitly re-published with its backoff delay before
// 503 is returned.
type Dispatcher struct {
	processors map[jobs.JobType]*processor.Processor
	publisher  RetryPublisher
	events     *events.Publisher
	logger     zerolog.Logger
}

// NewDispatcher wires the dispatch layer. The events publisher may be nil.
func NewDispatcher(processors map[jobs.JobType]*processor.Processor, publisher RetryPublisher, ev *events.Publisher, logger zerolog.Logger) *Dispatcher {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Dispatcher{
		processors: processors,
		publisher:  publisher,
		events:     ev,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
	}
}

// HandleProcess serves POST /api/processors/:name.
func (d *Dispatcher) HandleProcess(c *gin.Context) {
	endpoint := c.Param("name")
	jobType, ok := endpointTypes[endpoint]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown processor endpoint"})
		return
	}

	var env jobs.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job envelope"})
		return
	}
	if env.Type != jobType {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job type does not match endpoint"})
		return
	}
	if env.CorrelationID == "" {
		env.CorrelationID = c.GetHeader(queue.CorrelationHeader)
	}

	proc, ok := d.processors[jobType]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no processor registered for job type"})
		return
	}

	ctx := c.Request.Context()
	result := proc.Process(ctx, &env, processor.Overrides{})
	if env.CorrelationID == "" {
		// The processor generated an id for this attempt. Adopt it so the
		// re-published envelope and the audit trail share it.
		env.CorrelationID = result.CorrelationID
	}
	d.publishLifecycle(ctx, &env, result)

	switch result.Status {
	case processor.StatusCompleted:
		c.JSON(http.StatusOK, gin.H{
			"status":  string(result.Status),
			"jobId":   result.JobID,
			"attempt": result.Attempt,
			"output":  result.Output,
		})

	case processor.StatusRetrying:
		next := env.NextAttempt()
		if _, err := d.publisher.PublishDelayedJob(ctx, next, endpoint, result.NextRetryDelay, env.CorrelationID); err != nil {
			// The retry could not be scheduled. Surface a 500 so the
			// delivery is visibly broken rather than silently dropped.
			d.logger.Error().Err(err).
				Str("job_id", result.JobID).
				Str("job_type", string(env.Type)).
				Msg("failed to re-publish retrying job")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule retry"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":      string(result.Status),
			"jobId":       result.JobID,
			"attempt":     result.Attempt,
			"nextRetryMs": result.NextRetryDelay.Milliseconds(),
			"error":       errString(result.Err),
		})

	default: // StatusFailed
		d.publishDeadLetter(ctx, &env, result)
		code := http.StatusUnprocessableEntity
		if processor.IsValidation(result.Err) {
			code = http.StatusBadRequest
		}
		c.JSON(code, gin.H{
			"status":  string(result.Status),
			"jobId":   result.JobID,
			"attempt": result.Attempt,
			"error":   errString(result.Err),
		})
	}
}

// HandleJobStatus serves GET /api/jobs/:id.
func (d *Dispatcher) HandleJobStatus(c *gin.Context) {
	status, err := d.publisher.GetJobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "queue status lookup failed"})
		return
	}
	if status == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown message id"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleJobCancel serves DELETE /api/jobs/:id.
func (d *Dispatcher) HandleJobCancel(c *gin.Context) {
	cancelled, err := d.publisher.CancelJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "queue cancel failed"})
		return
	}
	if !cancelled {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown message id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (d *Dispatcher) publishLifecycle(ctx context.Context, env *jobs.Envelope, result processor.Result) {
	eventType := events.EventCompleted
	switch result.Status {
	case processor.StatusRetrying:
		eventType = events.EventRetrying
	case processor.StatusFailed:
		eventType = events.EventFailed
	}

	err := d.events.PublishJobEvent(ctx, events.JobEvent{
		JobID:          result.JobID,
		CorrelationID:  env.CorrelationID,
		JobType:        env.Type,
		EventType:      eventType,
		Attempt:        result.Attempt,
		Error:          errString(result.Err),
		Retryable:      result.Retryable,
		NextRetryDelay: result.NextRetryDelay.Milliseconds(),
		DurationMS:     result.Duration.Milliseconds(),
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", result.JobID).Msg("lifecycle event publish failed")
	}
}

func (d *Dispatcher) publishDeadLetter(ctx context.Context, env *jobs.Envelope, result processor.Result) {
	err := d.events.PublishDeadLetter(ctx, events.DeadLetterRecord{
		JobID:         result.JobID,
		CorrelationID: env.CorrelationID,
		JobType:       env.Type,
		Envelope:      env,
		Attempts:      result.Attempt,
		Retryable:     result.Retryable,
		LastError:     errString(result.Err),
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", result.JobID).Msg("dead letter publish failed")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
