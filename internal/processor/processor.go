package processor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/jobs"
)

// Status is the terminal-or-not outcome of one processing attempt.
type Status string

const (
	// StatusCompleted means the attempt succeeded. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the attempt failed and no further attempts will
	// help (non-retryable error or retry budget exhausted). Terminal.
	StatusFailed Status = "failed"
	// StatusRetrying means the attempt failed with a retryable error and the
	// budget allows another attempt. The caller re-publishes the envelope
	// with RetryCount incremented after NextRetryDelay; the processor itself
	// never touches the queue.
	StatusRetrying Status = "retrying"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
)

// ProcessingContext is the per-attempt bookkeeping handed to handlers. It is
// created at the start of each call and discarded at the end, never persisted.
type ProcessingContext struct {
	JobID         string
	CorrelationID string
	Attempt       int
	MaxRetries    int
	StartTime     time.Time
	Timeout       time.Duration
}

// Result is the structured outcome of one processing attempt. Every failure
// mode is represented as data; Process never panics and never lets a handler
// error escape.
type Result struct {
	Success bool
	Status  Status
	JobID   string
	// CorrelationID is the id the attempt ran under. When the envelope
	// arrived without one it is generated here, and callers re-publishing
	// the envelope must carry it forward so all attempts of one logical
	// job stay traceable.
	CorrelationID  string
	Attempt        int
	Duration       time.Duration
	Output         any
	Err            error
	Retryable      bool
	NextRetryDelay time.Duration
}

// Handler executes the domain logic for one job type. Validate runs before
// execution and its failures are terminal; Execute performs the side effects
// and must be idempotent with respect to correlation-id scoped re-delivery.
type Handler interface {
	JobType() jobs.JobType
	Validate(env *jobs.Envelope) error
	Execute(ctx context.Context, pctx *ProcessingContext, env *jobs.Envelope) (any, error)
}

// Overrides adjusts per-call limits, typically from transport hints.
type Overrides struct {
	// Timeout replaces the processor default when > 0. A negative value
	// disables the timeout entirely and execution runs unbounded.
	Timeout time.Duration
	// MaxRetries replaces the envelope budget when > 0.
	MaxRetries int
}

// Config holds the static settings of a Processor.
type Config struct {
	// Name tags job ids and log lines, e.g. "profile-processor".
	Name string
	// DefaultTimeout bounds domain execution when neither the override nor
	// the envelope supplies one. Zero means 30s.
	DefaultTimeout time.Duration
	// DefaultMaxRetries applies when the envelope carries no budget.
	// Zero means 3.
	DefaultMaxRetries int
}

// Dependencies collects the collaborators of a Processor. Only Handler is
// required; the rest default to production implementations.
type Dependencies struct {
	Handler Handler
	Backoff *BackoffPolicy
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Processor is the retry engine. It owns validation, the timeout race,
// error classification and the retry decision for a single job type, and is
// stateless between invocations: all cross-attempt state travels inside the
// re-published envelope.
type Processor struct {
	cfg     Config
	handler Handler
	backoff *BackoffPolicy
	logger  zerolog.Logger
	now     func() time.Time
}

// New constructs a Processor for one job type.
func New(cfg Config, deps Dependencies) (*Processor, error) {
	if deps.Handler == nil {
		return nil, errors.New("processor: handler dependency is required")
	}
	if cfg.Name == "" {
		cfg.Name = string(deps.Handler.JobType())
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = defaultMaxRetries
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("processor", cfg.Name).Logger()

	backoff := deps.Backoff
	if backoff == nil {
		backoff = NewBackoffPolicy()
	}

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Processor{
		cfg:     cfg,
		handler: deps.Handler,
		backoff: backoff,
		logger:  logger,
		now:     nowFunc,
	}, nil
}

// Process runs one attempt of the supplied envelope. The returned Result is
// always well formed; errors are classified and folded into it rather than
// returned. Re-queueing a StatusRetrying result is the caller's job.
func (p *Processor) Process(ctx context.Context, env *jobs.Envelope, ov Overrides) Result {
	start := p.now()

	if env == nil || env.Type == "" {
		err := WrapValidation(errors.New("job envelope is missing a jobType"))
		p.logger.Error().Err(err).Msg("envelope rejected")
		return Result{Status: StatusFailed, Err: err, Duration: p.now().Sub(start)}
	}

	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
		p.logger.Warn().
			Str("job_type", string(env.Type)).
			Str("generated_correlation_id", correlationID).
			Msg("envelope has no correlation id")
	}

	pctx := p.buildContext(env, correlationID, start, ov)

	log := p.logger.With().
		Str("job_id", pctx.JobID).
		Str("job_type", string(env.Type)).
		Str("correlation_id", correlationID).
		Int("attempt", pctx.Attempt).
		Int("max_retries", pctx.MaxRetries).
		Logger()

	log.Info().Msg("processing job")

	if err := p.handler.Validate(env); err != nil {
		err = WrapValidation(err)
		log.Error().Err(err).Msg("job validation failed")
		return p.failure(pctx, err, p.now().Sub(start), log)
	}

	output, err := p.race(ctx, pctx, env)
	duration := p.now().Sub(start)

	if err != nil {
		return p.failure(pctx, err, duration, log)
	}

	log.Info().Dur("duration", duration).Msg("job completed")
	return Result{
		Success:       true,
		Status:        StatusCompleted,
		JobID:         pctx.JobID,
		CorrelationID: pctx.CorrelationID,
		Attempt:       pctx.Attempt,
		Duration:      duration,
		Output:        output,
	}
}

func (p *Processor) buildContext(env *jobs.Envelope, correlationID string, start time.Time, ov Overrides) *ProcessingContext {
	maxRetries := env.MaxRetries
	if ov.MaxRetries > 0 {
		maxRetries = ov.MaxRetries
	}
	if maxRetries <= 0 {
		maxRetries = p.cfg.DefaultMaxRetries
	}

	timeout := p.cfg.DefaultTimeout
	if ov.Timeout > 0 {
		timeout = ov.Timeout
	} else if ov.Timeout < 0 {
		timeout = 0
	}

	return &ProcessingContext{
		JobID:         newJobID(p.cfg.Name, env.Type, start),
		CorrelationID: correlationID,
		Attempt:       env.RetryCount + 1,
		MaxRetries:    maxRetries,
		StartTime:     start,
		Timeout:       timeout,
	}
}

type execOutcome struct {
	output any
	err    error
}

// race executes the handler against a timer. When the timer fires first the
// attempt is abandoned with ErrTimeout, but the handler goroutine keeps
// running: no cancellation is propagated, so a timed-out external call may
// still complete later. Idempotent handlers must account for that.
func (p *Processor) race(ctx context.Context, pctx *ProcessingContext, env *jobs.Envelope) (any, error) {
	done := make(chan execOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execOutcome{err: WrapPermanent(fmt.Errorf("handler panicked: %v", r))}
			}
		}()
		output, err := p.handler.Execute(ctx, pctx, env)
		done <- execOutcome{output: output, err: err}
	}()

	if pctx.Timeout <= 0 {
		select {
		case outcome := <-done:
			return outcome.output, outcome.err
		case <-ctx.Done():
			return nil, WrapTransient(ctx.Err())
		}
	}

	timer := time.NewTimer(pctx.Timeout)
	defer timer.Stop()

	select {
	case outcome := <-done:
		return outcome.output, outcome.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrTimeout, pctx.Timeout)
	case <-ctx.Done():
		return nil, WrapTransient(ctx.Err())
	}
}

func (p *Processor) failure(pctx *ProcessingContext, err error, duration time.Duration, log zerolog.Logger) Result {
	retryable := Retryable(err)
	shouldRetry := retryable && pctx.Attempt < pctx.MaxRetries

	result := Result{
		Status:        StatusFailed,
		JobID:         pctx.JobID,
		CorrelationID: pctx.CorrelationID,
		Attempt:       pctx.Attempt,
		Duration:      duration,
		Err:           err,
		Retryable:     retryable,
	}

	if shouldRetry {
		result.Status = StatusRetrying
		result.NextRetryDelay = p.backoff.Delay(pctx.Attempt)
		log.Warn().
			Err(err).
			Dur("duration", duration).
			Dur("next_retry_delay", result.NextRetryDelay).
			Msg("job failed, retry scheduled")
		return result
	}

	log.Error().
		Err(err).
		Dur("duration", duration).
		Bool("retryable", retryable).
		Msg("job failed terminally")
	return result
}

func newJobID(processor string, jobType jobs.JobType, start time.Time) string {
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%s-%d-%s", processor, jobType, start.UnixMilli(), suffix)
}
