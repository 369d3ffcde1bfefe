package handlers

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/cache"
	"github.com/example/profile-provisioning/internal/email"
	"github.com/example/profile-provisioning/internal/jobs"
	"github.com/example/profile-provisioning/internal/payments"
	"github.com/example/profile-provisioning/internal/processor"
	"github.com/example/profile-provisioning/internal/qrcode"
	"github.com/example/profile-provisioning/internal/queue"
	"github.com/example/profile-provisioning/internal/storage"
)

// JobPublisher is the slice of the queue publisher the handlers use to chain
// follow-up jobs.
type JobPublisher interface {
	PublishJobWithRetry(ctx context.Context, env *jobs.Envelope, endpoint string, maxRetries int, correlationID string) (*queue.PublishResult, error)
}

// Dependencies collects the external collaborators shared by the domain
// handlers.
type Dependencies struct {
	Store     storage.Store
	Cache     cache.Cache
	Email     email.Sender
	QR        qrcode.Generator
	Gateway   payments.Gateway
	Publisher JobPublisher
	Logger    zerolog.Logger
	// PublicBaseURL is the base URL encoded into profile QR codes.
	PublicBaseURL string
	CacheTTL      time.Duration
	// MaxRetries is the application retry budget applied to chained jobs.
	MaxRetries int
	Now        func() time.Time
}

func (d *Dependencies) normalize() error {
	if d.Store == nil {
		return errors.New("handlers: document store dependency is required")
	}
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	if d.Email == nil {
		return errors.New("handlers: email sender dependency is required")
	}
	if d.QR == nil {
		return errors.New("handlers: qr generator dependency is required")
	}
	if d.Publisher == nil {
		return errors.New("handlers: job publisher dependency is required")
	}
	if reflect.ValueOf(d.Logger).IsZero() {
		d.Logger = zerolog.Nop()
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = time.Hour
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = 3
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return nil
}

// NewRegistry builds one handler per job type. The returned map covers the
// complete taxonomy; the dispatch layer refuses envelopes whose type has no
// entry.
func NewRegistry(deps Dependencies) (map[jobs.JobType]processor.Handler, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	if deps.Gateway == nil {
		return nil, errors.New("handlers: payment gateway dependency is required")
	}

	return map[jobs.JobType]processor.Handler{
		jobs.TypeProcessProfile:        NewProfileHandler(deps),
		jobs.TypeSendEmail:             NewEmailHandler(deps),
		jobs.TypeGenerateQRCode:        NewQRCodeHandler(deps),
		jobs.TypeUpdateCache:           NewCacheHandler(deps),
		jobs.TypeProcessPaymentWebhook: NewPaymentWebhookHandler(deps),
	}, nil
}
