package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/handlers"
	"github.com/example/profile-provisioning/internal/jobs"
	"github.com/example/profile-provisioning/internal/queue"
)

type publisherStub struct {
	envelopes []*jobs.Envelope
	endpoints []string
	err       error
}

func (p *publisherStub) PublishJobWithRetry(ctx context.Context, env *jobs.Envelope, endpoint string, maxRetries int, correlationID string) (*queue.PublishResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.envelopes = append(p.envelopes, env)
	p.endpoints = append(p.endpoints, endpoint)
	return &queue.PublishResult{MessageID: "msg-1"}, nil
}

type dedupStub struct {
	seen map[string]bool
	err  error
}

func (d *dedupStub) Get(context.Context, string) (string, bool, error) { return "", false, nil }

func (d *dedupStub) Set(context.Context, string, string, time.Duration) error { return nil }

func (d *dedupStub) Invalidate(_ context.Context, pattern string) error {
	delete(d.seen, pattern)
	return nil
}

func (d *dedupStub) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func newTestHandler(publisher *publisherStub, dedup *dedupStub, now time.Time) *Handler {
	verifier := NewVerifier(testSecret, 0).WithClock(func() time.Time { return now })
	return NewHandler(verifier, publisher, dedup, zerolog.New(io.Discard), time.Hour, 3)
}

func performWebhook(h *Handler, dataID, requestID, signature, body string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/webhooks/payment", h.HandlePayment)

	target := "/api/webhooks/payment"
	if dataID != "" {
		target = fmt.Sprintf("%s?data.id=%s", target, dataID)
	}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlePaymentAcceptsSignedNotification(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	publisher := &publisherStub{}
	h := newTestHandler(publisher, &dedupStub{}, now)

	sig := signedHeader(t, testSecret, "pay-1", "req-1", now.Unix())
	rec := performWebhook(h, "pay-1", "req-1", sig, `{"type":"payment","action":"payment.updated"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	if len(publisher.envelopes) != 1 {
		t.Fatalf("expected one published job, got %d", len(publisher.envelopes))
	}
	env := publisher.envelopes[0]
	if env.Type != jobs.TypeProcessPaymentWebhook {
		t.Fatalf("unexpected job type %s", env.Type)
	}
	if env.CorrelationID != "req-1" {
		t.Fatalf("expected request id as correlation id, got %q", env.CorrelationID)
	}
	if publisher.endpoints[0] != handlers.EndpointPayments {
		t.Fatalf("unexpected endpoint %q", publisher.endpoints[0])
	}
}

func TestHandlePaymentRejectsInvalidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	publisher := &publisherStub{}
	h := newTestHandler(publisher, &dedupStub{}, now)

	sig := signedHeader(t, "wrong-secret", "pay-1", "req-1", now.Unix())
	rec := performWebhook(h, "pay-1", "req-1", sig, `{"type":"payment"}`)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(publisher.envelopes) != 0 {
		t.Fatalf("rejected notification must not publish jobs, got %d", len(publisher.envelopes))
	}
}

func TestHandlePaymentRequiresPaymentID(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	publisher := &publisherStub{}
	h := newTestHandler(publisher, &dedupStub{}, now)

	rec := performWebhook(h, "", "req-1", "ts=1,v1=aa", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePaymentReadsPaymentIDFromBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	publisher := &publisherStub{}
	h := newTestHandler(publisher, &dedupStub{}, now)

	sig := signedHeader(t, testSecret, "pay-9", "req-1", now.Unix())
	rec := performWebhook(h, "", "req-1", sig, `{"type":"payment","data":{"id":"pay-9"}}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	if len(publisher.envelopes) != 1 {
		t.Fatalf("expected one published job, got %d", len(publisher.envelopes))
	}
}

func TestHandlePaymentDeduplicatesNotifications(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	publisher := &publisherStub{}
	dedup := &dedupStub{}
	h := newTestHandler(publisher, dedup, now)

	sig := signedHeader(t, testSecret, "pay-1", "req-1", now.Unix())
	first := performWebhook(h, "pay-1", "req-1", sig, `{"type":"payment"}`)
	second := performWebhook(h, "pay-1", "req-1", sig, `{"type":"payment"}`)

	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Fatalf("expected both deliveries to be acknowledged, got %d and %d", first.Code, second.Code)
	}
	if len(publisher.envelopes) != 1 {
		t.Fatalf("expected a single published job across duplicates, got %d", len(publisher.envelopes))
	}
}

func TestHandlePaymentContinuesWhenDedupFails(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	publisher := &publisherStub{}
	h := newTestHandler(publisher, &dedupStub{err: errors.New("redis down")}, now)

	sig := signedHeader(t, testSecret, "pay-1", "req-1", now.Unix())
	rec := performWebhook(h, "pay-1", "req-1", sig, `{"type":"payment"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 despite dedup outage, got %d", rec.Code)
	}
	if len(publisher.envelopes) != 1 {
		t.Fatalf("expected job to be published despite dedup outage, got %d", len(publisher.envelopes))
	}
}

func TestHandlePaymentIgnoresNonPaymentTypes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	publisher := &publisherStub{}
	h := newTestHandler(publisher, &dedupStub{}, now)

	sig := signedHeader(t, testSecret, "pay-1", "req-1", now.Unix())
	rec := performWebhook(h, "pay-1", "req-1", sig, `{"type":"subscription"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for ignored type, got %d", rec.Code)
	}
	if len(publisher.envelopes) != 0 {
		t.Fatalf("ignored notifications must not publish jobs")
	}
}

func TestHandlePaymentSurfacesPublishFailure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	publisher := &publisherStub{err: errors.New("queue unreachable")}
	h := newTestHandler(publisher, &dedupStub{}, now)

	sig := signedHeader(t, testSecret, "pay-1", "req-1", now.Unix())
	rec := performWebhook(h, "pay-1", "req-1", sig, `{"type":"payment"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the queue is unreachable, got %d", rec.Code)
	}
}

func TestHandlePaymentRedeliveryAfterPublishFailure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	publisher := &publisherStub{err: errors.New("queue unreachable")}
	dedup := &dedupStub{}
	h := newTestHandler(publisher, dedup, now)

	sig := signedHeader(t, testSecret, "pay-1", "req-1", now.Unix())
	first := performWebhook(h, "pay-1", "req-1", sig, `{"type":"payment"}`)
	if first.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for the failed enqueue, got %d", first.Code)
	}

	// The queue recovers and the gateway redelivers the same notification.
	// It must not be swallowed as a duplicate of the failed delivery.
	publisher.err = nil
	second := performWebhook(h, "pay-1", "req-1", sig, `{"type":"payment"}`)
	if second.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for the redelivery, got %d: %s", second.Code, second.Body)
	}
	if len(publisher.envelopes) != 1 {
		t.Fatalf("expected the redelivered notification to be enqueued once, got %d", len(publisher.envelopes))
	}
	if !strings.Contains(second.Body.String(), `"queued"`) {
		t.Fatalf("expected a queued acknowledgement, got %s", second.Body)
	}
}
