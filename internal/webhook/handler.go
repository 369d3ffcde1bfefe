package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/cache"
	"github.com/example/profile-provisioning/internal/handlers"
	"github.com/example/profile-provisioning/internal/jobs"
)

const (
	headerRequestID = "X-Request-Id"
	headerSignature = "X-Signature"

	dedupKeyPrefix = "webhook:payment:"
)

// payloadBody is the subset of the gateway's notification body we care
// about. The payment id may arrive in the body or the data.id query
// parameter depending on notification mode.
type payloadBody struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Handler receives payment gateway notifications, verifies their
// signature, deduplicates them and hands the work to the queue.
type Handler struct {
	verifier   *Verifier
	publisher  handlers.JobPublisher
	cache      cache.Cache
	logger     zerolog.Logger
	dedupTTL   time.Duration
	maxRetries int
}

// NewHandler wires the webhook endpoint. The cache may be a Noop cache,
// in which case deduplication is disabled.
func NewHandler(verifier *Verifier, publisher handlers.JobPublisher, c cache.Cache, logger zerolog.Logger, dedupTTL time.Duration, maxRetries int) *Handler {
	if c == nil {
		c = cache.Noop{}
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "payment-webhook").Logger()
	if dedupTTL <= 0 {
		dedupTTL = 10 * time.Minute
	}
	return &Handler{
		verifier:   verifier,
		publisher:  publisher,
		cache:      c,
		logger:     logger,
		dedupTTL:   dedupTTL,
		maxRetries: maxRetries,
	}
}

// HandlePayment is the gin handler for POST /api/webhooks/payment.
// Invalid signatures are rejected before anything is enqueued.
func (h *Handler) HandlePayment(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var payload payloadBody
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
			return
		}
	}

	dataID := c.Query("data.id")
	if dataID == "" {
		dataID = payload.Data.ID
	}
	if dataID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing payment id"})
		return
	}

	requestID := c.GetHeader(headerRequestID)
	signature := c.GetHeader(headerSignature)
	if !h.verifier.Verify(dataID, requestID, signature) {
		h.logger.Warn().
			Str("paymentId", dataID).
			Str("requestId", requestID).
			Msg("webhook rejected: invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	if payload.Type != "" && payload.Type != "payment" {
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}

	first, err := h.cache.SetIfAbsent(c.Request.Context(), dedupKeyPrefix+dataID, "1", h.dedupTTL)
	if err != nil {
		// Dedup is best effort. A cache outage must not drop payments.
		h.logger.Warn().Err(err).Str("paymentId", dataID).Msg("webhook dedup check failed, continuing")
		first = true
	}
	if !first {
		h.logger.Info().Str("paymentId", dataID).Msg("duplicate webhook notification skipped")
		c.JSON(http.StatusAccepted, gin.H{"status": "duplicate"})
		return
	}

	correlationID := requestID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	env, err := jobs.NewEnvelope(jobs.TypeProcessPaymentWebhook, correlationID, h.maxRetries, jobs.PaymentWebhookPayload{
		PaymentID:         dataID,
		ExternalReference: c.Query("external_reference"),
		Action:            payload.Action,
	})
	if err != nil {
		h.releaseDedup(c.Request.Context(), dataID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	result, err := h.publisher.PublishJobWithRetry(c.Request.Context(), env, handlers.EndpointPayments, h.maxRetries, correlationID)
	if err != nil {
		h.logger.Error().Err(err).
			Str("paymentId", dataID).
			Str("correlationId", correlationID).
			Msg("failed to enqueue payment webhook job")
		// The notification was not enqueued, so the dedup key must not
		// swallow the gateway's redelivery of it.
		h.releaseDedup(c.Request.Context(), dataID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue"})
		return
	}

	h.logger.Info().
		Str("paymentId", dataID).
		Str("correlationId", correlationID).
		Str("messageId", result.MessageID).
		Msg("payment webhook accepted")
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "messageId": result.MessageID})
}

// releaseDedup removes the dedup key after a failed enqueue so a redelivered
// notification is treated as a first delivery again. Best effort.
func (h *Handler) releaseDedup(ctx context.Context, dataID string) {
	if err := h.cache.Invalidate(ctx, dedupKeyPrefix+dataID); err != nil {
		h.logger.Warn().Err(err).Str("paymentId", dataID).Msg("failed to release webhook dedup key")
	}
}
