package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/jobs"
	"github.com/example/profile-provisioning/internal/payments"
	"github.com/example/profile-provisioning/internal/processor"
	"github.com/example/profile-provisioning/internal/storage"
)

// Endpoint path segments for the processor endpoints each job type is
// delivered to.
const (
	EndpointProfiles = "profiles"
	EndpointEmails   = "emails"
	EndpointQRCodes  = "qrcodes"
	EndpointCache    = "cache"
	EndpointPayments = "payments"
)

// PaymentWebhookHandler resolves a verified payment notification against the
// gateway, records the payment, and chains a ProcessProfile job once the
// payment is approved. The provisionedAt marker on the payment document
// makes re-deliveries of the same notification a no-op.
type PaymentWebhookHandler struct {
	deps Dependencies
	log  zerolog.Logger
}

// NewPaymentWebhookHandler constructs the ProcessPaymentWebhook handler.
func NewPaymentWebhookHandler(deps Dependencies) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		deps: deps,
		log:  deps.Logger.With().Str("handler", "process-payment-webhook").Logger(),
	}
}

func (h *PaymentWebhookHandler) JobType() jobs.JobType {
	return jobs.TypeProcessPaymentWebhook
}

func (h *PaymentWebhookHandler) Validate(env *jobs.Envelope) error {
	payload, err := decodePaymentWebhookPayload(env)
	if err != nil {
		return err
	}
	if payload.PaymentID == "" {
		return errors.New("payment webhook payload is missing paymentId")
	}
	return nil
}

func (h *PaymentWebhookHandler) Execute(ctx context.Context, pctx *processor.ProcessingContext, env *jobs.Envelope) (any, error) {
	payload, err := decodePaymentWebhookPayload(env)
	if err != nil {
		return nil, processor.WrapValidation(err)
	}

	log := h.log.With().
		Str("payment_id", payload.PaymentID).
		Str("correlation_id", pctx.CorrelationID).
		Logger()

	// Re-delivery check before any external call.
	if doc, err := h.deps.Store.Get(ctx, storage.CollectionPayments, payload.PaymentID); err == nil {
		if _, done := doc.Data["provisionedAt"]; done {
			log.Info().Msg("payment already provisioned, skipping")
			return map[string]any{"paymentId": payload.PaymentID, "skipped": true}, nil
		}
	}

	payment, err := h.deps.Gateway.GetPayment(ctx, payload.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("resolve payment %s: %w", payload.PaymentID, err)
	}

	record := map[string]any{
		"status":            payment.Status,
		"externalReference": payment.ExternalReference,
		"amount":            payment.Amount,
		"payerEmail":        payment.PayerEmail,
	}
	if err := h.deps.Store.Set(ctx, storage.CollectionPayments, payment.ID, record); err != nil {
		return nil, processor.WrapTransient(err)
	}

	if payment.Status != payments.StatusApproved {
		log.Info().Str("status", payment.Status).Msg("payment not approved, nothing to provision")
		return map[string]any{"paymentId": payment.ID, "status": payment.Status}, nil
	}

	profileID := payment.ExternalReference
	if profileID == "" {
		return nil, processor.WrapPermanent(fmt.Errorf("approved payment %s has no external reference", payment.ID))
	}

	profileDoc, err := h.deps.Store.Get(ctx, storage.CollectionProfiles, profileID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, processor.WrapPermanent(fmt.Errorf("payment %s references unknown profile %s", payment.ID, profileID))
	}
	if err != nil {
		return nil, processor.WrapTransient(err)
	}

	profilePayload := jobs.ProfilePayload{
		ProfileID: profileID,
		UserEmail: stringField(profileDoc.Data, "userEmail"),
		FullName:  stringField(profileDoc.Data, "fullName"),
		BloodType: stringField(profileDoc.Data, "bloodType"),
		Payment: jobs.PaymentInfo{
			PaymentID:         payment.ID,
			ExternalReference: payment.ExternalReference,
			Status:            payment.Status,
			Amount:            payment.Amount,
		},
	}
	if profilePayload.UserEmail == "" {
		profilePayload.UserEmail = payment.PayerEmail
	}

	profileEnv, err := jobs.NewEnvelope(jobs.TypeProcessProfile, pctx.CorrelationID, h.deps.MaxRetries, profilePayload)
	if err != nil {
		return nil, fmt.Errorf("build profile job for payment %s: %w", payment.ID, err)
	}
	if _, err := h.deps.Publisher.PublishJobWithRetry(ctx, profileEnv, EndpointProfiles, h.deps.MaxRetries, pctx.CorrelationID); err != nil {
		return nil, processor.WrapTransient(fmt.Errorf("publish profile job for payment %s: %w", payment.ID, err))
	}

	if err := h.deps.Store.Update(ctx, storage.CollectionPayments, payment.ID, map[string]any{"provisionedAt": h.deps.Now().UTC()}); err != nil {
		return nil, processor.WrapTransient(err)
	}

	log.Info().Str("profile_id", profileID).Msg("profile provisioning job published")
	return map[string]any{"paymentId": payment.ID, "profileId": profileID, "status": payment.Status}, nil
}

func decodePaymentWebhookPayload(env *jobs.Envelope) (*jobs.PaymentWebhookPayload, error) {
	decoded, err := env.DecodePayload()
	if err != nil {
		return nil, err
	}
	payload, ok := decoded.(*jobs.PaymentWebhookPayload)
	if !ok {
		return nil, fmt.Errorf("expected payment webhook payload, got %T", decoded)
	}
	return payload, nil
}

func stringField(data map[string]any, key string) string {
	value, _ := data[key].(string)
	return value
}
