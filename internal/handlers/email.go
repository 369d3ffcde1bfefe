package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/email"
	"github.com/example/profile-provisioning/internal/jobs"
	"github.com/example/profile-provisioning/internal/processor"
	"github.com/example/profile-provisioning/internal/util"
)

// EmailHandler dispatches notification emails. Duplicate suppression for
// this job type happens at publish time through the queue deduplication key;
// the handler itself sends exactly once per delivery.
type EmailHandler struct {
	deps Dependencies
	log  zerolog.Logger
}

// NewEmailHandler constructs the SendEmail handler.
func NewEmailHandler(deps Dependencies) *EmailHandler {
	return &EmailHandler{
		deps: deps,
		log:  deps.Logger.With().Str("handler", "send-email").Logger(),
	}
}

func (h *EmailHandler) JobType() jobs.JobType {
	return jobs.TypeSendEmail
}

// Validate requires a deliverable recipient and a known template; failure
// notifications additionally need the failure reason so the email never goes
// out blank.
func (h *EmailHandler) Validate(env *jobs.Envelope) error {
	payload, err := decodeEmailPayload(env)
	if err != nil {
		return err
	}
	if _, err := util.NormalizeEmail(payload.To); err != nil {
		return fmt.Errorf("email payload to: %w", err)
	}
	switch payload.Template {
	case jobs.EmailTemplateConfirmation:
	case jobs.EmailTemplateFailure:
		if payload.Reason == "" {
			return errors.New("email payload with failure template is missing a reason")
		}
	default:
		return fmt.Errorf("email payload template %q is unknown", payload.Template)
	}
	return nil
}

func (h *EmailHandler) Execute(ctx context.Context, pctx *processor.ProcessingContext, env *jobs.Envelope) (any, error) {
	payload, err := decodeEmailPayload(env)
	if err != nil {
		return nil, processor.WrapValidation(err)
	}

	receipt, err := h.deps.Email.Send(ctx, renderEmail(payload))
	if err != nil {
		return nil, fmt.Errorf("send %s email to %s: %w", payload.Template, payload.To, err)
	}

	h.log.Info().
		Str("correlation_id", pctx.CorrelationID).
		Str("template", payload.Template).
		Str("message_id", receipt.MessageID).
		Msg("notification email sent")

	return map[string]any{"messageId": receipt.MessageID}, nil
}

func decodeEmailPayload(env *jobs.Envelope) (*jobs.EmailPayload, error) {
	decoded, err := env.DecodePayload()
	if err != nil {
		return nil, err
	}
	payload, ok := decoded.(*jobs.EmailPayload)
	if !ok {
		return nil, fmt.Errorf("expected email payload, got %T", decoded)
	}
	return payload, nil
}

func renderEmail(payload *jobs.EmailPayload) *email.Message {
	name := payload.Data["fullName"]
	if name == "" {
		name = "there"
	}

	switch payload.Template {
	case jobs.EmailTemplateFailure:
		subject := payload.Subject
		if subject == "" {
			subject = "We could not finish setting up your emergency profile"
		}
		return &email.Message{
			To:      []string{payload.To},
			Subject: subject,
			Text: fmt.Sprintf("Hi %s,\n\nWe hit a problem while provisioning your emergency medical profile: %s\n\nOur team has been notified. No further action is needed on your side.\n", name, payload.Reason),
			HTML: fmt.Sprintf("<p>Hi %s,</p><p>We hit a problem while provisioning your emergency medical profile: <strong>%s</strong></p><p>Our team has been notified. No further action is needed on your side.</p>", name, payload.Reason),
		}
	default:
		subject := payload.Subject
		if subject == "" {
			subject = "Your emergency medical profile is ready"
		}
		return &email.Message{
			To:      []string{payload.To},
			Subject: subject,
			Text: fmt.Sprintf("Hi %s,\n\nYour emergency medical profile is active. Print the attached QR code and keep it with you; first responders can scan it to reach your medical data.\n", name),
			HTML: fmt.Sprintf("<p>Hi %s,</p><p>Your emergency medical profile is active. Print your QR code and keep it with you; first responders can scan it to reach your medical data.</p>", name),
		}
	}
}

func confirmationEmail(payload *jobs.ProfilePayload, qrDataURL string) *email.Message {
	name := payload.FullName
	if name == "" {
		name = "there"
	}
	return &email.Message{
		To:      []string{payload.UserEmail},
		Subject: "Your emergency medical profile is ready",
		Text:    fmt.Sprintf("Hi %s,\n\nYour payment was confirmed and your emergency medical profile is now active.\n", name),
		HTML:    fmt.Sprintf("<p>Hi %s,</p><p>Your payment was confirmed and your emergency medical profile is now active.</p><p><img src=%q alt=\"profile QR code\"/></p>", name, qrDataURL),
	}
}
