package jobs

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEnvelopeValidate(t *testing.T) {
	env := &Envelope{Type: TypeSendEmail, MaxRetries: 3}
	if err := env.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	if err := (&Envelope{}).Validate(); err == nil {
		t.Fatalf("expected error for missing job type")
	}
	if err := (&Envelope{Type: "mystery-job"}).Validate(); !errors.Is(err, ErrUnknownJobType) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
	if err := (&Envelope{Type: TypeSendEmail, RetryCount: -1}).Validate(); err == nil {
		t.Fatalf("expected error for negative retry count")
	}
	if err := (&Envelope{Type: TypeSendEmail, MaxRetries: -1}).Validate(); err == nil {
		t.Fatalf("expected error for negative max retries")
	}

	var nilEnv *Envelope
	if err := nilEnv.Validate(); err == nil {
		t.Fatalf("expected error for nil envelope")
	}
}

func TestNextAttemptLeavesOriginalUntouched(t *testing.T) {
	env := &Envelope{Type: TypeProcessProfile, CorrelationID: "corr-1", RetryCount: 1, MaxRetries: 3}

	next := env.NextAttempt()

	if next.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", next.RetryCount)
	}
	if env.RetryCount != 1 {
		t.Fatalf("original envelope mutated: retry count %d", env.RetryCount)
	}
	if next.CorrelationID != env.CorrelationID || next.Type != env.Type {
		t.Fatalf("next attempt lost identity: %+v", next)
	}
}

func TestDecodePayloadCoversEveryType(t *testing.T) {
	payloads := map[JobType]any{
		TypeProcessProfile:        ProfilePayload{ProfileID: "p-1", UserEmail: "u@example.com", BloodType: "O+"},
		TypeSendEmail:             EmailPayload{To: "u@example.com", Template: EmailTemplateConfirmation},
		TypeGenerateQRCode:        QRCodePayload{ProfileID: "p-1", TargetURL: "https://example.com/p/p-1"},
		TypeUpdateCache:           CachePayload{ProfileID: "p-1"},
		TypeProcessPaymentWebhook: PaymentWebhookPayload{PaymentID: "pay-1"},
	}

	for _, jobType := range Types() {
		payload, ok := payloads[jobType]
		if !ok {
			t.Fatalf("no test payload for job type %s", jobType)
		}
		env, err := NewEnvelope(jobType, "corr-1", 3, payload)
		if err != nil {
			t.Fatalf("%s: unexpected envelope error: %v", jobType, err)
		}
		decoded, err := env.DecodePayload()
		if err != nil {
			t.Fatalf("%s: unexpected decode error: %v", jobType, err)
		}
		if decoded == nil {
			t.Fatalf("%s: expected a decoded payload", jobType)
		}
	}
}

func TestDecodePayloadRejectsMissingPayload(t *testing.T) {
	env := &Envelope{Type: TypeUpdateCache}
	if _, err := env.DecodePayload(); err == nil {
		t.Fatalf("expected error for missing payload")
	}
}

func TestDecodePayloadRejectsMalformedJSON(t *testing.T) {
	env := &Envelope{Type: TypeSendEmail, Payload: json.RawMessage(`{"to":`)}
	if _, err := env.DecodePayload(); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestEnvelopeJSONFieldNames(t *testing.T) {
	env, err := NewEnvelope(TypeProcessProfile, "corr-9", 3, ProfilePayload{ProfileID: "p-1"})
	if err != nil {
		t.Fatalf("unexpected envelope error: %v", err)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	for _, key := range []string{"jobType", "correlationId", "retryCount", "maxRetries", "payload"} {
		if _, ok := wire[key]; !ok {
			t.Fatalf("expected wire field %q, got %v", key, wire)
		}
	}
}
