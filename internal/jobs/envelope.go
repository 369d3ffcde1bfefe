package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JobType identifies the variant of work carried by an envelope. The set is
// closed; DecodePayload switches exhaustively over it so a new job type
// cannot be added without handling its payload shape.
type JobType string

const (
	TypeProcessProfile        JobType = "process-profile"
	TypeSendEmail             JobType = "send-email"
	TypeGenerateQRCode        JobType = "generate-qr-code"
	TypeUpdateCache           JobType = "update-cache"
	TypeProcessPaymentWebhook JobType = "process-payment-webhook"
)

// ErrUnknownJobType is returned for envelopes whose type is not part of the
// closed taxonomy.
var ErrUnknownJobType = errors.New("unknown job type")

// Types lists every supported job type in dispatch order.
func Types() []JobType {
	return []JobType{
		TypeProcessProfile,
		TypeSendEmail,
		TypeGenerateQRCode,
		TypeUpdateCache,
		TypeProcessPaymentWebhook,
	}
}

// Envelope is the serializable unit of work. It is immutable once published;
// a retry is a new delivery of the same logical job, re-published with
// RetryCount incremented. All cross-attempt state lives here because the
// processor keeps nothing between invocations.
type Envelope struct {
	Type          JobType         `json:"jobType"`
	CorrelationID string          `json:"correlationId,omitempty"`
	RetryCount    int             `json:"retryCount"`
	MaxRetries    int             `json:"maxRetries"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the envelope's retry bookkeeping and type tag.
func (e *Envelope) Validate() error {
	if e == nil {
		return errors.New("envelope is nil")
	}
	if e.Type == "" {
		return errors.New("envelope jobType is empty")
	}
	if !knownType(e.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownJobType, e.Type)
	}
	if e.RetryCount < 0 {
		return fmt.Errorf("retryCount must be >= 0, got %d", e.RetryCount)
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0, got %d", e.MaxRetries)
	}
	return nil
}

// NextAttempt returns a copy of the envelope with RetryCount incremented,
// ready for re-publication. The receiver is left untouched.
func (e *Envelope) NextAttempt() *Envelope {
	next := *e
	next.RetryCount++
	return &next
}

// DecodePayload unmarshals the variant-specific payload for the envelope's
// type. The switch is exhaustive over the closed taxonomy.
func (e *Envelope) DecodePayload() (any, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	switch e.Type {
	case TypeProcessProfile:
		var p ProfilePayload
		return &p, e.decode(&p)
	case TypeSendEmail:
		var p EmailPayload
		return &p, e.decode(&p)
	case TypeGenerateQRCode:
		var p QRCodePayload
		return &p, e.decode(&p)
	case TypeUpdateCache:
		var p CachePayload
		return &p, e.decode(&p)
	case TypeProcessPaymentWebhook:
		var p PaymentWebhookPayload
		return &p, e.decode(&p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, e.Type)
	}
}

func (e *Envelope) decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

func knownType(t JobType) bool {
	for _, known := range Types() {
		if t == known {
			return true
		}
	}
	return false
}

// NewEnvelope marshals the supplied payload and wraps it in an envelope for
// first delivery (RetryCount zero).
func NewEnvelope(t JobType, correlationID string, maxRetries int, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env := &Envelope{
		Type:          t,
		CorrelationID: correlationID,
		MaxRetries:    maxRetries,
		Payload:       raw,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}
