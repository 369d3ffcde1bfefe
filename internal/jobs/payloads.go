package jobs

// Email template identifiers used by SendEmail jobs.
const (
	EmailTemplateConfirmation = "confirmation"
	EmailTemplateFailure      = "failure"
)

// ProfilePayload carries the data needed to finalize a medical profile after
// a confirmed payment.
type ProfilePayload struct {
	ProfileID string            `json:"profileId"`
	UserEmail string            `json:"userEmail"`
	FullName  string            `json:"fullName,omitempty"`
	BloodType string            `json:"bloodType,omitempty"`
	Payment   PaymentInfo       `json:"payment"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PaymentInfo is the payment summary embedded in profile jobs.
type PaymentInfo struct {
	PaymentID         string  `json:"paymentId"`
	ExternalReference string  `json:"externalReference,omitempty"`
	Status            string  `json:"status,omitempty"`
	Amount            float64 `json:"amount,omitempty"`
}

// EmailPayload describes a notification email dispatch.
type EmailPayload struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Subject  string            `json:"subject,omitempty"`
	// Reason is required when Template is "failure".
	Reason string            `json:"reason,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
}

// QRCodePayload requests QR image generation for a profile.
type QRCodePayload struct {
	ProfileID string `json:"profileId"`
	// TargetURL is the URL encoded into the QR image. When empty the handler
	// derives it from the profile id.
	TargetURL string `json:"targetUrl,omitempty"`
}

// CachePayload requests a best-effort cache refresh for a profile.
type CachePayload struct {
	ProfileID string `json:"profileId"`
}

// PaymentWebhookPayload is the translated form of a verified payment
// notification, published by the webhook ingestion endpoint.
type PaymentWebhookPayload struct {
	PaymentID         string `json:"paymentId"`
	ExternalReference string `json:"externalReference,omitempty"`
	Action            string `json:"action,omitempty"`
}
