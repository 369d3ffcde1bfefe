package email

import (
	"context"
	"time"
)

// Message is an outbound notification email. HTML and Text are alternative
// renderings of the same content; either may be empty but not both.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// Receipt identifies an accepted delivery at the provider.
type Receipt struct {
	MessageID string
	Timestamp time.Time
}

// Sender is the email-delivery contract. Implementations classify failures
// with the processor sentinels so the retry engine can tell a full mailbox
// from an unreachable relay.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Receipt, error)
}
