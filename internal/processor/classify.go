package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors used to classify job failures. Handlers and collaborators
// wrap their errors with these so the engine can decide whether a retry can
// help without inspecting domain types.
var (
	// ErrTransient marks infrastructure failures that are expected to
	// self-resolve (network, timeout, 5xx, rate limits).
	ErrTransient = errors.New("transient error")
	// ErrPermanent marks domain or client failures that will not self-resolve
	// and must not be retried.
	ErrPermanent = errors.New("permanent error")
	// ErrValidation marks malformed or incomplete job input. Validation
	// failures are terminal and are never retried.
	ErrValidation = errors.New("validation error")
	// ErrTimeout is the synthetic failure raised when domain execution
	// exceeds the configured timeout. It is retryable.
	ErrTimeout = errors.New("job execution timed out")
)

// WrapTransient annotates an error so callers can detect transient failures.
func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// WrapPermanent annotates an error as permanent.
func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// WrapValidation annotates an error as a validation failure.
func WrapValidation(err error) error {
	if err == nil {
		return ErrValidation
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// StatusError carries an HTTP-style status code from an upstream collaborator
// so failures can be classified by code class: >= 500 retryable, 4xx not.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Message)
}

// NewStatusError builds a StatusError for the supplied code.
func NewStatusError(code int, message string) *StatusError {
	return &StatusError{Code: code, Message: message}
}

// transientIndicators are substrings whose presence in an error message marks
// the failure as retryable even when the error carries no classification.
var transientIndicators = []string{
	"timeout",
	"connection",
	"network",
	"temporary",
	"rate limit",
	"quota",
	"throttle",
}

// Retryable reports whether a retry may resolve the supplied failure.
// Unclassified errors default to not retryable: failing fast is preferred
// over masking bugs with retry storms.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPermanent):
		return false
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range transientIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}

	return false
}

// IsValidation reports whether the failure was a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
