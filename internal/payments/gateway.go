package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/processor"
)

// Payment status values reported by the gateway.
const (
	StatusApproved = "approved"
	StatusPending  = "pending"
	StatusRejected = "rejected"
)

// Payment is the gateway's view of one payment.
type Payment struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	ExternalReference string  `json:"external_reference"`
	Amount            float64 `json:"transaction_amount"`
	PayerEmail        string  `json:"payer_email,omitempty"`
}

// Gateway resolves a payment id from a webhook notification into payment
// details. The pipeline only reads; it never mutates gateway state.
type Gateway interface {
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

const defaultRequestTimeout = 10 * time.Second

// HTTPGateway is a minimal REST client for the payment gateway. Failures
// carry processor.StatusError so the retry engine classifies them by status
// code class.
type HTTPGateway struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  zerolog.Logger
}

// NewHTTPGateway constructs a gateway client.
func NewHTTPGateway(baseURL, token string, logger zerolog.Logger) (*HTTPGateway, error) {
	if baseURL == "" {
		return nil, errors.New("payment gateway: base url is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &HTTPGateway{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: defaultRequestTimeout},
		logger:  logger.With().Str("component", "payment-gateway").Logger(),
	}, nil
}

// GetPayment fetches a payment by id.
func (g *HTTPGateway) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if paymentID == "" {
		return nil, processor.WrapValidation(errors.New("payment gateway: payment id is required"))
	}

	endpoint := fmt.Sprintf("%s/v1/payments/%s", g.baseURL, url.PathEscape(paymentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("payment gateway: build request: %w", err)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, processor.WrapTransient(fmt.Errorf("payment gateway: get payment: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, processor.NewStatusError(resp.StatusCode, fmt.Sprintf("get payment %s: %s", paymentID, snippet))
	}

	var payment Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, fmt.Errorf("payment gateway: decode payment: %w", err)
	}
	return &payment, nil
}
