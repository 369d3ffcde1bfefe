package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// PublishOptions configures one HTTP delivery request handed to the durable
// queue. Retries here is the transport-level redelivery count, a layer
// independent of the envelope's own application retry budget.
type PublishOptions struct {
	URL             string
	Headers         map[string]string
	Delay           time.Duration
	Retries         int
	DeduplicationID string
}

// Message is the opaque handle returned by the queue for a published body.
type Message struct {
	MessageID    string `json:"messageId"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

// MessageStatus reflects the queue's view of a message in flight.
type MessageStatus struct {
	MessageID string `json:"messageId"`
	State     string `json:"state"`
	URL       string `json:"url,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// Client is the durable queue contract the publisher builds on.
type Client interface {
	// Publish submits a body for at-least-once HTTP delivery to opts.URL.
	Publish(ctx context.Context, body []byte, opts PublishOptions) (*Message, error)
	// GetMessage returns nil, nil when the queue no longer knows the id.
	GetMessage(ctx context.Context, messageID string) (*MessageStatus, error)
	// DeleteMessage returns false, nil when the queue no longer knows the id.
	DeleteMessage(ctx context.Context, messageID string) (bool, error)
}

const defaultRequestTimeout = 15 * time.Second

// Queue delivery option headers understood by the REST API.
const (
	headerDelay           = "Queue-Delay"
	headerRetries         = "Queue-Retries"
	headerDeduplicationID = "Queue-Deduplication-Id"
	headerForwardPrefix   = "Queue-Forward-"
)

// HTTPClient talks to the durable queue's REST API: POST {base}/v1/publish/{url}
// submits a delivery, messages are inspected and cancelled under
// {base}/v1/messages/{id}.
type HTTPClient struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  zerolog.Logger
}

// NewHTTPClient constructs a queue client for the given REST endpoint.
func NewHTTPClient(baseURL, token string, logger zerolog.Logger) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("queue client: base url is required")
	}
	if token == "" {
		return nil, errors.New("queue client: token is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: defaultRequestTimeout},
		logger:  logger.With().Str("component", "queue-client").Logger(),
	}, nil
}

// Publish submits the body for delivery to opts.URL. Delay, transport retries
// and the deduplication key travel as queue option headers; all caller
// headers are forwarded to the delivery target.
func (c *HTTPClient) Publish(ctx context.Context, body []byte, opts PublishOptions) (*Message, error) {
	if opts.URL == "" {
		return nil, errors.New("queue client: delivery url is required")
	}

	endpoint := fmt.Sprintf("%s/v1/publish/%s", c.baseURL, url.QueryEscape(opts.URL))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("queue client: build publish request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if opts.Delay > 0 {
		req.Header.Set(headerDelay, strconv.Itoa(int(opts.Delay.Round(time.Second)/time.Second))+"s")
	}
	req.Header.Set(headerRetries, strconv.Itoa(opts.Retries))
	if opts.DeduplicationID != "" {
		req.Header.Set(headerDeduplicationID, opts.DeduplicationID)
	}
	for key, value := range opts.Headers {
		req.Header.Set(headerForwardPrefix+key, value)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("queue client: publish: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("queue client: publish returned status %d: %s", resp.StatusCode, snippet)
	}

	var msg Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("queue client: decode publish response: %w", err)
	}
	return &msg, nil
}

// GetMessage queries the queue for the message state. Status lookups are
// best-effort: an unknown id is not an error.
func (c *HTTPClient) GetMessage(ctx context.Context, messageID string) (*MessageStatus, error) {
	if messageID == "" {
		return nil, errors.New("queue client: message id is required")
	}

	endpoint := fmt.Sprintf("%s/v1/messages/%s", c.baseURL, url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("queue client: build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("queue client: get message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("queue client: get message returned status %d: %s", resp.StatusCode, snippet)
	}

	var status MessageStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("queue client: decode status response: %w", err)
	}
	return &status, nil
}

// DeleteMessage cancels a pending delivery. An unknown id reports false
// without an error.
func (c *HTTPClient) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, errors.New("queue client: message id is required")
	}

	endpoint := fmt.Sprintf("%s/v1/messages/%s", c.baseURL, url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("queue client: build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, fmt.Errorf("queue client: delete message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("queue client: delete message returned status %d: %s", resp.StatusCode, snippet)
	}
	return true, nil
}
