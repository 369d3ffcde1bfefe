package queue

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPublishSendsOptionHeaders(t *testing.T) {
	var captured *http.Request
	var body []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(r.Context())
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messageId":"msg-1"}`))
	}))
	defer ts.Close()

	client, err := NewHTTPClient(ts.URL, "secret-token", zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	target := "https://service.example.com/api/processors/emails"
	msg, err := client.Publish(context.Background(), []byte(`{"jobType":"send-email"}`), PublishOptions{
		URL:             target,
		Headers:         map[string]string{"X-Correlation-Id": "corr-1"},
		Delay:           30 * time.Second,
		Retries:         0,
		DeduplicationID: "dedup-1",
	})
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if msg.MessageID != "msg-1" {
		t.Fatalf("expected message id msg-1, got %q", msg.MessageID)
	}

	if got := captured.Header.Get("Authorization"); got != "Bearer secret-token" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	if got := captured.Header.Get("Queue-Delay"); got != "30s" {
		t.Fatalf("unexpected delay header %q", got)
	}
	if got := captured.Header.Get("Queue-Retries"); got != "0" {
		t.Fatalf("unexpected retries header %q", got)
	}
	if got := captured.Header.Get("Queue-Deduplication-Id"); got != "dedup-1" {
		t.Fatalf("unexpected dedup header %q", got)
	}
	if got := captured.Header.Get("Queue-Forward-X-Correlation-Id"); got != "corr-1" {
		t.Fatalf("unexpected forward header %q", got)
	}
	if !strings.Contains(captured.RequestURI, url.QueryEscape(target)) {
		t.Fatalf("expected escaped target in request uri %q", captured.RequestURI)
	}
	if !strings.Contains(string(body), "send-email") {
		t.Fatalf("expected job body to be forwarded, got %q", body)
	}
}

func TestPublishRejectsErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue is full", http.StatusBadGateway)
	}))
	defer ts.Close()

	client, err := NewHTTPClient(ts.URL, "secret-token", zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	_, err = client.Publish(context.Background(), []byte(`{}`), PublishOptions{URL: "https://example.com/x"})
	if err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status code in error, got %v", err)
	}
}

func TestGetMessageUnknownIDIsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	client, err := NewHTTPClient(ts.URL, "secret-token", zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	status, err := client.GetMessage(context.Background(), "gone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != nil {
		t.Fatalf("expected nil status for unknown id, got %+v", status)
	}
}

func TestGetMessageDecodesStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messageId":"msg-7","state":"delivered"}`))
	}))
	defer ts.Close()

	client, err := NewHTTPClient(ts.URL, "secret-token", zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	status, err := client.GetMessage(context.Background(), "msg-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.MessageID != "msg-7" || status.State != "delivered" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestDeleteMessage(t *testing.T) {
	known := true
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !known {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client, err := NewHTTPClient(ts.URL, "secret-token", zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	cancelled, err := client.DeleteMessage(context.Background(), "msg-1")
	if err != nil || !cancelled {
		t.Fatalf("expected successful cancel, got %v %v", cancelled, err)
	}

	known = false
	cancelled, err = client.DeleteMessage(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled {
		t.Fatalf("expected false for unknown id")
	}
}

func TestNewHTTPClientRequiresConfig(t *testing.T) {
	if _, err := NewHTTPClient("", "token", zerolog.Nop()); err == nil {
		t.Fatalf("expected error for missing base url")
	}
	if _, err := NewHTTPClient("http://queue", "", zerolog.Nop()); err == nil {
		t.Fatalf("expected error for missing token")
	}
}
