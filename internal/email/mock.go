package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/profile-provisioning/internal/processor"
)

// Scenario selects the behaviour of the mock sender.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTransient Scenario = "transient"
	ScenarioPermanent Scenario = "permanent"
)

// MockSender records every message it receives and replies according to its
// scenario. It backs tests and local runs without SMTP configuration.
type MockSender struct {
	mu       sync.Mutex
	scenario Scenario
	sent     []*Message
}

// NewMockSender returns a mock that accepts every message.
func NewMockSender() *MockSender {
	return &MockSender{scenario: ScenarioSuccess}
}

// WithScenario switches the mock's behaviour for subsequent sends.
func (m *MockSender) WithScenario(s Scenario) *MockSender {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenario = s
	return m
}

func (m *MockSender) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, processor.WrapTransient(err)
	}
	if msg == nil || len(msg.To) == 0 {
		return nil, processor.WrapPermanent(errors.New("mock sender: message has no recipient"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.scenario {
	case ScenarioTransient:
		return nil, processor.WrapTransient(errors.New("mock sender: relay unavailable"))
	case ScenarioPermanent:
		return nil, processor.WrapPermanent(errors.New("mock sender: recipient rejected"))
	}

	m.sent = append(m.sent, msg)
	return &Receipt{
		MessageID: fmt.Sprintf("<mock-%s>", uuid.NewString()),
		Timestamp: time.Now(),
	}, nil
}

// Sent returns a snapshot of every accepted message.
func (m *MockSender) Sent() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount reports how many messages the mock has accepted.
func (m *MockSender) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
