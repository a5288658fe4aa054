package messaging

import (
	"context"
	"sync"
)

// SentMessage records one message accepted by MockService.
type SentMessage struct {
	To      string
	Body    string
	Link    string // set for images
	Caption string
}

// MockService records sent messages in memory (for tests).
type MockService struct {
	mu   sync.Mutex
	sent []SentMessage
	// Err, when set, is returned from every send.
	Err error
}

// NewMockService creates an empty MockService.
func NewMockService() *MockService {
	return &MockService{}
}

func (m *MockService) SendText(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockService) SendImage(_ context.Context, to, link, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Link: link, Caption: caption})
	return nil
}

func (m *MockService) Name() string { return "mock" }

func (m *MockService) Configured() bool { return true }

// Sent returns a copy of every recorded message in send order.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the bodies sent to one recipient in send order.
func (m *MockService) SentTo(to string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.To == to {
			out = append(out, s.Body)
		}
	}
	return out
}
