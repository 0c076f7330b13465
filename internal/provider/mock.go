package provider

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// MockTransport is a deterministic Transport for tests: each call to
// OpenChatStream or OpenReasonStream pops the next scripted body off a
// queue. Grounded on sacenox-symb's MockProvider fluent-builder style.
type MockTransport struct {
	mu          sync.Mutex
	chatBodies  []string
	reasonBodies []string
	err         error
}

// NewMockTransport constructs an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// WithChatBody enqueues a raw SSE body to be returned by the next
// OpenChatStream call.
func (m *MockTransport) WithChatBody(body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatBodies = append(m.chatBodies, body)
	return m
}

// WithReasonBody enqueues a raw SSE body to be returned by the next
// OpenReasonStream call.
func (m *MockTransport) WithReasonBody(body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasonBodies = append(m.reasonBodies, body)
	return m
}

// WithError makes every subsequent Open* call fail with err.
func (m *MockTransport) WithError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MockTransport) OpenChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if len(m.chatBodies) == 0 {
		return nil, errors.New("mock transport: no chat body scripted")
	}
	body := m.chatBodies[0]
	m.chatBodies = m.chatBodies[1:]
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m *MockTransport) OpenReasonStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if len(m.reasonBodies) == 0 {
		return nil, errors.New("mock transport: no reasoning body scripted")
	}
	body := m.reasonBodies[0]
	m.reasonBodies = m.reasonBodies[1:]
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m *MockTransport) IsTransientError(err error) bool {
	return false
}
