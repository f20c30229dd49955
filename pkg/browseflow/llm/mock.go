package llm

import (
	"context"
	"sync"
)

// MockClient returns canned responses and records requests.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []Request
	next      int
}

// NewMockClient creates a mock that always answers response.
func NewMockClient(response string) *MockClient {
	return &MockClient{responses: []string{response}}
}

// WithResponses replaces the responses; they are returned in order and cycle.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.responses = responses
	return m
}

// WithErrors makes the first calls fail with errs, in order. A nil entry
// lets that call succeed.
func (m *MockClient) WithErrors(errs ...error) *MockClient {
	m.errs = errs
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	call := len(m.calls)
	m.calls = append(m.calls, req)
	if call < len(m.errs) && m.errs[call] != nil {
		return nil, m.errs[call]
	}

	content := ""
	if len(m.responses) > 0 {
		content = m.responses[m.next%len(m.responses)]
		m.next++
	}
	return &Response{Content: content, Model: "mock"}, nil
}

// Calls returns the recorded requests.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}
