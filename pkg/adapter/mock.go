package adapter

import (
	"context"
	"sync"
)

// MockAdapter returns deterministic responses for local runs and tests.
// Responses keyed by the exact user prompt win; otherwise queued responses are
// consumed in order, then the default response is returned.
type MockAdapter struct {
	mu              sync.Mutex
	responses       map[string]string
	queue           []string
	defaultResponse string
	calls           []Request
	Usage           *Usage
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		responses:       make(map[string]string),
		defaultResponse: "print('mock response')",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	m := NewMockAdapter()
	if responses != nil {
		m.responses = responses
	}
	if defaultResponse != "" {
		m.defaultResponse = defaultResponse
	}
	return m
}

// Enqueue appends responses returned by subsequent calls.
func (a *MockAdapter) Enqueue(responses ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, responses...)
}

// Calls returns the requests seen so far.
func (a *MockAdapter) Calls() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Request(nil), a.calls...)
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Complete returns a deterministic response for the prompt.
func (a *MockAdapter) Complete(_ context.Context, req Request) (*Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, req)
	model := req.Model
	if model == "" {
		model = "mock-1"
	}

	text := a.defaultResponse
	if response, ok := a.responses[req.Prompt]; ok {
		text = response
	} else if len(a.queue) > 0 {
		text = a.queue[0]
		a.queue = a.queue[1:]
	}
	return &Response{Text: text, Adapter: a.Name(), Model: model, Usage: a.Usage}, nil
}
