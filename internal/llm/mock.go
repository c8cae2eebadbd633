package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the LLM Client interface.
// It can also be used for dry-run mode.
type MockClient struct {
	Response *Response
	Err      error

	// Hook, when set, runs before the canned response is returned. Tests
	// use it to block a call or mutate state mid-flight.
	Hook func(ctx context.Context, prompt string)

	mu    sync.Mutex
	calls []string
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(ctx context.Context, prompt string) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, prompt)
	m.mu.Unlock()
	if m.Hook != nil {
		m.Hook(ctx, prompt)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

// Calls returns the prompts sent so far.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Respond sets the canned response content.
func (m *MockClient) Respond(content string) {
	m.Response = &Response{Content: content, Provider: "mock"}
}
