package provider

import (
	"context"
	"fmt"
	"sync"
)

// MockClient returns deterministic responses for local runs and tests. A
// script of errors can be queued ahead of the successes to drive retry paths.
type MockClient struct {
	mu              sync.Mutex
	responses       map[string]string
	defaultResponse string
	script          []error
	requests        []Request
	usage           Usage
}

// NewMockClient creates a mock client with a default response.
func NewMockClient() *MockClient {
	return &MockClient{
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockClientWithResponses creates a mock client with predefined
// prompt-keyed responses.
func NewMockClientWithResponses(responses map[string]string, defaultResponse string) *MockClient {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	return &MockClient{responses: responses, defaultResponse: defaultResponse}
}

// FailWith queues errors to return before any success. Each queued error is
// consumed by one Generate call.
func (m *MockClient) FailWith(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, errs...)
}

// SetUsage sets the usage reported on successful responses.
func (m *MockClient) SetUsage(usage Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = usage
}

// Name returns the provider identifier.
func (m *MockClient) Name() ID {
	return Mock
}

// Capabilities returns a fully permissive capability set.
func (m *MockClient) Capabilities() Capabilities {
	return Capabilities{
		TopP:             true,
		MaxTokens:        true,
		UnboundedTokens:  true,
		DefaultMaxTokens: 4096,
	}
}

// Models returns the list of supported mock models.
func (m *MockClient) Models() []string {
	return []string{"mock-1"}
}

// Calls returns the number of Generate calls observed.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the requests observed, post-normalization.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate returns a deterministic response for the prompt, or the next
// scripted error.
func (m *MockClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var scripted error
	if len(m.script) > 0 {
		scripted = m.script[0]
		m.script = m.script[1:]
	}
	usage := m.usage
	content, ok := m.responses[req.Prompt]
	defaultResponse := m.defaultResponse
	m.mu.Unlock()

	if scripted != nil {
		return nil, scripted
	}

	model := req.Model
	if model == "" {
		model = "mock-1"
	}
	if !ok {
		content = fmt.Sprintf("%s\n%s", defaultResponse, req.Prompt)
	}
	return &Response{
		Content:  content,
		Model:    model,
		Provider: Mock,
		Usage:    usage,
	}, nil
}
