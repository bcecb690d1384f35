package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient returns scripted responses in order and records every request
// it sees. Test-only.
type MockClient struct {
	mu        sync.Mutex
	responses []*CompletionResponse
	errs      []error
	requests  []CompletionRequest
	index     int
}

// NewMockClient creates a mock that replays the given responses.
func NewMockClient(responses ...*CompletionResponse) *MockClient {
	return &MockClient{responses: responses}
}

// FailWith queues an error to be returned before the remaining responses.
func (m *MockClient) FailWith(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return m
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	if m.index >= len(m.responses) {
		return nil, fmt.Errorf("mock exhausted after %d response(s)", len(m.responses))
	}
	resp := m.responses[m.index]
	m.index++
	return resp, nil
}

func (m *MockClient) Close() error { return nil }

// Requests returns a copy of all requests seen so far.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// TextResponse builds a final-answer response.
func TextResponse(content string) *CompletionResponse {
	return &CompletionResponse{Content: content, StopReason: "stop"}
}

// ToolCallResponse builds a response requesting one capability invocation
// with JSON-encoded arguments.
func ToolCallResponse(callID, name, arguments string) *CompletionResponse {
	return &CompletionResponse{
		ToolCalls:  []ToolCall{{ID: callID, Name: name, Arguments: arguments}},
		StopReason: "tool_calls",
	}
}
