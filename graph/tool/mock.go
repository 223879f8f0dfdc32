package tool

import (
	"context"
	"sync"
)

// MockTool is a scriptable Tool for tests.
//
// Responses are returned in order and the last one repeats. Respond, when
// set, computes each output from the input instead. Every call is recorded,
// including failed ones.
//
//	mock := &tool.MockTool{
//	    ToolName:  "http_request",
//	    Responses: []map[string]interface{}{{"status_code": 200, "body": `[]`}},
//	}
type MockTool struct {
	ToolName  string
	Responses []map[string]interface{}
	Err       error

	// Respond takes precedence over Responses. Calls are serialized.
	Respond func(input map[string]interface{}) (map[string]interface{}, error)

	Calls []MockToolCall

	mu        sync.Mutex
	callIndex int
}

// MockToolCall records a single invocation of Call.
type MockToolCall struct {
	Input map[string]interface{}
}

// Name implements the Tool interface.
func (m *MockTool) Name() string {
	return m.ToolName
}

// Call implements the Tool interface.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Input: input})

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Respond != nil {
		return m.Respond(input)
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and rewinds the responses.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of recorded calls.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
