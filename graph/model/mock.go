package model

import (
	"context"
	"sync"
)

// MockChatModel is a scriptable ChatModel for tests.
//
// Responses are returned in order and the last one repeats. Respond, when
// set, computes the reply from the conversation instead, which keeps
// concurrent callers deterministic. Every call is recorded, including
// failed ones.
//
//	mock := &model.MockChatModel{
//	    Responses: []model.ChatOut{{Text: `["Lisbon"]`}},
//	}
type MockChatModel struct {
	Responses []ChatOut
	Err       error

	// Respond takes precedence over Responses. Calls are serialized.
	Respond func(messages []Message) (ChatOut, error)

	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records a single invocation of Chat.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat implements the ChatModel interface.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Tools: tools})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if m.Respond != nil {
		return m.Respond(messages)
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
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
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of recorded calls.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
