// Package model defines the provider-neutral chat interface used by planner
// nodes, plus a scriptable mock for tests.
//
// Provider adapters live in the openai, anthropic and google sub-packages.
// Every adapter converts Message values to its wire format and returns the
// assistant's reply as ChatOut.
package model

import (
	"context"
	"errors"
	"strings"
)

// ChatModel is a language model that answers a conversation.
//
// Implementations must be safe for concurrent use: fan-out tasks share one
// model. Chat must honor ctx cancellation.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role    string
	Content string
}

// Standard conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call. Schema is a JSON Schema
// object for the tool's input.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a model reply. Either field may be empty.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// ErrEmptyReply is returned by Complete when the model answers with no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Complete sends a system prompt and a single user prompt and returns the
// trimmed text of the reply. An empty system prompt is omitted.
func Complete(ctx context.Context, m ChatModel, system, prompt string) (string, error) {
	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	out, err := m.Chat(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
