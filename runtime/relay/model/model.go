// Package model provides the provider-agnostic contract for language model calls.
// Stage executors and guardrail judges invoke models through Client without
// coupling to a specific SDK; features/model/* adapters translate Request and
// Response into provider formats.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

type (
	// Client defines the contract used to invoke a chat completion. Clients must
	// be safe for concurrent use and reusable across turns.
	Client interface {
		// Complete sends a chat completion request and returns the generated
		// response. Returns ErrRateLimited when the provider throttles the call.
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		// Model identifies the target model using the provider identifier. Empty
		// selects the adapter default.
		Model string
		// System carries the rendered stage instructions.
		System string
		// Messages is the ordered conversation sent to the model.
		Messages []Message
		// Temperature controls sampling temperature.
		Temperature float32
		// MaxTokens caps the number of completion tokens. Zero uses the adapter
		// default.
		MaxTokens int
		// Tools describes the tool schemas exposed to the model.
		Tools []ToolDefinition
		// JSON asks the provider to return a single JSON object.
		JSON bool
	}

	// Response wraps the generated text and any tool calls requested by the model.
	Response struct {
		// Text is the concatenated assistant text.
		Text string
		// ToolCalls lists tool invocations requested by the model. Empty when the
		// model produced a final answer.
		ToolCalls []ToolCall
		// Usage reports token usage when available.
		Usage TokenUsage
		// StopReason is the provider specific stop reason.
		StopReason string
	}

	// Message is one chat message.
	Message struct {
		// Role is one of the Role constants.
		Role Role
		// Content is the message text.
		Content string
		// ToolCalls records the tool calls of an assistant message.
		ToolCalls []ToolCall
		// ToolCallID links a tool result message to the call it answers.
		ToolCallID string
	}

	// Role identifies the author of a message.
	Role string

	// ToolDefinition describes a tool schema passed to providers for function
	// calling.
	ToolDefinition struct {
		Name        string
		Description string
		// InputSchema is the JSON Schema of the tool arguments.
		InputSchema json.RawMessage
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		ID      string
		Name    string
		Payload json.RawMessage
	}

	// TokenUsage tracks token counts.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
	}
)

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ErrRateLimited indicates the provider rejected the call due to throttling.
var ErrRateLimited = errors.New("model: rate limited")

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Response, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
