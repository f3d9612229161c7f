// Package llm provides the backend-neutral types shared by every model client.
package llm

import (
	"context"
	"fmt"

	"chatagent/pkg/tools"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem carries the agent's instructions.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the model, possibly requesting tools.
	RoleAssistant CompletionRole = "assistant"
	// RoleTool carries the output of one tool call.
	RoleTool CompletionRole = "tool"
)

// Normalized stop reasons. Providers map their native values onto these.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
	// StopReasonGuardrail means the backend's safety layer blocked the exchange.
	StopReasonGuardrail = "guardrail_intervened"
)

const (
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.3
)

// ToolCall represents a tool call made by the model.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// CompletionMessage is one entry of the context sent to the backend.
//
// Assistant messages may carry ToolCalls. Tool messages answer exactly one
// call, identified by ToolCallID.
//
//nolint:govet // fieldalignment: logical grouping preferred
type CompletionMessage struct {
	Role       CompletionRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
	IsError    bool
}

// CompletionRequest represents a request to generate a completion.
//
//nolint:govet // fieldalignment: value semantics preferred
type CompletionRequest struct {
	Messages    []CompletionMessage
	Tools       []tools.ToolDefinition
	MaxTokens   int
	Temperature float32
}

// Usage is the token accounting reported by a backend, zero when unknown.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionResponse represents a response from a completion request.
//
//nolint:govet // fieldalignment: value semantics preferred
type CompletionResponse struct {
	ToolCalls     []ToolCall
	Content       string
	StopReason    string // One of the StopReason constants
	RawStopReason string // Provider-native value, for logs
	Usage         Usage
}

// LLMClient defines the interface for language model interactions.
type LLMClient interface { //nolint:revive // Keep name for backward compatibility
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// GetModelName returns the model name for this client.
	GetModelName() string
}

// NewCompletionRequest creates a completion request with default limits.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// NewToolMessage creates the reply to a single tool call.
func NewToolMessage(callID, toolName, content string, isError bool) CompletionMessage {
	return CompletionMessage{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
		IsError:    isError,
	}
}

// SplitSystem separates leading and interleaved system messages from the rest,
// joining the system text with blank lines.
func SplitSystem(messages []CompletionMessage) (string, []CompletionMessage) {
	var system string
	rest := make([]CompletionMessage, 0, len(messages))
	for i := range messages {
		if messages[i].Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += messages[i].Content
			continue
		}
		rest = append(rest, messages[i])
	}
	return system, rest
}

// Validate checks a request before it is sent.
func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("completion request has no messages")
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative")
	}
	if r.Temperature < 0.0 || r.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}
