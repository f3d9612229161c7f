// Package mocks provides test doubles for the model client interface.
package mocks

import (
	"context"
	"strings"
	"sync"

	"chatagent/pkg/agent/llm"
)

// MockLLMClient implements llm.LLMClient for testing.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockLLMClient struct {
	// CompleteFunc is called when Complete is invoked. Override to customize behavior.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)

	// CompleteCalls tracks all calls to Complete for verification.
	CompleteCalls []llm.CompletionRequest

	modelName string
	mu        sync.Mutex
}

// NewMockLLMClient returns a mock that answers every call with "Mock response".
func NewMockLLMClient() *MockLLMClient {
	m := &MockLLMClient{modelName: "mock-model"}
	m.RespondWith("Mock response")
	return m
}

// Complete implements llm.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, cloneRequest(req))
	fn := m.CompleteFunc
	m.mu.Unlock()
	return fn(ctx, req)
}

// GetModelName implements llm.LLMClient.
func (m *MockLLMClient) GetModelName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modelName
}

// SetModelName sets the model name returned by GetModelName.
func (m *MockLLMClient) SetModelName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelName = name
}

// OnComplete sets a custom handler for Complete calls.
func (m *MockLLMClient) OnComplete(fn func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = fn
}

// FailCompleteWith configures Complete to return err.
func (m *MockLLMClient) FailCompleteWith(err error) {
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{}, err
	})
}

// RespondWith configures Complete to return content as a final answer.
func (m *MockLLMClient) RespondWith(content string) {
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: content, StopReason: llm.StopReasonEndTurn}, nil
	})
}

// RespondWithGuardrail configures Complete to report a safety block with content.
func (m *MockLLMClient) RespondWithGuardrail(content string) {
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{
			Content:       content,
			StopReason:    llm.StopReasonGuardrail,
			RawStopReason: "guardrail_intervened",
		}, nil
	})
}

// RespondWithToolCall configures Complete to always request one tool.
func (m *MockLLMClient) RespondWithToolCall(toolName string, params map[string]any) {
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return ToolCallResponse("mock-tool-call-1", toolName, params), nil
	})
}

// RespondWithSequence returns responses in order, repeating the last one.
func (m *MockLLMClient) RespondWithSequence(responses ...llm.CompletionResponse) {
	var idx int
	var seqMu sync.Mutex
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		seqMu.Lock()
		defer seqMu.Unlock()
		resp := responses[len(responses)-1]
		if idx < len(responses) {
			resp = responses[idx]
			idx++
		}
		return resp, nil
	})
}

// ToolCallResponse builds a response requesting a single tool call.
func ToolCallResponse(id, toolName string, params map[string]any) llm.CompletionResponse {
	return llm.CompletionResponse{
		ToolCalls:  []llm.ToolCall{{ID: id, Name: toolName, Parameters: params}},
		StopReason: llm.StopReasonToolUse,
	}
}

// GetCompleteCallCount returns the number of times Complete was called.
func (m *MockLLMClient) GetCompleteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// LastCompleteCall returns the most recent request, or nil if none.
func (m *MockLLMClient) LastCompleteCall() *llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CompleteCalls) == 0 {
		return nil
	}
	return &m.CompleteCalls[len(m.CompleteCalls)-1]
}

// GetNthCompleteCall returns the nth request (0-indexed), or nil.
func (m *MockLLMClient) GetNthCompleteCall(n int) *llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.CompleteCalls) {
		return nil
	}
	return &m.CompleteCalls[n]
}

// CompleteCalledWith reports whether any request carried a message containing substr.
func (m *MockLLMClient) CompleteCalledWith(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.CompleteCalls {
		for _, msg := range m.CompleteCalls[i].Messages {
			if strings.Contains(msg.Content, substr) {
				return true
			}
		}
	}
	return false
}

func cloneRequest(req llm.CompletionRequest) llm.CompletionRequest {
	req.Messages = append([]llm.CompletionMessage(nil), req.Messages...)
	req.Tools = append(req.Tools[:0:0], req.Tools...)
	return req
}
