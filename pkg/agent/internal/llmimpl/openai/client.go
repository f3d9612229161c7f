// Package openai provides a chat client for OpenAI-compatible servers
// (vLLM, LM Studio, LocalAI, llama.cpp) reached through a custom base URL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/llmerrors"
	"chatagent/pkg/tools"
)

const providerName = "openai-compatible"

// CompatClient wraps the go-openai client to implement llm.LLMClient interface.
type CompatClient struct {
	client *openai.Client
	model  string
}

// NewCompatClientWithModel creates a client for model served at baseURL.
// An empty baseURL targets api.openai.com.
func NewCompatClientWithModel(apiKey, baseURL, model string) *CompatClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &CompatClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// GetModelName returns the model name for this client.
func (o *CompatClient) GetModelName() string {
	return o.model
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // 80 bytes is reasonable for interface compliance
func (o *CompatClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI-compatible server")
	}

	choice := resp.Choices[0]
	var toolCalls []llm.ToolCall
	for i := range choice.Message.ToolCalls {
		tc := &choice.Message.ToolCalls[i]
		params := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &params); err != nil {
				return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "failed to parse tool arguments")
			}
		}
		toolCalls = append(toolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Parameters: params})
	}

	raw := string(choice.FinishReason)
	return llm.CompletionResponse{
		Content:       choice.Message.Content,
		ToolCalls:     toolCalls,
		StopReason:    normalizeFinishReason(choice.FinishReason, len(toolCalls) > 0),
		RawStopReason: raw,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func normalizeFinishReason(reason openai.FinishReason, hasToolCalls bool) string {
	switch {
	case reason == openai.FinishReasonContentFilter:
		return llm.StopReasonGuardrail
	case hasToolCalls || reason == openai.FinishReasonToolCalls:
		return llm.StopReasonToolUse
	case reason == openai.FinishReasonLength:
		return llm.StopReasonMaxTokens
	default:
		return llm.StopReasonEndTurn
	}
}

func convertMessages(messages []llm.CompletionMessage) ([]openai.ChatCompletionMessage, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		m := openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Content}
		switch msg.Role {
		case llm.RoleTool:
			m.ToolCallID = msg.ToolCallID
		case llm.RoleAssistant:
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args, err := json.Marshal(tc.Parameters)
				if err != nil {
					return nil, fmt.Errorf("marshal arguments for %s: %w", tc.Name, err)
				}
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func convertTools(defs []tools.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(defs))
	for i := range defs {
		def := &defs[i]
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema.ToMap(),
			},
		}
	}
	return result
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(providerName, err, apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llmerrors.Classify(providerName, err, reqErr.HTTPStatusCode)
	}
	return llmerrors.Classify(providerName, err, 0)
}
