// Package anthropic provides Anthropic Claude client implementation for LLM interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/llmerrors"
	"chatagent/pkg/tools"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

const (
	providerName = "anthropic"

	// stopReasonRefusal is reported when Claude's safety layer declines to answer.
	stopReasonRefusal = "refusal"
)

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient interface.
//
//nolint:govet // Simple client struct, logical grouping preferred
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a Claude client for model. Extra options
// (base URL, HTTP client) are passed to the SDK. SDK retries are disabled.
func NewClaudeClientWithModel(apiKey, model string, opts ...option.RequestOption) *ClaudeClient {
	if model == "" {
		model = DefaultModel
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(all...),
		model:  anthropic.Model(model),
	}
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, messages, err := buildMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	maxTokens := int64(in.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received nil response from Claude API")
	}

	var responseText string
	var toolCalls []llm.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			responseText += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			var params map[string]any
			if len(toolUse.Input) > 0 {
				if err := json.Unmarshal(toolUse.Input, &params); err != nil {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "failed to parse tool input")
				}
			}
			if params == nil {
				params = map[string]any{}
			}
			toolCalls = append(toolCalls, llm.ToolCall{ID: toolUse.ID, Name: toolUse.Name, Parameters: params})
		}
	}

	raw := string(resp.StopReason)
	if raw != stopReasonRefusal && len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	return llm.CompletionResponse{
		Content:       responseText,
		ToolCalls:     toolCalls,
		StopReason:    normalizeStopReason(raw, len(toolCalls) > 0),
		RawStopReason: raw,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func normalizeStopReason(raw string, hasToolCalls bool) string {
	switch {
	case raw == stopReasonRefusal:
		return llm.StopReasonGuardrail
	case hasToolCalls || raw == "tool_use":
		return llm.StopReasonToolUse
	case raw == "max_tokens":
		return llm.StopReasonMaxTokens
	default:
		return llm.StopReasonEndTurn
	}
}

// buildMessages prepares messages for Anthropic API requirements:
// system text moves to the top-level parameter, tool results become
// tool_result blocks inside the following user message, and consecutive
// messages of one role merge. Leading non-user messages are dropped, since
// a trimmed window may start mid-exchange.
func buildMessages(messages []llm.CompletionMessage) (string, []anthropic.MessageParam, error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}
	systemPrompt, rest := llm.SplitSystem(messages)

	start := 0
	for start < len(rest) && rest[start].Role != llm.RoleUser {
		start++
	}
	rest = rest[start:]
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one user message")
	}

	var out []anthropic.MessageParam
	push := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for i := range rest {
		msg := &rest[i]
		switch msg.Role {
		case llm.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				input := tc.Parameters
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			push(anthropic.MessageParamRoleAssistant, blocks...)
		case llm.RoleTool:
			push(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
		default:
			if msg.Content != "" {
				push(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(msg.Content))
			}
		}
	}

	if len(out) == 0 || out[len(out)-1].Role != anthropic.MessageParamRoleUser {
		return "", nil, fmt.Errorf("last message must be user role")
	}
	return systemPrompt, out, nil
}

func convertTools(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		schema := anthropic.ToolInputSchemaParam{
			Properties: def.InputSchema.ToMap()["properties"],
			Required:   def.InputSchema.Required,
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		result = append(result, tool)
	}
	return result
}

// classifyError maps Anthropic SDK errors to our structured error types.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(providerName, err, apiErr.StatusCode)
	}
	return llmerrors.Classify(providerName, err, 0)
}
