// Package ollama implements llm.LLMClient against a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/llmerrors"
	"chatagent/pkg/tools"
)

// DefaultHost is the Ollama server used when none is configured.
const DefaultHost = "http://localhost:11434"

const providerName = "ollama"

// Client wraps the Ollama API client.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewOllamaClientWithModel creates a client for model on hostURL.
// An unparsable hostURL falls back to DefaultHost.
func NewOllamaClientWithModel(hostURL, model string, httpClient *http.Client) *Client {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		parsedURL, _ = url.Parse(DefaultHost)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		client:  api.NewClient(parsedURL, httpClient),
		model:   model,
		hostURL: parsedURL.String(),
	}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessagesToOllama(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools, err = convertToolsToOllama(in.Tools)
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("tool conversion error: %v", err))
		}
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	calls, err := convertToolCallsFromOllama(response.Message.ToolCalls)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "decode tool calls")
	}

	return llm.CompletionResponse{
		Content:       response.Message.Content,
		ToolCalls:     calls,
		StopReason:    getStopReason(&response, len(calls) > 0),
		RawStopReason: response.DoneReason,
		Usage: llm.Usage{
			InputTokens:  response.PromptEvalCount,
			OutputTokens: response.EvalCount,
		},
	}, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// wireMessage mirrors the /api/chat message JSON. Converting through it keeps
// this package independent of the client library's Go-side container types.
type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolID    string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id,omitempty"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Index     int            `json:"index,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolSchemaFn `json:"function"`
}

type wireToolSchemaFn struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func convertMessagesToOllama(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	wire := make([]wireMessage, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		wm := wireMessage{Role: string(msg.Role), Content: msg.Content}

		switch msg.Role {
		case llm.RoleTool:
			wm.ToolName = msg.ToolName
			wm.ToolID = msg.ToolCallID
		case llm.RoleAssistant:
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args := tc.Parameters
				if args == nil {
					args = map[string]any{}
				}
				wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
					ID:       tc.ID,
					Function: wireToolFunction{Index: j, Name: tc.Name, Arguments: args},
				})
			}
		}
		wire = append(wire, wm)
	}

	var out []api.Message
	if err := roundTrip(wire, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func convertToolsToOllama(toolDefs []tools.ToolDefinition) (api.Tools, error) {
	wire := make([]wireTool, len(toolDefs))
	for i := range toolDefs {
		td := &toolDefs[i]
		wire[i] = wireTool{
			Type: "function",
			Function: wireToolSchemaFn{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.InputSchema.ToMap(),
			},
		}
	}

	var out api.Tools
	if err := roundTrip(wire, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func convertToolCallsFromOllama(calls []api.ToolCall) ([]llm.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	var wire []wireToolCall
	if err := roundTrip(calls, &wire); err != nil {
		return nil, err
	}

	result := make([]llm.ToolCall, len(wire))
	for i := range wire {
		id := wire[i].ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		params := wire[i].Function.Arguments
		if params == nil {
			params = map[string]any{}
		}
		result[i] = llm.ToolCall{ID: id, Name: wire[i].Function.Name, Parameters: params}
	}
	return result, nil
}

func roundTrip(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// getStopReason maps Ollama's done_reason to a normalized stop reason.
// Ollama has no safety layer, so it never reports a guardrail stop.
func getStopReason(resp *api.ChatResponse, hasToolCalls bool) string {
	if hasToolCalls {
		return llm.StopReasonToolUse
	}
	if resp.DoneReason == "length" {
		return llm.StopReasonMaxTokens
	}
	return llm.StopReasonEndTurn
}

func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llmerrors.Classify(providerName, err, statusErr.StatusCode)
	}
	return llmerrors.Classify(providerName, err, 0)
}
