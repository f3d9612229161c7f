package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/llmerrors"
	"chatagent/pkg/tools"
)

func TestBuildMessages(t *testing.T) {
	tests := []struct {
		name         string
		input        []llm.CompletionMessage
		expectSystem string
		expectRoles  []string
		expectErr    bool
	}{
		{
			name:      "empty messages",
			input:     nil,
			expectErr: true,
		},
		{
			name: "system message extracted",
			input: []llm.CompletionMessage{
				llm.NewSystemMessage("You are helpful"),
				llm.NewUserMessage("Hello"),
			},
			expectSystem: "You are helpful",
			expectRoles:  []string{"user"},
		},
		{
			name: "consecutive user messages merged",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("Hello"),
				llm.NewUserMessage("Anyone there?"),
			},
			expectRoles: []string{"user"},
		},
		{
			name: "leading assistant dropped",
			input: []llm.CompletionMessage{
				{Role: llm.RoleAssistant, Content: "stale"},
				llm.NewUserMessage("Hello"),
			},
			expectRoles: []string{"user"},
		},
		{
			name: "tool round",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("Weather?"),
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "t1", Name: "get_weather"}, {ID: "t2", Name: "get_weather"}}},
				llm.NewToolMessage("t1", "get_weather", "sunny", false),
				llm.NewToolMessage("t2", "get_weather", "Error: boom", true),
			},
			expectRoles: []string{"user", "assistant", "user"},
		},
		{
			name: "ends with assistant returns error",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("Hello"),
				{Role: llm.RoleAssistant, Content: "Hi"},
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, msgs, err := buildMessages(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectSystem, system)
			roles := make([]string, len(msgs))
			for i := range msgs {
				roles[i] = string(msgs[i].Role)
			}
			assert.Equal(t, tt.expectRoles, roles)
		})
	}
}

func TestNormalizeStopReason(t *testing.T) {
	assert.Equal(t, llm.StopReasonGuardrail, normalizeStopReason("refusal", false))
	assert.Equal(t, llm.StopReasonToolUse, normalizeStopReason("tool_use", true))
	assert.Equal(t, llm.StopReasonMaxTokens, normalizeStopReason("max_tokens", false))
	assert.Equal(t, llm.StopReasonEndTurn, normalizeStopReason("end_turn", false))
}

func TestNewClaudeClientWithModel(t *testing.T) {
	assert.Equal(t, DefaultModel, NewClaudeClientWithModel("key", "").GetModelName())
	assert.Equal(t, "claude-haiku-4-5", NewClaudeClientWithModel("key", "claude-haiku-4-5").GetModelName())
}

func newTestClient(t *testing.T, status int, body string, captured *map[string]any) *ClaudeClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		if captured != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClaudeClientWithModel("test-key", "claude-test", option.WithBaseURL(srv.URL))
}

func TestCompleteToolUse(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.StatusOK, `{
		"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"Checking."},{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"location":"Paris"}}],
		"stop_reason":"tool_use","usage":{"input_tokens":20,"output_tokens":7}}`, &got)

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage("Be brief."),
			llm.NewUserMessage("Weather in Paris?"),
		},
		Tools: []tools.ToolDefinition{{
			Name:        "get_weather",
			Description: "Get weather",
			InputSchema: tools.InputSchema{
				Type:       "object",
				Properties: map[string]tools.Property{"location": {Type: "string"}},
				Required:   []string{"location"},
			},
		}},
		MaxTokens: 128,
	})
	require.NoError(t, err)

	assert.Equal(t, "Checking.", resp.Content)
	assert.Equal(t, llm.StopReasonToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"location": "Paris"}, resp.ToolCalls[0].Parameters)
	assert.Equal(t, 20, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)

	assert.Equal(t, "claude-test", got["model"])
	assert.Len(t, got["tools"], 1)
	system := got["system"].([]any)
	assert.Equal(t, "Be brief.", system[0].(map[string]any)["text"])
}

func TestCompleteRefusalIsGuardrail(t *testing.T) {
	client := newTestClient(t, http.StatusOK, `{
		"id":"msg_2","type":"message","role":"assistant","model":"claude-test",
		"content":[],"stop_reason":"refusal","usage":{"input_tokens":5,"output_tokens":0}}`, nil)

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("something unsafe")},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.StopReasonGuardrail, resp.StopReason)
	assert.Equal(t, "refusal", resp.RawStopReason)
}

func TestCompleteSendsToolResults(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.StatusOK, `{
		"id":"msg_3","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"It is sunny."}],
		"stop_reason":"end_turn","usage":{"input_tokens":30,"output_tokens":4}}`, &got)

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewUserMessage("Weather?"),
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "toolu_1", Name: "get_weather", Parameters: map[string]any{}}}},
			llm.NewToolMessage("toolu_1", "get_weather", "sunny", false),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "It is sunny.", resp.Content)
	assert.Equal(t, llm.StopReasonEndTurn, resp.StopReason)

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 3)
	last := msgs[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
	block := last["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", block["type"])
	assert.Equal(t, "toolu_1", block["tool_use_id"])
}

func TestCompleteErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   llmerrors.ErrorType
	}{
		{http.StatusUnauthorized, llmerrors.ErrorTypeAuth},
		{http.StatusTooManyRequests, llmerrors.ErrorTypeRateLimit},
		{http.StatusBadRequest, llmerrors.ErrorTypeBadPrompt},
		{http.StatusInternalServerError, llmerrors.ErrorTypeTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, tt.status, `{"type":"error","error":{"type":"api_error","message":"nope"}}`, nil)
			_, err := client.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
			})
			require.Error(t, err)
			assert.Equal(t, tt.want, llmerrors.TypeOf(err))
		})
	}
}
