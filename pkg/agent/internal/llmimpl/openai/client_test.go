package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/llmerrors"
)

func newTestServer(t *testing.T, status int, body string, captured *openai.ChatCompletionRequest) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer local-key", r.Header.Get("Authorization"))
		if captured != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

func TestNormalizeFinishReason(t *testing.T) {
	assert.Equal(t, llm.StopReasonGuardrail, normalizeFinishReason(openai.FinishReasonContentFilter, false))
	assert.Equal(t, llm.StopReasonToolUse, normalizeFinishReason(openai.FinishReasonToolCalls, true))
	assert.Equal(t, llm.StopReasonMaxTokens, normalizeFinishReason(openai.FinishReasonLength, false))
	assert.Equal(t, llm.StopReasonEndTurn, normalizeFinishReason(openai.FinishReasonStop, false))
}

func TestConvertMessagesCarriesToolIDs(t *testing.T) {
	msgs, err := convertMessages([]llm.CompletionMessage{
		llm.NewUserMessage("hi"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "file_read", Parameters: map[string]any{"path": "a.txt"}}}},
		llm.NewToolMessage("c1", "file_read", "contents", false),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, `{"path":"a.txt"}`, msgs[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "tool", msgs[2].Role)

	_, err = convertMessages(nil)
	assert.Error(t, err)
}

func TestCompleteAgainstCompatServer(t *testing.T) {
	var got openai.ChatCompletionRequest
	baseURL := newTestServer(t, http.StatusOK, `{
		"id":"1","object":"chat.completion","created":1,"model":"qwen",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Hello there"}}],
		"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`, &got)

	client := NewCompatClientWithModel("local-key", baseURL, "qwen")
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages:    []llm.CompletionMessage{llm.NewSystemMessage("sys"), llm.NewUserMessage("hi")},
		MaxTokens:   100,
		Temperature: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, llm.StopReasonEndTurn, resp.StopReason)
	assert.Equal(t, 9, resp.Usage.InputTokens)

	assert.Equal(t, "qwen", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestCompleteContentFilter(t *testing.T) {
	baseURL := newTestServer(t, http.StatusOK, `{
		"id":"2","object":"chat.completion","created":1,"model":"qwen",
		"choices":[{"index":0,"finish_reason":"content_filter","message":{"role":"assistant","content":""}}]}`, nil)

	resp, err := NewCompatClientWithModel("local-key", baseURL, "qwen").Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("unsafe")},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.StopReasonGuardrail, resp.StopReason)
}

func TestCompleteHTTPError(t *testing.T) {
	baseURL := newTestServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, nil)

	_, err := NewCompatClientWithModel("local-key", baseURL, "qwen").Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeAuth, llmerrors.TypeOf(err))
}
