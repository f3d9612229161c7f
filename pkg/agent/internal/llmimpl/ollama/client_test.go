package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/llmerrors"
	"chatagent/pkg/tools"
)

func weatherTool() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "get_weather",
		Description: "Get weather for a location",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"location": {Type: "string", Description: "City name"},
				"unit":     {Type: "string", Description: "Temperature unit", Enum: []string{"celsius", "fahrenheit"}},
			},
			Required: []string{"location"},
		},
	}
}

func TestNewOllamaClientWithModel(t *testing.T) {
	tests := []struct {
		name     string
		hostURL  string
		wantHost string
	}{
		{"valid host", "http://localhost:11434", "http://localhost:11434"},
		{"custom host", "http://192.168.1.100:11434", "http://192.168.1.100:11434"},
		{"empty uses default", "", DefaultHost},
		{"invalid URL falls back to default", "not-a-valid-url", DefaultHost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewOllamaClientWithModel(tt.hostURL, "gpt-oss:20b", nil)
			require.NotNil(t, client)
			assert.Equal(t, "gpt-oss:20b", client.GetModelName())
			assert.Equal(t, tt.wantHost, client.hostURL)
		})
	}
}

func TestConvertMessagesToOllama(t *testing.T) {
	_, err := convertMessagesToOllama(nil)
	assert.Error(t, err)

	msgs, err := convertMessagesToOllama([]llm.CompletionMessage{
		llm.NewSystemMessage("You are helpful."),
		llm.NewUserMessage("Weather in Paris?"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "get_weather", Parameters: map[string]any{"location": "Paris"}}}},
		llm.NewToolMessage("c1", "get_weather", `{"temp":21}`, false),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "Weather in Paris?", msgs[1].Content)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "get_weather", msgs[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "tool", msgs[3].Role)

	// Arguments survive the conversion.
	calls, err := convertToolCallsFromOllama(msgs[2].ToolCalls)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"location": "Paris"}, calls[0].Parameters)
}

func TestConvertToolsToOllama(t *testing.T) {
	result, err := convertToolsToOllama([]tools.ToolDefinition{weatherTool()})
	require.NoError(t, err)
	require.Len(t, result, 1)

	tool := result[0]
	assert.Equal(t, "function", tool.Type)
	assert.Equal(t, "get_weather", tool.Function.Name)
	assert.Equal(t, "object", tool.Function.Parameters.Type)
	assert.Equal(t, []string{"location"}, tool.Function.Parameters.Required)

	data, err := json.Marshal(tool)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	props := decoded["function"].(map[string]any)["parameters"].(map[string]any)["properties"].(map[string]any)
	assert.Contains(t, props, "location")
	unit := props["unit"].(map[string]any)
	assert.Len(t, unit["enum"], 2)
}

func TestConvertToolCallsFromOllama(t *testing.T) {
	args := api.NewToolCallFunctionArguments()
	args.Set("query", "test")

	calls, err := convertToolCallsFromOllama([]api.ToolCall{{Function: api.ToolCallFunction{Name: "search", Arguments: args}}})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_0", calls[0].ID)
	assert.Equal(t, "search", calls[0].Name)
	assert.Equal(t, map[string]any{"query": "test"}, calls[0].Parameters)

	none, err := convertToolCallsFromOllama(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGetStopReason(t *testing.T) {
	tests := []struct {
		name       string
		doneReason string
		toolCalls  bool
		want       string
	}{
		{"stop", "stop", false, llm.StopReasonEndTurn},
		{"length", "length", false, llm.StopReasonMaxTokens},
		{"empty", "", false, llm.StopReasonEndTurn},
		{"tool calls", "stop", true, llm.StopReasonToolUse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &api.ChatResponse{Done: true, DoneReason: tt.doneReason}
			assert.Equal(t, tt.want, getStopReason(resp, tt.toolCalls))
		})
	}
}

func TestCompleteAgainstServer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-oss:20b","message":{"role":"assistant","content":"",` +
			`"tool_calls":[{"function":{"name":"get_weather","arguments":{"location":"Denver"}}}]},` +
			`"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":5}`))
	}))
	defer srv.Close()

	client := NewOllamaClientWithModel(srv.URL, "gpt-oss:20b", srv.Client())
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages:    []llm.CompletionMessage{llm.NewUserMessage("Weather in Denver?")},
		Tools:       []tools.ToolDefinition{weatherTool()},
		MaxTokens:   256,
		Temperature: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, llm.StopReasonToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"location": "Denver"}, resp.ToolCalls[0].Parameters)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)

	assert.Equal(t, "gpt-oss:20b", got["model"])
	assert.Equal(t, false, got["stream"])
	assert.Len(t, got["tools"], 1)
	opts := got["options"].(map[string]any)
	assert.Equal(t, float64(256), opts["num_predict"])
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nope\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	client := NewOllamaClientWithModel(srv.URL, "nope", srv.Client())
	_, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeBadPrompt, llmerrors.TypeOf(err))
}

func TestCompleteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewOllamaClientWithModel(url, "gpt-oss:20b", nil)
	_, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeTransient, llmerrors.TypeOf(err))
}
