package bedrock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
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
		expectRoles  []types.ConversationRole
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
			expectRoles:  []types.ConversationRole{types.ConversationRoleUser},
		},
		{
			name: "leading assistant dropped",
			input: []llm.CompletionMessage{
				{Role: llm.RoleAssistant, Content: "stale"},
				llm.NewUserMessage("Hello"),
			},
			expectRoles: []types.ConversationRole{types.ConversationRoleUser},
		},
		{
			name: "parallel tool results share one user message",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("Weather?"),
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "t1", Name: "get_weather"}, {ID: "t2", Name: "get_weather"}}},
				llm.NewToolMessage("t1", "get_weather", "sunny", false),
				llm.NewToolMessage("t2", "get_weather", "Error: boom", true),
			},
			expectRoles: []types.ConversationRole{
				types.ConversationRoleUser, types.ConversationRoleAssistant, types.ConversationRoleUser,
			},
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
			roles := make([]types.ConversationRole, len(msgs))
			for i := range msgs {
				roles[i] = msgs[i].Role
			}
			assert.Equal(t, tt.expectRoles, roles)
		})
	}
}

func TestBuildMessagesMarksFailedToolResult(t *testing.T) {
	_, msgs, err := buildMessages([]llm.CompletionMessage{
		llm.NewUserMessage("Weather?"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "t1", Name: "get_weather"}}},
		llm.NewToolMessage("t1", "get_weather", "Error: boom", true),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	block, ok := msgs[2].Content[0].(*types.ContentBlockMemberToolResult)
	require.True(t, ok)
	assert.Equal(t, "t1", aws.ToString(block.Value.ToolUseId))
	assert.Equal(t, types.ToolResultStatusError, block.Value.Status)
}

func TestNormalizeStopReason(t *testing.T) {
	assert.Equal(t, llm.StopReasonGuardrail, normalizeStopReason(types.StopReasonGuardrailIntervened, false))
	assert.Equal(t, llm.StopReasonGuardrail, normalizeStopReason(types.StopReasonContentFiltered, false))
	assert.Equal(t, llm.StopReasonToolUse, normalizeStopReason(types.StopReasonToolUse, true))
	assert.Equal(t, llm.StopReasonMaxTokens, normalizeStopReason(types.StopReasonMaxTokens, false))
	assert.Equal(t, llm.StopReasonEndTurn, normalizeStopReason(types.StopReasonEndTurn, false))
	assert.Equal(t, llm.StopReasonEndTurn, normalizeStopReason(types.StopReasonStopSequence, false))
}

func staticCredentials() aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "AKIDTEST", SecretAccessKey: "secret", Source: "test"}, nil
	})
}

// isolateAWSEnv keeps the developer's AWS profile out of the test.
func isolateAWSEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")
}

func newTestClient(t *testing.T, status int, body string, guardrailID string, captured *map[string]any) *Client {
	t.Helper()
	isolateAWSEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasPrefix(r.URL.Path, "/model/"), r.URL.Path)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/converse"), r.URL.Path)
		if captured != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		if status >= http.StatusBadRequest {
			w.Header().Set("X-Amzn-ErrorType", errorTypeFor(status))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client, err := NewBedrockClientWithModel(context.Background(), DefaultModel, Options{
		Region:      "us-east-1",
		GuardrailID: guardrailID,
		BaseURL:     srv.URL,
		HTTPClient:  srv.Client(),
		Credentials: staticCredentials(),
	})
	require.NoError(t, err)
	return client
}

func errorTypeFor(status int) string {
	switch status {
	case http.StatusForbidden:
		return "AccessDeniedException"
	case http.StatusTooManyRequests:
		return "ThrottlingException"
	case http.StatusBadRequest:
		return "ValidationException"
	default:
		return "InternalServerException"
	}
}

func TestNewBedrockClientDefaults(t *testing.T) {
	isolateAWSEnv(t)
	client, err := NewBedrockClientWithModel(context.Background(), "", Options{
		Region:      "eu-west-1",
		Credentials: staticCredentials(),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.GetModelName())
	assert.Nil(t, client.guardrail)

	client, err = NewBedrockClientWithModel(context.Background(), "anthropic.claude-3-haiku", Options{
		Region:      "eu-west-1",
		GuardrailID: "gr-1",
		Credentials: staticCredentials(),
	})
	require.NoError(t, err)
	require.NotNil(t, client.guardrail)
	assert.Equal(t, "gr-1", aws.ToString(client.guardrail.GuardrailIdentifier))
	assert.Equal(t, DefaultGuardrailVersion, aws.ToString(client.guardrail.GuardrailVersion))
}

func TestCompleteToolUse(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.StatusOK, `{
		"output":{"message":{"role":"assistant","content":[
			{"text":"Checking."},
			{"toolUse":{"toolUseId":"tu_1","name":"get_weather","input":{"location":"Paris","days":2}}}]}},
		"stopReason":"tool_use",
		"usage":{"inputTokens":20,"outputTokens":7,"totalTokens":27},
		"metrics":{"latencyMs":12}}`, "", &got)

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
	assert.Equal(t, "tu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"location": "Paris", "days": float64(2)}, resp.ToolCalls[0].Parameters)
	assert.Equal(t, 20, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)

	system := got["system"].([]any)
	assert.Equal(t, "Be brief.", system[0].(map[string]any)["text"])
	inference := got["inferenceConfig"].(map[string]any)
	assert.EqualValues(t, 128, inference["maxTokens"])
	toolSpecs := got["toolConfig"].(map[string]any)["tools"].([]any)
	require.Len(t, toolSpecs, 1)
	spec := toolSpecs[0].(map[string]any)["toolSpec"].(map[string]any)
	assert.Equal(t, "get_weather", spec["name"])
	assert.NotContains(t, got, "guardrailConfig")
}

func TestCompleteSendsGuardrailConfig(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.StatusOK, `{
		"output":{"message":{"role":"assistant","content":[{"text":"Hello."}]}},
		"stopReason":"end_turn","usage":{"inputTokens":3,"outputTokens":1,"totalTokens":4}}`, "gr-1", &got)

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.StopReasonEndTurn, resp.StopReason)

	guardrail := got["guardrailConfig"].(map[string]any)
	assert.Equal(t, "gr-1", guardrail["guardrailIdentifier"])
	assert.Equal(t, DefaultGuardrailVersion, guardrail["guardrailVersion"])
}

func TestCompleteGuardrailIntervened(t *testing.T) {
	client := newTestClient(t, http.StatusOK, `{
		"output":{"message":{"role":"assistant","content":[{"text":"Sorry, I can't help with that."}]}},
		"stopReason":"guardrail_intervened","usage":{"inputTokens":5,"outputTokens":0,"totalTokens":5}}`, "gr-1", nil)

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("something unsafe")},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.StopReasonGuardrail, resp.StopReason)
	assert.Equal(t, "guardrail_intervened", resp.RawStopReason)
}

func TestCompleteSendsToolResults(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.StatusOK, `{
		"output":{"message":{"role":"assistant","content":[{"text":"It is sunny."}]}},
		"stopReason":"end_turn","usage":{"inputTokens":30,"outputTokens":4,"totalTokens":34}}`, "", &got)

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewUserMessage("Weather?"),
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "tu_1", Name: "get_weather", Parameters: map[string]any{"location": "Paris"}}}},
			llm.NewToolMessage("tu_1", "get_weather", "sunny", false),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "It is sunny.", resp.Content)

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 3)
	call := msgs[1].(map[string]any)["content"].([]any)[0].(map[string]any)["toolUse"].(map[string]any)
	assert.Equal(t, "tu_1", call["toolUseId"])
	assert.Equal(t, map[string]any{"location": "Paris"}, call["input"])
	last := msgs[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
	result := last["content"].([]any)[0].(map[string]any)["toolResult"].(map[string]any)
	assert.Equal(t, "tu_1", result["toolUseId"])
}

func TestCompleteEmptyResponse(t *testing.T) {
	client := newTestClient(t, http.StatusOK, `{
		"output":{"message":{"role":"assistant","content":[]}},
		"stopReason":"end_turn","usage":{"inputTokens":3,"outputTokens":0,"totalTokens":3}}`, "", nil)

	_, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeEmptyResponse, llmerrors.TypeOf(err))
}

func TestCompleteErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   llmerrors.ErrorType
	}{
		{http.StatusForbidden, llmerrors.ErrorTypeAuth},
		{http.StatusTooManyRequests, llmerrors.ErrorTypeRateLimit},
		{http.StatusBadRequest, llmerrors.ErrorTypeBadPrompt},
		{http.StatusInternalServerError, llmerrors.ErrorTypeTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, tt.status, `{"message":"nope"}`, "", nil)
			_, err := client.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
			})
			require.Error(t, err)
			assert.Equal(t, tt.want, llmerrors.TypeOf(err))
		})
	}
}
