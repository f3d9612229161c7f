package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompletionRequestDefaults(t *testing.T) {
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")})
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.InDelta(t, DefaultTemperature, req.Temperature, 0.0001)
	assert.NoError(t, req.Validate())
}

func TestCompletionRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  CompletionRequest
	}{
		{"no messages", CompletionRequest{}},
		{"negative tokens", CompletionRequest{Messages: []CompletionMessage{NewUserMessage("x")}, MaxTokens: -1}},
		{"temperature high", CompletionRequest{Messages: []CompletionMessage{NewUserMessage("x")}, Temperature: 2.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.req.Validate())
		})
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]CompletionMessage{
		NewSystemMessage("be brief"),
		NewUserMessage("hello"),
		NewSystemMessage("use tools"),
		NewToolMessage("c1", "current_time", "{}", false),
	})

	assert.Equal(t, "be brief\n\nuse tools", system)
	require.Len(t, rest, 2)
	assert.Equal(t, RoleUser, rest[0].Role)
	assert.Equal(t, RoleTool, rest[1].Role)
	assert.Equal(t, "c1", rest[1].ToolCallID)
}

type recordingClient struct {
	calls []string
}

func (c *recordingClient) Complete(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
	c.calls = append(c.calls, "base")
	return CompletionResponse{Content: "ok", StopReason: StopReasonEndTurn}, nil
}

func (c *recordingClient) GetModelName() string { return "test-model" }

func TestChainOrder(t *testing.T) {
	base := &recordingClient{}
	tag := func(name string) Middleware {
		return func(next LLMClient) LLMClient {
			return WrapClient(func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				base.calls = append(base.calls, name)
				return next.Complete(ctx, req)
			}, next.GetModelName)
		}
	}

	client := Chain(base, tag("outer"), nil, tag("inner"))
	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("x")}))
	require.NoError(t, err)

	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, []string{"outer", "inner", "base"}, base.calls)
	assert.Equal(t, "test-model", client.GetModelName())
}
