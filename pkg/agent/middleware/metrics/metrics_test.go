package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatagent/internal/mocks"
	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/llmerrors"
)

func TestMiddlewareRecordsSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(reg)

	mock := mocks.NewMockLLMClient()
	mock.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{
			Content:    "hi",
			StopReason: llm.StopReasonEndTurn,
			Usage:      llm.Usage{InputTokens: 10, OutputTokens: 3},
		}, nil
	})

	client := llm.Chain(mock, Middleware(recorder, nil, nil))
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")}))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.requestsTotal.WithLabelValues("mock-model", "success", llm.StopReasonEndTurn, "")))
	assert.Equal(t, 10.0, testutil.ToFloat64(recorder.tokensTotal.WithLabelValues("mock-model", "prompt")))
	assert.Equal(t, 3.0, testutil.ToFloat64(recorder.tokensTotal.WithLabelValues("mock-model", "completion")))
	assert.Equal(t, 1, testutil.CollectAndCount(recorder.requestDuration))
}

func TestMiddlewareRecordsErrorType(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(reg)

	mock := mocks.NewMockLLMClient()
	mock.FailCompleteWith(llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key"))

	client := llm.Chain(mock, Middleware(recorder, nil, nil))
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth), "error passes through unchanged")

	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.requestsTotal.WithLabelValues("mock-model", "error", "", "auth")))
	assert.Equal(t, 0, testutil.CollectAndCount(recorder.tokensTotal))
}

func TestDefaultUsageExtractorFallsBackToEstimate(t *testing.T) {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("The quick brown fox jumps over the lazy dog")})
	prompt, completion := DefaultUsageExtractor(req, llm.CompletionResponse{Content: "ok"})
	assert.Greater(t, prompt, 0)
	assert.Greater(t, completion, 0)

	prompt, completion = DefaultUsageExtractor(req, llm.CompletionResponse{Usage: llm.Usage{InputTokens: 7, OutputTokens: 2}})
	assert.Equal(t, 7, prompt)
	assert.Equal(t, 2, completion)
}

func TestRecorderAuxiliaryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(reg)

	recorder.ObserveToolCall("http_request", false, 20*time.Millisecond)
	recorder.ObserveToolCall("http_request", true, 5*time.Millisecond)
	recorder.ObserveChatRequest("/chat", "completed")
	recorder.SetActiveSessions(4)
	recorder.IncThrottle("mock-model", "concurrency")
	recorder.ObserveQueueWait("mock-model", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.toolCallsTotal.WithLabelValues("http_request", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.toolCallsTotal.WithLabelValues("http_request", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.chatRequests.WithLabelValues("/chat", "completed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(recorder.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.throttleTotal.WithLabelValues("mock-model", "concurrency")))

	names, err := reg.Gather()
	require.NoError(t, err)
	var found []string
	for _, mf := range names {
		found = append(found, mf.GetName())
	}
	assert.Contains(t, found, "chatagent_tool_calls_total")
	assert.Contains(t, found, "chatagent_sessions_active")
}

func TestNopRecorder(t *testing.T) {
	r := Nop()
	r.ObserveRequest("m", 1, 1, "", true, "", time.Second)
	r.ObserveToolCall("t", false, time.Second)
	r.ObserveChatRequest("/chat", "completed")
	r.SetActiveSessions(1)

	mock := mocks.NewMockLLMClient()
	mock.FailCompleteWith(errors.New("boom"))
	_, err := llm.Chain(mock, Middleware(nil, nil, nil)).Complete(context.Background(), llm.CompletionRequest{})
	assert.EqualError(t, err, "boom")
}
