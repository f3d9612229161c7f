// Package metrics provides metrics recording for LLM client operations.
package metrics

import "time"

// Recorder defines the interface for recording agent metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model string,
		promptTokens, completionTokens int,
		stopReason string,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle increments the throttle counter for concurrency limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for a backend slot.
	ObserveQueueWait(model string, duration time.Duration)

	// ObserveToolCall records one tool execution.
	ObserveToolCall(tool string, isError bool, duration time.Duration)

	// ObserveChatRequest records one handled chat request by route and outcome.
	ObserveChatRequest(route, outcome string)

	// SetActiveSessions reports the number of live conversations.
	SetActiveSessions(n int)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_ string, _, _ int, _ string, _ bool, _ string, _ time.Duration) {
}

// IncThrottle does nothing in the no-op recorder.
func (n *NoopRecorder) IncThrottle(_, _ string) {}

// ObserveQueueWait does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// ObserveToolCall does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveToolCall(_ string, _ bool, _ time.Duration) {}

// ObserveChatRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveChatRequest(_, _ string) {}

// SetActiveSessions does nothing in the no-op recorder.
func (n *NoopRecorder) SetActiveSessions(_ int) {}
