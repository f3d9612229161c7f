package toolloop

import (
	"fmt"
	"time"
)

// StopReason is the outcome reported to callers of Run.
type StopReason string

const (
	StopCompleted           StopReason = "completed"
	StopGuardrailIntervened StopReason = "guardrail_intervened"
	StopError               StopReason = "error"
)

// State tracks where a run is in the call/tool cycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingBackend
	StateToolRequested
	StateToolExecuting
	StateCompleted
	StateGuardrailBlocked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingBackend:
		return "AwaitingBackend"
	case StateToolRequested:
		return "ToolRequested"
	case StateToolExecuting:
		return "ToolExecuting"
	case StateCompleted:
		return "Completed"
	case StateGuardrailBlocked:
		return "GuardrailBlocked"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateGuardrailBlocked || s == StateFailed
}

// ToolInvocation records one executed tool call.
type ToolInvocation struct {
	ID       string
	Name     string
	IsError  bool
	Duration time.Duration
}

// Response is the result of one Run.
//
//nolint:govet // Field order optimized for readability over memory alignment
type Response struct {
	// Text is the model's final answer. For guardrail stops it is whatever
	// the backend produced and must not be shown to users.
	Text string

	StopReason StopReason

	// State is the terminal state the run reached.
	State State

	// RawStopReason is the backend's last stop reason, for logs.
	RawStopReason string

	// Iterations counts backend calls.
	Iterations int

	ToolCalls []ToolInvocation

	// Err is set when StopReason is StopError.
	Err error
}
