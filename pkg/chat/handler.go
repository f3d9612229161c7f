// Package chat turns one user message into one reply: it leases the
// session's conversation window, runs the agent loop and maps the outcome to
// user-facing text.
package chat

import (
	"context"
	"fmt"
	"time"

	"chatagent/pkg/agent/toolloop"
	"chatagent/pkg/contextmgr"
	"chatagent/pkg/logx"
)

// User-facing replies for non-completed runs.
const (
	RefusalText = "Sorry, that request was blocked by content safeguards."
	ErrorText   = "Sorry, something went wrong while processing your request."
)

const logPreviewRunes = 120

// Outcome classifies a handled request for metrics and logs.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeBlocked   Outcome = "guardrail_intervened"
	OutcomeError     Outcome = "error"
)

// Runner executes one user turn against a window.
type Runner interface {
	Run(ctx context.Context, window *contextmgr.Window, userText string) toolloop.Response
}

// Sessions leases conversation windows by key.
type Sessions interface {
	Acquire(ctx context.Context, id string) (*contextmgr.Lease, error)
}

// Reply is what the caller shows the user.
type Reply struct {
	Response  string
	SessionID string
	Outcome   Outcome
}

// Handler answers chat requests. Safe for concurrent use; requests on the
// same session are serialized by the session store.
type Handler struct {
	runner   Runner
	sessions Sessions
	redactor *Redactor
	logger   *logx.Logger
}

// NewHandler creates a handler.
func NewHandler(runner Runner, sessions Sessions, logger *logx.Logger) *Handler {
	if logger == nil {
		logger = logx.NewLogger("chat")
	}
	return &Handler{
		runner:   runner,
		sessions: sessions,
		redactor: NewRedactor(),
		logger:   logger,
	}
}

// Handle runs userInput in the session identified by sessionID, creating a
// new session when sessionID is empty. It returns an error only when the
// session could not be acquired; every run outcome becomes a Reply.
func (h *Handler) Handle(ctx context.Context, sessionID, userInput string) (Reply, error) {
	lease, err := h.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer lease.Release()

	h.logger.Info("💬 session %s: %q", lease.ID, h.redactor.Preview(userInput, logPreviewRunes))

	start := time.Now()
	resp := h.runner.Run(ctx, lease.Window, userInput)
	elapsed := time.Since(start)

	reply := Reply{SessionID: lease.ID}
	switch resp.StopReason {
	case toolloop.StopGuardrailIntervened:
		h.logger.Warn("session %s: request blocked by content safeguards (raw stop reason %q, %d backend calls)",
			lease.ID, resp.RawStopReason, resp.Iterations)
		reply.Response = RefusalText
		reply.Outcome = OutcomeBlocked
	case toolloop.StopCompleted:
		h.logger.Info("session %s: completed in %.3gs (%d backend calls, %d tool calls, window %d turns)",
			lease.ID, elapsed.Seconds(), resp.Iterations, len(resp.ToolCalls), lease.Window.Len())
		reply.Response = resp.Text
		reply.Outcome = OutcomeCompleted
	default:
		h.logger.Error("session %s: run failed after %.3gs in state %s: %v",
			lease.ID, elapsed.Seconds(), resp.State, resp.Err)
		reply.Response = ErrorText
		reply.Outcome = OutcomeError
	}
	return reply, nil
}
