// Package toolloop drives the call-model / run-tools / resubmit cycle
// against a conversation window.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/llmerrors"
	"chatagent/pkg/contextmgr"
	"chatagent/pkg/logx"
	"chatagent/pkg/tools"
)

const (
	DefaultMaxToolRounds = 10
	logDomain            = "toolloop"
)

// ToolProvider is what the loop needs from a tool set.
type ToolProvider interface {
	Get(name string) (tools.Tool, error)
	Definitions() []tools.ToolDefinition
}

// ToolObserver is told about every executed tool call.
type ToolObserver func(name string, isError bool, duration time.Duration)

// Config defines how the tool loop behaves.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Config struct {
	SystemPrompt string
	ToolProvider ToolProvider // nil = no tools

	// MaxToolRounds caps how many times tools run within one Run.
	MaxToolRounds int
	MaxTokens     int
	Temperature   float32

	// DebugLogging logs every message sent to the backend.
	DebugLogging bool

	OnToolCall ToolObserver
}

// ToolLoop runs user turns through a model backend.
type ToolLoop struct {
	llmClient llm.LLMClient
	cfg       Config
	toolDefs  []tools.ToolDefinition
	logger    *logx.Logger
}

// New creates a ToolLoop. Zero limits in cfg fall back to defaults.
func New(llmClient llm.LLMClient, cfg Config, logger *logx.Logger) *ToolLoop {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	if logger == nil {
		logger = logx.NewLogger("toolloop")
	}

	var defs []tools.ToolDefinition
	if cfg.ToolProvider != nil {
		defs = cfg.ToolProvider.Definitions()
	}

	return &ToolLoop{
		llmClient: llmClient,
		cfg:       cfg,
		toolDefs:  defs,
		logger:    logger,
	}
}

// ModelName returns the backend model name.
func (tl *ToolLoop) ModelName() string {
	return tl.llmClient.GetModelName()
}

// run carries per-call bookkeeping.
type run struct {
	resp  Response
	state State
}

func (tl *ToolLoop) transition(ctx context.Context, r *run, next State) {
	logx.Debug(ctx, logDomain, "State %s -> %s", r.state, next)
	r.state = next
}

func (tl *ToolLoop) finish(ctx context.Context, r *run, state State, reason StopReason, err error) Response {
	tl.transition(ctx, r, state)
	r.resp.State = state
	r.resp.StopReason = reason
	r.resp.Err = err
	return r.resp
}

// Run appends userText to window, then calls the backend until it returns a
// final answer, a guardrail block or an error. Tool failures are fed back to
// the model as tool results. Backend failures are returned, never retried.
func (tl *ToolLoop) Run(ctx context.Context, window *contextmgr.Window, userText string) Response {
	ctx = logx.WithComponent(ctx, tl.logger.Component())
	r := &run{state: StateIdle}
	if window == nil {
		return tl.finish(ctx, r, StateFailed, StopError, ErrNoWindow)
	}

	userTurn := contextmgr.Turn{Role: contextmgr.RoleUser, Content: userText}
	window.Append(userTurn)

	// pending is the last round's assistant turn and its results. A window
	// smaller than the round evicts them, so they are sent alongside it.
	var pending []contextmgr.Turn

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			tl.logger.Warn("run canceled before backend call %d: %v", round+1, err)
			return tl.finish(ctx, r, StateFailed, StopError, err)
		}

		tl.transition(ctx, r, StateAwaitingBackend)
		turns := withUserTurn(withPendingRound(window.AsContext(), pending), userTurn)
		messages := contextmgr.ToMessages(tl.cfg.SystemPrompt, turns)
		req := llm.CompletionRequest{
			Messages:    messages,
			Tools:       tl.toolDefs,
			MaxTokens:   tl.cfg.MaxTokens,
			Temperature: tl.cfg.Temperature,
		}

		tl.logger.Info("🔄 Starting LLM call to model '%s' with %d messages, %d tools (iteration %d)",
			tl.llmClient.GetModelName(), len(messages), len(tl.toolDefs), round+1)
		if tl.cfg.DebugLogging {
			tl.logMessages(messages)
		}

		start := time.Now()
		resp, err := tl.llmClient.Complete(ctx, req)
		duration := time.Since(start)
		r.resp.Iterations++

		if err != nil {
			tl.logger.Error("❌ LLM call failed after %.3gs (%s): %v",
				duration.Seconds(), llmerrors.TypeOf(err), err)
			return tl.finish(ctx, r, StateFailed, StopError, fmt.Errorf("LLM completion failed: %w", err))
		}
		r.resp.RawStopReason = resp.RawStopReason
		if r.resp.RawStopReason == "" {
			r.resp.RawStopReason = resp.StopReason
		}

		tl.logger.Info("✅ LLM call completed in %.3gs, stop reason: %s, response length: %d chars, tool calls: %d",
			duration.Seconds(), resp.StopReason, len(resp.Content), len(resp.ToolCalls))

		if resp.StopReason == llm.StopReasonGuardrail {
			tl.logger.Warn("🛑 backend safety layer blocked the exchange (raw stop reason %q)", r.resp.RawStopReason)
			r.resp.Text = resp.Content
			return tl.finish(ctx, r, StateGuardrailBlocked, StopGuardrailIntervened, nil)
		}

		if len(resp.ToolCalls) == 0 {
			if resp.StopReason == llm.StopReasonMaxTokens {
				tl.logger.Warn("response hit the max token limit (%d); returning partial answer", tl.cfg.MaxTokens)
			}
			window.Append(contextmgr.Turn{Role: contextmgr.RoleAssistant, Content: resp.Content})
			r.resp.Text = resp.Content
			return tl.finish(ctx, r, StateCompleted, StopCompleted, nil)
		}

		tl.transition(ctx, r, StateToolRequested)
		if round >= tl.cfg.MaxToolRounds {
			tl.logger.Warn("⚠️  Maximum tool rounds (%d) reached", tl.cfg.MaxToolRounds)
			return tl.finish(ctx, r, StateFailed, StopError,
				fmt.Errorf("%w (%d)", ErrMaxToolRounds, tl.cfg.MaxToolRounds))
		}

		calls := assignCallIDs(resp.ToolCalls, round)
		request := contextmgr.Turn{
			Role:      contextmgr.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: calls,
		}
		window.Append(request)
		pending = append(pending[:0], request)

		tl.transition(ctx, r, StateToolExecuting)
		tl.logger.Info("Processing %d tool calls", len(calls))
		for i := range calls {
			inv, stored := tl.execTool(ctx, window, &calls[i])
			r.resp.ToolCalls = append(r.resp.ToolCalls, inv)
			pending = append(pending, stored)
		}
	}
}

// execTool runs one call and records its result turn, returning the turn as
// the window stored it.
func (tl *ToolLoop) execTool(ctx context.Context, window *contextmgr.Window, call *llm.ToolCall) (ToolInvocation, contextmgr.Turn) {
	tl.logger.Info("Executing tool: %s", call.Name)
	start := time.Now()
	content, isError := tl.invoke(ctx, call)
	duration := time.Since(start)

	if isError {
		tl.logger.Warn("Tool %s failed after %.3fs", call.Name, duration.Seconds())
	} else {
		tl.logger.Info("Tool %s completed in %.3fs", call.Name, duration.Seconds())
	}
	if tl.cfg.OnToolCall != nil {
		tl.cfg.OnToolCall(call.Name, isError, duration)
	}

	stored := window.RecordToolResult(contextmgr.Turn{
		Role:       contextmgr.RoleTool,
		Content:    content,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		IsError:    isError,
	})

	return ToolInvocation{ID: call.ID, Name: call.Name, IsError: isError, Duration: duration}, stored
}

func (tl *ToolLoop) invoke(ctx context.Context, call *llm.ToolCall) (string, bool) {
	if tl.cfg.ToolProvider == nil {
		return fmt.Sprintf("Error: tool '%s' is not available", call.Name), true
	}
	tool, err := tl.cfg.ToolProvider.Get(call.Name)
	if err != nil {
		return fmt.Sprintf("Error: tool '%s' is not available: %v", call.Name, err), true
	}

	params := call.Parameters
	if params == nil {
		params = map[string]any{}
	}
	result, err := tool.Exec(ctx, params)
	return formatToolResult(result, err)
}

// formatToolResult converts a tool outcome into result text.
func formatToolResult(result *tools.ExecResult, err error) (string, bool) {
	if err != nil {
		return fmt.Sprintf("Error: %v", err), true
	}
	if result == nil {
		return "", false
	}

	var envelope struct {
		Success *bool `json:"success"`
	}
	if json.Unmarshal([]byte(result.Content), &envelope) == nil && envelope.Success != nil && !*envelope.Success {
		return result.Content, true
	}
	return result.Content, false
}

// assignCallIDs fills in IDs for backends that omit them.
func assignCallIDs(calls []llm.ToolCall, round int) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = fmt.Sprintf("call_%d_%d", round+1, i+1)
		}
	}
	return out
}

// withPendingRound makes sure the latest tool round reaches the backend whole.
// Whatever part of it the window still holds is replaced by the full round,
// placed last.
func withPendingRound(turns, pending []contextmgr.Turn) []contextmgr.Turn {
	if len(pending) == 0 {
		return turns
	}
	ids := make(map[string]bool, len(pending[0].ToolCalls))
	for i := range pending[0].ToolCalls {
		ids[pending[0].ToolCalls[i].ID] = true
	}

	out := make([]contextmgr.Turn, 0, len(turns)+len(pending))
	for i := range turns {
		t := &turns[i]
		switch {
		case t.Role == contextmgr.RoleTool && ids[t.ToolCallID]:
			continue
		case t.Role == contextmgr.RoleAssistant && len(t.ToolCalls) > 0 && ids[t.ToolCalls[0].ID]:
			continue
		}
		out = append(out, *t)
	}
	return append(out, pending...)
}

// withUserTurn guarantees the current user turn is in the context even if a
// tiny window has already evicted it.
func withUserTurn(turns []contextmgr.Turn, user contextmgr.Turn) []contextmgr.Turn {
	for i := range turns {
		if turns[i].Role == contextmgr.RoleUser {
			return turns
		}
	}
	return append([]contextmgr.Turn{user}, turns...)
}

func (tl *ToolLoop) logMessages(messages []llm.CompletionMessage) {
	tl.logger.Info("📝 DEBUG - Messages sent to LLM:")
	for i := range messages {
		msg := &messages[i]
		preview := msg.Content
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		toolInfo := ""
		if len(msg.ToolCalls) > 0 {
			toolInfo = fmt.Sprintf(", ToolCalls: %d", len(msg.ToolCalls))
		}
		if msg.ToolCallID != "" {
			toolInfo += fmt.Sprintf(", ToolCallID: %s, IsError: %v", msg.ToolCallID, msg.IsError)
		}
		tl.logger.Info("  [%d] Role: %s, Content: %q%s", i, msg.Role, preview, toolInfo)
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			tl.logger.Info("    ToolCall[%d] ID=%s Name=%s Params=%v", j, tc.ID, tc.Name, tc.Parameters)
		}
	}
}
