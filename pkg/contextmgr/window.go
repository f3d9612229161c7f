// Package contextmgr holds bounded per-session conversation history.
package contextmgr

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/utils"
)

// Role is the author of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

const (
	DefaultWindowSize        = 10
	DefaultTruncateThreshold = 4000
)

// Turn is one message unit in a conversation. Turns are copied in and out of
// the window and never mutated once appended.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Turn struct {
	Role       Role
	Content    string
	ToolName   string
	ToolCallID string
	ToolCalls  []llm.ToolCall
	IsError    bool
}

// WindowConfig bounds a Window.
type WindowConfig struct {
	WindowSize            int  `json:"window_size"`
	ShouldTruncateResults bool `json:"should_truncate_results"`
	TruncateThreshold     int  `json:"truncate_threshold"` // characters
}

// DefaultWindowConfig returns a ten-turn window with truncation enabled.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		WindowSize:            DefaultWindowSize,
		ShouldTruncateResults: true,
		TruncateThreshold:     DefaultTruncateThreshold,
	}
}

func (c WindowConfig) normalized() WindowConfig {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.TruncateThreshold <= 0 {
		c.TruncateThreshold = DefaultTruncateThreshold
	}
	return c
}

// Window is a FIFO-bounded conversation history. Safe for concurrent use.
type Window struct {
	mu    sync.RWMutex
	cfg   WindowConfig
	turns []Turn
	// slid is set once a turn has been evicted. From then on a leading tool
	// turn cannot have its requesting assistant turn in the window.
	slid bool
}

// NewWindow creates an empty window. Non-positive limits fall back to defaults.
func NewWindow(cfg WindowConfig) *Window {
	cfg = cfg.normalized()
	return &Window{
		cfg:   cfg,
		turns: make([]Turn, 0, cfg.WindowSize+1),
	}
}

// Config returns the window's limits.
func (w *Window) Config() WindowConfig {
	return w.cfg
}

// Append adds turn to the end and evicts the oldest turns past WindowSize.
// Tool results left at the front without their requesting assistant turn
// are evicted too.
func (w *Window) Append(turn Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.appendLocked(turn)
}

func (w *Window) appendLocked(turn Turn) {
	turn.ToolCalls = cloneToolCalls(turn.ToolCalls)
	w.turns = append(w.turns, turn)

	evict := 0
	if over := len(w.turns) - w.cfg.WindowSize; over > 0 {
		evict = over
		w.slid = true
	}
	if w.slid {
		for evict < len(w.turns) && w.turns[evict].Role == RoleTool {
			evict++
		}
	}
	if evict == 0 {
		return
	}

	// Shift down rather than reslice so the backing array doesn't grow forever.
	n := copy(w.turns, w.turns[evict:])
	for i := n; i < len(w.turns); i++ {
		w.turns[i] = Turn{}
	}
	w.turns = w.turns[:n]
}

// RecordToolResult appends a tool turn, truncating oversized content first
// when truncation is enabled. It returns the turn as stored, which eviction
// may already have removed from the window.
func (w *Window) RecordToolResult(turn Turn) Turn {
	turn.Role = RoleTool
	if w.cfg.ShouldTruncateResults {
		turn.Content = TruncateContent(turn.Content, w.cfg.TruncateThreshold)
	}
	w.Append(turn)
	turn.ToolCalls = cloneToolCalls(turn.ToolCalls)
	return turn
}

// TruncateContent keeps the first limit characters of content and appends a
// marker naming how many were removed.
func TruncateContent(content string, limit int) string {
	total := utf8.RuneCountInString(content)
	if limit <= 0 || total <= limit {
		return content
	}

	cut := 0
	for i := range content {
		if cut == limit {
			return content[:i] + TruncationMarker(total-limit)
		}
		cut++
	}
	return content
}

// TruncationMarker is the suffix added to a truncated tool result.
func TruncationMarker(removed int) string {
	return fmt.Sprintf("\n...[truncated %d chars]", removed)
}

// AsContext returns the retained turns in order. Turns and their tool calls
// are copies.
func (w *Window) AsContext() []Turn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Turn, len(w.turns))
	copy(out, w.turns)
	for i := range out {
		out[i].ToolCalls = cloneToolCalls(out[i].ToolCalls)
	}
	return out
}

// cloneToolCalls deep-copies calls including their parameter maps.
func cloneToolCalls(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		out[i].Parameters = cloneValue(out[i].Parameters).(map[string]any)
	}
	return out
}

// cloneValue copies the maps and slices a decoded JSON value is built from.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		if val == nil {
			return val
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Len returns the number of retained turns.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.turns)
}

// Clear removes all turns.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.turns {
		w.turns[i] = Turn{}
	}
	w.turns = w.turns[:0]
	w.slid = false
}

// Summary describes the window for logs and listings.
type Summary struct {
	Turns  int            `json:"turns"`
	Tokens int            `json:"tokens"`
	Roles  map[string]int `json:"roles"`
}

// Summarize counts turns by role and estimates the token footprint.
func (w *Window) Summarize() Summary {
	turns := w.AsContext()
	s := Summary{Turns: len(turns), Roles: make(map[string]int)}
	for i := range turns {
		s.Roles[string(turns[i].Role)]++
		s.Tokens += utils.CountTokensSimple(turns[i].Content)
	}
	return s
}

func (s Summary) String() string {
	if s.Turns == 0 {
		return "Empty context"
	}
	roles := make([]string, 0, len(s.Roles))
	for role, count := range s.Roles {
		roles = append(roles, fmt.Sprintf("%s: %d", role, count))
	}
	sort.Strings(roles)
	return fmt.Sprintf("%d turns (%d tokens) - %s", s.Turns, s.Tokens, strings.Join(roles, ", "))
}

// ToMessages converts turns into backend messages behind a system prompt.
func ToMessages(systemPrompt string, turns []Turn) []llm.CompletionMessage {
	msgs := make([]llm.CompletionMessage, 0, len(turns)+1)
	if systemPrompt != "" {
		msgs = append(msgs, llm.NewSystemMessage(systemPrompt))
	}
	for i := range turns {
		t := &turns[i]
		switch t.Role {
		case RoleUser:
			msgs = append(msgs, llm.NewUserMessage(t.Content))
		case RoleAssistant:
			msgs = append(msgs, llm.CompletionMessage{
				Role:      llm.RoleAssistant,
				Content:   t.Content,
				ToolCalls: t.ToolCalls,
			})
		case RoleTool:
			msgs = append(msgs, llm.NewToolMessage(t.ToolCallID, t.ToolName, t.Content, t.IsError))
		}
	}
	return msgs
}
