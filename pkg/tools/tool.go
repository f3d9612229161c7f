// Package tools provides the capabilities the agent may invoke on the model's behalf.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Built-in tool names.
const (
	ToolHTTPRequest = "http_request"
	ToolFileRead    = "file_read"
	ToolFileWrite   = "file_write"
	ToolCurrentTime = "current_time"
)

var (
	// ErrToolNotAllowed is returned when a tool is outside the provider's allow list.
	ErrToolNotAllowed = errors.New("tool not allowed")
	// ErrToolNotRegistered is returned when no factory exists for a tool name.
	ErrToolNotRegistered = errors.New("tool not registered")
	// ErrPathEscapesRoot is returned when a file path resolves outside the tool root.
	ErrPathEscapesRoot = errors.New("path escapes tool root")
)

// Tool is a single invocable capability.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
}

// ToolDefinition describes a tool to the model backend.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema is the JSON-schema subset used for tool parameters.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property is one parameter in an InputSchema.
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
}

// ExecResult is the text handed back to the model.
type ExecResult struct {
	Content string
}

// ToMap renders the schema as a plain JSON-schema object.
func (s InputSchema) ToMap() map[string]any {
	out := map[string]any{"type": s.Type}
	if s.Type == "" {
		out["type"] = "object"
	}
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.toMap()
	}
	out["properties"] = props
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

func (p Property) toMap() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = p.Items.toMap()
	}
	if len(p.Properties) > 0 {
		props := make(map[string]any, len(p.Properties))
		for name, sub := range p.Properties {
			props[name] = sub.toMap()
		}
		out["properties"] = props
	}
	return out
}

// jsonResult marshals a result payload for the model.
func jsonResult(payload map[string]any) (*ExecResult, error) {
	content, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &ExecResult{Content: string(content)}, nil
}

// errorResult reports a tool-level failure as content rather than a Go error.
func errorResult(msg string) (*ExecResult, error) {
	return jsonResult(map[string]any{
		"success": false,
		"error":   msg,
	})
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

// intArgOrDefault handles float64 (from JSON), int and int64 values.
func intArgOrDefault(args map[string]any, key string, defaultVal int) int {
	v, exists := args[key]
	if !exists {
		return defaultVal
	}
	var n int
	switch val := v.(type) {
	case float64:
		n = int(val)
	case int:
		n = val
	case int64:
		n = int(val)
	default:
		return defaultVal
	}
	if n < 1 {
		return defaultVal
	}
	return n
}
