// Package logging provides logging middleware for LLM clients.
package logging

import (
	"context"
	"strings"
	"time"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/llmerrors"
	"chatagent/pkg/logx"
	"chatagent/pkg/tools"
)

// maxDumpChars caps each message printed by the empty-response dump.
const maxDumpChars = 10000

// Middleware logs every backend call under the "llm" debug domain and dumps
// the full request when a backend returns an empty response. Errors and
// responses pass through unchanged.
func Middleware(logger *logx.Logger) llm.Middleware {
	if logger == nil {
		logger = logx.NewLogger("llm-middleware")
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				logx.Debug(ctx, "llm", "→ %s: %d messages, %d tools, max_tokens=%d",
					next.GetModelName(), len(req.Messages), len(req.Tools), req.MaxTokens)

				resp, err := next.Complete(ctx, req)

				if err != nil {
					logx.Debug(ctx, "llm", "← %s failed after %s: %v", next.GetModelName(), time.Since(start), err)
					if llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						logEmptyResponseDebugInfo(logger, req)
					}
				} else {
					logx.Debug(ctx, "llm", "← %s: stop=%s raw=%s tool_calls=%d content=%d chars in %s",
						next.GetModelName(), resp.StopReason, resp.RawStopReason, len(resp.ToolCalls), len(resp.Content), time.Since(start))
				}

				//nolint:wrapcheck // Middleware intentionally passes through errors unchanged
				return resp, err
			},
			next.GetModelName,
		)
	}
}

// logEmptyResponseDebugInfo logs comprehensive debugging information for empty LLM responses.
//
//nolint:gocritic // 80 bytes is reasonable for logging function
func logEmptyResponseDebugInfo(logger *logx.Logger, req llm.CompletionRequest) {
	logger.Error("🚨 EMPTY RESPONSE FROM LLM - DEBUGGING INFO:")
	logger.Error("================================================================================")

	for i := range req.Messages {
		msg := &req.Messages[i]
		content := msg.Content
		if len(content) > maxDumpChars {
			content = content[:maxDumpChars] + "\n\n[... message truncated for log readability ...]"
		}
		logger.Error("Message [%d] Role: %s, Content: %s", i, msg.Role, content)
	}

	logger.Error("================================================================================")
	logger.Error("🔍 Request Details:")
	logger.Error("  - Temperature: %v", req.Temperature)
	logger.Error("  - Max Tokens: %d", req.MaxTokens)
	logger.Error("  - Tools Count: %d", len(req.Tools))

	if len(req.Tools) > 0 {
		logger.Error("  - Available Tools: %s", strings.Join(getToolNames(req.Tools), ", "))
	}

	logger.Error("🚨 END EMPTY RESPONSE DEBUG")
}

// getToolNames extracts tool names from tool definitions for logging.
func getToolNames(toolDefs []tools.ToolDefinition) []string {
	names := make([]string, len(toolDefs))
	for i := range toolDefs {
		names[i] = toolDefs[i].Name
	}
	return names
}
