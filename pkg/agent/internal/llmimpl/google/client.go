// Package google provides Google Gemini client implementation for LLM interface.
package google

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"google.golang.org/genai"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/llmerrors"
	"chatagent/pkg/tools"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

const (
	providerName = "google"

	roleUser  = "user"
	roleModel = "model"
)

// Finish reasons and prompt block reasons that mean the safety layer stopped generation.
var guardrailFinishReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
	"IMAGE_SAFETY":       true,
}

var statusPattern = regexp.MustCompile(`Error (\d{3})`)

// GeminiClient wraps the Google GenAI client to implement llm.LLMClient interface.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// Options tune the underlying genai client. Zero values use SDK defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewGeminiClientWithModel creates a Gemini API client for model.
func NewGeminiClientWithModel(ctx context.Context, apiKey, model string, opts Options) (*GeminiClient, error) {
	if model == "" {
		model = DefaultModel
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	contents, systemInstruction, err := convertMessagesToGemini(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	temperature := in.Temperature
	config := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if in.MaxTokens > 0 {
		//nolint:gosec // MaxTokens validated by config loading
		config.MaxOutputTokens = int32(in.MaxTokens)
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertToolsToGemini(in.Tools)}}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if result == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	response := llm.CompletionResponse{}
	if fc := result.FunctionCalls(); len(fc) > 0 {
		response.ToolCalls = convertFunctionCallsFromGemini(fc)
	}
	response.StopReason, response.RawStopReason = getStopReason(result, len(response.ToolCalls) > 0)
	if response.StopReason != llm.StopReasonGuardrail {
		response.Content = result.Text()
	}
	if result.UsageMetadata != nil {
		response.Usage = llm.Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	if response.StopReason != llm.StopReasonGuardrail && len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "Gemini returned no candidates")
	}
	return response, nil
}

// convertMessagesToGemini converts our message format to Gemini's Content format.
// Returns contents array and optional system instruction.
func convertMessagesToGemini(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}
	systemInstruction, rest := llm.SplitSystem(messages)

	start := 0
	for start < len(rest) && rest[start].Role != llm.RoleUser {
		start++
	}
	rest = rest[start:]
	if len(rest) == 0 {
		return nil, "", fmt.Errorf("must have at least one user message")
	}

	var contents []*genai.Content
	push := func(role string, parts ...*genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for i := range rest {
		msg := &rest[i]
		switch msg.Role {
		case llm.RoleUser:
			if msg.Content != "" {
				push(roleUser, &genai.Part{Text: msg.Content})
			}
		case llm.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Parameters},
				})
			}
			push(roleModel, parts...)
		case llm.RoleTool:
			// Gemini matches responses to calls by function name.
			push(roleUser, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:   msg.ToolCallID,
					Name: msg.ToolName,
					Response: map[string]any{
						"content":  msg.Content,
						"is_error": msg.IsError,
					},
				},
			})
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	return contents, systemInstruction, nil
}

// convertToolsToGemini converts our tool definitions to Gemini's function declarations.
func convertToolsToGemini(toolDefs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, len(toolDefs))
	for i := range toolDefs {
		tool := &toolDefs[i]
		properties := make(map[string]*genai.Schema, len(tool.InputSchema.Properties))
		//nolint:gocritic // rangeValCopy: Property size acceptable for this use case
		for name, prop := range tool.InputSchema.Properties {
			properties[name] = convertPropertyToGeminiSchema(&prop)
		}
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   tool.InputSchema.Required,
			},
		}
	}
	return declarations
}

// convertPropertyToGeminiSchema recursively converts a Property to Gemini schema format.
func convertPropertyToGeminiSchema(prop *tools.Property) *genai.Schema {
	schema := &genai.Schema{Description: prop.Description}

	switch prop.Type {
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = convertPropertyToGeminiSchema(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if len(prop.Properties) > 0 {
			schema.Properties = make(map[string]*genai.Schema, len(prop.Properties))
			//nolint:gocritic // rangeValCopy
			for name, child := range prop.Properties {
				schema.Properties[name] = convertPropertyToGeminiSchema(&child)
			}
		}
	default:
		schema.Type = genai.TypeString
	}

	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}
	return schema
}

// convertFunctionCallsFromGemini converts Gemini function calls to our format.
// Missing IDs are left empty for the caller to assign.
func convertFunctionCallsFromGemini(calls []*genai.FunctionCall) []llm.ToolCall {
	toolCalls := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		params := call.Args
		if params == nil {
			params = map[string]any{}
		}
		toolCalls[i] = llm.ToolCall{ID: call.ID, Name: call.Name, Parameters: params}
	}
	return toolCalls
}

// getStopReason maps the first candidate's finish reason, or a prompt block,
// to a normalized stop reason. The second value is the native reason.
func getStopReason(result *genai.GenerateContentResponse, hasToolCalls bool) (string, string) {
	if result.PromptFeedback != nil {
		if block := string(result.PromptFeedback.BlockReason); block != "" && block != "BLOCKED_REASON_UNSPECIFIED" {
			return llm.StopReasonGuardrail, block
		}
	}
	if len(result.Candidates) == 0 {
		return llm.StopReasonEndTurn, ""
	}

	raw := string(result.Candidates[0].FinishReason)
	switch {
	case guardrailFinishReasons[raw]:
		return llm.StopReasonGuardrail, raw
	case hasToolCalls:
		return llm.StopReasonToolUse, raw
	case raw == "MAX_TOKENS":
		return llm.StopReasonMaxTokens, raw
	default:
		return llm.StopReasonEndTurn, raw
	}
}

// classifyError reads the HTTP status genai embeds in its error text.
func classifyError(err error) error {
	status := 0
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ = strconv.Atoi(m[1])
	}
	return llmerrors.Classify(providerName, err, status)
}
