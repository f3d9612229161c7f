// Package bedrock provides an Amazon Bedrock client for the LLM interface,
// built on the Converse API with optional guardrails.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/llmerrors"
	"chatagent/pkg/tools"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "amazon.nova-micro-v1:0"

// DefaultGuardrailVersion is the working draft of a guardrail.
const DefaultGuardrailVersion = "DRAFT"

const providerName = "bedrock"

// Options configure the Bedrock client.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Options struct {
	Region string
	// GuardrailID attaches a Bedrock guardrail to every call when set.
	GuardrailID      string
	GuardrailVersion string
	// BaseURL overrides the regional runtime endpoint.
	BaseURL    string
	HTTPClient *http.Client
	// Credentials overrides the AWS default credential chain.
	Credentials aws.CredentialsProvider
}

type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client wraps the Bedrock runtime to implement llm.LLMClient.
type Client struct {
	api       converseAPI
	model     string
	guardrail *types.GuardrailConfiguration
}

// NewBedrockClientWithModel creates a Bedrock client for model. SDK retries
// are disabled.
func NewBedrockClientWithModel(ctx context.Context, model string, opts Options) (*Client, error) {
	if model == "" {
		model = DefaultModel
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Credentials != nil {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(opts.Credentials))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	api := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if opts.BaseURL != "" {
			o.BaseEndpoint = aws.String(opts.BaseURL)
		}
	})

	c := &Client{api: api, model: model}
	if opts.GuardrailID != "" {
		version := opts.GuardrailVersion
		if version == "" {
			version = DefaultGuardrailVersion
		}
		c.guardrail = &types.GuardrailConfiguration{
			GuardrailIdentifier: aws.String(opts.GuardrailID),
			GuardrailVersion:    aws.String(version),
		}
	}
	return c, nil
}

// GetModelName returns the model name for this client.
func (c *Client) GetModelName() string {
	return c.model
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, messages, err := buildMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.model),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTokens)), //nolint:gosec // bounded by config validation
			Temperature: aws.Float32(in.Temperature),
		},
		GuardrailConfig: c.guardrail,
	}
	if systemPrompt != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: systemPrompt}}
	}
	if len(in.Tools) > 0 {
		input.ToolConfig = &types.ToolConfiguration{Tools: convertTools(in.Tools)}
	}

	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if out == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received nil response from Bedrock")
	}

	raw := string(out.StopReason)
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		if isGuardrail(out.StopReason) {
			return llm.CompletionResponse{StopReason: llm.StopReasonGuardrail, RawStopReason: raw}, nil
		}
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received no message from Bedrock")
	}

	var text string
	var toolCalls []llm.ToolCall
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			text += b.Value
		case *types.ContentBlockMemberToolUse:
			params, err := decodeInput(b.Value.Input)
			if err != nil {
				return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "failed to parse tool input")
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:         aws.ToString(b.Value.ToolUseId),
				Name:       aws.ToString(b.Value.Name),
				Parameters: params,
			})
		}
	}

	if !isGuardrail(out.StopReason) && text == "" && len(toolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Bedrock")
	}

	resp := llm.CompletionResponse{
		Content:       text,
		ToolCalls:     toolCalls,
		StopReason:    normalizeStopReason(out.StopReason, len(toolCalls) > 0),
		RawStopReason: raw,
	}
	if out.Usage != nil {
		resp.Usage = llm.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	return resp, nil
}

func isGuardrail(reason types.StopReason) bool {
	return reason == types.StopReasonGuardrailIntervened || reason == types.StopReasonContentFiltered
}

func normalizeStopReason(reason types.StopReason, hasToolCalls bool) string {
	switch {
	case isGuardrail(reason):
		return llm.StopReasonGuardrail
	case hasToolCalls || reason == types.StopReasonToolUse:
		return llm.StopReasonToolUse
	case reason == types.StopReasonMaxTokens:
		return llm.StopReasonMaxTokens
	default:
		return llm.StopReasonEndTurn
	}
}

// decodeInput turns a tool-use document into plain JSON values.
func decodeInput(input document.Interface) (map[string]any, error) {
	params := map[string]any{}
	if input == nil {
		return params, nil
	}
	raw, err := input.MarshalSmithyDocument()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}

// buildMessages prepares messages for the Converse API: system text moves to
// the top-level field, tool results become toolResult blocks in a user
// message, and consecutive messages of one role merge. Leading non-user
// messages are dropped.
func buildMessages(messages []llm.CompletionMessage) (string, []types.Message, error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}
	systemPrompt, rest := llm.SplitSystem(messages)

	start := 0
	for start < len(rest) && rest[start].Role != llm.RoleUser {
		start++
	}
	rest = rest[start:]
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one user message")
	}

	var out []types.Message
	push := func(role types.ConversationRole, blocks ...types.ContentBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}

	for i := range rest {
		msg := &rest[i]
		switch msg.Role {
		case llm.RoleAssistant:
			var blocks []types.ContentBlock
			if msg.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				params := tc.Parameters
				if params == nil {
					params = map[string]any{}
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(params),
				}})
			}
			push(types.ConversationRoleAssistant, blocks...)
		case llm.RoleTool:
			result := types.ToolResultBlock{
				ToolUseId: aws.String(msg.ToolCallID),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: msg.Content}},
			}
			if msg.IsError {
				result.Status = types.ToolResultStatusError
			}
			push(types.ConversationRoleUser, &types.ContentBlockMemberToolResult{Value: result})
		default:
			if msg.Content != "" {
				push(types.ConversationRoleUser, &types.ContentBlockMemberText{Value: msg.Content})
			}
		}
	}

	if len(out) == 0 || out[len(out)-1].Role != types.ConversationRoleUser {
		return "", nil, fmt.Errorf("last message must be user role")
	}
	return systemPrompt, out, nil
}

func convertTools(defs []tools.ToolDefinition) []types.Tool {
	result := make([]types.Tool, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		spec := types.ToolSpecification{
			Name:        aws.String(def.Name),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(def.InputSchema.ToMap())},
		}
		if def.Description != "" {
			spec.Description = aws.String(def.Description)
		}
		result = append(result, &types.ToolMemberToolSpec{Value: spec})
	}
	return result
}

// classifyError maps AWS SDK errors to our structured error types.
func classifyError(err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return llmerrors.Classify(providerName, err, respErr.HTTPStatusCode())
	}
	return llmerrors.Classify(providerName, err, 0)
}
