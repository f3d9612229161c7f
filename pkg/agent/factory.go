// Package agent builds model clients wrapped in the standard middleware chain.
package agent

import (
	"context"
	"fmt"
	"net/http"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"

	"chatagent/pkg/agent/internal/llmimpl/anthropic"
	"chatagent/pkg/agent/internal/llmimpl/bedrock"
	"chatagent/pkg/agent/internal/llmimpl/google"
	"chatagent/pkg/agent/internal/llmimpl/ollama"
	"chatagent/pkg/agent/internal/llmimpl/openai"
	"chatagent/pkg/agent/internal/llmimpl/openaiofficial"
	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/middleware/logging"
	"chatagent/pkg/agent/middleware/metrics"
	"chatagent/pkg/agent/middleware/ratelimit"
	"chatagent/pkg/agent/middleware/timeout"
	"chatagent/pkg/config"
	"chatagent/pkg/logx"
)

// LLMClient is re-exported so callers need not import pkg/agent/llm for the
// interface alone.
type LLMClient = llm.LLMClient

// LLMClientFactory creates model clients with properly configured middleware chains.
type LLMClientFactory struct {
	config     config.ModelConfig
	recorder   metrics.Recorder
	logger     *logx.Logger
	httpClient *http.Client
}

// NewLLMClientFactory creates a factory for cfg. A nil recorder disables
// metrics and a nil logger uses the "llm" component.
func NewLLMClientFactory(cfg config.ModelConfig, recorder metrics.Recorder, logger *logx.Logger) *LLMClientFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if logger == nil {
		logger = logx.NewLogger("llm")
	}
	return &LLMClientFactory{config: cfg, recorder: recorder, logger: logger}
}

// WithHTTPClient sets the HTTP client used by backends that accept one.
func (f *LLMClientFactory) WithHTTPClient(c *http.Client) *LLMClientFactory {
	f.httpClient = c
	return f
}

// CreateClient builds the configured backend and wraps it:
//
//	Metrics -> Logging -> Concurrency limit -> Timeout -> raw client
//
// The chain never retries; a failed call is returned to the caller as-is.
func (f *LLMClientFactory) CreateClient(ctx context.Context) (LLMClient, error) {
	rawClient, err := f.createRawClient(ctx)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(rawClient.GetModelName(), f.config.MaxConcurrency)

	client := llm.Chain(rawClient,
		metrics.Middleware(f.recorder, nil, f.logger),
		logging.Middleware(f.logger),
		ratelimit.Middleware(limiter, f.recorder),
		timeout.Middleware(f.config.Timeout()),
	)

	f.logger.Info("created %s client for model %s (timeout %s, max concurrency %d)",
		f.config.Provider, rawClient.GetModelName(), f.config.Timeout(), f.config.MaxConcurrency)
	return client, nil
}

// createRawClient creates the provider client without middleware.
func (f *LLMClientFactory) createRawClient(ctx context.Context) (LLMClient, error) {
	cfg := f.config
	provider := cfg.Provider
	if provider == "" {
		inferred, err := config.InferProvider(cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to determine provider for model %s: %w", cfg.Name, err)
		}
		provider = inferred
		cfg.Provider = inferred
	}

	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}
	baseURL := cfg.ResolveBaseURL()

	switch provider {
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(baseURL, cfg.Name, f.httpClient), nil

	case config.ProviderAnthropic:
		var opts []anthropicopt.RequestOption
		if baseURL != "" {
			opts = append(opts, anthropicopt.WithBaseURL(baseURL))
		}
		if f.httpClient != nil {
			opts = append(opts, anthropicopt.WithHTTPClient(f.httpClient))
		}
		return anthropic.NewClaudeClientWithModel(apiKey, cfg.Name, opts...), nil

	case config.ProviderOpenAI:
		var opts []openaiopt.RequestOption
		if baseURL != "" {
			opts = append(opts, openaiopt.WithBaseURL(baseURL))
		}
		if f.httpClient != nil {
			opts = append(opts, openaiopt.WithHTTPClient(f.httpClient))
		}
		return openaiofficial.NewOfficialClientWithModel(apiKey, cfg.Name, opts...), nil

	case config.ProviderOpenAICompatible:
		if baseURL == "" {
			return nil, fmt.Errorf("provider %s requires a base URL", provider)
		}
		return openai.NewCompatClientWithModel(apiKey, baseURL, cfg.Name), nil

	case config.ProviderGoogle:
		client, err := google.NewGeminiClientWithModel(ctx, apiKey, cfg.Name, google.Options{
			BaseURL:    baseURL,
			HTTPClient: f.httpClient,
		})
		if err != nil {
			return nil, err
		}
		return client, nil

	case config.ProviderBedrock:
		client, err := bedrock.NewBedrockClientWithModel(ctx, cfg.Name, bedrock.Options{
			Region:           cfg.ResolveRegion(),
			GuardrailID:      cfg.GuardrailID,
			GuardrailVersion: cfg.GuardrailVersion,
			BaseURL:          baseURL,
			HTTPClient:       f.httpClient,
		})
		if err != nil {
			return nil, err
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
