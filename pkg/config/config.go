// Package config loads the agent service configuration from a JSON or YAML
// file with environment variable substitution and overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"chatagent/pkg/logx"
)

// Provider constants.
const (
	ProviderOllama           = "ollama"
	ProviderAnthropic        = "anthropic"
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai-compatible"
	ProviderGoogle           = "google"
	ProviderBedrock          = "bedrock"
)

// Environment variable names for API keys and hosts.
const (
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvGoogleAPIKey     = "GOOGLE_GENAI_API_KEY"
	EnvGeminiAPIKey     = "GEMINI_API_KEY"
	EnvOllamaHost       = "OLLAMA_HOST"
	EnvAWSRegion        = "AWS_REGION"
	EnvAWSDefaultRegion = "AWS_DEFAULT_REGION"

	// EnvPrefix prefixes reflective overrides, e.g. CHATAGENT_MODEL_NAME.
	EnvPrefix = "CHATAGENT_"
)

// Defaults.
const (
	DefaultProvider           = ProviderOllama
	DefaultOllamaHost         = "http://localhost:11434"
	DefaultBedrockRegion      = "us-east-1"
	DefaultProfile            = "weather"
	DefaultAddr               = ":8000"
	DefaultTimeoutSeconds     = 120
	DefaultMaxTokens          = 4096
	DefaultTemperature        = 0.3
	DefaultMaxToolRounds      = 10
	DefaultWindowSize         = 10
	DefaultTruncateThreshold  = 4000
	DefaultMaxSessions        = 1000
	DefaultIdleTTLMinutes     = 60
	DefaultHTTPTimeoutSeconds = 30
	DefaultMaxResponseBytes   = 1 << 20
	DefaultMaxFileBytes       = 1 << 20
	DefaultMaxBodyBytes       = 1 << 20
)

// DefaultChatRoutes are the paths the chat handler answers on.
//
//nolint:gochecknoglobals // static route list
var DefaultChatRoutes = []string{"/chat", "/AdvancedAIAgent", "/EvenMoreAdvancedAIAgent"}

// ModelConfig selects and tunes the model backend.
type ModelConfig struct {
	Provider       string  `json:"provider"`
	Name           string  `json:"name"`
	BaseURL        string  `json:"base_url"`
	APIKey         string  `json:"api_key"`
	TimeoutSeconds int     `json:"timeout_seconds"` // per backend call; 0 = none
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	MaxConcurrency int     `json:"max_concurrency"` // 0 = unlimited

	// Bedrock only. Credentials come from the AWS default chain.
	Region           string `json:"region"`
	GuardrailID      string `json:"guardrail_id"`
	GuardrailVersion string `json:"guardrail_version"` // default "DRAFT"
}

// Timeout returns the per-call backend deadline.
func (m *ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// AgentConfig selects the agent profile.
//
//nolint:govet // fieldalignment: logical grouping preferred
type AgentConfig struct {
	Profile          string   `json:"profile"`
	SystemPrompt     string   `json:"system_prompt"`
	SystemPromptFile string   `json:"system_prompt_file"`
	Tools            []string `json:"tools"` // nil = profile default
	MaxToolRounds    int      `json:"max_tool_rounds"`
	DebugMessages    bool     `json:"debug_messages"`
}

// ContextConfig bounds each conversation window.
type ContextConfig struct {
	WindowSize            int  `json:"window_size"`
	ShouldTruncateResults bool `json:"should_truncate_results"`
	TruncateThreshold     int  `json:"truncate_threshold"`
}

// SessionsConfig bounds the in-memory session store.
type SessionsConfig struct {
	MaxSessions    int `json:"max_sessions"`     // 0 = unbounded
	IdleTTLMinutes int `json:"idle_ttl_minutes"` // 0 = never expire
}

// IdleTTL returns the idle expiry as a duration.
func (s *SessionsConfig) IdleTTL() time.Duration {
	return time.Duration(s.IdleTTLMinutes) * time.Minute
}

// ServerConfig configures the HTTP surface.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ServerConfig struct {
	Addr           string   `json:"addr"`
	ChatRoutes     []string `json:"chat_routes"`
	MetricsEnabled bool     `json:"metrics_enabled"`
	MaxBodyBytes   int      `json:"max_body_bytes"`
	// AdminRoutes serves /sessions and /logs, which expose every conversation.
	AdminRoutes bool `json:"admin_routes"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	Root               string `json:"root"`
	HTTPTimeoutSeconds int    `json:"http_timeout_seconds"`
	MaxResponseBytes   int    `json:"max_response_bytes"`
	MaxFileBytes       int    `json:"max_file_bytes"`
}

// LogConfig enables debug logging.
type LogConfig struct {
	Debug        bool     `json:"debug"`
	DebugDomains []string `json:"debug_domains"`
}

// Config is the full service configuration.
type Config struct {
	Model    ModelConfig    `json:"model"`
	Agent    AgentConfig    `json:"agent"`
	Context  ContextConfig  `json:"context"`
	Sessions SessionsConfig `json:"sessions"`
	Server   ServerConfig   `json:"server"`
	Tools    ToolsConfig    `json:"tools"`
	Log      LogConfig      `json:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := base()
	applyDefaults(cfg)
	return cfg
}

// base holds the defaults a file is decoded over. Provider and model name
// stay empty so applyDefaults can infer one from the other.
func base() *Config {
	return &Config{
		Model: ModelConfig{
			TimeoutSeconds: DefaultTimeoutSeconds,
			MaxTokens:      DefaultMaxTokens,
			Temperature:    DefaultTemperature,
		},
		Agent: AgentConfig{
			Profile:       DefaultProfile,
			MaxToolRounds: DefaultMaxToolRounds,
		},
		Context: ContextConfig{
			WindowSize:            DefaultWindowSize,
			ShouldTruncateResults: true,
			TruncateThreshold:     DefaultTruncateThreshold,
		},
		Sessions: SessionsConfig{
			MaxSessions:    DefaultMaxSessions,
			IdleTTLMinutes: DefaultIdleTTLMinutes,
		},
		Server: ServerConfig{
			Addr:           DefaultAddr,
			ChatRoutes:     append([]string(nil), DefaultChatRoutes...),
			MetricsEnabled: true,
			MaxBodyBytes:   DefaultMaxBodyBytes,
		},
		Tools: ToolsConfig{
			HTTPTimeoutSeconds: DefaultHTTPTimeoutSeconds,
			MaxResponseBytes:   DefaultMaxResponseBytes,
			MaxFileBytes:       DefaultMaxFileBytes,
		},
	}
}

// DefaultModels is the model used per provider when only the provider is set.
//
//nolint:gochecknoglobals // static lookup table
var DefaultModels = map[string]string{
	ProviderOllama:    "llama3.2",
	ProviderAnthropic: "claude-sonnet-4-5",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderGoogle:    "gemini-2.5-flash",
	ProviderBedrock:   "amazon.nova-micro-v1:0",
}

// ProviderPattern maps a model name prefix to a provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns infer the provider when only a model name is configured.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	// Bedrock model IDs are vendor-qualified, optionally with a region prefix.
	{"amazon.", ProviderBedrock},
	{"anthropic.", ProviderBedrock},
	{"meta.", ProviderBedrock},
	{"mistral.", ProviderBedrock},
	{"cohere.", ProviderBedrock},
	{"us.", ProviderBedrock},
	{"eu.", ProviderBedrock},
	{"apac.", ProviderBedrock},
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"phi", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"gemma", ProviderOllama},
	{"deepseek", ProviderOllama},
}

// InferProvider returns the provider for a model name by prefix.
func InferProvider(modelName string) (string, error) {
	name := strings.ToLower(modelName)
	for i := range ProviderPatterns {
		if strings.HasPrefix(name, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no provider pattern matches, set model.provider", modelName)
}

// IsKnownProvider reports whether provider names a supported backend.
func IsKnownProvider(provider string) bool {
	switch provider {
	case ProviderOllama, ProviderAnthropic, ProviderOpenAI, ProviderOpenAICompatible, ProviderGoogle, ProviderBedrock:
		return true
	}
	return false
}

// ResolveAPIKey returns the configured API key, falling back to the
// provider's environment variable. Ollama, Bedrock and OpenAI-compatible
// servers need no key, so an empty result is not an error for them.
func (m *ModelConfig) ResolveAPIKey() (string, error) {
	if m.APIKey != "" {
		return m.APIKey, nil
	}

	var envVars []string
	switch m.Provider {
	case ProviderAnthropic:
		envVars = []string{EnvAnthropicAPIKey}
	case ProviderOpenAI:
		envVars = []string{EnvOpenAIAPIKey}
	case ProviderGoogle:
		envVars = []string{EnvGoogleAPIKey, EnvGeminiAPIKey}
	case ProviderOpenAICompatible:
		return os.Getenv(EnvOpenAIAPIKey), nil
	case ProviderOllama, ProviderBedrock:
		return "", nil
	default:
		return "", fmt.Errorf("unknown provider: %s", m.Provider)
	}

	for _, name := range envVars {
		if key := os.Getenv(name); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("API key not found: set model.api_key or %s", strings.Join(envVars, "/"))
}

// ResolveRegion returns the Bedrock region, falling back to AWS_REGION,
// AWS_DEFAULT_REGION and then us-east-1.
func (m *ModelConfig) ResolveRegion() string {
	if m.Region != "" {
		return m.Region
	}
	for _, name := range []string{EnvAWSRegion, EnvAWSDefaultRegion} {
		if region := os.Getenv(name); region != "" {
			return region
		}
	}
	return DefaultBedrockRegion
}

// ResolveBaseURL returns the backend endpoint. For Ollama it falls back to
// OLLAMA_HOST and then the local default.
func (m *ModelConfig) ResolveBaseURL() string {
	if m.BaseURL != "" {
		return m.BaseURL
	}
	if m.Provider == ProviderOllama {
		if host := os.Getenv(EnvOllamaHost); host != "" {
			if !strings.Contains(host, "://") {
				host = "http://" + host
			}
			return host
		}
		return DefaultOllamaHost
	}
	return ""
}

//nolint:gochecknoglobals // package logger
var logger = logx.NewLogger("config")
