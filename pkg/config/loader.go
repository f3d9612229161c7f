package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// reservedRoutes are served by the HTTP layer itself.
//
//nolint:gochecknoglobals // static lookup table
var reservedRoutes = map[string]bool{"/health": true, "/metrics": true, "/sessions": true, "/logs": true}

// Load reads configuration from path. A missing file yields the defaults
// (still subject to environment overrides). Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	cfg := base()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Info("config file %s not found, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := decode(path, substituteEnv(data), cfg); err != nil {
				return nil, err
			}
			logger.Info("loaded config from %s", path)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// substituteEnv replaces ${VAR} placeholders. Unset variables are left as-is.
func substituteEnv(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		envVar := string(match[2 : len(match)-1])
		if value := os.Getenv(envVar); value != "" {
			return []byte(value)
		}
		return match
	})
}

// decode unmarshals data over cfg. YAML is normalized through JSON so the
// json tags are the single source of field names.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config YAML: %w", err)
		}
		if doc == nil {
			return nil
		}
		normalized, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to normalize config YAML: %w", err)
		}
		data = normalized
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	v := reflect.ValueOf(cfg).Elem()
	applyEnvOverridesRecursive(v, v.Type(), EnvPrefix)
}

// applyEnvOverridesRecursive maps PREFIX_SECTION_FIELD variables onto
// fields by json tag, e.g. CHATAGENT_MODEL_NAME.
func applyEnvOverridesRecursive(v reflect.Value, t reflect.Type, prefix string) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		jsonTag := fieldType.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}

		fieldName := strings.Split(jsonTag, ",")[0]
		envKey := strings.ToUpper(prefix + fieldName)

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, field.Type(), envKey+"_")
			continue
		}

		if envValue, ok := os.LookupEnv(envKey); ok && envValue != "" {
			setFieldFromEnv(field, envKey, envValue)
		}
	}
}

func setFieldFromEnv(field reflect.Value, key, envValue string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int:
		if val, err := strconv.Atoi(strings.TrimSpace(envValue)); err == nil {
			field.SetInt(int64(val))
		} else {
			logger.Warn("ignoring %s: %v", key, err)
		}
	case reflect.Float64:
		if val, err := strconv.ParseFloat(strings.TrimSpace(envValue), 64); err == nil {
			field.SetFloat(val)
		} else {
			logger.Warn("ignoring %s: %v", key, err)
		}
	case reflect.Bool:
		if val, err := strconv.ParseBool(strings.TrimSpace(envValue)); err == nil {
			field.SetBool(val)
		} else {
			logger.Warn("ignoring %s: %v", key, err)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(splitList(envValue)))
		}
	}
}

// splitList parses a comma separated list, dropping empty items.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyDefaults fills zero values that have a sensible default.
func applyDefaults(cfg *Config) {
	m := &cfg.Model
	if m.Provider == "" {
		m.Provider = DefaultProvider
		if m.Name != "" {
			if inferred, err := InferProvider(m.Name); err == nil {
				m.Provider = inferred
			}
		}
	}
	if m.Name == "" {
		m.Name = DefaultModels[m.Provider]
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = DefaultMaxTokens
	}

	if cfg.Agent.Profile == "" {
		cfg.Agent.Profile = DefaultProfile
	}
	if cfg.Agent.MaxToolRounds == 0 {
		cfg.Agent.MaxToolRounds = DefaultMaxToolRounds
	}

	if cfg.Context.WindowSize == 0 {
		cfg.Context.WindowSize = DefaultWindowSize
	}
	if cfg.Context.TruncateThreshold == 0 {
		cfg.Context.TruncateThreshold = DefaultTruncateThreshold
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if len(cfg.Server.ChatRoutes) == 0 {
		cfg.Server.ChatRoutes = append([]string(nil), DefaultChatRoutes...)
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if cfg.Tools.HTTPTimeoutSeconds == 0 {
		cfg.Tools.HTTPTimeoutSeconds = DefaultHTTPTimeoutSeconds
	}
	if cfg.Tools.MaxResponseBytes == 0 {
		cfg.Tools.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if cfg.Tools.MaxFileBytes == 0 {
		cfg.Tools.MaxFileBytes = DefaultMaxFileBytes
	}
}

// validateConfig rejects settings that would break the service at runtime.
func validateConfig(cfg *Config) error {
	m := &cfg.Model
	if !IsKnownProvider(m.Provider) {
		return fmt.Errorf("model.provider: unknown provider '%s'", m.Provider)
	}
	if m.Name == "" {
		return fmt.Errorf("model.name is required for provider '%s'", m.Provider)
	}
	if m.Provider == ProviderOpenAICompatible && m.BaseURL == "" {
		return fmt.Errorf("model.base_url is required for provider '%s'", m.Provider)
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0.0 and 2.0, got %g", m.Temperature)
	}

	nonNegative := []struct {
		name  string
		value int
	}{
		{"model.timeout_seconds", m.TimeoutSeconds},
		{"model.max_tokens", m.MaxTokens},
		{"model.max_concurrency", m.MaxConcurrency},
		{"agent.max_tool_rounds", cfg.Agent.MaxToolRounds},
		{"context.window_size", cfg.Context.WindowSize},
		{"context.truncate_threshold", cfg.Context.TruncateThreshold},
		{"sessions.max_sessions", cfg.Sessions.MaxSessions},
		{"sessions.idle_ttl_minutes", cfg.Sessions.IdleTTLMinutes},
		{"server.max_body_bytes", cfg.Server.MaxBodyBytes},
		{"tools.http_timeout_seconds", cfg.Tools.HTTPTimeoutSeconds},
		{"tools.max_response_bytes", cfg.Tools.MaxResponseBytes},
		{"tools.max_file_bytes", cfg.Tools.MaxFileBytes},
	}
	for _, f := range nonNegative {
		if f.value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", f.name, f.value)
		}
	}

	seen := make(map[string]bool, len(cfg.Server.ChatRoutes))
	for _, route := range cfg.Server.ChatRoutes {
		if !strings.HasPrefix(route, "/") {
			return fmt.Errorf("server.chat_routes: route '%s' must start with '/'", route)
		}
		if reservedRoutes[route] {
			return fmt.Errorf("server.chat_routes: route '%s' is reserved", route)
		}
		if seen[route] {
			return fmt.Errorf("server.chat_routes: duplicate route '%s'", route)
		}
		seen[route] = true
	}

	if cfg.Agent.SystemPromptFile != "" {
		if _, err := os.Stat(cfg.Agent.SystemPromptFile); err != nil {
			return fmt.Errorf("agent.system_prompt_file: %w", err)
		}
	}
	return nil
}

// Validate re-checks cfg after callers change it, such as command-line overrides.
func (c *Config) Validate() error {
	return validateConfig(c)
}
