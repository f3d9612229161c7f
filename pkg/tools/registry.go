package tools

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Env carries the settings tool factories need to build an instance.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Env struct {
	// Root confines file_read and file_write. Empty means the working directory.
	Root string
	// HTTPClient overrides the client used by http_request.
	HTTPClient *http.Client
	// HTTPTimeout bounds a single http_request call.
	HTTPTimeout time.Duration
	// MaxResponseBytes caps the bytes http_request reads from a body.
	MaxResponseBytes int64
	// MaxFileBytes caps the bytes file_read returns.
	MaxFileBytes int64
	// Now returns the current time for current_time. Defaults to time.Now.
	Now func() time.Time
}

// ToolFactory creates a tool instance for an Env.
type ToolFactory func(env Env) (Tool, error)

// ToolMeta contains metadata about a tool for documentation and discovery.
type ToolMeta struct {
	Name        string
	Description string
	InputSchema InputSchema
}

type toolDescriptor struct {
	meta    ToolMeta
	factory ToolFactory
}

// Registry maps tool names to factories. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]toolDescriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]toolDescriptor)}
}

// DefaultRegistry returns a registry holding every built-in tool.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ToolHTTPRequest, func(env Env) (Tool, error) { return NewHTTPRequestTool(env), nil }, httpRequestDefinition())
	r.Register(ToolFileRead, func(env Env) (Tool, error) { return NewFileReadTool(env) }, fileReadDefinition())
	r.Register(ToolFileWrite, func(env Env) (Tool, error) { return NewFileWriteTool(env) }, fileWriteDefinition())
	r.Register(ToolCurrentTime, func(env Env) (Tool, error) { return NewCurrentTimeTool(env), nil }, currentTimeDefinition())
	return r
}

// Register adds or replaces a tool factory.
func (r *Registry) Register(name string, factory ToolFactory, def ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = toolDescriptor{
		meta:    ToolMeta{Name: name, Description: def.Description, InputSchema: def.InputSchema},
		factory: factory,
	}
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (toolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.tools[name]
	return desc, ok
}

// ToolProvider hands out tool instances restricted to an allow list.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ToolProvider struct {
	registry *Registry
	env      Env
	allowed  []string
	allowSet map[string]struct{}
	tools    map[string]Tool
	mu       sync.Mutex
}

// NewProvider creates a provider for the allowed tools. Unknown names fail fast.
func (r *Registry) NewProvider(env Env, allowed []string) (*ToolProvider, error) {
	allowSet := make(map[string]struct{}, len(allowed))
	ordered := make([]string, 0, len(allowed))
	for _, name := range allowed {
		if _, ok := r.lookup(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolNotRegistered, name)
		}
		if _, dup := allowSet[name]; dup {
			continue
		}
		allowSet[name] = struct{}{}
		ordered = append(ordered, name)
	}

	return &ToolProvider{
		registry: r,
		env:      env,
		allowed:  ordered,
		allowSet: allowSet,
		tools:    make(map[string]Tool),
	}, nil
}

// Get retrieves a tool instance, creating it lazily.
func (p *ToolProvider) Get(name string) (Tool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.allowSet[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotAllowed, name)
	}
	if tool, ok := p.tools[name]; ok {
		return tool, nil
	}

	desc, ok := p.registry.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotRegistered, name)
	}
	tool, err := desc.factory(p.env)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool '%s': %w", name, err)
	}
	p.tools[name] = tool
	return tool, nil
}

// List returns metadata for the allowed tools in allow-list order.
func (p *ToolProvider) List() []ToolMeta {
	result := make([]ToolMeta, 0, len(p.allowed))
	for _, name := range p.allowed {
		if desc, ok := p.registry.lookup(name); ok {
			result = append(result, desc.meta)
		}
	}
	return result
}

// Definitions returns the allowed tools in the form sent to the model.
func (p *ToolProvider) Definitions() []ToolDefinition {
	metas := p.List()
	defs := make([]ToolDefinition, 0, len(metas))
	for i := range metas {
		defs = append(defs, ToolDefinition{
			Name:        metas[i].Name,
			Description: metas[i].Description,
			InputSchema: metas[i].InputSchema,
		})
	}
	return defs
}
