package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatagent/pkg/agent"
	"chatagent/pkg/agent/middleware/metrics"
	"chatagent/pkg/agent/toolloop"
	"chatagent/pkg/chat"
	"chatagent/pkg/config"
	"chatagent/pkg/contextmgr"
	"chatagent/pkg/logx"
	"chatagent/pkg/prompts"
	"chatagent/pkg/server"
	"chatagent/pkg/tools"
)

// app is the fully wired chat agent shared by every subcommand.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	recorder *metrics.PrometheusRecorder
	store    *contextmgr.Store
	loop     *toolloop.ToolLoop
	handler  *chat.Handler
	server   *server.Server
	logger   *logx.Logger
}

// overrides are the persistent command-line flags applied on top of the file.
type overrides struct {
	profile  string
	model    string
	provider string
}

// loadConfig reads path and applies flag overrides. A model without a
// provider re-infers the provider; a provider without a model picks its
// default model.
func loadConfig(path string, o overrides) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if o.profile != "" {
		cfg.Agent.Profile = o.profile
	}
	switch {
	case o.model != "" && o.provider != "":
		cfg.Model.Name, cfg.Model.Provider = o.model, o.provider
	case o.model != "":
		cfg.Model.Name = o.model
		provider, err := config.InferProvider(o.model)
		if err != nil {
			return nil, err
		}
		cfg.Model.Provider = provider
	case o.provider != "":
		cfg.Model.Provider = o.provider
		cfg.Model.Name = config.DefaultModels[o.provider]
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildApp wires backend, tools, prompt, tool loop, sessions and HTTP server.
// httpClient overrides the client used for the model backend when non-nil.
func buildApp(ctx context.Context, cfg *config.Config, httpClient *http.Client) (*app, error) {
	logx.SetDebug(cfg.Log.Debug, cfg.Log.DebugDomains...)
	logger := logx.NewLogger("chatagent")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(reg)

	factory := agent.NewLLMClientFactory(cfg.Model, recorder, logger.With("llm"))
	if httpClient != nil {
		factory = factory.WithHTTPClient(httpClient)
	}
	client, err := factory.CreateClient(ctx)
	if err != nil {
		return nil, logx.Wrap(err, "failed to create model client")
	}

	profile, err := prompts.Lookup(cfg.Agent.Profile)
	if err != nil {
		return nil, err
	}
	allowed := cfg.Agent.Tools
	if allowed == nil {
		allowed = profile.Tools
	}
	toolProvider, err := tools.DefaultRegistry().NewProvider(tools.Env{
		Root:             cfg.Tools.Root,
		HTTPTimeout:      time.Duration(cfg.Tools.HTTPTimeoutSeconds) * time.Second,
		MaxResponseBytes: int64(cfg.Tools.MaxResponseBytes),
		MaxFileBytes:     int64(cfg.Tools.MaxFileBytes),
	}, allowed)
	if err != nil {
		return nil, logx.Wrap(err, "failed to create tools")
	}

	systemPrompt, err := prompts.Source{
		Profile:    profile,
		Inline:     cfg.Agent.SystemPrompt,
		File:       cfg.Agent.SystemPromptFile,
		ToolsInUse: toolProvider.List(),
	}.SystemPrompt()
	if err != nil {
		return nil, logx.Wrap(err, "failed to build system prompt")
	}

	loop := toolloop.New(client, toolloop.Config{
		SystemPrompt:  systemPrompt,
		ToolProvider:  toolProvider,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   float32(cfg.Model.Temperature),
		DebugLogging:  cfg.Agent.DebugMessages,
		OnToolCall:    recorder.ObserveToolCall,
	}, logger.With("toolloop"))

	store := contextmgr.NewStore(contextmgr.StoreConfig{
		Window: contextmgr.WindowConfig{
			WindowSize:            cfg.Context.WindowSize,
			ShouldTruncateResults: cfg.Context.ShouldTruncateResults,
			TruncateThreshold:     cfg.Context.TruncateThreshold,
		},
		MaxSessions: cfg.Sessions.MaxSessions,
		IdleTTL:     cfg.Sessions.IdleTTL(),
	}, logger.With("sessions"))
	store.OnChange(recorder.SetActiveSessions)

	handler := chat.NewHandler(loop, store, logger.With("chat"))

	opts := server.Options{
		ChatRoutes:   cfg.Server.ChatRoutes,
		MaxBodyBytes: int64(cfg.Server.MaxBodyBytes),
		Recorder:     recorder,
		AdminRoutes:  cfg.Server.AdminRoutes,
	}
	if cfg.Server.MetricsEnabled {
		opts.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	logger.Info("Agent ready: provider=%s model=%s profile=%s tools=%v",
		cfg.Model.Provider, client.GetModelName(), profile.Name, allowed)

	return &app{
		cfg:      cfg,
		registry: reg,
		recorder: recorder,
		store:    store,
		loop:     loop,
		handler:  handler,
		server:   server.New(handler, store, opts, logger.With("server")),
		logger:   logger,
	}, nil
}

// serve runs the HTTP server and the idle sweeper until ctx is canceled.
func (a *app) serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	go a.store.Run(ctx, 0)
	return a.server.ListenAndServe(ctx, addr)
}

// ask answers one message in a fresh session.
func (a *app) ask(ctx context.Context, sessionID, input string) (chat.Reply, error) {
	return a.handler.Handle(ctx, sessionID, input)
}
