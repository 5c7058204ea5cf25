package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-ai/meridian/internal/agent"
	"github.com/meridian-ai/meridian/internal/backoff"
	"github.com/meridian-ai/meridian/internal/bus"
	"github.com/meridian-ai/meridian/internal/config"
	"github.com/meridian-ai/meridian/internal/conversation"
	"github.com/meridian-ai/meridian/internal/llm"
	"github.com/meridian-ai/meridian/internal/mcp"
	"github.com/meridian-ai/meridian/internal/observability"
	"github.com/meridian-ai/meridian/internal/reasoning"
	"github.com/meridian-ai/meridian/internal/session"
	"github.com/meridian-ai/meridian/internal/state"
	"github.com/meridian-ai/meridian/internal/tools"
	"github.com/meridian-ai/meridian/pkg/models"
)

const defaultSystemPrompt = `You are Meridian, a capable assistant. Use the
available tools when they help, cite tool results rather than guessing, and
keep answers direct.`

// resolveConfigPath honors the MERIDIAN_CONFIG override when the flag was
// left at its default.
func resolveConfigPath(path string) string {
	if path == defaultConfigPath {
		if env := os.Getenv("MERIDIAN_CONFIG"); env != "" {
			return env
		}
	}
	return path
}

// loadConfig reads the file at path. A missing file at the default location
// is not an error; the built-in defaults apply.
func loadConfig(path string) (*config.Config, error) {
	path = resolveConfigPath(path)
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigPath {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// setupLogger builds the handler the config asks for and installs it as the
// process default.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// runtime bundles every service the chat command needs.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	events   *bus.Bus
	provider state.Provider
	client   llm.Client
	host     *mcp.Host
	registry *tools.Registry
	loop     *agent.Loop
	sched    *reasoning.Scheduler
	sessions *session.Manager
	summ     *session.Summarizer
	updates  *state.UpdateService
}

// openProvider selects the state backend named by the config.
func openProvider(cfg config.StateConfig) (state.Provider, error) {
	switch cfg.Backend {
	case "memory":
		return state.NewMemoryProvider(), nil
	case "sqlite":
		return state.NewSQLiteProvider(cfg.Path)
	default:
		return state.NewFileProvider(cfg.BaseDir)
	}
}

func anthropicKey(cfg *config.Config) string {
	if cfg.LLM.APIKey != "" {
		return cfg.LLM.APIKey
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// buildRuntime wires the full service graph. Connections to capability
// servers are created but not started; the caller decides when.
func buildRuntime(cfg *config.Config, logger *slog.Logger, approver agent.Approver) (*runtime, error) {
	metrics := observability.NewMetrics()
	events := bus.New(logger)

	provider, err := openProvider(cfg.State)
	if err != nil {
		return nil, fmt.Errorf("open state backend %s: %w", cfg.State.Backend, err)
	}

	client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:           anthropicKey(cfg),
		DefaultModel:     cfg.LLM.Model,
		DefaultMaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	host := mcp.NewHost(logger)
	for _, server := range cfg.MCP.Servers {
		manager := mcp.NewConnManager(mcp.Config{
			Name: server.Name,
			Backoff: backoff.Strategy{
				Base:        cfg.Connection.BaseBackoff,
				Ceiling:     cfg.Connection.CeilingBackoff,
				JitterLow:   cfg.Connection.JitterLow,
				JitterHigh:  cfg.Connection.JitterHigh,
				MaxAttempts: *cfg.Connection.MaxAttempts,
			},
			CheckInterval: cfg.Connection.CheckInterval,
			HealthTimeout: cfg.Connection.HealthTimeout,
		}, mcp.ConnectFuncFor(server, logger), logger, metrics, events)
		if err := host.Add(manager); err != nil {
			return nil, fmt.Errorf("register server %s: %w", server.Name, err)
		}
	}

	registry := tools.NewRegistry(logger, metrics, *cfg.Conversation.EnableCaching)
	if err := registry.RegisterProvider(builtinTools()); err != nil {
		return nil, err
	}
	if err := registry.RegisterProvider(tools.NewMCPProvider(host, logger)); err != nil {
		return nil, err
	}

	loop := agent.New(client, registry, approver, metrics, logger, agent.Config{
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		MaxTurns:  25,
	})

	sched := reasoning.New(client, loop, metrics, logger, reasoning.Config{
		Model:            cfg.Reasoning.Model,
		MaxIterations:    cfg.Reasoning.MaxIterations,
		MinQualityDirect: cfg.Reasoning.MinQualityDirect,
		MinQualityLight:  cfg.Reasoning.MinQualityLight,
		MinQualityDeep:   cfg.Reasoning.MinQualityDeep,
		MinConfidence:    cfg.Reasoning.MinConfidence,
		ForceStrategy:    models.Strategy(cfg.Reasoning.ForceStrategy),
	})

	convCfg := conversation.Config{
		CachingEnabled: *cfg.Conversation.EnableCaching,
		MaxHistory:     cfg.Conversation.MaxHistoryMessages,
	}
	sessions := session.NewManager(provider, metrics, defaultSystemPrompt, convCfg, logger)

	summ := session.NewSummarizer(client, session.SummarizerConfig{
		Model:              cfg.Summarization.Model,
		MinMessages:        cfg.Summarization.MinMessages,
		ReconcatGuardRatio: cfg.Summarization.ReconcatGuardRatio,
		MaxTokens:          1024,
	}, logger)

	var extractor *state.Extractor
	if cfg.State.Extractor.Enabled {
		key := cfg.State.Extractor.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		extractor = state.NewExtractor(key, cfg.State.Extractor.Model, logger)
	}
	updates := state.NewUpdateService(provider, events, extractor, logger)

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		events:   events,
		provider: provider,
		client:   client,
		host:     host,
		registry: registry,
		loop:     loop,
		sched:    sched,
		sessions: sessions,
		summ:     summ,
		updates:  updates,
	}, nil
}

// close tears down in reverse dependency order. Sessions save on Close.
func (r *runtime) close(ctx context.Context) {
	r.host.StopAll()
	if err := r.sessions.Close(ctx); err != nil {
		r.logger.Warn("session save on shutdown failed", "error", err)
	}
	if closer, ok := r.provider.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			r.logger.Warn("state backend close failed", "error", err)
		}
	}
}

// builtinTools registers the tools that need no external server.
func builtinTools() *tools.DirectProvider {
	p := tools.NewDirectProvider("builtin")

	p.Register("current_time", "Returns the current date and time, optionally in a named timezone.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name, e.g. America/New_York. Defaults to UTC.",
				},
			},
		},
		func(_ context.Context, args map[string]any) (string, error) {
			loc := time.UTC
			if tz, ok := args["timezone"].(string); ok && tz != "" {
				parsed, err := time.LoadLocation(tz)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q", tz)
				}
				loc = parsed
			}
			return time.Now().In(loc).Format(time.RFC1123), nil
		})

	p.Register("generate_id", "Generates a random UUID.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(context.Context, map[string]any) (string, error) {
			return uuid.NewString(), nil
		})

	return p
}
