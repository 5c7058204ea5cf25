// Package agent runs the turn-by-turn execution loop: build a request from
// the conversation, call the model, dispatch requested tools through the
// registry, feed results back, repeat until the model stops asking. The
// loop integrates the approval gate and the tracker's tool-result cache.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-ai/meridian/internal/conversation"
	"github.com/meridian-ai/meridian/internal/cost"
	"github.com/meridian-ai/meridian/internal/llm"
	"github.com/meridian-ai/meridian/internal/observability"
	"github.com/meridian-ai/meridian/internal/tools"
	"github.com/meridian-ai/meridian/internal/tracker"
	"github.com/meridian-ai/meridian/pkg/models"
)

// Config parameterizes the loop.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature *float64

	// MaxTurns bounds tool-use rounds within one run.
	MaxTurns int
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		Model:     llm.DefaultModel,
		MaxTokens: 4096,
		MaxTurns:  25,
	}
}

// Loop is the agent execution loop. One Loop serves one session; the
// conversation is borrowed per run.
type Loop struct {
	client   llm.Client
	registry *tools.Registry
	approver Approver
	logger   *slog.Logger
	metrics  *observability.Metrics
	cfg      Config

	// whitelist carries individually approved tools across runs.
	whitelist map[string]bool
}

// New creates a loop. Approver and metrics may be nil.
func New(client llm.Client, registry *tools.Registry, approver Approver, metrics *observability.Metrics, logger *slog.Logger, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = llm.DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 25
	}
	return &Loop{
		client:    client,
		registry:  registry,
		approver:  approver,
		logger:    logger.With("component", "agent"),
		metrics:   metrics,
		cfg:       cfg,
		whitelist: make(map[string]bool),
	}
}

// Run executes one query to completion. An empty query appends nothing and
// lets the model respond to the conversation as it stands. Streaming is
// used only when requested and a chunk callback is present; model errors
// propagate unchanged.
func (l *Loop) Run(ctx context.Context, conv *conversation.Conversation, query string, tr *tracker.Tracker, cb *Callbacks, useStreaming bool) (string, models.Usage, error) {
	if query != "" {
		conv.AddUserText(query)
	}
	cb.start()

	streaming := useStreaming && cb.wantsStreaming()
	var total models.Usage

	for turn := 0; turn < l.cfg.MaxTurns; turn++ {
		req := l.buildRequest(ctx, conv)

		var (
			msg   *models.Message
			usage models.Usage
			err   error
		)
		if streaming {
			msg, usage, err = l.streamOnce(ctx, req, cb)
		} else {
			var u *models.Usage
			msg, u, err = l.client.Complete(ctx, req)
			if u != nil {
				usage = *u
			}
		}

		if l.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			l.metrics.LLMRequestCounter.WithLabelValues(l.cfg.Model, status).Inc()
		}
		if err != nil {
			return "", total, err
		}
		total.Add(usage)
		if l.metrics != nil {
			l.metrics.LLMTokensUsed.WithLabelValues(l.cfg.Model, "input").Add(float64(usage.InputTokens))
			l.metrics.LLMTokensUsed.WithLabelValues(l.cfg.Model, "output").Add(float64(usage.OutputTokens))
		}
		cb.usage(usage, cost.Calculate(l.cfg.Model, usage))

		conv.Add(*msg)

		if !msg.HasToolUse() {
			if streaming {
				cb.streamComplete()
			}
			return msg.Text(), total, nil
		}

		results := l.executeBatch(ctx, msg.ToolUses(), tr, cb)
		conv.Add(models.Message{Role: models.RoleUser, Content: results})
	}

	return "", total, fmt.Errorf("agent: no terminal response after %d tool rounds", l.cfg.MaxTurns)
}

func (l *Loop) buildRequest(ctx context.Context, conv *conversation.Conversation) *llm.Request {
	system := conv.System()
	return &llm.Request{
		Model:       l.cfg.Model,
		System:      system,
		CacheSystem: conv.CachingEnabled() && system != "",
		Messages:    conv.MessagesForAPI(),
		Tools:       l.registry.DefinitionsForAPI(ctx),
		Temperature: l.cfg.Temperature,
		MaxTokens:   l.cfg.MaxTokens,
	}
}

// streamOnce consumes one streamed completion, forwarding text to the
// chunk callback and returning the assembled message.
func (l *Loop) streamOnce(ctx context.Context, req *llm.Request, cb *Callbacks) (*models.Message, models.Usage, error) {
	chunks, err := l.client.Stream(ctx, req)
	if err != nil {
		return nil, models.Usage{}, err
	}

	var usage models.Usage
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return nil, usage, chunk.Err
		case chunk.Done:
			usage = chunk.Usage
			if chunk.Message == nil {
				return nil, usage, fmt.Errorf("agent: stream ended without a message")
			}
			return chunk.Message, usage, nil
		case chunk.Text != "":
			cb.streamChunk(chunk.Text)
		}
	}
	return nil, usage, fmt.Errorf("agent: stream closed without a terminal chunk")
}

// executeBatch runs every tool_use block of one assistant turn, producing
// the tool_result blocks in matching order.
func (l *Loop) executeBatch(ctx context.Context, uses []models.ContentBlock, tr *tracker.Tracker, cb *Callbacks) []models.ContentBlock {
	gate := newBatchGate(l.whitelist)
	results := make([]models.ContentBlock, 0, len(uses))

	for _, use := range uses {
		args := normalizeArgs(use.Input)

		if tr != nil {
			if execute, cached := tr.ShouldExecute(use.Name, args); !execute {
				tr.LogExecution(use.Name, args, true, cached, "", 0)
				if l.metrics != nil {
					l.metrics.ToolExecutionCounter.WithLabelValues(use.Name, "cached").Inc()
				}
				l.logger.Debug("tool served from cache", "tool", use.Name)
				cb.toolResult(use.Name, cached, true)
				results = append(results, models.NewToolResultBlock(use.ID, cached, false))
				continue
			}
		}

		cb.toolCall(use.Name, args)

		approved, err := gate.check(ctx, l.approver, use.Name, args)
		if err != nil || !approved {
			denial := "Tool execution denied by user"
			if err != nil {
				denial = "Tool execution denied: " + err.Error()
			}
			if tr != nil {
				tr.LogExecution(use.Name, args, false, "", denial, 0)
			}
			if l.metrics != nil {
				l.metrics.ToolExecutionCounter.WithLabelValues(use.Name, "denied").Inc()
			}
			l.logger.Info("tool denied", "tool", use.Name)
			cb.toolResult(use.Name, denial, false)
			results = append(results, models.NewToolResultBlock(use.ID, denial, true))
			continue
		}

		start := time.Now()
		out, execErr := l.registry.Execute(ctx, use.Name, args)
		elapsed := time.Since(start).Milliseconds()

		success := execErr == nil
		if execErr != nil {
			out = fmt.Sprintf("Error executing tool '%s': %s", use.Name, execErr)
		}
		if tr != nil {
			if success {
				tr.LogExecution(use.Name, args, true, out, "", elapsed)
			} else {
				tr.LogExecution(use.Name, args, false, "", execErr.Error(), elapsed)
			}
		}
		cb.toolResult(use.Name, out, success)
		results = append(results, models.NewToolResultBlock(use.ID, out, !success))
	}
	return results
}

// normalizeArgs coerces tool_use input to a canonical string-keyed map.
// The round trip through JSON flattens SDK-specific value types once, at
// the loop boundary.
func normalizeArgs(input map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return input
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return input
	}
	return out
}
