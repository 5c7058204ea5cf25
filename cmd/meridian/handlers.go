package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-ai/meridian/internal/conversation"
	"github.com/meridian-ai/meridian/internal/mcp"
	"github.com/meridian-ai/meridian/internal/observability"
	"github.com/meridian-ai/meridian/internal/session"
)

// openSessionManager builds the minimal stack the session commands need.
func openSessionManager(configPath string) (*session.Manager, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogger(cfg.Logging)

	provider, err := openProvider(cfg.State)
	if err != nil {
		return nil, nil, fmt.Errorf("open state backend %s: %w", cfg.State.Backend, err)
	}
	closeFn := func() {
		if closer, ok := provider.(interface{ Close() error }); ok {
			closer.Close()
		}
	}

	convCfg := conversation.Config{
		CachingEnabled: *cfg.Conversation.EnableCaching,
		MaxHistory:     cfg.Conversation.MaxHistoryMessages,
	}
	manager := session.NewManager(provider, observability.NewMetrics(), defaultSystemPrompt, convCfg, logger)
	return manager, closeFn, nil
}

func runSessionsList(cmd *cobra.Command, configPath string) error {
	manager, closeFn, err := openSessionManager(configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := manager.Init(cmd.Context()); err != nil {
		return err
	}
	summaries, err := manager.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMODEL\tLAST ACTIVE")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Title, s.Model, s.LastActiveAt)
	}
	return w.Flush()
}

func runSessionsDelete(cmd *cobra.Command, configPath, id string) error {
	manager, closeFn, err := openSessionManager(configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := manager.Delete(cmd.Context(), id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", id)
	return nil
}

// runMCPStatus probes each configured server once instead of starting the
// supervised connections the chat command uses.
func runMCPStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg.Logging)

	if len(cfg.MCP.Servers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No capability servers configured.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTRANSPORT\tSTATE\tTOOLS")
	for _, server := range cfg.MCP.Servers {
		transport := server.Transport
		if transport == "" {
			transport = "stdio"
		}
		state, toolCount := probeServer(cmd.Context(), server, cfg.Connection.HealthTimeout)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", server.Name, transport, state, toolCount)
	}
	return w.Flush()
}

func probeServer(ctx context.Context, server mcp.ServerConfig, timeout time.Duration) (string, int) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout(timeout))
	defer cancel()

	sess, err := mcp.ConnectFuncFor(server, nil)(probeCtx)
	if err != nil {
		return "unreachable: " + err.Error(), 0
	}
	defer sess.Close()

	if err := sess.Initialize(probeCtx); err != nil {
		return "handshake failed: " + err.Error(), 0
	}
	tools, err := sess.ListTools(probeCtx)
	if err != nil {
		return "connected (tools unavailable)", 0
	}
	return "connected", len(tools)
}

func probeTimeout(configured time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return 5 * time.Second
}
