package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meridian-ai/meridian/pkg/models"
)

// Host is the slice of the MCP layer this provider needs: named servers,
// their advertised tools, and a way to call one. The concrete host lives in
// internal/mcp; the indirection keeps tool routing free of connection
// lifecycle concerns.
type Host interface {
	// ServerNames lists the configured server names.
	ServerNames() []string

	// ListTools returns the tools the named server currently advertises.
	// Servers that are not connected return an error.
	ListTools(ctx context.Context, server string) ([]models.ToolDefinition, error)

	// CallTool invokes a tool on the named server.
	CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error)
}

// MCPProvider flattens every connected server's tools into one namespace.
// A tool name advertised by a single server keeps its bare name; when two
// servers advertise the same name, the first keeps it and later ones are
// exposed as server_tool.
type MCPProvider struct {
	mu     sync.RWMutex
	host   Host
	logger *slog.Logger

	// routes maps the exposed tool name to its server and wire-level name.
	routes map[string]mcpRoute
}

type mcpRoute struct {
	server string
	tool   string
}

// NewMCPProvider wraps an MCP host as a tool provider.
func NewMCPProvider(host Host, logger *slog.Logger) *MCPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPProvider{
		host:   host,
		logger: logger.With("component", "tools.mcp"),
		routes: make(map[string]mcpRoute),
	}
}

// Name implements Provider.
func (p *MCPProvider) Name() string { return "mcp" }

// Definitions implements Provider. Unreachable servers are logged and
// skipped so one dead connection does not hide the rest of the fleet.
func (p *MCPProvider) Definitions(ctx context.Context) ([]models.ToolDefinition, error) {
	servers := p.host.ServerNames()

	var defs []models.ToolDefinition
	routes := make(map[string]mcpRoute)
	for _, server := range servers {
		tools, err := p.host.ListTools(ctx, server)
		if err != nil {
			p.logger.Warn("listing server tools failed",
				"server", server,
				"error", err)
			continue
		}
		for _, def := range tools {
			exposed := def.Name
			if prior, taken := routes[exposed]; taken {
				exposed = fmt.Sprintf("%s_%s", server, def.Name)
				p.logger.Warn("tool name collision, namespacing",
					"tool", def.Name,
					"kept_by", prior.server,
					"renamed_to", exposed)
				if _, stillTaken := routes[exposed]; stillTaken {
					p.logger.Warn("namespaced tool name also taken, skipping",
						"tool", exposed,
						"server", server)
					continue
				}
			}
			routes[exposed] = mcpRoute{server: server, tool: def.Name}
			def.Name = exposed
			defs = append(defs, def)
		}
	}

	p.mu.Lock()
	p.routes = routes
	p.mu.Unlock()

	return defs, nil
}

// Execute implements Provider, resolving the exposed name back to its
// server and wire-level tool name.
func (p *MCPProvider) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	p.mu.RLock()
	route, ok := p.routes[name]
	p.mu.RUnlock()
	if !ok {
		return "", &UnknownToolError{Name: name}
	}
	return p.host.CallTool(ctx, route.server, route.tool, args)
}
