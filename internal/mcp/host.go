package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meridian-ai/meridian/pkg/models"
)

// Host owns the process-wide set of connection managers and exposes them by
// name. It satisfies the tool layer's view of the MCP fleet.
type Host struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	managers map[string]*ConnManager
	order    []string
}

// NewHost creates an empty host.
func NewHost(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		logger:   logger.With("component", "mcp.host"),
		managers: make(map[string]*ConnManager),
	}
}

// Add registers a manager. Server names are unique.
func (h *Host) Add(m *ConnManager) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.managers[m.Name()]; exists {
		return fmt.Errorf("mcp: server %q already registered", m.Name())
	}
	h.managers[m.Name()] = m
	h.order = append(h.order, m.Name())
	return nil
}

// Get returns the named manager.
func (h *Host) Get(name string) (*ConnManager, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.managers[name]
	return m, ok
}

// ServerNames lists servers in registration order.
func (h *Host) ServerNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// StartAll begins connecting every manager. Failures to start one server
// are logged and do not block the rest.
func (h *Host) StartAll() {
	for _, name := range h.ServerNames() {
		m, _ := h.Get(name)
		if err := m.Connect(); err != nil {
			h.logger.Warn("server start skipped", "server", name, "error", err)
		}
	}
}

// StopAll disconnects every manager.
func (h *Host) StopAll() {
	for _, name := range h.ServerNames() {
		m, _ := h.Get(name)
		m.Disconnect()
	}
}

// Statuses reports each server's current state.
func (h *Host) Statuses() map[string]State {
	out := make(map[string]State)
	for _, name := range h.ServerNames() {
		m, _ := h.Get(name)
		out[name] = m.State()
	}
	return out
}

// ListTools returns the named server's cached tools as definitions the
// tool registry can advertise.
func (h *Host) ListTools(_ context.Context, server string) ([]models.ToolDefinition, error) {
	m, ok := h.Get(server)
	if !ok {
		return nil, fmt.Errorf("mcp: unknown server %q", server)
	}
	if m.State() != StateConnected {
		return nil, fmt.Errorf("mcp: server %q is %s", server, m.State())
	}

	artifacts := m.Artifacts()
	defs := make([]models.ToolDefinition, 0, len(artifacts.Tools))
	for _, tool := range artifacts.Tools {
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		defs = append(defs, models.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return defs, nil
}

// CallTool invokes a tool on the named server.
func (h *Host) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	m, ok := h.Get(server)
	if !ok {
		return "", fmt.Errorf("mcp: unknown server %q", server)
	}
	return m.CallTool(ctx, tool, args)
}
