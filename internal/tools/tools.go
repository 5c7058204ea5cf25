// Package tools aggregates tool providers behind a single registry. The
// agent loop sees one flat namespace of tool definitions and one execution
// entry point; providers supply the tools, locally or over MCP.
package tools

import (
	"context"
	"fmt"

	"github.com/meridian-ai/meridian/pkg/models"
)

// Provider supplies a named set of tools. Providers must be safe for
// concurrent use: definition fetches fan out in parallel and executions are
// not serialized across tools.
type Provider interface {
	// Name identifies the provider for routing and logs.
	Name() string

	// Definitions returns the provider's current tool definitions.
	Definitions(ctx context.Context) ([]models.ToolDefinition, error)

	// Execute runs the named tool and returns its textual result.
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// DuplicateProviderError reports a provider-name collision at registration.
type DuplicateProviderError struct {
	Name string
}

func (e *DuplicateProviderError) Error() string {
	return fmt.Sprintf("tools: provider %q already registered", e.Name)
}

// UnknownToolError reports an execution request for a tool no provider owns.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tools: unknown tool %q", e.Name)
}
