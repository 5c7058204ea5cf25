// Package mcp manages connections to Model Context Protocol servers: one
// connection manager per server owning a lifecycle state machine, a health
// checker, and exponential-backoff reconnection. Transport details live
// behind the Session interface; the manager only consumes sessions.
package mcp

import "context"

// Session is one established MCP session. The connection manager calls
// Initialize once after connect and Close when the session is torn down.
type Session interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	ListPrompts(ctx context.Context) ([]Prompt, error)
	ListResources(ctx context.Context) ([]Resource, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// ConnectFunc establishes one session. The context is cancelled when the
// manager stops; implementations must abandon the session then.
type ConnectFunc func(ctx context.Context) (Session, error)

// ToolDescriptor is a tool advertised by a server.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Prompt is a prompt template advertised by a server.
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Resource is a readable resource advertised by a server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// Artifacts is the full capability set advertised by a server.
type Artifacts struct {
	Tools     []ToolDescriptor
	Prompts   []Prompt
	Resources []Resource
}
