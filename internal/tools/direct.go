package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/meridian-ai/meridian/pkg/models"
)

// HandlerFunc is an in-process tool implementation.
type HandlerFunc func(ctx context.Context, args map[string]any) (string, error)

type directTool struct {
	def     models.ToolDefinition
	schema  *jsonschema.Schema
	handler HandlerFunc
}

// DirectProvider serves tools implemented in-process. Arguments are
// validated against the tool's input schema before the handler runs.
type DirectProvider struct {
	mu    sync.RWMutex
	name  string
	tools map[string]*directTool
	order []string
}

// NewDirectProvider creates an empty provider with the given name.
func NewDirectProvider(name string) *DirectProvider {
	if name == "" {
		name = "direct"
	}
	return &DirectProvider{
		name:  name,
		tools: make(map[string]*directTool),
	}
}

// Register adds a callable tool. The input schema is compiled once here;
// a schema that does not compile is a registration error, not an
// execution-time one.
func (p *DirectProvider) Register(name, description string, inputSchema map[string]any, handler HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("tools: direct tool name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("tools: direct tool %q has no handler", name)
	}
	if inputSchema == nil {
		inputSchema = map[string]any{"type": "object"}
	}

	raw, err := json.Marshal(inputSchema)
	if err != nil {
		return fmt.Errorf("tools: encode schema for %q: %w", name, err)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("tools: compile schema for %q: %w", name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.tools[name]; exists {
		return fmt.Errorf("tools: direct tool %q already registered", name)
	}
	p.tools[name] = &directTool{
		def: models.ToolDefinition{
			Name:        name,
			Description: description,
			InputSchema: inputSchema,
		},
		schema:  schema,
		handler: handler,
	}
	p.order = append(p.order, name)
	return nil
}

// Name implements Provider.
func (p *DirectProvider) Name() string { return p.name }

// Definitions implements Provider. Tools are returned in registration order.
func (p *DirectProvider) Definitions(_ context.Context) ([]models.ToolDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(p.order))
	for _, name := range p.order {
		defs = append(defs, p.tools[name].def)
	}
	return defs, nil
}

// Execute implements Provider. Arguments that fail schema validation never
// reach the handler.
func (p *DirectProvider) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	p.mu.RLock()
	tool, ok := p.tools[name]
	p.mu.RUnlock()
	if !ok {
		return "", &UnknownToolError{Name: name}
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := tool.schema.Validate(normalizeForSchema(args)); err != nil {
		return "", fmt.Errorf("tools: invalid arguments for %q: %w", name, err)
	}
	return tool.handler(ctx, args)
}

// normalizeForSchema round-trips args through JSON so validation sees the
// same value shapes the wire would carry (float64 numbers, untyped maps).
func normalizeForSchema(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return args
	}
	return decoded
}
