package tools

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian-ai/meridian/internal/observability"
	"github.com/meridian-ai/meridian/pkg/models"
)

// Registry is the flat tool namespace the agent loop works against.
type Registry struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	metrics   *observability.Metrics
	caching   bool
	providers []Provider
	byName    map[string]Provider

	// routes maps tool name to owning provider; dirty forces a rebuild on
	// the next lookup.
	routes map[string]Provider
	// order is the tool-name ordering of the last aggregation.
	order []string
	dirty bool
}

// NewRegistry creates an empty registry. Metrics may be nil.
func NewRegistry(logger *slog.Logger, metrics *observability.Metrics, cachingEnabled bool) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "tools"),
		metrics: metrics,
		caching: cachingEnabled,
		byName:  make(map[string]Provider),
		routes:  make(map[string]Provider),
		dirty:   true,
	}
}

// RegisterProvider adds a provider. Provider names are unique.
func (r *Registry) RegisterProvider(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[p.Name()]; exists {
		return &DuplicateProviderError{Name: p.Name()}
	}
	r.byName[p.Name()] = p
	r.providers = append(r.providers, p)
	r.dirty = true
	return nil
}

// DefinitionsForAPI aggregates tool definitions from every provider,
// fetching in parallel with error isolation: a failing provider is logged
// and skipped. Duplicate tool names keep the first occurrence (provider
// registration order breaks ties). When caching is enabled, the last
// definition carries the tools-list cache breakpoint.
func (r *Registry) DefinitionsForAPI(ctx context.Context) []models.ToolDefinition {
	r.mu.RLock()
	providers := make([]Provider, len(r.providers))
	copy(providers, r.providers)
	r.mu.RUnlock()

	type fetch struct {
		defs []models.ToolDefinition
		err  error
	}
	results := make([]fetch, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			defs, err := p.Definitions(ctx)
			results[i] = fetch{defs: defs, err: err}
		}(i, p)
	}
	wg.Wait()

	var all []models.ToolDefinition
	routes := make(map[string]Provider)
	var order []string
	for i, res := range results {
		provider := providers[i]
		if res.err != nil {
			r.logger.Warn("provider definitions fetch failed",
				"provider", provider.Name(),
				"error", res.err)
			continue
		}
		for _, def := range res.defs {
			if _, taken := routes[def.Name]; taken {
				r.logger.Warn("duplicate tool name skipped",
					"tool", def.Name,
					"provider", provider.Name())
				continue
			}
			def.CacheControl = nil
			routes[def.Name] = provider
			order = append(order, def.Name)
			all = append(all, def)
		}
	}

	if r.caching && len(all) > 0 {
		all[len(all)-1].CacheControl = models.EphemeralCache()
	}

	r.mu.Lock()
	r.routes = routes
	r.order = order
	r.dirty = false
	r.mu.Unlock()

	return all
}

// Execute routes the named tool to its provider, timing the call. A dirty
// routing table is rebuilt transparently first.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	provider, ok := r.routes[name]
	dirty := r.dirty
	r.mu.RUnlock()

	if !ok && dirty {
		r.DefinitionsForAPI(ctx)
		r.mu.RLock()
		provider, ok = r.routes[name]
		r.mu.RUnlock()
	}
	if !ok {
		return "", &UnknownToolError{Name: name}
	}

	start := time.Now()
	result, err := provider.Execute(ctx, name, args)
	elapsed := time.Since(start)

	if r.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
		r.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
	return result, err
}

// Names returns the tool names from the last aggregation, rebuilding if the
// table is dirty.
func (r *Registry) Names(ctx context.Context) []string {
	r.mu.RLock()
	dirty := r.dirty
	r.mu.RUnlock()
	if dirty {
		r.DefinitionsForAPI(ctx)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of distinct tools.
func (r *Registry) Count(ctx context.Context) int {
	return len(r.Names(ctx))
}

// Refresh marks the routing table dirty and rebuilds it, picking up
// capability changes on the providers.
func (r *Registry) Refresh(ctx context.Context) {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
	r.DefinitionsForAPI(ctx)
}

// MarkDirty invalidates the routing table without rebuilding. The next
// lookup rebuilds. MCP capability refreshes call this on change.
func (r *Registry) MarkDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}
