package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridian-ai/meridian/internal/observability"
	"github.com/meridian-ai/meridian/pkg/models"
)

type fakeProvider struct {
	name    string
	defs    []models.ToolDefinition
	defsErr error
	exec    func(ctx context.Context, name string, args map[string]any) (string, error)
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Definitions(context.Context) ([]models.ToolDefinition, error) {
	f.calls++
	return f.defs, f.defsErr
}

func (f *fakeProvider) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	if f.exec != nil {
		return f.exec(ctx, name, args)
	}
	return "result from " + f.name, nil
}

func toolDef(name string) models.ToolDefinition {
	return models.ToolDefinition{
		Name:        name,
		InputSchema: map[string]any{"type": "object"},
	}
}

func TestRegisterProviderRejectsDuplicateName(t *testing.T) {
	r := NewRegistry(nil, nil, false)
	if err := r.RegisterProvider(&fakeProvider{name: "alpha"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.RegisterProvider(&fakeProvider{name: "alpha"})
	var dup *DuplicateProviderError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateProviderError, got %v", err)
	}
	if dup.Name != "alpha" {
		t.Errorf("error name = %q, want alpha", dup.Name)
	}
}

func TestDefinitionsIsolatesProviderFailure(t *testing.T) {
	r := NewRegistry(nil, nil, false)
	r.RegisterProvider(&fakeProvider{name: "ok", defs: []models.ToolDefinition{toolDef("search")}})
	r.RegisterProvider(&fakeProvider{name: "broken", defsErr: errors.New("boom")})

	defs := r.DefinitionsForAPI(context.Background())
	if len(defs) != 1 || defs[0].Name != "search" {
		t.Fatalf("defs = %v, want just search", defs)
	}
}

func TestDefinitionsFirstWinsOnDuplicateTool(t *testing.T) {
	first := &fakeProvider{name: "first", defs: []models.ToolDefinition{toolDef("search")}}
	second := &fakeProvider{
		name: "second",
		defs: []models.ToolDefinition{toolDef("search"), toolDef("fetch")},
	}
	r := NewRegistry(nil, nil, false)
	r.RegisterProvider(first)
	r.RegisterProvider(second)

	defs := r.DefinitionsForAPI(context.Background())
	if len(defs) != 2 {
		t.Fatalf("len(defs) = %d, want 2", len(defs))
	}

	// The duplicate routed to the first-registered provider.
	got, err := r.Execute(context.Background(), "search", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "result from first" {
		t.Errorf("search routed to %q", got)
	}
}

func TestDefinitionsCacheMarkerOnLastToolOnly(t *testing.T) {
	r := NewRegistry(nil, nil, true)
	r.RegisterProvider(&fakeProvider{
		name: "p",
		defs: []models.ToolDefinition{toolDef("a"), toolDef("b"), toolDef("c")},
	})

	defs := r.DefinitionsForAPI(context.Background())
	for i, def := range defs {
		marked := def.CacheControl != nil
		wantMarked := i == len(defs)-1
		if marked != wantMarked {
			t.Errorf("defs[%d].CacheControl marked=%v, want %v", i, marked, wantMarked)
		}
	}
}

func TestDefinitionsNoCacheMarkerWhenCachingDisabled(t *testing.T) {
	r := NewRegistry(nil, nil, false)
	r.RegisterProvider(&fakeProvider{name: "p", defs: []models.ToolDefinition{toolDef("a")}})

	defs := r.DefinitionsForAPI(context.Background())
	if defs[0].CacheControl != nil {
		t.Error("cache marker set with caching disabled")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry(nil, nil, false)
	r.RegisterProvider(&fakeProvider{name: "p", defs: []models.ToolDefinition{toolDef("a")}})
	r.DefinitionsForAPI(context.Background())

	_, err := r.Execute(context.Background(), "nope", nil)
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
}

func TestExecuteRebuildsDirtyRoutingTable(t *testing.T) {
	p := &fakeProvider{name: "p", defs: []models.ToolDefinition{toolDef("a")}}
	r := NewRegistry(nil, nil, false)
	r.RegisterProvider(p)

	// No aggregation yet; the table is dirty and Execute rebuilds it.
	if _, err := r.Execute(context.Background(), "a", nil); err != nil {
		t.Fatalf("Execute on dirty table: %v", err)
	}
	if p.calls != 1 {
		t.Errorf("provider fetched %d times, want 1", p.calls)
	}
}

func TestMarkDirtyPicksUpNewTools(t *testing.T) {
	p := &fakeProvider{name: "p", defs: []models.ToolDefinition{toolDef("a")}}
	r := NewRegistry(nil, nil, false)
	r.RegisterProvider(p)
	r.DefinitionsForAPI(context.Background())

	p.defs = append(p.defs, toolDef("b"))
	if _, err := r.Execute(context.Background(), "b", nil); err == nil {
		t.Fatal("expected unknown tool before MarkDirty")
	}

	r.MarkDirty()
	if _, err := r.Execute(context.Background(), "b", nil); err != nil {
		t.Fatalf("Execute after MarkDirty: %v", err)
	}
}

func TestNamesAndCount(t *testing.T) {
	r := NewRegistry(nil, nil, false)
	r.RegisterProvider(&fakeProvider{
		name: "p",
		defs: []models.ToolDefinition{toolDef("a"), toolDef("b")},
	})

	names := r.Names(context.Background())
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v", names)
	}
	if got := r.Count(context.Background()); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
}

func TestExecuteRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWith(reg)

	p := &fakeProvider{
		name: "p",
		defs: []models.ToolDefinition{toolDef("good"), toolDef("bad")},
		exec: func(_ context.Context, name string, _ map[string]any) (string, error) {
			if name == "bad" {
				return "", errors.New("boom")
			}
			return "ok", nil
		},
	}
	r := NewRegistry(nil, metrics, false)
	r.RegisterProvider(p)

	if _, err := r.Execute(context.Background(), "good", nil); err != nil {
		t.Fatalf("Execute good: %v", err)
	}
	if _, err := r.Execute(context.Background(), "bad", nil); err == nil {
		t.Fatal("expected error from bad tool")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() == "meridian_tool_executions_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Errorf("tool execution series = %d, want 2", len(mf.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("meridian_tool_executions_total not registered")
	}
}
