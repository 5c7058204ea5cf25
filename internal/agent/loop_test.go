package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meridian-ai/meridian/internal/conversation"
	"github.com/meridian-ai/meridian/internal/llm"
	"github.com/meridian-ai/meridian/internal/tools"
	"github.com/meridian-ai/meridian/internal/tracker"
	"github.com/meridian-ai/meridian/pkg/models"
)

type fakeClient struct {
	mu        sync.Mutex
	responses []models.Message
	err       error
	calls     int
	reqs      []*llm.Request
}

func (f *fakeClient) next(req *llm.Request) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.responses) {
		return nil, errors.New("no scripted response left")
	}
	msg := f.responses[f.calls]
	f.calls++
	return &msg, nil
}

func (f *fakeClient) Complete(_ context.Context, req *llm.Request) (*models.Message, *models.Usage, error) {
	msg, err := f.next(req)
	if err != nil {
		return nil, nil, err
	}
	return msg, &models.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeClient) Stream(_ context.Context, req *llm.Request) (<-chan llm.StreamChunk, error) {
	msg, err := f.next(req)
	if err != nil {
		return nil, err
	}
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for _, block := range msg.Content {
			if block.Type == models.BlockText {
				out <- llm.StreamChunk{Text: block.Text}
			}
		}
		out <- llm.StreamChunk{
			Done:    true,
			Message: msg,
			Usage:   models.Usage{InputTokens: 10, OutputTokens: 5},
		}
	}()
	return out, nil
}

func assistantText(text string) models.Message {
	return models.NewTextMessage(models.RoleAssistant, text)
}

func assistantToolUse(id, name string, input map[string]any) models.Message {
	return models.Message{
		Role:    models.RoleAssistant,
		Content: []models.ContentBlock{models.NewToolUseBlock(id, name, input)},
	}
}

func echoRegistry(t *testing.T, calls *int) *tools.Registry {
	t.Helper()
	provider := tools.NewDirectProvider("direct")
	err := provider.Register("echo", "echoes msg", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"msg": map[string]any{"type": "string"},
		},
		"required": []any{"msg"},
	}, func(_ context.Context, args map[string]any) (string, error) {
		if calls != nil {
			*calls++
		}
		time.Sleep(2 * time.Millisecond)
		return args["msg"].(string), nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	registry := tools.NewRegistry(nil, nil, false)
	registry.RegisterProvider(provider)
	return registry
}

func TestSingleTurnNoTools(t *testing.T) {
	client := &fakeClient{responses: []models.Message{assistantText("hello there")}}
	loop := New(client, tools.NewRegistry(nil, nil, false), nil, nil, nil, DefaultConfig())
	conv := conversation.New("", conversation.DefaultConfig())

	got, usage, err := loop.Run(context.Background(), conv, "hi", nil, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "hello there" {
		t.Errorf("text = %q", got)
	}
	if client.calls != 1 {
		t.Errorf("LLM calls = %d, want 1", client.calls)
	}
	if conv.Len() != 2 {
		t.Errorf("conversation len = %d, want 2", conv.Len())
	}
	if usage.InputTokens != 10 || usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestToolRoundTrip(t *testing.T) {
	client := &fakeClient{responses: []models.Message{
		assistantToolUse("tu_1", "echo", map[string]any{"msg": "x"}),
		assistantText("done"),
	}}
	var echoCalls int
	loop := New(client, echoRegistry(t, &echoCalls), nil, nil, nil, DefaultConfig())
	conv := conversation.New("", conversation.DefaultConfig())
	tr := tracker.New("roundtrip", models.ComplexitySimple)

	got, _, err := loop.Run(context.Background(), conv, "run echo", tr, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "done" {
		t.Errorf("text = %q", got)
	}
	if client.calls != 2 || echoCalls != 1 {
		t.Errorf("llm calls = %d, echo calls = %d", client.calls, echoCalls)
	}

	msgs := conv.Messages()
	if len(msgs) != 4 {
		t.Fatalf("conversation len = %d, want 4", len(msgs))
	}
	wantRoles := []models.Role{models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("msgs[%d].Role = %s, want %s", i, msgs[i].Role, want)
		}
	}
	result := msgs[2].Content[0]
	if result.Type != models.BlockToolResult || result.Content != "x" || result.ToolUseID != "tu_1" {
		t.Errorf("tool_result block = %+v", result)
	}

	if len(tr.ToolExecutions) != 1 {
		t.Fatalf("tool executions = %d", len(tr.ToolExecutions))
	}
	rec := tr.ToolExecutions[0]
	if !rec.Success || rec.ExecutionTimeMS == 0 {
		t.Errorf("record = %+v, want success with non-zero time", rec)
	}
}

func TestToolCacheHitSkipsProvider(t *testing.T) {
	client := &fakeClient{responses: []models.Message{
		assistantToolUse("tu_1", "echo", map[string]any{"msg": "x"}),
		assistantText("done"),
	}}
	var echoCalls int
	loop := New(client, echoRegistry(t, &echoCalls), nil, nil, nil, DefaultConfig())
	conv := conversation.New("", conversation.DefaultConfig())

	tr := tracker.New("cached run", models.ComplexitySimple)
	tr.LogExecution("echo", map[string]any{"msg": "x"}, true, "cached", "", 7)

	if _, _, err := loop.Run(context.Background(), conv, "run echo", tr, nil, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if echoCalls != 0 {
		t.Errorf("echo invoked %d times despite cache hit", echoCalls)
	}

	result := conv.Messages()[2].Content[0]
	if result.Content != "cached" {
		t.Errorf("tool_result content = %q, want cached", result.Content)
	}
	if len(tr.ToolExecutions) != 2 {
		t.Fatalf("tool executions = %d, want 2", len(tr.ToolExecutions))
	}
	if tr.ToolExecutions[1].ExecutionTimeMS != 0 {
		t.Errorf("cached record time = %d, want 0", tr.ToolExecutions[1].ExecutionTimeMS)
	}
}

func TestEmptyQueryAppendsNothing(t *testing.T) {
	client := &fakeClient{responses: []models.Message{assistantText("continuing")}}
	loop := New(client, tools.NewRegistry(nil, nil, false), nil, nil, nil, DefaultConfig())
	conv := conversation.New("", conversation.DefaultConfig())
	conv.AddUserText("earlier question")
	conv.AddAssistantText("earlier answer")

	got, _, err := loop.Run(context.Background(), conv, "", nil, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "continuing" {
		t.Errorf("text = %q", got)
	}
	// 2 prior + 1 assistant; no new user message.
	if conv.Len() != 3 {
		t.Errorf("conversation len = %d, want 3", conv.Len())
	}
}

func TestToolErrorBecomesResultText(t *testing.T) {
	provider := tools.NewDirectProvider("direct")
	provider.Register("flaky", "", nil, func(context.Context, map[string]any) (string, error) {
		return "", errors.New("backend unavailable")
	})
	registry := tools.NewRegistry(nil, nil, false)
	registry.RegisterProvider(provider)

	client := &fakeClient{responses: []models.Message{
		assistantToolUse("tu_1", "flaky", map[string]any{}),
		assistantText("noted"),
	}}
	loop := New(client, registry, nil, nil, nil, DefaultConfig())
	conv := conversation.New("", conversation.DefaultConfig())
	tr := tracker.New("q", models.ComplexitySimple)

	got, _, err := loop.Run(context.Background(), conv, "go", tr, nil, false)
	if err != nil {
		t.Fatalf("tool failure must not abort the run: %v", err)
	}
	if got != "noted" {
		t.Errorf("text = %q", got)
	}

	result := conv.Messages()[2].Content[0]
	if !result.IsError {
		t.Error("failed tool_result not flagged as error")
	}
	if want := "Error executing tool 'flaky': backend unavailable"; !strings.Contains(result.Content, want) {
		t.Errorf("result content = %q, want %q", result.Content, want)
	}
	if tr.ToolExecutions[0].Success {
		t.Error("failed execution logged as success")
	}
}

func TestLLMErrorPropagates(t *testing.T) {
	client := &fakeClient{err: errors.New("upstream 500")}
	loop := New(client, tools.NewRegistry(nil, nil, false), nil, nil, nil, DefaultConfig())
	conv := conversation.New("", conversation.DefaultConfig())

	if _, _, err := loop.Run(context.Background(), conv, "hi", nil, nil, false); err == nil {
		t.Fatal("expected error")
	}
}

func TestStreamingForwardsChunks(t *testing.T) {
	client := &fakeClient{responses: []models.Message{assistantText("streamed answer")}}
	loop := New(client, tools.NewRegistry(nil, nil, false), nil, nil, nil, DefaultConfig())
	conv := conversation.New("", conversation.DefaultConfig())

	var chunks []string
	completed := false
	cb := &Callbacks{
		OnStreamChunk:    func(s string) { chunks = append(chunks, s) },
		OnStreamComplete: func() { completed = true },
	}

	got, _, err := loop.Run(context.Background(), conv, "hi", nil, cb, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "streamed answer" {
		t.Errorf("text = %q", got)
	}
	if len(chunks) == 0 || !completed {
		t.Errorf("chunks = %v, completed = %v", chunks, completed)
	}
}

func TestBufferedModeSuppressesStreaming(t *testing.T) {
	client := &fakeClient{responses: []models.Message{assistantText("quiet answer")}}
	loop := New(client, tools.NewRegistry(nil, nil, false), nil, nil, nil, DefaultConfig())
	conv := conversation.New("", conversation.DefaultConfig())

	var chunks []string
	cb := &Callbacks{OnStreamChunk: func(s string) { chunks = append(chunks, s) }}

	// useStreaming=false wins over the presence of a chunk callback.
	got, _, err := loop.Run(context.Background(), conv, "hi", nil, cb, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "quiet answer" {
		t.Errorf("text = %q", got)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks leaked in buffered mode: %v", chunks)
	}
}

func TestUsageCallbackCarriesCost(t *testing.T) {
	client := &fakeClient{responses: []models.Message{assistantText("ok")}}
	loop := New(client, tools.NewRegistry(nil, nil, false), nil, nil, nil, DefaultConfig())
	conv := conversation.New("", conversation.DefaultConfig())

	var gotUsage models.Usage
	var gotCost float64
	cb := &Callbacks{OnUsage: func(u models.Usage, c float64) {
		gotUsage = u
		gotCost = c
	}}

	if _, _, err := loop.Run(context.Background(), conv, "hi", nil, cb, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotUsage.InputTokens != 10 || gotCost <= 0 {
		t.Errorf("usage = %+v cost = %f", gotUsage, gotCost)
	}
}
