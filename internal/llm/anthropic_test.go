package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/meridian-ai/meridian/pkg/models"
)

type stubMessages struct {
	lastParams anthropic.MessageNewParams
	resp       *anthropic.Message
	err        error
}

func (s *stubMessages) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessages) NewStreaming(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	s.lastParams = body
	return ssestream.NewStream[anthropic.MessageStreamEventUnion](&noopDecoder{}, nil)
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

func TestNewAnthropicClientRequiresKey(t *testing.T) {
	if _, err := NewAnthropicClient(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
	cl, err := NewAnthropicClient(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cl == nil {
		t.Fatal("expected client")
	}
}

func TestCompleteTextOnly(t *testing.T) {
	stub := &stubMessages{
		resp: &anthropic.Message{
			Content: []anthropic.ContentBlockUnion{
				{Type: "text", Text: "hello back"},
			},
			StopReason: anthropic.StopReasonEndTurn,
			Usage:      anthropic.Usage{InputTokens: 12, OutputTokens: 7},
		},
	}
	cl := NewAnthropicClientWith(stub, AnthropicConfig{DefaultModel: "claude-3-5-haiku-20241022"})

	msg, usage, err := cl.Complete(context.Background(), &Request{
		Messages: []models.Message{models.NewTextMessage(models.RoleUser, "hello")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := msg.Text(); got != "hello back" {
		t.Errorf("unexpected text %q", got)
	}
	if usage.InputTokens != 12 || usage.OutputTokens != 7 {
		t.Errorf("unexpected usage %+v", usage)
	}
	if string(stub.lastParams.Model) != "claude-3-5-haiku-20241022" {
		t.Errorf("default model not applied: %s", stub.lastParams.Model)
	}
}

func TestCompleteToolUse(t *testing.T) {
	stub := &stubMessages{
		resp: &anthropic.Message{
			Content: []anthropic.ContentBlockUnion{
				{Type: "text", Text: "checking"},
				{Type: "tool_use", ID: "tu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"London"}`)},
			},
			StopReason: anthropic.StopReasonToolUse,
		},
	}
	cl := NewAnthropicClientWith(stub, AnthropicConfig{})

	msg, _, err := cl.Complete(context.Background(), &Request{
		Messages: []models.Message{models.NewTextMessage(models.RoleUser, "weather?")},
		Tools: []models.ToolDefinition{
			{Name: "get_weather", Description: "weather lookup", InputSchema: map[string]any{"type": "object"}},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	uses := msg.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("expected 1 tool use, got %d", len(uses))
	}
	if uses[0].ID != "tu_1" || uses[0].Name != "get_weather" {
		t.Errorf("unexpected tool use %+v", uses[0])
	}
	if uses[0].Input["city"] != "London" {
		t.Errorf("tool input not decoded: %+v", uses[0].Input)
	}
	if len(stub.lastParams.Tools) != 1 {
		t.Fatalf("expected 1 tool param, got %d", len(stub.lastParams.Tools))
	}
}

func TestCompleteMalformedToolInput(t *testing.T) {
	stub := &stubMessages{
		resp: &anthropic.Message{
			Content: []anthropic.ContentBlockUnion{
				{Type: "tool_use", ID: "tu_1", Name: "t", Input: json.RawMessage(`not json`)},
			},
		},
	}
	cl := NewAnthropicClientWith(stub, AnthropicConfig{})
	if _, _, err := cl.Complete(context.Background(), &Request{}); err == nil {
		t.Fatal("expected error for malformed tool input")
	}
}

func TestCompleteClassifiesErrors(t *testing.T) {
	stub := &stubMessages{err: errors.New("connection reset")}
	cl := NewAnthropicClientWith(stub, AnthropicConfig{})

	_, _, err := cl.Complete(context.Background(), &Request{})
	var tr *TransportError
	if !errors.As(err, &tr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if !Retryable(err) {
		t.Error("transport error should be retryable")
	}
}

func TestBuildParamsSystemAndCache(t *testing.T) {
	stub := &stubMessages{resp: &anthropic.Message{}}
	cl := NewAnthropicClientWith(stub, AnthropicConfig{})

	temp := 0.2
	_, _, err := cl.Complete(context.Background(), &Request{
		System:      "be terse",
		CacheSystem: true,
		Temperature: &temp,
		MaxTokens:   256,
		Messages:    []models.Message{models.NewTextMessage(models.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(stub.lastParams.System) != 1 || stub.lastParams.System[0].Text != "be terse" {
		t.Fatalf("system prompt not set: %+v", stub.lastParams.System)
	}
	if stub.lastParams.System[0].CacheControl.Type == "" {
		t.Error("system cache breakpoint not set")
	}
	if stub.lastParams.MaxTokens != 256 {
		t.Errorf("max tokens = %d, want 256", stub.lastParams.MaxTokens)
	}
	if !stub.lastParams.Temperature.Valid() || stub.lastParams.Temperature.Value != 0.2 {
		t.Errorf("temperature not set: %+v", stub.lastParams.Temperature)
	}
}

func TestConvertMessagesRoundTripShapes(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: []models.ContentBlock{models.NewTextBlock("question")}},
		{Role: models.RoleAssistant, Content: []models.ContentBlock{
			models.NewTextBlock("using tool"),
			models.NewToolUseBlock("tu_9", "search", map[string]any{"q": "news"}),
		}},
		{Role: models.RoleUser, Content: []models.ContentBlock{
			models.NewToolResultBlock("tu_9", "result text", false),
		}},
	}

	params, err := convertMessages(msgs)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(params) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params))
	}
	if params[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("message 0 role = %s", params[0].Role)
	}
	if params[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("message 1 role = %s", params[1].Role)
	}
	if len(params[1].Content) != 2 {
		t.Errorf("assistant message block count = %d", len(params[1].Content))
	}
}

func TestConvertMessagesRejectsUnknownBlock(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: []models.ContentBlock{{Type: "bogus"}}},
	}
	if _, err := convertMessages(msgs); err == nil {
		t.Fatal("expected error for unknown block type")
	}
}

func TestConvertToolsCacheMarker(t *testing.T) {
	tools := []models.ToolDefinition{
		{Name: "first", InputSchema: map[string]any{"type": "object"}},
		{Name: "last", InputSchema: map[string]any{"type": "object"}, CacheControl: models.EphemeralCache()},
	}
	params, err := convertTools(tools)
	if err != nil {
		t.Fatalf("convertTools: %v", err)
	}
	if len(params) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(params))
	}
	if params[0].OfTool.CacheControl.Type != "" {
		t.Error("first tool should not carry cache control")
	}
	if params[1].OfTool.CacheControl.Type == "" {
		t.Error("last tool should carry cache control")
	}
}

func TestStreamEmptyStreamDelivers(t *testing.T) {
	stub := &stubMessages{}
	cl := NewAnthropicClientWith(stub, AnthropicConfig{})

	chunks, err := cl.Stream(context.Background(), &Request{
		Messages: []models.Message{models.NewTextMessage(models.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var last StreamChunk
	for c := range chunks {
		last = c
	}
	if last.Err != nil {
		t.Fatalf("unexpected stream error: %v", last.Err)
	}
	if !last.Done {
		t.Fatal("expected terminal chunk")
	}
	if last.Message == nil || last.Message.Role != models.RoleAssistant {
		t.Fatalf("terminal chunk missing assembled message: %+v", last)
	}
}
