package state

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/meridian-ai/meridian/internal/bus"
)

type fakeCompleter struct {
	content string
	err     error
}

func (f *fakeCompleter) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func TestExtractorParsesResponse(t *testing.T) {
	e := NewExtractorWith(&fakeCompleter{
		content: `{"profile_facts":{"name":"Ada"},"knowledge":["uses linux"],"intent":"question"}`,
	}, "gpt-4o-mini", nil)

	got := e.Extract(context.Background(), "hi, I'm Ada", "hello Ada")
	if got.ProfileFacts["name"] != "Ada" || got.Intent != "question" {
		t.Errorf("extraction = %+v", got)
	}
	if len(got.Knowledge) != 1 || got.Knowledge[0] != "uses linux" {
		t.Errorf("knowledge = %v", got.Knowledge)
	}
}

func TestExtractorToleratesFencedOutput(t *testing.T) {
	e := NewExtractorWith(&fakeCompleter{
		content: "```json\n{\"intent\":\"task\"}\n```",
	}, "gpt-4o-mini", nil)

	if got := e.Extract(context.Background(), "u", "a"); got.Intent != "task" {
		t.Errorf("extraction = %+v", got)
	}
}

func TestExtractorSwallowsErrorsAndGarbage(t *testing.T) {
	failing := NewExtractorWith(&fakeCompleter{err: errors.New("rate limited")}, "m", nil)
	if got := failing.Extract(context.Background(), "u", "a"); got.Intent != "" || got.ProfileFacts != nil {
		t.Errorf("error path extraction = %+v", got)
	}

	garbled := NewExtractorWith(&fakeCompleter{content: "not json at all"}, "m", nil)
	if got := garbled.Extract(context.Background(), "u", "a"); len(got.Knowledge) != 0 {
		t.Errorf("garbage path extraction = %+v", got)
	}
}

func TestExchangeCompleteMutatesAndPublishes(t *testing.T) {
	events := bus.New(nil)
	var mu sync.Mutex
	var changes []bus.StateChanged
	events.Subscribe(bus.EventStateChanged, func(e bus.Event) {
		mu.Lock()
		changes = append(changes, e.(bus.StateChanged))
		mu.Unlock()
	})

	extractor := NewExtractorWith(&fakeCompleter{
		content: `{"profile_facts":{"name":"Ada","editor":"vim"},"knowledge":["project is in Go"],"intent":"task"}`,
	}, "m", nil)
	svc := NewUpdateService(NewMemoryProvider(), events, extractor, nil)

	ctx := context.Background()
	svc.ExchangeComplete(ctx, "s1", "I'm Ada, I use vim", "noted")

	st := svc.State(ctx, "s1")
	if st.Profile.Name != "Ada" || st.Profile.Preferences["editor"] != "vim" {
		t.Errorf("profile = %+v", st.Profile)
	}
	if len(st.Knowledge.Facts) != 1 || st.Knowledge.Facts[0].Statement != "project is in Go" {
		t.Errorf("knowledge = %+v", st.Knowledge)
	}
	if st.Interaction.ExchangeCount != 1 || st.Interaction.LastIntent != "task" {
		t.Errorf("interaction = %+v", st.Interaction)
	}
	if st.Metadata.UpdateCount != 1 {
		t.Errorf("update count = %d", st.Metadata.UpdateCount)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0].ChangeType != "exchange_complete" || changes[0].SessionID != "s1" {
		t.Errorf("changes = %+v", changes)
	}
}

func TestToolAndReasoningEvents(t *testing.T) {
	svc := NewUpdateService(nil, nil, nil, nil)
	ctx := context.Background()

	svc.ToolExecuted(ctx, "s1", "search", true)
	svc.ToolExecuted(ctx, "s1", "search", false)
	svc.ReasoningComplete(ctx, "s1", "light", 2)

	st := svc.State(ctx, "s1")
	if st.Interaction.ToolUsage["search"] != 2 {
		t.Errorf("tool usage = %v", st.Interaction.ToolUsage)
	}
	if st.Interaction.LastStrategy != "light" {
		t.Errorf("last strategy = %s", st.Interaction.LastStrategy)
	}
}

func TestStatePersistsInBackground(t *testing.T) {
	provider := NewMemoryProvider()
	svc := NewUpdateService(provider, nil, nil, nil)
	ctx := context.Background()

	svc.AddFact(ctx, "s1", "the sky is blue", "test")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ok, _ := provider.Exists(ctx, StateKey("s1")); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	raw, found, err := provider.Load(ctx, StateKey("s1"))
	if err != nil || !found {
		t.Fatalf("persisted state missing: %v %v", found, err)
	}
	var st SessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(st.Knowledge.Facts) != 1 {
		t.Errorf("persisted facts = %v", st.Knowledge.Facts)
	}
}

func TestStateLoadsFromProviderOnFirstTouch(t *testing.T) {
	provider := NewMemoryProvider()
	ctx := context.Background()

	seed := newSessionState("s1")
	seed.Profile.Name = "Grace"
	raw, _ := json.Marshal(seed)
	provider.Save(ctx, StateKey("s1"), raw)

	svc := NewUpdateService(provider, nil, nil, nil)
	if got := svc.State(ctx, "s1"); got.Profile.Name != "Grace" {
		t.Errorf("loaded profile = %+v", got.Profile)
	}
}
