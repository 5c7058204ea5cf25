package reasoning

import (
	"context"
	"errors"
	"testing"

	"github.com/meridian-ai/meridian/internal/llm"
	"github.com/meridian-ai/meridian/internal/tracker"
	"github.com/meridian-ai/meridian/pkg/models"
)

// scriptClient returns canned responses in order, regardless of request.
type scriptClient struct {
	responses []string
	err       error
	calls     int
}

func (s *scriptClient) Complete(context.Context, *llm.Request) (*models.Message, *models.Usage, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	if s.calls >= len(s.responses) {
		return nil, nil, errors.New("no scripted response left")
	}
	msg := models.NewTextMessage(models.RoleAssistant, s.responses[s.calls])
	s.calls++
	return &msg, &models.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func (s *scriptClient) Stream(context.Context, *llm.Request) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("streaming not scripted")
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading prose", `Here is the plan: {"a":1}`, `{"a":1}`},
		{"leading prose array", `Sure! ["x"]`, `["x"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAnalyzerParsesClassification(t *testing.T) {
	client := &scriptClient{responses: []string{
		`{"level":"complex","recommended_strategy":"deep","estimated_iterations":3,"confidence":0.9,"rationale":"multi-part"}`,
	}}
	analyzer := NewAnalyzer(client, "", nil)

	analysis, usage, err := analyzer.Analyze(context.Background(), "design a system")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis.Level != models.ComplexityComplex || analysis.RecommendedStrategy != models.StrategyDeep {
		t.Errorf("analysis = %+v", analysis)
	}
	if usage.InputTokens != 10 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestAnalyzerMalformedFallsBack(t *testing.T) {
	client := &scriptClient{responses: []string{"I cannot classify this."}}
	analyzer := NewAnalyzer(client, "", nil)

	analysis, _, err := analyzer.Analyze(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis.Level != models.ComplexityMedium || analysis.RecommendedStrategy != models.StrategyDirect {
		t.Errorf("fallback analysis = %+v", analysis)
	}
}

func TestAnalyzerTransportErrorPropagates(t *testing.T) {
	analyzer := NewAnalyzer(&scriptClient{err: errors.New("upstream 500")}, "", nil)
	if _, _, err := analyzer.Analyze(context.Background(), "hi"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEvaluatorParsesVerdict(t *testing.T) {
	client := &scriptClient{responses: []string{
		`{"is_complete":false,"confidence":0.4,"reasoning":"missing sources","additional_queries":["find sources"]}`,
	}}
	evaluator := NewEvaluator(client, "", nil)

	eval, _, err := evaluator.Evaluate(context.Background(), "q", "a", models.StrategyDirect, models.ComplexitySimple)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.IsComplete || eval.Confidence != 0.4 || len(eval.AdditionalQueries) != 1 {
		t.Errorf("evaluation = %+v", eval)
	}
}

func TestEvaluatorFailureAcceptsAnswer(t *testing.T) {
	for name, client := range map[string]*scriptClient{
		"transport error": {err: errors.New("timeout")},
		"malformed":       {responses: []string{"looks fine to me"}},
	} {
		t.Run(name, func(t *testing.T) {
			evaluator := NewEvaluator(client, "", nil)
			eval, _, err := evaluator.Evaluate(context.Background(), "q", "a", models.StrategyDirect, models.ComplexitySimple)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if !eval.IsComplete || eval.Confidence != 1.0 {
				t.Errorf("degraded evaluation = %+v", eval)
			}
		})
	}
}

func TestPlannerParsesAndCapsSteps(t *testing.T) {
	client := &scriptClient{responses: []string{
		`{"steps":[
			{"description":"gather requirements"},
			{"description":"draft design","dependencies":["gather requirements"]},
			{"description":"review draft"},
			{"description":"ship it"}
		]}`,
	}}
	planner := NewPlanner(client, "", nil)

	subtasks, _, err := planner.Plan(context.Background(), "q", models.ComplexityMedium, 3)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(subtasks) != 3 {
		t.Fatalf("subtasks = %d, want 3", len(subtasks))
	}
	if subtasks[1].Dependencies[0] != "gather requirements" {
		t.Errorf("dependencies = %v", subtasks[1].Dependencies)
	}
}

func TestPlannerFailureYieldsEmptyPlan(t *testing.T) {
	planner := NewPlanner(&scriptClient{responses: []string{"no plan needed"}}, "", nil)
	subtasks, _, err := planner.Plan(context.Background(), "q", models.ComplexitySimple, 2)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(subtasks) != 0 {
		t.Errorf("subtasks = %v, want empty", subtasks)
	}
}

func TestSynthesizerSingleStepPassthrough(t *testing.T) {
	client := &scriptClient{}
	synth := NewSynthesizer(client, "", nil)
	steps := []tracker.PlanStep{
		{Description: "only step", Status: tracker.StepCompleted, Findings: []string{"the answer"}},
	}

	got, _, err := synth.Combine(context.Background(), "q", steps, true)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if got != "the answer" {
		t.Errorf("combined = %q", got)
	}
	if client.calls != 0 {
		t.Errorf("LLM calls = %d, want 0", client.calls)
	}
}

func TestSynthesizerFiltersFailedSteps(t *testing.T) {
	client := &scriptClient{responses: []string{"merged answer"}}
	synth := NewSynthesizer(client, "", nil)
	steps := []tracker.PlanStep{
		{Description: "a", Status: tracker.StepCompleted, Findings: []string{"fact one"}},
		{Description: "b", Status: tracker.StepFailed, Findings: []string{"noise"}},
		{Description: "c", Status: tracker.StepCompleted, Findings: []string{"fact two"}},
	}

	got, _, err := synth.Combine(context.Background(), "q", steps, true)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if got != "merged answer" {
		t.Errorf("combined = %q", got)
	}
	if client.calls != 1 {
		t.Errorf("LLM calls = %d, want 1", client.calls)
	}
}

func TestSynthesizerNothingToCombine(t *testing.T) {
	synth := NewSynthesizer(&scriptClient{}, "", nil)
	if _, _, err := synth.Combine(context.Background(), "q", nil, true); err == nil {
		t.Fatal("expected error")
	}
}
