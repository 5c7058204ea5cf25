package tracker

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/meridian-ai/meridian/pkg/models"
)

func TestResultHashStableUnderKeyReorder(t *testing.T) {
	a := map[string]any{"city": "London", "units": "metric", "nested": map[string]any{"x": 1.0, "y": 2.0}}
	b := map[string]any{"nested": map[string]any{"y": 2.0, "x": 1.0}, "units": "metric", "city": "London"}

	if resultHash("weather", a) != resultHash("weather", b) {
		t.Error("hash differs under key reordering")
	}
	if resultHash("weather", a) == resultHash("other", a) {
		t.Error("hash ignores tool name")
	}
	if resultHash("weather", a) == resultHash("weather", map[string]any{"city": "Paris"}) {
		t.Error("hash ignores argument values")
	}
}

func TestShouldExecuteCacheSemantics(t *testing.T) {
	tr := New("q", models.ComplexitySimple)
	args := map[string]any{"city": "London"}

	// Miss.
	execute, cached := tr.ShouldExecute("weather", args)
	if !execute || cached != "" {
		t.Fatalf("expected miss, got execute=%v cached=%q", execute, cached)
	}

	// Success fills the cache.
	tr.LogExecution("weather", args, true, "sunny", "", 120)
	execute, cached = tr.ShouldExecute("weather", args)
	if execute || cached != "sunny" {
		t.Fatalf("expected hit, got execute=%v cached=%q", execute, cached)
	}

	// Reordered args still hit.
	execute, _ = tr.ShouldExecute("weather", map[string]any{"city": "London"})
	if execute {
		t.Error("reordered-equal args missed the cache")
	}

	// Failures never fill the cache.
	failArgs := map[string]any{"city": "Atlantis"}
	tr.LogExecution("weather", failArgs, false, "", "not found", 80)
	execute, cached = tr.ShouldExecute("weather", failArgs)
	if !execute || cached != "" {
		t.Errorf("prior failure should re-execute, got execute=%v cached=%q", execute, cached)
	}
}

func TestLogExecutionRecordsStrategyAndInsights(t *testing.T) {
	tr := New("q", models.ComplexityMedium)
	tr.SetStrategy(models.StrategyLight)
	tr.LogExecution("search", map[string]any{"q": "x"}, true, "found it", "", 40)
	tr.LogExecution("fetch", map[string]any{"url": "u"}, false, "", "timeout", 30)

	if len(tr.ToolExecutions) != 2 {
		t.Fatalf("expected 2 records, got %d", len(tr.ToolExecutions))
	}
	if tr.ToolExecutions[0].StrategyAtTime != models.StrategyLight {
		t.Errorf("strategy not stamped: %s", tr.ToolExecutions[0].StrategyAtTime)
	}
	if tr.Insights.SuccessfulToolResults["search"] != "found it" {
		t.Error("successful result not recorded in insights")
	}
	if tr.Insights.FailedToolAttempts["fetch"] != "timeout" {
		t.Error("failure not recorded in insights")
	}
}

func TestAttemptLifecycle(t *testing.T) {
	tr := New("q", models.ComplexitySimple)
	tr.StartAttempt(models.StrategyDirect)
	score := 0.8
	tr.CompleteAttempt(AttemptCompleted, "answer", "good coverage", &score, "accepted")

	if len(tr.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(tr.Attempts))
	}
	a := tr.Attempts[0]
	if a.Status != AttemptCompleted || a.Response != "answer" || *a.QualityScore != 0.8 {
		t.Errorf("attempt not closed correctly: %+v", a)
	}
	if a.CompletedAt == nil || a.CompletedAt.Before(a.StartedAt) {
		t.Error("completion timestamp invalid")
	}
}

func TestJSONRoundTripRebuildsCache(t *testing.T) {
	tr := New("original question", models.ComplexityComplex)
	tr.StartAttempt(models.StrategyLight)
	tr.LogExecution("search", map[string]any{"q": "golang"}, true, "results...", "", 55)
	tr.LogExecution("fetch", map[string]any{"url": "x"}, false, "", "refused", 20)
	tr.SubmitPlan(models.StrategyLight, []Subtask{
		{Description: "gather sources"},
		{Description: "summarize findings"},
	})
	tr.AddKnowledgeGap("missing benchmarks")

	data, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := &Tracker{}
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if restored.OriginalQuery != tr.OriginalQuery || restored.Complexity != tr.Complexity {
		t.Error("identity fields lost")
	}
	if len(restored.ToolExecutions) != 2 || len(restored.Attempts) != 1 {
		t.Error("records lost in round trip")
	}
	if restored.Plan == nil || len(restored.Plan.Steps) != 2 {
		t.Fatal("plan lost in round trip")
	}

	// Cache rebuilt from successful executions only.
	execute, cached := restored.ShouldExecute("search", map[string]any{"q": "golang"})
	if execute || cached != "results..." {
		t.Errorf("cache not rebuilt: execute=%v cached=%q", execute, cached)
	}
	execute, _ = restored.ShouldExecute("fetch", map[string]any{"url": "x"})
	if !execute {
		t.Error("failed execution must not populate the rebuilt cache")
	}
}

func TestSerializedEnumsAreLowercase(t *testing.T) {
	tr := New("q", models.ComplexitySimple)
	tr.StartAttempt(models.StrategyDeep)
	data, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"strategy":"deep"`) {
		t.Errorf("strategy not serialized lowercase: %s", data)
	}
	if !strings.Contains(string(data), `"status":"in_progress"`) {
		t.Errorf("status not serialized lowercase: %s", data)
	}
}
