// Package tracker preserves cross-attempt reasoning context: executed tools,
// their cached results, the evolving plan, and accumulated insights. A second
// or third attempt at a higher strategy builds on this record instead of
// repeating prior work.
package tracker

import (
	"encoding/json"
	"time"

	"github.com/meridian-ai/meridian/pkg/models"
)

// AttemptStatus is the lifecycle state of one execution attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptEscalated  AttemptStatus = "escalated"
	AttemptFailed     AttemptStatus = "failed"
)

// ExecutionAttempt records one pass through the agent loop at one strategy.
type ExecutionAttempt struct {
	Strategy           models.Strategy `json:"strategy"`
	StartedAt          time.Time       `json:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	Status             AttemptStatus   `json:"status"`
	Response           string          `json:"response,omitempty"`
	Evaluation         string          `json:"evaluation,omitempty"`
	QualityScore       *float64        `json:"quality_score,omitempty"`
	OutcomeDescription string          `json:"outcome_description,omitempty"`
}

// ToolExecutionRecord is the audit entry for one tool invocation.
type ToolExecutionRecord struct {
	ToolName        string          `json:"tool_name"`
	Arguments       map[string]any  `json:"arguments"`
	ExecutedAt      time.Time       `json:"executed_at"`
	StrategyAtTime  models.Strategy `json:"strategy_at_time"`
	Success         bool            `json:"success"`
	Result          string          `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	ResultHash      string          `json:"result_hash"`
}

// AccumulatedInsights collects what the attempts have learned so far.
type AccumulatedInsights struct {
	ConfirmedFacts          []string          `json:"confirmed_facts,omitempty"`
	PartialFindings         []string          `json:"partial_findings,omitempty"`
	KnowledgeGaps           []string          `json:"knowledge_gaps,omitempty"`
	QualityFeedback         []string          `json:"quality_feedback,omitempty"`
	RecommendedImprovements []string          `json:"recommended_improvements,omitempty"`
	SuccessfulToolResults   map[string]string `json:"successful_tool_results,omitempty"`
	FailedToolAttempts      map[string]string `json:"failed_tool_attempts,omitempty"`
}

// Tracker is the memory of reasoning for one query. It is single-writer,
// owned by the scheduler/agent-loop task for the duration of a run.
type Tracker struct {
	OriginalQuery  string                `json:"original_query"`
	Complexity     models.Complexity     `json:"complexity"`
	Attempts       []ExecutionAttempt    `json:"attempts"`
	ToolExecutions []ToolExecutionRecord `json:"tool_executions"`
	Plan           *PlanSkeleton         `json:"plan,omitempty"`
	Insights       AccumulatedInsights   `json:"insights"`

	// currentStrategy stamps tool execution records. Not serialized; the
	// scheduler sets it at the start of each attempt.
	currentStrategy models.Strategy

	// resultCache maps result_hash to the successful result string. Rebuilt
	// from ToolExecutions on deserialization.
	resultCache map[string]string
}

// New creates a tracker for a query.
func New(query string, complexity models.Complexity) *Tracker {
	return &Tracker{
		OriginalQuery: query,
		Complexity:    complexity,
		resultCache:   make(map[string]string),
	}
}

// SetStrategy records the strategy in force for subsequent tool executions.
func (t *Tracker) SetStrategy(s models.Strategy) { t.currentStrategy = s }

// CurrentStrategy returns the strategy in force.
func (t *Tracker) CurrentStrategy() models.Strategy { return t.currentStrategy }

// ShouldExecute consults the result cache for a pending tool call. A hit on
// a previously successful execution returns (false, cached result). Misses
// and prior failures return (true, ""); a failed call may succeed in a new
// context, so it is worth re-running.
func (t *Tracker) ShouldExecute(name string, args map[string]any) (bool, string) {
	if t.resultCache == nil {
		t.resultCache = make(map[string]string)
	}
	if cached, ok := t.resultCache[resultHash(name, args)]; ok {
		return false, cached
	}
	return true, ""
}

// LogExecution appends an audit record and, on success, fills the cache.
func (t *Tracker) LogExecution(name string, args map[string]any, success bool, result, errMsg string, timeMS int64) {
	hash := resultHash(name, args)
	t.ToolExecutions = append(t.ToolExecutions, ToolExecutionRecord{
		ToolName:        name,
		Arguments:       args,
		ExecutedAt:      time.Now().UTC(),
		StrategyAtTime:  t.currentStrategy,
		Success:         success,
		Result:          result,
		Error:           errMsg,
		ExecutionTimeMS: timeMS,
		ResultHash:      hash,
	})
	if success {
		if t.resultCache == nil {
			t.resultCache = make(map[string]string)
		}
		t.resultCache[hash] = result
		t.recordToolInsight(name, result, true)
	} else {
		t.recordToolInsight(name, errMsg, false)
	}
}

// CachedResultCount returns the number of distinct cached tool results.
func (t *Tracker) CachedResultCount() int { return len(t.resultCache) }

// StartAttempt opens a new execution attempt at the given strategy and makes
// it the strategy in force.
func (t *Tracker) StartAttempt(strategy models.Strategy) *ExecutionAttempt {
	t.currentStrategy = strategy
	t.Attempts = append(t.Attempts, ExecutionAttempt{
		Strategy:  strategy,
		StartedAt: time.Now().UTC(),
		Status:    AttemptInProgress,
	})
	return &t.Attempts[len(t.Attempts)-1]
}

// CompleteAttempt closes the most recent attempt.
func (t *Tracker) CompleteAttempt(status AttemptStatus, response, evaluation string, qualityScore *float64, outcome string) {
	if len(t.Attempts) == 0 {
		return
	}
	attempt := &t.Attempts[len(t.Attempts)-1]
	now := time.Now().UTC()
	attempt.CompletedAt = &now
	attempt.Status = status
	attempt.Response = response
	attempt.Evaluation = evaluation
	attempt.QualityScore = qualityScore
	attempt.OutcomeDescription = outcome
}

// AddKnowledgeGap records an identified gap.
func (t *Tracker) AddKnowledgeGap(gap string) {
	if gap != "" && !contains(t.Insights.KnowledgeGaps, gap) {
		t.Insights.KnowledgeGaps = append(t.Insights.KnowledgeGaps, gap)
	}
}

// AddQualityFeedback records evaluator feedback for the next attempt.
func (t *Tracker) AddQualityFeedback(feedback string) {
	if feedback != "" {
		t.Insights.QualityFeedback = append(t.Insights.QualityFeedback, feedback)
	}
}

// AddRecommendedImprovement records an evaluator suggestion.
func (t *Tracker) AddRecommendedImprovement(improvement string) {
	if improvement != "" {
		t.Insights.RecommendedImprovements = append(t.Insights.RecommendedImprovements, improvement)
	}
}

// AddConfirmedFact records an established fact.
func (t *Tracker) AddConfirmedFact(fact string) {
	if fact != "" && !contains(t.Insights.ConfirmedFacts, fact) {
		t.Insights.ConfirmedFacts = append(t.Insights.ConfirmedFacts, fact)
	}
}

// AddPartialFinding records an incomplete finding worth carrying forward.
func (t *Tracker) AddPartialFinding(finding string) {
	if finding != "" {
		t.Insights.PartialFindings = append(t.Insights.PartialFindings, finding)
	}
}

func (t *Tracker) recordToolInsight(name, payload string, success bool) {
	const insightLimit = 500
	if len(payload) > insightLimit {
		payload = payload[:insightLimit]
	}
	if success {
		if t.Insights.SuccessfulToolResults == nil {
			t.Insights.SuccessfulToolResults = make(map[string]string)
		}
		t.Insights.SuccessfulToolResults[name] = payload
	} else {
		if t.Insights.FailedToolAttempts == nil {
			t.Insights.FailedToolAttempts = make(map[string]string)
		}
		t.Insights.FailedToolAttempts[name] = payload
	}
}

// UnmarshalJSON restores a tracker and rebuilds the result cache from the
// successful execution records.
func (t *Tracker) UnmarshalJSON(data []byte) error {
	type plain Tracker
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Tracker(p)
	t.resultCache = make(map[string]string)
	for _, rec := range t.ToolExecutions {
		if rec.Success {
			t.resultCache[rec.ResultHash] = rec.Result
		}
	}
	return nil
}
