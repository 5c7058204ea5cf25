package reasoning

import (
	"github.com/meridian-ai/meridian/internal/agent"
	"github.com/meridian-ai/meridian/internal/tracker"
	"github.com/meridian-ai/meridian/pkg/models"
)

// Callbacks extends the agent loop's callback surface with scheduler-level
// progress. Every field is optional. Agent carries the loop callbacks; the
// scheduler forwards it to each buffered loop run and fake-streams the
// accepted answer through its OnStreamChunk.
type Callbacks struct {
	Agent *agent.Callbacks

	OnAnalysisStart        func()
	OnAnalysisComplete     func(analysis *ComplexityAnalysis)
	OnStrategySelected     func(strategy models.Strategy, reason string)
	OnPlanningStart        func()
	OnPlanningComplete     func(stepCount int, mode string)
	OnQualityCheckStart    func()
	OnQualityCheckComplete func(evaluation *Evaluation)
	OnResponseForJudgment  func(response string, strategy models.Strategy)
	OnAutoEscalation       func(from, to models.Strategy, reason string, confidence float64)
	OnFinalResponse        func(strategy models.Strategy, attempts int, quality float64, escalated bool)
	OnTrackerComplete      func(tr *tracker.Tracker, query string)
	OnStepProgress         func(stepID string, status tracker.StepStatus, description string)
}

func (c *Callbacks) agentCallbacks() *agent.Callbacks {
	if c == nil {
		return nil
	}
	return c.Agent
}

func (c *Callbacks) analysisStart() {
	if c != nil && c.OnAnalysisStart != nil {
		c.OnAnalysisStart()
	}
}

func (c *Callbacks) analysisComplete(a *ComplexityAnalysis) {
	if c != nil && c.OnAnalysisComplete != nil {
		c.OnAnalysisComplete(a)
	}
}

func (c *Callbacks) strategySelected(s models.Strategy, reason string) {
	if c != nil && c.OnStrategySelected != nil {
		c.OnStrategySelected(s, reason)
	}
}

func (c *Callbacks) planningStart() {
	if c != nil && c.OnPlanningStart != nil {
		c.OnPlanningStart()
	}
}

func (c *Callbacks) planningComplete(stepCount int, mode string) {
	if c != nil && c.OnPlanningComplete != nil {
		c.OnPlanningComplete(stepCount, mode)
	}
}

func (c *Callbacks) qualityCheckStart() {
	if c != nil && c.OnQualityCheckStart != nil {
		c.OnQualityCheckStart()
	}
}

func (c *Callbacks) qualityCheckComplete(e *Evaluation) {
	if c != nil && c.OnQualityCheckComplete != nil {
		c.OnQualityCheckComplete(e)
	}
}

func (c *Callbacks) responseForJudgment(response string, s models.Strategy) {
	if c != nil && c.OnResponseForJudgment != nil {
		c.OnResponseForJudgment(response, s)
	}
}

func (c *Callbacks) autoEscalation(from, to models.Strategy, reason string, confidence float64) {
	if c != nil && c.OnAutoEscalation != nil {
		c.OnAutoEscalation(from, to, reason, confidence)
	}
}

func (c *Callbacks) finalResponse(s models.Strategy, attempts int, quality float64, escalated bool) {
	if c != nil && c.OnFinalResponse != nil {
		c.OnFinalResponse(s, attempts, quality, escalated)
	}
}

func (c *Callbacks) trackerComplete(tr *tracker.Tracker, query string) {
	if c != nil && c.OnTrackerComplete != nil {
		c.OnTrackerComplete(tr, query)
	}
}

func (c *Callbacks) stepProgress(stepID string, status tracker.StepStatus, description string) {
	if c != nil && c.OnStepProgress != nil {
		c.OnStepProgress(stepID, status, description)
	}
}

func (c *Callbacks) streamChunk(text string) {
	if c != nil && c.Agent != nil && c.Agent.OnStreamChunk != nil {
		c.Agent.OnStreamChunk(text)
	}
}

func (c *Callbacks) streamComplete() {
	if c != nil && c.Agent != nil && c.Agent.OnStreamComplete != nil {
		c.Agent.OnStreamComplete()
	}
}

func (c *Callbacks) wantsStreaming() bool {
	return c != nil && c.Agent != nil && c.Agent.OnStreamChunk != nil
}
