package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meridian-ai/meridian/internal/agent"
	"github.com/meridian-ai/meridian/internal/conversation"
	"github.com/meridian-ai/meridian/internal/cost"
	"github.com/meridian-ai/meridian/internal/llm"
	"github.com/meridian-ai/meridian/internal/observability"
	"github.com/meridian-ai/meridian/internal/tracker"
	"github.com/meridian-ai/meridian/pkg/models"
)

// Config parameterizes the scheduler.
type Config struct {
	// Model is used for the scheduler's own LLM calls (analysis, planning,
	// judgment, synthesis). Empty selects the client default.
	Model string

	// MaxIterations bounds DEEP plan execution.
	MaxIterations int

	// Per-strategy quality floors. An evaluation below the floor for the
	// strategy that produced it is treated as incomplete.
	MinQualityDirect float64
	MinQualityLight  float64
	MinQualityDeep   float64

	// MinConfidence is the floor on the analyzer's own confidence. A
	// classification below it escalates the starting strategy one level.
	MinConfidence float64

	// ForceStrategy overrides the analyzer's recommendation for the first
	// attempt only. The quality gate and escalation remain in effect.
	ForceStrategy models.Strategy
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:    3,
		MinQualityDirect: 0.60,
		MinQualityLight:  0.65,
		MinQualityDeep:   0.60,
		MinConfidence:    0.60,
	}
}

// Result is the outcome of one scheduled run.
type Result struct {
	Response  string
	Strategy  models.Strategy
	Tracker   *tracker.Tracker
	Attempts  int
	Quality   float64
	Escalated bool

	// ReasoningUsage covers the scheduler's own LLM calls. The main
	// conversation turns report through the agent loop's usage callback.
	ReasoningUsage models.Usage
	ReasoningCost  float64
}

// fakeChunkSize is the slice width used when replaying an accepted answer
// to a streaming caller.
const fakeChunkSize = 20

// Scheduler runs queries at an adaptive depth. Every attempt executes
// buffered; nothing reaches the streaming callbacks until an answer has
// cleared the quality gate.
type Scheduler struct {
	loop        *agent.Loop
	analyzer    *Analyzer
	evaluator   *Evaluator
	planner     *Planner
	synthesizer *Synthesizer
	logger      *slog.Logger
	metrics     *observability.Metrics
	cfg         Config

	// chunkDelay paces the fake stream of the accepted answer.
	chunkDelay time.Duration
}

// New creates a scheduler on top of an agent loop. Metrics may be nil.
func New(client llm.Client, loop *agent.Loop, metrics *observability.Metrics, logger *slog.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reasoning")
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	return &Scheduler{
		loop:        loop,
		analyzer:    NewAnalyzer(client, cfg.Model, logger),
		evaluator:   NewEvaluator(client, cfg.Model, logger),
		planner:     NewPlanner(client, cfg.Model, logger),
		synthesizer: NewSynthesizer(client, cfg.Model, logger),
		logger:      logger,
		metrics:     metrics,
		cfg:         cfg,
		chunkDelay:  10 * time.Millisecond,
	}
}

// Run executes one query, escalating direct → light → deep until an answer
// clears the quality gate. A single tracker spans all attempts.
func (s *Scheduler) Run(ctx context.Context, conv *conversation.Conversation, query string, cb *Callbacks, useStreaming bool) (*Result, error) {
	var reasoningUsage models.Usage

	cb.analysisStart()
	analysis, usage, err := s.analyzer.Analyze(ctx, query)
	if err != nil {
		return nil, err
	}
	reasoningUsage.Add(usage)
	cb.analysisComplete(analysis)

	strategy, reason := s.initialStrategy(analysis)
	tr := tracker.New(query, analysis.Level)
	escalated := false

	for {
		tr.StartAttempt(strategy)
		cb.strategySelected(strategy, reason)

		response, err := s.execute(ctx, strategy, conv, query, analysis, tr, cb, &reasoningUsage)
		if err != nil {
			tr.CompleteAttempt(tracker.AttemptFailed, "", "", nil, err.Error())
			s.countAttempt(strategy, "failed")
			return nil, err
		}

		cb.responseForJudgment(response, strategy)
		cb.qualityCheckStart()
		eval, evalUsage, _ := s.evaluator.Evaluate(ctx, query, response, strategy, analysis.Level)
		reasoningUsage.Add(evalUsage)
		if eval.Confidence < s.threshold(strategy) {
			eval.IsComplete = false
		}
		cb.qualityCheckComplete(eval)

		tr.AddQualityFeedback(eval.Reasoning)
		for _, improvement := range eval.Improvements {
			tr.AddRecommendedImprovement(improvement)
		}

		if eval.IsComplete || strategy == models.StrategyDeep {
			tr.CompleteAttempt(tracker.AttemptCompleted, response, eval.Reasoning, &eval.Confidence, "accepted")
			s.countAttempt(strategy, "completed")

			if useStreaming && cb.wantsStreaming() {
				s.fakeStream(response, cb)
				cb.streamComplete()
			}
			cb.finalResponse(strategy, len(tr.Attempts), eval.Confidence, escalated)
			cb.trackerComplete(tr, query)

			return &Result{
				Response:       response,
				Strategy:       strategy,
				Tracker:        tr,
				Attempts:       len(tr.Attempts),
				Quality:        eval.Confidence,
				Escalated:      escalated,
				ReasoningUsage: reasoningUsage,
				ReasoningCost:  cost.Calculate(s.costModel(), reasoningUsage),
			}, nil
		}

		next := strategy.Next()
		tr.CompleteAttempt(tracker.AttemptEscalated, response, eval.Reasoning, &eval.Confidence,
			"escalated to "+string(next))
		s.countAttempt(strategy, "escalated")
		s.logger.Info("escalating strategy",
			"from", strategy, "to", next, "confidence", eval.Confidence)
		cb.autoEscalation(strategy, next, eval.Reasoning, eval.Confidence)

		escalated = true
		strategy = next
		reason = "previous attempt below quality floor"
	}
}

// initialStrategy resolves the starting strategy from the forced override,
// the analyzer's recommendation, and the analyzer confidence floor.
func (s *Scheduler) initialStrategy(analysis *ComplexityAnalysis) (models.Strategy, string) {
	if s.cfg.ForceStrategy.Valid() {
		return s.cfg.ForceStrategy, "forced by configuration"
	}
	strategy := analysis.RecommendedStrategy
	if analysis.Confidence < s.cfg.MinConfidence && strategy != models.StrategyDeep {
		next := strategy.Next()
		s.logger.Info("low classification confidence, starting one level deeper",
			"recommended", strategy, "selected", next, "confidence", analysis.Confidence)
		return next, "low classification confidence"
	}
	return strategy, analysis.Rationale
}

func (s *Scheduler) threshold(strategy models.Strategy) float64 {
	switch strategy {
	case models.StrategyLight:
		return s.cfg.MinQualityLight
	case models.StrategyDeep:
		return s.cfg.MinQualityDeep
	default:
		return s.cfg.MinQualityDirect
	}
}

func (s *Scheduler) execute(ctx context.Context, strategy models.Strategy, conv *conversation.Conversation, query string, analysis *ComplexityAnalysis, tr *tracker.Tracker, cb *Callbacks, usage *models.Usage) (string, error) {
	switch strategy {
	case models.StrategyLight:
		return s.executeLight(ctx, conv, query, analysis, tr, cb, usage)
	case models.StrategyDeep:
		return s.executeDeep(ctx, conv, query, analysis, tr, cb, usage)
	default:
		return s.executeDirect(ctx, conv, query, tr, cb)
	}
}

// executeDirect is a single pass through the agent loop. On escalation
// re-entries the tracker's compact context is folded into the query so the
// model sees what earlier attempts established.
func (s *Scheduler) executeDirect(ctx context.Context, conv *conversation.Conversation, query string, tr *tracker.Tracker, cb *Callbacks) (string, error) {
	q := query
	if len(tr.Attempts) > 1 {
		prefix := tr.ContextText(models.StrategyDirect, &tracker.ContextOptions{Verbosity: tracker.VerbosityCompact})
		q = prefix + "\n\nOriginal question: " + query
	}
	response, _, err := s.loop.Run(ctx, conv, q, tr, cb.agentCallbacks(), false)
	return response, err
}

// executeLight runs a short 1-2 step plan without evaluator-driven
// iteration. An empty plan degrades to a direct pass for this attempt.
func (s *Scheduler) executeLight(ctx context.Context, conv *conversation.Conversation, query string, analysis *ComplexityAnalysis, tr *tracker.Tracker, cb *Callbacks, usage *models.Usage) (string, error) {
	cb.planningStart()
	subtasks, planUsage, _ := s.planner.Plan(ctx, query, analysis.Level, 2)
	usage.Add(planUsage)
	if len(subtasks) == 0 {
		s.logger.Info("planner produced no steps, running a direct pass")
		cb.planningComplete(0, "fallback_direct")
		tr.AddPartialFinding("light planning produced no steps; fell back to direct execution")
		return s.executeDirect(ctx, conv, query, tr, cb)
	}

	plan := tr.SubmitPlan(models.StrategyLight, subtasks)
	cb.planningComplete(len(plan.Steps), "light")

	var outputs []string
	for _, step := range plan.PendingSteps() {
		out, err := s.runStep(ctx, conv, tr, cb, step, tracker.VerbosityMedium, models.StrategyLight)
		if err != nil {
			return "", err
		}
		outputs = append(outputs, out)
	}

	if len(outputs) == 1 {
		return outputs[0], nil
	}
	return s.synthesize(ctx, query, tr, false, usage)
}

// executeDeep runs the full plan with per-iteration judgment. Evaluator
// follow-up queries spawn new steps; execution stops when the evaluator is
// satisfied or the iteration budget runs out.
func (s *Scheduler) executeDeep(ctx context.Context, conv *conversation.Conversation, query string, analysis *ComplexityAnalysis, tr *tracker.Tracker, cb *Callbacks, usage *models.Usage) (string, error) {
	cb.planningStart()
	subtasks, planUsage, _ := s.planner.Plan(ctx, query, analysis.Level, s.cfg.MaxIterations)
	usage.Add(planUsage)
	if len(subtasks) == 0 {
		subtasks = []tracker.Subtask{{Description: query}}
	}

	plan := tr.SubmitPlan(models.StrategyDeep, subtasks)
	cb.planningComplete(len(plan.Steps), "deep")

	for iteration := 0; iteration < s.cfg.MaxIterations; iteration++ {
		pending := plan.PendingSteps()
		if len(pending) == 0 {
			break
		}
		step := pending[0]

		tr.StartStep(step.ID)
		cb.stepProgress(step.ID, tracker.StepInProgress, step.Description)
		out, _, err := s.loop.Run(ctx, conv, s.stepQuery(tr, models.StrategyDeep, tracker.VerbosityFull, step.Description), tr, cb.agentCallbacks(), false)
		if err != nil {
			tr.FailStep(step.ID, nil)
			cb.stepProgress(step.ID, tracker.StepFailed, step.Description)
			return "", err
		}

		cb.qualityCheckStart()
		eval, evalUsage, _ := s.evaluator.Evaluate(ctx, query, s.interimResponse(plan, out), models.StrategyDeep, analysis.Level)
		usage.Add(evalUsage)
		cb.qualityCheckComplete(eval)

		// Spawn follow-ups while the step is still current so the new
		// steps record where they came from.
		if added := s.spawnSteps(tr, plan, eval.AdditionalQueries); added > 0 {
			cb.planningComplete(len(plan.Steps), "deep_revision")
		}

		tr.CompleteStep(step.ID, []string{out}, nil)
		cb.stepProgress(step.ID, tracker.StepCompleted, step.Description)

		if eval.IsComplete {
			break
		}
	}

	return s.synthesize(ctx, query, tr, true, usage)
}

func (s *Scheduler) runStep(ctx context.Context, conv *conversation.Conversation, tr *tracker.Tracker, cb *Callbacks, step tracker.PlanStep, verbosity tracker.Verbosity, strategy models.Strategy) (string, error) {
	tr.StartStep(step.ID)
	cb.stepProgress(step.ID, tracker.StepInProgress, step.Description)
	out, _, err := s.loop.Run(ctx, conv, s.stepQuery(tr, strategy, verbosity, step.Description), tr, cb.agentCallbacks(), false)
	if err != nil {
		tr.FailStep(step.ID, nil)
		cb.stepProgress(step.ID, tracker.StepFailed, step.Description)
		return "", err
	}
	tr.CompleteStep(step.ID, []string{out}, nil)
	cb.stepProgress(step.ID, tracker.StepCompleted, step.Description)
	return out, nil
}

func (s *Scheduler) stepQuery(tr *tracker.Tracker, strategy models.Strategy, verbosity tracker.Verbosity, description string) string {
	prefix := tr.ContextText(strategy, &tracker.ContextOptions{Verbosity: verbosity})
	return prefix + "\n\nCurrent step: " + description
}

// interimResponse is what the evaluator sees mid-plan: every completed
// finding so far plus the output of the step just executed.
func (s *Scheduler) interimResponse(plan *tracker.PlanSkeleton, current string) string {
	var parts []string
	for _, step := range plan.CompletedSteps() {
		parts = append(parts, strings.Join(step.Findings, "\n"))
	}
	parts = append(parts, current)
	return strings.Join(parts, "\n\n")
}

// spawnSteps merges evaluator follow-up queries into the plan, skipping any
// that duplicate existing steps. Returns the number of steps added.
func (s *Scheduler) spawnSteps(tr *tracker.Tracker, plan *tracker.PlanSkeleton, queries []string) int {
	if len(queries) == 0 {
		return 0
	}

	existing := make(map[string]bool)
	var subtasks []tracker.Subtask
	for _, step := range plan.Steps {
		if step.Status == tracker.StepSkipped {
			continue
		}
		existing[descKey(step.Description)] = true
		subtasks = append(subtasks, tracker.Subtask{Description: step.Description})
	}

	added := 0
	for _, q := range queries {
		if q == "" || existing[descKey(q)] {
			continue
		}
		subtasks = append(subtasks, tracker.Subtask{Description: q})
		existing[descKey(q)] = true
		tr.AddKnowledgeGap(q)
		added++
	}
	if added == 0 {
		return 0
	}

	tr.SubmitPlan(models.StrategyDeep, subtasks)
	return added
}

func descKey(description string) string {
	return strings.ToLower(strings.TrimSpace(description))
}

func (s *Scheduler) synthesize(ctx context.Context, query string, tr *tracker.Tracker, filterResults bool, usage *models.Usage) (string, error) {
	if tr.Plan == nil {
		return "", fmt.Errorf("synthesize: no plan to combine")
	}
	response, synthUsage, err := s.synthesizer.Combine(ctx, query, tr.Plan.CompletedSteps(), filterResults)
	usage.Add(synthUsage)
	return response, err
}

// fakeStream replays an accepted answer through the streaming callback in
// fixed-width chunks so buffered execution keeps the streaming contract.
func (s *Scheduler) fakeStream(response string, cb *Callbacks) {
	runes := []rune(response)
	for i := 0; i < len(runes); i += fakeChunkSize {
		end := i + fakeChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		cb.streamChunk(string(runes[i:end]))
		if s.chunkDelay > 0 {
			time.Sleep(s.chunkDelay)
		}
	}
}

func (s *Scheduler) countAttempt(strategy models.Strategy, status string) {
	if s.metrics != nil {
		s.metrics.ReasoningAttempts.WithLabelValues(string(strategy), status).Inc()
	}
}

func (s *Scheduler) costModel() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return llm.DefaultModel
}
