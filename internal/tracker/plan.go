package tracker

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/meridian-ai/meridian/pkg/models"
)

// StepStatus is the lifecycle state of one plan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// PlanStep is one unit of work inside a plan skeleton.
type PlanStep struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Findings    []string   `json:"findings,omitempty"`
	ToolsUsed   []string   `json:"tools_used,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	SpawnedFrom string     `json:"spawned_from,omitempty"`
}

// preserved steps survive plan revisions untouched.
func (s *PlanStep) preserved() bool {
	return s.Status == StepCompleted || s.Status == StepInProgress
}

// mutable steps may be matched, rephrased, or skipped by a revision.
func (s *PlanStep) mutable() bool {
	return s.Status == StepPending || s.Status == StepFailed
}

// PlanSkeleton is the evolving plan for one query. Revisions merge into it;
// completed work is never lost.
type PlanSkeleton struct {
	CreatedAt         time.Time         `json:"created_at"`
	CreatedByStrategy models.Strategy   `json:"created_by_strategy"`
	Query             string            `json:"query"`
	Complexity        models.Complexity `json:"complexity"`
	Steps             []PlanStep        `json:"steps"`
	CurrentStepID     string            `json:"current_step_id,omitempty"`
	RevisionCount     int               `json:"revision_count"`
	LastUpdated       time.Time         `json:"last_updated"`
}

// Subtask is one proposed unit of work in a submitted plan.
type Subtask struct {
	Description  string
	Dependencies []string
}

// Step returns the step with the given id, or nil.
func (p *PlanSkeleton) Step(id string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// CompletedSteps returns completed steps in plan order.
func (p *PlanSkeleton) CompletedSteps() []PlanStep {
	return p.filter(StepCompleted)
}

// PendingSteps returns pending steps in plan order.
func (p *PlanSkeleton) PendingSteps() []PlanStep {
	return p.filter(StepPending)
}

func (p *PlanSkeleton) filter(status StepStatus) []PlanStep {
	var out []PlanStep
	for _, s := range p.Steps {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// similarityThreshold is the minimum Jaccard word overlap for two step
// descriptions to be treated as the same work.
const similarityThreshold = 0.7

// SubmitPlan installs a new plan, merging it into the existing skeleton when
// one exists. Completed and in-progress steps are preserved; pending and
// failed steps may be reused, rephrased, or skipped.
func (t *Tracker) SubmitPlan(strategy models.Strategy, subtasks []Subtask) *PlanSkeleton {
	now := time.Now().UTC()

	if t.Plan == nil {
		plan := &PlanSkeleton{
			CreatedAt:         now,
			CreatedByStrategy: strategy,
			Query:             t.OriginalQuery,
			Complexity:        t.Complexity,
			LastUpdated:       now,
		}
		for i, sub := range subtasks {
			plan.Steps = append(plan.Steps, PlanStep{
				ID:          fmt.Sprintf("step_%d", i),
				Description: sub.Description,
				Status:      StepPending,
			})
		}
		resolveDependencies(plan, subtasks)
		t.Plan = plan
		return plan
	}

	t.mergePlan(strategy, subtasks, now)
	return t.Plan
}

func (t *Tracker) mergePlan(strategy models.Strategy, subtasks []Subtask, now time.Time) {
	plan := t.Plan

	preservedByNorm := make(map[string]*PlanStep)
	var mutableSteps []*PlanStep
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.preserved() {
			preservedByNorm[normalizeDescription(step.Description)] = step
		} else if step.mutable() {
			mutableSteps = append(mutableSteps, step)
		}
	}

	matched := make(map[*PlanStep]bool)
	nextIndex := len(plan.Steps)

	for _, sub := range subtasks {
		norm := normalizeDescription(sub.Description)

		if step, ok := preservedByNorm[norm]; ok {
			matched[step] = true
			continue
		}

		if step := bestSimilarStep(mutableSteps, norm, matched); step != nil {
			step.Description = sub.Description
			matched[step] = true
			continue
		}

		plan.Steps = append(plan.Steps, PlanStep{
			ID:          fmt.Sprintf("step_%d", nextIndex),
			Description: sub.Description,
			Status:      StepPending,
			SpawnedFrom: plan.CurrentStepID,
		})
		nextIndex++
	}

	// Pending steps the new plan no longer mentions are retired, not
	// resurrected later.
	for _, step := range mutableSteps {
		if step.Status == StepPending && !matched[step] {
			step.Status = StepSkipped
		}
	}

	resolveDependencies(plan, subtasks)
	plan.RevisionCount++
	plan.LastUpdated = now
}

// resolveDependencies maps each subtask's textual dependencies onto step ids
// using the same similarity rule as the merge.
func resolveDependencies(plan *PlanSkeleton, subtasks []Subtask) {
	for _, sub := range subtasks {
		if len(sub.Dependencies) == 0 {
			continue
		}
		target := findStepByDescription(plan, sub.Description)
		if target == nil {
			continue
		}
		for _, dep := range sub.Dependencies {
			if depStep := findStepByDescription(plan, dep); depStep != nil && depStep.ID != target.ID {
				if !contains(target.DependsOn, depStep.ID) {
					target.DependsOn = append(target.DependsOn, depStep.ID)
				}
			}
		}
	}
}

func findStepByDescription(plan *PlanSkeleton, description string) *PlanStep {
	norm := normalizeDescription(description)
	for i := range plan.Steps {
		if normalizeDescription(plan.Steps[i].Description) == norm {
			return &plan.Steps[i]
		}
	}
	var best *PlanStep
	bestScore := 0.0
	for i := range plan.Steps {
		score := jaccard(norm, normalizeDescription(plan.Steps[i].Description))
		if score >= similarityThreshold && score > bestScore {
			best = &plan.Steps[i]
			bestScore = score
		}
	}
	return best
}

func bestSimilarStep(steps []*PlanStep, norm string, matched map[*PlanStep]bool) *PlanStep {
	var best *PlanStep
	bestScore := 0.0
	for _, step := range steps {
		if matched[step] {
			continue
		}
		score := jaccard(norm, normalizeDescription(step.Description))
		if score >= similarityThreshold && score > bestScore {
			best = step
			bestScore = score
		}
	}
	return best
}

// StartStep marks a step in-progress and makes it current.
func (t *Tracker) StartStep(id string) {
	if t.Plan == nil {
		return
	}
	step := t.Plan.Step(id)
	if step == nil {
		return
	}
	now := time.Now().UTC()
	step.Status = StepInProgress
	step.StartedAt = &now
	t.Plan.CurrentStepID = id
	t.Plan.LastUpdated = now
}

// CompleteStep marks a step completed, recording findings and tools used.
func (t *Tracker) CompleteStep(id string, findings []string, toolsUsed []string) {
	t.finishStep(id, StepCompleted, findings, toolsUsed)
}

// FailStep marks a step failed, recording findings so far.
func (t *Tracker) FailStep(id string, findings []string) {
	t.finishStep(id, StepFailed, findings, nil)
}

func (t *Tracker) finishStep(id string, status StepStatus, findings, toolsUsed []string) {
	if t.Plan == nil {
		return
	}
	step := t.Plan.Step(id)
	if step == nil {
		return
	}
	now := time.Now().UTC()
	step.Status = status
	step.CompletedAt = &now
	step.Findings = append(step.Findings, findings...)
	step.ToolsUsed = append(step.ToolsUsed, toolsUsed...)
	if t.Plan.CurrentStepID == id {
		t.Plan.CurrentStepID = ""
	}
	t.Plan.LastUpdated = now
}

var (
	ordinalPrefix = regexp.MustCompile(`^(?:step\s*\d+\s*[:.)-]?\s*|\d+\s*[:.)-]\s*|[-*•]\s*)`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

// normalizeDescription lowercases, strips ordinal/label prefixes, and
// collapses whitespace so rephrased steps compare equal.
func normalizeDescription(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = ordinalPrefix.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// jaccard computes word-set overlap between two normalized descriptions.
func jaccard(a, b string) float64 {
	if a == b {
		return 1.0
	}
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(wordsA))
	for _, w := range wordsA {
		setA[w] = true
	}
	setB := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		setB[w] = true
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
