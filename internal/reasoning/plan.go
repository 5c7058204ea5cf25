package reasoning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-ai/meridian/internal/llm"
	"github.com/meridian-ai/meridian/internal/tracker"
	"github.com/meridian-ai/meridian/pkg/models"
)

const plannerSystem = `You break a query into a short ordered plan of
subtasks. Respond with a single JSON object, no prose:
{
  "steps": [
    {"description": "<what to do>", "dependencies": ["<description of a prior step>", ...]},
    ...
  ]
}
Use at most %d steps. Each step must be independently executable given its
dependencies. Do not pad the plan; one step is a valid plan.`

// Planner produces plan subtasks for the LIGHT and DEEP strategies.
type Planner struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

func NewPlanner(client llm.Client, model string, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{client: client, model: model, logger: logger}
}

type plannedStep struct {
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"`
}

type plannedSteps struct {
	Steps []plannedStep `json:"steps"`
}

// Plan proposes up to maxSteps subtasks. Failures yield an empty plan; the
// scheduler decides what an empty plan means for the active strategy.
func (p *Planner) Plan(ctx context.Context, query string, level models.Complexity, maxSteps int) ([]tracker.Subtask, models.Usage, error) {
	if maxSteps < 1 {
		maxSteps = 1
	}
	prompt := fmt.Sprintf("Query (complexity %s):\n%s", level, query)
	req := &llm.Request{
		Model:     p.model,
		System:    fmt.Sprintf(plannerSystem, maxSteps),
		Messages:  []models.Message{models.NewTextMessage(models.RoleUser, prompt)},
		MaxTokens: 1024,
	}
	msg, usage, err := p.client.Complete(ctx, req)
	if err != nil {
		p.logger.Warn("planner call failed, continuing without a plan", "error", err)
		return nil, models.Usage{}, nil
	}
	var total models.Usage
	if usage != nil {
		total = *usage
	}

	var decoded plannedSteps
	if err := decodeModelJSON(msg.Text(), &decoded); err != nil {
		p.logger.Warn("planner returned malformed JSON, continuing without a plan", "error", err)
		return nil, total, nil
	}

	var subtasks []tracker.Subtask
	for _, step := range decoded.Steps {
		if step.Description == "" {
			continue
		}
		subtasks = append(subtasks, tracker.Subtask{
			Description:  step.Description,
			Dependencies: step.Dependencies,
		})
		if len(subtasks) == maxSteps {
			break
		}
	}
	return subtasks, total, nil
}
