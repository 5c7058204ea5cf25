package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meridian-ai/meridian/internal/llm"
	"github.com/meridian-ai/meridian/internal/tracker"
	"github.com/meridian-ai/meridian/pkg/models"
)

const synthesizerSystem = `You combine the findings of several completed
subtasks into one final answer to the original query. Answer the query
directly; do not describe the subtasks or the process.`

// Synthesizer folds per-step findings into a single final answer.
type Synthesizer struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

func NewSynthesizer(client llm.Client, model string, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{client: client, model: model, logger: logger}
}

// Combine merges step findings into a final answer. With filterResults set,
// steps that failed or produced nothing are dropped first. A synthesis
// failure degrades to plain concatenation of the findings.
func (s *Synthesizer) Combine(ctx context.Context, query string, steps []tracker.PlanStep, filterResults bool) (string, models.Usage, error) {
	kept := steps
	if filterResults {
		kept = nil
		for _, step := range steps {
			if step.Status == tracker.StepCompleted && len(step.Findings) > 0 {
				kept = append(kept, step)
			}
		}
	}
	if len(kept) == 0 {
		return "", models.Usage{}, fmt.Errorf("synthesize: no step results to combine")
	}
	if len(kept) == 1 {
		return strings.Join(kept[0].Findings, "\n\n"), models.Usage{}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Original query:\n%s\n\nSubtask findings:\n", query)
	for i, step := range kept {
		fmt.Fprintf(&b, "\n%d. %s\n%s\n", i+1, step.Description, strings.Join(step.Findings, "\n"))
	}

	req := &llm.Request{
		Model:     s.model,
		System:    synthesizerSystem,
		Messages:  []models.Message{models.NewTextMessage(models.RoleUser, b.String())},
		MaxTokens: 4096,
	}
	msg, usage, err := s.client.Complete(ctx, req)
	if err != nil {
		s.logger.Warn("synthesizer call failed, concatenating findings", "error", err)
		return concatFindings(kept), models.Usage{}, nil
	}
	var total models.Usage
	if usage != nil {
		total = *usage
	}
	text := strings.TrimSpace(msg.Text())
	if text == "" {
		return concatFindings(kept), total, nil
	}
	return text, total, nil
}

func concatFindings(steps []tracker.PlanStep) string {
	var parts []string
	for _, step := range steps {
		if len(step.Findings) > 0 {
			parts = append(parts, strings.Join(step.Findings, "\n"))
		}
	}
	return strings.Join(parts, "\n\n")
}
