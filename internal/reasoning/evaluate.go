package reasoning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-ai/meridian/internal/llm"
	"github.com/meridian-ai/meridian/pkg/models"
)

// Evaluation is the judge's verdict on one candidate answer.
type Evaluation struct {
	IsComplete        bool     `json:"is_complete"`
	Confidence        float64  `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
	AdditionalQueries []string `json:"additional_queries,omitempty"`
	Improvements      []string `json:"improvements,omitempty"`
}

const evaluatorSystem = `You judge whether a candidate answer fully resolves
the user's query. Respond with a single JSON object, no prose:
{
  "is_complete": <bool>,
  "confidence": <float, 0-1>,
  "reasoning": "<one or two sentences>",
  "additional_queries": ["<follow-up question needed to finish>", ...],
  "improvements": ["<concrete way the answer falls short>", ...]
}
Mark is_complete false when the answer is partial, evasive, or unsupported.`

// Evaluator scores candidate answers for the quality gate.
type Evaluator struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

func NewEvaluator(client llm.Client, model string, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{client: client, model: model, logger: logger}
}

// Evaluate judges one candidate answer. Judgment failures accept the answer
// rather than forcing an escalation the judge never actually asked for:
// transport errors and malformed verdicts both degrade to a pass.
func (e *Evaluator) Evaluate(ctx context.Context, query, response string, strategy models.Strategy, level models.Complexity) (*Evaluation, models.Usage, error) {
	prompt := fmt.Sprintf(
		"Query (complexity %s, answered with the %s strategy):\n%s\n\nCandidate answer:\n%s",
		level, strategy, query, response)
	req := &llm.Request{
		Model:     e.model,
		System:    evaluatorSystem,
		Messages:  []models.Message{models.NewTextMessage(models.RoleUser, prompt)},
		MaxTokens: 1024,
	}
	msg, usage, err := e.client.Complete(ctx, req)
	if err != nil {
		e.logger.Warn("evaluator call failed, accepting answer", "error", err)
		return acceptingEvaluation(), models.Usage{}, nil
	}
	var total models.Usage
	if usage != nil {
		total = *usage
	}

	var eval Evaluation
	if err := decodeModelJSON(msg.Text(), &eval); err != nil {
		e.logger.Warn("evaluator returned malformed JSON, accepting answer", "error", err)
		return acceptingEvaluation(), total, nil
	}
	if eval.Confidence < 0 {
		eval.Confidence = 0
	}
	if eval.Confidence > 1 {
		eval.Confidence = 1
	}
	return &eval, total, nil
}

func acceptingEvaluation() *Evaluation {
	return &Evaluation{
		IsComplete: true,
		Confidence: 1.0,
		Reasoning:  "evaluation unavailable",
	}
}
