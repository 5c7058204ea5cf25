// Package reasoning implements the adaptive scheduler: it classifies each
// query, picks a strategy, runs the agent loop under that strategy, judges
// the answer, and escalates to a deeper strategy when the answer does not
// clear the quality gate. All side LLM calls (analysis, planning, judgment,
// synthesis) are buffered and their cost is accounted separately from the
// main conversation turns.
package reasoning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-ai/meridian/internal/llm"
	"github.com/meridian-ai/meridian/pkg/models"
)

// ComplexityAnalysis is the analyzer's verdict on one query.
type ComplexityAnalysis struct {
	Level               models.Complexity `json:"level"`
	RecommendedStrategy models.Strategy   `json:"recommended_strategy"`
	EstimatedIterations int               `json:"estimated_iterations"`
	Confidence          float64           `json:"confidence"`
	Rationale           string            `json:"rationale"`
}

const analyzerSystem = `You classify user queries by reasoning complexity.
Respond with a single JSON object, no prose:
{
  "level": "simple" | "medium" | "complex",
  "recommended_strategy": "direct" | "light" | "deep",
  "estimated_iterations": <int, 1-5>,
  "confidence": <float, 0-1>,
  "rationale": "<one sentence>"
}
"direct" answers in one pass. "light" needs a short 1-2 step plan.
"deep" needs a full plan with iterative verification.`

// Analyzer classifies queries ahead of strategy selection.
type Analyzer struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

func NewAnalyzer(client llm.Client, model string, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{client: client, model: model, logger: logger}
}

// Analyze classifies one query. A malformed model response degrades to the
// default classification instead of failing the run; transport errors
// propagate.
func (a *Analyzer) Analyze(ctx context.Context, query string) (*ComplexityAnalysis, models.Usage, error) {
	req := &llm.Request{
		Model:     a.model,
		System:    analyzerSystem,
		Messages:  []models.Message{models.NewTextMessage(models.RoleUser, query)},
		MaxTokens: 512,
	}
	msg, usage, err := a.client.Complete(ctx, req)
	if err != nil {
		return nil, models.Usage{}, fmt.Errorf("analyze query: %w", err)
	}
	var total models.Usage
	if usage != nil {
		total = *usage
	}

	analysis := defaultAnalysis()
	if err := decodeModelJSON(msg.Text(), analysis); err != nil {
		a.logger.Warn("analyzer returned malformed JSON, using default classification", "error", err)
		return defaultAnalysis(), total, nil
	}
	normalizeAnalysis(analysis)
	return analysis, total, nil
}

func defaultAnalysis() *ComplexityAnalysis {
	return &ComplexityAnalysis{
		Level:               models.ComplexityMedium,
		RecommendedStrategy: models.StrategyDirect,
		EstimatedIterations: 1,
		Confidence:          0.5,
		Rationale:           "classification unavailable",
	}
}

func normalizeAnalysis(a *ComplexityAnalysis) {
	switch a.Level {
	case models.ComplexitySimple, models.ComplexityMedium, models.ComplexityComplex:
	default:
		a.Level = models.ComplexityMedium
	}
	if !a.RecommendedStrategy.Valid() {
		a.RecommendedStrategy = models.StrategyDirect
	}
	if a.EstimatedIterations < 1 {
		a.EstimatedIterations = 1
	}
	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 1 {
		a.Confidence = 1
	}
}
