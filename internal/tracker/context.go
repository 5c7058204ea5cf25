package tracker

import (
	"fmt"
	"strings"

	"github.com/meridian-ai/meridian/pkg/models"
)

// Verbosity selects how much tracker context is folded back into the query
// on re-entry.
type Verbosity string

const (
	// VerbosityAuto derives the tier from strategy and attempt count.
	VerbosityAuto    Verbosity = ""
	VerbosityMinimal Verbosity = "minimal"
	VerbosityCompact Verbosity = "compact"
	VerbosityMedium  Verbosity = "medium"
	VerbosityFull    Verbosity = "full"
)

// ContextOptions tunes ContextText emission. Zero values select the
// per-verbosity defaults.
type ContextOptions struct {
	Verbosity   Verbosity
	MaxAttempts int
	MaxTools    int
}

// evalTruncateLimit caps evaluation reasoning below FULL verbosity.
const evalTruncateLimit = 200

// ContextText renders the tracker as a prose report for feeding back into
// the next attempt's query.
func (t *Tracker) ContextText(strategy models.Strategy, opts *ContextOptions) string {
	if opts == nil {
		opts = &ContextOptions{}
	}
	verbosity := opts.Verbosity
	if verbosity == VerbosityAuto {
		verbosity = t.deriveVerbosity(strategy)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", t.OriginalQuery)
	fmt.Fprintf(&b, "Complexity: %s\n", t.Complexity)
	if verbosity == VerbosityMinimal {
		return strings.TrimRight(b.String(), "\n")
	}

	t.writeSummaryLine(&b)
	t.writeGaps(&b, gapWindow(verbosity))
	fmt.Fprintf(&b, "Cached tool results: %d\n", t.CachedResultCount())
	if verbosity == VerbosityCompact {
		return strings.TrimRight(b.String(), "\n")
	}

	t.writeAttempts(&b, verbosity, opts.MaxAttempts)
	t.writePlanSections(&b, verbosity)
	t.writeToolSummary(&b, verbosity, opts.MaxTools)
	t.writeFeedback(&b, verbosity)

	return strings.TrimRight(b.String(), "\n")
}

// EstimateContextTokens applies the 4-chars/token heuristic to the emitted
// context at the given strategy's derived verbosity.
func (t *Tracker) EstimateContextTokens(strategy models.Strategy) int {
	return len(t.ContextText(strategy, nil)) / 4
}

// deriveVerbosity picks the tier the strategy re-entry needs: nothing
// happened yet on a first attempt; DIRECT re-entry gets a compact digest;
// LIGHT plans over medium context; DEEP wants everything.
func (t *Tracker) deriveVerbosity(strategy models.Strategy) Verbosity {
	if len(t.Attempts) == 0 {
		return VerbosityMinimal
	}
	switch strategy {
	case models.StrategyDirect:
		return VerbosityCompact
	case models.StrategyLight:
		return VerbosityMedium
	case models.StrategyDeep:
		return VerbosityFull
	default:
		return VerbosityCompact
	}
}

func (t *Tracker) writeSummaryLine(b *strings.Builder) {
	completed, total := 0, 0
	if t.Plan != nil {
		total = len(t.Plan.Steps)
		completed = len(t.Plan.CompletedSteps())
	}
	fmt.Fprintf(b, "Progress: %d attempts, %d tool calls, %d/%d steps completed\n",
		len(t.Attempts), len(t.ToolExecutions), completed, total)
}

func gapWindow(v Verbosity) int {
	switch v {
	case VerbosityCompact:
		return 3
	case VerbosityMedium:
		return 5
	default:
		return -1 // unbounded
	}
}

func (t *Tracker) writeGaps(b *strings.Builder, limit int) {
	gaps := t.Insights.KnowledgeGaps
	if len(gaps) == 0 {
		return
	}
	if limit >= 0 && len(gaps) > limit {
		gaps = gaps[:limit]
	}
	b.WriteString("Knowledge gaps:\n")
	for _, gap := range gaps {
		fmt.Fprintf(b, "  - %s\n", gap)
	}
}

func (t *Tracker) writeAttempts(b *strings.Builder, verbosity Verbosity, maxAttempts int) {
	attempts := t.Attempts
	if maxAttempts <= 0 {
		maxAttempts = 3
		if verbosity == VerbosityFull {
			maxAttempts = len(attempts)
		}
	}
	if len(attempts) > maxAttempts {
		attempts = attempts[len(attempts)-maxAttempts:]
	}
	if len(attempts) == 0 {
		return
	}
	b.WriteString("Previous attempts:\n")
	for _, a := range attempts {
		line := fmt.Sprintf("  [%s] %s", a.Strategy, a.Status)
		if a.QualityScore != nil {
			line += fmt.Sprintf(" (quality %.2f)", *a.QualityScore)
		}
		if a.Evaluation != "" {
			eval := a.Evaluation
			if verbosity != VerbosityFull && len(eval) > evalTruncateLimit {
				eval = eval[:evalTruncateLimit] + "..."
			}
			line += ": " + eval
		}
		b.WriteString(line + "\n")
	}
}

func (t *Tracker) writePlanSections(b *strings.Builder, verbosity Verbosity) {
	if t.Plan == nil {
		return
	}
	completed := t.Plan.CompletedSteps()
	if verbosity != VerbosityFull && len(completed) > 5 {
		completed = completed[len(completed)-5:]
	}
	if len(completed) > 0 {
		b.WriteString("Completed steps:\n")
		for _, s := range completed {
			fmt.Fprintf(b, "  - %s", s.Description)
			if len(s.Findings) > 0 {
				fmt.Fprintf(b, " (findings: %s)", strings.Join(s.Findings, "; "))
			}
			b.WriteString("\n")
		}
	}

	pending := t.Plan.PendingSteps()
	if verbosity != VerbosityFull && len(pending) > 10 {
		pending = pending[:10]
	}
	if len(pending) > 0 {
		b.WriteString("Pending steps:\n")
		for _, s := range pending {
			fmt.Fprintf(b, "  - %s\n", s.Description)
		}
	}
}

func (t *Tracker) writeToolSummary(b *strings.Builder, verbosity Verbosity, maxTools int) {
	if maxTools <= 0 {
		maxTools = 20
		if verbosity == VerbosityFull {
			maxTools = 50
		}
	}
	execs := t.ToolExecutions
	if len(execs) > maxTools {
		execs = execs[len(execs)-maxTools:]
	}
	if len(execs) == 0 {
		return
	}

	type stat struct {
		name     string
		calls    int
		failures int
	}
	byName := make(map[string]*stat)
	var order []string
	for _, rec := range execs {
		s, ok := byName[rec.ToolName]
		if !ok {
			s = &stat{name: rec.ToolName}
			byName[rec.ToolName] = s
			order = append(order, rec.ToolName)
		}
		s.calls++
		if !rec.Success {
			s.failures++
		}
	}

	b.WriteString("Tools used:\n")
	for _, name := range order {
		s := byName[name]
		if s.failures > 0 {
			fmt.Fprintf(b, "  - %s: %d calls (%d failed)\n", s.name, s.calls, s.failures)
		} else {
			fmt.Fprintf(b, "  - %s: %d calls\n", s.name, s.calls)
		}
	}
}

func (t *Tracker) writeFeedback(b *strings.Builder, verbosity Verbosity) {
	feedback := t.Insights.QualityFeedback
	if verbosity != VerbosityFull && len(feedback) > 3 {
		feedback = feedback[len(feedback)-3:]
	}
	if len(feedback) == 0 {
		return
	}
	b.WriteString("Quality feedback:\n")
	for _, f := range feedback {
		fmt.Fprintf(b, "  - %s\n", f)
	}
}
