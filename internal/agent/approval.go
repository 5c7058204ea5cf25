package agent

import "context"

// Decision is the answer to one approval request. The *All forms extend to
// the remaining tool_use blocks of the current batch.
type Decision string

const (
	Approve    Decision = "approve"
	ApproveAll Decision = "approve_all"
	Deny       Decision = "deny"
	DenyAll    Decision = "deny_all"
)

// Approver gates tool execution. RequiresApproval is consulted per tool;
// RequestApproval blocks until the user (or policy) answers.
type Approver interface {
	RequiresApproval(tool string) bool
	RequestApproval(ctx context.Context, tool string, input map[string]any) (Decision, error)
}

// batchGate tracks approve_all / deny_all decisions within one batch of
// tool_use blocks, plus the per-run whitelist of already approved tools.
type batchGate struct {
	approveAll bool
	denyAll    bool
	whitelist  map[string]bool
}

func newBatchGate(whitelist map[string]bool) *batchGate {
	return &batchGate{whitelist: whitelist}
}

// check resolves the gate for one tool. A nil approver approves everything.
func (g *batchGate) check(ctx context.Context, approver Approver, tool string, input map[string]any) (bool, error) {
	if approver == nil || !approver.RequiresApproval(tool) {
		return true, nil
	}
	if g.denyAll {
		return false, nil
	}
	if g.approveAll || g.whitelist[tool] {
		return true, nil
	}

	decision, err := approver.RequestApproval(ctx, tool, input)
	if err != nil {
		return false, err
	}
	switch decision {
	case Approve:
		g.whitelist[tool] = true
		return true, nil
	case ApproveAll:
		g.approveAll = true
		g.whitelist[tool] = true
		return true, nil
	case DenyAll:
		g.denyAll = true
		return false, nil
	default:
		return false, nil
	}
}
