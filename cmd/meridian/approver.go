package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/meridian-ai/meridian/internal/agent"
)

// consoleApprover prompts on the terminal for tools that require approval.
type consoleApprover struct {
	in  *bufio.Reader
	out io.Writer
}

// newConsoleApprover shares the reader with the REPL so neither side
// buffers input the other expects.
func newConsoleApprover(in *bufio.Reader, out io.Writer) *consoleApprover {
	return &consoleApprover{in: in, out: out}
}

// RequiresApproval gates every tool through the console prompt; there is
// no per-tool approval list in the config.
func (a *consoleApprover) RequiresApproval(tool string) bool {
	return true
}

func (a *consoleApprover) RequestApproval(ctx context.Context, tool string, input map[string]any) (agent.Decision, error) {
	args, _ := json.MarshalIndent(input, "  ", "  ")
	fmt.Fprintf(a.out, "\nTool %q wants to run with:\n  %s\n", tool, args)
	fmt.Fprint(a.out, "Allow? [y]es / [a]ll / [n]o / [d]eny all: ")

	line, err := a.in.ReadString('\n')
	if err != nil {
		return agent.Deny, fmt.Errorf("read approval: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return agent.Deny, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return agent.Approve, nil
	case "a", "all":
		return agent.ApproveAll, nil
	case "d", "deny all":
		return agent.DenyAll, nil
	default:
		return agent.Deny, nil
	}
}
