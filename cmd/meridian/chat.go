package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/meridian-ai/meridian/internal/agent"
	"github.com/meridian-ai/meridian/internal/reasoning"
	"github.com/meridian-ai/meridian/internal/session"
	"github.com/meridian-ai/meridian/pkg/models"
)

func runChat(cmd *cobra.Command, configPath, sessionID string, stream bool) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	out := cmd.OutOrStdout()
	reader := bufio.NewReader(cmd.InOrStdin())
	rt, err := buildRuntime(cfg, logger, newConsoleApprover(reader, out))
	if err != nil {
		return err
	}
	defer rt.close(context.WithoutCancel(ctx))

	rt.host.StartAll()

	if err := rt.sessions.Init(ctx); err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}

	sess, err := openChatSession(ctx, rt, sessionID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "meridian %s, session %s\n", version, sess.ID)
	fmt.Fprintln(out, `Type a question, or /help for commands.`)

	for {
		fmt.Fprint(out, "\nyou> ")
		raw, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := handleSlashCommand(ctx, rt, &sess, out, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if done {
				break
			}
			continue
		}

		if err := answerQuery(ctx, rt, sess, out, line, stream); err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}

	fmt.Fprintf(out, "\nSession %s saved. Total cost: $%.4f\n", sess.ID, sess.TotalCost())
	return nil
}

func openChatSession(ctx context.Context, rt *runtime, sessionID string) (*session.Session, error) {
	if sessionID != "" {
		sess, err := rt.sessions.Switch(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("resume session %s: %w", sessionID, err)
		}
		return sess, nil
	}
	title := "chat " + time.Now().Format("2006-01-02 15:04")
	return rt.sessions.Create(ctx, title, rt.cfg.LLM.Model)
}

// answerQuery runs one query through the scheduler and records the outcome
// on the session.
func answerQuery(ctx context.Context, rt *runtime, sess *session.Session, out io.Writer, query string, stream bool) error {
	queryID := uuid.NewString()

	cb := &reasoning.Callbacks{
		Agent: &agent.Callbacks{
			OnToolCall: func(name string, _ map[string]any) {
				fmt.Fprintf(out, "[tool] %s\n", name)
			},
			OnToolResult: func(name, _ string, success bool) {
				if !success {
					fmt.Fprintf(out, "[tool] %s failed\n", name)
				}
			},
			OnUsage: func(_ models.Usage, cost float64) {
				sess.ConversationCost += cost
			},
		},
		OnAutoEscalation: func(from, to models.Strategy, reason string, confidence float64) {
			fmt.Fprintf(out, "[escalating %s -> %s: %s (%.2f)]\n", from, to, reason, confidence)
		},
	}
	if stream {
		cb.Agent.OnStreamChunk = func(text string) { fmt.Fprint(out, text) }
		cb.Agent.OnStreamComplete = func() { fmt.Fprintln(out) }
	}

	result, err := rt.sched.Run(ctx, sess.Conversation, query, cb, stream)
	if err != nil {
		return err
	}
	if !stream {
		fmt.Fprintln(out, result.Response)
	}
	fmt.Fprintf(out, "[%s, %d attempt(s), quality %.2f]\n", result.Strategy, result.Attempts, result.Quality)

	sess.ReasoningCost += result.ReasoningCost
	sess.SetTracker(queryID, result.Tracker)
	sess.Touch()

	rt.updates.ExchangeComplete(ctx, sess.ID, query, result.Response)
	rt.updates.ReasoningComplete(ctx, sess.ID, string(result.Strategy), result.Attempts)

	if _, err := rt.summ.UpdateSessionSummary(ctx, sess); err != nil {
		rt.logger.Warn("summary update failed", "session", sess.ID, "error", err)
	}
	if err := rt.sessions.Save(ctx, sess); err != nil {
		rt.logger.Warn("session save failed", "session", sess.ID, "error", err)
	}
	return nil
}

// handleSlashCommand executes a REPL control command. It returns true when
// the REPL should exit.
func handleSlashCommand(ctx context.Context, rt *runtime, sess **session.Session, out io.Writer, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprintln(out, strings.TrimSpace(`
/new [title]     start a fresh session
/switch <id>     resume another session
/sessions        list stored sessions
/tools           list available tools
/cost            show cost counters
/quit            save and exit`))
		return false, nil

	case "/new":
		title := strings.TrimSpace(strings.TrimPrefix(line, "/new"))
		if title == "" {
			title = "chat " + time.Now().Format("2006-01-02 15:04")
		}
		next, err := rt.sessions.Create(ctx, title, rt.cfg.LLM.Model)
		if err != nil {
			return false, err
		}
		*sess = next
		fmt.Fprintf(out, "Started session %s\n", next.ID)
		return false, nil

	case "/switch":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /switch <session-id>")
		}
		next, err := rt.sessions.Switch(ctx, fields[1])
		if err != nil {
			return false, err
		}
		*sess = next
		fmt.Fprintf(out, "Resumed session %s (%s)\n", next.ID, next.Title)
		return false, nil

	case "/sessions":
		summaries, err := rt.sessions.List(ctx)
		if err != nil {
			return false, err
		}
		for _, s := range summaries {
			marker := " "
			if s.ID == (*sess).ID {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s  %s  (%s)\n", marker, s.ID, s.Title, s.LastActiveAt)
		}
		return false, nil

	case "/tools":
		for _, name := range rt.registry.Names(ctx) {
			fmt.Fprintln(out, name)
		}
		return false, nil

	case "/cost":
		s := *sess
		fmt.Fprintf(out, "conversation $%.4f + reasoning $%.4f + summarization $%.4f = $%.4f\n",
			s.ConversationCost, s.ReasoningCost, s.SummarizationCost, s.TotalCost())
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}
