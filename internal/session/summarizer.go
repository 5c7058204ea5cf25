package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/meridian-ai/meridian/internal/cost"
	"github.com/meridian-ai/meridian/internal/llm"
	"github.com/meridian-ai/meridian/pkg/models"
)

// SummarizerConfig tunes the rolling-summary service.
type SummarizerConfig struct {
	// Model used for summarization; empty selects the client default.
	Model string

	// MinMessages is the conversation length below which summarization is
	// skipped entirely.
	MinMessages int

	// ReconcatGuardRatio rejects a new summary that starts with the old
	// one and is at least this many times longer. Such outputs are the
	// model concatenating instead of summarizing.
	ReconcatGuardRatio float64

	// MaxTokens bounds the summary response.
	MaxTokens int
}

// DefaultSummarizerConfig mirrors the configuration defaults.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{
		MinMessages:        6,
		ReconcatGuardRatio: 1.5,
		MaxTokens:          1024,
	}
}

// SummaryResult reports one summarization pass.
type SummaryResult struct {
	Summary string
	Skipped bool
	Reason  string
}

const summarizerSystemPrompt = `You maintain a running summary of a conversation.
Given the existing summary and a batch of new messages, produce ONE updated
summary covering everything so far. Be concise; keep decisions, facts, and
open questions; drop pleasantries. Reply with the summary text only.`

// Summarizer maintains each session's conversation summary incrementally.
// A per-session mutex prevents overlapping passes; the operation is
// idempotent, skipping when there is nothing new to cover.
type Summarizer struct {
	client llm.Client
	cfg    SummarizerConfig
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSummarizer creates the service.
func NewSummarizer(client llm.Client, cfg SummarizerConfig, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinMessages <= 0 {
		cfg.MinMessages = 6
	}
	if cfg.ReconcatGuardRatio <= 0 {
		cfg.ReconcatGuardRatio = 1.5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Summarizer{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "session.summarizer"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Summarizer) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[id] = l
	return l
}

// UpdateSessionSummary computes the incremental summary for the messages
// appended since the last pass and updates the session in place. The
// session is only mutated when the summary or its coverage changed.
func (s *Summarizer) UpdateSessionSummary(ctx context.Context, sess *Session) (SummaryResult, error) {
	lock := s.lockFor(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	messages := sess.Conversation.Messages()
	if len(messages) < s.cfg.MinMessages {
		return SummaryResult{Skipped: true, Reason: "conversation too short"}, nil
	}
	if sess.SummaryLastMessageIndex >= len(messages) {
		return SummaryResult{Summary: sess.ConversationSummary, Skipped: true, Reason: "no new messages"}, nil
	}

	transcript := renderTranscript(messages[sess.SummaryLastMessageIndex:])
	if transcript == "" {
		// Nothing textual in the new window; record coverage and move on.
		sess.SummaryLastMessageIndex = len(messages)
		return SummaryResult{Summary: sess.ConversationSummary, Skipped: true, Reason: "no textual content"}, nil
	}

	var prompt strings.Builder
	if sess.ConversationSummary != "" {
		prompt.WriteString("Existing summary:\n")
		prompt.WriteString(sess.ConversationSummary)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString("New messages:\n")
	prompt.WriteString(transcript)

	msg, usage, err := s.client.Complete(ctx, &llm.Request{
		Model:     s.cfg.Model,
		System:    summarizerSystemPrompt,
		Messages:  []models.Message{models.NewTextMessage(models.RoleUser, prompt.String())},
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		return SummaryResult{}, fmt.Errorf("session: summarize %s: %w", sess.ID, err)
	}
	if usage != nil {
		sess.SummarizationCost += cost.Calculate(s.cfg.Model, *usage)
	}

	next := strings.TrimSpace(msg.Text())
	if next == "" {
		return SummaryResult{Summary: sess.ConversationSummary, Skipped: true, Reason: "empty summary"}, nil
	}

	if prev := sess.ConversationSummary; prev != "" &&
		strings.HasPrefix(next, prev) &&
		float64(len(next)) >= s.cfg.ReconcatGuardRatio*float64(len(prev)) {
		s.logger.Warn("degenerate summary rejected",
			"session", sess.ID,
			"prev_len", len(prev),
			"next_len", len(next))
		return SummaryResult{Summary: prev, Skipped: true, Reason: "duplicate concatenation"}, nil
	}

	sess.ConversationSummary = next
	sess.SummaryLastMessageIndex = len(messages)
	return SummaryResult{Summary: next}, nil
}

// renderTranscript flattens text blocks to "role: text" lines. Tool blocks
// are elided; their outcomes already surface in assistant text.
func renderTranscript(messages []models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Text())
		if text == "" {
			continue
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
