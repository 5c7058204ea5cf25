package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meridian-ai/meridian/internal/bus"
)

const recentTopicWindow = 10

// StateKey returns the provider key for a session's state aggregate. The
// "state:" namespace stays disjoint from the session snapshot keys even
// after provider key sanitization maps ":" to "_".
func StateKey(sessionID string) string {
	return "state:" + sessionID
}

// UpdateService applies domain events to session state aggregates. Every
// mutation publishes StateChanged and fires a background persistence write
// whose failure is logged, never surfaced.
type UpdateService struct {
	logger    *slog.Logger
	provider  Provider
	events    *bus.Bus
	extractor *Extractor

	mu     sync.Mutex
	states map[string]*SessionState
}

// NewUpdateService creates the service. Extractor and events may be nil.
func NewUpdateService(provider Provider, events *bus.Bus, extractor *Extractor, logger *slog.Logger) *UpdateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateService{
		logger:    logger.With("component", "state"),
		provider:  provider,
		events:    events,
		extractor: extractor,
		states:    make(map[string]*SessionState),
	}
}

// State returns a copy of the session's aggregate, loading it from the
// provider on first touch.
func (s *UpdateService) State(ctx context.Context, sessionID string) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.stateLocked(ctx, sessionID).clone()
}

func (s *UpdateService) stateLocked(ctx context.Context, sessionID string) *SessionState {
	if st, ok := s.states[sessionID]; ok {
		return st
	}

	st := newSessionState(sessionID)
	if s.provider != nil {
		if raw, found, err := s.provider.Load(ctx, StateKey(sessionID)); err != nil {
			s.logger.Warn("state load failed", "session", sessionID, "error", err)
		} else if found {
			if err := json.Unmarshal(raw, st); err != nil {
				s.logger.Warn("state decode failed, starting fresh", "session", sessionID, "error", err)
				st = newSessionState(sessionID)
			}
			// Maps omitted from the stored form decode as nil.
			if st.Profile.Preferences == nil {
				st.Profile.Preferences = make(map[string]string)
			}
			if st.Interaction.ToolUsage == nil {
				st.Interaction.ToolUsage = make(map[string]int)
			}
		}
	}
	s.states[sessionID] = st
	return st
}

// ExchangeComplete records one finished user/assistant exchange. When an
// extractor is configured it enriches the profile and knowledge base.
func (s *UpdateService) ExchangeComplete(ctx context.Context, sessionID, userMsg, assistantMsg string) {
	var extracted Extraction
	if s.extractor != nil {
		extracted = s.extractor.Extract(ctx, userMsg, assistantMsg)
	}

	s.mutate(ctx, sessionID, "interaction_context", "exchange_complete", func(st *SessionState) map[string]any {
		st.Interaction.ExchangeCount++

		now := time.Now()
		for k, v := range extracted.ProfileFacts {
			if k == "name" {
				st.Profile.Name = v
			} else {
				st.Profile.Preferences[k] = v
			}
			st.Profile.UpdatedAt = now
		}
		for _, fact := range extracted.Knowledge {
			st.Knowledge.Facts = append(st.Knowledge.Facts, Fact{
				Statement: fact,
				Source:    "extraction",
				LearnedAt: now,
			})
		}
		if extracted.Intent != "" {
			st.Interaction.LastIntent = extracted.Intent
		}
		if topic := firstWords(userMsg, 8); topic != "" {
			st.Interaction.RecentTopics = append(st.Interaction.RecentTopics, topic)
			if len(st.Interaction.RecentTopics) > recentTopicWindow {
				st.Interaction.RecentTopics = st.Interaction.RecentTopics[len(st.Interaction.RecentTopics)-recentTopicWindow:]
			}
		}

		return map[string]any{
			"exchange_count": st.Interaction.ExchangeCount,
			"facts_added":    len(extracted.Knowledge),
		}
	})
}

// ToolExecuted records one tool invocation.
func (s *UpdateService) ToolExecuted(ctx context.Context, sessionID, tool string, success bool) {
	s.mutate(ctx, sessionID, "interaction_context", "tool_executed", func(st *SessionState) map[string]any {
		st.Interaction.ToolUsage[tool]++
		return map[string]any{"tool": tool, "success": success}
	})
}

// ReasoningComplete records the outcome of one scheduler run.
func (s *UpdateService) ReasoningComplete(ctx context.Context, sessionID, strategy string, attempts int) {
	s.mutate(ctx, sessionID, "interaction_context", "reasoning_complete", func(st *SessionState) map[string]any {
		st.Interaction.LastStrategy = strategy
		return map[string]any{"strategy": strategy, "attempts": attempts}
	})
}

// AddFact records a statement directly, bypassing extraction.
func (s *UpdateService) AddFact(ctx context.Context, sessionID, statement, source string) {
	s.mutate(ctx, sessionID, "knowledge_base", "fact_added", func(st *SessionState) map[string]any {
		st.Knowledge.Facts = append(st.Knowledge.Facts, Fact{
			Statement: statement,
			Source:    source,
			LearnedAt: time.Now(),
		})
		return map[string]any{"statement": statement}
	})
}

// mutate applies fn under the lock, publishes the change, and kicks off the
// background persist with a snapshot taken at publish time.
func (s *UpdateService) mutate(ctx context.Context, sessionID, component, changeType string, fn func(*SessionState) map[string]any) {
	s.mu.Lock()
	st := s.stateLocked(ctx, sessionID)
	details := fn(st)
	st.Metadata.UpdatedAt = time.Now()
	st.Metadata.UpdateCount++
	snapshot := st.clone()
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(bus.StateChanged{
			SessionID:  sessionID,
			Component:  component,
			ChangeType: changeType,
			Details:    details,
		})
	}
	s.persistAsync(sessionID, snapshot)
}

func (s *UpdateService) persistAsync(sessionID string, snapshot *SessionState) {
	if s.provider == nil {
		return
	}
	go func() {
		raw, err := json.Marshal(snapshot)
		if err != nil {
			s.logger.Error("state encode failed", "session", sessionID, "error", err)
			return
		}
		if err := s.provider.Save(context.Background(), StateKey(sessionID), raw); err != nil {
			s.logger.Error("state persist failed", "session", sessionID, "error", err)
		}
	}()
}

// firstWords returns up to n leading words of s as a topic label.
func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
