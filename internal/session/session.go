// Package session owns the persistent unit of work: one conversation, its
// reasoning trackers, cost counters, and the rolling summary. The manager
// keeps exactly one session active; the summarizer maintains the summary
// incrementally.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-ai/meridian/internal/conversation"
	"github.com/meridian-ai/meridian/internal/tracker"
)

// Session aggregates everything one line of work accumulates.
type Session struct {
	ID           string
	Title        string
	Model        string
	Conversation *conversation.Conversation
	Trackers     map[string]*tracker.Tracker

	ConversationCost  float64
	ReasoningCost     float64
	SummarizationCost float64

	ConversationSummary     string
	SummaryLastMessageIndex int

	CreatedAt    time.Time
	LastActiveAt time.Time
}

// New creates a session with a fresh conversation.
func New(title, model, systemPrompt string, convCfg conversation.Config) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		Title:        title,
		Model:        model,
		Conversation: conversation.New(systemPrompt, convCfg),
		Trackers:     make(map[string]*tracker.Tracker),
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Touch records activity.
func (s *Session) Touch() {
	s.LastActiveAt = time.Now()
}

// SetTracker stores the tracker for one query.
func (s *Session) SetTracker(queryID string, tr *tracker.Tracker) {
	if s.Trackers == nil {
		s.Trackers = make(map[string]*tracker.Tracker)
	}
	s.Trackers[queryID] = tr
}

// Tracker returns the tracker for one query.
func (s *Session) Tracker(queryID string) (*tracker.Tracker, bool) {
	tr, ok := s.Trackers[queryID]
	return tr, ok
}

// TotalCost sums all three cost counters.
func (s *Session) TotalCost() float64 {
	return s.ConversationCost + s.ReasoningCost + s.SummarizationCost
}

type sessionSnapshot struct {
	ID           string                      `json:"id"`
	Title        string                      `json:"title"`
	Model        string                      `json:"model"`
	Conversation *conversation.Conversation  `json:"conversation"`
	Trackers     map[string]*tracker.Tracker `json:"trackers,omitempty"`

	ConversationCost  float64 `json:"conversation_cost"`
	ReasoningCost     float64 `json:"reasoning_cost"`
	SummarizationCost float64 `json:"summarization_cost"`

	ConversationSummary     string `json:"conversation_summary,omitempty"`
	SummaryLastMessageIndex int    `json:"summary_last_message_index"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// MarshalJSON serializes the full aggregate.
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionSnapshot{
		ID:                      s.ID,
		Title:                   s.Title,
		Model:                   s.Model,
		Conversation:            s.Conversation,
		Trackers:                s.Trackers,
		ConversationCost:        s.ConversationCost,
		ReasoningCost:           s.ReasoningCost,
		SummarizationCost:       s.SummarizationCost,
		ConversationSummary:     s.ConversationSummary,
		SummaryLastMessageIndex: s.SummaryLastMessageIndex,
		CreatedAt:               s.CreatedAt,
		LastActiveAt:            s.LastActiveAt,
	})
}

// UnmarshalJSON restores the aggregate, tolerating missing fields from
// older snapshots.
func (s *Session) UnmarshalJSON(data []byte) error {
	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.ID = snap.ID
	s.Title = snap.Title
	s.Model = snap.Model
	s.Conversation = snap.Conversation
	if s.Conversation == nil {
		s.Conversation = conversation.New("", conversation.DefaultConfig())
	}
	s.Trackers = snap.Trackers
	if s.Trackers == nil {
		s.Trackers = make(map[string]*tracker.Tracker)
	}
	s.ConversationCost = snap.ConversationCost
	s.ReasoningCost = snap.ReasoningCost
	s.SummarizationCost = snap.SummarizationCost
	s.ConversationSummary = snap.ConversationSummary
	s.SummaryLastMessageIndex = snap.SummaryLastMessageIndex
	s.CreatedAt = snap.CreatedAt
	s.LastActiveAt = snap.LastActiveAt
	return nil
}
