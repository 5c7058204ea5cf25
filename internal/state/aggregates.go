package state

import "time"

// UserProfile accumulates what the runtime learns about the user.
type UserProfile struct {
	Name        string            `json:"name,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
	Interests   []string          `json:"interests,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Fact is one learned statement in the knowledge base.
type Fact struct {
	Statement string    `json:"statement"`
	Source    string    `json:"source,omitempty"`
	LearnedAt time.Time `json:"learned_at"`
}

// KnowledgeBase holds short factual statements extracted from exchanges.
type KnowledgeBase struct {
	Facts []Fact `json:"facts,omitempty"`
}

// InteractionContext tracks how the current session is being used.
type InteractionContext struct {
	LastIntent    string         `json:"last_intent,omitempty"`
	RecentTopics  []string       `json:"recent_topics,omitempty"`
	ExchangeCount int            `json:"exchange_count"`
	ToolUsage     map[string]int `json:"tool_usage,omitempty"`
	LastStrategy  string         `json:"last_strategy,omitempty"`
}

// Metadata carries bookkeeping for the aggregate as a whole.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdateCount int       `json:"update_count"`
}

// SessionState is the persisted per-session aggregate.
type SessionState struct {
	SessionID   string             `json:"session_id"`
	Profile     UserProfile        `json:"profile"`
	Knowledge   KnowledgeBase      `json:"knowledge"`
	Interaction InteractionContext `json:"interaction"`
	Metadata    Metadata           `json:"metadata"`
}

func newSessionState(sessionID string) *SessionState {
	now := time.Now()
	return &SessionState{
		SessionID: sessionID,
		Profile: UserProfile{
			Preferences: make(map[string]string),
		},
		Interaction: InteractionContext{
			ToolUsage: make(map[string]int),
		},
		Metadata: Metadata{CreatedAt: now, UpdatedAt: now},
	}
}

// clone returns a deep copy safe to hand to background persistence.
func (s *SessionState) clone() *SessionState {
	out := *s
	out.Profile.Preferences = make(map[string]string, len(s.Profile.Preferences))
	for k, v := range s.Profile.Preferences {
		out.Profile.Preferences[k] = v
	}
	out.Profile.Interests = append([]string(nil), s.Profile.Interests...)
	out.Knowledge.Facts = append([]Fact(nil), s.Knowledge.Facts...)
	out.Interaction.RecentTopics = append([]string(nil), s.Interaction.RecentTopics...)
	out.Interaction.ToolUsage = make(map[string]int, len(s.Interaction.ToolUsage))
	for k, v := range s.Interaction.ToolUsage {
		out.Interaction.ToolUsage[k] = v
	}
	return &out
}
