// Package conversation maintains the ordered message log sent to the model.
//
// A Conversation is single-writer: the agent loop or scheduler that owns the
// session mutates it during a run. Persistence consumers work from snapshots,
// never from the live log.
package conversation

import (
	"encoding/json"
	"time"

	"github.com/meridian-ai/meridian/pkg/models"
)

// Config tunes one conversation log.
type Config struct {
	// MaxHistory bounds the message count. Nil means unbounded; an explicit
	// zero keeps the log empty while the system prompt stays in effect.
	MaxHistory *int `json:"max_history,omitempty"`

	// CachingEnabled turns on prompt-cache breakpoint placement.
	CachingEnabled bool `json:"caching_enabled"`
}

// DefaultConfig enables caching with unbounded history.
func DefaultConfig() Config {
	return Config{CachingEnabled: true}
}

// Conversation is an append-only message log with a system prompt.
type Conversation struct {
	system   string
	messages []models.Message
	config   Config

	createdAt      time.Time
	lastModifiedAt time.Time
}

// New creates an empty conversation.
func New(system string, cfg Config) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		system:         system,
		config:         cfg,
		createdAt:      now,
		lastModifiedAt: now,
	}
}

// System returns the system prompt.
func (c *Conversation) System() string { return c.system }

// SetSystem replaces the system prompt.
func (c *Conversation) SetSystem(system string) {
	c.system = system
	c.touch()
}

// CachingEnabled reports whether cache breakpoints are placed. The system
// prompt breakpoint rides on the completion request; the message breakpoint
// is applied by MessagesForAPI.
func (c *Conversation) CachingEnabled() bool { return c.config.CachingEnabled }

// Len returns the number of messages in the log.
func (c *Conversation) Len() int { return len(c.messages) }

// CreatedAt returns the creation timestamp.
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }

// LastModifiedAt returns the last mutation timestamp.
func (c *Conversation) LastModifiedAt() time.Time { return c.lastModifiedAt }

// AddUserText appends a user message holding one text block.
func (c *Conversation) AddUserText(text string) {
	c.Add(models.NewTextMessage(models.RoleUser, text))
}

// AddAssistantText appends an assistant message holding one text block.
func (c *Conversation) AddAssistantText(text string) {
	c.Add(models.NewTextMessage(models.RoleAssistant, text))
}

// Add appends a message and enforces the history bound.
func (c *Conversation) Add(msg models.Message) {
	c.messages = append(c.messages, msg)
	c.truncate()
	c.touch()
}

// Messages returns a copy of the log in append order.
func (c *Conversation) Messages() []models.Message {
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SetMessages replaces the log wholesale, re-applying the history bound.
// The summarizer uses this to install a compacted log.
func (c *Conversation) SetMessages(messages []models.Message) {
	c.messages = make([]models.Message, len(messages))
	copy(c.messages, messages)
	c.truncate()
	c.touch()
}

// Clear drops all messages, keeping the system prompt and config.
func (c *Conversation) Clear() {
	c.messages = nil
	c.touch()
}

// MessagesForAPI returns the log prepared for a completion request. When
// caching is enabled, the last user message's last content block receives an
// ephemeral cache marker. The returned slice shares unmarked messages with
// the log; the marked message is a deep copy, so the log is never mutated.
func (c *Conversation) MessagesForAPI() []models.Message {
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)

	if !c.config.CachingEnabled {
		return out
	}
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role != models.RoleUser || len(out[i].Content) == 0 {
			continue
		}
		marked := out[i].Clone()
		marked.Content[len(marked.Content)-1].CacheControl = models.EphemeralCache()
		out[i] = marked
		break
	}
	return out
}

// EstimateTokens returns a character-count heuristic (~4 chars/token) over
// the system prompt and all text blocks. Non-text blocks contribute zero.
func (c *Conversation) EstimateTokens() int {
	chars := len(c.system)
	for _, msg := range c.messages {
		for _, block := range msg.Content {
			if block.Type == models.BlockText {
				chars += len(block.Text)
			}
		}
	}
	return chars / 4
}

// truncate drops messages from the front until the history bound is met,
// then drops one more if the new head starts with an orphaned tool_result.
func (c *Conversation) truncate() {
	if c.config.MaxHistory == nil {
		return
	}
	limit := *c.config.MaxHistory
	if limit <= 0 {
		c.messages = nil
		return
	}
	if len(c.messages) <= limit {
		return
	}
	c.messages = c.messages[len(c.messages)-limit:]
	if len(c.messages) > 0 && startsWithToolResult(c.messages[0]) {
		c.messages = c.messages[1:]
	}
}

func startsWithToolResult(msg models.Message) bool {
	return len(msg.Content) > 0 && msg.Content[0].Type == models.BlockToolResult
}

func (c *Conversation) touch() {
	c.lastModifiedAt = time.Now().UTC()
}

// snapshot is the serialized form of a conversation.
type snapshot struct {
	System         string           `json:"system,omitempty"`
	Messages       []models.Message `json:"messages"`
	Config         Config           `json:"config"`
	CreatedAt      time.Time        `json:"created_at"`
	LastModifiedAt time.Time        `json:"last_modified_at"`
}

// MarshalJSON serializes the full conversation state.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{
		System:         c.system,
		Messages:       c.messages,
		Config:         c.config,
		CreatedAt:      c.createdAt,
		LastModifiedAt: c.lastModifiedAt,
	})
}

// UnmarshalJSON restores a conversation from its serialized form. Missing
// optional fields restore to zero values.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.system = s.System
	c.messages = s.Messages
	c.config = s.Config
	c.createdAt = s.CreatedAt
	c.lastModifiedAt = s.LastModifiedAt
	if c.createdAt.IsZero() {
		c.createdAt = time.Now().UTC()
	}
	if c.lastModifiedAt.IsZero() {
		c.lastModifiedAt = c.createdAt
	}
	return nil
}
