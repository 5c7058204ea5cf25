package models

// ToolDefinition describes one callable capability advertised to the model.
// Name is unique across all providers; duplicates are rejected at
// registration time.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`

	// CacheControl marks the tools-list cache breakpoint. Placement is
	// computed by the registry; only the last definition carries it.
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// StopReason is the model's reason for ending a turn.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Usage carries token accounting for one LLM exchange.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
