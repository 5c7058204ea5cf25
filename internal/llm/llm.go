// Package llm provides the mediated interface to the hosted language model
// service. All model traffic in the runtime flows through a Client; callers
// never talk to the SDK directly.
package llm

import (
	"context"

	"github.com/meridian-ai/meridian/pkg/models"
)

// Request describes one completion call. Messages are read, never mutated.
type Request struct {
	// Model is the model identifier. Empty selects the client default.
	Model string

	// System is the system prompt, sent out-of-band from Messages.
	System string

	// CacheSystem marks a cache breakpoint at the end of the system prompt.
	CacheSystem bool

	// Messages is the conversation window, oldest first.
	Messages []models.Message

	// Tools advertised for this call. A definition carrying CacheControl
	// marks the tools-list cache breakpoint.
	Tools []models.ToolDefinition

	// Temperature, when non-nil, overrides the service default.
	Temperature *float64

	// MaxTokens bounds the response. Zero selects the client default.
	MaxTokens int

	// StopSequences end generation early when emitted.
	StopSequences []string

	// ThinkingBudget enables extended thinking with the given token budget.
	// Zero disables thinking.
	ThinkingBudget int
}

// StreamChunk is one increment of a streaming completion.
//
// Text and Thinking chunks arrive as the model emits them. A ToolUse chunk
// carries one complete tool_use block, emitted once its streamed input JSON
// is fully assembled. The final chunk has Done set and carries the assembled
// message, stop reason, and usage; after an error chunk (Err set) no further
// chunks arrive.
type StreamChunk struct {
	Text     string
	Thinking string
	ToolUse  *models.ContentBlock

	Done       bool
	Message    *models.Message
	StopReason models.StopReason
	Usage      models.Usage

	Err error
}

// Client is the completion interface the rest of the runtime depends on.
//
// Implementations perform no internal retries; retry policy belongs to the
// callers, which know whether a failed call is worth repeating.
type Client interface {
	// Complete performs a blocking completion and returns the assistant
	// message with its token usage.
	Complete(ctx context.Context, req *Request) (*models.Message, *models.Usage, error)

	// Stream performs a streaming completion. The returned channel is
	// closed after the terminal chunk. Cancelling ctx aborts the stream.
	Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error)
}
