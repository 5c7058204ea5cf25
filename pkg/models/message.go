// Package models provides domain types for the Meridian agent runtime.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks messages authored by the human user. Tool results are
	// also carried in user-role messages, as tool_result content blocks.
	RoleUser Role = "user"

	// RoleAssistant marks messages authored by the model.
	RoleAssistant Role = "assistant"
)

// ContentBlockType discriminates the content block union.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockImage      ContentBlockType = "image"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
)

// CacheControl is the protocol token instructing the LLM service to retain
// the prefix ending at this block across calls.
type CacheControl struct {
	Type string `json:"type"`
}

// EphemeralCache returns the only cache-control value the protocol defines.
func EphemeralCache() *CacheControl {
	return &CacheControl{Type: "ephemeral"}
}

// ImageSource carries base64 image data for image blocks.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentBlock is the tagged content union carried by messages.
//
// Exactly one payload group is meaningful for a given Type:
//   - text: Text
//   - image: Source
//   - tool_use: ID, Name, Input
//   - tool_result: ToolUseID, Content, IsError
//
// The Type string is the serialized discriminator; it round-trips through
// JSON unchanged.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// Text payload.
	Text string `json:"text,omitempty"`

	// Image payload.
	Source *ImageSource `json:"source,omitempty"`

	// Tool use payload. Input is the canonical string-keyed argument map,
	// deserialized once at the agent-loop boundary.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// Tool result payload.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// CacheControl, when set, marks a cache breakpoint at this block.
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// NewTextBlock builds a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewToolUseBlock builds a tool_use content block.
func NewToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// NewToolResultBlock builds a tool_result content block answering the
// tool_use block with the given id.
func NewToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one entry in a conversation log. Content is an ordered list of
// typed blocks; plain-string messages are represented as a single text block.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// NewTextMessage builds a message holding a single text block.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{NewTextBlock(text)}}
}

// Text returns the concatenation of all text-typed blocks, newline joined.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.Content {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool_use blocks of the message in order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// HasToolUse reports whether any content block requests a tool execution.
func (m Message) HasToolUse() bool {
	return len(m.ToolUses()) > 0
}

// Clone returns a deep copy of the message. Block input maps are copied one
// level deep, which is sufficient because inputs are treated as immutable
// once deserialized.
func (m Message) Clone() Message {
	out := Message{Role: m.Role, Content: make([]ContentBlock, len(m.Content))}
	copy(out.Content, m.Content)
	for i := range out.Content {
		if out.Content[i].Input != nil {
			input := make(map[string]any, len(out.Content[i].Input))
			for k, v := range out.Content[i].Input {
				input[k] = v
			}
			out.Content[i].Input = input
		}
		if out.Content[i].CacheControl != nil {
			cc := *out.Content[i].CacheControl
			out.Content[i].CacheControl = &cc
		}
		if out.Content[i].Source != nil {
			src := *out.Content[i].Source
			out.Content[i].Source = &src
		}
	}
	return out
}

// Validate checks structural consistency of the block union.
func (b ContentBlock) Validate() error {
	switch b.Type {
	case BlockText:
		return nil
	case BlockImage:
		if b.Source == nil {
			return fmt.Errorf("image block missing source")
		}
		return nil
	case BlockToolUse:
		if b.ID == "" || b.Name == "" {
			return fmt.Errorf("tool_use block missing id or name")
		}
		return nil
	case BlockToolResult:
		if b.ToolUseID == "" {
			return fmt.Errorf("tool_result block missing tool_use_id")
		}
		return nil
	default:
		return fmt.Errorf("unknown content block type %q", b.Type)
	}
}

// UnmarshalJSON accepts either a plain string (shorthand for one text block)
// or a block list for message content.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Role = wire.Role
	m.Content = nil
	if len(wire.Content) == 0 {
		return nil
	}
	var text string
	if err := json.Unmarshal(wire.Content, &text); err == nil {
		m.Content = []ContentBlock{NewTextBlock(text)}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(wire.Content, &blocks); err != nil {
		return fmt.Errorf("message content is neither string nor block list: %w", err)
	}
	m.Content = blocks
	return nil
}
