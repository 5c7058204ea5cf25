package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/meridian-ai/meridian/pkg/models"
)

// MessagesClient is the slice of the SDK message service the client uses.
// *anthropic.MessageService satisfies it; tests substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
	NewStreaming(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	// APIKey authenticates against the service (required).
	APIKey string

	// BaseURL overrides the default API endpoint.
	BaseURL string

	// DefaultModel is used when Request.Model is empty.
	DefaultModel string

	// DefaultMaxTokens is used when Request.MaxTokens is zero.
	DefaultMaxTokens int
}

// AnthropicClient implements Client on the official SDK. It is safe for
// concurrent use; each Stream call owns an independent SSE stream.
type AnthropicClient struct {
	messages         MessagesClient
	defaultModel     string
	defaultMaxTokens int
}

// NewAnthropicClient builds a client from configuration.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	sdkClient := anthropic.NewClient(options...)
	return newAnthropicClient(&sdkClient.Messages, cfg), nil
}

// NewAnthropicClientWith builds a client around an existing messages client.
// Tests use this to substitute a stub service.
func NewAnthropicClientWith(messages MessagesClient, cfg AnthropicConfig) *AnthropicClient {
	return newAnthropicClient(messages, cfg)
}

func newAnthropicClient(messages MessagesClient, cfg AnthropicConfig) *AnthropicClient {
	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.DefaultMaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{
		messages:         messages,
		defaultModel:     model,
		defaultMaxTokens: maxTokens,
	}
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*models.Message, *models.Usage, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return nil, nil, classify(err)
	}
	msg, _, usage, err := translateResponse(resp)
	if err != nil {
		return nil, nil, err
	}
	return msg, &usage, nil
}

// Stream implements Client.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.messages.NewStreaming(ctx, params)

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		processStream(stream, chunks)
	}()
	return chunks, nil
}

// maxEmptyStreamEvents bounds consecutive no-op events before the stream is
// treated as malformed.
const maxEmptyStreamEvents = 300

func processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- StreamChunk) {
	assembled := models.Message{Role: models.RoleAssistant}
	var textAcc strings.Builder
	var currentTool *models.ContentBlock
	var toolInput strings.Builder
	var usage models.Usage
	var stopReason models.StopReason
	inThinking := false
	emptyEvents := 0

	flushText := func() {
		if textAcc.Len() > 0 {
			assembled.Content = append(assembled.Content, models.NewTextBlock(textAcc.String()))
			textAcc.Reset()
		}
	}

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			switch blockStart.ContentBlock.Type {
			case "thinking":
				inThinking = true
				processed = true
			case "tool_use":
				toolUse := blockStart.ContentBlock.AsToolUse()
				flushText()
				currentTool = &models.ContentBlock{
					Type: models.BlockToolUse,
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				toolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					textAcc.WriteString(delta.Text)
					chunks <- StreamChunk{Text: delta.Text}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- StreamChunk{Thinking: delta.Thinking}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if inThinking {
				inThinking = false
				processed = true
			} else if currentTool != nil {
				input := map[string]any{}
				if raw := toolInput.String(); raw != "" {
					if err := json.Unmarshal([]byte(raw), &input); err != nil {
						chunks <- StreamChunk{Err: fmt.Errorf("llm: malformed tool input for %s: %w", currentTool.Name, err)}
						return
					}
				}
				currentTool.Input = input
				assembled.Content = append(assembled.Content, *currentTool)
				chunks <- StreamChunk{ToolUse: currentTool}
				currentTool = nil
				processed = true
			} else {
				flushText()
				processed = true
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(md.Usage.OutputTokens)
			}
			if md.Delta.StopReason != "" {
				stopReason = models.StopReason(md.Delta.StopReason)
			}
			processed = true

		case "message_stop":
			flushText()
			final := assembled
			chunks <- StreamChunk{
				Done:       true,
				Message:    &final,
				StopReason: stopReason,
				Usage:      usage,
			}
			return

		case "error":
			chunks <- StreamChunk{Err: &UpstreamError{Cause: errors.New("llm: stream error event")}}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- StreamChunk{Err: &TransportError{
					Cause: fmt.Errorf("stream malformed: %d consecutive empty events", emptyEvents),
				}}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- StreamChunk{Err: classify(err)}
		return
	}
	// Stream ended without message_stop. Deliver what was assembled.
	flushText()
	final := assembled
	chunks <- StreamChunk{Done: true, Message: &final, StopReason: stopReason, Usage: usage}
}

func (c *AnthropicClient) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(c.maxTokens(req.MaxTokens)),
	}

	if req.System != "" {
		block := anthropic.TextBlockParam{
			Type: "text",
			Text: req.System,
		}
		if req.CacheSystem {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{block}
	}

	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if req.ThinkingBudget > 0 {
		budget := int64(req.ThinkingBudget)
		if budget < 1024 {
			budget = 1024
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return params, nil
}

func (c *AnthropicClient) model(model string) string {
	if model == "" {
		return c.defaultModel
	}
	return model
}

func (c *AnthropicClient) maxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return c.defaultMaxTokens
	}
	return maxTokens
}

// convertMessages translates domain messages to SDK params, preserving block
// order and cache-control markers.
func convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				u := anthropic.NewTextBlock(block.Text)
				if block.CacheControl != nil && u.OfText != nil {
					u.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
				}
				content = append(content, u)

			case models.BlockImage:
				if block.Source == nil {
					return nil, fmt.Errorf("llm: image block missing source")
				}
				content = append(content, anthropic.NewImageBlockBase64(block.Source.MediaType, block.Source.Data))

			case models.BlockToolUse:
				input := block.Input
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(block.ID, input, block.Name))

			case models.BlockToolResult:
				u := anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError)
				if block.CacheControl != nil && u.OfToolResult != nil {
					u.OfToolResult.CacheControl = anthropic.NewCacheControlEphemeralParam()
				}
				content = append(content, u)

			default:
				return nil, fmt.Errorf("llm: unsupported content block type %q", block.Type)
			}
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("llm: invalid tool schema for %s: %w", tool.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("llm: invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("llm: invalid tool schema for %s: missing tool definition", tool.Name)
		}
		if tool.Description != "" {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		if tool.CacheControl != nil {
			toolParam.OfTool.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		result = append(result, toolParam)
	}

	return result, nil
}

// translateResponse converts a non-streaming SDK response to domain types.
func translateResponse(resp *anthropic.Message) (*models.Message, models.StopReason, models.Usage, error) {
	if resp == nil {
		return nil, "", models.Usage{}, &UpstreamError{Cause: errors.New("llm: empty response")}
	}

	msg := &models.Message{Role: models.RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content = append(msg.Content, models.NewTextBlock(block.Text))
		case "tool_use":
			input := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return nil, "", models.Usage{}, fmt.Errorf("llm: malformed tool input for %s: %w", block.Name, err)
				}
			}
			msg.Content = append(msg.Content, models.NewToolUseBlock(block.ID, block.Name, input))
		case "thinking":
			// Thinking blocks are not replayed into the conversation.
		}
	}

	usage := models.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	return msg, models.StopReason(resp.StopReason), usage, nil
}
