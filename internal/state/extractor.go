package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Extraction is what the extractor pulls out of one exchange. A zero value
// means nothing was learned.
type Extraction struct {
	ProfileFacts map[string]string `json:"profile_facts,omitempty"`
	Knowledge    []string          `json:"knowledge,omitempty"`
	Intent       string            `json:"intent,omitempty"`
}

const extractorSystemPrompt = `Extract structured state from one user/assistant exchange.
Return a JSON object with these keys:
- "profile_facts": object of stable user attributes (name, role, preferences) stated in the exchange
- "knowledge": array of short factual statements worth remembering
- "intent": one of "question", "task", "correction", "chitchat"
Only include facts actually present. Return {} when nothing applies.`

// chatCompleter is the slice of the OpenAI client the extractor needs.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Extractor derives profile facts, knowledge statements, and an intent
// classification from an exchange using a small, cheap model. It never
// fails loudly: every error path degrades to an empty extraction so the
// main loop is unaffected.
type Extractor struct {
	client chatCompleter
	model  string
	logger *slog.Logger
}

// NewExtractor builds an extractor against the OpenAI API.
func NewExtractor(apiKey, model string, logger *slog.Logger) *Extractor {
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := openai.NewClient(apiKey)
	return NewExtractorWith(client, model, logger)
}

// NewExtractorWith injects the completion client. Tests use this.
func NewExtractorWith(client chatCompleter, model string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client: client,
		model:  model,
		logger: logger.With("component", "state.extractor"),
	}
}

// Extract runs one extraction. Errors and unparseable output both return
// the empty extraction.
func (e *Extractor) Extract(ctx context.Context, userMsg, assistantMsg string) Extraction {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractorSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "User: " + userMsg + "\n\nAssistant: " + assistantMsg},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		e.logger.Debug("extraction skipped", "error", err)
		return Extraction{}
	}
	if len(resp.Choices) == 0 {
		return Extraction{}
	}
	return parseExtraction(resp.Choices[0].Message.Content)
}

// parseExtraction tolerates fenced output; anything unparseable yields the
// empty extraction.
func parseExtraction(content string) Extraction {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var out Extraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return Extraction{}
	}
	return out
}
