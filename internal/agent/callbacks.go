package agent

import "github.com/meridian-ai/meridian/pkg/models"

// Callbacks is the direct UI surface of the loop. Every field is optional;
// nil callbacks are skipped. Streaming is requested by supplying
// OnStreamChunk together with a streaming run.
type Callbacks struct {
	OnStart          func()
	OnStreamChunk    func(text string)
	OnStreamComplete func()
	OnToolCall       func(name string, input map[string]any)
	OnToolResult     func(name, text string, success bool)
	OnUsage          func(usage models.Usage, cost float64)
}

func (c *Callbacks) start() {
	if c != nil && c.OnStart != nil {
		c.OnStart()
	}
}

func (c *Callbacks) streamChunk(text string) {
	if c != nil && c.OnStreamChunk != nil {
		c.OnStreamChunk(text)
	}
}

func (c *Callbacks) streamComplete() {
	if c != nil && c.OnStreamComplete != nil {
		c.OnStreamComplete()
	}
}

func (c *Callbacks) toolCall(name string, input map[string]any) {
	if c != nil && c.OnToolCall != nil {
		c.OnToolCall(name, input)
	}
}

func (c *Callbacks) toolResult(name, text string, success bool) {
	if c != nil && c.OnToolResult != nil {
		c.OnToolResult(name, text, success)
	}
}

func (c *Callbacks) usage(u models.Usage, cost float64) {
	if c != nil && c.OnUsage != nil {
		c.OnUsage(u, cost)
	}
}

func (c *Callbacks) wantsStreaming() bool {
	return c != nil && c.OnStreamChunk != nil
}
