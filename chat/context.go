package chat

import (
	"fmt"

	"github.com/sternelee/forge-agent/schema"
)

// ToolChoice constrains whether and how the model may call tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// ToolDefinition describes a single tool offered to the model in a request.
type ToolDefinition struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Schema      *schema.JSON `json:"schema,omitzero"`
}

// ReasoningConfig tunes how hard (and how verbosely) a model should think.
type ReasoningConfig struct {
	Effort  string `json:"effort,omitzero"`
	Summary string `json:"summary,omitzero"`
}

// ImageContent is inline image content addressed either by URL or by a
// base64-encoded data payload with a MIME type.
type ImageContent struct {
	URL      string `json:"url,omitzero"`
	Data     string `json:"data,omitzero"`
	MimeType string `json:"mime_type,omitzero"`
}

// ContextMessage is one message in a provider-agnostic conversation
// context. It reuses Message's Contents union (text/tool_call/tool_result/
// thinking) and adds Image as a first-class content kind.
type ContextMessage struct {
	Role     Role      `json:"role"`
	Contents []Content `json:"contents,omitzero"`
	Images   []ImageContent `json:"images,omitzero"`
}

// Context is the full provider-agnostic request state for one turn: the
// message history, available tools, and sampling/reasoning parameters.
type Context struct {
	Messages       []ContextMessage `json:"messages"`
	Tools          []ToolDefinition `json:"tools,omitzero"`
	ToolChoice     ToolChoice       `json:"tool_choice,omitzero"`
	Temperature    *float64         `json:"temperature,omitzero"`
	TopP           *float64         `json:"top_p,omitzero"`
	TopK           *int             `json:"top_k,omitzero"`
	MaxTokens      int              `json:"max_tokens,omitzero"`
	Reasoning      *ReasoningConfig `json:"reasoning,omitzero"`
	ConversationID string           `json:"conversation_id,omitzero"`
}

// NewContext creates an empty context with the given system prompt, if any.
func NewContext(systemPrompt string) *Context {
	c := &Context{}
	if systemPrompt != "" {
		c.Messages = append(c.Messages, ContextMessage{
			Role:     "system",
			Contents: []Content{{Text: systemPrompt}},
		})
	}
	return c
}

// AddMessage appends a message to the context and returns c for chaining.
func (c *Context) AddMessage(msg ContextMessage) *Context {
	c.Messages = append(c.Messages, msg)
	return c
}

// Assistant appends an assistant message built from the given contents.
func (c *Context) Assistant(contents ...Content) *Context {
	return c.AddMessage(ContextMessage{Role: AssistantRole, Contents: contents})
}

// AddTool registers a single tool definition.
func (c *Context) AddTool(t ToolDefinition) *Context {
	c.Tools = append(c.Tools, t)
	return c
}

// WithTools replaces the tool list wholesale.
func (c *Context) WithTools(tools []ToolDefinition) *Context {
	c.Tools = tools
	return c
}

// WithToolChoice sets the tool-choice policy.
func (c *Context) WithToolChoice(choice ToolChoice) *Context {
	c.ToolChoice = choice
	return c
}

// WithTemperature sets the sampling temperature.
func (c *Context) WithTemperature(t float64) *Context {
	c.Temperature = &t
	return c
}

// WithTopP sets nucleus sampling.
func (c *Context) WithTopP(p float64) *Context {
	c.TopP = &p
	return c
}

// WithTopK sets top-k sampling.
func (c *Context) WithTopK(k int) *Context {
	c.TopK = &k
	return c
}

// WithMaxTokens caps the number of generated tokens.
func (c *Context) WithMaxTokens(n int) *Context {
	c.MaxTokens = n
	return c
}

// WithReasoning sets the reasoning configuration.
func (c *Context) WithReasoning(r ReasoningConfig) *Context {
	c.Reasoning = &r
	return c
}

// WithConversationID tags the context with a conversation id, used by some
// providers (e.g. OpenAI prompt_cache_key) to improve cache locality.
func (c *Context) WithConversationID(id string) *Context {
	c.ConversationID = id
	return c
}

// Validate enforces the wire-encoding boundary invariant: every assistant
// tool_call content must be followed, before the next non-tool-result
// message, by exactly one tool_result content carrying the same call ID.
// Provider transformers call this before encoding a request.
func (c *Context) Validate() error {
	pending := map[string]bool{}
	for i, msg := range c.Messages {
		for _, content := range msg.Contents {
			switch {
			case content.ToolCall != nil:
				if pending[content.ToolCall.ID] {
					return fmt.Errorf("chat: duplicate pending tool call id %q at message %d", content.ToolCall.ID, i)
				}
				pending[content.ToolCall.ID] = true
			case content.ToolResult != nil:
				id := content.ToolResult.ToolCallID
				if !pending[id] {
					return fmt.Errorf("chat: tool result for unknown or already-resolved call id %q at message %d", id, i)
				}
				delete(pending, id)
			case content.Text != "":
				if len(pending) > 0 {
					return fmt.Errorf("chat: message %d has free text while %d tool call(s) await results", i, len(pending))
				}
			}
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("chat: %d tool call(s) never received a result", len(pending))
	}
	return nil
}
