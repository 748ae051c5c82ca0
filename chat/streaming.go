package chat

import "encoding/json"

// ToolCallFull is a fully-formed tool call: a complete request from the
// assistant to invoke a named tool with a JSON-encoded argument object.
type ToolCallFull struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallPart is one streamed fragment of an in-progress tool call. Parts
// are folded together by (CallID, Index) as they arrive; Arguments is a
// partial JSON string that accumulates across parts for the same call.
type ToolCallPart struct {
	Index     int    `json:"index"`
	CallID    string `json:"call_id,omitzero"`
	Name      string `json:"name,omitzero"`
	Arguments string `json:"arguments,omitzero"`
}

// ReasoningFull is a complete reasoning/thinking block attached to a
// response, keyed by ID so providers that interleave reasoning with
// multiple tool calls (e.g. the OpenAI Responses API) can associate the
// right reasoning block with the right output item.
type ReasoningFull struct {
	ID        string `json:"id,omitzero"`
	Text      string `json:"text,omitzero"`
	Encrypted string `json:"encrypted_content,omitzero"`
	Summary   string `json:"summary_text,omitzero"`
}

// ReasoningPart is one streamed fragment of a reasoning block, folded by ID.
type ReasoningPart struct {
	ID        string `json:"id,omitzero"`
	Text      string `json:"text,omitzero"`
	Encrypted string `json:"encrypted_content,omitzero"`
	Summary   string `json:"summary_text,omitzero"`
}

// Usage tracks token accounting for a single exchange with the model.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CachedTokens     int `json:"cached_tokens,omitzero"`
	// Cost is the exchange's estimated cost in USD, when the provider
	// reports pricing or it can be derived from a known per-token rate.
	// Zero means unknown, not free.
	Cost *float64 `json:"cost,omitzero"`
}

// Accumulate adds other's counts into u in place. Cost accumulates only
// when at least one side reports it, so an unpriced provider doesn't turn
// a priced one's running total back into "unknown".
func (u *Usage) Accumulate(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.CachedTokens += other.CachedTokens
	if other.Cost != nil {
		sum := other.Cost
		if u.Cost != nil {
			total := *u.Cost + *other.Cost
			sum = &total
		}
		u.Cost = sum
	}
}

// ChatCompletionMessage is one streamed event from a provider: either a
// content delta, a tool-call part, a reasoning part, or a terminal usage /
// finish-reason signal. Exactly one of the payload fields is normally set
// per event, mirroring how providers emit SSE deltas.
type ChatCompletionMessage struct {
	Content      string         `json:"content,omitzero"`
	ToolCallPart *ToolCallPart  `json:"tool_call_part,omitzero"`
	Reasoning    *ReasoningPart `json:"reasoning,omitzero"`
	Usage        *Usage         `json:"usage,omitzero"`
	FinishReason string         `json:"finish_reason,omitzero"`
}

// ChatCompletionMessageFull is the folded result of consuming a full stream
// of ChatCompletionMessage events: complete content, complete tool calls,
// complete reasoning blocks, and the accumulated usage for the exchange.
type ChatCompletionMessageFull struct {
	Content      string          `json:"content"`
	ToolCalls    []ToolCallFull  `json:"tool_calls,omitzero"`
	Reasoning    []ReasoningFull `json:"reasoning,omitzero"`
	Usage        Usage           `json:"usage"`
	FinishReason string          `json:"finish_reason,omitzero"`
}
