// Package hook provides composable lifecycle handlers that observe and can
// mutate conversation state at fixed points during a turn: start, end,
// request, response, and around each tool call.
package hook

import (
	"context"

	"github.com/sternelee/forge-agent/chat"
)

// Conversation is the mutable state visible to handlers during dispatch.
// Handlers in the same Hook run sequentially and see each other's edits.
type Conversation struct {
	AgentID string
	ModelID string
	Context *chat.Context
}

// StartEvent fires when conversation processing starts.
type StartEvent struct{}

// EndEvent fires when conversation processing ends.
type EndEvent struct{}

// RequestEvent fires when a request is made to the LLM.
type RequestEvent struct {
	RequestCount int
}

// ResponseEvent fires when a full response is received from the LLM.
type ResponseEvent struct {
	Message chat.ChatCompletionMessageFull
}

// ToolcallStartEvent fires when a tool call starts executing.
type ToolcallStartEvent struct {
	ToolCall chat.ToolCallFull
}

// ToolcallEndEvent fires when a tool call finishes executing.
type ToolcallEndEvent struct {
	Result chat.ToolResult
}

// Handler reacts to a single typed lifecycle event. It may mutate conv.
type Handler[E any] func(ctx context.Context, event E, conv *Conversation) error

// NoOpHandler does nothing and never errors. A nil slot of a Hook behaves
// the same way at dispatch time.
func NoOpHandler[E any](ctx context.Context, event E, conv *Conversation) error {
	return nil
}

// And combines h with other, returning a handler that runs h then other in
// sequence, short-circuiting (and skipping other) if h returns an error.
func (h Handler[E]) And(other Handler[E]) Handler[E] {
	if h == nil {
		return other
	}
	if other == nil {
		return h
	}
	return func(ctx context.Context, event E, conv *Conversation) error {
		if err := h(ctx, event, conv); err != nil {
			return err
		}
		return other(ctx, event, conv)
	}
}

// Hook bundles a handler for each lifecycle event. The zero value runs no
// handlers (every slot is nil, treated as a no-op at dispatch time).
type Hook struct {
	Start         Handler[StartEvent]
	End           Handler[EndEvent]
	Request       Handler[RequestEvent]
	Response      Handler[ResponseEvent]
	ToolcallStart Handler[ToolcallStartEvent]
	ToolcallEnd   Handler[ToolcallEndEvent]
}

// Zip combines h with other, running both hooks' handlers in sequence for
// every event slot: h's handler first, then other's.
func (h Hook) Zip(other Hook) Hook {
	return Hook{
		Start:         h.Start.And(other.Start),
		End:           h.End.And(other.End),
		Request:       h.Request.And(other.Request),
		Response:      h.Response.And(other.Response),
		ToolcallStart: h.ToolcallStart.And(other.ToolcallStart),
		ToolcallEnd:   h.ToolcallEnd.And(other.ToolcallEnd),
	}
}

func dispatch[E any](ctx context.Context, h Handler[E], event E, conv *Conversation) error {
	if h == nil {
		return nil
	}
	return h(ctx, event, conv)
}

// DispatchStart invokes h.Start if set.
func (h Hook) DispatchStart(ctx context.Context, conv *Conversation) error {
	return dispatch(ctx, h.Start, StartEvent{}, conv)
}

// DispatchEnd invokes h.End if set.
func (h Hook) DispatchEnd(ctx context.Context, conv *Conversation) error {
	return dispatch(ctx, h.End, EndEvent{}, conv)
}

// DispatchRequest invokes h.Request if set.
func (h Hook) DispatchRequest(ctx context.Context, e RequestEvent, conv *Conversation) error {
	return dispatch(ctx, h.Request, e, conv)
}

// DispatchResponse invokes h.Response if set.
func (h Hook) DispatchResponse(ctx context.Context, e ResponseEvent, conv *Conversation) error {
	return dispatch(ctx, h.Response, e, conv)
}

// DispatchToolcallStart invokes h.ToolcallStart if set.
func (h Hook) DispatchToolcallStart(ctx context.Context, e ToolcallStartEvent, conv *Conversation) error {
	return dispatch(ctx, h.ToolcallStart, e, conv)
}

// DispatchToolcallEnd invokes h.ToolcallEnd if set.
func (h Hook) DispatchToolcallEnd(ctx context.Context, e ToolcallEndEvent, conv *Conversation) error {
	return dispatch(ctx, h.ToolcallEnd, e, conv)
}
