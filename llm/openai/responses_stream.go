package openai

import (
	"fmt"

	"github.com/openai/openai-go/responses"

	"github.com/sternelee/forge-agent/chat"
)

// ResponsesStreamState tracks per-stream bookkeeping needed to fold Responses
// API events that don't carry their own call_id, mirroring the original
// provider's output_index -> (call_id, name) table.
type ResponsesStreamState struct {
	outputIndexToCall map[int64]responsesCallRef
}

type responsesCallRef struct {
	callID string
	name   string
}

// NewResponsesStreamState returns a fresh fold state for one response stream.
func NewResponsesStreamState() *ResponsesStreamState {
	return &ResponsesStreamState{outputIndexToCall: make(map[int64]responsesCallRef)}
}

// FoldResponsesEvent translates one Responses API SSE event into zero, one,
// or several ChatCompletionMessage deltas, following the same event.Type-switch
// idiom the teacher's streaming Chat Completions/Responses client already
// uses. A response.completed/incomplete event carrying N parallel
// function_call items folds into N distinct ToolCallPart messages (plus any
// content/reasoning/usage messages) rather than one message overwritten N
// times, since ChatCompletionMessage carries only a single tool-call part.
// The returned slice is empty when the event carries nothing worth emitting
// (e.g. a done marker whose content was already sent via deltas).
func FoldResponsesEvent(state *ResponsesStreamState, event responses.ResponseStreamEventUnion) ([]chat.ChatCompletionMessage, error) {
	switch event.Type {
	case "response.output_text.delta":
		if delta := event.Delta.OfString; delta != "" {
			return []chat.ChatCompletionMessage{{Content: delta}}, nil
		}
		return nil, nil

	case "response.reasoning.delta", "response.reasoning_text.delta":
		if delta := event.Delta.OfString; delta != "" {
			return []chat.ChatCompletionMessage{{
				Reasoning: &chat.ReasoningPart{Text: delta},
			}}, nil
		}
		return nil, nil

	case "response.reasoning_summary.delta", "response.reasoning_summary_text.delta":
		if delta := event.Delta.OfString; delta != "" {
			return []chat.ChatCompletionMessage{{
				Reasoning: &chat.ReasoningPart{Summary: delta},
			}}, nil
		}
		return nil, nil

	case "response.output_item.added":
		return foldOutputItemAdded(state, event)

	case "response.function_call_arguments.delta":
		callID, name := state.lookup(event.OutputIndex)
		return []chat.ChatCompletionMessage{{
			ToolCallPart: &chat.ToolCallPart{
				Index:     int(event.OutputIndex),
				CallID:    callID,
				Name:      name,
				Arguments: event.Delta.OfString,
			},
		}}, nil

	case "response.function_call_arguments.done":
		// arguments already streamed via deltas
		return nil, nil

	case "response.completed":
		return foldCompletedResponse(event.Response)

	case "response.incomplete":
		msgs, err := foldCompletedResponse(event.Response)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			msgs[len(msgs)-1].FinishReason = "length"
		}
		return msgs, nil

	case "response.failed":
		return nil, fmt.Errorf("upstream response failed: %s", event.Response.Error.Message)

	case "error":
		return nil, fmt.Errorf("upstream error: %s", event.Message)

	default:
		return nil, nil
	}
}

func (s *ResponsesStreamState) lookup(outputIndex int64) (callID, name string) {
	ref, ok := s.outputIndexToCall[outputIndex]
	if !ok {
		return fmt.Sprintf("output_%d", outputIndex), ""
	}
	return ref.callID, ref.name
}

// foldOutputItemAdded records the (call_id, name) for a newly-opened function
// call item so later argument deltas can be attributed to it, and emits an
// initial tool-call-part only if the item already carries non-empty
// arguments. Reasoning items don't emit content until the response completes.
func foldOutputItemAdded(state *ResponsesStreamState, event responses.ResponseStreamEventUnion) ([]chat.ChatCompletionMessage, error) {
	item := event.Item
	if item.Type != "function_call" {
		return nil, nil
	}

	state.outputIndexToCall[event.OutputIndex] = responsesCallRef{callID: item.CallID, name: item.Name}

	if item.Arguments == "" {
		return nil, nil
	}
	return []chat.ChatCompletionMessage{{
		ToolCallPart: &chat.ToolCallPart{
			Index:     int(event.OutputIndex),
			CallID:    item.CallID,
			Name:      item.Name,
			Arguments: item.Arguments,
		},
	}}, nil
}

// foldCompletedResponse folds a full Response object (the terminal payload on
// response.completed/response.incomplete) into a sequence of
// ChatCompletionMessage deltas: one message carrying the concatenated
// output_text (if any), one ToolCallPart message per function_call item in
// the order they appear (so parallel tool calls all survive common.Aggregate's
// fold instead of one overwriting another), one message carrying the
// concatenated reasoning text/summary (if any), and a terminal message
// carrying FinishReason and Usage.
func foldCompletedResponse(resp responses.Response) ([]chat.ChatCompletionMessage, error) {
	var msgs []chat.ChatCompletionMessage

	var content, reasoningText string
	toolCallIdx := 0
	sawToolCall := false

	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				content += c.OfOutputText.Text
			}
		case "function_call":
			sawToolCall = true
			msgs = append(msgs, chat.ChatCompletionMessage{
				ToolCallPart: &chat.ToolCallPart{
					Index:     toolCallIdx,
					CallID:    item.CallID,
					Name:      item.Name,
					Arguments: item.Arguments,
				},
			})
			toolCallIdx++
		case "reasoning":
			for _, c := range item.Content {
				reasoningText += c.Text
			}
			for _, s := range item.Summary {
				reasoningText += s.Text
			}
		}
	}

	if content != "" {
		msgs = append([]chat.ChatCompletionMessage{{Content: content}}, msgs...)
	}
	if reasoningText != "" {
		msgs = append(msgs, chat.ChatCompletionMessage{Reasoning: &chat.ReasoningPart{Text: reasoningText}})
	}

	finishReason := "stop"
	if sawToolCall {
		finishReason = "tool_calls"
	}

	msgs = append(msgs, chat.ChatCompletionMessage{
		FinishReason: finishReason,
		Usage: &chat.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
			CachedTokens:     int(resp.Usage.InputTokensDetails.CachedTokens),
		},
	})

	return msgs, nil
}
