package common

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/sternelee/forge-agent/chat"
	"github.com/sternelee/forge-agent/retry"
)

// AggregateOptions tunes Aggregate's handling of a single stream.
type AggregateOptions struct {
	// InterruptForXML causes Aggregate to stop folding content and tool-call
	// deltas as soon as a complete <forge_tool_call>...</forge_tool_call>
	// block appears in the accumulated content.
	InterruptForXML bool
	// Deltas, if non-nil, receives a copy of each content and reasoning
	// delta as it streams in. The send blocks until the receiver accepts
	// it or ctx is canceled, mirroring the original implementation's
	// blocking sender.send(...).await - a slow consumer applies
	// backpressure to the fold instead of silently losing deltas.
	Deltas chan<- string
}

var xmlToolCallRe = regexp.MustCompile(`(?s)<forge_tool_call>(.*?)</forge_tool_call>`)

type xmlToolCallPayload struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// extractXMLToolCall returns the first complete <forge_tool_call> block's
// decoded payload, if any.
func extractXMLToolCall(content string) (chat.ToolCallFull, bool) {
	m := xmlToolCallRe.FindStringSubmatch(content)
	if m == nil {
		return chat.ToolCallFull{}, false
	}
	var payload xmlToolCallPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &payload); err != nil {
		return chat.ToolCallFull{}, false
	}
	return chat.ToolCallFull{Name: payload.Name, Arguments: payload.Arguments}, true
}

func sendDelta(ctx context.Context, ch chan<- string, delta string) {
	if ch == nil || delta == "" {
		return
	}
	select {
	case ch <- delta:
	case <-ctx.Done():
	}
}

// Aggregate consumes a stream of partial ChatCompletionMessage events and
// folds them into a single ChatCompletionMessageFull: content and reasoning
// are concatenated in arrival order, tool-call and reasoning parts are
// folded by id, and usage is accumulated additively across events.
//
// If opts.InterruptForXML is set, folding stops as soon as a complete
// <forge_tool_call>...</forge_tool_call> block appears in the accumulated
// content; content is then truncated just past the closing tag and a
// <forge_feedback> trailer is appended, and the embedded call is appended to
// the result's tool calls.
//
// Aggregate returns a retry.EmptyCompletion error if the folded result has
// no content, no tool calls, and no finish reason - a signal to the caller
// that retrying the request is likely to produce a usable response.
func Aggregate(ctx context.Context, stream <-chan chat.ChatCompletionMessage, opts AggregateOptions) (chat.ChatCompletionMessageFull, error) {
	var (
		usage          chat.Usage
		content        strings.Builder
		reasoningText  strings.Builder
		toolPartsByKey = map[string]*chat.ToolCallPart{}
		toolKeyByIndex = map[int]string{}
		toolPartOrder  []string
		reasoningByID  = map[string]*chat.ReasoningFull{}
		reasoningOrder []string
		finishReason   string
		xmlCall        chat.ToolCallFull
		haveXMLCall    bool
		interrupted    bool
	)

	for {
		select {
		case <-ctx.Done():
			return chat.ChatCompletionMessageFull{}, ctx.Err()
		case msg, ok := <-stream:
			if !ok {
				goto done
			}

			if msg.Usage != nil {
				usage.Accumulate(*msg.Usage)
			}
			if msg.FinishReason != "" {
				finishReason = msg.FinishReason
			}

			if interrupted {
				continue
			}

			if msg.Content != "" {
				sendDelta(ctx, opts.Deltas, msg.Content)
				content.WriteString(msg.Content)

				if opts.InterruptForXML {
					if call, ok := extractXMLToolCall(content.String()); ok {
						xmlCall = call
						haveXMLCall = true
						interrupted = true
					}
				}
			}

			if msg.Reasoning != nil {
				sendDelta(ctx, opts.Deltas, msg.Reasoning.Text)
				reasoningText.WriteString(msg.Reasoning.Text)

				id := msg.Reasoning.ID
				if existing, ok := reasoningByID[id]; ok {
					existing.Text += msg.Reasoning.Text
					existing.Summary += msg.Reasoning.Summary
					if msg.Reasoning.Encrypted != "" {
						existing.Encrypted = msg.Reasoning.Encrypted
					}
				} else {
					reasoningByID[id] = &chat.ReasoningFull{
						ID: id, Text: msg.Reasoning.Text,
						Encrypted: msg.Reasoning.Encrypted, Summary: msg.Reasoning.Summary,
					}
					reasoningOrder = append(reasoningOrder, id)
				}
			}

			if msg.ToolCallPart != nil {
				key := msg.ToolCallPart.CallID
				if key == "" {
					// A part without a call id continues the call last seen at its index.
					key = toolKeyByIndex[msg.ToolCallPart.Index]
					if key == "" {
						key = "#" + strconv.Itoa(msg.ToolCallPart.Index)
					}
				}
				toolKeyByIndex[msg.ToolCallPart.Index] = key
				if existing, ok := toolPartsByKey[key]; ok {
					existing.Arguments += msg.ToolCallPart.Arguments
					if msg.ToolCallPart.Name != "" {
						existing.Name = msg.ToolCallPart.Name
					}
					if msg.ToolCallPart.CallID != "" {
						existing.CallID = msg.ToolCallPart.CallID
					}
				} else {
					part := *msg.ToolCallPart
					toolPartsByKey[key] = &part
					toolPartOrder = append(toolPartOrder, key)
				}
			}
		}
	}

done:
	finalContent := content.String()
	if interrupted && haveXMLCall && !strings.HasSuffix(strings.TrimSpace(finalContent), "</forge_tool_call>") {
		if idx := strings.LastIndex(finalContent, "</forge_tool_call>"); idx >= 0 {
			finalContent = finalContent[:idx+len("</forge_tool_call>")]
			finalContent += "\n<forge_feedback>Response interrupted by tool result. Use only one tool at the end of the message</forge_feedback>"
		}
	}

	toolCalls := make([]chat.ToolCallFull, 0, len(toolPartOrder))
	for _, key := range toolPartOrder {
		part := toolPartsByKey[key]
		full := chat.ToolCallFull{CallID: part.CallID, Name: part.Name, Arguments: json.RawMessage(part.Arguments)}
		if !json.Valid(full.Arguments) {
			return chat.ChatCompletionMessageFull{}, retry.Retryable(&malformedToolCallError{CallID: full.CallID, Raw: part.Arguments})
		}
		toolCalls = append(toolCalls, full)
	}
	if haveXMLCall {
		toolCalls = append(toolCalls, xmlCall)
	}

	reasoning := make([]chat.ReasoningFull, 0, len(reasoningOrder))
	for _, id := range reasoningOrder {
		reasoning = append(reasoning, *reasoningByID[id])
	}

	if strings.TrimSpace(finalContent) == "" && len(toolCalls) == 0 && finishReason == "" {
		return chat.ChatCompletionMessageFull{}, retry.EmptyCompletion(nil)
	}

	return chat.ChatCompletionMessageFull{
		Content:      finalContent,
		ToolCalls:    toolCalls,
		Reasoning:    reasoning,
		Usage:        usage,
		FinishReason: finishReason,
	}, nil
}

type malformedToolCallError struct {
	CallID string
	Raw    string
}

func (e *malformedToolCallError) Error() string {
	return "common: tool call " + e.CallID + " has malformed argument JSON: " + e.Raw
}

