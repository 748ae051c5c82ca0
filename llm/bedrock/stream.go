package bedrock

import (
	"context"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/sternelee/forge-agent/chat"
)

// EventStream is the subset of *bedrockruntime.ConverseStreamEventStream
// this package depends on, letting tests substitute a fake.
type EventStream interface {
	Events() <-chan brtypes.ConverseStreamOutput
	Close() error
	Err() error
}

// RelayEvents translates a Bedrock ConverseStream event channel into
// chat.ChatCompletionMessage deltas, sending each onto out until the event
// stream closes or ctx is cancelled. The caller owns closing out.
func RelayEvents(ctx context.Context, stream EventStream, out chan<- chat.ChatCompletionMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-stream.Events():
			if !ok {
				return stream.Err()
			}
			msg, ok := translateEvent(event)
			if !ok {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func translateEvent(event brtypes.ConverseStreamOutput) (chat.ChatCompletionMessage, bool) {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		return translateDelta(ev.Value)
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		return translateStart(ev.Value)
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return chat.ChatCompletionMessage{FinishReason: translateStopReason(ev.Value.StopReason)}, true
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return chat.ChatCompletionMessage{}, false
		}
		u := ev.Value.Usage
		cached := int32Value(u.CacheReadInputTokens) + int32Value(u.CacheWriteInputTokens)
		return chat.ChatCompletionMessage{Usage: &chat.Usage{
			PromptTokens:     int32Value(u.InputTokens),
			CompletionTokens: int32Value(u.OutputTokens),
			TotalTokens:      int32Value(u.TotalTokens),
			CachedTokens:     cached,
		}}, true
	default:
		return chat.ChatCompletionMessage{}, false
	}
}

func translateDelta(ev brtypes.ContentBlockDeltaEvent) (chat.ChatCompletionMessage, bool) {
	idx := int(int32Value(ev.ContentBlockIndex))
	switch delta := ev.Delta.(type) {
	case *brtypes.ContentBlockDeltaMemberText:
		if delta.Value == "" {
			return chat.ChatCompletionMessage{}, false
		}
		return chat.ChatCompletionMessage{Content: delta.Value}, true
	case *brtypes.ContentBlockDeltaMemberToolUse:
		if delta.Value.Input == nil {
			return chat.ChatCompletionMessage{}, false
		}
		return chat.ChatCompletionMessage{ToolCallPart: &chat.ToolCallPart{
			Index:     idx,
			Arguments: *delta.Value.Input,
		}}, true
	case *brtypes.ContentBlockDeltaMemberReasoningContent:
		switch r := delta.Value.(type) {
		case *brtypes.ReasoningContentBlockDeltaMemberText:
			if r.Value == "" {
				return chat.ChatCompletionMessage{}, false
			}
			return chat.ChatCompletionMessage{Reasoning: &chat.ReasoningPart{Text: r.Value}}, true
		case *brtypes.ReasoningContentBlockDeltaMemberSignature:
			if r.Value == "" {
				return chat.ChatCompletionMessage{}, false
			}
			return chat.ChatCompletionMessage{Reasoning: &chat.ReasoningPart{Encrypted: r.Value}}, true
		default:
			return chat.ChatCompletionMessage{}, false
		}
	default:
		return chat.ChatCompletionMessage{}, false
	}
}

func translateStart(ev brtypes.ContentBlockStartEvent) (chat.ChatCompletionMessage, bool) {
	idx := int(int32Value(ev.ContentBlockIndex))
	toolUse, ok := ev.Start.(*brtypes.ContentBlockStartMemberToolUse)
	if !ok {
		return chat.ChatCompletionMessage{}, false
	}
	part := &chat.ToolCallPart{Index: idx}
	if toolUse.Value.ToolUseId != nil {
		part.CallID = *toolUse.Value.ToolUseId
	}
	if toolUse.Value.Name != nil {
		part.Name = *toolUse.Value.Name
	}
	return chat.ChatCompletionMessage{ToolCallPart: part}, true
}

func translateStopReason(reason brtypes.StopReason) string {
	switch reason {
	case brtypes.StopReasonEndTurn:
		return "stop"
	case brtypes.StopReasonMaxTokens:
		return "length"
	case brtypes.StopReasonToolUse:
		return "tool_calls"
	case brtypes.StopReasonContentFiltered:
		return "content_filter"
	default:
		return "stop"
	}
}

func int32Value(p *int32) int {
	if p == nil {
		return 0
	}
	return int(*p)
}
