package openai

import (
	"testing"

	"github.com/openai/openai-go/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deltaEvent(eventType, delta string) responses.ResponseStreamEventUnion {
	return responses.ResponseStreamEventUnion{
		Type:  eventType,
		Delta: responses.ResponseStreamEventUnionDelta{OfString: delta},
	}
}

func TestFoldResponsesEventOutputTextDelta(t *testing.T) {
	state := NewResponsesStreamState()
	msgs, err := FoldResponsesEvent(state, deltaEvent("response.output_text.delta", "hello"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestFoldResponsesEventReasoningDelta(t *testing.T) {
	state := NewResponsesStreamState()
	msgs, err := FoldResponsesEvent(state, deltaEvent("response.reasoning_text.delta", "thinking..."))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Reasoning)
	assert.Equal(t, "thinking...", msgs[0].Reasoning.Text)
}

func TestFoldResponsesEventFunctionCallAddedWithArguments(t *testing.T) {
	state := NewResponsesStreamState()
	event := responses.ResponseStreamEventUnion{
		Type:        "response.output_item.added",
		OutputIndex: 0,
		Item: responses.ResponseOutputItemUnion{
			Type:      "function_call",
			CallID:    "call_123",
			Name:      "shell",
			Arguments: `{"cmd":"echo"}`,
		},
	}
	msgs, err := FoldResponsesEvent(state, event)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].ToolCallPart)
	assert.Equal(t, "call_123", msgs[0].ToolCallPart.CallID)
	assert.Equal(t, "shell", msgs[0].ToolCallPart.Name)
	assert.Equal(t, `{"cmd":"echo"}`, msgs[0].ToolCallPart.Arguments)
}

func TestFoldResponsesEventFunctionCallAddedWithoutArgumentsSuppressed(t *testing.T) {
	state := NewResponsesStreamState()
	event := responses.ResponseStreamEventUnion{
		Type:        "response.output_item.added",
		OutputIndex: 0,
		Item:        responses.ResponseOutputItemUnion{Type: "function_call", CallID: "call_123", Name: "shell"},
	}
	msgs, err := FoldResponsesEvent(state, event)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFoldResponsesEventReasoningAddedSuppressed(t *testing.T) {
	state := NewResponsesStreamState()
	event := responses.ResponseStreamEventUnion{
		Type:        "response.output_item.added",
		OutputIndex: 0,
		Item:        responses.ResponseOutputItemUnion{Type: "reasoning", ID: "reasoning_1"},
	}
	msgs, err := FoldResponsesEvent(state, event)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFoldResponsesEventFunctionCallArgumentsDeltaUsesRecordedCallID(t *testing.T) {
	state := NewResponsesStreamState()
	added := responses.ResponseStreamEventUnion{
		Type:        "response.output_item.added",
		OutputIndex: 0,
		Item:        responses.ResponseOutputItemUnion{Type: "function_call", CallID: "call_123", Name: "shell"},
	}
	_, err := FoldResponsesEvent(state, added)
	require.NoError(t, err)

	delta := responses.ResponseStreamEventUnion{
		Type:        "response.function_call_arguments.delta",
		OutputIndex: 0,
		Delta:       responses.ResponseStreamEventUnionDelta{OfString: `{"cmd":"echo"}`},
	}
	msgs, err := FoldResponsesEvent(state, delta)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].ToolCallPart)
	assert.Equal(t, "call_123", msgs[0].ToolCallPart.CallID)
	assert.Equal(t, "shell", msgs[0].ToolCallPart.Name)
	assert.Equal(t, `{"cmd":"echo"}`, msgs[0].ToolCallPart.Arguments)
}

func TestFoldResponsesEventFunctionCallArgumentsDeltaUnknownIndexFallsBack(t *testing.T) {
	state := NewResponsesStreamState()
	delta := responses.ResponseStreamEventUnion{
		Type:        "response.function_call_arguments.delta",
		OutputIndex: 999,
		Delta:       responses.ResponseStreamEventUnionDelta{OfString: `{"cmd":"echo"}`},
	}
	msgs, err := FoldResponsesEvent(state, delta)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].ToolCallPart)
	assert.Equal(t, "output_999", msgs[0].ToolCallPart.CallID)
	assert.Empty(t, msgs[0].ToolCallPart.Name)
}

func TestFoldResponsesEventFunctionCallArgumentsDoneSuppressed(t *testing.T) {
	state := NewResponsesStreamState()
	done := responses.ResponseStreamEventUnion{Type: "response.function_call_arguments.done", OutputIndex: 0}
	msgs, err := FoldResponsesEvent(state, done)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFoldResponsesEventCompletedMapsTextAndFinishReason(t *testing.T) {
	state := NewResponsesStreamState()
	event := responses.ResponseStreamEventUnion{
		Type: "response.completed",
		Response: responses.Response{
			Output: []responses.ResponseOutputItemUnion{
				{
					Type: "message",
					Content: []responses.ResponseOutputMessageContentUnion{
						{OfOutputText: responses.ResponseOutputTextParam{Text: "Final message"}},
					},
				},
			},
		},
	}
	msgs, err := FoldResponsesEvent(state, event)
	require.NoError(t, err)
	require.Len(t, msgs, 2) // content message + terminal finish/usage message
	assert.Equal(t, "Final message", msgs[0].Content)
	assert.Equal(t, "stop", msgs[len(msgs)-1].FinishReason)
}

func TestFoldResponsesEventCompletedWithFunctionCallSetsToolCallsFinishReason(t *testing.T) {
	state := NewResponsesStreamState()
	event := responses.ResponseStreamEventUnion{
		Type: "response.completed",
		Response: responses.Response{
			Output: []responses.ResponseOutputItemUnion{
				{Type: "function_call", CallID: "call_123", Name: "shell", Arguments: `{"cmd":"echo hi"}`},
			},
		},
	}
	msgs, err := FoldResponsesEvent(state, event)
	require.NoError(t, err)
	require.Len(t, msgs, 2) // tool-call message + terminal finish/usage message
	require.NotNil(t, msgs[0].ToolCallPart)
	assert.Equal(t, "call_123", msgs[0].ToolCallPart.CallID)
	assert.Equal(t, "tool_calls", msgs[len(msgs)-1].FinishReason)
}

// TestFoldResponsesEventCompletedWithParallelFunctionCallsPreservesAll pins the
// fix for the data-loss bug where a completed response carrying 2+ parallel
// function_call items folded into a single ChatCompletionMessage whose
// ToolCallPart field got overwritten by each iteration, silently dropping all
// but the last call.
func TestFoldResponsesEventCompletedWithParallelFunctionCallsPreservesAll(t *testing.T) {
	state := NewResponsesStreamState()
	event := responses.ResponseStreamEventUnion{
		Type: "response.completed",
		Response: responses.Response{
			Output: []responses.ResponseOutputItemUnion{
				{Type: "function_call", CallID: "call_1", Name: "read", Arguments: `{"path":"a.go"}`},
				{Type: "function_call", CallID: "call_2", Name: "read", Arguments: `{"path":"b.go"}`},
				{Type: "function_call", CallID: "call_3", Name: "read", Arguments: `{"path":"c.go"}`},
			},
		},
	}
	msgs, err := FoldResponsesEvent(state, event)
	require.NoError(t, err)

	var calls []string
	for _, m := range msgs {
		if m.ToolCallPart != nil {
			calls = append(calls, m.ToolCallPart.CallID)
		}
	}
	assert.Equal(t, []string{"call_1", "call_2", "call_3"}, calls, "all three parallel tool calls must survive the fold, not just the last one")
	assert.Equal(t, "tool_calls", msgs[len(msgs)-1].FinishReason)
}

func TestFoldResponsesEventIncompleteMapsLengthFinishReason(t *testing.T) {
	state := NewResponsesStreamState()
	event := responses.ResponseStreamEventUnion{
		Type: "response.incomplete",
		Response: responses.Response{
			Output: []responses.ResponseOutputItemUnion{
				{
					Type: "message",
					Content: []responses.ResponseOutputMessageContentUnion{
						{OfOutputText: responses.ResponseOutputTextParam{Text: "Partial message"}},
					},
				},
			},
		},
	}
	msgs, err := FoldResponsesEvent(state, event)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "Partial message", msgs[0].Content)
	assert.Equal(t, "length", msgs[len(msgs)-1].FinishReason)
}

func TestFoldResponsesEventFailedReturnsError(t *testing.T) {
	state := NewResponsesStreamState()
	event := responses.ResponseStreamEventUnion{
		Type: "response.failed",
		Response: responses.Response{
			Error: responses.ResponseError{Message: "Rate limit exceeded"},
		},
	}
	_, err := FoldResponsesEvent(state, event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rate limit exceeded")
}

func TestFoldResponsesEventErrorReturnsError(t *testing.T) {
	state := NewResponsesStreamState()
	event := responses.ResponseStreamEventUnion{Type: "error", Message: "Connection error"}
	_, err := FoldResponsesEvent(state, event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Connection error")
}
