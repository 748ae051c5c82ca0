package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sternelee/forge-agent/chat"
)

func TestToChatCompletionParamsMapsSystemUserAssistant(t *testing.T) {
	ctx := &chat.Context{Messages: []chat.ContextMessage{
		{Role: "system", Contents: []chat.Content{{Text: "be helpful"}}},
		{Role: chat.UserRole, Contents: []chat.Content{{Text: "hi"}}},
	}}
	params, err := ToChatCompletionParams(ctx, "gpt-4o")
	require.NoError(t, err)
	assert.Len(t, params.Messages, 2)
}

func TestToChatCompletionParamsPacksImagesAsContentParts(t *testing.T) {
	ctx := &chat.Context{Messages: []chat.ContextMessage{
		{
			Role:     chat.UserRole,
			Contents: []chat.Content{{Text: "what is this"}},
			Images:   []chat.ImageContent{{MimeType: "image/png", Data: "Zm9v"}},
		},
	}}
	params, err := ToChatCompletionParams(ctx, "gpt-4o")
	require.NoError(t, err)
	require.Len(t, params.Messages, 1)
	require.NotNil(t, params.Messages[0].OfUser)
}

func TestToChatCompletionParamsEmitsOneToolMessagePerResult(t *testing.T) {
	ctx := &chat.Context{Messages: []chat.ContextMessage{
		{Role: chat.ToolRole, Contents: []chat.Content{
			{ToolResult: &chat.ToolResult{ToolCallID: "call_1", Content: "ok"}},
			{ToolResult: &chat.ToolResult{ToolCallID: "call_2", Content: "also ok"}},
		}},
	}}
	params, err := ToChatCompletionParams(ctx, "gpt-4o")
	require.NoError(t, err)
	assert.Len(t, params.Messages, 2)
}

func TestToChatCompletionParamsRejectsEmptyUserMessage(t *testing.T) {
	ctx := &chat.Context{Messages: []chat.ContextMessage{
		{Role: chat.UserRole},
	}}
	_, err := ToChatCompletionParams(ctx, "gpt-4o")
	assert.Error(t, err)
}

func TestToChatCompletionParamsIncludesAssistantToolCalls(t *testing.T) {
	ctx := &chat.Context{Messages: []chat.ContextMessage{
		{Role: chat.UserRole, Contents: []chat.Content{{Text: "run it"}}},
		{Role: chat.AssistantRole, Contents: []chat.Content{
			{ToolCall: &chat.ToolCall{ID: "call_1", Name: "shell", Arguments: []byte(`{}`)}},
		}},
		{Role: chat.ToolRole, Contents: []chat.Content{
			{ToolResult: &chat.ToolResult{ToolCallID: "call_1", Content: "done"}},
		}},
	}}
	params, err := ToChatCompletionParams(ctx, "gpt-4o")
	require.NoError(t, err)
	require.Len(t, params.Messages, 3)
	require.NotNil(t, params.Messages[1].OfAssistant)
	assert.Len(t, params.Messages[1].OfAssistant.ToolCalls, 1)
}
