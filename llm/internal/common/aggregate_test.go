package common

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sternelee/forge-agent/chat"
)

func feed(events []chat.ChatCompletionMessage) <-chan chat.ChatCompletionMessage {
	ch := make(chan chat.ChatCompletionMessage, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func TestAggregateUsageAccumulation(t *testing.T) {
	events := []chat.ChatCompletionMessage{
		{Usage: &chat.Usage{PromptTokens: 1000, TotalTokens: 1000, CachedTokens: 300}},
		{Content: "Hello "},
		{Content: "world!"},
		{Usage: &chat.Usage{CompletionTokens: 50, TotalTokens: 50}, FinishReason: "stop"},
	}

	full, err := Aggregate(context.Background(), feed(events), AggregateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Hello world!", full.Content)
	assert.Equal(t, chat.Usage{PromptTokens: 1000, CompletionTokens: 50, TotalTokens: 1050, CachedTokens: 300}, full.Usage)
	assert.Equal(t, "stop", full.FinishReason)
}

func TestAggregateXMLInterruptionPreservesFinalUsage(t *testing.T) {
	block := "<forge_tool_call>\n{\"name\": \"test_tool\", \"arguments\": {\"arg\": \"value\"}}\n</forge_tool_call>"
	events := []chat.ChatCompletionMessage{
		{Content: block},
		{Content: " ignored"},
		{Usage: &chat.Usage{PromptTokens: 5, CompletionTokens: 15, TotalTokens: 20}},
	}

	full, err := Aggregate(context.Background(), feed(events), AggregateOptions{InterruptForXML: true})
	require.NoError(t, err)
	assert.Equal(t, block, full.Content)
	require.Len(t, full.ToolCalls, 1)
	assert.Equal(t, "test_tool", full.ToolCalls[0].Name)
	assert.JSONEq(t, `{"arg":"value"}`, string(full.ToolCalls[0].Arguments))
	assert.Equal(t, chat.Usage{PromptTokens: 5, CompletionTokens: 15, TotalTokens: 20}, full.Usage)
}

func TestAggregateFoldsStreamedToolCallPartsByCallID(t *testing.T) {
	events := []chat.ChatCompletionMessage{
		{ToolCallPart: &chat.ToolCallPart{CallID: "call_1", Name: "write", Arguments: `{"path":`}},
		{ToolCallPart: &chat.ToolCallPart{CallID: "call_1", Arguments: `"/tmp/a.go"}`}},
	}

	full, err := Aggregate(context.Background(), feed(events), AggregateOptions{})
	require.NoError(t, err)
	require.Len(t, full.ToolCalls, 1)
	assert.Equal(t, "write", full.ToolCalls[0].Name)
	var args map[string]string
	require.NoError(t, json.Unmarshal(full.ToolCalls[0].Arguments, &args))
	assert.Equal(t, "/tmp/a.go", args["path"])
}

func TestAggregateEmptyCompletionIsRetryable(t *testing.T) {
	_, err := Aggregate(context.Background(), feed(nil), AggregateOptions{})
	require.Error(t, err)
}

func TestAggregateStopsFoldingAfterInterruption(t *testing.T) {
	block := "<forge_tool_call>\n{\"name\": \"x\", \"arguments\": {}}\n</forge_tool_call>"
	events := []chat.ChatCompletionMessage{
		{Content: block},
		{ToolCallPart: &chat.ToolCallPart{CallID: "call_2", Name: "ignored", Arguments: `{}`}},
	}

	full, err := Aggregate(context.Background(), feed(events), AggregateOptions{InterruptForXML: true})
	require.NoError(t, err)
	require.Len(t, full.ToolCalls, 1)
	assert.Equal(t, "x", full.ToolCalls[0].Name)
}
