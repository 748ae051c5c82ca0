package bedrock

import (
	"testing"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateEventContentBlockDeltaText(t *testing.T) {
	ev := &brtypes.ConverseStreamOutputMemberContentBlockDelta{
		Value: brtypes.ContentBlockDeltaEvent{
			Delta: &brtypes.ContentBlockDeltaMemberText{Value: "hello"},
		},
	}
	msg, ok := translateEvent(ev)
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Content)
}

func TestTranslateEventContentBlockStartToolUse(t *testing.T) {
	id := "call_123"
	name := "get_weather"
	ev := &brtypes.ConverseStreamOutputMemberContentBlockStart{
		Value: brtypes.ContentBlockStartEvent{
			Start: &brtypes.ContentBlockStartMemberToolUse{
				Value: brtypes.ToolUseBlockStart{ToolUseId: &id, Name: &name},
			},
		},
	}
	msg, ok := translateEvent(ev)
	require.True(t, ok)
	require.NotNil(t, msg.ToolCallPart)
	assert.Equal(t, "call_123", msg.ToolCallPart.CallID)
	assert.Equal(t, "get_weather", msg.ToolCallPart.Name)
}

func TestTranslateEventMessageStopMapsFinishReason(t *testing.T) {
	ev := &brtypes.ConverseStreamOutputMemberMessageStop{
		Value: brtypes.MessageStopEvent{StopReason: brtypes.StopReasonToolUse},
	}
	msg, ok := translateEvent(ev)
	require.True(t, ok)
	assert.Equal(t, "tool_calls", msg.FinishReason)
}

func TestTranslateEventMetadataSumsCacheTokens(t *testing.T) {
	in, out, tot, cr, cw := int32(800), int32(200), int32(1000), int32(50), int32(30)
	ev := &brtypes.ConverseStreamOutputMemberMetadata{
		Value: brtypes.ConverseStreamMetadataEvent{
			Usage: &brtypes.TokenUsage{
				InputTokens: &in, OutputTokens: &out, TotalTokens: &tot,
				CacheReadInputTokens: &cr, CacheWriteInputTokens: &cw,
			},
		},
	}
	msg, ok := translateEvent(ev)
	require.True(t, ok)
	require.NotNil(t, msg.Usage)
	assert.Equal(t, 80, msg.Usage.CachedTokens)
	assert.Equal(t, 1000, msg.Usage.TotalTokens)
}
