package bedrock

import (
	"context"
	"errors"
	"testing"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sternelee/forge-agent/chat"
	"github.com/sternelee/forge-agent/retry"
)

type fakeAPIError struct{ code string }

func (e *fakeAPIError) Error() string             { return e.code }
func (e *fakeAPIError) ErrorCode() string          { return e.code }
func (e *fakeAPIError) ErrorMessage() string       { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestClassifyErrorMarksThrottlingRetryable(t *testing.T) {
	err := classifyError(&fakeAPIError{code: "ThrottlingException"})
	var re *retry.Error
	assert.True(t, errors.As(err, &re))
}

func TestClassifyErrorLeavesValidationUnretryable(t *testing.T) {
	err := classifyError(&fakeAPIError{code: "ValidationException"})
	var re *retry.Error
	assert.False(t, errors.As(err, &re))
}

func TestClassifyErrorNil(t *testing.T) {
	assert.NoError(t, classifyError(nil))
}

type fakeEventStream struct {
	events chan brtypes.ConverseStreamOutput
	err    error
}

func (s *fakeEventStream) Events() <-chan brtypes.ConverseStreamOutput { return s.events }
func (s *fakeEventStream) Close() error                                { return nil }
func (s *fakeEventStream) Err() error                                  { return s.err }

func TestRelayEventsForwardsDeltasAndCloses(t *testing.T) {
	events := make(chan brtypes.ConverseStreamOutput, 2)
	events <- &brtypes.ConverseStreamOutputMemberContentBlockDelta{
		Value: brtypes.ContentBlockDeltaEvent{Delta: &brtypes.ContentBlockDeltaMemberText{Value: "hi"}},
	}
	close(events)
	stream := &fakeEventStream{events: events}

	out := make(chan chat.ChatCompletionMessage, 4)
	err := RelayEvents(context.Background(), stream, out)
	close(out)

	require.NoError(t, err)
	msg := <-out
	assert.Equal(t, "hi", msg.Content)
}
