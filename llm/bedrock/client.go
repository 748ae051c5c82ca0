package bedrock

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/sternelee/forge-agent/chat"
	"github.com/sternelee/forge-agent/llm/internal/common"
	"github.com/sternelee/forge-agent/retry"
)

// Runtime is the subset of *bedrockruntime.Client this package depends on.
type Runtime interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client talks to Bedrock's Converse API for a single region, resolving the
// regional inference-profile model id prefix per request.
type Client struct {
	runtime Runtime
	region  string
}

// New wraps an AWS SDK Bedrock runtime client already configured with
// credentials (bearer token or SigV4) and region.
func New(runtime Runtime, region string) *Client {
	if region == "" {
		region = "us-east-1"
	}
	return &Client{runtime: runtime, region: region}
}

// Chat issues a ConverseStream request and returns a channel of
// chat.ChatCompletionMessage deltas, closed once the stream ends or ctx is
// cancelled. Call the returned wait func after draining the channel to pick
// up any terminal stream error.
func (c *Client) Chat(ctx context.Context, modelID string, reqCtx *chat.Context) (<-chan chat.ChatCompletionMessage, func() error, error) {
	resolvedModel := TransformModelID(c.region, modelID)

	input, err := ToConverseStreamInput(reqCtx, resolvedModel)
	if err != nil {
		return nil, nil, err
	}

	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, nil, classifyError(err)
	}

	ch := make(chan chat.ChatCompletionMessage, 16)
	stream := out.GetStream()
	var relayErr error
	go func() {
		defer close(ch)
		relayErr = RelayEvents(ctx, &sdkEventStream{stream}, ch)
	}()

	wait := func() error {
		if relayErr != nil {
			return classifyError(relayErr)
		}
		return nil
	}
	return ch, wait, nil
}

// Aggregate runs Chat and folds the resulting stream into a single
// ChatCompletionMessageFull, matching the other providers' non-streaming
// call shape.
func (c *Client) Aggregate(ctx context.Context, modelID string, reqCtx *chat.Context) (chat.ChatCompletionMessageFull, error) {
	ch, wait, err := c.Chat(ctx, modelID, reqCtx)
	if err != nil {
		return chat.ChatCompletionMessageFull{}, err
	}
	full, aggErr := common.Aggregate(ctx, ch, common.AggregateOptions{})
	if waitErr := wait(); waitErr != nil {
		return chat.ChatCompletionMessageFull{}, waitErr
	}
	return full, aggErr
}

type sdkEventStream struct {
	s *bedrockruntime.ConverseStreamEventStream
}

func (s *sdkEventStream) Events() <-chan brtypes.ConverseStreamOutput { return s.s.Events() }
func (s *sdkEventStream) Close() error                                { return s.s.Close() }
func (s *sdkEventStream) Err() error                                  { return s.s.Err() }

var retryableConverseErrors = map[string]bool{
	"ThrottlingException":         true,
	"ServiceUnavailableException": true,
	"InternalServerException":     true,
	"ModelStreamErrorException":   true,
	"ModelNotReadyException":      true,
}

// classifyError maps an AWS SDK error into the package's retry taxonomy,
// mirroring the original provider's allowlist of transient ConverseStream
// service errors. Errors that aren't a recognized smithy API error are left
// untouched for retry.Classify's generic network-error inspection.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && retryableConverseErrors[apiErr.ErrorCode()] {
		return retry.Retryable(err)
	}
	return err
}
