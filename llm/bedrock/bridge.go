package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/sternelee/forge-agent/chat"
	"github.com/sternelee/forge-agent/llm/internal/common"
	"github.com/sternelee/forge-agent/schema"
)

// maxToolRounds bounds the number of tool-call/tool-result round trips a
// single Message call will drive. The OpenAI, Claude and Gemini clients
// have no such bound.
const maxToolRounds = 10

// Config configures a bridged Bedrock chat.Client.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ModelID         string
	MaxTokens       int
}

// NewClient builds an AWS SDK Bedrock runtime client from cfg and wraps it
// in a chat.Client, so Bedrock can be selected through the same
// provider-construction path as OpenAI, Claude, and Gemini.
func NewClient(ctx context.Context, cfg Config) (chat.Client, error) {
	var (
		awsCfg aws.Config
		err    error
	)
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: loading AWS config: %w", err)
	}

	runtime := bedrockruntime.NewFromConfig(awsCfg)
	return &bridgeClient{
		client:    New(runtime, cfg.Region),
		modelID:   cfg.ModelID,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// bridgeClient adapts *Client's chat.Context-based Chat/Aggregate API to the
// teacher's chat.Client/chat.Chat interface, the same shape OpenAI, Claude,
// and Gemini are constructed through.
type bridgeClient struct {
	client    *Client
	modelID   string
	maxTokens int
}

func (c *bridgeClient) NewChat(systemPrompt string, initialMsgs ...chat.Message) chat.Chat {
	return &bridgeChat{
		client:    c.client,
		modelID:   c.modelID,
		maxTokens: c.maxTokens,
		state:     common.NewState(systemPrompt, initialMsgs),
		tools:     common.NewTools(),
	}
}

type bridgeChat struct {
	client    *Client
	modelID   string
	maxTokens int
	state     *common.State
	tools     *common.Tools
}

func (c *bridgeChat) Message(ctx context.Context, msg chat.Message, opts ...chat.Option) (chat.Message, error) {
	reqOpts := chat.ApplyOptions(opts...)
	c.state.AppendMessages([]chat.Message{msg}, nil)

	for round := 0; round < maxToolRounds; round++ {
		systemPrompt, history := c.state.Snapshot()
		reqCtx := c.buildContext(systemPrompt, history, reqOpts)

		full, err := c.runTurn(ctx, reqCtx, reqOpts.StreamingCb)
		if err != nil {
			return chat.Message{}, err
		}

		assistantMsg := fullToMessage(full)
		c.state.AppendMessages([]chat.Message{assistantMsg}, &chat.TokenUsageDetails{
			InputTokens:  full.Usage.PromptTokens,
			OutputTokens: full.Usage.CompletionTokens,
			TotalTokens:  full.Usage.TotalTokens,
			CachedTokens: full.Usage.CachedTokens,
			Cost:         full.Usage.Cost,
		})

		if len(full.ToolCalls) == 0 || c.tools.Count() == 0 {
			return assistantMsg, nil
		}

		resultMsgs := make([]chat.Message, 0, len(full.ToolCalls))
		for _, tc := range full.ToolCalls {
			output, execErr := c.tools.Execute(ctx, tc.Name, string(tc.Arguments))
			result := chat.ToolResult{ToolCallID: tc.CallID, Name: tc.Name, Content: output}
			if execErr != nil {
				result.Error = execErr.Error()
			}
			resultMsgs = append(resultMsgs, chat.Message{
				Role:     chat.ToolRole,
				Contents: []chat.Content{{ToolResult: &result}},
			})
		}
		c.state.AppendMessages(resultMsgs, nil)
	}

	return chat.Message{}, fmt.Errorf("bedrock: exceeded %d tool-call rounds", maxToolRounds)
}

// runTurn issues one Converse request and folds the resulting stream,
// replaying content deltas through cb as they arrive when cb is non-nil.
func (c *bridgeChat) runTurn(ctx context.Context, reqCtx *chat.Context, cb chat.StreamCallback) (chat.ChatCompletionMessageFull, error) {
	stream, wait, err := c.client.Chat(ctx, c.modelID, reqCtx)
	if err != nil {
		return chat.ChatCompletionMessageFull{}, err
	}

	if cb == nil {
		full, aggErr := common.Aggregate(ctx, stream, common.AggregateOptions{})
		if waitErr := wait(); waitErr != nil {
			return chat.ChatCompletionMessageFull{}, waitErr
		}
		return full, aggErr
	}

	deltas := make(chan string, 16)
	type aggResult struct {
		full chat.ChatCompletionMessageFull
		err  error
	}
	resCh := make(chan aggResult, 1)
	go func() {
		full, err := common.Aggregate(ctx, stream, common.AggregateOptions{Deltas: deltas})
		close(deltas)
		resCh <- aggResult{full, err}
	}()

	var cbErr error
	for d := range deltas {
		if cbErr != nil {
			continue
		}
		if err := cb(chat.StreamEvent{Type: chat.StreamEventTypeContent, Content: d}); err != nil {
			cbErr = err
		}
	}
	res := <-resCh
	if waitErr := wait(); waitErr != nil && res.err == nil && cbErr == nil {
		return chat.ChatCompletionMessageFull{}, waitErr
	}
	if cbErr != nil {
		return chat.ChatCompletionMessageFull{}, cbErr
	}
	return res.full, res.err
}

func (c *bridgeChat) buildContext(systemPrompt string, history []chat.Message, reqOpts chat.Options) *chat.Context {
	reqCtx := &chat.Context{MaxTokens: c.maxTokens}
	if reqOpts.MaxTokens > 0 {
		reqCtx.MaxTokens = reqOpts.MaxTokens
	}
	if reqOpts.Temperature != nil {
		reqCtx.Temperature = reqOpts.Temperature
	}
	if reqOpts.ReasoningEffort != "" {
		reqCtx.Reasoning = &chat.ReasoningConfig{Effort: reqOpts.ReasoningEffort}
	}

	if systemPrompt != "" {
		reqCtx.Messages = append(reqCtx.Messages, chat.ContextMessage{
			Role:     "system",
			Contents: []chat.Content{{Text: systemPrompt}},
		})
	}
	for _, msg := range history {
		reqCtx.Messages = append(reqCtx.Messages, chat.ContextMessage{Role: msg.Role, Contents: msg.Contents})
	}

	for _, tool := range c.tools.GetAll() {
		def, err := mcpToolDefinition(tool.Tool)
		if err != nil {
			continue
		}
		reqCtx.Tools = append(reqCtx.Tools, def)
	}
	if len(reqCtx.Tools) > 0 {
		reqCtx.ToolChoice = chat.ToolChoiceAuto
	}

	return reqCtx
}

// mcpToolDefinition parses a tool's MCP JSON schema into the provider-agnostic
// chat.ToolDefinition shape Bedrock's transform layer expects, the same
// "inputSchema" extraction the OpenAI client does for its own wire format.
func mcpToolDefinition(tool chat.Tool) (chat.ToolDefinition, error) {
	var mcp struct {
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal([]byte(tool.MCPJsonSchema()), &mcp); err != nil {
		return chat.ToolDefinition{}, fmt.Errorf("bedrock: parsing MCP definition for %q: %w", tool.Name(), err)
	}

	var s *schema.JSON
	if len(mcp.InputSchema) > 0 {
		s = &schema.JSON{}
		if err := json.Unmarshal(mcp.InputSchema, s); err != nil {
			return chat.ToolDefinition{}, fmt.Errorf("bedrock: parsing input schema for %q: %w", tool.Name(), err)
		}
	}

	return chat.ToolDefinition{Name: tool.Name(), Description: tool.Description(), Schema: s}, nil
}

// fullToMessage converts a folded completion into the teacher's Message
// shape: reasoning first, then text, then tool calls, mirroring the order
// most providers emit them in.
func fullToMessage(full chat.ChatCompletionMessageFull) chat.Message {
	msg := chat.Message{Role: chat.AssistantRole}
	for _, r := range full.Reasoning {
		msg.Contents = append(msg.Contents, chat.Content{Thinking: &chat.ThinkingContent{Text: r.Text, Signature: r.Encrypted}})
	}
	if full.Content != "" {
		msg.Contents = append(msg.Contents, chat.Content{Text: full.Content})
	}
	for _, tc := range full.ToolCalls {
		call := chat.ToolCall{ID: tc.CallID, Name: tc.Name, Arguments: tc.Arguments}
		msg.Contents = append(msg.Contents, chat.Content{ToolCall: &call})
	}
	return msg
}

// History, TokenUsage, MaxTokens, and tool registration just delegate to the
// shared State/Tools helpers every other provider's chatClient uses.

func (c *bridgeChat) History() (string, []chat.Message) { return c.state.History() }

func (c *bridgeChat) TokenUsage() (chat.TokenUsage, error) { return c.state.TokenUsage() }

func (c *bridgeChat) MaxTokens() int { return c.maxTokens }

func (c *bridgeChat) RegisterTool(def chat.ToolDef, fn func(ctx context.Context, input string) string) error {
	return c.tools.Register(common.WrapTool(def, fn))
}

func (c *bridgeChat) DeregisterTool(name string) { c.tools.Deregister(name) }

func (c *bridgeChat) ListTools() []string { return c.tools.List() }
