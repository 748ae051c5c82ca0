// Package bedrock implements the AWS Bedrock Converse provider transformer:
// converting a provider-agnostic chat.Context into a ConverseStream request,
// and folding the resulting event stream back into chat.ChatCompletionMessage
// deltas.
package bedrock

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/sternelee/forge-agent/chat"
)

// reasoningThinkingFloor is the minimum top_p Bedrock accepts once extended
// thinking is enabled for Claude models.
const reasoningThinkingFloor = 0.95

// defaultThinkingBudget is used when a reasoning config enables thinking but
// specifies no token budget.
const defaultThinkingBudget = 4000

// TransformModelID applies Bedrock's regional inference-profile prefix to an
// Anthropic model id, unless it already carries a regional or global prefix.
func TransformModelID(region, modelID string) string {
	if strings.HasPrefix(modelID, "global.") {
		return modelID
	}
	for _, prefix := range []string{"us.", "eu.", "apac.", "au."} {
		if strings.HasPrefix(modelID, prefix) {
			return modelID
		}
	}
	if !strings.Contains(modelID, "anthropic.") {
		return modelID
	}

	var prefix string
	switch {
	case strings.HasPrefix(region, "us-") && !strings.Contains(region, "gov"):
		prefix = "us."
	case strings.HasPrefix(region, "eu-"):
		prefix = "eu."
	case region == "ap-southeast-2":
		prefix = "au."
	case strings.HasPrefix(region, "ap-"):
		prefix = "apac."
	}
	return prefix + modelID
}

// SupportsCaching reports whether modelID is a family known to support
// Bedrock prompt-cache points (Anthropic/Claude only, currently).
func SupportsCaching(modelID string) bool {
	lower := strings.ToLower(modelID)
	return strings.Contains(lower, "anthropic") || strings.Contains(lower, "claude")
}

// ToConverseStreamInput converts a chat.Context into a ConverseStreamInput,
// grouping consecutive tool results into a single User message as Bedrock
// requires, and deriving inference/reasoning configuration from the context.
func ToConverseStreamInput(ctx *chat.Context, modelID string) (*bedrockruntime.ConverseStreamInput, error) {
	if err := ctx.Validate(); err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}

	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	var pendingResults []brtypes.ContentBlock

	flushResults := func() error {
		if len(pendingResults) == 0 {
			return nil
		}
		messages = append(messages, brtypes.Message{
			Role:    brtypes.ConversationRoleUser,
			Content: pendingResults,
		})
		pendingResults = nil
		return nil
	}

	for _, msg := range ctx.Messages {
		if msg.Role == "system" {
			for _, c := range msg.Contents {
				if c.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: c.Text})
				}
			}
			continue
		}

		if msg.Role == chat.ToolRole {
			blocks, err := toolResultBlocks(msg)
			if err != nil {
				return nil, err
			}
			pendingResults = append(pendingResults, blocks...)
			continue
		}

		if err := flushResults(); err != nil {
			return nil, err
		}

		m, err := toMessage(msg)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := flushResults(); err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  &modelID,
		Messages: messages,
		System:   system,
	}

	if len(ctx.Tools) > 0 {
		toolConfig, err := toToolConfiguration(ctx.Tools, ctx.ToolChoice)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = toolConfig
	}

	hasThinking := ctx.Reasoning != nil && ctx.Reasoning.Effort != ""
	adjustedTopP := ctx.TopP
	if hasThinking && adjustedTopP != nil && *adjustedTopP < reasoningThinkingFloor {
		floor := reasoningThinkingFloor
		adjustedTopP = &floor
	}

	if ctx.Temperature != nil || adjustedTopP != nil || ctx.TopK != nil || ctx.MaxTokens != 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if ctx.Temperature != nil {
			t := float32(*ctx.Temperature)
			cfg.Temperature = &t
		}
		if adjustedTopP != nil {
			p := float32(*adjustedTopP)
			cfg.TopP = &p
		}
		if ctx.MaxTokens != 0 {
			mt := int32(ctx.MaxTokens)
			cfg.MaxTokens = &mt
		}
		input.InferenceConfig = cfg
	}

	if hasThinking {
		budget := defaultThinkingBudget
		input.AdditionalModelRequestFields = document.NewLazyDocument(map[string]any{
			"thinking": map[string]any{
				"type":          "enabled",
				"budget_tokens": budget,
			},
		})
	}

	return input, nil
}

func toolResultBlocks(msg chat.ContextMessage) ([]brtypes.ContentBlock, error) {
	var blocks []brtypes.ContentBlock
	for _, c := range msg.Contents {
		if c.ToolResult == nil {
			continue
		}
		tr := c.ToolResult
		status := brtypes.ToolResultStatusSuccess
		text := tr.Content
		if tr.Error != "" {
			status = brtypes.ToolResultStatusError
			text = tr.Error
		}
		blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{
			Value: brtypes.ToolResultBlock{
				ToolUseId: &tr.ToolCallID,
				Status:    status,
				Content: []brtypes.ToolResultContentBlock{
					&brtypes.ToolResultContentBlockMemberText{Value: text},
				},
			},
		})
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("bedrock: tool message has no tool results")
	}
	return blocks, nil
}

func toMessage(msg chat.ContextMessage) (brtypes.Message, error) {
	var role brtypes.ConversationRole
	switch msg.Role {
	case chat.UserRole:
		role = brtypes.ConversationRoleUser
	case chat.AssistantRole:
		role = brtypes.ConversationRoleAssistant
	default:
		return brtypes.Message{}, fmt.Errorf("bedrock: unsupported message role %q", msg.Role)
	}

	var content []brtypes.ContentBlock
	for _, c := range msg.Contents {
		switch {
		case c.Text != "":
			content = append(content, &brtypes.ContentBlockMemberText{Value: c.Text})
		case c.ToolCall != nil:
			var input document.Interface
			if len(c.ToolCall.Arguments) > 0 {
				input = document.NewLazyDocument(c.ToolCall.Arguments)
			} else {
				input = document.NewLazyDocument(map[string]any{})
			}
			content = append(content, &brtypes.ContentBlockMemberToolUse{
				Value: brtypes.ToolUseBlock{
					ToolUseId: &c.ToolCall.ID,
					Name:      &c.ToolCall.Name,
					Input:     input,
				},
			})
		}
	}
	for _, img := range msg.Images {
		if img.Data == "" {
			continue
		}
		content = append(content, &brtypes.ContentBlockMemberImage{
			Value: brtypes.ImageBlock{
				Format: brtypes.ImageFormatPng,
				Source: &brtypes.ImageSourceMemberBytes{Value: []byte(img.Data)},
			},
		})
	}

	return brtypes.Message{Role: role, Content: content}, nil
}

func toToolConfiguration(tools []chat.ToolDefinition, choice chat.ToolChoice) (*brtypes.ToolConfiguration, error) {
	specs := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		schemaDoc, err := schemaToDocument(t.Schema)
		if err != nil {
			return nil, fmt.Errorf("bedrock: tool %q schema: %w", t.Name, err)
		}
		name := t.Name
		desc := t.Description
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        &name,
				Description: &desc,
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schemaDoc},
			},
		})
	}

	cfg := &brtypes.ToolConfiguration{Tools: specs}
	switch choice {
	case chat.ToolChoiceRequired:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
	case chat.ToolChoiceNone:
		// Bedrock has no explicit "none": omit ToolChoice so the model decides.
	default:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberAuto{Value: brtypes.AutoToolChoice{}}
	}
	return cfg, nil
}

func schemaToDocument(s any) (document.Interface, error) {
	if s == nil {
		return document.NewLazyDocument(map[string]any{}), nil
	}
	return document.NewLazyDocument(s), nil
}
