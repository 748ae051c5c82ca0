package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/sternelee/forge-agent/chat"
	"github.com/sternelee/forge-agent/llm/internal/common"
)

// ToChatCompletionParams builds a Chat Completions request from a
// provider-agnostic context: a straight per-message mapping, tools
// serialized with their JSON schema as-is (no strict normalization, unlike
// the Responses API), one role=tool message per tool result, and images
// packed as structured content parts alongside any text.
func ToChatCompletionParams(ctx *chat.Context, modelName string) (*openai.ChatCompletionNewParams, error) {
	if err := ctx.Validate(); err != nil {
		return nil, err
	}

	var messages []openai.ChatCompletionMessageParamUnion
	for i, msg := range ctx.Messages {
		converted, err := contextMessageToOpenAI(msg)
		if err != nil {
			return nil, fmt.Errorf("converting message %d: %w", i, err)
		}
		messages = append(messages, converted...)
	}

	params := &openai.ChatCompletionNewParams{
		Model:    modelName,
		Messages: messages,
	}

	if ctx.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(ctx.MaxTokens))
	}
	if ctx.Temperature != nil {
		params.Temperature = param.NewOpt(*ctx.Temperature)
	}
	if ctx.TopP != nil {
		params.TopP = param.NewOpt(*ctx.TopP)
	}

	if len(ctx.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(ctx.Tools))
		for _, t := range ctx.Tools {
			var parameters shared.FunctionParameters
			if t.Schema != nil {
				raw, err := json.Marshal(t.Schema)
				if err != nil {
					return nil, fmt.Errorf("marshaling schema for tool %q: %w", t.Name, err)
				}
				if err := json.Unmarshal(raw, &parameters); err != nil {
					return nil, fmt.Errorf("unmarshaling schema for tool %q: %w", t.Name, err)
				}
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        t.Name,
					Description: param.NewOpt(t.Description),
					Parameters:  parameters,
				},
			})
		}
		params.Tools = tools
	}

	switch ctx.ToolChoice {
	case "", chat.ToolChoiceAuto:
	case chat.ToolChoiceNone:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("none")}
	case chat.ToolChoiceRequired:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("required")}
	default:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: string(ctx.ToolChoice)},
			},
		}
	}

	return params, nil
}

func contextMessageToOpenAI(msg chat.ContextMessage) ([]openai.ChatCompletionMessageParamUnion, error) {
	switch msg.Role {
	case "system":
		text := contextText(msg)
		if text == "" {
			return nil, fmt.Errorf("system message has no text content")
		}
		return []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(text)}, nil

	case chat.UserRole:
		if len(msg.Images) == 0 {
			text := contextText(msg)
			if text == "" {
				return nil, fmt.Errorf("user message has no text content")
			}
			return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(text)}, nil
		}

		parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Images)+1)
		if text := contextText(msg); text != "" {
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfText: &openai.ChatCompletionContentPartTextParam{Text: text},
			})
		}
		for _, img := range msg.Images {
			url := img.URL
			if url == "" {
				url = fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data)
			}
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfImageURL: &openai.ChatCompletionContentPartImageParam{
					ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: url},
				},
			})
		}
		return []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		}, nil

	case chat.AssistantRole:
		assistant := openai.ChatCompletionAssistantMessageParam{}
		if text := contextText(msg); text != "" {
			assistant.Content.OfString = param.NewOpt(text)
		}

		var toolCalls []chat.ToolCall
		for _, content := range msg.Contents {
			if content.ToolCall != nil {
				toolCalls = append(toolCalls, *content.ToolCall)
			}
		}
		if len(toolCalls) > 0 {
			assistant.ToolCalls = make([]openai.ChatCompletionMessageToolCallParam, len(toolCalls))
			for i, tc := range toolCalls {
				assistant.ToolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
		}

		if assistant.Content.OfString.Value == "" && len(assistant.ToolCalls) == 0 {
			return nil, fmt.Errorf("assistant message has no valid content")
		}
		return []openai.ChatCompletionMessageParamUnion{{OfAssistant: &assistant}}, nil

	case chat.ToolRole:
		var msgs []openai.ChatCompletionMessageParamUnion
		for _, content := range msg.Contents {
			if content.ToolResult == nil {
				continue
			}
			out := content.ToolResult.Content
			if content.ToolResult.Error != "" {
				out = common.FormatToolErrorJSON(content.ToolResult.Error)
			}
			if out == "" {
				out = "{}"
			}
			msgs = append(msgs, openai.ToolMessage(out, content.ToolResult.ToolCallID))
		}
		if len(msgs) == 0 {
			return nil, fmt.Errorf("tool message has no tool results")
		}
		return msgs, nil

	default:
		return nil, fmt.Errorf("unknown message role: %s", msg.Role)
	}
}

func contextText(msg chat.ContextMessage) string {
	var b strings.Builder
	for _, c := range msg.Contents {
		if c.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(c.Text)
	}
	return b.String()
}
