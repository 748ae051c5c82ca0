package openai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/sternelee/forge-agent/chat"
	"github.com/sternelee/forge-agent/schema"
)

// reasoningGroup accumulates the encrypted payload and ordered summary parts
// for one reasoning item id, mirroring the original provider's grouping of
// reasoning_details by id before replaying them as ReasoningItem input items.
type reasoningGroup struct {
	encrypted string
	summaries []string
}

// mapReasoningToInputItems groups reasoning parts sharing the same id into a
// single reasoning input item. A group without encrypted content is dropped
// entirely since it can't be replayed as a valid Responses API item.
func mapReasoningToInputItems(parts []chat.ReasoningPart) []responses.ResponseInputItemUnionParam {
	order := make([]string, 0, len(parts))
	groups := make(map[string]*reasoningGroup)

	for _, p := range parts {
		if p.ID == "" {
			continue
		}
		g, ok := groups[p.ID]
		if !ok {
			g = &reasoningGroup{}
			groups[p.ID] = g
			order = append(order, p.ID)
		}
		if p.Encrypted != "" {
			g.encrypted = p.Encrypted
		}
		if p.Summary != "" {
			g.summaries = append(g.summaries, p.Summary)
		}
	}

	var items []responses.ResponseInputItemUnionParam
	for _, id := range order {
		g := groups[id]
		if g.encrypted == "" {
			continue
		}
		summary := make([]responses.ResponseReasoningItemSummaryParam, 0, len(g.summaries))
		for _, s := range g.summaries {
			summary = append(summary, responses.ResponseReasoningItemSummaryParam{Text: s})
		}
		items = append(items, responses.ResponseInputItemUnionParam{
			OfReasoning: &responses.ResponseReasoningItemParam{
				ID:               id,
				Summary:          summary,
				EncryptedContent: param.NewOpt(g.encrypted),
			},
		})
	}
	return items
}

// ToResponseNewParams builds an OpenAI Responses API request from a
// provider-agnostic context, per the per-message mapping: the first system
// message becomes top-level instructions, later system messages become
// developer-role items, and assistant tool calls/results become
// function_call / function_call_output items keyed by call_id.
func ToResponseNewParams(ctx *chat.Context, modelName string) (*responses.ResponseNewParams, error) {
	if err := ctx.Validate(); err != nil {
		return nil, err
	}

	var instructions string
	haveInstructions := false
	var items []responses.ResponseInputItemUnionParam

	for _, msg := range ctx.Messages {
		switch msg.Role {
		case "system":
			text := textOf(msg)
			if !haveInstructions {
				instructions = text
				haveInstructions = true
				continue
			}
			items = append(items, responses.ResponseInputItemUnionParam{
				OfMessage: &responses.EasyInputMessageParam{
					Role:    responses.EasyInputMessageRoleDeveloper,
					Content: responses.EasyInputMessageContentUnionParam{OfString: param.NewOpt(text)},
				},
			})
		case chat.UserRole:
			for _, img := range msg.Images {
				items = append(items, imageInputItem(img))
			}
			if text := textOf(msg); text != "" {
				items = append(items, responses.ResponseInputItemUnionParam{
					OfMessage: &responses.EasyInputMessageParam{
						Role:    responses.EasyInputMessageRoleUser,
						Content: responses.EasyInputMessageContentUnionParam{OfString: param.NewOpt(text)},
					},
				})
			}
		case chat.AssistantRole:
			var reasoningParts []chat.ReasoningPart
			for _, content := range msg.Contents {
				if text := strings.TrimSpace(content.Text); text != "" {
					items = append(items, responses.ResponseInputItemUnionParam{
						OfMessage: &responses.EasyInputMessageParam{
							Role:    responses.EasyInputMessageRoleAssistant,
							Content: responses.EasyInputMessageContentUnionParam{OfString: param.NewOpt(content.Text)},
						},
					})
				}
				if content.ToolCall != nil {
					if content.ToolCall.ID == "" {
						return nil, fmt.Errorf("tool call %q is missing call_id; cannot be sent to Responses API", content.ToolCall.Name)
					}
					items = append(items, responses.ResponseInputItemUnionParam{
						OfFunctionCall: &responses.ResponseFunctionToolCallParam{
							CallID:    content.ToolCall.ID,
							Name:      content.ToolCall.Name,
							Arguments: string(content.ToolCall.Arguments),
						},
					})
				}
				if content.Reasoning != nil {
					reasoningParts = append(reasoningParts, *content.Reasoning)
				}
			}
			items = append(items, mapReasoningToInputItems(reasoningParts)...)
		case chat.ToolRole:
			for _, content := range msg.Contents {
				if content.ToolResult == nil {
					continue
				}
				if content.ToolResult.ToolCallID == "" {
					return nil, fmt.Errorf("tool result for %q is missing call_id; cannot be sent to Responses API", content.ToolResult.Name)
				}
				output := content.ToolResult.Content
				if content.ToolResult.Error != "" {
					output = fmt.Sprintf(`{"error":%q}`, content.ToolResult.Error)
				}
				items = append(items, responses.ResponseInputItemUnionParam{
					OfFunctionCallOutput: &responses.ResponseInputItemFunctionCallOutputParam{
						CallID: content.ToolResult.ToolCallID,
						Output: output,
					},
				})
			}
		}
	}

	params := &responses.ResponseNewParams{
		Model: shared.ResponsesModel(modelName),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: responses.ResponseInputParam(items)},
	}
	if haveInstructions {
		params.Instructions = param.NewOpt(instructions)
	}
	if ctx.MaxTokens > 0 {
		params.MaxOutputTokens = param.NewOpt(int64(ctx.MaxTokens))
	}
	if ctx.Temperature != nil {
		params.Temperature = param.NewOpt(*ctx.Temperature)
	}
	// top_p is intentionally omitted: some reasoning models reject it.

	if len(ctx.Tools) > 0 {
		tools := make([]responses.ToolUnionParam, 0, len(ctx.Tools))
		for _, t := range ctx.Tools {
			parameters, err := strictFunctionParameters(t.Schema)
			if err != nil {
				return nil, fmt.Errorf("normalizing schema for tool %q: %w", t.Name, err)
			}
			tools = append(tools, responses.ToolUnionParam{
				OfFunction: &responses.FunctionToolParam{
					Name:        t.Name,
					Description: param.NewOpt(t.Description),
					Parameters:  parameters,
					Strict:      param.NewOpt(true),
				},
			})
		}
		params.Tools = tools
	}

	if ctx.ToolChoice != "" {
		choice, err := toResponsesToolChoice(ctx.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = choice
	}

	if ctx.ConversationID != "" {
		params.PromptCacheKey = param.NewOpt(ctx.ConversationID)
	}

	if ctx.Reasoning != nil {
		params.Reasoning = toResponsesReasoning(*ctx.Reasoning)
	}

	return params, nil
}

func textOf(msg chat.ContextMessage) string {
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

func imageInputItem(img chat.ImageContent) responses.ResponseInputItemUnionParam {
	url := img.URL
	if url == "" {
		url = fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data)
	}
	return responses.ResponseInputItemUnionParam{
		OfMessage: &responses.EasyInputMessageParam{
			Role: responses.EasyInputMessageRoleUser,
			Content: responses.EasyInputMessageContentUnionParam{
				OfInputItemContentList: responses.ResponseInputMessageContentListParam{
					{OfInputImage: &responses.ResponseInputImageParam{
						ImageURL: param.NewOpt(url),
						Detail:   responses.ResponseInputImageDetailAuto,
					}},
				},
			},
		},
	}
}

func toResponsesToolChoice(choice chat.ToolChoice) (responses.ResponseNewParamsToolChoiceUnion, error) {
	switch choice {
	case chat.ToolChoiceNone:
		return responses.ResponseNewParamsToolChoiceUnion{OfToolChoiceMode: param.NewOpt(responses.ToolChoiceOptionsNone)}, nil
	case chat.ToolChoiceAuto:
		return responses.ResponseNewParamsToolChoiceUnion{OfToolChoiceMode: param.NewOpt(responses.ToolChoiceOptionsAuto)}, nil
	case chat.ToolChoiceRequired:
		return responses.ResponseNewParamsToolChoiceUnion{OfToolChoiceMode: param.NewOpt(responses.ToolChoiceOptionsRequired)}, nil
	default:
		return responses.ResponseNewParamsToolChoiceUnion{
			OfFunctionTool: &responses.ToolChoiceFunctionParam{Name: string(choice)},
		}, nil
	}
}

// toResponsesReasoning maps a reasoning config to the Responses API's
// Reasoning parameter: enabled-without-effort defaults to medium effort,
// exclude=true requests a concise summary, otherwise a detailed one.
func toResponsesReasoning(cfg chat.ReasoningConfig) shared.ReasoningParam {
	r := shared.ReasoningParam{}
	switch cfg.Effort {
	case "high":
		r.Effort = shared.ReasoningEffortHigh
	case "medium":
		r.Effort = shared.ReasoningEffortMedium
	case "low":
		r.Effort = shared.ReasoningEffortLow
	case "":
		r.Effort = shared.ReasoningEffortMedium
	default:
		r.Effort = shared.ReasoningEffort(cfg.Effort)
	}
	if cfg.Summary == "concise" {
		r.Summary = shared.ReasoningSummaryConcise
	} else {
		r.Summary = shared.ReasoningSummaryDetailed
	}
	return r
}

// strictFunctionParameters converts a tool's JSON schema into the strict
// subset the Responses API requires: every object gets additionalProperties
// false, an explicit (possibly empty) properties map, and a required list
// covering every declared property, sorted for determinism.
func strictFunctionParameters(s *schema.JSON) (shared.FunctionParameters, error) {
	if s == nil {
		return shared.FunctionParameters{}, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	enforceStrictSchema(value)
	return shared.FunctionParameters(value), nil
}

// enforceStrictSchema mutates an object-typed JSON schema value in place,
// recursing into nested object properties and array items.
func enforceStrictSchema(value map[string]any) {
	props, hasProps := value["properties"]
	isObject := hasProps || value["type"] == "object"
	if !isObject {
		if items, ok := value["items"].(map[string]any); ok {
			enforceStrictSchema(items)
		}
		return
	}

	propsMap, ok := props.(map[string]any)
	if !ok {
		propsMap = map[string]any{}
	}
	value["properties"] = propsMap
	value["additionalProperties"] = false

	required := make([]string, 0, len(propsMap))
	for name, prop := range propsMap {
		required = append(required, name)
		if nested, ok := prop.(map[string]any); ok {
			enforceStrictSchema(nested)
		}
	}
	sort.Strings(required)
	value["required"] = required

	if items, ok := value["items"].(map[string]any); ok {
		enforceStrictSchema(items)
	}
}
