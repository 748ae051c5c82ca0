package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sternelee/forge-agent/chat"
	"github.com/sternelee/forge-agent/compact"
	"github.com/sternelee/forge-agent/persistence"
)

// Summarizer defines the interface for conversation summarization strategies.
// Implementations can use LLMs, extractive summarization, or other techniques
// to compress conversation history while preserving important context.
type Summarizer interface {
	// Summarize compresses a list of records into a concise summary.
	// The summary should preserve key information, decisions made, and important context.
	Summarize(ctx context.Context, records []persistence.Record) (string, error)

	// SetPrompt allows customization of the summarization prompt for LLM-based summarizers.
	SetPrompt(prompt string)
}

// LLMSummarizer uses an LLM to create intelligent conversation summaries.
type LLMSummarizer struct {
	client chat.Client
	model  string
	prompt string
}

// NewSummarizer creates a new LLM-based summarizer.
func NewSummarizer(client chat.Client) *LLMSummarizer {
	return &LLMSummarizer{
		client: client,
		prompt: defaultSummarizationPrompt,
	}
}

// NewLLMSummarizer creates a new LLM-based summarizer.
// The model name is stored on the summarizer but not passed to the client;
// Summarize uses whatever model the client was configured with.
func NewLLMSummarizer(client chat.Client, model string) *LLMSummarizer {
	return &LLMSummarizer{
		client: client,
		model:  model,
		prompt: defaultSummarizationPrompt,
	}
}

// SetPrompt updates the summarization prompt.
func (s *LLMSummarizer) SetPrompt(prompt string) {
	s.prompt = prompt
}

// Summarize uses an LLM to create a concise summary of the conversation.
func (s *LLMSummarizer) Summarize(ctx context.Context, records []persistence.Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	// Project the raw records into a role-coalesced, tool-call-classified
	// Summary, then flatten that into the text handed to the model - this
	// keeps the prompt building on the same compaction view compact.Project
	// builds for conversation history pruning, instead of a separate flat
	// string-join of the raw records.
	conversation := renderSummaryText(compact.Project(recordsToContext(records)))

	// Create summarization request
	summaryPrompt := fmt.Sprintf("%s\n\nConversation to summarize:\n%s", s.prompt, conversation)

	// Create a chat session with the summarization model
	summaryChat := s.client.NewChat("You are an assistant tasked with summarizing conversations.")

	// Get the summary
	response, err := summaryChat.Message(ctx, chat.UserMessage(summaryPrompt))
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}

	return response.GetText(), nil
}

// recordsToContext builds a chat.Context from persistence records so they
// can be run through compact.Project; Record and ContextMessage share the
// same Role/Contents shape, so this is a straight field copy.
func recordsToContext(records []persistence.Record) *chat.Context {
	ctx := &chat.Context{Messages: make([]chat.ContextMessage, 0, len(records))}
	for _, r := range records {
		ctx.Messages = append(ctx.Messages, chat.ContextMessage{Role: r.Role, Contents: r.Contents})
	}
	return ctx
}

// renderSummaryText flattens a compact.Summary into the "role: text" form
// the summarization prompt expects, describing tool calls by kind and
// target rather than dumping their raw arguments.
func renderSummaryText(summary compact.Summary) string {
	var out strings.Builder
	for _, block := range summary.Blocks {
		for _, msg := range block.Messages {
			switch {
			case msg.Text != "":
				out.WriteString(fmt.Sprintf("%s: %s\n\n", block.Role, msg.Text))
			case msg.ToolCall != nil:
				out.WriteString(fmt.Sprintf("%s: [tool %s %s] (success=%v)\n\n",
					block.Role, msg.ToolCall.Tool.Kind, toolCallTarget(msg.ToolCall.Tool), msg.ToolCall.IsSuccess))
			}
		}
	}
	return out.String()
}

// toolCallTarget picks the most descriptive populated field on a classified
// Tool for the compaction-summary rendering above.
func toolCallTarget(t compact.Tool) string {
	switch {
	case t.Path != "":
		return t.Path
	case t.Command != "":
		return t.Command
	case t.Pattern != "":
		return t.Pattern
	case t.URL != "":
		return t.URL
	case t.Question != "":
		return t.Question
	case t.PlanName != "":
		return t.PlanName
	case t.Name != "":
		return t.Name
	default:
		return ""
	}
}

// defaultSummarizationPrompt is the default prompt for LLM-based summarization.
const defaultSummarizationPrompt = `Please provide a concise summary of the following conversation that preserves the key information, decisions made, and any important context. The summary should be suitable for continuing the conversation later.

Focus on:
- Main topics discussed
- Key decisions or conclusions reached
- Important context that affects future conversation
- Any unresolved questions or action items

The summary must be in markdown format.

Provide only the summary, no additional commentary, relying **strictly** on the provided text.`

// SimpleSummarizer provides a basic extractive summarization strategy.
// It keeps the first and last N messages without compression.
type SimpleSummarizer struct {
	keepFirst int
	keepLast  int
}

// NewSimpleSummarizer creates a basic summarizer that keeps first and last messages.
func NewSimpleSummarizer(keepFirst, keepLast int) *SimpleSummarizer {
	return &SimpleSummarizer{
		keepFirst: keepFirst,
		keepLast:  keepLast,
	}
}

// SetPrompt is a no-op for SimpleSummarizer.
func (s *SimpleSummarizer) SetPrompt(prompt string) {
	// No-op for simple summarizer
}

// Summarize returns a simple extraction of first and last messages.
func (s *SimpleSummarizer) Summarize(ctx context.Context, records []persistence.Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	var result strings.Builder
	result.WriteString("[Previous conversation summary]\n")

	// Keep first N messages
	firstCount := s.keepFirst
	if firstCount > len(records) {
		firstCount = len(records)
	}

	for i := 0; i < firstCount; i++ {
		result.WriteString(fmt.Sprintf("%s: %s\n", records[i].Role, records[i].GetText()))
	}

	// If we have more messages than we're keeping, add ellipsis
	if len(records) > s.keepFirst+s.keepLast {
		result.WriteString("\n... [middle portion omitted] ...\n\n")

		// Keep last N messages
		for i := len(records) - s.keepLast; i < len(records); i++ {
			result.WriteString(fmt.Sprintf("%s: %s\n", records[i].Role, records[i].GetText()))
		}
	} else {
		// Nothing to omit: keep the messages after the first N as well
		for i := firstCount; i < len(records); i++ {
			result.WriteString(fmt.Sprintf("%s: %s\n", records[i].Role, records[i].GetText()))
		}
	}

	return result.String(), nil
}
