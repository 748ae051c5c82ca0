// Package compact projects a full conversation Context into a compact
// summary used to build the prompt for conversation compaction.
package compact

import (
	"github.com/sternelee/forge-agent/chat"
	"github.com/sternelee/forge-agent/tools"
)

// Tool is the classified tool reference embedded in a SummaryToolCall.
// Beyond Kind, only the fields carried by the wire tool that produced the
// call are populated: one field for most kinds, Queries and FileExtension
// for SemSearch.
type Tool struct {
	Kind          string
	Path          string
	Command       string
	Pattern       string
	Queries       []tools.SearchQuery
	FileExtension *string
	URL           string
	Question      string
	PlanName      string
	Name          string
}

// Tool kind tags used in Tool.Kind.
const (
	ToolFileRead  = "file_read"
	ToolFileWrite = "file_update"
	ToolFileRemove = "file_remove"
	ToolShell     = "shell"
	ToolSearch    = "search"
	ToolSemSearch = "sem_search"
	ToolUndo      = "undo"
	ToolFetch     = "fetch"
	ToolFollowup  = "followup"
	ToolPlan      = "plan"
	ToolSkill     = "skill"
	ToolMCP       = "mcp"
)

// ToolCall is a tool invocation reduced to the detail worth keeping in a
// compaction summary: what was called and whether it succeeded.
type ToolCall struct {
	CallID    string
	Tool      Tool
	IsSuccess bool
}

// Message is either plain text or a tool call, mirroring the union the
// original context's per-message content blocks project onto.
type Message struct {
	Text     string
	ToolCall *ToolCall
}

// TextMessage builds a text-only Message.
func TextMessage(text string) Message { return Message{Text: text} }

// Block groups the messages emitted by one contiguous run of same-role
// turns in the source context.
type Block struct {
	Role     chat.Role
	Messages []Message
}

// Summary is a simplified view of a Context: role-coalesced blocks of text
// and classified tool calls, with each tool call's success status
// back-patched from its matching tool result.
type Summary struct {
	Blocks []Block
}

// Project reduces ctx into a Summary: system messages are dropped, adjacent
// same-role messages are coalesced into one Block, each assistant tool call
// is classified into a Tool, and is_success is back-patched from the
// matching tool result elsewhere in the context.
func Project(ctx *chat.Context) Summary {
	var blocks []Block
	var buffer []Message
	results := map[string]bool{} // call_id -> success
	currentRole := Role("system")

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		blocks = append(blocks, Block{Role: chat.Role(currentRole), Messages: buffer})
		buffer = nil
	}

	for _, msg := range ctx.Messages {
		if msg.Role == "system" {
			continue
		}
		if Role(msg.Role) != currentRole {
			flush()
			currentRole = Role(msg.Role)
		}
		for _, content := range msg.Contents {
			switch {
			case content.Text != "":
				buffer = append(buffer, TextMessage(content.Text))
			case content.ToolCall != nil:
				tc := chat.ToolCallFull{CallID: content.ToolCall.ID, Name: content.ToolCall.Name, Arguments: content.ToolCall.Arguments}
				buffer = append(buffer, Message{ToolCall: &ToolCall{
					CallID:    tc.CallID,
					Tool:      classify(tc),
					IsSuccess: false,
				}})
			case content.ToolResult != nil:
				results[content.ToolResult.ToolCallID] = content.ToolResult.Error == ""
			}
		}
	}
	flush()

	// Back-patch tool-call success from results gathered across the whole
	// context (results may appear in a later message than the call).
	for bi := range blocks {
		for mi := range blocks[bi].Messages {
			tc := blocks[bi].Messages[mi].ToolCall
			if tc == nil {
				continue
			}
			if ok, found := results[tc.CallID]; found {
				tc.IsSuccess = ok
			}
		}
	}

	return Summary{Blocks: blocks}
}

// Role is a local alias so Project can default to a "system" sentinel
// without importing chat.Role's const identifiers at package scope.
type Role = chat.Role

func classify(call chat.ToolCallFull) Tool {
	parsed, err := tools.Parse(call)
	if err != nil {
		return Tool{Kind: ToolMCP, Name: call.Name}
	}

	switch parsed.Kind {
	case tools.Read:
		return Tool{Kind: ToolFileRead, Path: parsed.Input.(*tools.ReadInput).Path}
	case tools.ReadImage:
		return Tool{Kind: ToolFileRead, Path: parsed.Input.(*tools.ReadImageInput).Path}
	case tools.Write:
		return Tool{Kind: ToolFileWrite, Path: parsed.Input.(*tools.WriteInput).Path}
	case tools.Patch:
		return Tool{Kind: ToolFileWrite, Path: parsed.Input.(*tools.PatchInput).Path}
	case tools.Remove:
		return Tool{Kind: ToolFileRemove, Path: parsed.Input.(*tools.RemoveInput).Path}
	case tools.Shell:
		return Tool{Kind: ToolShell, Command: parsed.Input.(*tools.ShellInput).Command}
	case tools.FsSearch:
		in := parsed.Input.(*tools.FsSearchInput)
		pattern := ""
		switch {
		case in.FilePattern != nil:
			pattern = *in.FilePattern
		case in.Regex != nil:
			pattern = *in.Regex
		}
		return Tool{Kind: ToolSearch, Pattern: pattern}
	case tools.SemSearch:
		in := parsed.Input.(*tools.SemSearchInput)
		return Tool{Kind: ToolSemSearch, Queries: in.Queries, FileExtension: in.FileExtension}
	case tools.Undo:
		return Tool{Kind: ToolUndo, Path: parsed.Input.(*tools.UndoInput).Path}
	case tools.Fetch:
		return Tool{Kind: ToolFetch, URL: parsed.Input.(*tools.FetchInput).URL}
	case tools.Followup:
		return Tool{Kind: ToolFollowup, Question: parsed.Input.(*tools.FollowupInput).Question}
	case tools.Plan:
		return Tool{Kind: ToolPlan, PlanName: parsed.Input.(*tools.PlanInput).PlanName}
	case tools.Skill:
		return Tool{Kind: ToolSkill, Name: parsed.Input.(*tools.SkillInput).Name}
	default:
		return Tool{Kind: ToolMCP, Name: call.Name}
	}
}
