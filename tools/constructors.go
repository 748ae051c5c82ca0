package tools

import (
	"encoding/json"

	"github.com/sternelee/forge-agent/chat"
)

// callFull builds a chat.ToolCallFull from a Kind and an input value,
// panicking only on a json.Marshal failure of a well-formed input struct
// (which cannot happen for the types defined in this package).
func callFull(callID string, kind Kind, input any) chat.ToolCallFull {
	raw, err := json.Marshal(input)
	if err != nil {
		panic(err)
	}
	return chat.ToolCallFull{CallID: callID, Name: kind.Name(), Arguments: raw}
}

// ToolCallRead builds a fixture tool call for the read tool.
func ToolCallRead(callID, path string) chat.ToolCallFull {
	return callFull(callID, Read, ReadInput{Path: path, ShowLineNums: true})
}

// ToolCallReadImage builds a fixture tool call for the read_image tool.
func ToolCallReadImage(callID, path string) chat.ToolCallFull {
	return callFull(callID, ReadImage, ReadImageInput{Path: path})
}

// ToolCallWrite builds a fixture tool call for the write tool.
func ToolCallWrite(callID, path, content string) chat.ToolCallFull {
	return callFull(callID, Write, WriteInput{Path: path, Content: content})
}

// ToolCallFsSearch builds a fixture tool call for the fs_search tool.
func ToolCallFsSearch(callID, path string, regex *string) chat.ToolCallFull {
	return callFull(callID, FsSearch, FsSearchInput{Path: path, Regex: regex})
}

// ToolCallSemSearch builds a fixture tool call for the sem_search tool.
func ToolCallSemSearch(callID string, queries []SearchQuery) chat.ToolCallFull {
	return callFull(callID, SemSearch, SemSearchInput{Queries: queries})
}

// ToolCallRemove builds a fixture tool call for the remove tool.
func ToolCallRemove(callID, path string) chat.ToolCallFull {
	return callFull(callID, Remove, RemoveInput{Path: path})
}

// ToolCallPatch builds a fixture tool call for the patch tool.
func ToolCallPatch(callID, path string, search *string, op PatchOperation, content string) chat.ToolCallFull {
	return callFull(callID, Patch, PatchInput{Path: path, Search: search, Operation: op, Content: content})
}

// ToolCallUndo builds a fixture tool call for the undo tool.
func ToolCallUndo(callID, path string) chat.ToolCallFull {
	return callFull(callID, Undo, UndoInput{Path: path})
}

// ToolCallShell builds a fixture tool call for the shell tool.
func ToolCallShell(callID, command, cwd string) chat.ToolCallFull {
	return callFull(callID, Shell, ShellInput{Command: command, Cwd: cwd})
}

// ToolCallFetch builds a fixture tool call for the net_fetch tool.
func ToolCallFetch(callID, url string) chat.ToolCallFull {
	return callFull(callID, Fetch, FetchInput{URL: url})
}

// ToolCallFollowup builds a fixture tool call for the followup tool.
func ToolCallFollowup(callID, question string) chat.ToolCallFull {
	return callFull(callID, Followup, FollowupInput{Question: question})
}

// ToolCallPlan builds a fixture tool call for the plan_create tool.
func ToolCallPlan(callID, planName, version, content string) chat.ToolCallFull {
	return callFull(callID, Plan, PlanInput{PlanName: planName, Version: version, Content: content})
}

// ToolCallSkill builds a fixture tool call for the skill_fetch tool.
func ToolCallSkill(callID, name string) chat.ToolCallFull {
	return callFull(callID, Skill, SkillInput{Name: name})
}
