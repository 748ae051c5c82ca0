// Package tools defines the closed catalog of built-in agent tools: their
// names, input schemas, and the typed Go structs their arguments parse into.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/iancoleman/strcase"

	"github.com/sternelee/forge-agent/chat"
	"github.com/sternelee/forge-agent/schema"
)

// Kind identifies one of the built-in tools.
type Kind int

const (
	Read Kind = iota
	ReadImage
	Write
	FsSearch
	SemSearch
	Remove
	Patch
	Undo
	Shell
	Fetch
	Followup
	Plan
	Skill
)

var kindNames = map[Kind]string{
	Read:      "Read",
	ReadImage: "ReadImage",
	Write:     "Write",
	FsSearch:  "FsSearch",
	SemSearch: "SemSearch",
	Remove:    "Remove",
	Patch:     "Patch",
	Undo:      "Undo",
	Shell:     "Shell",
	Fetch:     "Fetch",
	Followup:  "Followup",
	Plan:      "Plan",
	Skill:     "Skill",
}

// Name returns the snake_case wire name of the tool, as sent to providers.
func (k Kind) Name() string {
	name, ok := kindNames[k]
	if !ok {
		return ""
	}
	return strcase.ToSnake(name)
}

// ErrAgentCallArgument is returned by Parse when a tool call's arguments
// cannot be decoded into the tool's expected input type.
type ErrAgentCallArgument struct {
	Kind Kind
	Err  error
}

func (e *ErrAgentCallArgument) Error() string {
	return fmt.Sprintf("tools: malformed arguments for %s: %v", e.Kind.Name(), e.Err)
}
func (e *ErrAgentCallArgument) Unwrap() error { return e.Err }

// ErrUnknownTool is returned when a call's name does not match any built-in
// tool; callers should fall back to treating it as an MCP tool.
var ErrUnknownTool = fmt.Errorf("tools: unknown tool name")

// Definition describes a tool's name, description, and input schema.
type Definition struct {
	Kind        Kind
	Name        string
	Description string
	Schema      *schema.JSON
}

// SearchQuery pairs a semantic-search query with its reranking use case.
type SearchQuery struct {
	Query   string `json:"query"`
	UseCase string `json:"use_case"`
}

// Input types, one per Kind, matching the wire argument shape of each tool.

type ReadInput struct {
	Path          string `json:"path"`
	StartLine     *int   `json:"start_line,omitempty"`
	ShowLineNums  bool   `json:"show_line_numbers"`
	EndLine       *int   `json:"end_line,omitempty"`
}

type ReadImageInput struct {
	Path string `json:"path"`
}

type WriteInput struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

type FsSearchInput struct {
	Path          string  `json:"path"`
	Regex         *string `json:"regex,omitempty"`
	StartIndex    *int    `json:"start_index,omitempty"`
	MaxSearchLine *int    `json:"max_search_lines,omitempty"`
	FilePattern   *string `json:"file_pattern,omitempty"`
}

type SemSearchInput struct {
	Queries       []SearchQuery `json:"queries"`
	FileExtension *string       `json:"file_extension,omitempty"`
}

type RemoveInput struct {
	Path string `json:"path"`
}

// PatchOperation is the kind of edit FSPatch applies to matched text.
type PatchOperation int

const (
	PatchPrepend PatchOperation = iota
	PatchAppend
	PatchReplace
	PatchReplaceAll
	PatchSwap
)

var patchOperationNames = map[PatchOperation]string{
	PatchPrepend:    "prepend",
	PatchAppend:     "append",
	PatchReplace:    "replace",
	PatchReplaceAll: "replace_all",
	PatchSwap:       "swap",
}

var patchOperationValues = func() map[string]PatchOperation {
	m := make(map[string]PatchOperation, len(patchOperationNames))
	for k, v := range patchOperationNames {
		m[v] = k
	}
	return m
}()

func (p PatchOperation) String() string { return patchOperationNames[p] }

func (p PatchOperation) MarshalJSON() ([]byte, error) {
	name, ok := patchOperationNames[p]
	if !ok {
		return nil, fmt.Errorf("tools: invalid PatchOperation %d", p)
	}
	return json.Marshal(name)
}

func (p *PatchOperation) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	op, ok := patchOperationValues[name]
	if !ok {
		return fmt.Errorf("tools: unknown patch operation %q", name)
	}
	*p = op
	return nil
}

type PatchInput struct {
	Path      string         `json:"path"`
	Search    *string        `json:"search,omitempty"`
	Operation PatchOperation `json:"operation"`
	Content   string         `json:"content"`
}

type UndoInput struct {
	Path string `json:"path"`
}

type ShellInput struct {
	Command string   `json:"command"`
	Cwd     string   `json:"cwd"`
	KeepANSI bool    `json:"keep_ansi,omitempty"`
	Env      []string `json:"env,omitempty"`
}

type FetchInput struct {
	URL string `json:"url"`
	Raw *bool  `json:"raw,omitempty"`
}

type FollowupInput struct {
	Question string  `json:"question"`
	Multiple *bool   `json:"multiple,omitempty"`
	Option1  *string `json:"option1,omitempty"`
	Option2  *string `json:"option2,omitempty"`
	Option3  *string `json:"option3,omitempty"`
	Option4  *string `json:"option4,omitempty"`
	Option5  *string `json:"option5,omitempty"`
}

type PlanInput struct {
	PlanName string `json:"plan_name"`
	Version  string `json:"version"`
	Content  string `json:"content"`
}

type SkillInput struct {
	Name string `json:"name"`
}

// Tool is the parsed, typed result of decoding a tool call's arguments.
type Tool struct {
	Kind  Kind
	Input any
}

// Parse decodes call's arguments into the typed Tool matching call.Name.
// If call.Name does not match a built-in tool, Parse returns ErrUnknownTool
// so the caller can fall back to MCP tool dispatch.
func Parse(call chat.ToolCallFull) (Tool, error) {
	kind, ok := byName[call.Name]
	if !ok {
		return Tool{}, ErrUnknownTool
	}

	input, err := decode(kind, call.Arguments)
	if err != nil {
		return Tool{}, &ErrAgentCallArgument{Kind: kind, Err: err}
	}
	return Tool{Kind: kind, Input: input}, nil
}

var byName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k := range kindNames {
		m[k.Name()] = k
	}
	return m
}()

func decode(kind Kind, raw json.RawMessage) (any, error) {
	var target any
	switch kind {
	case Read:
		target = &ReadInput{}
	case ReadImage:
		target = &ReadImageInput{}
	case Write:
		target = &WriteInput{}
	case FsSearch:
		target = &FsSearchInput{}
	case SemSearch:
		target = &SemSearchInput{}
	case Remove:
		target = &RemoveInput{}
	case Patch:
		target = &PatchInput{}
	case Undo:
		target = &UndoInput{}
	case Shell:
		target = &ShellInput{}
	case Fetch:
		target = &FetchInput{}
	case Followup:
		target = &FollowupInput{}
	case Plan:
		target = &PlanInput{}
	case Skill:
		target = &SkillInput{}
	default:
		return nil, fmt.Errorf("tools: unhandled kind %d", kind)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, err
	}
	return target, nil
}
