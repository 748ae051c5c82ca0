package tools

import (
	"fmt"

	"github.com/sternelee/forge-agent/schema"
)

var descriptions = map[Kind]string{
	Read:      "Reads file contents from the specified absolute path. Returns the content as a string with line number prefixes by default.",
	ReadImage: "Reads image files from the file system and returns them base64-encoded for vision-capable models.",
	Write:     "Creates a new file at a specified path with the provided content, or overwrites an existing one when overwrite is set.",
	FsSearch:  "Recursively searches directories for files by content (regex) and/or name (glob pattern).",
	SemSearch: "AI-powered semantic code search across natural-language queries, ranked by relevance.",
	Remove:    "Removes a file at the specified path. Cannot be undone.",
	Patch:     "Modifies files with targeted line operations (prepend, append, replace, replace_all, swap) on matched patterns.",
	Undo:      "Reverts the most recent file operation (create/modify/delete) on a specific file.",
	Shell:     "Executes a shell command in a given working directory and returns stdout, stderr, and exit code.",
	Fetch:     "Retrieves content from a URL as markdown or raw text.",
	Followup:  "Asks the user a clarifying question, optionally with up to five selectable options.",
	Plan:      "Creates a new plan file with the specified name, version, and markdown content.",
	Skill:     "Fetches detailed instructions for a named skill.",
}

func schemaFor(kind Kind) *schema.JSON {
	str := &schema.JSON{Type: schema.String}
	obj := func(props map[string]*schema.JSON, required ...string) *schema.JSON {
		return &schema.JSON{Type: schema.Object, Properties: props, Required: required}
	}

	switch kind {
	case Read:
		return obj(map[string]*schema.JSON{
			"path":             str,
			"start_line":       {Type: "integer"},
			"show_line_numbers": {Type: "boolean"},
			"end_line":         {Type: "integer"},
		}, "path")
	case ReadImage:
		return obj(map[string]*schema.JSON{"path": str}, "path")
	case Write:
		return obj(map[string]*schema.JSON{
			"path":      str,
			"content":   str,
			"overwrite": {Type: "boolean"},
		}, "path", "content")
	case FsSearch:
		return obj(map[string]*schema.JSON{
			"path":             str,
			"regex":            str,
			"start_index":      {Type: "integer"},
			"max_search_lines": {Type: "integer"},
			"file_pattern":     str,
		}, "path")
	case SemSearch:
		return obj(map[string]*schema.JSON{
			"queries": {
				Type: schema.Array,
				Items: obj(map[string]*schema.JSON{
					"query":    str,
					"use_case": str,
				}, "query", "use_case"),
			},
			"file_extension": str,
		}, "queries")
	case Remove:
		return obj(map[string]*schema.JSON{"path": str}, "path")
	case Patch:
		return obj(map[string]*schema.JSON{
			"path":      str,
			"search":    str,
			"operation": {Type: schema.String, Enum: []string{"prepend", "append", "replace", "replace_all", "swap"}},
			"content":   str,
		}, "path", "operation", "content")
	case Undo:
		return obj(map[string]*schema.JSON{"path": str}, "path")
	case Shell:
		return obj(map[string]*schema.JSON{
			"command":   str,
			"cwd":       str,
			"keep_ansi": {Type: "boolean"},
			"env":       {Type: schema.Array, Items: str},
		}, "command", "cwd")
	case Fetch:
		return obj(map[string]*schema.JSON{
			"url": str,
			"raw": {Type: "boolean"},
		}, "url")
	case Followup:
		return obj(map[string]*schema.JSON{
			"question": str,
			"multiple": {Type: "boolean"},
			"option1":  str, "option2": str, "option3": str, "option4": str, "option5": str,
		}, "question")
	case Plan:
		return obj(map[string]*schema.JSON{
			"plan_name": str,
			"version":   str,
			"content":   str,
		}, "plan_name", "version", "content")
	case Skill:
		return obj(map[string]*schema.JSON{"name": str}, "name")
	default:
		return obj(nil)
	}
}

// Schema returns the JSON schema for a tool's input, as registered with
// providers that accept a loose (non-strict) schema.
func Schema(kind Kind) *schema.JSON {
	return schemaFor(kind)
}

// StrictSchema returns the JSON schema normalized for providers requiring
// strict-mode schemas (every property required, additionalProperties false,
// applied recursively through nested object/array schemas).
func StrictSchema(kind Kind) *schema.JSON {
	return strictify(schemaFor(kind))
}

func strictify(s *schema.JSON) *schema.JSON {
	if s == nil {
		return nil
	}
	out := *s
	if out.Type == schema.Object && out.Properties != nil {
		required := make([]string, 0, len(out.Properties))
		props := make(map[string]*schema.JSON, len(out.Properties))
		for name, prop := range out.Properties {
			required = append(required, name)
			props[name] = strictify(prop)
		}
		out.Properties = props
		out.Required = required
		f := false
		out.AdditionalProperties = &f
	}
	if out.Items != nil {
		out.Items = strictify(out.Items)
	}
	return &out
}

// Definition returns the full tool definition (name, description, schema).
func Definition(kind Kind) (Definition, error) {
	name := kind.Name()
	if name == "" {
		return Definition{}, fmt.Errorf("tools: unknown kind %d", kind)
	}
	return Definition{
		Kind:        kind,
		Name:        name,
		Description: descriptions[kind],
		Schema:      Schema(kind),
	}, nil
}

// PermissionOperation describes the filesystem/network/process surface a
// tool call touches, for policy-layer authorization decisions.
type PermissionOperation struct {
	Kind string // "read", "write", "remove", "execute", "net"
	Path string
	Cwd  string
}

// ToPolicyOperation derives the permission-relevant operation for a parsed
// tool input, so a policy layer can authorize it without knowing about
// every tool's input shape.
func ToPolicyOperation(kind Kind, input any, cwd string) (*PermissionOperation, error) {
	switch kind {
	case Read, ReadImage:
		in, ok := input.(*ReadInput)
		if ok {
			return &PermissionOperation{Kind: "read", Path: in.Path, Cwd: cwd}, nil
		}
		if in2, ok := input.(*ReadImageInput); ok {
			return &PermissionOperation{Kind: "read", Path: in2.Path, Cwd: cwd}, nil
		}
	case Write:
		in, ok := input.(*WriteInput)
		if ok {
			return &PermissionOperation{Kind: "write", Path: in.Path, Cwd: cwd}, nil
		}
	case Patch:
		in, ok := input.(*PatchInput)
		if ok {
			return &PermissionOperation{Kind: "write", Path: in.Path, Cwd: cwd}, nil
		}
	case Remove:
		in, ok := input.(*RemoveInput)
		if ok {
			return &PermissionOperation{Kind: "remove", Path: in.Path, Cwd: cwd}, nil
		}
	case Undo:
		in, ok := input.(*UndoInput)
		if ok {
			return &PermissionOperation{Kind: "write", Path: in.Path, Cwd: cwd}, nil
		}
	case Shell:
		in, ok := input.(*ShellInput)
		if ok {
			return &PermissionOperation{Kind: "execute", Path: in.Command, Cwd: in.Cwd}, nil
		}
	case Fetch:
		in, ok := input.(*FetchInput)
		if ok {
			return &PermissionOperation{Kind: "net", Path: in.URL, Cwd: cwd}, nil
		}
	case FsSearch:
		in, ok := input.(*FsSearchInput)
		if ok {
			return &PermissionOperation{Kind: "read", Path: in.Path, Cwd: cwd}, nil
		}
	}
	return nil, fmt.Errorf("tools: cannot derive policy operation for kind %d with input %T", kind, input)
}
