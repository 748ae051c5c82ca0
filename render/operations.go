package render

import (
	"strings"
)

// RenderRead renders a completed file-read operation.
func RenderRead(path string, displayStart, displayEnd, totalLines int, content string) *Element {
	return NewElement("file_content").
		Attr("path", path).
		Attrf("display_lines", "%d-%d", displayStart, displayEnd).
		Attrf("total_lines", "%d", totalLines).
		CDATA(content)
}

// RenderWriteCreated renders a new-file write, with an optional warning.
func RenderWriteCreated(path string, totalLines int, warning string) *Element {
	e := NewElement("file_created").Attr("path", path).Attrf("total_lines", "%d", totalLines)
	if warning != "" {
		e.Child(NewElement("warning").CDATA(warning))
	}
	return e
}

// RenderWriteOverwritten renders an overwrite, embedding the unified diff
// between the previous and new content (ANSI stripped).
func RenderWriteOverwritten(path string, totalLines int, unifiedDiff string) *Element {
	return NewElement("file_overwritten").
		Attr("path", path).
		Attrf("total_lines", "%d", totalLines).
		Child(NewElement("file_diff").CDATA(StripANSI(unifiedDiff)))
}

// RenderRemove renders a file removal, path relative to cwd.
func RenderRemove(relPath string) *Element {
	return NewElement("file_removed").Attr("path", relPath).Attr("status", "completed")
}

// RenderPatch renders a patch application, embedding the unified diff.
func RenderPatch(path string, totalLines int, unifiedDiff, warning string) *Element {
	e := NewElement("file_diff").Attr("path", path).Attrf("total_lines", "%d", totalLines).CDATA(StripANSI(unifiedDiff))
	if warning != "" {
		e.Child(NewElement("warning").CDATA(warning))
	}
	return e
}

// RenderUndoNoChange renders an undo that found nothing to revert.
func RenderUndoNoChange(path string) *Element {
	return NewElement("file_undo").Attr("path", path).Attr("status", "no_changes")
}

// RenderUndoCreated renders an undo that recreated a previously-deleted file.
func RenderUndoCreated(path string, totalLines int, content string) *Element {
	return NewElement("file_undo").Attr("path", path).Attr("status", "created").
		Attrf("total_lines", "%d", totalLines).CDATA(content)
}

// RenderUndoRemoved renders an undo that removed a previously-created file.
func RenderUndoRemoved(path string, totalLines int, content string) *Element {
	return NewElement("file_undo").Attr("path", path).Attr("status", "removed").
		Attrf("total_lines", "%d", totalLines).CDATA(content)
}

// RenderUndoRestored renders an undo that restored a file to a prior
// snapshot, embedding the diff between the reverted states.
func RenderUndoRestored(path, unifiedDiff string) *Element {
	return NewElement("file_undo").Attr("path", path).Attr("status", "restored").CDATA(StripANSI(unifiedDiff))
}

// SearchTruncation is the reason, if any, search output was truncated.
type SearchTruncation int

const (
	// SearchFull indicates no truncation occurred.
	SearchFull SearchTruncation = iota
	// SearchLine indicates too many matching lines were found.
	SearchLine
	// SearchByte indicates the output exceeded the byte budget.
	SearchByte
)

func (t SearchTruncation) reason() string {
	switch t {
	case SearchLine:
		return "too many matching lines"
	case SearchByte:
		return "output exceeded maximum search result size"
	default:
		return ""
	}
}

// RenderSearch renders search results, or a no-match element if lines is empty.
func RenderSearch(path string, maxBytesAllowed, totalLines, displayStart, displayEnd int, regex, filePattern string, lines []string, truncation SearchTruncation) *Element {
	e := NewElement("search_results").Attr("path", path).Attr("regex", regex).Attr("file_pattern", filePattern)
	if len(lines) == 0 {
		return e
	}
	e.Attrf("max_bytes_allowed", "%d", maxBytesAllowed)
	e.Attrf("total_lines", "%d", totalLines)
	e.Attrf("display_lines", "%d-%d", displayStart, displayEnd)
	if reason := truncation.reason(); reason != "" {
		e.Attr("reason", reason)
	}
	return e.CDATA(strings.Join(lines, "\n"))
}

// RenderFetch renders a net-fetch result. overflowPath, if non-empty, points
// at the file holding the full (untruncated) body.
func RenderFetch(url string, statusCode, totalChars int, contentType, body, overflowPath string) *Element {
	e := NewElement("http_response").
		Attr("url", url).
		Attrf("status_code", "%d", statusCode).
		Attr("start_char", "0").
		Attrf("end_char", "%d", min(len(body), totalChars)).
		Attrf("total_chars", "%d", totalChars).
		Attr("content_type", contentType).
		Child(NewElement("body").CDATA(body))
	if overflowPath != "" {
		e.Child(NewElement("truncated").Attr("path", overflowPath))
	}
	return e
}

// RenderShell renders a shell command's result. Empty streams are omitted.
func RenderShell(command, shell string, exitCode *int, stdout, stderr *Element) *Element {
	e := NewElement("shell_output").Attr("command", command).Attr("shell", shell)
	if exitCode != nil {
		e.Attrf("exit_code", "%d", *exitCode)
	}
	if stdout != nil {
		e.Child(stdout)
	}
	if stderr != nil {
		e.Child(stderr)
	}
	return e
}

// RenderFollowup renders a follow-up question's resolution.
func RenderFollowup(answer string) *Element {
	if answer == "" {
		return NewElement("interrupted").CDATA("No feedback provided")
	}
	return NewElement("feedback").CDATA(answer)
}

// RenderAttemptCompletion renders the final completion message.
func RenderAttemptCompletion(message string) *Element {
	return NewElement("success").CDATA(message)
}

// RenderPlanCreate renders a plan-file creation.
func RenderPlanCreate(path, planName, version string) *Element {
	return NewElement("plan_created").Attr("path", path).Attr("plan_name", planName).Attr("version", version)
}

// TruncateStream splits lines into a head element (and a tail element, if
// truncation was needed): if total lines fit within headMax, everything goes
// in head; otherwise head gets the first headMax lines and tail gets the last
// tailMax lines. Individual lines are not shortened.
// overflowPath, if non-empty, is recorded as the full_output attribute on
// the parent when truncation occurred.
func TruncateStream(name string, lines []string, headMax, tailMax int, overflowPath string) *Element {
	e := NewElement(name).Attrf("total_lines", "%d", len(lines))

	if len(lines) <= headMax {
		head := NewElement("head").Attrf("display_lines", "1-%d", len(lines)).CDATA(strings.Join(lines, "\n"))
		return e.Child(head)
	}

	headEnd := headMax
	tailStart := len(lines) - tailMax
	if tailStart < headEnd {
		tailStart = headEnd
	}

	head := NewElement("head").Attrf("display_lines", "1-%d", headEnd).CDATA(strings.Join(lines[:headEnd], "\n"))
	e.Child(head)

	if tailStart < len(lines) {
		tail := NewElement("tail").
			Attrf("display_lines", "%d-%d", tailStart+1, len(lines)).
			CDATA(strings.Join(lines[tailStart:], "\n"))
		e.Child(tail)
	}

	if overflowPath != "" {
		e.Attr("full_output", overflowPath)
	}
	return e
}
