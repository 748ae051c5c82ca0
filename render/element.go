// Package render turns completed tool operations into the XML-like element
// tree used as the tool-result wire format, and tracks the line-level
// metrics those operations produce.
package render

import (
	"fmt"
	"regexp"
	"strings"
)

// Element is a lightweight XML-like node: a name, an ordered set of
// attributes, optional CDATA text, and optional child elements. It is not a
// general-purpose XML library - just enough structure to render tool
// results consistently.
type Element struct {
	name     string
	attrs    []attr
	cdata    string
	hasCDATA bool
	children []*Element
}

type attr struct {
	key, value string
}

// NewElement starts a new element with the given tag name.
func NewElement(name string) *Element {
	return &Element{name: name}
}

// Attr sets an attribute, skipping it entirely if value is empty - optional
// attributes in the render table are simply omitted rather than emitted
// empty.
func (e *Element) Attr(key, value string) *Element {
	if value == "" {
		return e
	}
	e.attrs = append(e.attrs, attr{key, value})
	return e
}

// Attrf is Attr with fmt.Sprintf formatting of the value.
func (e *Element) Attrf(key, format string, args ...any) *Element {
	return e.Attr(key, fmt.Sprintf(format, args...))
}

// CDATA sets the element's text body, wrapped in a CDATA section so content
// with literal angle brackets or ampersands passes through unescaped.
func (e *Element) CDATA(text string) *Element {
	e.cdata = text
	e.hasCDATA = true
	return e
}

// Child appends a nested element.
func (e *Element) Child(child *Element) *Element {
	if child != nil {
		e.children = append(e.children, child)
	}
	return e
}

// String renders the element tree to its wire text form.
func (e *Element) String() string {
	var b strings.Builder
	e.write(&b, 0)
	return b.String()
}

func (e *Element) write(b *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	b.WriteString(indent)
	b.WriteByte('<')
	b.WriteString(e.name)
	for _, a := range e.attrs {
		fmt.Fprintf(b, " %s=%q", a.key, a.value)
	}

	if !e.hasCDATA && len(e.children) == 0 {
		b.WriteString(" />\n")
		return
	}
	b.WriteString(">\n")

	if e.hasCDATA {
		b.WriteString(indent)
		b.WriteString("  <![CDATA[")
		b.WriteString(e.cdata)
		b.WriteString("]]>\n")
	}
	for _, child := range e.children {
		child.write(b, depth+1)
	}

	b.WriteString(indent)
	b.WriteString("</")
	b.WriteString(e.name)
	b.WriteString(">\n")
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape sequences from s, for embedding terminal
// output (diffs, shell output) into an element body.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
