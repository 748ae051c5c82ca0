package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElementSelfClosesWithNoBody(t *testing.T) {
	e := NewElement("file_removed").Attr("path", "/tmp/a.go").Attr("status", "completed")
	assert.Equal(t, `<file_removed path="/tmp/a.go" status="completed" />`+"\n", e.String())
}

func TestElementOmitsEmptyAttributes(t *testing.T) {
	e := NewElement("search_results").Attr("path", "src").Attr("regex", "")
	assert.NotContains(t, e.String(), "regex=")
}

func TestElementCDATAAndChildren(t *testing.T) {
	e := NewElement("file_overwritten").Attr("path", "a.go").Attrf("total_lines", "%d", 10).
		Child(NewElement("file_diff").CDATA("-old\n+new"))
	out := e.String()
	assert.Contains(t, out, `<file_overwritten path="a.go" total_lines="10">`)
	assert.Contains(t, out, "<file_diff>")
	assert.Contains(t, out, "<![CDATA[-old\n+new]]>")
	assert.Contains(t, out, "</file_overwritten>")
}

func TestStripANSIRemovesEscapeCodes(t *testing.T) {
	in := "\x1b[31mred\x1b[0m plain"
	assert.Equal(t, "red plain", StripANSI(in))
}
