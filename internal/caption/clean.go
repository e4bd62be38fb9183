// Package caption turns subjects into short names for new categories.
package caption

import (
	"strings"
	"unicode/utf8"
)

// MaxLength bounds a cleaned caption.
const MaxLength = 30

// prefixes are stripped in order, once each.
var prefixes = []string{
	"the type of the visualization is",
	"type of the visualization is",
	"it is",
	"this is",
	"it's",
	"the map is",
	"the graph is",
	"the diagram is",
	"the visualization is",
	"a ",
	"type of",
	"type",
}

// Clean strips boilerplate lead-ins from a raw caption and cuts it to
// MaxLength. A caption left empty by stripping becomes "unknown".
func Clean(raw string) string {
	c := strings.TrimSpace(raw)
	for _, p := range prefixes {
		c = strings.TrimSpace(strings.TrimPrefix(c, p))
	}
	if c == "" {
		c = "unknown"
	}
	return Cut(c, MaxLength)
}

// Cut keeps whole words while the result stays under limit characters.
func Cut(s string, limit int) string {
	var sb strings.Builder
	n := 0
	for _, word := range strings.Split(s, " ") {
		w := utf8.RuneCountInString(word)
		if n+w >= limit {
			break
		}
		sb.WriteString(word)
		sb.WriteString(" ")
		n += w + 1
	}
	return strings.TrimSpace(sb.String())
}
