// Package sanitize normalizes untrusted text before it is relayed or
// stored: chat messages and display names.
package sanitize

import "strings"

const (
	MaxMessageLen = 500
	MaxNameLen    = 32
)

// escaper covers the characters that can break HTML/JS contexts.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
	"`", "&#96;",
	"/", "&#x2F;",
)

// unescaper undoes exactly the entities escaper emits, so running the
// pipeline on its own output yields the same result (idempotence).
var unescaper = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#96;", "`",
	"&#x2F;", "/",
)

// Message cleans a chat message: newlines normalized to \n, outer
// whitespace trimmed, control characters stripped (newline and tab kept),
// length capped, HTML-sensitive characters escaped.
func Message(s string) string {
	return clean(s, MaxMessageLen, false)
}

// DisplayName is the same pipeline with newlines collapsed to spaces and
// a shorter cap.
func DisplayName(s string) string {
	return clean(s, MaxNameLen, true)
}

func clean(s string, maxLen int, collapseNewlines bool) string {
	s = unescaper.Replace(s)

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if collapseNewlines {
		s = strings.ReplaceAll(s, "\n", " ")
	}
	s = strings.TrimSpace(s)

	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if isControl(r) {
			continue
		}
		if n >= maxLen {
			break
		}
		b.WriteRune(r)
		n++
	}

	return escaper.Replace(b.String())
}

// isControl reports C0/DEL control characters except newline and tab.
func isControl(r rune) bool {
	if r == '\n' || r == '\t' {
		return false
	}
	return r < 0x20 || r == 0x7f
}
