package search

import (
	"strings"
	"unicode"
)

const (
	previewLength   = 200
	highlightLength = 100
)

// preview returns the first max runes of content with collapsed
// whitespace, ellipsized when truncated.
func preview(content string, max int) string {
	collapsed := collapseWhitespace(content)
	runes := []rune(collapsed)
	if len(runes) <= max {
		return collapsed
	}
	return strings.TrimRight(string(runes[:max]), " ") + "…"
}

// highlight returns a window of roughly highlightLength runes centered
// on the first case-insensitive occurrence of the query, falling back
// to the best matched lexical term, then to the start of the content.
func highlight(content, query, matchedTerm string) string {
	collapsed := collapseWhitespace(content)
	runes := []rune(collapsed)
	if len(runes) <= highlightLength {
		return collapsed
	}

	at := findFold(collapsed, query)
	if at < 0 && matchedTerm != "" {
		at = findFold(collapsed, matchedTerm)
	}
	if at < 0 {
		return strings.TrimRight(string(runes[:highlightLength]), " ") + "…"
	}

	// Convert the byte offset to runes and center the window on it.
	center := len([]rune(collapsed[:at]))
	start := center - highlightLength/2
	if start < 0 {
		start = 0
	}
	end := start + highlightLength
	if end > len(runes) {
		end = len(runes)
		start = end - highlightLength
		if start < 0 {
			start = 0
		}
	}

	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

// findFold is a case-insensitive strings.Index over the whole needle;
// if the needle has no direct match, its first word is tried.
func findFold(haystack, needle string) int {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return -1
	}
	lower := strings.ToLower(haystack)
	if at := strings.Index(lower, strings.ToLower(needle)); at >= 0 {
		return at
	}
	if word, _, ok := strings.Cut(needle, " "); ok {
		return strings.Index(lower, strings.ToLower(word))
	}
	return -1
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
