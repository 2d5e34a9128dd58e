package store

import (
	"regexp"
	"strings"
	"unicode"
)

// filenameRegex matches alphanumeric runs; separators (dots, dashes,
// underscores, spaces) fall between them.
var filenameRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// TokenizeFilename splits a file name into searchable tokens. Separators
// and camelCase boundaries both split, so "quarterlyReport-2024_final.pdf"
// yields tokens a user would actually type. Tokens are lowercased; single
// characters are dropped.
func TokenizeFilename(name string) []string {
	var tokens []string
	for _, word := range filenameRegex.FindAllString(name, -1) {
		for _, t := range splitCamelCase(word) {
			lower := strings.ToLower(t)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// splitCamelCase splits camelCase and PascalCase words, keeping acronym
// runs together: "parseHTTPRequest" -> ["parse", "HTTP", "Request"].
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}
