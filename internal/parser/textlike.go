package parser

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// textLikeExts are formats read as plain text after markup stripping.
var textLikeExts = map[string]bool{
	".txt": true, ".log": true, ".csv": true, ".json": true,
	".xml": true, ".yaml": true, ".yml": true,
	".md": true, ".markdown": true,
	".html": true, ".htm": true,
}

// textLikeVariant reads plain text, Markdown, and HTML.
type textLikeVariant struct{}

func (t *textLikeVariant) CanParse(path string) bool {
	return textLikeExts[strings.ToLower(filepath.Ext(path))]
}

func (t *textLikeVariant) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	text, lang := decodeText(raw)

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".html", ".htm":
		text = stripHTML(text)
	case ".md", ".markdown":
		text = stripMarkdown(text)
	}
	text = strings.TrimSpace(text)

	return &ParsedContent{
		Text:       text,
		Title:      firstHeadingOrLine(text),
		Language:   lang,
		Confidence: confidenceText,
		Metadata:   map[string]string{"format": strings.TrimPrefix(ext, ".")},
	}, nil
}

// decodeText returns UTF-8 text, trying BOM-signaled encodings and
// windows-1252 when the bytes are not valid UTF-8.
func decodeText(raw []byte) (string, string) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}):
		return string(raw[3:]), "utf-8"
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		if out, err := dec.Bytes(raw[2:]); err == nil {
			return string(out), "utf-16le"
		}
	case bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
		if out, err := dec.Bytes(raw[2:]); err == nil {
			return string(out), "utf-16be"
		}
	}
	if utf8.Valid(raw) {
		return string(raw), "utf-8"
	}
	if out, err := charmap.Windows1252.NewDecoder().Bytes(raw); err == nil {
		return string(out), "windows-1252"
	}
	return string(raw), ""
}

var (
	htmlTagRe    = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]*>`)
	htmlEntities = strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'",
	)
	mdMarkupRe = regexp.MustCompile("(?m)^#{1,6} |[*_`]{1,3}|^> |^[-+*] |\\[([^\\]]*)\\]\\([^)]*\\)")
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = htmlEntities.Replace(s)
	return blankRunRe.ReplaceAllString(s, "\n\n")
}

func stripMarkdown(s string) string {
	s = mdMarkupRe.ReplaceAllString(s, "$1")
	return blankRunRe.ReplaceAllString(s, "\n\n")
}

// firstHeadingOrLine returns the first markdown heading, falling back to
// the first non-empty line (capped at 120 runes).
func firstHeadingOrLine(text string) string {
	var fallback string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if h := strings.TrimLeft(line, "# "); h != line {
			return capRunes(h, 120)
		}
		if fallback == "" {
			fallback = line
		}
	}
	return capRunes(fallback, 120)
}

func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
