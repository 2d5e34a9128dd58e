package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// pdfVariant extracts per-page text with page markers.
type pdfVariant struct {
	garbageFilter bool
}

func (p *pdfVariant) CanParse(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func (p *pdfVariant) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	var parts []string
	total := reader.NumPage()
	for pageNum := 1; pageNum <= total; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if p.garbageFilter {
			text = filterGarbage(text)
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", pageNum, text))
		}
	}

	return &ParsedContent{
		Text:       strings.Join(parts, "\n\n"),
		Confidence: confidencePDF,
		Metadata: map[string]string{
			"format": "pdf",
			"pages":  fmt.Sprintf("%d", total),
		},
	}, nil
}

// filterGarbage drops extraction noise: runs of the same character
// repeated four or more times, and lines where fewer than 60% of the
// characters are letters, digits, or common punctuation.
func filterGarbage(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		cleaned := collapseRuns(line)
		if meaningfulRatio(cleaned) >= 0.6 {
			kept = append(kept, cleaned)
		}
	}
	return strings.Join(kept, "\n")
}

// collapseRuns caps any run of identical characters at three.
func collapseRuns(s string) string {
	var b strings.Builder
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run >= 4 {
				continue
			}
		} else {
			prev, run = r, 1
		}
		b.WriteRune(r)
	}
	return b.String()
}

func meaningfulRatio(line string) float64 {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return 0
	}
	meaningful := 0
	total := 0
	for _, r := range trimmed {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) ||
			strings.ContainsRune(".,;:!?()-'\"", r) {
			meaningful++
		}
	}
	return float64(meaningful) / float64(total)
}
