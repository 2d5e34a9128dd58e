package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// maxSheetCells caps how many cells a sheet contributes.
const maxSheetCells = 1000

// officeVariant reads DOCX, XLSX, and PPTX.
type officeVariant struct{}

func (o *officeVariant) CanParse(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx", ".xlsx", ".pptx":
		return true
	}
	return false
}

func (o *officeVariant) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		return o.parseDocx(path)
	case ".xlsx":
		return o.parseXlsx(ctx, path)
	case ".pptx":
		return o.parsePptx(ctx, path)
	}
	return nil, fmt.Errorf("unsupported office format")
}

func (o *officeVariant) parseDocx(path string) (*ParsedContent, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	defer doc.Close()

	// GetContent returns the document XML; drop the tags, keep paragraph
	// breaks.
	raw := doc.Editable().GetContent()
	raw = strings.ReplaceAll(raw, "</w:p>", "\n")
	text := strings.TrimSpace(stripXMLTags(raw))

	return &ParsedContent{
		Text:       text,
		Confidence: confidenceOffice,
		Metadata: map[string]string{
			"format":     "docx",
			"paragraphs": fmt.Sprintf("%d", strings.Count(text, "\n")+1),
		},
	}, nil
}

func (o *officeVariant) parseXlsx(ctx context.Context, path string) (*ParsedContent, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("read xlsx: %w", err)
	}
	defer f.Close()

	var parts []string
	cells := 0
	truncated := false

	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		var sheetLines []string
		for _, row := range rows {
			var rowCells []string
			for _, cell := range row {
				if cell == "" {
					continue
				}
				if cells >= maxSheetCells {
					truncated = true
					break
				}
				rowCells = append(rowCells, cell)
				cells++
			}
			if len(rowCells) > 0 {
				sheetLines = append(sheetLines, strings.Join(rowCells, " | "))
			}
			if truncated {
				break
			}
		}
		if len(sheetLines) > 0 {
			parts = append(parts, fmt.Sprintf("--- Sheet: %s ---\n%s", sheet, strings.Join(sheetLines, "\n")))
		}
		if truncated {
			break
		}
	}

	md := map[string]string{
		"format": "xlsx",
		"sheets": fmt.Sprintf("%d", len(f.GetSheetList())),
	}
	if truncated {
		md["cells_truncated"] = "true"
	}
	return &ParsedContent{
		Text:       strings.Join(parts, "\n\n"),
		Confidence: confidenceOffice,
		Metadata:   md,
	}, nil
}

func (o *officeVariant) parsePptx(ctx context.Context, path string) (*ParsedContent, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("read pptx: %w", err)
	}
	defer zr.Close()

	var parts []string
	slides := 0
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(zf.Name, "ppt/slides/slide") || !strings.HasSuffix(zf.Name, ".xml") {
			continue
		}
		slides++
		rc, err := zf.Open()
		if err != nil {
			continue
		}
		texts := extractPptxRuns(rc)
		rc.Close()
		if len(texts) > 0 {
			parts = append(parts, fmt.Sprintf("--- Slide %d ---\n%s", slides, strings.Join(texts, "\n")))
		}
	}

	text := strings.Join(parts, "\n\n")
	confidence := confidenceOffice
	if strings.TrimSpace(text) == "" {
		// A deck with no extractable text is still indexable by name.
		confidence = confidenceFallback
	}
	return &ParsedContent{
		Text:       text,
		Confidence: confidence,
		Metadata: map[string]string{
			"format": "pptx",
			"slides": fmt.Sprintf("%d", slides),
		},
	}, nil
}

// extractPptxRuns pulls the character data of every <a:t> element.
func extractPptxRuns(r io.Reader) []string {
	dec := xml.NewDecoder(r)
	var texts []string
	var inT bool
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inT = t.Name.Local == "t"
		case xml.EndElement:
			inT = false
		case xml.CharData:
			if inT {
				if s := strings.TrimSpace(string(t)); s != "" {
					texts = append(texts, s)
				}
			}
		}
	}
	return texts
}

// stripXMLTags removes XML tags, keeping the text between them.
func stripXMLTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
