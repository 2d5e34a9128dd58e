// Package metadata extracts lightweight per-format metadata (page
// counts, dimensions, durations) without full text extraction. It is
// best-effort: probes never fail the pipeline, they just leave fields
// zero.
package metadata

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/loupehq/loupe/internal/store"
)

// Metadata is what a probe could determine about a file.
type Metadata struct {
	FileType store.FileType
	Title    string

	// Documents.
	PageCount  int
	SheetCount int
	WordCount  int

	// Images.
	Width  int
	Height int

	// Audio/video.
	Duration time.Duration
}

// Extractor probes files by type.
type Extractor struct {
	logger *slog.Logger
}

// New creates an extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract probes path according to its file type. It never returns an
// error: a failed probe logs at debug level and leaves the affected
// fields zero. The title defaults to the base name without extension.
func (e *Extractor) Extract(ctx context.Context, path string) Metadata {
	m := Metadata{
		FileType: store.FileTypeFromPath(path),
		Title:    titleFromPath(path),
	}
	if ctx.Err() != nil {
		return m
	}

	switch m.FileType {
	case store.FileTypePDF:
		if n, err := pdfPageCount(path); err == nil {
			m.PageCount = n
		} else {
			e.logger.Debug("pdf probe failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	case store.FileTypeDocument:
		e.probeDocument(path, &m)
	case store.FileTypeImage:
		if w, h, err := imageDimensions(path); err == nil {
			m.Width, m.Height = w, h
		} else {
			e.logger.Debug("image probe failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	case store.FileTypeAudio, store.FileTypeVideo:
		if d, err := mediaDuration(ctx, path); err == nil {
			m.Duration = d
		} else {
			e.logger.Debug("duration probe failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return m
}

func (e *Extractor) probeDocument(path string, m *Metadata) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		if words, err := docxWordCount(path); err == nil {
			m.WordCount = words
		} else {
			e.logger.Debug("docx probe failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	case ".xlsx":
		if sheets, err := xlsxSheetCount(path); err == nil {
			m.SheetCount = sheets
		} else {
			e.logger.Debug("xlsx probe failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func pdfPageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

func docxWordCount(path string) (int, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	content := r.Editable().GetContent()
	return len(strings.Fields(stripTags(content))), nil
}

// stripTags removes XML tags, keeping the text between them.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func xlsxSheetCount(path string) (int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return len(f.GetSheetList()), nil
}

func imageDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
