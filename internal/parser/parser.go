// Package parser extracts text from files by format. Extraction failure
// is data, not control flow: a variant error becomes a ParsedContent
// with zero confidence and an error entry in the metadata, and the
// pipeline indexes what it can. Only context cancellation propagates.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/loupehq/loupe/internal/predict"
)

// DefaultMaxContentLength caps extracted text at 1 MiB.
const DefaultMaxContentLength = 1 * 1024 * 1024

// truncationMarker is appended when text is cut at the length cap.
const truncationMarker = "\n[content truncated]"

// Confidence levels per extraction path.
const (
	confidenceText     = 0.9
	confidenceOffice   = 0.9
	confidencePDF      = 0.8
	confidenceFallback = 0.6
)

// ParsedContent is the outcome of one extraction.
type ParsedContent struct {
	Text       string
	Title      string
	Language   string
	Confidence float64
	Metadata   map[string]string
}

// Variant handles one family of formats.
type Variant interface {
	CanParse(path string) bool
	Parse(ctx context.Context, path string) (*ParsedContent, error)
}

// Options tunes extraction.
type Options struct {
	// MaxContentLength caps the extracted text (default 1 MiB).
	MaxContentLength int
	// PDFGarbageFilter drops repeated-character runs and low-signal
	// lines from PDF text. Off by default; scanned PDFs with noisy
	// extraction benefit, clean ones lose nothing.
	PDFGarbageFilter bool
	// OCRMinConfidence filters OCR lines below this confidence.
	OCRMinConfidence float64
	// SpeechMaxDuration caps audio fed to the speech predictor.
	SpeechMaxDuration int // seconds; 0 means 15 minutes
}

// Parser dispatches to the first variant that claims the path.
type Parser struct {
	variants []Variant
	opts     Options
	logger   *slog.Logger
}

// New builds the registry. Speech and vision may be nil; the audio,
// video, and image variants then fall back to metadata-only results.
func New(opts Options, speech predict.Speech, vision predict.Vision, logger *slog.Logger) *Parser {
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = DefaultMaxContentLength
	}
	if opts.OCRMinConfidence <= 0 {
		opts.OCRMinConfidence = 0.3
	}
	if opts.SpeechMaxDuration <= 0 {
		opts.SpeechMaxDuration = 15 * 60
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Parser{opts: opts, logger: logger}
	p.variants = []Variant{
		&textLikeVariant{},
		&officeVariant{},
		&pdfVariant{garbageFilter: opts.PDFGarbageFilter},
		&audioVariant{speech: speech, maxDuration: opts.SpeechMaxDuration},
		&videoVariant{speech: speech, maxDuration: opts.SpeechMaxDuration},
		&imageVariant{vision: vision, minConfidence: opts.OCRMinConfidence},
	}
	return p
}

// CanParse reports whether any variant claims the path.
func (p *Parser) CanParse(path string) bool {
	for _, v := range p.variants {
		if v.CanParse(path) {
			return true
		}
	}
	return false
}

// Parse extracts text from path. Variant errors become a zero-confidence
// result carrying the error in metadata; only cancellation is returned
// as an error.
func (p *Parser) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, v := range p.variants {
		if !v.CanParse(path) {
			continue
		}
		pc, err := v.Parse(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Debug("extraction failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return &ParsedContent{
				Title:    titleFromPath(path),
				Metadata: map[string]string{"error": err.Error()},
			}, nil
		}
		p.finish(path, pc)
		return pc, nil
	}

	return &ParsedContent{
		Title:    titleFromPath(path),
		Metadata: map[string]string{"error": fmt.Sprintf("no parser for %s", filepath.Ext(path))},
	}, nil
}

// finish applies the shared post-processing: default title and the
// length cap.
func (p *Parser) finish(path string, pc *ParsedContent) {
	if pc.Title == "" {
		pc.Title = titleFromPath(path)
	}
	if pc.Metadata == nil {
		pc.Metadata = map[string]string{}
	}
	if len(pc.Text) > p.opts.MaxContentLength {
		pc.Text = truncateRuneSafe(pc.Text, p.opts.MaxContentLength) + truncationMarker
		pc.Metadata["truncated"] = "true"
	}
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// truncateRuneSafe cuts s at no more than max bytes without splitting a
// rune.
func truncateRuneSafe(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
