// Package predict holds the narrow client interfaces for the external
// AI predictors (speech-to-text, image caption/OCR). The services are
// opaque HTTP endpoints; everything model-specific stays behind these
// interfaces so parsers and search never see transport details.
package predict

import "context"

// Transcript is the speech predictor's output for one audio payload.
type Transcript struct {
	Text       string
	Confidence float64
	Language   string
	DurationMS int64
}

// Speech converts audio into text.
type Speech interface {
	// Transcribe sends a WAV payload and returns the transcript.
	Transcribe(ctx context.Context, wav []byte) (*Transcript, error)
	// Available reports whether the predictor responds to a health probe.
	Available(ctx context.Context) bool
	Close() error
}

// OCRLine is one recognized text line with its confidence.
type OCRLine struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Description is the vision predictor's output for one image.
type Description struct {
	Caption    string
	Confidence float64
	OCRLines   []OCRLine
}

// Vision captions images and recognizes text in them.
type Vision interface {
	// Describe sends an encoded image and returns caption plus OCR lines.
	Describe(ctx context.Context, image []byte) (*Description, error)
	Available(ctx context.Context) bool
	Close() error
}
