package search

import (
	"context"
	"strings"
	"time"

	loupeerr "github.com/loupehq/loupe/internal/errors"
)

// MultimodalSearch converts a voice or image payload to text, then runs
// a normal search with it. A missing or unreachable predictor is an
// error, never a silent empty result.
func (e *Engine) MultimodalSearch(ctx context.Context, req MultimodalRequest) (*Response, error) {
	start := time.Now()

	if len(req.Payload) == 0 {
		return nil, loupeerr.Validation("multimodal search requires a payload", nil)
	}

	var converted string
	var confidence float64
	var err error
	switch req.InputType {
	case InputVoice:
		converted, confidence, err = e.transcribe(ctx, req.Payload)
	case InputImage:
		converted, confidence, err = e.describe(ctx, req.Payload)
	default:
		return nil, loupeerr.Validation("unsupported input type: "+string(req.InputType), nil)
	}
	if err != nil {
		return nil, err
	}

	converted = strings.TrimSpace(converted)
	if converted == "" {
		return nil, loupeerr.New(loupeerr.ErrCodeInvalidQuery,
			"no searchable text recognized in the "+string(req.InputType)+" input", nil)
	}

	resp, err := e.Search(ctx, Request{
		Query:     converted,
		Type:      req.Type,
		Limit:     req.Limit,
		Offset:    req.Offset,
		Threshold: req.Threshold,
		FileTypes: req.FileTypes,
	})
	if err != nil {
		return nil, err
	}
	resp.ConvertedText = converted
	resp.Confidence = confidence
	resp.ElapsedMS = time.Since(start).Milliseconds()
	return resp, nil
}

func (e *Engine) transcribe(ctx context.Context, audio []byte) (string, float64, error) {
	if e.speech == nil {
		return "", 0, loupeerr.Predictor("speech recognition is not configured", nil).
			WithSuggestion("set ai.speech.endpoint and restart")
	}
	tr, err := e.speech.Transcribe(ctx, audio)
	if err != nil {
		return "", 0, err
	}
	return tr.Text, tr.Confidence, nil
}

func (e *Engine) describe(ctx context.Context, image []byte) (string, float64, error) {
	if e.vision == nil {
		return "", 0, loupeerr.Predictor("image understanding is not configured", nil).
			WithSuggestion("set ai.image.endpoint and restart")
	}
	desc, err := e.vision.Describe(ctx, image)
	if err != nil {
		return "", 0, err
	}

	// OCR text joins the caption so on-image words are searchable too.
	parts := []string{desc.Caption}
	for _, line := range desc.OCRLines {
		parts = append(parts, line.Text)
	}
	return strings.Join(parts, " "), desc.Confidence, nil
}
