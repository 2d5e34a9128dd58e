package parser

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/loupehq/loupe/internal/predict"
)

// audioVariant transcribes audio through the speech predictor. Only WAV
// is handled natively; other audio formats go through the video variant's
// ffmpeg path when the tool is present.
type audioVariant struct {
	speech      predict.Speech
	maxDuration int // seconds
}

func (a *audioVariant) CanParse(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}

func (a *audioVariant) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	if a.speech == nil || !a.speech.Available(ctx) {
		return metadataOnly(path, "speech predictor unavailable"), nil
	}

	wav, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed, wasTrimmed := trimWAV(wav, a.maxDuration)

	tr, err := a.speech.Transcribe(ctx, trimmed)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return metadataOnly(path, fmt.Sprintf("transcription failed: %v", err)), nil
	}

	md := map[string]string{"format": "wav"}
	if tr.Language != "" {
		md["language"] = tr.Language
	}
	if wasTrimmed {
		md["audio_trimmed"] = "true"
	}
	return &ParsedContent{
		Text:       tr.Text,
		Language:   tr.Language,
		Confidence: tr.Confidence,
		Metadata:   md,
	}, nil
}

// trimWAV caps the data chunk so the payload covers at most maxSeconds
// of audio. Unparseable input passes through untouched; the predictor
// reports its own errors.
func trimWAV(wav []byte, maxSeconds int) ([]byte, bool) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wav, false
	}

	// Walk the chunks to find fmt (for byte rate) and data.
	var byteRate uint32
	pos := 12
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(wav) {
			size = len(wav) - body
		}

		switch id {
		case "fmt ":
			if size >= 12 {
				byteRate = binary.LittleEndian.Uint32(wav[body+8 : body+12])
			}
		case "data":
			if byteRate == 0 {
				return wav, false
			}
			maxBytes := int(byteRate) * maxSeconds
			if size <= maxBytes {
				return wav, false
			}
			// Rewrite the data chunk size and drop the excess; later
			// chunks are discarded with it.
			out := make([]byte, body+maxBytes)
			copy(out, wav[:body+maxBytes])
			binary.LittleEndian.PutUint32(out[pos+4:pos+8], uint32(maxBytes))
			binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
			return out, true
		}
		pos = body + size
	}
	return wav, false
}

// videoVariant extracts the audio track with ffmpeg and transcribes it.
type videoVariant struct {
	speech      predict.Speech
	maxDuration int
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
	// Non-WAV audio rides the same ffmpeg decode path.
	".mp3": true, ".m4a": true, ".flac": true, ".ogg": true,
}

func (v *videoVariant) CanParse(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

func (v *videoVariant) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	if v.speech == nil || !v.speech.Available(ctx) {
		return metadataOnly(path, "speech predictor unavailable"), nil
	}
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return metadataOnly(path, "ffmpeg not found on PATH"), nil
	}

	tmp, err := os.CreateTemp("", "loupe-audio-*.wav")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	// Mono 16 kHz PCM, first maxDuration seconds.
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-y", "-i", path,
		"-t", fmt.Sprintf("%d", v.maxDuration),
		"-vn", "-ac", "1", "-ar", "16000", "-f", "wav",
		tmpPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return metadataOnly(path, fmt.Sprintf("audio extraction failed: %s", firstLine(string(out)))), nil
	}

	wav, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, err
	}
	tr, err := v.speech.Transcribe(ctx, wav)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return metadataOnly(path, fmt.Sprintf("transcription failed: %v", err)), nil
	}

	md := map[string]string{"format": strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")}
	if tr.Language != "" {
		md["language"] = tr.Language
	}
	return &ParsedContent{
		Text:       tr.Text,
		Language:   tr.Language,
		Confidence: tr.Confidence,
		Metadata:   md,
	}, nil
}

// imageVariant runs OCR through the vision predictor.
type imageVariant struct {
	vision        predict.Vision
	minConfidence float64
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".webp": true, ".tiff": true,
}

func (i *imageVariant) CanParse(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

func (i *imageVariant) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	if i.vision == nil || !i.vision.Available(ctx) {
		return metadataOnly(path, "vision predictor unavailable"), nil
	}

	img, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	desc, err := i.vision.Describe(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return metadataOnly(path, fmt.Sprintf("image description failed: %v", err)), nil
	}

	var lines []string
	var confSum float64
	for _, line := range desc.OCRLines {
		if line.Confidence >= i.minConfidence {
			lines = append(lines, line.Text)
			confSum += line.Confidence
		}
	}

	md := map[string]string{
		"format": strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}
	if desc.Caption != "" {
		md["caption"] = desc.Caption
	}

	if len(lines) == 0 {
		// No text in the image; the caption still makes it findable.
		confidence := desc.Confidence
		if confidence > confidenceFallback {
			confidence = confidenceFallback
		}
		return &ParsedContent{
			Text:       desc.Caption,
			Confidence: confidence,
			Metadata:   md,
		}, nil
	}

	return &ParsedContent{
		Text:       strings.Join(lines, "\n"),
		Confidence: confSum / float64(len(lines)),
		Metadata:   md,
	}, nil
}

// metadataOnly is the fallback when a predictor or decoder is missing:
// no text, capped confidence, reason recorded.
func metadataOnly(path, reason string) *ParsedContent {
	return &ParsedContent{
		Confidence: confidenceFallback,
		Metadata: map[string]string{
			"format":   strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			"fallback": reason,
		},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
