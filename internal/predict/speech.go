package predict

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	loupeerr "github.com/loupehq/loupe/internal/errors"
)

// SpeechOptions configures the HTTP speech client.
type SpeechOptions struct {
	Endpoint string
	// Timeout bounds a single transcription request (default 60s).
	Timeout time.Duration
}

// HTTPSpeech talks to a local transcription service.
//
// Request:  POST {endpoint}/v1/transcribe
//           {"audio": "<base64 wav>", "format": "wav"}
// Response: {"text": "...", "confidence": 0.92, "language": "en",
//            "duration_ms": 4200}
type HTTPSpeech struct {
	client    *http.Client
	transport *http.Transport
	opts      SpeechOptions
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ Speech = (*HTTPSpeech)(nil)

// NewHTTPSpeech creates the client. No request is made until Transcribe
// or Available is called.
func NewHTTPSpeech(opts SpeechOptions, logger *slog.Logger) *HTTPSpeech {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     10 * time.Second,
	}
	// No client-level timeout; the per-request context carries the
	// deadline so callers can cancel early.
	return &HTTPSpeech{
		client:    &http.Client{Transport: transport},
		transport: transport,
		opts:      opts,
		logger:    logger,
	}
}

type transcribeRequest struct {
	Audio  string `json:"audio"`
	Format string `json:"format"`
}

type transcribeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	DurationMS int64   `json:"duration_ms"`
}

// Transcribe sends the WAV payload and returns the transcript.
func (s *HTTPSpeech) Transcribe(ctx context.Context, wav []byte) (*Transcript, error) {
	if len(wav) == 0 {
		return nil, loupeerr.Validation("empty audio payload", nil)
	}

	body, err := json.Marshal(transcribeRequest{
		Audio:  base64.StdEncoding.EncodeToString(wav),
		Format: "wav",
	})
	if err != nil {
		return nil, loupeerr.Internal("cannot encode transcription request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.opts.Endpoint+"/v1/transcribe", bytes.NewReader(body))
	if err != nil {
		return nil, loupeerr.Internal("cannot build transcription request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, loupeerr.New(loupeerr.ErrCodePredictorTimeout,
				fmt.Sprintf("speech predictor timed out after %s", s.opts.Timeout), err)
		}
		return nil, loupeerr.Predictor("speech predictor unreachable", err).
			WithSuggestion("check that the transcription service is running: " + s.opts.Endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, loupeerr.Predictor(
			fmt.Sprintf("speech predictor returned %d: %s", resp.StatusCode, snippet), nil)
	}

	var tr transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, loupeerr.Predictor("cannot decode transcription response", err)
	}

	s.logger.Debug("transcription complete",
		slog.Int("audio_bytes", len(wav)),
		slog.Duration("elapsed", time.Since(start)),
		slog.Float64("confidence", tr.Confidence))

	return &Transcript{
		Text:       tr.Text,
		Confidence: tr.Confidence,
		Language:   tr.Language,
		DurationMS: tr.DurationMS,
	}, nil
}

// Available probes the health endpoint with a short deadline.
func (s *HTTPSpeech) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.opts.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases pooled connections.
func (s *HTTPSpeech) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.transport.CloseIdleConnections()
	return nil
}
