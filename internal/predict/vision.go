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

// VisionOptions configures the HTTP vision client.
type VisionOptions struct {
	Endpoint string
	Model    string
	// Timeout bounds a single describe request (default 30s).
	Timeout time.Duration
}

// HTTPVision talks to a local caption/OCR service.
//
// Request:  POST {endpoint}/v1/describe
//           {"model": "llava", "image": "<base64>"}
// Response: {"caption": "...", "confidence": 0.8,
//            "ocr_lines": [{"text": "...", "confidence": 0.9}, ...]}
type HTTPVision struct {
	client    *http.Client
	transport *http.Transport
	opts      VisionOptions
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ Vision = (*HTTPVision)(nil)

// NewHTTPVision creates the client.
func NewHTTPVision(opts VisionOptions, logger *slog.Logger) *HTTPVision {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Model == "" {
		opts.Model = "llava"
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     10 * time.Second,
	}
	return &HTTPVision{
		client:    &http.Client{Transport: transport},
		transport: transport,
		opts:      opts,
		logger:    logger,
	}
}

type describeRequest struct {
	Model string `json:"model"`
	Image string `json:"image"`
}

type describeResponse struct {
	Caption    string    `json:"caption"`
	Confidence float64   `json:"confidence"`
	OCRLines   []OCRLine `json:"ocr_lines"`
}

// Describe sends the encoded image and returns its caption and OCR lines.
func (v *HTTPVision) Describe(ctx context.Context, image []byte) (*Description, error) {
	if len(image) == 0 {
		return nil, loupeerr.Validation("empty image payload", nil)
	}

	body, err := json.Marshal(describeRequest{
		Model: v.opts.Model,
		Image: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, loupeerr.Internal("cannot encode describe request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.opts.Endpoint+"/v1/describe", bytes.NewReader(body))
	if err != nil {
		return nil, loupeerr.Internal("cannot build describe request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := v.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, loupeerr.New(loupeerr.ErrCodePredictorTimeout,
				fmt.Sprintf("vision predictor timed out after %s", v.opts.Timeout), err)
		}
		return nil, loupeerr.Predictor("vision predictor unreachable", err).
			WithSuggestion("check that the vision service is running: " + v.opts.Endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, loupeerr.Predictor(
			fmt.Sprintf("vision predictor returned %d: %s", resp.StatusCode, snippet), nil)
	}

	var dr describeResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, loupeerr.Predictor("cannot decode describe response", err)
	}

	v.logger.Debug("image described",
		slog.Int("image_bytes", len(image)),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("ocr_lines", len(dr.OCRLines)))

	return &Description{
		Caption:    dr.Caption,
		Confidence: dr.Confidence,
		OCRLines:   dr.OCRLines,
	}, nil
}

// Available probes the health endpoint with a short deadline.
func (v *HTTPVision) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		v.opts.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases pooled connections.
func (v *HTTPVision) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.transport.CloseIdleConnections()
	return nil
}
