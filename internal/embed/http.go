package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	loupeerr "github.com/loupehq/loupe/internal/errors"
)

// HTTPOptions configures the HTTP embedder.
type HTTPOptions struct {
	Endpoint   string
	Model      string
	Dimensions int
	BatchSize  int
	// Timeout bounds a single batch request (default 30s).
	Timeout    time.Duration
	MaxRetries int
}

// HTTPEmbedder generates embeddings through an Ollama-compatible
// `POST /api/embed` endpoint.
type HTTPEmbedder struct {
	client    *http.Client
	transport *http.Transport
	opts      HTTPOptions
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates the client. No request is made until the first
// Embed call; use Available for a health probe.
func NewHTTPEmbedder(opts HTTPOptions, logger *slog.Logger) *HTTPEmbedder {
	if opts.BatchSize < MinBatchSize {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize > MaxBatchSize {
		opts.BatchSize = MaxBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = DefaultDimensions
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}
	// No client-level timeout; each request carries its own context
	// deadline so cancellation works mid-batch.
	return &HTTPEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		opts:      opts,
		logger:    logger,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed generates the embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for the texts in order. Empty texts
// become zero vectors without a round trip; batches larger than the
// configured size are split.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))

	// Collect the texts that actually need a request.
	var pending []string
	var pendingIdx []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = zeroVector(e.opts.Dimensions)
			continue
		}
		pending = append(pending, t)
		pendingIdx = append(pendingIdx, i)
	}

	for off := 0; off < len(pending); off += e.opts.BatchSize {
		end := off + e.opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		vecs, err := e.embedWithRetry(ctx, pending[off:end])
		if err != nil {
			return nil, err
		}
		for i, v := range vecs {
			results[pendingIdx[off+i]] = v
		}
	}
	return results, nil
}

func (e *HTTPEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<attempt)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vecs, err := e.doEmbed(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil || !loupeerr.IsRetryable(err) {
			return nil, err
		}
		e.logger.Warn("embedding request failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("batch", len(texts)),
			slog.String("error", err.Error()))
	}
	return nil, lastErr
}

func (e *HTTPEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.opts.Model, Input: texts})
	if err != nil {
		return nil, loupeerr.Internal("cannot encode embed request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.opts.Endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, loupeerr.Internal("cannot build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, loupeerr.New(loupeerr.ErrCodePredictorTimeout,
				fmt.Sprintf("embedding request timed out after %s", e.opts.Timeout), err)
		}
		return nil, loupeerr.New(loupeerr.ErrCodeEmbeddingFailed,
			"embedding service unreachable", err).
			WithSuggestion("check that the embedding service is running: " + e.opts.Endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, loupeerr.New(loupeerr.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding service returned %d: %s", resp.StatusCode, snippet), nil)
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, loupeerr.New(loupeerr.ErrCodeEmbeddingFailed,
			"cannot decode embed response", err)
	}
	if len(er.Embeddings) != len(texts) {
		return nil, loupeerr.New(loupeerr.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors",
				len(texts), len(er.Embeddings)), nil)
	}

	vecs := make([][]float32, len(er.Embeddings))
	for i, raw := range er.Embeddings {
		if len(raw) != e.opts.Dimensions {
			return nil, loupeerr.New(loupeerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("model returned dimension %d, configured %d",
					len(raw), e.opts.Dimensions), nil)
		}
		v := make([]float32, len(raw))
		for j, f := range raw {
			v[j] = float32(f)
		}
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

// Dimensions returns the configured embedding dimension.
func (e *HTTPEmbedder) Dimensions() int { return e.opts.Dimensions }

// ModelName returns the model identifier.
func (e *HTTPEmbedder) ModelName() string { return e.opts.Model }

// Available probes the service root with a short deadline.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.opts.Endpoint+"/", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases pooled connections.
func (e *HTTPEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
