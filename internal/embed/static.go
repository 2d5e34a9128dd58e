package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
)

// Static generates deterministic hash-projection embeddings. It works
// without any external service (no network, no model download), trading
// semantic quality for reproducibility; tests and offline runs use it.
type Static struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*Static)(nil)

// Weights for vector generation.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// staticStopWords filters high-frequency words that carry no signal.
var staticStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "is": true, "it": true,
	"for": true, "on": true, "with": true, "this": true, "that": true,
}

// tokenRegex matches alphanumeric sequences.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStatic creates a static embedder. A non-positive dim uses
// StaticDimensions.
func NewStatic(dim int) *Static {
	if dim <= 0 {
		dim = StaticDimensions
	}
	return &Static{dims: dim}
}

// Embed generates the embedding for a single text.
func (e *Static) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zeroVector(e.dims), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch generates embeddings for the texts in order.
func (e *Static) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// generateVector projects tokens and character trigrams into the vector
// by hashing each to an index.
func (e *Static) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)

	lower := strings.ToLower(text)
	for _, token := range tokenRegex.FindAllString(lower, -1) {
		if staticStopWords[token] {
			continue
		}
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}

	compact := strings.Join(strings.Fields(lower), " ")
	runes := []rune(compact)
	for i := 0; i+ngramSize <= len(runes); i++ {
		vector[hashToIndex(string(runes[i:i+ngramSize]), e.dims)] += ngramWeight
	}
	return vector
}

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

// Dimensions returns the embedding dimension.
func (e *Static) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *Static) ModelName() string { return "static-hash" }

// Available always reports true; there is no external service.
func (e *Static) Available(ctx context.Context) bool { return true }

// Close marks the embedder closed.
func (e *Static) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
