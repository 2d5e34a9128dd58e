package embed

import (
	"context"
	"log/slog"
)

// Resilient wraps an Embedder so embedding failures never fail the
// indexing pipeline: a failed text or batch is replaced by zero vectors
// and logged. Callers detect the substitution with IsZero and lower the
// file's confidence instead of dropping it.
type Resilient struct {
	inner  Embedder
	logger *slog.Logger
}

var _ Embedder = (*Resilient)(nil)

// NewResilient creates the zero-vector-substituting wrapper.
func NewResilient(inner Embedder, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resilient{inner: inner, logger: logger}
}

// Embed returns a zero vector instead of an error. Context cancellation
// still propagates so a stopped job does not grind through substitutes.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := r.inner.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("embedding failed, substituting zero vector",
			slog.String("error", err.Error()))
		return zeroVector(r.inner.Dimensions()), nil
	}
	return vec, nil
}

// EmbedBatch substitutes zero vectors for the whole batch on failure.
func (r *Resilient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := r.inner.EmbedBatch(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("batch embedding failed, substituting zero vectors",
			slog.Int("batch", len(texts)),
			slog.String("error", err.Error()))
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = zeroVector(r.inner.Dimensions())
		}
		return out, nil
	}
	return vecs, nil
}

// Dimensions returns the inner embedder's dimension.
func (r *Resilient) Dimensions() int { return r.inner.Dimensions() }

// ModelName returns the inner embedder's model identifier.
func (r *Resilient) ModelName() string { return r.inner.ModelName() }

// Available delegates to the inner embedder.
func (r *Resilient) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

// Close closes the inner embedder.
func (r *Resilient) Close() error { return r.inner.Close() }
