package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings to keep. At 768
// dimensions x 4 bytes x 1000 entries this is roughly 3MB.
const DefaultCacheSize = 1000

// Cached wraps an Embedder with an LRU cache so repeated texts (query
// re-runs, unchanged chunks) skip the round trip.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

var _ Embedder = (*Cached)(nil)

// NewCached creates a caching wrapper around inner.
func NewCached(inner Embedder, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &Cached{inner: inner, cache: cache}
}

// cacheKey hashes model+text so keys have constant length.
func (c *Cached) cacheKey(text string) string {
	h := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// Embed returns the cached vector when present, otherwise computes and
// stores it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch checks each text individually and only sends the misses to
// the inner embedder.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(t)); ok {
			results[i] = vec
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for i, vec := range vecs {
		results[missingIdx[i]] = vec
		c.cache.Add(c.cacheKey(missing[i]), vec)
	}
	return results, nil
}

// Len returns the number of cached embeddings.
func (c *Cached) Len() int { return c.cache.Len() }

// Dimensions returns the inner embedder's dimension.
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// ModelName returns the inner embedder's model identifier.
func (c *Cached) ModelName() string { return c.inner.ModelName() }

// Available delegates to the inner embedder.
func (c *Cached) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close purges the cache and closes the inner embedder.
func (c *Cached) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
