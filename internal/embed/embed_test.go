package embed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupehq/loupe/internal/config"
	loupeerr "github.com/loupehq/loupe/internal/errors"
)

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestStaticDeterministic(t *testing.T) {
	e := NewStatic(64)
	defer e.Close()
	ctx := context.Background()

	a1, err := e.Embed(ctx, "quarterly revenue report")
	require.NoError(t, err)
	a2, err := e.Embed(ctx, "quarterly revenue report")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	b, err := e.Embed(ctx, "tomato soup recipe")
	require.NoError(t, err)
	assert.NotEqual(t, a1, b)

	assert.InDelta(t, 1.0, vectorNorm(a1), 1e-5)
	assert.Len(t, a1, 64)
}

func TestStaticEmptyTextIsZeroVector(t *testing.T) {
	e := NewStatic(16)
	defer e.Close()

	v, err := e.Embed(context.Background(), "   \n ")
	require.NoError(t, err)
	assert.True(t, IsZero(v))
}

func TestStaticSimilarTextsCloser(t *testing.T) {
	e := NewStatic(256)
	defer e.Close()
	ctx := context.Background()

	dot := func(a, b []float32) float64 {
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}

	base, _ := e.Embed(ctx, "annual financial report for shareholders")
	near, _ := e.Embed(ctx, "financial report for the annual meeting")
	far, _ := e.Embed(ctx, "slow roasted tomato soup with basil")

	assert.Greater(t, dot(base, near), dot(base, far))
}

func newEmbedServer(t *testing.T, dims int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		if calls != nil {
			calls.Add(1)
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([][]float64, len(req.Input))
		for i := range req.Input {
			vec := make([]float64, dims)
			vec[i%dims] = 1
			out[i] = vec
		}
		json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
	}))
}

func TestHTTPEmbedBatch(t *testing.T) {
	srv := newEmbedServer(t, 8, nil)
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPOptions{Endpoint: srv.URL, Model: "test", Dimensions: 8}, nil)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.Len(t, v, 8)
		assert.InDelta(t, 1.0, vectorNorm(v), 1e-5)
	}
}

func TestHTTPEmbedEmptyTextSkipsRequest(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, 8, &calls)
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPOptions{Endpoint: srv.URL, Model: "test", Dimensions: 8}, nil)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"", "alpha", "  "})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.True(t, IsZero(vecs[0]))
	assert.False(t, IsZero(vecs[1]))
	assert.True(t, IsZero(vecs[2]))
	assert.Equal(t, int64(1), calls.Load())
}

func TestHTTPEmbedSplitsLargeBatches(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, 4, &calls)
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPOptions{
		Endpoint: srv.URL, Model: "test", Dimensions: 4, BatchSize: 2,
	}, nil)
	defer e.Close()

	texts := []string{"a1", "b2", "c3", "d4", "e5"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, int64(3), calls.Load())
}

func TestHTTPEmbedDimensionMismatch(t *testing.T) {
	srv := newEmbedServer(t, 4, nil)
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPOptions{Endpoint: srv.URL, Model: "test", Dimensions: 8}, nil)
	defer e.Close()

	_, err := e.Embed(context.Background(), "alpha")
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeDimensionMismatch, loupeerr.GetCode(err))
}

func TestHTTPEmbedRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "test", "embeddings": [][]float64{{1, 0, 0, 0}},
		})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPOptions{
		Endpoint: srv.URL, Model: "test", Dimensions: 4, MaxRetries: 3,
	}, nil)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int64(3), calls.Load())
}

func TestHTTPEmbedUnreachable(t *testing.T) {
	e := NewHTTPEmbedder(HTTPOptions{
		Endpoint: "http://127.0.0.1:1", Model: "test", Dimensions: 4, MaxRetries: 1,
	}, nil)
	defer e.Close()

	_, err := e.Embed(context.Background(), "alpha")
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeEmbeddingFailed, loupeerr.GetCode(err))
}

func TestCachedAvoidsRepeatCalls(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, 4, &calls)
	defer srv.Close()

	inner := NewHTTPEmbedder(HTTPOptions{Endpoint: srv.URL, Model: "test", Dimensions: 4}, nil)
	c := NewCached(inner, 10)
	defer c.Close()
	ctx := context.Background()

	v1, err := c.Embed(ctx, "repeated query")
	require.NoError(t, err)
	v2, err := c.Embed(ctx, "repeated query")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCachedBatchOnlySendsMisses(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, 4, &calls)
	defer srv.Close()

	inner := NewHTTPEmbedder(HTTPOptions{Endpoint: srv.URL, Model: "test", Dimensions: 4}, nil)
	c := NewCached(inner, 10)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Embed(ctx, "cached one")
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	vecs, err := c.EmbedBatch(ctx, []string{"cached one", "new one"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, int64(2), calls.Load())

	// Fully cached batch makes no request at all.
	_, err = c.EmbedBatch(ctx, []string{"cached one", "new one"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

type failingEmbedder struct{ dims int }

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("service down")
}
func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("service down")
}
func (f *failingEmbedder) Dimensions() int                    { return f.dims }
func (f *failingEmbedder) ModelName() string                  { return "failing" }
func (f *failingEmbedder) Available(ctx context.Context) bool { return false }
func (f *failingEmbedder) Close() error                       { return nil }

func TestResilientSubstitutesZeroVectors(t *testing.T) {
	r := NewResilient(&failingEmbedder{dims: 8}, nil)
	ctx := context.Background()

	vec, err := r.Embed(ctx, "anything")
	require.NoError(t, err)
	assert.True(t, IsZero(vec))
	assert.Len(t, vec, 8)

	vecs, err := r.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.True(t, IsZero(v))
	}
}

func TestResilientPropagatesCancellation(t *testing.T) {
	r := NewResilient(&failingEmbedder{dims: 8}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Embed(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactoryStaticEndpoint(t *testing.T) {
	cfg := config.Default().Embedding
	cfg.Endpoint = StaticEndpoint
	cfg.Dim = 32

	e := New(cfg, nil)
	defer e.Close()
	assert.Equal(t, 32, e.Dimensions())
	assert.Equal(t, "static-hash", e.ModelName())
	assert.True(t, e.Available(context.Background()))
}
