package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loupehq/loupe/internal/embed"
	loupeerr "github.com/loupehq/loupe/internal/errors"
	"github.com/loupehq/loupe/internal/predict"
	"github.com/loupehq/loupe/internal/store"
)

const (
	// DefaultLimit is applied when a request leaves Limit zero.
	DefaultLimit = 10
	// MaxLimit caps a single page.
	MaxLimit = 100

	// hybridBoost rewards chunks found by both legs.
	hybridBoost = 1.2

	// legMultiplier over-fetches per leg so fusion, filtering, and
	// file grouping still fill a page.
	legMultiplier = 3
)

// Engine runs hybrid searches. Speech and Vision may be nil; the
// multimodal entry then reports the predictor unavailable.
type Engine struct {
	store    store.MetadataStore
	vector   store.VectorIndex
	fulltext store.FullTextIndex
	embedder embed.Embedder
	speech   predict.Speech
	vision   predict.Vision
	logger   *slog.Logger
}

// NewEngine nil-checks the required dependencies.
func NewEngine(
	metaStore store.MetadataStore,
	vector store.VectorIndex,
	fulltext store.FullTextIndex,
	embedder embed.Embedder,
	speech predict.Speech,
	vision predict.Vision,
	logger *slog.Logger,
) (*Engine, error) {
	switch {
	case metaStore == nil:
		return nil, loupeerr.Internal("search engine requires a metadata store", nil)
	case vector == nil:
		return nil, loupeerr.Internal("search engine requires a vector index", nil)
	case fulltext == nil:
		return nil, loupeerr.Internal("search engine requires a full-text index", nil)
	case embedder == nil:
		return nil, loupeerr.Internal("search engine requires an embedder", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    metaStore,
		vector:   vector,
		fulltext: fulltext,
		embedder: embedder,
		speech:   speech,
		vision:   vision,
		logger:   logger,
	}, nil
}

// Search runs the requested legs, fuses per chunk, aggregates per file,
// and paginates. One failing leg of a hybrid search degrades to the
// other with a warning; both failing is an error.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	req, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	fetch := legMultiplier * (req.Limit + req.Offset)

	var semHits []store.VectorHit
	var ftHits []*store.FullTextHit
	var semErr, ftErr error

	g, gctx := errgroup.WithContext(ctx)
	if req.Type == TypeSemantic || req.Type == TypeHybrid {
		g.Go(func() error {
			semHits, semErr = e.semanticLeg(gctx, req.Query, fetch, req.Threshold)
			return nil
		})
	}
	if req.Type == TypeFullText || req.Type == TypeHybrid {
		g.Go(func() error {
			ftHits, ftErr = e.lexicalLeg(gctx, req.Query, fetch)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	warning := ""
	switch req.Type {
	case TypeSemantic:
		if semErr != nil {
			return nil, semErr
		}
	case TypeFullText:
		if ftErr != nil {
			return nil, ftErr
		}
	case TypeHybrid:
		if semErr != nil && ftErr != nil {
			return nil, loupeerr.Internal(
				fmt.Sprintf("both search legs failed: semantic: %v; fulltext: %v", semErr, ftErr), nil)
		}
		if semErr != nil {
			warning = "semantic search unavailable, showing keyword results only"
			e.logger.Warn("semantic leg degraded", slog.String("error", semErr.Error()))
		}
		if ftErr != nil {
			warning = "keyword search unavailable, showing semantic results only"
			e.logger.Warn("fulltext leg degraded", slog.String("error", ftErr.Error()))
		}
	}

	candidates := fuse(semHits, ftHits)
	results, total, err := e.materialize(ctx, req, candidates)
	if err != nil {
		return nil, err
	}

	return &Response{
		Results:   results,
		Total:     total,
		Warning:   warning,
		ElapsedMS: time.Since(start).Milliseconds(),
	}, nil
}

func normalizeRequest(req Request) (Request, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, loupeerr.New(loupeerr.ErrCodeInvalidQuery, "query must not be empty", nil)
	}
	if req.Type == "" {
		req.Type = TypeHybrid
	}
	if !req.Type.Valid() {
		return req, loupeerr.New(loupeerr.ErrCodeInvalidQuery,
			fmt.Sprintf("unknown search type %q", req.Type), nil)
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	return req, nil
}

func (e *Engine) semanticLeg(ctx context.Context, query string, fetch int, threshold float64) ([]store.VectorHit, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.vector.Search(ctx, vec, fetch)
	if err != nil {
		return nil, err
	}
	kept := hits[:0]
	for _, h := range hits {
		if float64(h.Similarity) >= threshold {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

func (e *Engine) lexicalLeg(ctx context.Context, query string, fetch int) ([]*store.FullTextHit, error) {
	return e.fulltext.Search(ctx, store.FullTextQuery{
		Text:   query,
		Limit:  fetch,
		Boosts: store.DefaultBoosts,
	})
}

// fuse merges the legs by chunk ID. A chunk found by both becomes a
// hybrid match scoring max(semantic, lexical) x 1.2; the clamp to 1.0
// applies only when the winning score is on the bounded similarity
// scale, BM25 scores stay unbounded.
func fuse(semHits []store.VectorHit, ftHits []*store.FullTextHit) map[int64]*candidate {
	candidates := make(map[int64]*candidate, len(semHits)+len(ftHits))

	for _, h := range semHits {
		candidates[h.ChunkID] = &candidate{
			chunkID:    h.ChunkID,
			fileID:     h.FileID,
			score:      float64(h.Similarity),
			matchType:  MatchSemantic,
			normalized: true,
		}
	}

	for _, h := range ftHits {
		term := ""
		if len(h.MatchedTerms) > 0 {
			term = h.MatchedTerms[0]
		}
		if c, ok := candidates[h.ChunkID]; ok {
			winnerNormalized := c.score >= h.Score
			score := c.score
			if h.Score > score {
				score = h.Score
			}
			score *= hybridBoost
			if winnerNormalized && score > 1.0 {
				score = 1.0
			}
			c.score = score
			c.matchType = MatchHybrid
			c.normalized = winnerNormalized
			c.matchedTerm = term
			continue
		}
		candidates[h.ChunkID] = &candidate{
			chunkID:     h.ChunkID,
			fileID:      h.FileID,
			score:       h.Score,
			matchType:   MatchFullText,
			matchedTerm: term,
		}
	}
	return candidates
}

// materialize resolves candidates against the metadata store, filters by
// file type, keeps the best chunk per file, sorts, and paginates.
func (e *Engine) materialize(ctx context.Context, req Request, candidates map[int64]*candidate) ([]Result, int, error) {
	if len(candidates) == 0 {
		return []Result{}, 0, nil
	}

	wanted := make(map[store.FileType]bool, len(req.FileTypes))
	for _, ft := range req.FileTypes {
		wanted[store.CanonicalFileType(ft)] = true
	}

	chunkIDs := make([]int64, 0, len(candidates))
	for id := range candidates {
		chunkIDs = append(chunkIDs, id)
	}
	chunks, err := e.store.GetChunksByIDs(ctx, chunkIDs)
	if err != nil {
		return nil, 0, err
	}

	// Best candidate per file; ties go to the lower chunk index.
	type fileBest struct {
		cand  *candidate
		chunk *store.Chunk
	}
	best := make(map[int64]*fileBest)
	for _, c := range candidates {
		chunk, ok := chunks[c.chunkID]
		if !ok {
			// The index is ahead of the store; skip the orphan.
			continue
		}
		cur, ok := best[c.fileID]
		if !ok || c.score > cur.cand.score ||
			(c.score == cur.cand.score && chunk.ChunkIndex < cur.chunk.ChunkIndex) {
			best[c.fileID] = &fileBest{cand: c, chunk: chunk}
		}
	}

	var results []Result
	for fileID, fb := range best {
		file, err := e.store.GetFile(ctx, fileID)
		if err != nil {
			continue // deleted since indexing
		}
		if len(wanted) > 0 && !wanted[file.Type] {
			continue
		}
		results = append(results, Result{
			FileID:         file.ID,
			FileName:       file.Name,
			FilePath:       file.Path,
			FileType:       file.Type,
			RelevanceScore: fb.cand.score,
			PreviewText:    preview(fb.chunk.Content, previewLength),
			Highlight:      highlight(fb.chunk.Content, req.Query, fb.cand.matchedTerm),
			MatchType:      fb.cand.matchType,
			FileSize:       file.Size,
			CreatedAt:      file.CTime,
			ModifiedAt:     file.MTime,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].FileID < results[j].FileID
	})

	total := len(results)
	if req.Offset >= total {
		return []Result{}, total, nil
	}
	end := req.Offset + req.Limit
	if end > total {
		end = total
	}
	return results[req.Offset:end], total, nil
}
