package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	loupeerr "github.com/loupehq/loupe/internal/errors"
)

// vectorMetaVersion is the sidecar format version. Bump on layout changes.
const vectorMetaVersion = 1

// VectorIndexConfig tunes the HNSW graph.
type VectorIndexConfig struct {
	Dim      int
	M        int
	EfSearch int
	// NList and NProbe are IVF-style parameters kept in the sidecar for
	// compatibility; the graph index does not use them.
	NList  int
	NProbe int
	// Strategy is recorded in the sidecar, e.g. "500+50".
	Strategy string
}

// HNSWIndex implements VectorIndex on coder/hnsw. Deletion is a soft
// tombstone: the side-table entry is removed and the graph node orphaned
// until Compact rebuilds the graph from live entries.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorIndexConfig
	path   string // graph file; sidecar is path with .meta extension

	meta     map[uint64]VectorMeta // vector_id -> side metadata
	chunkMap map[int64]uint64      // chunk_id -> vector_id
	nextID   uint64

	lastUpdated time.Time
	logger      *slog.Logger
	closed      bool
}

var _ VectorIndex = (*HNSWIndex)(nil)

// vectorSidecar is the gob-encoded side-metadata file.
type vectorSidecar struct {
	Version     int
	Dim         int
	Count       int
	Strategy    string
	NList       int
	NProbe      int
	NextID      uint64
	LastUpdated time.Time
	Entries     map[uint64]VectorMeta
}

func newGraph(cfg VectorIndexConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// NewHNSWIndex creates the index, loading the persisted pair from path
// when present. A corrupted pair falls back to the previous generation
// (the .bak pair left by the last Persist); with no usable generation the
// index starts empty with a warning.
func NewHNSWIndex(path string, cfg VectorIndexConfig, logger *slog.Logger) (*HNSWIndex, error) {
	if cfg.Dim < 1 {
		return nil, loupeerr.Validation(fmt.Sprintf("vector dimension must be positive, got %d", cfg.Dim), nil)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	idx := &HNSWIndex{
		graph:    newGraph(cfg),
		config:   cfg,
		path:     path,
		meta:     make(map[uint64]VectorMeta),
		chunkMap: make(map[int64]uint64),
		logger:   logger,
	}

	if path == "" {
		return idx, nil
	}

	if err := idx.load(path); err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		logger.Warn("vector index unreadable, trying previous generation",
			slog.String("path", path), slog.String("error", err.Error()))
		idx.reset()
		if bakErr := idx.load(path + ".bak"); bakErr != nil {
			if !os.IsNotExist(bakErr) {
				logger.Warn("previous vector generation unreadable, starting empty",
					slog.String("error", bakErr.Error()))
			}
			idx.reset()
		}
	}
	return idx, nil
}

func (x *HNSWIndex) reset() {
	x.graph = newGraph(x.config)
	x.meta = make(map[uint64]VectorMeta)
	x.chunkMap = make(map[int64]uint64)
	x.nextID = 0
}

// Add inserts one vector per chunk and returns the assigned vector IDs,
// which increase monotonically. A chunk that already has a vector is
// tombstoned first so re-adds behave as updates.
func (x *HNSWIndex) Add(ctx context.Context, vectors [][]float32, chunkIDs []int64, meta []VectorMeta) ([]uint64, error) {
	if len(vectors) != len(chunkIDs) || len(vectors) != len(meta) {
		return nil, loupeerr.Validation(fmt.Sprintf(
			"vectors, chunkIDs, and meta must align: %d/%d/%d",
			len(vectors), len(chunkIDs), len(meta)), nil)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, fmt.Errorf("vector index is closed")
	}

	for _, v := range vectors {
		if len(v) != x.config.Dim {
			return nil, ErrDimensionMismatch{Expected: x.config.Dim, Got: len(v)}
		}
	}

	ids := make([]uint64, len(vectors))
	now := time.Now()
	for i, chunkID := range chunkIDs {
		if old, ok := x.chunkMap[chunkID]; ok {
			// Tombstone the stale vector; the graph node is orphaned
			// until the next compaction.
			delete(x.meta, old)
			delete(x.chunkMap, chunkID)
		}

		id := x.nextID
		x.nextID++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		x.graph.Add(hnsw.MakeNode(id, vec))

		m := meta[i]
		m.VectorID = id
		m.ChunkID = chunkID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		x.meta[id] = m
		x.chunkMap[chunkID] = id
		ids[i] = id
	}
	x.lastUpdated = now
	return ids, nil
}

// Search returns up to k nearest neighbors with cosine similarity in
// [-1, 1], descending, ties broken by lower vector ID. An empty index
// returns an empty slice without error.
func (x *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != x.config.Dim {
		return nil, ErrDimensionMismatch{Expected: x.config.Dim, Got: len(query)}
	}
	if x.graph.Len() == 0 || k <= 0 {
		return []VectorHit{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// Orphaned nodes may still surface from the graph; over-fetch so k
	// live results survive the filter.
	fetch := k + (x.graph.Len() - len(x.meta))
	if fetch > x.graph.Len() {
		fetch = x.graph.Len()
	}

	nodes := x.graph.Search(q, fetch)
	hits := make([]VectorHit, 0, k)
	for _, node := range nodes {
		m, ok := x.meta[node.Key]
		if !ok {
			continue // tombstoned
		}
		// Cosine distance is in [0, 2]; similarity = 1 - d is in [-1, 1].
		d := x.graph.Distance(q, node.Value)
		hits = append(hits, VectorHit{
			VectorID:   node.Key,
			ChunkID:    m.ChunkID,
			FileID:     m.FileID,
			Similarity: 1 - d,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].VectorID < hits[j].VectorID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DeleteByChunkIDs tombstones the vectors of the given chunks and returns
// how many were live.
func (x *HNSWIndex) DeleteByChunkIDs(ctx context.Context, chunkIDs []int64) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return 0
	}

	n := 0
	for _, chunkID := range chunkIDs {
		if id, ok := x.chunkMap[chunkID]; ok {
			delete(x.meta, id)
			delete(x.chunkMap, chunkID)
			n++
		}
	}
	if n > 0 {
		x.lastUpdated = time.Now()
	}
	return n
}

// DeleteByFileID tombstones every vector belonging to a file.
func (x *HNSWIndex) DeleteByFileID(ctx context.Context, fileID int64) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return 0
	}

	n := 0
	for id, m := range x.meta {
		if m.FileID == fileID {
			delete(x.meta, id)
			delete(x.chunkMap, m.ChunkID)
			n++
		}
	}
	if n > 0 {
		x.lastUpdated = time.Now()
	}
	return n
}

// Compact rebuilds the graph from live entries, dropping orphaned nodes.
// Vector IDs of live entries are preserved so persisted sidecars stay
// valid, and result ordering is unaffected.
func (x *HNSWIndex) Compact(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("vector index is closed")
	}

	fresh := newGraph(x.config)
	for id := range x.meta {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec, ok := x.graph.Lookup(id)
		if !ok {
			continue
		}
		fresh.Add(hnsw.MakeNode(id, vec))
	}
	x.graph = fresh
	x.lastUpdated = time.Now()
	return nil
}

// Persist atomically writes the graph file and its sidecar. The previous
// generation is kept as the .bak pair so a partial write is recoverable.
func (x *HNSWIndex) Persist() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return fmt.Errorf("vector index is closed")
	}
	if x.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return loupeerr.IndexWrite("cannot create vector index directory", err)
	}

	binTmp := x.path + ".tmp"
	metaTmp := x.metaPath() + ".tmp"

	if err := x.writeGraph(binTmp); err != nil {
		return err
	}
	if err := x.writeSidecar(metaTmp); err != nil {
		os.Remove(binTmp)
		return err
	}

	// Keep the previous pair as .bak, then swap the new pair in. Renames
	// are atomic per file, and the loader falls back pairwise.
	if _, err := os.Stat(x.path); err == nil {
		_ = os.Rename(x.path, x.path+".bak")
		_ = os.Rename(x.metaPath(), x.metaPath()+".bak")
	}
	if err := os.Rename(binTmp, x.path); err != nil {
		os.Remove(binTmp)
		os.Remove(metaTmp)
		return loupeerr.IndexWrite("cannot install vector index file", err)
	}
	if err := os.Rename(metaTmp, x.metaPath()); err != nil {
		os.Remove(metaTmp)
		return loupeerr.IndexWrite("cannot install vector sidecar file", err)
	}
	return nil
}

func (x *HNSWIndex) metaPath() string {
	ext := filepath.Ext(x.path)
	return x.path[:len(x.path)-len(ext)] + ".meta"
}

func (x *HNSWIndex) writeGraph(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return loupeerr.IndexWrite("cannot create vector index file", err)
	}
	if err := x.graph.Export(f); err != nil {
		f.Close()
		os.Remove(path)
		return loupeerr.IndexWrite("cannot export vector graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return loupeerr.IndexWrite("cannot close vector index file", err)
	}
	return nil
}

func (x *HNSWIndex) writeSidecar(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return loupeerr.IndexWrite("cannot create vector sidecar", err)
	}
	sc := vectorSidecar{
		Version:     vectorMetaVersion,
		Dim:         x.config.Dim,
		Count:       len(x.meta),
		Strategy:    x.config.Strategy,
		NList:       x.config.NList,
		NProbe:      x.config.NProbe,
		NextID:      x.nextID,
		LastUpdated: x.lastUpdated,
		Entries:     x.meta,
	}
	if err := gob.NewEncoder(f).Encode(sc); err != nil {
		f.Close()
		os.Remove(path)
		return loupeerr.IndexWrite("cannot encode vector sidecar", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return loupeerr.IndexWrite("cannot close vector sidecar", err)
	}
	return nil
}

// load reads a graph/sidecar pair. The sidecar is read first: it carries
// the dimension check that decides whether the graph is usable at all.
func (x *HNSWIndex) load(binPath string) error {
	metaPath := x.metaPath()
	if binPath != x.path {
		metaPath += ".bak"
	}

	mf, err := os.Open(metaPath)
	if err != nil {
		return err
	}
	defer mf.Close()

	var sc vectorSidecar
	if err := gob.NewDecoder(mf).Decode(&sc); err != nil {
		return fmt.Errorf("decode vector sidecar: %w", err)
	}
	if sc.Version != vectorMetaVersion {
		return fmt.Errorf("vector sidecar version %d, expected %d", sc.Version, vectorMetaVersion)
	}
	if sc.Dim != x.config.Dim {
		return loupeerr.Fatal(loupeerr.ErrCodeSchemaMismatch,
			fmt.Sprintf("vector index dimension %d does not match configured %d", sc.Dim, x.config.Dim), nil)
	}

	bf, err := os.Open(binPath)
	if err != nil {
		return err
	}
	defer bf.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := x.graph.Import(bufio.NewReader(bf)); err != nil {
		return fmt.Errorf("import vector graph: %w", err)
	}

	x.meta = sc.Entries
	if x.meta == nil {
		x.meta = make(map[uint64]VectorMeta)
	}
	x.chunkMap = make(map[int64]uint64, len(x.meta))
	for id, m := range x.meta {
		x.chunkMap[m.ChunkID] = id
	}
	x.nextID = sc.NextID
	x.lastUpdated = sc.LastUpdated
	return nil
}

// Dim returns the vector dimension.
func (x *HNSWIndex) Dim() int { return x.config.Dim }

// Count returns the number of live vectors.
func (x *HNSWIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.meta)
}

// Stats reports live entries and orphans left behind by soft deletion.
func (x *HNSWIndex) Stats() VectorStats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return VectorStats{}
	}
	return VectorStats{
		Live:       len(x.meta),
		GraphNodes: x.graph.Len(),
		Orphans:    x.graph.Len() - len(x.meta),
	}
}

// MetaByVectorID returns the side-table record for a vector.
func (x *HNSWIndex) MetaByVectorID(id uint64) (VectorMeta, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	m, ok := x.meta[id]
	return m, ok
}

// Close releases the graph. The index must be persisted first if its
// state should survive.
func (x *HNSWIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	x.graph = nil
	return nil
}

// normalizeInPlace scales v to unit length. Zero vectors stay zero.
func normalizeInPlace(v []float32) {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
