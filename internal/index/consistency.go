package index

import (
	"context"
	"fmt"
	"time"

	"github.com/loupehq/loupe/internal/store"
)

// Issue is one detected cross-index discrepancy.
type Issue struct {
	Kind    string
	Details string
}

// CheckResult summarizes a consistency check across the metadata store
// and both secondary indexes.
type CheckResult struct {
	Chunks        int
	VectorLive    int
	VectorOrphans int
	FullTextDocs  int
	FailedFiles   int
	Issues        []Issue
	Duration      time.Duration
}

// Clean reports whether no discrepancies were found.
func (r *CheckResult) Clean() bool { return len(r.Issues) == 0 }

// Checker compares the rebuildable indexes against the metadata store,
// which owns identity. Count drift means a rebuild is due; vector
// orphans mean compaction is due.
type Checker struct {
	store    store.MetadataStore
	vector   store.VectorIndex
	fulltext store.FullTextIndex
}

// NewChecker wires a consistency checker over the three stores.
func NewChecker(metaStore store.MetadataStore, vector store.VectorIndex, fulltext store.FullTextIndex) *Checker {
	return &Checker{store: metaStore, vector: vector, fulltext: fulltext}
}

// Check runs the count-level comparison.
func (c *Checker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	ftCount, err := c.fulltext.Count()
	if err != nil {
		return nil, err
	}
	vstats := c.vector.Stats()

	result := &CheckResult{
		Chunks:        stats.Chunks,
		VectorLive:    vstats.Live,
		VectorOrphans: vstats.Orphans,
		FullTextDocs:  ftCount,
		FailedFiles:   stats.FailedFiles,
	}

	if vstats.Live != stats.Chunks {
		result.Issues = append(result.Issues, Issue{
			Kind: "vector_count_drift",
			Details: fmt.Sprintf("store has %d chunks, vector index has %d live entries",
				stats.Chunks, vstats.Live),
		})
	}
	if ftCount != stats.Chunks {
		result.Issues = append(result.Issues, Issue{
			Kind: "fulltext_count_drift",
			Details: fmt.Sprintf("store has %d chunks, full-text index has %d documents",
				stats.Chunks, ftCount),
		})
	}
	if vstats.Orphans > 0 && vstats.Orphans >= vstats.Live {
		result.Issues = append(result.Issues, Issue{
			Kind: "vector_orphan_buildup",
			Details: fmt.Sprintf("%d orphaned graph nodes against %d live entries; compaction recommended",
				vstats.Orphans, vstats.Live),
		})
	}

	result.Duration = time.Since(start)
	return result, nil
}
