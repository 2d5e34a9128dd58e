package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupehq/loupe/internal/store"
)

func TestCheckerCleanAfterIndexing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.writeFile(t, "a.txt", "content for the consistency check")
	jobID := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, jobID, []string{f.root}, nil))

	result, err := NewChecker(f.store, f.vector, f.fulltext).Check(ctx)
	require.NoError(t, err)
	assert.True(t, result.Clean(), "issues: %+v", result.Issues)
	assert.Greater(t, result.Chunks, 0)
	assert.Equal(t, result.Chunks, result.VectorLive)
	assert.Equal(t, result.Chunks, result.FullTextDocs)
}

func TestCheckerDetectsVectorDrift(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	path := f.writeFile(t, "a.txt", "content for the drift check")
	jobID := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, jobID, []string{f.root}, nil))

	file, err := f.store.GetFileByPath(ctx, path)
	require.NoError(t, err)
	// Vector entries vanish without the store knowing.
	f.vector.DeleteByFileID(ctx, file.ID)

	result, err := NewChecker(f.store, f.vector, f.fulltext).Check(ctx)
	require.NoError(t, err)
	require.False(t, result.Clean())

	kinds := make([]string, 0, len(result.Issues))
	for _, issue := range result.Issues {
		kinds = append(kinds, issue.Kind)
	}
	assert.Contains(t, kinds, "vector_count_drift")
}
