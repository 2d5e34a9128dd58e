package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupehq/loupe/internal/config"
	loupeerr "github.com/loupehq/loupe/internal/errors"
	"github.com/loupehq/loupe/internal/search"
	"github.com/loupehq/loupe/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataRoot = t.TempDir()
	cfg.Embedding.Endpoint = "static"
	cfg.Embedding.Dim = 64
	cfg.AI.Speech.Endpoint = ""
	cfg.AI.Image.Endpoint = ""
	return cfg
}

func newServices(t *testing.T) *Services {
	t.Helper()
	svc, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func writeDocs(t *testing.T, docs map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	return root
}

func buildAndWait(t *testing.T, svc *Services, root string) int64 {
	t.Helper()
	ctx := context.Background()
	jobID, err := svc.BuildFullIndex(ctx, []string{root}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.WaitJob(ctx, jobID))
	return jobID
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestIndexThenSearch(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	root := writeDocs(t, map[string]string{
		"budget.txt": "The quarterly budget exceeded expectations this year.",
		"pets.txt":   "Cats and dogs make wonderful companions.",
	})
	jobID := buildAndWait(t, svc, root)

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status)
	assert.Equal(t, 2, job.TotalFiles)

	resp, err := svc.Search(ctx, search.Request{Query: "quarterly budget"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "budget.txt", resp.Results[0].FileName)
}

func TestSearchRecordsHistory(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	root := writeDocs(t, map[string]string{"a.txt": "searchable content"})
	buildAndWait(t, svc, root)

	_, err := svc.Search(ctx, search.Request{Query: "searchable", Type: search.TypeFullText})
	require.NoError(t, err)

	history, err := svc.RecentSearches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "searchable", history[0].Query)
	assert.Equal(t, "text", history[0].InputType)
	assert.Equal(t, "fulltext", history[0].SearchType)
	assert.Equal(t, 1, history[0].ResultCount)
}

func TestSubscribeJobAfterCompletion(t *testing.T) {
	svc := newServices(t)

	root := writeDocs(t, map[string]string{"a.txt": "content"})
	jobID := buildAndWait(t, svc, root)

	sub, err := svc.SubscribeJob(jobID)
	require.NoError(t, err)

	select {
	case snap, ok := <-sub.C():
		require.True(t, ok)
		assert.Equal(t, store.JobCompleted, snap.Status)
	case <-time.After(time.Second):
		t.Fatal("no terminal snapshot for finished job")
	}
}

func TestSubscribeJobUnknown(t *testing.T) {
	svc := newServices(t)

	_, err := svc.SubscribeJob(12345)
	require.Error(t, err)
	assert.True(t, errors.Is(err, loupeerr.ErrNotFound))
}

func TestDeleteFileRemovesFromSearch(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	root := writeDocs(t, map[string]string{"gone.txt": "unique pelican sighting report"})
	buildAndWait(t, svc, root)

	file, err := svc.Store().GetFileByPath(ctx, filepath.Join(root, "gone.txt"))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteFile(ctx, file.ID))

	resp, err := svc.Search(ctx, search.Request{Query: "pelican", Type: search.TypeFullText})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestReindexPicksUpNewContent(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	root := writeDocs(t, map[string]string{"doc.txt": "original walrus content"})
	buildAndWait(t, svc, root)

	path := filepath.Join(root, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("replacement narwhal content"), 0o644))

	file, err := svc.Store().GetFileByPath(ctx, path)
	require.NoError(t, err)
	require.NoError(t, svc.Reindex(ctx, file.ID))

	resp, err := svc.Search(ctx, search.Request{Query: "narwhal", Type: search.TypeFullText})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	stale, err := svc.Search(ctx, search.Request{Query: "walrus", Type: search.TypeFullText})
	require.NoError(t, err)
	assert.Empty(t, stale.Results)
}

func TestStatusReportsConsistentCounts(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	root := writeDocs(t, map[string]string{"a.txt": "status check content"})
	buildAndWait(t, svc, root)

	result, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, result.Clean(), "issues: %+v", result.Issues)
	assert.Greater(t, result.Chunks, 0)
}

func TestSuggest(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	root := writeDocs(t, map[string]string{
		"a.txt": "budget budgeting budgets",
	})
	buildAndWait(t, svc, root)

	suggestions, err := svc.Suggest(ctx, "budg", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, suggestions)
}

func TestMultimodalWithoutPredictors(t *testing.T) {
	svc := newServices(t)

	_, err := svc.MultimodalSearch(context.Background(), search.MultimodalRequest{
		InputType: search.InputVoice,
		Payload:   []byte("audio"),
	})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodePredictorUnavailable, loupeerr.GetCode(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	svc, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}

func TestSecondProcessOnSameDataRootConflicts(t *testing.T) {
	cfg := testConfig(t)

	first, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer first.Close()

	_, err = New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, loupeerr.ErrConflict))
}
