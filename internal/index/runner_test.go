package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupehq/loupe/internal/chunk"
	"github.com/loupehq/loupe/internal/config"
	"github.com/loupehq/loupe/internal/embed"
	loupeerr "github.com/loupehq/loupe/internal/errors"
	"github.com/loupehq/loupe/internal/metadata"
	"github.com/loupehq/loupe/internal/parser"
	"github.com/loupehq/loupe/internal/progress"
	"github.com/loupehq/loupe/internal/scanner"
	"github.com/loupehq/loupe/internal/store"
)

const testDim = 64

type fixture struct {
	runner   *Runner
	store    *store.SQLiteStore
	vector   *store.HNSWIndex
	fulltext *store.BleveIndex
	hub      *progress.Hub
	cfg      *config.Config
	root     string
}

func newFixture(t *testing.T, embedder embed.Embedder) *fixture {
	t.Helper()

	meta, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	vec, err := store.NewHNSWIndex(filepath.Join(t.TempDir(), "file_index.bin"),
		store.VectorIndexConfig{Dim: testDim}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { vec.Close() })

	ft, err := store.NewBleveIndex("", store.FullTextConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ft.Close() })

	if embedder == nil {
		embedder = embed.NewStatic(testDim)
	}

	cfg := config.Default()
	cfg.DataRoot = t.TempDir()
	cfg.Job.MaxConcurrentFiles = 2

	runner, err := NewRunner(Dependencies{
		Store:     meta,
		Vector:    vec,
		FullText:  ft,
		Embedder:  embedder,
		Scanner:   scanner.New(scanner.Config{Extensions: []string{".txt"}}, nil),
		Parser:    parser.New(parser.Options{}, nil, nil, nil),
		Extractor: metadata.New(nil),
		Chunker:   chunk.New(chunk.Options{}),
		Hub:       progress.NewHub(),
		Config:    cfg,
	})
	require.NoError(t, err)

	return &fixture{
		runner:   runner,
		store:    meta,
		vector:   vec,
		fulltext: ft,
		hub:      runner.deps.Hub,
		cfg:      cfg,
		root:     t.TempDir(),
	}
}

func (f *fixture) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) createJob(t *testing.T, jobType store.JobType) int64 {
	t.Helper()
	job, err := f.store.CreateJob(context.Background(), f.root, jobType)
	require.NoError(t, err)
	return job.ID
}

func TestDependenciesValidate(t *testing.T) {
	f := newFixture(t, nil)

	deps := f.runner.deps
	deps.Store = nil
	_, err := NewRunner(deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata store")

	deps = f.runner.deps
	deps.Hub = nil
	_, err = NewRunner(deps)
	require.Error(t, err)
}

func TestRunFullIndexesFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.writeFile(t, "alpha.txt", "The annual budget review covers all departments.")
	f.writeFile(t, "beta.txt", "Meeting notes from the engineering sync.")
	f.writeFile(t, "gamma.txt", "Grocery list: apples, oatmeal, coffee beans.")

	jobID := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, jobID, []string{f.root}, nil))

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status)
	assert.Equal(t, 3, job.TotalFiles)
	assert.Equal(t, 3, job.ProcessedFiles)
	assert.Equal(t, 0, job.ErrorCount)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.IndexedFiles)
	assert.Greater(t, stats.Chunks, 0)

	assert.Equal(t, stats.Chunks, f.vector.Count())
	ftCount, err := f.fulltext.Count()
	require.NoError(t, err)
	assert.Equal(t, stats.Chunks, ftCount)

	file, err := f.store.GetFileByPath(ctx, filepath.Join(f.root, "alpha.txt"))
	require.NoError(t, err)
	assert.True(t, file.IsIndexed)
	assert.Equal(t, store.IndexCompleted, file.IndexStatus)
	assert.NotEmpty(t, file.ContentHash)
	assert.NotEmpty(t, file.ChunkStrategy)
	assert.InDelta(t, 0.9, file.ParseConfidence, 1e-9)
}

func TestRunFullSkipsUnchangedFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.writeFile(t, "note.txt", "A stable file that never changes.")

	first := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, first, []string{f.root}, nil))

	before, err := f.store.Stats(ctx)
	require.NoError(t, err)

	second := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, second, []string{f.root}, nil))

	after, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Chunks, after.Chunks)
	assert.Equal(t, before.Files, after.Files)
	assert.Equal(t, f.vector.Count(), before.Chunks)
}

func TestRunFullReplacesChangedFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	path := f.writeFile(t, "draft.txt", "first version of the draft")
	first := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, first, []string{f.root}, nil))

	require.NoError(t, os.WriteFile(path, []byte("second version, completely rewritten text"), 0o644))

	second := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, second, []string{f.root}, nil))

	file, err := f.store.GetFileByPath(ctx, path)
	require.NoError(t, err)
	chunks, err := f.store.GetChunksByFile(ctx, file.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Content, "second version")

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
}

func TestRunIncrementalHandlesChangesAndDeletes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	kept := f.writeFile(t, "kept.txt", "this file stays the same")
	doomed := f.writeFile(t, "doomed.txt", "this file will be deleted")

	full := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, full, []string{f.root}, nil))

	require.NoError(t, os.Remove(doomed))
	f.writeFile(t, "fresh.txt", "a brand new file appears")

	inc := f.createJob(t, store.JobTypeUpdate)
	require.NoError(t, f.runner.RunIncremental(ctx, inc, []string{f.root}, nil))

	_, err := f.store.GetFileByPath(ctx, doomed)
	require.Error(t, err)

	fresh, err := f.store.GetFileByPath(ctx, filepath.Join(f.root, "fresh.txt"))
	require.NoError(t, err)
	assert.True(t, fresh.IsIndexed)

	keptFile, err := f.store.GetFileByPath(ctx, kept)
	require.NoError(t, err)
	assert.True(t, keptFile.IsIndexed)

	// The deleted file's vectors became tombstones.
	assert.GreaterOrEqual(t, f.vector.Stats().Orphans, 1)
}

func TestRunIncrementalDrainsReindexQueue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	path := f.writeFile(t, "flagged.txt", "content that needs another pass")
	full := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, full, []string{f.root}, nil))

	file, err := f.store.GetFileByPath(ctx, path)
	require.NoError(t, err)
	require.NoError(t, f.store.SetNeedsReindex(ctx, file.ID, true))

	inc := f.createJob(t, store.JobTypeUpdate)
	require.NoError(t, f.runner.RunIncremental(ctx, inc, []string{f.root}, nil))

	file, err = f.store.GetFileByPath(ctx, path)
	require.NoError(t, err)
	assert.False(t, file.NeedsReindex)
	assert.True(t, file.IsIndexed)

	pending, err := f.store.FilesNeedingReindex(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunnerPublishesProgress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.writeFile(t, "one.txt", "first document body")
	f.writeFile(t, "two.txt", "second document body")

	jobID := f.createJob(t, store.JobTypeCreate)
	sub := f.hub.Subscribe(jobID)

	require.NoError(t, f.runner.RunFull(ctx, jobID, []string{f.root}, nil))

	var last progress.Snapshot
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				require.True(t, last.Terminal(), "stream closed without terminal snapshot: %+v", last)
				assert.Equal(t, store.JobCompleted, last.Status)
				assert.Equal(t, 2, last.ProcessedFiles)
				assert.InDelta(t, 1.0, last.Progress, 1e-9)
				return
			}
			last = snap
		case <-deadline:
			t.Fatal("terminal snapshot never arrived")
		}
	}
}

func TestStopMarksJobFailedStopped(t *testing.T) {
	f := newFixture(t, blockingEmbedder{})
	ctx, cancel := context.WithCancel(context.Background())

	f.writeFile(t, "slow.txt", "this embed call blocks until cancellation")

	jobID := f.createJob(t, store.JobTypeCreate)
	done := make(chan error, 1)
	go func() { done <- f.runner.RunFull(ctx, jobID, []string{f.root}, nil) }()

	// Wait until the job is processing, then stop it.
	require.Eventually(t, func() bool {
		job, err := f.store.GetJob(context.Background(), jobID)
		return err == nil && job.Status == store.JobProcessing
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, job.Status)
	assert.Equal(t, "stopped", job.ErrorMessage)
}

func TestReindexFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	path := f.writeFile(t, "doc.txt", "original text before the rewrite")
	jobID := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, jobID, []string{f.root}, nil))

	file, err := f.store.GetFileByPath(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("rewritten text after the edit"), 0o644))
	require.NoError(t, f.runner.ReindexFile(ctx, file.ID))

	chunks, err := f.store.GetChunksByFile(ctx, file.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Content, "rewritten")
}

func TestRemoveFileClearsAllStores(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	path := f.writeFile(t, "gone.txt", "a file about to disappear from every index")
	jobID := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, jobID, []string{f.root}, nil))

	file, err := f.store.GetFileByPath(ctx, path)
	require.NoError(t, err)
	require.NoError(t, f.runner.RemoveFile(ctx, file.ID))

	_, err = f.store.GetFileByPath(ctx, path)
	require.Error(t, err)
	assert.Equal(t, 0, f.vector.Count())
	ftCount, err := f.fulltext.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, ftCount)
}

func TestFileTypeFilterLimitsJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.writeFile(t, "doc.txt", "textual content for the filter test")

	jobID := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, jobID, []string{f.root}, []string{"pdf"}))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Files)

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status)
	assert.Equal(t, 0, job.TotalFiles)
}

func TestFailureRatio(t *testing.T) {
	f := newFixture(t, nil)

	st := &jobState{total: 30}
	st.errors.Add(9)
	assert.False(t, f.runner.failureExceeded(st), "below the error floor")

	st.errors.Add(7) // 16 of 30 > 0.5
	assert.True(t, f.runner.failureExceeded(st))

	st = &jobState{total: 100}
	st.errors.Add(20) // above floor, below ratio
	assert.False(t, f.runner.failureExceeded(st))
}

func TestChunkableTypesSplitOthersSingleChunk(t *testing.T) {
	f := newFixture(t, nil)

	long := strings.Repeat("A reasonably long sentence for the splitter. ", 40)
	chunks := f.runner.buildChunks(store.FileTypeText, long)
	assert.Greater(t, len(chunks), 1)

	single := f.runner.buildChunks(store.FileTypeAudio, long)
	require.Len(t, single, 1)
	assert.Equal(t, long, single[0].Content)

	assert.Nil(t, f.runner.buildChunks(store.FileTypeText, ""))
}

func TestParseFailureMarksFileFailed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	deps := f.runner.deps
	deps.Scanner = scanner.New(scanner.Config{Extensions: []string{".txt", ".pdf"}}, nil)
	runner, err := NewRunner(deps)
	require.NoError(t, err)

	f.writeFile(t, "good.txt", "a perfectly readable document")
	broken := f.writeFile(t, "broken.pdf", "this is not a pdf at all")

	jobID := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, runner.RunFull(ctx, jobID, []string{f.root}, nil))

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status)
	assert.Equal(t, 2, job.ProcessedFiles)
	assert.Equal(t, 1, job.ErrorCount)

	file, err := f.store.GetFileByPath(ctx, broken)
	require.NoError(t, err)
	assert.Equal(t, store.IndexFailed, file.IndexStatus)
	assert.False(t, file.IsIndexed)
	assert.NotEmpty(t, file.LastError)
	assert.Equal(t, 1, file.RetryCount)

	chunks, err := f.store.GetChunksByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	good, err := f.store.GetFileByPath(ctx, filepath.Join(f.root, "good.txt"))
	require.NoError(t, err)
	assert.True(t, good.IsIndexed)
}

func TestFailedRewriteKeepsPreviousVersion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	path := f.writeFile(t, "draft.txt", "first version of the draft")
	first := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, first, []string{f.root}, nil))

	ftBefore, err := f.fulltext.Count()
	require.NoError(t, err)

	deps := f.runner.deps
	deps.FullText = &failingFullText{FullTextIndex: f.fulltext}
	broken, err := NewRunner(deps)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("second version, completely rewritten text"), 0o644))

	second := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, broken.RunFull(ctx, second, []string{f.root}, nil))

	job, err := f.store.GetJob(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status)
	assert.Equal(t, 1, job.ErrorCount)

	// The rewrite rolled back: the stored row and chunks are still the
	// first version, the full-text documents untouched, and the file is
	// queued for another attempt.
	file, err := f.store.GetFileByPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, store.IndexPending, file.IndexStatus)
	assert.NotEmpty(t, file.LastError)
	assert.GreaterOrEqual(t, file.RetryCount, 1)

	chunks, err := f.store.GetChunksByFile(ctx, file.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Content, "first version")

	ftAfter, err := f.fulltext.Count()
	require.NoError(t, err)
	assert.Equal(t, ftBefore, ftAfter)

	// A healthy run repairs the file.
	third := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, third, []string{f.root}, nil))

	file, err = f.store.GetFileByPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, store.IndexCompleted, file.IndexStatus)
	chunks, err = f.store.GetChunksByFile(ctx, file.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Content, "second version")
}

func TestEmptyFileCompletesWithoutContent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	path := f.writeFile(t, "blank.txt", "")

	jobID := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, jobID, []string{f.root}, nil))

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status)
	assert.Equal(t, 0, job.ErrorCount)

	file, err := f.store.GetFileByPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, store.IndexCompleted, file.IndexStatus)
	assert.False(t, file.IsIndexed)
	assert.Equal(t, 0, file.TotalChunks)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 0, stats.IndexedFiles)

	// The next run treats the unchanged empty file as processed.
	second := f.createJob(t, store.JobTypeCreate)
	require.NoError(t, f.runner.RunFull(ctx, second, []string{f.root}, nil))
	job, err = f.store.GetJob(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 0, job.ErrorCount)
}

// failingFullText refuses document writes; reads pass through.
type failingFullText struct {
	store.FullTextIndex
}

func (f *failingFullText) AddDocuments(context.Context, []*store.FullTextDoc) error {
	return loupeerr.IndexWrite("disk full", nil)
}

// blockingEmbedder blocks every call until the context is canceled.
type blockingEmbedder struct{}

func (blockingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingEmbedder) EmbedBatch(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingEmbedder) Dimensions() int                { return testDim }
func (blockingEmbedder) ModelName() string              { return "blocking" }
func (blockingEmbedder) Available(context.Context) bool { return true }
func (blockingEmbedder) Close() error                   { return nil }
