package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupehq/loupe/internal/search"
	"github.com/loupehq/loupe/internal/watcher"
)

// startWatcher runs a watcher over root with a short debounce and
// returns it. Stop and goroutine shutdown are handled by cleanup.
func startWatcher(t *testing.T, root string, includeHidden bool) *watcher.Watcher {
	t.Helper()
	w, err := watcher.New(watcher.Options{
		Debounce:      100 * time.Millisecond,
		IncludeHidden: includeHidden,
	}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx, root)
	}()
	t.Cleanup(func() {
		cancel()
		w.Stop()
		<-done
	})

	// Give the recursive add a moment to register before tests write.
	time.Sleep(200 * time.Millisecond)
	return w
}

func waitForBatch(t *testing.T, w *watcher.Watcher) []watcher.Event {
	t.Helper()
	select {
	case batch := <-w.Batches():
		require.NotEmpty(t, batch)
		return batch
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a watch batch")
		return nil
	}
}

func TestWatcherBatchesChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	root := t.TempDir()
	w := startWatcher(t, root, false)

	// Several quick writes debounce into one batch.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("beta"), 0o644))

	batch := waitForBatch(t, w)
	paths := make(map[string]bool)
	for _, ev := range batch {
		paths[filepath.Base(ev.Path)] = true
	}
	assert.True(t, paths["a.txt"])
	assert.True(t, paths["b.txt"])
}

func TestWatcherSkipsHiddenDirectories(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache"), 0o755))
	w := startWatcher(t, root, false)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".cache", "junk.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "visible.txt"), []byte("y"), 0o644))

	batch := waitForBatch(t, w)
	for _, ev := range batch {
		assert.NotContains(t, ev.Path, ".cache")
	}
}

func TestWatcherSeesNewSubdirectories(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	root := t.TempDir()
	w := startWatcher(t, root, false)

	sub := filepath.Join(root, "reports")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	waitForBatch(t, w)

	// Files created inside the new directory are watched too.
	require.NoError(t, os.WriteFile(filepath.Join(sub, "q3.txt"), []byte("report"), 0o644))
	batch := waitForBatch(t, w)
	found := false
	for _, ev := range batch {
		if filepath.Base(ev.Path) == "q3.txt" {
			found = true
		}
	}
	assert.True(t, found, "expected an event for the file in the new subdirectory")
}

// TestWatchTriggersIncrementalIndex wires the watcher to the index
// pipeline the way watch mode does: a batch triggers an incremental
// build, and the new content becomes searchable.
func TestWatchTriggersIncrementalIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dir := writeDocs(t, map[string]string{
		"existing.txt": "The maintenance schedule for the north wing.",
	})
	svc := newTestServices(t, testConfig(t))
	buildIndex(t, svc, dir)

	w := startWatcher(t, dir, false)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "incident.txt"),
		[]byte("Incident report: the axolotl tank overflowed at noon."), 0o644))
	waitForBatch(t, w)

	ctx := context.Background()
	jobID, err := svc.BuildIncrementalIndex(ctx, []string{dir}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.WaitJob(ctx, jobID))

	resp, err := svc.Search(ctx, search.Request{Query: "axolotl", Type: search.TypeFullText, Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "incident.txt", resp.Results[0].FileName)
}

func TestWatcherDeleteRemovesFromIndexOnRebuild(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dir := writeDocs(t, map[string]string{
		"stays.txt": "A note about the heron sanctuary.",
		"goes.txt":  "A note about the ocelot enclosure.",
	})
	svc := newTestServices(t, testConfig(t))
	buildIndex(t, svc, dir)

	w := startWatcher(t, dir, false)
	require.NoError(t, os.Remove(filepath.Join(dir, "goes.txt")))
	waitForBatch(t, w)

	ctx := context.Background()
	jobID, err := svc.BuildIncrementalIndex(ctx, []string{dir}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.WaitJob(ctx, jobID))

	resp, err := svc.Search(ctx, search.Request{Query: "ocelot", Type: search.TypeFullText, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	resp, err = svc.Search(ctx, search.Request{Query: "heron", Type: search.TypeFullText, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)

	check, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, check.Clean(), "rebuild after delete must not leave orphans: %+v", check.Issues)
}
