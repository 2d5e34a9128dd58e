package ui

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupehq/loupe/internal/progress"
	"github.com/loupehq/loupe/internal/store"
)

func TestTrackerStatsReflectSnapshot(t *testing.T) {
	tr := NewTracker()

	tr.Update(progress.Snapshot{
		Status:         store.JobProcessing,
		ProcessedFiles: 7,
		TotalFiles:     10,
		Progress:       0.7,
	})

	stats := tr.Stats()
	assert.Equal(t, 7, stats.Snapshot.ProcessedFiles)
	assert.Equal(t, 10, stats.Snapshot.TotalFiles)
	assert.InDelta(t, 0.7, stats.Snapshot.Progress, 0.001)
}

func TestTrackerETAZeroWithoutProgress(t *testing.T) {
	tr := NewTracker()
	assert.Zero(t, tr.Stats().ETA)

	tr.Update(progress.Snapshot{ProcessedFiles: 0, TotalFiles: 100})
	assert.Zero(t, tr.Stats().ETA)

	tr.Update(progress.Snapshot{ProcessedFiles: 100, TotalFiles: 100})
	assert.Zero(t, tr.Stats().ETA)
}

func TestTrackerETAPositiveMidJob(t *testing.T) {
	tr := NewTracker()
	time.Sleep(20 * time.Millisecond)

	tr.Update(progress.Snapshot{ProcessedFiles: 5, TotalFiles: 10})

	assert.Greater(t, tr.Stats().ETA, time.Duration(0))
}

func TestTrackerCountsErrorsAndWarnings(t *testing.T) {
	tr := NewTracker()

	tr.AddError(ErrorEvent{Path: "a", Err: errors.New("x")})
	tr.AddError(ErrorEvent{Path: "b", Err: errors.New("y")})
	tr.AddError(ErrorEvent{Path: "c", Err: errors.New("z"), Warn: true})

	stats := tr.Stats()
	assert.Equal(t, 2, stats.ErrorCount)
	assert.Equal(t, 1, stats.WarnCount)
	require.Len(t, tr.Errors(), 2)
	assert.Equal(t, "a", tr.Errors()[0].Path)
}

func TestTrackerSpeedSampling(t *testing.T) {
	tr := NewTracker()

	tr.Update(progress.Snapshot{ProcessedFiles: 0, TotalFiles: 100})
	time.Sleep(600 * time.Millisecond)
	tr.Update(progress.Snapshot{ProcessedFiles: 30, TotalFiles: 100})

	stats := tr.Stats()
	assert.Greater(t, stats.Speed.Current, 0.0)
	assert.Greater(t, stats.Speed.Avg, 0.0)
	assert.GreaterOrEqual(t, stats.Speed.Peak, stats.Speed.Current)
}

func TestTrackerSparklineRender(t *testing.T) {
	tr := NewTracker()

	spark := tr.RenderSparkline(20)
	assert.Equal(t, 20, len([]rune(spark)))
}

func TestTrackerElapsedGrows(t *testing.T) {
	tr := NewTracker()
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, tr.Elapsed(), time.Duration(0))
}
