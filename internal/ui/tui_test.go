package ui

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupehq/loupe/internal/progress"
	"github.com/loupehq/loupe/internal/store"
)

func newTestModel() *jobModel {
	m := newJobModel(NewTracker())
	m.styles = NoColorStyles()
	return m
}

func TestNewTUIRendererRejectsNonTTY(t *testing.T) {
	_, err := NewTUIRenderer(Config{Output: &bytes.Buffer{}})
	require.Error(t, err)
}

func TestJobModelViewShowsCounts(t *testing.T) {
	m := newTestModel()
	m.tracker.Update(progress.Snapshot{
		Status:         store.JobProcessing,
		ProcessedFiles: 12,
		TotalFiles:     40,
		Progress:       0.3,
	})

	view := m.View()
	assert.Contains(t, view, "12 / 40 files")
	assert.Contains(t, view, "loupe indexing")
}

func TestJobModelViewScanningBeforeTotals(t *testing.T) {
	m := newTestModel()

	view := m.View()
	assert.Contains(t, view, "counting files")
}

func TestJobModelCompleteView(t *testing.T) {
	m := newTestModel()

	updated, cmd := m.Update(summaryMsg(Summary{
		Files:    9,
		Chunks:   33,
		Errors:   1,
		Duration: 90 * time.Second,
		Model:    "all-minilm",
	}))
	require.NotNil(t, cmd, "completion must quit the program")

	view := updated.View()
	assert.Contains(t, view, "Indexing complete")
	assert.Contains(t, view, "9")
	assert.Contains(t, view, "33")
	assert.Contains(t, view, "1m 30s")
	assert.Contains(t, view, "all-minilm")
	assert.Contains(t, view, "1 errors")
}

func TestJobModelQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		m := newTestModel()
		var msg tea.KeyMsg
		if key == "q" {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		}

		updated, cmd := m.Update(msg)
		require.NotNil(t, cmd, "key %q must quit", key)
		assert.Contains(t, updated.View(), "Cancelled")
	}
}

func TestJobModelStatusBarErrors(t *testing.T) {
	m := newTestModel()
	m.tracker.AddError(ErrorEvent{Path: "a", Err: fmt.Errorf("x")})
	m.tracker.AddError(ErrorEvent{Path: "b", Err: fmt.Errorf("y"), Warn: true})
	m.tracker.Update(progress.Snapshot{ProcessedFiles: 1, TotalFiles: 5, Progress: 0.2})

	view := m.View()
	assert.Contains(t, view, "1 errors")
	assert.Contains(t, view, "1 warnings")
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{2 * time.Minute, "2m"},
		{150 * time.Second, "2m 30s"},
		{90 * time.Minute, "1h 30m"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatDuration(tc.in))
	}
}
