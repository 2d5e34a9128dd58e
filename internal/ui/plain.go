package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/loupehq/loupe/internal/progress"
	"github.com/loupehq/loupe/internal/store"
)

// PlainRenderer writes one line per meaningful change. Suitable for
// pipes, CI logs, and --plain.
type PlainRenderer struct {
	mu            sync.Mutex
	out           io.Writer
	lastProcessed int
	lastStatus    store.JobStatus
}

// NewPlainRenderer creates a line-oriented renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error { return nil }

// Update implements Renderer. Repeated snapshots with the same file
// count are suppressed to keep logs readable.
func (r *PlainRenderer) Update(snap progress.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Status != r.lastStatus {
		r.lastStatus = snap.Status
		if snap.Message != "" {
			fmt.Fprintf(r.out, "[%s] %s\n", snap.Status, snap.Message)
		} else {
			fmt.Fprintf(r.out, "[%s]\n", snap.Status)
		}
	}

	if snap.ProcessedFiles == r.lastProcessed {
		return
	}
	r.lastProcessed = snap.ProcessedFiles

	if snap.TotalFiles > 0 {
		fmt.Fprintf(r.out, "indexed %d/%d files (%.0f%%)\n",
			snap.ProcessedFiles, snap.TotalFiles, snap.Progress*100)
	} else {
		fmt.Fprintf(r.out, "indexed %d files\n", snap.ProcessedFiles)
	}
}

// Error implements Renderer.
func (r *PlainRenderer) Error(ev ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "error"
	if ev.Warn {
		prefix = "warning"
	}
	if ev.Path != "" {
		fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, ev.Path, ev.Err)
	} else {
		fmt.Fprintf(r.out, "%s: %v\n", prefix, ev.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(sum Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	verb := "indexed"
	if sum.Stopped {
		verb = "stopped after"
	}
	fmt.Fprintf(r.out, "%s %d files, %d chunks in %s",
		verb, sum.Files, sum.Chunks, sum.Duration.Round(100*time.Millisecond))
	if sum.Errors > 0 {
		fmt.Fprintf(r.out, " (%d errors)", sum.Errors)
	}
	fmt.Fprintln(r.out)
	if sum.Model != "" {
		fmt.Fprintf(r.out, "embedding model: %s\n", sum.Model)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

var _ Renderer = (*PlainRenderer)(nil)
