// Package ui renders index job progress and status in the terminal.
// Interactive terminals get a live bubbletea view; pipes and CI get
// plain line output. Renderers consume progress snapshots, so any job
// source that publishes snapshots can drive them.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/loupehq/loupe/internal/progress"
)

// ErrorEvent is one per-file failure surfaced during indexing.
type ErrorEvent struct {
	Path string
	Err  error
	Warn bool
}

// Summary holds the final numbers shown when a job ends.
type Summary struct {
	Files    int
	Chunks   int
	Errors   int
	Duration time.Duration
	Model    string
	Stopped  bool
}

// Renderer displays the life of one index job.
type Renderer interface {
	// Start prepares the display. For the TUI this launches the
	// program; plain output needs nothing.
	Start(ctx context.Context) error

	// Update shows the latest job snapshot.
	Update(snap progress.Snapshot)

	// Error surfaces a per-file failure.
	Error(ev ErrorEvent)

	// Complete shows the final summary.
	Complete(sum Summary)

	// Stop tears the display down.
	Stop() error
}

// Config selects and tunes a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
}

// NewRenderer picks a renderer for the environment: plain for pipes,
// CI, and --plain; the live TUI otherwise.
func NewRenderer(cfg Config) Renderer {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w writes to an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor honors the NO_COLOR convention.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// DetectCI reports whether we appear to run under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, set := os.LookupEnv(v); set {
			return true
		}
	}
	return false
}
