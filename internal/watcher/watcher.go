// Package watcher keeps an index current while files change. It wraps
// fsnotify with recursive directory registration and a debouncer, so
// bursts of filesystem events become one coalesced batch per quiet
// period. Watch mode feeds those batches into incremental index builds.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	loupeerr "github.com/loupehq/loupe/internal/errors"
)

// Operation is the kind of filesystem change.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

// String returns the operation name for logs.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Event is one coalesced filesystem change.
type Event struct {
	// Path is absolute.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options tunes the watcher.
type Options struct {
	// Debounce is the quiet period before a batch is emitted
	// (default 2s).
	Debounce time.Duration
	// BufferSize is the event channel capacity (default 64 batches).
	BufferSize int
	// IncludeHidden watches dot-directories too.
	IncludeHidden bool
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 2 * time.Second
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 64
	}
	return o
}

// Watcher emits debounced batches of file events for one root.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	opts      Options
	logger    *slog.Logger

	root    string
	batches chan []Event
	errs    chan error

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// New creates a watcher. Start must be called before events flow.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, loupeerr.Internal("cannot create filesystem watcher", err)
	}
	return &Watcher{
		fsw:       fsw,
		debouncer: NewDebouncer(opts.Debounce),
		opts:      opts,
		logger:    logger,
		batches:   make(chan []Event, opts.BufferSize),
		errs:      make(chan error, 8),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start watches root recursively until the context ends or Stop is
// called. It blocks; run it in a goroutine.
func (w *Watcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return loupeerr.New(loupeerr.ErrCodeInvalidPath, "cannot resolve watch root", err)
	}
	w.root = abs

	if err := w.addRecursive(abs); err != nil {
		return err
	}

	go w.forward(ctx)

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// Batches is the stream of debounced event batches. It closes when the
// watcher stops.
func (w *Watcher) Batches() <-chan []Event { return w.batches }

// Errors carries non-fatal watch errors; the watcher keeps running.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Stop shuts the watcher down. Safe to call more than once. The batch
// channel closes once the forwarder drains.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
	_ = w.fsw.Close()
	w.debouncer.Stop()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return loupeerr.New(loupeerr.ErrCodeInvalidPath, "cannot watch "+root, err)
			}
			w.emitError(err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && !w.opts.IncludeHidden && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.emitError(err)
		}
		return nil
	})
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !w.opts.IncludeHidden && hiddenPath(w.root, ev.Name) {
		return
	}

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	// New directories must join the watch set before their contents
	// produce events.
	if isDir && ev.Op.Has(fsnotify.Create) {
		if err := w.addRecursive(ev.Name); err != nil {
			w.emitError(err)
		}
		return
	}

	var op Operation
	switch {
	case ev.Op.Has(fsnotify.Create):
		op = OpCreate
	case ev.Op.Has(fsnotify.Write):
		op = OpModify
	case ev.Op.Has(fsnotify.Remove):
		op = OpDelete
	case ev.Op.Has(fsnotify.Rename):
		op = OpRename
	default:
		return // chmod only
	}

	w.debouncer.Add(Event{
		Path:      ev.Name,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// forward is the only sender on the batch channel and closes it when
// the debouncer shuts down.
func (w *Watcher) forward(ctx context.Context) {
	defer close(w.batches)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			select {
			case w.batches <- batch:
			default:
				w.logger.Warn("watch batch dropped, consumer too slow",
					slog.Int("batch_size", len(batch)))
			}
		}
	}
}

func (w *Watcher) emitError(err error) {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}
	select {
	case w.errs <- err:
	default:
	}
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func hiddenPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if isHidden(part) {
			return true
		}
	}
	return false
}
