package index

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	loupeerr "github.com/loupehq/loupe/internal/errors"
	"github.com/loupehq/loupe/internal/store"
)

// Manager creates jobs, runs them in the background, and enforces
// process-level exclusivity on the data root.
type Manager struct {
	runner *Runner
	store  store.MetadataStore
	lock   *flock.Flock
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[int64]*runningJob
}

type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewManager acquires the data-root lock. A second loupe process
// pointed at the same data root gets a conflict error here, before any
// index state is touched.
func NewManager(runner *Runner, metaStore store.MetadataStore, lockPath string, logger *slog.Logger) (*Manager, error) {
	if runner == nil || metaStore == nil {
		return nil, loupeerr.Internal("index manager requires a runner and a store", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	lock := flock.New(lockPath)
	held, err := lock.TryLock()
	if err != nil {
		return nil, loupeerr.Fatal(loupeerr.ErrCodeDataRoot,
			"cannot acquire data root lock at "+lockPath, err)
	}
	if !held {
		return nil, loupeerr.Conflict("another process is using this data root").
			WithDetail("lock_path", lockPath).
			WithSuggestion("stop the other loupe process or use a different data_root")
	}

	return &Manager{
		runner: runner,
		store:  metaStore,
		lock:   lock,
		logger: logger,
		jobs:   make(map[int64]*runningJob),
	}, nil
}

// StartFull creates and launches a full index job over the roots.
func (m *Manager) StartFull(ctx context.Context, roots []string, fileTypes []string) (int64, error) {
	return m.start(ctx, roots, fileTypes, store.JobTypeCreate)
}

// StartIncremental creates and launches an incremental job.
func (m *Manager) StartIncremental(ctx context.Context, roots []string, fileTypes []string) (int64, error) {
	return m.start(ctx, roots, fileTypes, store.JobTypeUpdate)
}

func (m *Manager) start(ctx context.Context, roots []string, fileTypes []string, jobType store.JobType) (int64, error) {
	if len(roots) == 0 {
		return 0, loupeerr.Validation("at least one folder is required", nil)
	}

	// The store's conflict query keys on the folder path, so multi-root
	// jobs use the joined form consistently.
	folderPath := strings.Join(roots, ";")
	job, err := m.store.CreateJob(ctx, folderPath, jobType)
	if err != nil {
		return 0, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rj := &runningJob{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.jobs[job.ID] = rj
	m.mu.Unlock()

	go func() {
		defer close(rj.done)
		defer cancel()

		var runErr error
		if jobType == store.JobTypeUpdate {
			runErr = m.runner.RunIncremental(runCtx, job.ID, roots, fileTypes)
		} else {
			runErr = m.runner.RunFull(runCtx, job.ID, roots, fileTypes)
		}
		rj.err = runErr
		if runErr != nil {
			m.logger.Warn("index job ended with error",
				slog.Int64("job_id", job.ID), slog.String("error", runErr.Error()))
		}

		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
	}()

	return job.ID, nil
}

// Stop cancels a running job. Stopping an unknown or finished job is a
// not-found error.
func (m *Manager) Stop(jobID int64) error {
	m.mu.Lock()
	rj, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return loupeerr.NotFound("running job", jobID)
	}
	rj.cancel()
	return nil
}

// Wait blocks until the job's goroutine finishes and returns its error.
func (m *Manager) Wait(ctx context.Context, jobID int64) error {
	m.mu.Lock()
	rj, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil // already finished
	}
	select {
	case <-rj.done:
		return rj.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the manager still tracks the job.
func (m *Manager) Running(jobID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[jobID]
	return ok
}

// Close stops every running job, waits for them, and releases the data
// root lock.
func (m *Manager) Close() error {
	m.mu.Lock()
	jobs := make([]*runningJob, 0, len(m.jobs))
	for _, rj := range m.jobs {
		rj.cancel()
		jobs = append(jobs, rj)
	}
	m.mu.Unlock()

	for _, rj := range jobs {
		<-rj.done
	}
	if m.lock != nil {
		return m.lock.Unlock()
	}
	return nil
}

// SplitFolderPath undoes the multi-root join used for job rows.
func SplitFolderPath(folderPath string) []string {
	return strings.Split(folderPath, ";")
}
