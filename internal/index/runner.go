// Package index executes index jobs: full builds, incremental updates,
// and single-file reindexing. The Runner drives the per-file pipeline
// scan -> parse -> chunk -> embed -> write; the Manager owns job
// lifecycles and process exclusivity.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

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

const (
	// failureRatioFloor is the minimum error count before the failure
	// ratio can fail a job. Small jobs with a couple of broken files
	// should still complete.
	failureRatioFloor = 10

	defaultFailureRatio       = 0.5
	defaultMaxConcurrentFiles = 4
)

// Dependencies is everything a Runner needs. All fields except Logger
// are required.
type Dependencies struct {
	Store     store.MetadataStore
	Vector    store.VectorIndex
	FullText  store.FullTextIndex
	Embedder  embed.Embedder
	Scanner   *scanner.Scanner
	Parser    *parser.Parser
	Extractor *metadata.Extractor
	Chunker   *chunk.Splitter
	Hub       *progress.Hub
	Config    *config.Config
	Logger    *slog.Logger
}

// Validate reports the first missing dependency.
func (d *Dependencies) Validate() error {
	missing := ""
	switch {
	case d.Store == nil:
		missing = "metadata store"
	case d.Vector == nil:
		missing = "vector index"
	case d.FullText == nil:
		missing = "full-text index"
	case d.Embedder == nil:
		missing = "embedder"
	case d.Scanner == nil:
		missing = "scanner"
	case d.Parser == nil:
		missing = "parser"
	case d.Extractor == nil:
		missing = "metadata extractor"
	case d.Chunker == nil:
		missing = "chunker"
	case d.Hub == nil:
		missing = "progress hub"
	case d.Config == nil:
		missing = "config"
	}
	if missing != "" {
		return loupeerr.Internal("index runner requires a "+missing, nil)
	}
	return nil
}

// Runner executes one index job at a time over shared indexes.
type Runner struct {
	deps Dependencies
	// embedder is the resilient wrapper; batch failures degrade to zero
	// vectors instead of failing files.
	embedder  embed.Embedder
	chunkable map[store.FileType]bool
	logger    *slog.Logger

	// persistMu serializes vector persists from concurrent jobs.
	persistMu sync.Mutex
}

// NewRunner validates the dependency set and prepares the pipeline.
func NewRunner(deps Dependencies) (*Runner, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	chunkable := make(map[store.FileType]bool)
	for _, t := range deps.Config.Chunk.AutoTypes {
		chunkable[store.CanonicalFileType(t)] = true
	}

	return &Runner{
		deps:      deps,
		embedder:  embed.NewResilient(deps.Embedder, logger),
		chunkable: chunkable,
		logger:    logger,
	}, nil
}

// jobState tracks one running job's counters.
type jobState struct {
	jobID     int64
	total     int
	processed atomic.Int64
	errors    atomic.Int64
}

// RunFull scans the roots and indexes every eligible file. Unchanged
// files (same content hash, already indexed) only get their stat
// columns refreshed.
func (r *Runner) RunFull(ctx context.Context, jobID int64, roots []string, fileTypes []string) error {
	return r.run(ctx, jobID, roots, fileTypes, false)
}

// RunIncremental diffs the roots against stored fingerprints and
// processes only changed, new, and deleted files, plus any files marked
// for reindexing.
func (r *Runner) RunIncremental(ctx context.Context, jobID int64, roots []string, fileTypes []string) error {
	return r.run(ctx, jobID, roots, fileTypes, true)
}

func (r *Runner) run(ctx context.Context, jobID int64, roots []string, fileTypes []string, incremental bool) error {
	if err := r.deps.Store.StartJob(ctx, jobID); err != nil {
		return err
	}

	wanted := make(map[store.FileType]bool, len(fileTypes))
	for _, t := range fileTypes {
		wanted[store.CanonicalFileType(t)] = true
	}

	var (
		descs     []scanner.FileDescriptor
		deleted   []string
		scanErrs  int
		collected error
	)
	if incremental {
		descs, deleted, scanErrs, collected = r.collectIncremental(ctx, roots, wanted)
	} else {
		descs, scanErrs, collected = r.collectFull(ctx, roots, wanted)
	}
	if collected != nil {
		r.finish(ctx, &jobState{jobID: jobID}, store.JobFailed, collected.Error())
		return collected
	}

	if incremental {
		reindex, err := r.deps.Store.FilesNeedingReindex(ctx)
		if err == nil {
			seen := make(map[string]bool, len(descs))
			for _, d := range descs {
				seen[d.Path] = true
			}
			for _, f := range reindex {
				if seen[f.Path] {
					continue
				}
				if desc, derr := r.deps.Scanner.Describe(f.Path); derr == nil && desc != nil {
					descs = append(descs, *desc)
				}
			}
		}
	}

	st := &jobState{jobID: jobID, total: len(descs) + len(deleted)}
	st.errors.Add(int64(scanErrs))
	if err := r.deps.Store.SetJobTotal(ctx, jobID, st.total); err != nil {
		r.finish(ctx, st, store.JobFailed, err.Error())
		return err
	}
	r.publish(st, store.JobProcessing, "")

	for _, path := range deleted {
		if ctx.Err() != nil {
			break
		}
		if err := r.removeByPath(ctx, path); err != nil {
			st.errors.Add(1)
			r.logger.Warn("cannot remove deleted file from index",
				slog.String("path", path), slog.String("error", err.Error()))
		}
		st.processed.Add(1)
		r.progress(ctx, st)
	}

	workers := r.deps.Config.Job.MaxConcurrentFiles
	if workers <= 0 {
		workers = defaultMaxConcurrentFiles
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, desc := range descs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := r.indexFile(gctx, desc); err != nil {
				if loupeerr.IsFatal(err) {
					return err
				}
				st.errors.Add(1)
			}
			st.processed.Add(1)
			r.progress(gctx, st)
			if r.failureExceeded(st) {
				return loupeerr.Internal(fmt.Sprintf(
					"aborting job %d: %d of %d files failed", st.jobID, st.errors.Load(), st.total), nil)
			}
			return nil
		})
	}
	runErr := g.Wait()

	r.persist()

	switch {
	case ctx.Err() != nil:
		r.finish(ctx, st, store.JobFailed, "stopped")
		return loupeerr.Cancelled()
	case runErr != nil:
		r.finish(ctx, st, store.JobFailed, runErr.Error())
		return runErr
	default:
		r.finish(ctx, st, store.JobCompleted, "")
		return nil
	}
}

func (r *Runner) collectFull(ctx context.Context, roots []string, wanted map[store.FileType]bool) ([]scanner.FileDescriptor, int, error) {
	var descs []scanner.FileDescriptor
	scanErrs := 0
	for _, root := range roots {
		results, err := r.deps.Scanner.Scan(ctx, root)
		if err != nil {
			return nil, scanErrs, err
		}
		for res := range results {
			if res.Err != nil {
				scanErrs++
				continue
			}
			if len(wanted) > 0 && !wanted[res.Desc.FileType] {
				continue
			}
			descs = append(descs, res.Desc)
		}
		if err := ctx.Err(); err != nil {
			return nil, scanErrs, err
		}
	}
	return descs, scanErrs, nil
}

func (r *Runner) collectIncremental(ctx context.Context, roots []string, wanted map[store.FileType]bool) ([]scanner.FileDescriptor, []string, int, error) {
	prints, err := r.deps.Store.Fingerprints(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	known := make(map[string]scanner.Known, len(prints))
	for path, fp := range prints {
		known[path] = scanner.Known{Size: fp.Size, MTime: fp.MTime, ContentHash: fp.ContentHash}
	}

	var descs []scanner.FileDescriptor
	var deleted []string
	for _, root := range roots {
		changed, gone, err := r.deps.Scanner.Diff(ctx, root, known)
		if err != nil {
			return nil, nil, 0, err
		}
		for _, d := range changed {
			if len(wanted) > 0 && !wanted[d.FileType] {
				continue
			}
			descs = append(descs, d)
		}
		deleted = append(deleted, gone...)
	}
	return descs, deleted, 0, nil
}

// indexFile runs the per-file pipeline. The SQLite transaction stages
// the file row and replacement chunks; the secondary index writes happen
// inside the commit callback so an index failure rolls everything back.
func (r *Runner) indexFile(ctx context.Context, desc scanner.FileDescriptor) error {
	existing, err := r.deps.Store.GetFileByPath(ctx, desc.Path)
	if err != nil && !errors.Is(err, loupeerr.ErrNotFound) {
		return err
	}

	// Same content and already processed: only the stat columns moved.
	if existing != nil && existing.IndexStatus == store.IndexCompleted &&
		!existing.NeedsReindex && existing.ContentHash == desc.ContentHash {
		return r.deps.Store.TouchFileStat(ctx, existing.ID, desc.Size, desc.MTime)
	}

	parsed, err := r.deps.Parser.Parse(ctx, desc.Path)
	if err != nil {
		// Only cancellation escapes the parser.
		return err
	}
	meta := r.deps.Extractor.Extract(ctx, desc.Path)

	// The parser reports extraction failures as data. Record the file
	// as failed and count it; the job keeps going.
	if parseErr, failed := parsed.Metadata["error"]; failed {
		return r.recordParseFailure(ctx, existing, desc, parsed, meta, parseErr)
	}

	file := r.buildFileRow(desc, parsed, meta)
	chunks := r.buildChunks(desc.FileType, parsed.Text)
	// A file with no extractable text completes but is not content
	// searchable; is_indexed records the distinction.
	file.IsIndexed = len(chunks) > 0
	file.IsChunked = len(chunks) > 1
	file.TotalChunks = len(chunks)
	file.ChunkStrategy = r.deps.Chunker.Strategy()
	if len(chunks) > 0 {
		total := 0
		for _, c := range chunks {
			total += c.ContentLength
		}
		file.AvgChunkSize = total / len(chunks)
	}

	var vectors [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err = r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			// Resilient only surfaces cancellation.
			return err
		}
		for _, v := range vectors {
			if embed.IsZero(v) {
				// Embedding degraded; the file stays searchable
				// lexically but its semantic confidence drops.
				file.ParseConfidence = min(file.ParseConfidence, 0.5)
				break
			}
		}
	}

	// Stale index entries for a rewrite are removed only after the new
	// ones land, so a failure leaves the previous version searchable.
	// The chunk IDs must be read before the transaction deletes the rows.
	var stale staleEntries
	if existing != nil {
		stale.docCount = existing.TotalChunks
		stale.chunkIDs, err = r.deps.Store.ChunkIDsByFile(ctx, existing.ID)
		if err != nil {
			return err
		}
	}

	_, err = r.deps.Store.IndexFileTx(ctx, file, chunks, func(fileID int64, chunkIDs []int64) error {
		return r.writeIndexes(ctx, fileID, chunkIDs, desc, file, chunks, vectors, stale)
	})
	if err != nil {
		if existing != nil {
			// Back to pending so the next job retries it.
			if serr := r.deps.Store.UpdateFileStatus(ctx, existing.ID, store.IndexPending, err.Error()); serr != nil {
				r.logger.Warn("cannot record file failure", slog.String("path", desc.Path))
			}
		}
		r.logger.Warn("file indexing failed",
			slog.String("path", desc.Path), slog.String("error", err.Error()))
		return err
	}
	return nil
}

// recordParseFailure persists a failed file row when the parser could
// not extract content. The file is findable by metadata but carries no
// chunks, and the error is counted against the job.
func (r *Runner) recordParseFailure(ctx context.Context, existing *store.File,
	desc scanner.FileDescriptor, parsed *parser.ParsedContent, meta metadata.Metadata, reason string) error {
	if existing != nil {
		if err := r.deps.Store.UpdateFileStatus(ctx, existing.ID, store.IndexFailed, reason); err != nil {
			return err
		}
	} else {
		file := r.buildFileRow(desc, parsed, meta)
		file.IndexStatus = store.IndexFailed
		file.IsIndexed = false
		file.IndexedAt = nil
		file.LastError = reason
		file.RetryCount = 1
		if _, err := r.deps.Store.IndexFileTx(ctx, file, nil, nil); err != nil {
			return err
		}
	}
	r.logger.Warn("file parse failed",
		slog.String("path", desc.Path), slog.String("error", reason))
	return loupeerr.Parse("cannot parse "+desc.Path, errors.New(reason))
}

// staleEntries identifies the index entries of a file's previous
// version, captured before a rewrite.
type staleEntries struct {
	chunkIDs []int64
	docCount int
}

// writeIndexes adds the vector and full-text entries for a file inside
// the store transaction, then removes the previous version's entries.
// A full-text failure unwinds the vector writes so the rollback leaves
// no orphans and the stale entries untouched.
func (r *Runner) writeIndexes(ctx context.Context, fileID int64, chunkIDs []int64,
	desc scanner.FileDescriptor, file *store.File, chunks []*store.Chunk, vectors [][]float32,
	stale staleEntries) error {
	if len(chunks) == 0 {
		return r.removeStale(ctx, fileID, chunkIDs, stale)
	}

	now := time.Now()
	meta := make([]store.VectorMeta, len(chunks))
	docs := make([]*store.FullTextDoc, len(chunks))
	for i, c := range chunks {
		meta[i] = store.VectorMeta{
			ChunkID:      chunkIDs[i],
			FileID:       fileID,
			FileName:     desc.Name,
			FilePath:     desc.Path,
			FileType:     desc.FileType,
			FileSize:     desc.Size,
			ModifiedTime: desc.MTime,
			CreatedAt:    now,
		}
		docs[i] = &store.FullTextDoc{
			ID:            store.DocID(fileID, c.ChunkIndex),
			ChunkID:       chunkIDs[i],
			FileID:        fileID,
			FileName:      desc.Name,
			FilePath:      desc.Path,
			FileType:      desc.FileType,
			Title:         file.Title,
			Content:       c.Content,
			ChunkIndex:    c.ChunkIndex,
			StartPosition: c.StartPosition,
			EndPosition:   c.EndPosition,
			ContentLength: c.ContentLength,
			ModifiedTime:  desc.MTime,
			CreatedAt:     now,
		}
	}

	if _, err := r.deps.Vector.Add(ctx, vectors, chunkIDs, meta); err != nil {
		return err
	}
	if err := r.deps.FullText.AddDocuments(ctx, docs); err != nil {
		r.deps.Vector.DeleteByChunkIDs(ctx, chunkIDs)
		return err
	}
	return r.removeStale(ctx, fileID, chunkIDs, stale)
}

// removeStale deletes the previous version's vectors and trailing
// full-text documents. Chunk IDs reused by the new version are skipped;
// the Add calls already replaced those entries in place.
func (r *Runner) removeStale(ctx context.Context, fileID int64, chunkIDs []int64, stale staleEntries) error {
	if len(stale.chunkIDs) == 0 && stale.docCount == 0 {
		return nil
	}
	reused := make(map[int64]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		reused[id] = true
	}
	var gone []int64
	for _, id := range stale.chunkIDs {
		if !reused[id] {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		r.deps.Vector.DeleteByChunkIDs(ctx, gone)
	}
	for idx := len(chunkIDs); idx < stale.docCount; idx++ {
		if err := r.deps.FullText.DeleteByID(ctx, store.DocID(fileID, idx)); err != nil {
			r.logger.Warn("stale full-text entry not removed",
				slog.Int64("file_id", fileID), slog.Int("chunk_index", idx))
		}
	}
	return nil
}

func (r *Runner) buildFileRow(desc scanner.FileDescriptor, parsed *parser.ParsedContent, meta metadata.Metadata) *store.File {
	now := time.Now()
	title := parsed.Title
	if title == "" {
		title = meta.Title
	}
	return &store.File{
		Path:            desc.Path,
		Name:            desc.Name,
		Ext:             desc.Ext,
		Type:            desc.FileType,
		Size:            desc.Size,
		MTime:           desc.MTime,
		CTime:           desc.CTime,
		IndexedAt:       &now,
		ContentHash:     desc.ContentHash,
		Mime:            desc.Mime,
		Title:           title,
		WordCount:       meta.WordCount,
		ContentLength:   len(parsed.Text),
		ParseConfidence: parsed.Confidence,
		IndexStatus:     store.IndexCompleted,
		IsIndexed:       true,
		NeedsReindex:    false,
	}
}

// buildChunks splits chunkable file types; everything else with text
// becomes a single chunk covering the whole content.
func (r *Runner) buildChunks(fileType store.FileType, text string) []*store.Chunk {
	if text == "" {
		return nil
	}
	if !r.chunkable[fileType] {
		return []*store.Chunk{{
			ChunkIndex:    0,
			Content:       text,
			ContentLength: len(text),
			StartPosition: 0,
			EndPosition:   len(text),
		}}
	}
	parts := r.deps.Chunker.Split(text)
	chunks := make([]*store.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = &store.Chunk{
			ChunkIndex:    p.Index,
			Content:       p.Text,
			ContentLength: len(p.Text),
			StartPosition: p.Start,
			EndPosition:   p.End,
		}
	}
	return chunks
}

// ReindexFile re-runs the per-file pipeline for one stored file and
// clears its reindex flag.
func (r *Runner) ReindexFile(ctx context.Context, fileID int64) error {
	file, err := r.deps.Store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	desc, err := r.deps.Scanner.Describe(file.Path)
	if err != nil {
		return err
	}
	if desc == nil {
		// Gone or over the size cap; drop it from the index.
		return r.RemoveFile(ctx, fileID)
	}
	if err := r.deps.Store.SetNeedsReindex(ctx, fileID, true); err != nil {
		return err
	}
	if err := r.indexFile(ctx, *desc); err != nil {
		return err
	}
	r.persist()
	return nil
}

// RemoveFile deletes a file's row, chunks, vectors, and full-text
// documents.
func (r *Runner) RemoveFile(ctx context.Context, fileID int64) error {
	r.deps.Vector.DeleteByFileID(ctx, fileID)
	if _, err := r.deps.FullText.DeleteByFileID(ctx, fileID); err != nil {
		return err
	}
	return r.deps.Store.DeleteFile(ctx, fileID)
}

func (r *Runner) removeByPath(ctx context.Context, path string) error {
	file, err := r.deps.Store.GetFileByPath(ctx, path)
	if err != nil {
		if errors.Is(err, loupeerr.ErrNotFound) {
			return nil
		}
		return err
	}
	return r.RemoveFile(ctx, file.ID)
}

func (r *Runner) failureExceeded(st *jobState) bool {
	ratio := r.deps.Config.Job.FailureRatio
	if ratio <= 0 {
		ratio = defaultFailureRatio
	}
	errs := st.errors.Load()
	return errs >= failureRatioFloor && st.total > 0 &&
		float64(errs) > ratio*float64(st.total)
}

// progress persists counters and publishes a snapshot. A canceled
// context still publishes so subscribers see the last state.
func (r *Runner) progress(ctx context.Context, st *jobState) {
	processed := int(st.processed.Load())
	errs := int(st.errors.Load())
	if ctx.Err() == nil {
		if err := r.deps.Store.UpdateJobProgress(ctx, st.jobID, processed, errs); err != nil {
			r.logger.Warn("cannot persist job progress", slog.Int64("job_id", st.jobID))
		}
	}
	r.publish(st, store.JobProcessing, "")
}

func (r *Runner) publish(st *jobState, status store.JobStatus, message string) {
	processed := int(st.processed.Load())
	prog := 0.0
	if st.total > 0 {
		prog = float64(processed) / float64(st.total)
	}
	if status == store.JobCompleted {
		prog = 1.0
	}
	r.deps.Hub.Publish(st.jobID, progress.Snapshot{
		Status:         status,
		Progress:       prog,
		ProcessedFiles: processed,
		TotalFiles:     st.total,
		ErrorCount:     int(st.errors.Load()),
		Message:        message,
	})
}

// finish writes the terminal job state with a fresh context so
// cancellation does not lose the terminal row.
func (r *Runner) finish(ctx context.Context, st *jobState, status store.JobStatus, errMsg string) {
	finCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := r.deps.Store.UpdateJobProgress(finCtx, st.jobID,
		int(st.processed.Load()), int(st.errors.Load())); err != nil {
		r.logger.Warn("cannot persist final job progress", slog.Int64("job_id", st.jobID))
	}
	if err := r.deps.Store.FinishJob(finCtx, st.jobID, status, errMsg); err != nil {
		r.logger.Warn("cannot finish job",
			slog.Int64("job_id", st.jobID), slog.String("error", err.Error()))
	}
	r.publish(st, status, errMsg)
}

// persist flushes the vector index; partial progress survives stops.
func (r *Runner) persist() {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if err := r.deps.Vector.Persist(); err != nil {
		r.logger.Warn("vector index persist failed", slog.String("error", err.Error()))
	}
}
