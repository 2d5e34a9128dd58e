package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	loupeerr "github.com/loupehq/loupe/internal/errors"
)

// schemaVersion is stamped into PRAGMA user_version. A database with a
// different non-zero version is a schema mismatch, which is fatal.
const schemaVersion = 1

// SQLiteStore implements MetadataStore on modernc.org/sqlite.
// A single connection serializes writers; WAL mode keeps readers
// non-blocking.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. An empty path
// opens an in-memory database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, loupeerr.Fatal(loupeerr.ErrCodeDataRoot,
				fmt.Sprintf("cannot create database directory %s", filepath.Dir(path)), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, loupeerr.Fatal(loupeerr.ErrCodeDataRoot,
			fmt.Sprintf("cannot open database %s", dsn), err)
	}

	// Single writer prevents SQLITE_BUSY storms; WAL lets readers proceed.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN pragma parameters are ignored by modernc.org/sqlite; set them
	// with statements.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, loupeerr.Fatal(loupeerr.ErrCodeDataRoot,
				fmt.Sprintf("cannot set pragma %q", pragma), err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return loupeerr.Fatal(loupeerr.ErrCodeSchemaMismatch, "cannot read schema version", err)
	}
	if version != 0 && version != schemaVersion {
		return loupeerr.Fatal(loupeerr.ErrCodeSchemaMismatch,
			fmt.Sprintf("database schema version %d, expected %d", version, schemaVersion), nil)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS files (
		id               INTEGER PRIMARY KEY,
		path             TEXT NOT NULL UNIQUE,
		name             TEXT NOT NULL,
		ext              TEXT NOT NULL DEFAULT '',
		type             TEXT NOT NULL DEFAULT 'other',
		size             INTEGER NOT NULL DEFAULT 0,
		mtime            INTEGER NOT NULL DEFAULT 0,
		ctime            INTEGER NOT NULL DEFAULT 0,
		indexed_at       INTEGER,
		content_hash     TEXT NOT NULL DEFAULT '',
		mime             TEXT NOT NULL DEFAULT '',
		title            TEXT NOT NULL DEFAULT '',
		author           TEXT NOT NULL DEFAULT '',
		keywords         TEXT NOT NULL DEFAULT '',
		content_length   INTEGER NOT NULL DEFAULT 0,
		word_count       INTEGER NOT NULL DEFAULT 0,
		parse_confidence REAL NOT NULL DEFAULT 0,
		index_status     TEXT NOT NULL DEFAULT 'pending',
		is_indexed       INTEGER NOT NULL DEFAULT 0,
		needs_reindex    INTEGER NOT NULL DEFAULT 0,
		retry_count      INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT NOT NULL DEFAULT '',
		is_chunked       INTEGER NOT NULL DEFAULT 0,
		total_chunks     INTEGER NOT NULL DEFAULT 0,
		chunk_strategy   TEXT NOT NULL DEFAULT '',
		avg_chunk_size   INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_files_status ON files(index_status);
	CREATE INDEX IF NOT EXISTS idx_files_reindex ON files(needs_reindex);

	CREATE TABLE IF NOT EXISTS file_chunks (
		id              INTEGER PRIMARY KEY,
		file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		chunk_index     INTEGER NOT NULL,
		content         TEXT NOT NULL,
		content_length  INTEGER NOT NULL DEFAULT 0,
		start_position  INTEGER NOT NULL DEFAULT 0,
		end_position    INTEGER NOT NULL DEFAULT 0,
		is_indexed      INTEGER NOT NULL DEFAULT 0,
		index_status    TEXT NOT NULL DEFAULT 'pending',
		indexed_at      INTEGER,
		UNIQUE(file_id, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON file_chunks(file_id);

	CREATE TABLE IF NOT EXISTS index_jobs (
		id              INTEGER PRIMARY KEY,
		folder_path     TEXT NOT NULL,
		job_type        TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		total_files     INTEGER NOT NULL DEFAULT 0,
		processed_files INTEGER NOT NULL DEFAULT 0,
		error_count     INTEGER NOT NULL DEFAULT 0,
		started_at      INTEGER,
		completed_at    INTEGER,
		error_message   TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_path_status ON index_jobs(folder_path, status);

	CREATE TABLE IF NOT EXISTS search_history (
		id               INTEGER PRIMARY KEY,
		query            TEXT NOT NULL,
		input_type       TEXT NOT NULL DEFAULT 'text',
		search_type      TEXT NOT NULL DEFAULT 'hybrid',
		models_used      TEXT NOT NULL DEFAULT '',
		result_count     INTEGER NOT NULL DEFAULT 0,
		response_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return loupeerr.Fatal(loupeerr.ErrCodeSchemaMismatch, "cannot create schema", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return loupeerr.Fatal(loupeerr.ErrCodeSchemaMismatch, "cannot stamp schema version", err)
	}
	return nil
}

// Time columns are unix seconds. Second granularity also matches the
// scanner's mtime comparison.

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

const fileColumns = `id, path, name, ext, type, size, mtime, ctime, indexed_at,
	content_hash, mime, title, author, keywords, content_length, word_count,
	parse_confidence, index_status, is_indexed, needs_reindex, retry_count,
	last_error, is_chunked, total_chunks, chunk_strategy, avg_chunk_size`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*File, error) {
	var (
		f                       File
		mtime, ctime            int64
		indexedAt               sql.NullInt64
		isIndexed, needsReindex bool
		isChunked               bool
	)
	err := row.Scan(&f.ID, &f.Path, &f.Name, &f.Ext, &f.Type, &f.Size,
		&mtime, &ctime, &indexedAt, &f.ContentHash, &f.Mime, &f.Title,
		&f.Author, &f.Keywords, &f.ContentLength, &f.WordCount,
		&f.ParseConfidence, &f.IndexStatus, &isIndexed, &needsReindex,
		&f.RetryCount, &f.LastError, &isChunked, &f.TotalChunks,
		&f.ChunkStrategy, &f.AvgChunkSize)
	if err != nil {
		return nil, err
	}
	f.MTime = fromUnix(mtime)
	f.CTime = fromUnix(ctime)
	f.IndexedAt = fromNullUnix(indexedAt)
	f.IsIndexed = isIndexed
	f.NeedsReindex = needsReindex
	f.IsChunked = isChunked
	return &f, nil
}

// GetFile returns the file row with the given ID.
func (s *SQLiteStore) GetFile(ctx context.Context, id int64) (*File, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE id = ?", id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loupeerr.NotFound("file", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get file %d: %w", id, err)
	}
	return f, nil
}

// GetFileByPath returns the file row with the given path.
func (s *SQLiteStore) GetFileByPath(ctx context.Context, path string) (*File, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE path = ?", path)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loupeerr.New(loupeerr.ErrCodeNotFound,
			fmt.Sprintf("file %s not found", path), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get file by path %s: %w", path, err)
	}
	return f, nil
}

// ListFiles returns file rows ordered by path.
func (s *SQLiteStore) ListFiles(ctx context.Context, limit, offset int) ([]*File, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files ORDER BY path LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Fingerprints returns the change-detection view of every known file,
// keyed by path. This is the repository query behind incremental diffs.
func (s *SQLiteStore) Fingerprints(ctx context.Context) (map[string]Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, path, size, mtime, content_hash, is_indexed FROM files")
	if err != nil {
		return nil, fmt.Errorf("fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Fingerprint)
	for rows.Next() {
		var (
			fp    Fingerprint
			path  string
			mtime int64
		)
		if err := rows.Scan(&fp.FileID, &path, &fp.Size, &mtime, &fp.ContentHash, &fp.IsIndexed); err != nil {
			return nil, err
		}
		fp.MTime = fromUnix(mtime)
		out[path] = fp
	}
	return out, rows.Err()
}

// UpdateFileStatus sets the index status and last error of a file. Any
// update carrying an error also bumps retry_count, whether the file
// lands in failed or goes back to pending for another attempt.
func (s *SQLiteStore) UpdateFileStatus(ctx context.Context, id int64, status IndexStatus, lastError string) error {
	retryBump := 0
	if lastError != "" {
		retryBump = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET index_status = ?, last_error = ?,
			retry_count = retry_count + ?
		WHERE id = ?`, status, lastError, retryBump, id)
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loupeerr.NotFound("file", id)
	}
	return nil
}

// SetNeedsReindex flips the reindex marker. Marking also resets the file
// to pending, the only sanctioned path back from a terminal status.
func (s *SQLiteStore) SetNeedsReindex(ctx context.Context, id int64, needs bool) error {
	var res sql.Result
	var err error
	if needs {
		res, err = s.db.ExecContext(ctx, `
			UPDATE files SET needs_reindex = 1, index_status = 'pending'
			WHERE id = ?`, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE files SET needs_reindex = 0 WHERE id = ?", id)
	}
	if err != nil {
		return fmt.Errorf("set needs_reindex: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loupeerr.NotFound("file", id)
	}
	return nil
}

// FilesNeedingReindex returns files marked for reindexing.
func (s *SQLiteStore) FilesNeedingReindex(ctx context.Context) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE needs_reindex = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("files needing reindex: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// TouchFileStat updates size and mtime only. Used when content is
// unchanged by hash and a full rebuild would be wasted work.
func (s *SQLiteStore) TouchFileStat(ctx context.Context, id int64, size int64, mtime time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE files SET size = ?, mtime = ? WHERE id = ?", size, toUnix(mtime), id)
	if err != nil {
		return fmt.Errorf("touch file stat: %w", err)
	}
	return nil
}

// DeleteFile removes the file row; chunks go with it via cascade.
func (s *SQLiteStore) DeleteFile(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete file %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loupeerr.NotFound("file", id)
	}
	return nil
}

// IndexFileTx upserts the file row, replaces its chunks, and runs the
// commit callback inside the same transaction. See MetadataStore.
func (s *SQLiteStore) IndexFileTx(ctx context.Context, file *File, chunks []*Chunk,
	commit func(fileID int64, chunkIDs []int64) error) (int64, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin index tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO files (path, name, ext, type, size, mtime, ctime,
			indexed_at, content_hash, mime, title, author, keywords,
			content_length, word_count, parse_confidence, index_status,
			is_indexed, needs_reindex, retry_count, last_error,
			is_chunked, total_chunks, chunk_strategy, avg_chunk_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name, ext = excluded.ext, type = excluded.type,
			size = excluded.size, mtime = excluded.mtime, ctime = excluded.ctime,
			indexed_at = excluded.indexed_at, content_hash = excluded.content_hash,
			mime = excluded.mime, title = excluded.title, author = excluded.author,
			keywords = excluded.keywords, content_length = excluded.content_length,
			word_count = excluded.word_count, parse_confidence = excluded.parse_confidence,
			index_status = excluded.index_status, is_indexed = excluded.is_indexed,
			needs_reindex = excluded.needs_reindex, retry_count = excluded.retry_count,
			last_error = excluded.last_error, is_chunked = excluded.is_chunked,
			total_chunks = excluded.total_chunks, chunk_strategy = excluded.chunk_strategy,
			avg_chunk_size = excluded.avg_chunk_size`,
		file.Path, file.Name, file.Ext, file.Type, file.Size,
		toUnix(file.MTime), toUnix(file.CTime), toNullUnix(file.IndexedAt),
		file.ContentHash, file.Mime, file.Title, file.Author, file.Keywords,
		file.ContentLength, file.WordCount, file.ParseConfidence,
		file.IndexStatus, file.IsIndexed, file.NeedsReindex, file.RetryCount,
		file.LastError, file.IsChunked, file.TotalChunks, file.ChunkStrategy,
		file.AvgChunkSize)
	if err != nil {
		return 0, fmt.Errorf("upsert file %s: %w", file.Path, err)
	}

	fileID, err := res.LastInsertId()
	if err != nil || fileID == 0 {
		// ON CONFLICT UPDATE does not report an insert ID; look it up.
		if err := tx.QueryRowContext(ctx,
			"SELECT id FROM files WHERE path = ?", file.Path).Scan(&fileID); err != nil {
			return 0, fmt.Errorf("resolve file id for %s: %w", file.Path, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM file_chunks WHERE file_id = ?", fileID); err != nil {
		return 0, fmt.Errorf("clear chunks for file %d: %w", fileID, err)
	}

	chunkIDs := make([]int64, 0, len(chunks))
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_chunks (file_id, chunk_index, content,
			content_length, start_position, end_position,
			is_indexed, index_status, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		res, err := stmt.ExecContext(ctx, fileID, c.ChunkIndex, c.Content,
			c.ContentLength, c.StartPosition, c.EndPosition,
			c.IsIndexed, c.IndexStatus, toNullUnix(c.IndexedAt))
		if err != nil {
			return 0, fmt.Errorf("insert chunk %d for file %d: %w", c.ChunkIndex, fileID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("chunk insert id: %w", err)
		}
		c.ID = id
		c.FileID = fileID
		chunkIDs = append(chunkIDs, id)
	}

	if commit != nil {
		if err := commit(fileID, chunkIDs); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit index tx for file %d: %w", fileID, err)
	}
	file.ID = fileID
	return fileID, nil
}

const chunkColumns = `id, file_id, chunk_index, content, content_length,
	start_position, end_position, is_indexed, index_status, indexed_at`

func scanChunk(row rowScanner) (*Chunk, error) {
	var (
		c         Chunk
		indexedAt sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.FileID, &c.ChunkIndex, &c.Content,
		&c.ContentLength, &c.StartPosition, &c.EndPosition,
		&c.IsIndexed, &c.IndexStatus, &indexedAt)
	if err != nil {
		return nil, err
	}
	c.IndexedAt = fromNullUnix(indexedAt)
	return &c, nil
}

// GetChunk returns one chunk row.
func (s *SQLiteStore) GetChunk(ctx context.Context, id int64) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+chunkColumns+" FROM file_chunks WHERE id = ?", id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loupeerr.NotFound("chunk", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %d: %w", id, err)
	}
	return c, nil
}

// GetChunksByIDs batch-fetches chunks. Missing IDs are silently absent
// from the result map.
func (s *SQLiteStore) GetChunksByIDs(ctx context.Context, ids []int64) (map[int64]*Chunk, error) {
	out := make(map[int64]*Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := "SELECT " + chunkColumns + " FROM file_chunks WHERE id IN (" +
		strings.Join(placeholders, ",") + ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// GetChunksByFile returns a file's chunks ordered by chunk_index.
func (s *SQLiteStore) GetChunksByFile(ctx context.Context, fileID int64) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM file_chunks WHERE file_id = ? ORDER BY chunk_index", fileID)
	if err != nil {
		return nil, fmt.Errorf("get chunks for file %d: %w", fileID, err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkIDsByFile returns the chunk IDs of a file ordered by chunk_index.
func (s *SQLiteStore) ChunkIDsByFile(ctx context.Context, fileID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM file_chunks WHERE file_id = ? ORDER BY chunk_index", fileID)
	if err != nil {
		return nil, fmt.Errorf("chunk ids for file %d: %w", fileID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const jobColumns = `id, folder_path, job_type, status, total_files,
	processed_files, error_count, started_at, completed_at, error_message, created_at`

func scanJob(row rowScanner) (*IndexJob, error) {
	var (
		j                      IndexJob
		startedAt, completedAt sql.NullInt64
		createdAt              int64
	)
	err := row.Scan(&j.ID, &j.FolderPath, &j.JobType, &j.Status,
		&j.TotalFiles, &j.ProcessedFiles, &j.ErrorCount,
		&startedAt, &completedAt, &j.ErrorMessage, &createdAt)
	if err != nil {
		return nil, err
	}
	j.StartedAt = fromNullUnix(startedAt)
	j.CompletedAt = fromNullUnix(completedAt)
	j.CreatedAt = fromUnix(createdAt)
	return &j, nil
}

// CreateJob inserts a pending job. At most one non-terminal job may exist
// per folder path; a second request gets a conflict error carrying the
// existing job's ID.
func (s *SQLiteStore) CreateJob(ctx context.Context, folderPath string, jobType JobType) (*IndexJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create job: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM index_jobs
		WHERE folder_path = ? AND status IN ('pending', 'processing')
		LIMIT 1`, folderPath).Scan(&existingID)
	switch {
	case err == nil:
		return nil, loupeerr.Conflict(
			fmt.Sprintf("an index job is already running for %s", folderPath)).
			WithDetail("job_id", strconv.FormatInt(existingID, 10))
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("check running jobs: %w", err)
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO index_jobs (folder_path, job_type, status, created_at)
		VALUES (?, ?, 'pending', ?)`, folderPath, jobType, toUnix(now))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("job insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create job: %w", err)
	}

	return &IndexJob{
		ID:         id,
		FolderPath: folderPath,
		JobType:    jobType,
		Status:     JobPending,
		CreatedAt:  now.Truncate(time.Second),
	}, nil
}

// GetJob returns one job row.
func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*IndexJob, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM index_jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loupeerr.NotFound("job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return j, nil
}

// ListJobs returns the most recent jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]*IndexJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM index_jobs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*IndexJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// StartJob transitions pending -> processing and stamps started_at.
func (s *SQLiteStore) StartJob(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs SET status = 'processing', started_at = ?
		WHERE id = ? AND status = 'pending'`, toUnix(time.Now()), id)
	if err != nil {
		return fmt.Errorf("start job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loupeerr.New(loupeerr.ErrCodeInvalidInput,
			fmt.Sprintf("job %d is not pending", id), nil)
	}
	return nil
}

// SetJobTotal records total_files once scanning has enumerated the corpus.
func (s *SQLiteStore) SetJobTotal(ctx context.Context, id int64, total int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE index_jobs SET total_files = ? WHERE id = ?", total, id)
	if err != nil {
		return fmt.Errorf("set job total: %w", err)
	}
	return nil
}

// UpdateJobProgress stores the progress counters. The counters are
// monotone; max() keeps a stale writer from rolling a fresher value
// back.
func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id int64, processed, errorCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs SET processed_files = max(processed_files, ?),
			error_count = max(error_count, ?)
		WHERE id = ?`, processed, errorCount, id)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// FinishJob writes a terminal status. Completed jobs in a terminal state
// stay there: the guard refuses to overwrite one.
func (s *SQLiteStore) FinishJob(ctx context.Context, id int64, status JobStatus, errMsg string) error {
	if !status.Terminal() {
		return loupeerr.Validation(
			fmt.Sprintf("cannot finish job with non-terminal status %q", status), nil)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		status, errMsg, toUnix(time.Now()), id)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loupeerr.New(loupeerr.ErrCodeInvalidInput,
			fmt.Sprintf("job %d is already terminal", id), nil)
	}
	return nil
}

// AddSearchHistory appends one observation row.
func (s *SQLiteStore) AddSearchHistory(ctx context.Context, h *SearchHistory) error {
	now := h.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO search_history (query, input_type, search_type,
			models_used, result_count, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.Query, h.InputType, h.SearchType, h.ModelsUsed,
		h.ResultCount, h.ResponseTimeMS, toUnix(now))
	if err != nil {
		return fmt.Errorf("add search history: %w", err)
	}
	h.ID, _ = res.LastInsertId()
	return nil
}

// RecentSearches returns the most recent history rows.
func (s *SQLiteStore) RecentSearches(ctx context.Context, limit int) ([]*SearchHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, input_type, search_type, models_used,
			result_count, response_time_ms, created_at
		FROM search_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent searches: %w", err)
	}
	defer rows.Close()

	var out []*SearchHistory
	for rows.Next() {
		var (
			h         SearchHistory
			createdAt int64
		)
		if err := rows.Scan(&h.ID, &h.Query, &h.InputType, &h.SearchType,
			&h.ModelsUsed, &h.ResultCount, &h.ResponseTimeMS, &createdAt); err != nil {
			return nil, err
		}
		h.CreatedAt = fromUnix(createdAt)
		out = append(out, &h)
	}
	return out, rows.Err()
}

// Stats summarizes the store.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	var st StoreStats
	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM files", &st.Files},
		{"SELECT COUNT(*) FROM files WHERE is_indexed = 1", &st.IndexedFiles},
		{"SELECT COUNT(*) FROM files WHERE index_status = 'failed'", &st.FailedFiles},
		{"SELECT COUNT(*) FROM file_chunks", &st.Chunks},
		{"SELECT COUNT(*) FROM index_jobs", &st.Jobs},
		{"SELECT COUNT(*) FROM index_jobs WHERE status IN ('pending','processing')", &st.RunningJobs},
		{"SELECT COUNT(*) FROM search_history", &st.SearchQueries},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	return &st, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
