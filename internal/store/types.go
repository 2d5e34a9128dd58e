// Package store is the persistence layer: the SQLite metadata store, the
// HNSW vector index, and the bleve full-text index. The metadata store owns
// identity (file and chunk IDs are SQLite rowids); both indexes hold
// denormalized copies keyed by those IDs and are rebuildable from the store
// plus the file system.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// FileType classifies a file for parsing and filtering.
type FileType string

const (
	FileTypeDocument FileType = "document"
	FileTypeText     FileType = "text"
	FileTypePDF      FileType = "pdf"
	FileTypeImage    FileType = "image"
	FileTypeAudio    FileType = "audio"
	FileTypeVideo    FileType = "video"
	FileTypeOther    FileType = "other"
)

// Valid reports whether t is one of the known file types.
func (t FileType) Valid() bool {
	switch t {
	case FileTypeDocument, FileTypeText, FileTypePDF, FileTypeImage,
		FileTypeAudio, FileTypeVideo, FileTypeOther:
		return true
	}
	return false
}

// extTypes maps lowercase extensions to their canonical file type.
var extTypes = map[string]FileType{
	".txt": FileTypeText, ".log": FileTypeText, ".csv": FileTypeText,
	".json": FileTypeText, ".xml": FileTypeText, ".yaml": FileTypeText,
	".yml": FileTypeText,

	".md": FileTypeDocument, ".markdown": FileTypeDocument,
	".html": FileTypeDocument, ".htm": FileTypeDocument,
	".docx": FileTypeDocument, ".doc": FileTypeDocument,
	".xlsx": FileTypeDocument, ".xls": FileTypeDocument,
	".pptx": FileTypeDocument, ".ppt": FileTypeDocument,

	".pdf": FileTypePDF,

	".png": FileTypeImage, ".jpg": FileTypeImage, ".jpeg": FileTypeImage,
	".gif": FileTypeImage, ".bmp": FileTypeImage, ".webp": FileTypeImage,
	".tiff": FileTypeImage,

	".mp3": FileTypeAudio, ".wav": FileTypeAudio, ".m4a": FileTypeAudio,
	".flac": FileTypeAudio, ".ogg": FileTypeAudio,

	".mp4": FileTypeVideo, ".mov": FileTypeVideo, ".avi": FileTypeVideo,
	".mkv": FileTypeVideo, ".webm": FileTypeVideo,
}

// FileTypeFromExt maps an extension (with or without the leading dot) to
// its canonical file type. Unknown extensions map to FileTypeOther.
func FileTypeFromExt(ext string) FileType {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if t, ok := extTypes[ext]; ok {
		return t
	}
	return FileTypeOther
}

// FileTypeFromPath maps a path to its canonical file type by extension.
func FileTypeFromPath(path string) FileType {
	return FileTypeFromExt(filepath.Ext(path))
}

// CanonicalFileType resolves a user-supplied filter value: either a type
// name ("pdf", "document") or an extension (".md", "md").
func CanonicalFileType(v string) FileType {
	v = strings.ToLower(strings.TrimSpace(v))
	if t := FileType(v); t.Valid() {
		return t
	}
	return FileTypeFromExt(v)
}

// IndexStatus tracks a file or chunk through the indexing pipeline.
type IndexStatus string

const (
	IndexPending    IndexStatus = "pending"
	IndexProcessing IndexStatus = "processing"
	IndexCompleted  IndexStatus = "completed"
	IndexFailed     IndexStatus = "failed"
)

// JobType distinguishes full builds from incremental updates.
type JobType string

const (
	JobTypeCreate JobType = "create"
	JobTypeUpdate JobType = "update"
)

// JobStatus is the lifecycle state of an index job. Terminal states are
// JobCompleted and JobFailed; a job never leaves a terminal state.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether s is a terminal job status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// File is a row of the files table.
type File struct {
	ID              int64
	Path            string // absolute, unique
	Name            string
	Ext             string
	Type            FileType
	Size            int64
	MTime           time.Time
	CTime           time.Time
	IndexedAt       *time.Time
	ContentHash     string // SHA-256 hex of the first 1 MiB
	Mime            string
	Title           string
	Author          string
	Keywords        string
	ContentLength   int
	WordCount       int
	ParseConfidence float64
	IndexStatus     IndexStatus
	IsIndexed       bool
	NeedsReindex    bool
	RetryCount      int
	LastError       string
	IsChunked       bool
	TotalChunks     int
	ChunkStrategy   string // "S+O", e.g. "500+50"
	AvgChunkSize    int
}

// Chunk is a row of the file_chunks table. (FileID, ChunkIndex) is unique.
type Chunk struct {
	ID            int64
	FileID        int64
	ChunkIndex    int
	Content       string
	ContentLength int
	StartPosition int
	EndPosition   int
	IsIndexed     bool
	IndexStatus   IndexStatus
	IndexedAt     *time.Time
}

// IndexJob is a row of the index_jobs table.
type IndexJob struct {
	ID             int64
	FolderPath     string
	JobType        JobType
	Status         JobStatus
	TotalFiles     int
	ProcessedFiles int
	ErrorCount     int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   string
	CreatedAt      time.Time
}

// SearchHistory is an append-only observation of one search request.
type SearchHistory struct {
	ID             int64
	Query          string
	InputType      string
	SearchType     string
	ModelsUsed     string
	ResultCount    int
	ResponseTimeMS int64
	CreatedAt      time.Time
}

// Fingerprint is the store's change-detection view of an indexed file.
type Fingerprint struct {
	FileID      int64
	Size        int64
	MTime       time.Time
	ContentHash string
	IsIndexed   bool
}

// StoreStats summarizes the metadata store for status reporting.
type StoreStats struct {
	Files         int
	IndexedFiles  int
	FailedFiles   int
	Chunks        int
	Jobs          int
	RunningJobs   int
	SearchQueries int
}

// MetadataStore persists files, chunks, jobs, and search history.
type MetadataStore interface {
	// File operations
	GetFile(ctx context.Context, id int64) (*File, error)
	GetFileByPath(ctx context.Context, path string) (*File, error)
	ListFiles(ctx context.Context, limit, offset int) ([]*File, error)
	Fingerprints(ctx context.Context) (map[string]Fingerprint, error)
	UpdateFileStatus(ctx context.Context, id int64, status IndexStatus, lastError string) error
	SetNeedsReindex(ctx context.Context, id int64, needs bool) error
	FilesNeedingReindex(ctx context.Context) ([]*File, error)
	TouchFileStat(ctx context.Context, id int64, size int64, mtime time.Time) error
	DeleteFile(ctx context.Context, id int64) error // cascades to chunks

	// IndexFileTx stages the file row and its replacement chunks inside a
	// transaction, then invokes commit with the assigned IDs. The commit
	// callback writes the secondary indexes; a non-nil error rolls the
	// whole transaction back, so either all of a file's records become
	// visible or none do.
	IndexFileTx(ctx context.Context, file *File, chunks []*Chunk,
		commit func(fileID int64, chunkIDs []int64) error) (int64, error)

	// Chunk operations
	GetChunk(ctx context.Context, id int64) (*Chunk, error)
	GetChunksByIDs(ctx context.Context, ids []int64) (map[int64]*Chunk, error)
	GetChunksByFile(ctx context.Context, fileID int64) ([]*Chunk, error)
	ChunkIDsByFile(ctx context.Context, fileID int64) ([]int64, error)

	// Job operations. CreateJob returns a conflict error when a pending
	// or processing job already covers the same folder path.
	CreateJob(ctx context.Context, folderPath string, jobType JobType) (*IndexJob, error)
	GetJob(ctx context.Context, id int64) (*IndexJob, error)
	ListJobs(ctx context.Context, limit int) ([]*IndexJob, error)
	StartJob(ctx context.Context, id int64) error
	SetJobTotal(ctx context.Context, id int64, total int) error
	UpdateJobProgress(ctx context.Context, id int64, processed, errorCount int) error
	FinishJob(ctx context.Context, id int64, status JobStatus, errMsg string) error

	// Search history
	AddSearchHistory(ctx context.Context, h *SearchHistory) error
	RecentSearches(ctx context.Context, limit int) ([]*SearchHistory, error)

	// Stats and lifecycle
	Stats(ctx context.Context) (*StoreStats, error)
	Close() error
}

// VectorMeta is the side-table record identifying which chunk and file a
// vector belongs to.
type VectorMeta struct {
	VectorID     uint64
	ChunkID      int64
	FileID       int64
	FileName     string
	FilePath     string
	FileType     FileType
	FileSize     int64
	ModifiedTime time.Time
	CreatedAt    time.Time
}

// VectorHit is one nearest-neighbor result. Similarity is cosine, in [-1, 1].
type VectorHit struct {
	VectorID   uint64
	ChunkID    int64
	FileID     int64
	Similarity float32
}

// VectorStats reports live and orphaned graph nodes for compaction decisions.
type VectorStats struct {
	Live       int
	GraphNodes int
	Orphans    int
}

// VectorIndex is the persistent nearest-neighbor index over chunk
// embeddings. Single writer, many readers.
type VectorIndex interface {
	Add(ctx context.Context, vectors [][]float32, chunkIDs []int64, meta []VectorMeta) ([]uint64, error)
	Search(ctx context.Context, query []float32, k int) ([]VectorHit, error)
	DeleteByChunkIDs(ctx context.Context, chunkIDs []int64) int
	DeleteByFileID(ctx context.Context, fileID int64) int
	Compact(ctx context.Context) error
	Persist() error
	Dim() int
	Count() int
	Stats() VectorStats
	Close() error
}

// FullTextDoc is the per-chunk document stored in the full-text index.
type FullTextDoc struct {
	ID            string // "{file_id}_chunk_{chunk_index}"
	ChunkID       int64
	FileID        int64
	FileName      string
	FilePath      string
	FileType      FileType
	Title         string
	Content       string
	ChunkIndex    int
	StartPosition int
	EndPosition   int
	ContentLength int
	ModifiedTime  time.Time
	CreatedAt     time.Time
}

// DocID builds the full-text document ID for a chunk.
func DocID(fileID int64, chunkIndex int) string {
	return fmt.Sprintf("%d_chunk_%d", fileID, chunkIndex)
}

// FullTextQuery describes one lexical search.
type FullTextQuery struct {
	Text   string
	Fields []string // searched fields; default content, file_name, title
	Limit  int
	Offset int
	// Filters become conjunctive term constraints: field -> accepted values.
	Filters map[string][]string
	// Boosts override the default per-field boosts.
	Boosts map[string]float64
	// Phrase restricts matching to the exact phrase only.
	Phrase bool
}

// HighlightSpan is a matched byte range within a stored field.
type HighlightSpan struct {
	Field string
	Start int
	End   int
}

// FullTextHit is one BM25-ranked result.
type FullTextHit struct {
	ID           string
	ChunkID      int64
	FileID       int64
	Score        float64
	Rank         int // 1-based
	Fields       map[string]any
	MatchedTerms []string
	Highlights   []HighlightSpan
}

// FullTextIndex is the persistent inverted index over chunk documents.
type FullTextIndex interface {
	AddDocuments(ctx context.Context, docs []*FullTextDoc) error
	DeleteByID(ctx context.Context, id string) error
	DeleteByFileID(ctx context.Context, fileID int64) (int, error)
	Search(ctx context.Context, q FullTextQuery) ([]*FullTextHit, error)
	Suggest(ctx context.Context, prefix, field string, limit int) ([]string, error)
	Optimize(ctx context.Context) error
	Rebuild(ctx context.Context, docs []*FullTextDoc) error
	Count() (int, error)
	Close() error
}

// ErrDimensionMismatch is returned when a vector's dimension does not match
// the index.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: index has %d, got %d", e.Expected, e.Got)
}
