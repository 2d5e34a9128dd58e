// Package scanner discovers indexable files under a folder. It streams
// descriptors through a channel so large trees never materialize in
// memory, and computes content fingerprints for change detection.
package scanner

import (
	"time"

	"github.com/loupehq/loupe/internal/store"
)

const (
	// DefaultMaxFileSize drops files larger than 100 MiB.
	DefaultMaxFileSize = 100 * 1024 * 1024

	// DefaultWorkers is the stat+hash parallelism.
	DefaultWorkers = 4

	// hashPrefixSize is how much of each file feeds the content hash.
	// Hashing only the head keeps scans cheap on large media files; size
	// and mtime cover the tail.
	hashPrefixSize = 1 * 1024 * 1024
)

// Config controls a scan.
type Config struct {
	// Workers is the parallelism of per-file stat + hash (default 4).
	Workers int
	// MaxFileSize drops larger files with a debug log (default 100 MiB).
	MaxFileSize int64
	// Extensions is the allow-list, lowercased with leading dot
	// (".pdf"). Empty means every supported extension.
	Extensions []string
	// IncludeHidden keeps dotfiles and dot-directories.
	IncludeHidden bool
	// NonRecursive stops at the top level of the root.
	NonRecursive bool
}

// FileDescriptor is one discovered file.
type FileDescriptor struct {
	Path        string
	Name        string
	Ext         string
	Size        int64
	MTime       time.Time
	CTime       time.Time
	Mime        string
	ContentHash string
	FileType    store.FileType
}

// Result is one scan outcome: a descriptor or a per-file error. Per-file
// errors never abort the scan.
type Result struct {
	Desc FileDescriptor
	Err  error
}

// Known is the stored fingerprint Diff compares against.
type Known struct {
	Size        int64
	MTime       time.Time
	ContentHash string
}
