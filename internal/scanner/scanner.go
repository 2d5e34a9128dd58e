package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	loupeerr "github.com/loupehq/loupe/internal/errors"
	"github.com/loupehq/loupe/internal/store"
)

// Scanner discovers indexable files under a root folder.
type Scanner struct {
	cfg     Config
	allowed map[string]bool // nil means "every known extension"
	logger  *slog.Logger
}

// New creates a scanner. An empty extension list allows every extension
// with a known file type.
func New(cfg Config, logger *slog.Logger) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	var allowed map[string]bool
	if len(cfg.Extensions) > 0 {
		allowed = make(map[string]bool, len(cfg.Extensions))
		for _, ext := range cfg.Extensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			allowed[ext] = true
		}
	}
	return &Scanner{cfg: cfg, allowed: allowed, logger: logger}
}

// Scan walks root and streams one Result per candidate file. Per-file
// errors flow through the channel; only root-level problems fail the
// call. The channel closes when the walk and all workers finish.
func (s *Scanner) Scan(ctx context.Context, root string) (<-chan Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, loupeerr.Validation(fmt.Sprintf("cannot resolve path %s", root), err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, loupeerr.New(loupeerr.ErrCodeInvalidPath,
			fmt.Sprintf("cannot access folder %s", absRoot), err)
	}
	if !info.IsDir() {
		return nil, loupeerr.New(loupeerr.ErrCodeInvalidPath,
			fmt.Sprintf("%s is not a directory", absRoot), nil)
	}

	results := make(chan Result, s.cfg.Workers*8)
	paths := make(chan string, s.cfg.Workers*8)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				s.emit(ctx, path, results)
			}
		}()
	}

	go func() {
		defer close(results)
		defer wg.Wait()
		defer close(paths)

		walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				// Unreadable entry: report and keep walking.
				results <- Result{Err: loupeerr.New(loupeerr.ErrCodeFileUnreadable,
					fmt.Sprintf("cannot read %s", path), err)}
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				if path == absRoot {
					return nil
				}
				if !s.cfg.IncludeHidden && isHidden(d.Name()) {
					return fs.SkipDir
				}
				if s.cfg.NonRecursive {
					return fs.SkipDir
				}
				return nil
			}

			if !s.cfg.IncludeHidden && isHidden(d.Name()) {
				return nil
			}
			if !s.wantExt(filepath.Ext(d.Name())) {
				return nil
			}

			select {
			case paths <- path:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if walkErr != nil && ctx.Err() == nil {
			results <- Result{Err: walkErr}
		}
	}()

	return results, nil
}

// emit stats and fingerprints one file, sending the outcome as a Result.
func (s *Scanner) emit(ctx context.Context, path string, results chan<- Result) {
	if ctx.Err() != nil {
		return
	}

	desc, err := s.Describe(path)
	if err != nil {
		results <- Result{Err: err}
		return
	}
	if desc == nil {
		return // dropped (size cap)
	}
	select {
	case results <- Result{Desc: *desc}:
	case <-ctx.Done():
	}
}

// Describe stats and hashes a single file. A nil descriptor with nil
// error means the file was dropped by the size cap.
func (s *Scanner) Describe(path string) (*FileDescriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, loupeerr.New(loupeerr.ErrCodeFileUnreadable,
			fmt.Sprintf("cannot stat %s", path), err)
	}
	if info.Size() > s.cfg.MaxFileSize {
		s.logger.Debug("file exceeds size limit, skipping",
			slog.String("path", path),
			slog.Int64("size", info.Size()),
			slog.Int64("limit", s.cfg.MaxFileSize))
		return nil, nil
	}

	hash, err := hashPrefix(path)
	if err != nil {
		return nil, loupeerr.New(loupeerr.ErrCodeFileUnreadable,
			fmt.Sprintf("cannot hash %s", path), err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	return &FileDescriptor{
		Path:        path,
		Name:        filepath.Base(path),
		Ext:         ext,
		Size:        info.Size(),
		MTime:       info.ModTime(),
		CTime:       ctime(info),
		Mime:        mime.TypeByExtension(ext),
		ContentHash: hash,
		FileType:    store.FileTypeFromExt(ext),
	}, nil
}

// Diff walks root and splits the outcome against the known fingerprints:
// new paths and paths whose (mtime, size) differ are changed, known paths
// absent from the walk are deleted. MTime is compared at second
// granularity because stored times round-trip through SQLite as unix
// seconds.
func (s *Scanner) Diff(ctx context.Context, root string, known map[string]Known) (changed []FileDescriptor, deleted []string, err error) {
	results, err := s.Scan(ctx, root)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool, len(known))
	for res := range results {
		if res.Err != nil {
			s.logger.Warn("scan error during diff", slog.String("error", res.Err.Error()))
			continue
		}
		seen[res.Desc.Path] = true

		k, ok := known[res.Desc.Path]
		if !ok {
			changed = append(changed, res.Desc)
			continue
		}
		if k.Size != res.Desc.Size || k.MTime.Unix() != res.Desc.MTime.Unix() {
			changed = append(changed, res.Desc)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	for path := range known {
		if !seen[path] {
			deleted = append(deleted, path)
		}
	}
	return changed, deleted, nil
}

func (s *Scanner) wantExt(ext string) bool {
	ext = strings.ToLower(ext)
	if s.allowed != nil {
		return s.allowed[ext]
	}
	return store.FileTypeFromExt(ext) != store.FileTypeOther
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// hashPrefix computes the SHA-256 of the first 1 MiB of the file.
func hashPrefix(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, hashPrefixSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
