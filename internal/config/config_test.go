package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	loupeerr "github.com/loupehq/loupe/internal/errors"
)

func TestDefault_ReturnsDefaults(t *testing.T) {
	cfg := Default()

	require.NotNil(t, cfg)
	assert.NotEmpty(t, cfg.DataRoot)

	// Scanner defaults
	assert.Equal(t, 4, cfg.Scanner.MaxWorkers)
	assert.Equal(t, int64(100*1024*1024), cfg.Scanner.MaxFileSize)
	assert.Contains(t, cfg.Scanner.SupportedExtensions, ".txt")
	assert.Contains(t, cfg.Scanner.SupportedExtensions, ".pdf")
	assert.Contains(t, cfg.Scanner.SupportedExtensions, ".mp3")
	assert.Contains(t, cfg.Scanner.SupportedExtensions, ".png")
	assert.False(t, cfg.Scanner.IncludeHidden)

	// Parser defaults
	assert.Equal(t, 1024*1024, cfg.Parser.MaxContentLength)
	assert.False(t, cfg.Parser.PDFGarbageFilter)

	// Chunk defaults
	assert.Equal(t, 500, cfg.Chunk.DefaultSize)
	assert.Equal(t, 50, cfg.Chunk.Overlap)
	assert.Equal(t, 600, cfg.Chunk.Threshold)
	assert.Equal(t, []string{"document", "text", "pdf"}, cfg.Chunk.AutoTypes)

	// Embedding defaults
	assert.Equal(t, "http://localhost:11434", cfg.Embedding.Endpoint)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
	assert.Equal(t, 768, cfg.Embedding.Dim)
	assert.Equal(t, 1000, cfg.Embedding.CacheSize)

	// Vector defaults
	assert.Equal(t, 16, cfg.Vector.M)
	assert.Equal(t, 64, cfg.Vector.EfSearch)
	assert.Equal(t, 100, cfg.Vector.NList)
	assert.Equal(t, 8, cfg.Vector.NProbe)

	// Full-text defaults
	assert.True(t, cfg.FullText.UseCJKAnalyzer)

	// Predictor defaults
	assert.Equal(t, "http://localhost:8090", cfg.AI.Speech.Endpoint)
	assert.Equal(t, "llava", cfg.AI.Image.Model)
	assert.InDelta(t, 0.3, cfg.AI.Image.OCRMinConfidence, 1e-9)

	// Job defaults
	assert.Equal(t, 4, cfg.Job.MaxConcurrentFiles)
	assert.InDelta(t, 0.5, cfg.Job.FailureRatio, 1e-9)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Stderr)
}

func TestDefault_Validates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_MissingExplicitFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeConfigNotFound, loupeerr.GetCode(err))
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_root: /tmp/loupe-test
scanner:
  max_workers: 8
chunk:
  default_size: 800
fulltext:
  use_cjk_analyzer: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, "/tmp/loupe-test", cfg.DataRoot)
	assert.Equal(t, 8, cfg.Scanner.MaxWorkers)
	assert.Equal(t, 800, cfg.Chunk.DefaultSize)
	// Explicit false in the file wins over the true default.
	assert.False(t, cfg.FullText.UseCJKAnalyzer)

	// Untouched keys keep defaults.
	assert.Equal(t, 50, cfg.Chunk.Overlap)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
}

func TestLoad_UnknownKeyIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk:\n  sizee: 300\n"), 0o644))

	_, err := Load(path)

	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeConfigInvalid, loupeerr.GetCode(err))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOUPE_DATA_ROOT", "/tmp/loupe-env")
	t.Setenv("LOUPE_EMBEDDING_MODEL", "all-minilm")
	t.Setenv("LOUPE_LOG_LEVEL", "debug")
	t.Setenv("LOUPE_MAX_WORKERS", "2")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_root: /tmp/loupe-file\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env beats file.
	assert.Equal(t, "/tmp/loupe-env", cfg.DataRoot)
	assert.Equal(t, "all-minilm", cfg.Embedding.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Scanner.MaxWorkers)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data root", func(c *Config) { c.DataRoot = " " }},
		{"zero workers", func(c *Config) { c.Scanner.MaxWorkers = 0 }},
		{"negative file size", func(c *Config) { c.Scanner.MaxFileSize = -1 }},
		{"zero content length", func(c *Config) { c.Parser.MaxContentLength = 0 }},
		{"empty embedding endpoint", func(c *Config) { c.Embedding.Endpoint = "" }},
		{"zero batch size", func(c *Config) { c.Embedding.BatchSize = 0 }},
		{"zero dim", func(c *Config) { c.Embedding.Dim = 0 }},
		{"m too small", func(c *Config) { c.Vector.M = 1 }},
		{"nprobe above nlist", func(c *Config) { c.Vector.NProbe = c.Vector.NList + 1 }},
		{"confidence above one", func(c *Config) { c.AI.Image.OCRMinConfidence = 1.5 }},
		{"zero concurrent files", func(c *Config) { c.Job.MaxConcurrentFiles = 0 }},
		{"failure ratio above one", func(c *Config) { c.Job.FailureRatio = 1.1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad duration", func(c *Config) { c.Watch.Debounce = "soon" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	original := Default()
	original.DataRoot = "/tmp/loupe-rt"
	original.Chunk.DefaultSize = 750
	require.NoError(t, original.WriteYAML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/loupe-rt", loaded.DataRoot)
	assert.Equal(t, 750, loaded.Chunk.DefaultSize)
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataRoot = "/data/loupe"

	assert.Equal(t, filepath.Join("/data/loupe", "db", "app.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join("/data/loupe", "indexes", "vector", "file_index.bin"), cfg.VectorIndexPath())
	assert.Equal(t, filepath.Join("/data/loupe", "indexes", "vector", "file_index.meta"), cfg.VectorMetaPath())
	assert.Equal(t, filepath.Join("/data/loupe", "indexes", "fulltext"), cfg.FullTextDir())
	assert.Equal(t, filepath.Join("/data/loupe", "loupe.lock"), cfg.LockPath())
	assert.Equal(t, filepath.Join("/data/loupe", "logs", "loupe.log"), cfg.LogPath())
}

func TestLogPath_FileOverride(t *testing.T) {
	cfg := Default()
	cfg.Logging.File = "/var/log/custom.log"

	assert.Equal(t, "/var/log/custom.log", cfg.LogPath())
}

func TestEnsureDataRoot_CreatesTree(t *testing.T) {
	cfg := Default()
	cfg.DataRoot = filepath.Join(t.TempDir(), "root")

	require.NoError(t, cfg.EnsureDataRoot())

	for _, dir := range []string{
		filepath.Join(cfg.DataRoot, "db"),
		cfg.VectorDir(),
		cfg.FullTextDir(),
		filepath.Join(cfg.DataRoot, "logs"),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30*time.Second, cfg.Embedding.RequestTimeout())
	assert.Equal(t, 60*time.Second, cfg.AI.Speech.RequestTimeout())
	assert.Equal(t, 15*time.Minute, cfg.AI.Speech.DurationCap())
	assert.Equal(t, 30*time.Second, cfg.AI.Image.RequestTimeout())
	assert.Equal(t, 2*time.Second, cfg.Watch.DebounceInterval())

	cfg.Embedding.Timeout = "5s"
	assert.Equal(t, 5*time.Second, cfg.Embedding.RequestTimeout())

	// Empty falls back to the default.
	cfg.Watch.Debounce = ""
	assert.Equal(t, 2*time.Second, cfg.Watch.DebounceInterval())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "data"), ExpandHome("~/data"))
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "relative", ExpandHome("relative"))
}

func TestBackup_CreatesTimestampedCopy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_root: /tmp/x\n"), 0o644))

	backupPath, err := Backup(path)
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "data_root: /tmp/x\n", string(data))
}

func TestBackup_NoFileIsNoop(t *testing.T) {
	backupPath, err := Backup(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, err)
	assert.Empty(t, backupPath)
}
