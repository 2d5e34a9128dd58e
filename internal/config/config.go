// Package config loads and validates loupe configuration. Values come from
// built-in defaults, an optional YAML file, and LOUPE_* environment
// variables, in that order of precedence.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	loupeerr "github.com/loupehq/loupe/internal/errors"
)

// Config is the complete loupe configuration.
type Config struct {
	// DataRoot is where all persistent state lives: the SQLite database,
	// both index directories, the process lock, and logs.
	DataRoot string `yaml:"data_root"`

	Scanner   ScannerConfig   `yaml:"scanner"`
	Parser    ParserConfig    `yaml:"parser"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	FullText  FullTextConfig  `yaml:"fulltext"`
	AI        AIConfig        `yaml:"ai"`
	Job       JobConfig       `yaml:"job"`
	Logging   LoggingConfig   `yaml:"logging"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ScannerConfig controls file discovery.
type ScannerConfig struct {
	// MaxWorkers is the parallelism of per-file stat + hash computation.
	MaxWorkers int `yaml:"max_workers"`
	// MaxFileSize drops files larger than this many bytes (default 100 MiB).
	MaxFileSize int64 `yaml:"max_file_size"`
	// SupportedExtensions is the allow-list; files outside it are
	// silently dropped.
	SupportedExtensions []string `yaml:"supported_extensions"`
	// IncludeHidden scans dot-files and dot-directories too.
	IncludeHidden bool `yaml:"include_hidden"`
}

// ParserConfig controls content extraction.
type ParserConfig struct {
	// MaxContentLength truncates parsed text to this many characters.
	MaxContentLength int `yaml:"max_content_length"`
	// PDFGarbageFilter drops repeated-garbage runs and low-signal lines
	// from PDF text. Off by default; scanned PDFs with noisy OCR layers
	// are the case it exists for.
	PDFGarbageFilter bool `yaml:"pdf_garbage_filter"`
}

// ChunkConfig controls text windowing.
type ChunkConfig struct {
	// DefaultSize is the target window size in characters. The chunker
	// clamps it to 100-2000.
	DefaultSize int `yaml:"default_size"`
	// Overlap is the prefix carried from the previous chunk, clamped to
	// 0..DefaultSize/2.
	Overlap int `yaml:"overlap"`
	// Threshold is the minimum text length that triggers chunking at all.
	Threshold int `yaml:"threshold"`
	// AutoTypes lists the file types eligible for chunking. Entries are
	// canonicalized, so "text" and "pdf" both mean "document".
	AutoTypes []string `yaml:"auto_types"`
}

// EmbeddingConfig configures the embedding predictor client.
type EmbeddingConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
	// Dim must match the vector index dimension.
	Dim       int    `yaml:"dim"`
	Timeout   string `yaml:"timeout"`
	CacheSize int    `yaml:"cache_size"`
}

// VectorConfig tunes the vector index.
type VectorConfig struct {
	// M is the maximum number of graph neighbors per node.
	M int `yaml:"m"`
	// EfSearch is the candidate list size during search.
	EfSearch int `yaml:"ef_search"`
	// NList and NProbe are accepted for compatibility with IVF-style
	// tuning; the graph index reads them only for capacity hints.
	NList  int `yaml:"nlist"`
	NProbe int `yaml:"nprobe"`
}

// FullTextConfig tunes the full-text index.
type FullTextConfig struct {
	// UseCJKAnalyzer enables bigram tokenization for CJK text.
	UseCJKAnalyzer bool `yaml:"use_cjk_analyzer"`
}

// AIConfig groups the speech and image predictor clients.
type AIConfig struct {
	Speech SpeechConfig `yaml:"speech"`
	Image  ImageConfig  `yaml:"image"`
}

// SpeechConfig configures the transcription predictor.
type SpeechConfig struct {
	Endpoint string `yaml:"endpoint"`
	// MaxDuration caps the audio fed to the predictor.
	MaxDuration string `yaml:"max_duration"`
	Timeout     string `yaml:"timeout"`
}

// ImageConfig configures the OCR/captioning predictor.
type ImageConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	// OCRMinConfidence filters OCR lines below this confidence.
	OCRMinConfidence float64 `yaml:"ocr_min_confidence"`
	Timeout          string  `yaml:"timeout"`
}

// JobConfig controls index job execution.
type JobConfig struct {
	// MaxConcurrentFiles is the build-stage worker count.
	MaxConcurrentFiles int `yaml:"max_concurrent_files"`
	// FailureRatio fails the whole job when error_count/total exceeds it.
	FailureRatio float64 `yaml:"failure_ratio"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// File overrides the default <data_root>/logs/loupe.log location.
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
	Stderr    bool   `yaml:"stderr"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	// Debounce coalesces filesystem events before triggering an
	// incremental build.
	Debounce string `yaml:"debounce"`
}

// defaultExtensions is the built-in scanner allow-list, covering every
// parser variant.
var defaultExtensions = []string{
	// text-like
	".txt", ".md", ".markdown", ".html", ".htm", ".csv",
	".json", ".xml", ".yaml", ".yml", ".log",
	// office
	".docx", ".doc", ".xlsx", ".xls", ".pptx", ".ppt",
	".pdf",
	// audio
	".mp3", ".wav", ".m4a", ".flac", ".ogg",
	// video
	".mp4", ".mov", ".avi", ".mkv", ".webm",
	// image
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".tiff",
}

// Default returns the configuration with every field set to its default.
func Default() *Config {
	return &Config{
		DataRoot: defaultDataRoot(),
		Scanner: ScannerConfig{
			MaxWorkers:          4,
			MaxFileSize:         100 * 1024 * 1024,
			SupportedExtensions: append([]string(nil), defaultExtensions...),
			IncludeHidden:       false,
		},
		Parser: ParserConfig{
			MaxContentLength: 1024 * 1024,
			PDFGarbageFilter: false,
		},
		Chunk: ChunkConfig{
			DefaultSize: 500,
			Overlap:     50,
			Threshold:   600,
			AutoTypes:   []string{"document", "text", "pdf"},
		},
		Embedding: EmbeddingConfig{
			Endpoint:  "http://localhost:11434",
			Model:     "nomic-embed-text",
			BatchSize: 32,
			Dim:       768,
			Timeout:   "30s",
			CacheSize: 1000,
		},
		Vector: VectorConfig{
			M:        16,
			EfSearch: 64,
			NList:    100,
			NProbe:   8,
		},
		FullText: FullTextConfig{
			UseCJKAnalyzer: true,
		},
		AI: AIConfig{
			Speech: SpeechConfig{
				Endpoint:    "http://localhost:8090",
				MaxDuration: "15m",
				Timeout:     "60s",
			},
			Image: ImageConfig{
				Endpoint:         "http://localhost:11434",
				Model:            "llava",
				OCRMinConfidence: 0.3,
				Timeout:          "30s",
			},
		},
		Job: JobConfig{
			MaxConcurrentFiles: 4,
			FailureRatio:       0.5,
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      "",
			MaxSizeMB: 10,
			MaxFiles:  3,
			Stderr:    true,
		},
		Watch: WatchConfig{
			Debounce: "2s",
		},
	}
}

// defaultDataRoot returns ~/.local/share/loupe, honoring XDG_DATA_HOME.
// Falls back to the temp directory if the home directory is unavailable.
func defaultDataRoot() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "loupe")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "loupe")
	}
	return filepath.Join(home, ".local", "share", "loupe")
}

// DefaultConfigPath returns the config file location, following the XDG
// Base Directory convention: ~/.config/loupe/config.yaml.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "loupe", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "loupe", "config.yaml")
	}
	return filepath.Join(home, ".config", "loupe", "config.yaml")
}

// Load builds the effective configuration. Precedence, lowest to highest:
//
//  1. Default()
//  2. YAML file (explicit path, or DefaultConfigPath() when it exists)
//  3. LOUPE_* environment variables
//
// An explicit path that does not exist is an error; a missing default
// file is not. The result is validated and DataRoot is expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	switch {
	case path != "":
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	default:
		defaultPath := DefaultConfigPath()
		if fileExists(defaultPath) {
			if err := cfg.loadYAML(defaultPath); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.DataRoot = ExpandHome(cfg.DataRoot)
	return cfg, nil
}

// loadYAML decodes a YAML file over the receiver. Keys absent from the
// file keep their current values, so explicit false/zero in the file wins
// while omitted keys fall back to defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return loupeerr.New(loupeerr.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", path), err)
		}
		return loupeerr.New(loupeerr.ErrCodeConfigInvalid,
			fmt.Sprintf("cannot read config file: %s", path), err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return loupeerr.New(loupeerr.ErrCodeConfigInvalid,
			fmt.Sprintf("cannot parse config file: %s", path), err)
	}
	return nil
}

// applyEnvOverrides applies LOUPE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LOUPE_DATA_ROOT"); v != "" {
		c.DataRoot = v
	}
	if v := os.Getenv("LOUPE_EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("LOUPE_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("LOUPE_SPEECH_ENDPOINT"); v != "" {
		c.AI.Speech.Endpoint = v
	}
	if v := os.Getenv("LOUPE_IMAGE_ENDPOINT"); v != "" {
		c.AI.Image.Endpoint = v
	}
	if v := os.Getenv("LOUPE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOUPE_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scanner.MaxWorkers = n
		}
	}
}

// Validate checks the configuration for values the core cannot work with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataRoot) == "" {
		return loupeerr.Config("data_root must not be empty", nil)
	}
	if c.Scanner.MaxWorkers < 1 {
		return loupeerr.Config(
			fmt.Sprintf("scanner.max_workers must be at least 1, got %d", c.Scanner.MaxWorkers), nil)
	}
	if c.Scanner.MaxFileSize <= 0 {
		return loupeerr.Config(
			fmt.Sprintf("scanner.max_file_size must be positive, got %d", c.Scanner.MaxFileSize), nil)
	}
	if c.Parser.MaxContentLength <= 0 {
		return loupeerr.Config(
			fmt.Sprintf("parser.max_content_length must be positive, got %d", c.Parser.MaxContentLength), nil)
	}
	if c.Embedding.Endpoint == "" {
		return loupeerr.Config("embedding.endpoint must not be empty", nil)
	}
	if c.Embedding.BatchSize < 1 {
		return loupeerr.Config(
			fmt.Sprintf("embedding.batch_size must be at least 1, got %d", c.Embedding.BatchSize), nil)
	}
	if c.Embedding.Dim < 1 {
		return loupeerr.Config(
			fmt.Sprintf("embedding.dim must be at least 1, got %d", c.Embedding.Dim), nil)
	}
	if c.Vector.M < 2 {
		return loupeerr.Config(
			fmt.Sprintf("vector.m must be at least 2, got %d", c.Vector.M), nil)
	}
	if c.Vector.EfSearch < 1 {
		return loupeerr.Config(
			fmt.Sprintf("vector.ef_search must be at least 1, got %d", c.Vector.EfSearch), nil)
	}
	if c.Vector.NList < 1 || c.Vector.NProbe < 1 || c.Vector.NProbe > c.Vector.NList {
		return loupeerr.Config(
			fmt.Sprintf("vector.nlist/nprobe must satisfy 1 <= nprobe <= nlist, got nlist=%d nprobe=%d",
				c.Vector.NList, c.Vector.NProbe), nil)
	}
	if c.AI.Image.OCRMinConfidence < 0 || c.AI.Image.OCRMinConfidence > 1 {
		return loupeerr.Config(
			fmt.Sprintf("ai.image.ocr_min_confidence must be in [0,1], got %f", c.AI.Image.OCRMinConfidence), nil)
	}
	if c.Job.MaxConcurrentFiles < 1 {
		return loupeerr.Config(
			fmt.Sprintf("job.max_concurrent_files must be at least 1, got %d", c.Job.MaxConcurrentFiles), nil)
	}
	if c.Job.FailureRatio < 0 || c.Job.FailureRatio > 1 {
		return loupeerr.Config(
			fmt.Sprintf("job.failure_ratio must be in [0,1], got %f", c.Job.FailureRatio), nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return loupeerr.Config(
			fmt.Sprintf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level), nil)
	}

	for key, val := range map[string]string{
		"embedding.timeout":      c.Embedding.Timeout,
		"ai.speech.max_duration": c.AI.Speech.MaxDuration,
		"ai.speech.timeout":      c.AI.Speech.Timeout,
		"ai.image.timeout":       c.AI.Image.Timeout,
		"watch.debounce":         c.Watch.Debounce,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return loupeerr.Config(
				fmt.Sprintf("%s is not a valid duration: %q", key, val), err)
		}
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return loupeerr.Internal("failed to marshal config", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return loupeerr.Config("failed to create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return loupeerr.Config("failed to write config file", err)
	}
	return nil
}

// Derived storage paths under DataRoot.

// DatabasePath returns the SQLite file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataRoot, "db", "app.db")
}

// VectorDir returns the vector index directory.
func (c *Config) VectorDir() string {
	return filepath.Join(c.DataRoot, "indexes", "vector")
}

// VectorIndexPath returns the vector graph file path.
func (c *Config) VectorIndexPath() string {
	return filepath.Join(c.VectorDir(), "file_index.bin")
}

// VectorMetaPath returns the vector side-metadata file path.
func (c *Config) VectorMetaPath() string {
	return filepath.Join(c.VectorDir(), "file_index.meta")
}

// FullTextDir returns the full-text index directory.
func (c *Config) FullTextDir() string {
	return filepath.Join(c.DataRoot, "indexes", "fulltext")
}

// LockPath returns the process-exclusivity lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataRoot, "loupe.lock")
}

// LogPath returns the log file path, honoring the logging.file override.
func (c *Config) LogPath() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(c.DataRoot, "logs", "loupe.log")
}

// EnsureDataRoot creates the data-root directory tree. An unreachable
// data root is fatal: nothing can run without it.
func (c *Config) EnsureDataRoot() error {
	for _, dir := range []string{
		filepath.Join(c.DataRoot, "db"),
		c.VectorDir(),
		c.FullTextDir(),
		filepath.Join(c.DataRoot, "logs"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return loupeerr.Fatal(loupeerr.ErrCodeDataRoot,
				fmt.Sprintf("cannot create data root directory %s", dir), err)
		}
	}
	return nil
}

// Parsed duration accessors. Invalid values were rejected by Validate;
// empty values fall back to the documented defaults.

// RequestTimeout returns the per-batch embedding deadline.
func (e EmbeddingConfig) RequestTimeout() time.Duration {
	return parseDurationOr(e.Timeout, 30*time.Second)
}

// RequestTimeout returns the per-call transcription deadline.
func (s SpeechConfig) RequestTimeout() time.Duration {
	return parseDurationOr(s.Timeout, 60*time.Second)
}

// DurationCap returns the maximum audio length fed to the predictor.
func (s SpeechConfig) DurationCap() time.Duration {
	return parseDurationOr(s.MaxDuration, 15*time.Minute)
}

// RequestTimeout returns the per-call OCR/captioning deadline.
func (i ImageConfig) RequestTimeout() time.Duration {
	return parseDurationOr(i.Timeout, 30*time.Second)
}

// DebounceInterval returns the watch-mode event coalescing window.
func (w WatchConfig) DebounceInterval() time.Duration {
	return parseDurationOr(w.Debounce, 2*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
