// Package app assembles the process singletons and exposes the consumer
// API: index builds, job control, progress streams, search, and
// per-file maintenance. Construction is eager and ordered; Close tears
// everything down in reverse.
package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loupehq/loupe/internal/chunk"
	"github.com/loupehq/loupe/internal/config"
	"github.com/loupehq/loupe/internal/embed"
	loupeerr "github.com/loupehq/loupe/internal/errors"
	"github.com/loupehq/loupe/internal/index"
	"github.com/loupehq/loupe/internal/metadata"
	"github.com/loupehq/loupe/internal/parser"
	"github.com/loupehq/loupe/internal/predict"
	"github.com/loupehq/loupe/internal/progress"
	"github.com/loupehq/loupe/internal/scanner"
	"github.com/loupehq/loupe/internal/search"
	"github.com/loupehq/loupe/internal/store"
)

// Services owns every long-lived component of a loupe process.
type Services struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *store.SQLiteStore
	vector   store.VectorIndex
	fulltext store.FullTextIndex
	embedder embed.Embedder
	speech   predict.Speech
	vision   predict.Vision

	hub     *progress.Hub
	runner  *index.Runner
	manager *index.Manager
	engine  *search.Engine

	// closers run in reverse construction order.
	closers []func() error
}

// New builds the full service graph from config. A construction failure
// tears down everything built so far.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	if cfg == nil {
		return nil, loupeerr.Config("configuration is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.EnsureDataRoot(); err != nil {
		return nil, err
	}

	s := &Services{cfg: cfg, logger: logger, hub: progress.NewHub()}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	metaStore, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	s.store = metaStore
	s.closers = append(s.closers, metaStore.Close)

	splitter := chunk.New(chunk.Options{
		Size:      cfg.Chunk.DefaultSize,
		Overlap:   cfg.Chunk.Overlap,
		Threshold: cfg.Chunk.Threshold,
	})

	vector, err := store.NewHNSWIndex(cfg.VectorIndexPath(), store.VectorIndexConfig{
		Dim:      cfg.Embedding.Dim,
		M:        cfg.Vector.M,
		EfSearch: cfg.Vector.EfSearch,
		NList:    cfg.Vector.NList,
		NProbe:   cfg.Vector.NProbe,
		Strategy: splitter.Strategy(),
	}, logger)
	if err != nil {
		return nil, err
	}
	s.vector = vector
	s.closers = append(s.closers, vector.Close)

	fulltext, err := store.NewBleveIndex(cfg.FullTextDir(), store.FullTextConfig{
		UseCJKAnalyzer: cfg.FullText.UseCJKAnalyzer,
	}, logger)
	if err != nil {
		return nil, err
	}
	s.fulltext = fulltext
	s.closers = append(s.closers, fulltext.Close)

	s.embedder = embed.New(cfg.Embedding, logger)
	s.closers = append(s.closers, s.embedder.Close)

	if cfg.AI.Speech.Endpoint != "" {
		speech := predict.NewHTTPSpeech(predict.SpeechOptions{
			Endpoint: cfg.AI.Speech.Endpoint,
			Timeout:  cfg.AI.Speech.RequestTimeout(),
		}, logger)
		s.speech = speech
		s.closers = append(s.closers, speech.Close)
	}
	if cfg.AI.Image.Endpoint != "" {
		vision := predict.NewHTTPVision(predict.VisionOptions{
			Endpoint: cfg.AI.Image.Endpoint,
			Model:    cfg.AI.Image.Model,
			Timeout:  cfg.AI.Image.RequestTimeout(),
		}, logger)
		s.vision = vision
		s.closers = append(s.closers, vision.Close)
	}

	s.runner, err = index.NewRunner(index.Dependencies{
		Store:    metaStore,
		Vector:   vector,
		FullText: fulltext,
		Embedder: s.embedder,
		Scanner: scanner.New(scanner.Config{
			Workers:       cfg.Scanner.MaxWorkers,
			MaxFileSize:   cfg.Scanner.MaxFileSize,
			Extensions:    cfg.Scanner.SupportedExtensions,
			IncludeHidden: cfg.Scanner.IncludeHidden,
		}, logger),
		Parser: parser.New(parser.Options{
			MaxContentLength:  cfg.Parser.MaxContentLength,
			PDFGarbageFilter:  cfg.Parser.PDFGarbageFilter,
			OCRMinConfidence:  cfg.AI.Image.OCRMinConfidence,
			SpeechMaxDuration: int(cfg.AI.Speech.DurationCap().Seconds()),
		}, s.speech, s.vision, logger),
		Extractor: metadata.New(logger),
		Chunker:   splitter,
		Hub:       s.hub,
		Config:    cfg,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	s.manager, err = index.NewManager(s.runner, metaStore, cfg.LockPath(), logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.manager.Close)

	s.engine, err = search.NewEngine(metaStore, vector, fulltext, s.embedder,
		s.speech, s.vision, logger)
	if err != nil {
		return nil, err
	}

	if !s.embedder.Available(ctx) {
		logger.Warn("embedding service unavailable at startup; semantic search will degrade",
			slog.String("endpoint", cfg.Embedding.Endpoint))
	}

	ok = true
	return s, nil
}

// Close tears the services down in reverse construction order. The
// first error wins; later closers still run.
func (s *Services) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// BuildFullIndex starts a full index job over the roots and returns its
// job ID.
func (s *Services) BuildFullIndex(ctx context.Context, roots []string, fileTypes []string) (int64, error) {
	return s.manager.StartFull(ctx, roots, fileTypes)
}

// BuildIncrementalIndex starts an incremental job over the roots.
func (s *Services) BuildIncrementalIndex(ctx context.Context, roots []string, fileTypes []string) (int64, error) {
	return s.manager.StartIncremental(ctx, roots, fileTypes)
}

// GetJob returns the stored job row.
func (s *Services) GetJob(ctx context.Context, jobID int64) (*store.IndexJob, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListJobs returns recent jobs, newest first.
func (s *Services) ListJobs(ctx context.Context, limit int) ([]*store.IndexJob, error) {
	return s.store.ListJobs(ctx, limit)
}

// StopJob cancels a running job.
func (s *Services) StopJob(ctx context.Context, jobID int64) error {
	return s.manager.Stop(jobID)
}

// WaitJob blocks until the job finishes.
func (s *Services) WaitJob(ctx context.Context, jobID int64) error {
	return s.manager.Wait(ctx, jobID)
}

// SubscribeJob attaches a progress stream to a job. Unknown jobs still
// get a subscription; a stored terminal job yields its final snapshot
// immediately.
func (s *Services) SubscribeJob(jobID int64) (*progress.Subscription, error) {
	job, err := s.store.GetJob(context.Background(), jobID)
	if err != nil {
		return nil, err
	}
	sub := s.hub.Subscribe(jobID)
	if job.Status.Terminal() && !s.manager.Running(jobID) {
		// The hub may have restarted since the job ended; synthesize
		// the terminal snapshot from the stored row.
		s.hub.Publish(jobID, progress.Snapshot{
			Status:         job.Status,
			Progress:       1,
			ProcessedFiles: job.ProcessedFiles,
			TotalFiles:     job.TotalFiles,
			ErrorCount:     job.ErrorCount,
			Message:        job.ErrorMessage,
		})
	}
	return sub, nil
}

// Unsubscribe detaches a progress stream.
func (s *Services) Unsubscribe(sub *progress.Subscription) {
	s.hub.Unsubscribe(sub)
}

// Search runs a text search and records it in the history.
func (s *Services) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	resp, err := s.engine.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	s.recordSearch(ctx, req.Query, string(search.InputText), string(req.Type), resp)
	return resp, nil
}

// MultimodalSearch converts a voice or image payload and searches with
// the result, recording the converted query in the history.
func (s *Services) MultimodalSearch(ctx context.Context, req search.MultimodalRequest) (*search.Response, error) {
	resp, err := s.engine.MultimodalSearch(ctx, req)
	if err != nil {
		return nil, err
	}
	s.recordSearch(ctx, resp.ConvertedText, string(req.InputType), string(req.Type), resp)
	return resp, nil
}

// Suggest returns completion candidates for a query prefix.
func (s *Services) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	return s.fulltext.Suggest(ctx, prefix, "content", limit)
}

// DeleteFile removes a file from the store and both indexes.
func (s *Services) DeleteFile(ctx context.Context, fileID int64) error {
	return s.runner.RemoveFile(ctx, fileID)
}

// Reindex re-runs the pipeline for one file immediately.
func (s *Services) Reindex(ctx context.Context, fileID int64) error {
	return s.runner.ReindexFile(ctx, fileID)
}

// MarkForReindex flags a file so the next incremental job rebuilds it.
func (s *Services) MarkForReindex(ctx context.Context, fileID int64) error {
	return s.store.SetNeedsReindex(ctx, fileID, true)
}

// Status reports store counts, index counts, and consistency issues.
func (s *Services) Status(ctx context.Context) (*index.CheckResult, error) {
	return index.NewChecker(s.store, s.vector, s.fulltext).Check(ctx)
}

// RecentSearches returns the latest history rows, newest first.
func (s *Services) RecentSearches(ctx context.Context, limit int) ([]*store.SearchHistory, error) {
	return s.store.RecentSearches(ctx, limit)
}

// Store exposes the metadata store for read-mostly CLI commands.
func (s *Services) Store() store.MetadataStore { return s.store }

// Hub exposes the progress hub.
func (s *Services) Hub() *progress.Hub { return s.hub }

// Config returns the configuration the services were built from.
func (s *Services) Config() *config.Config { return s.cfg }

// EmbedderModel returns the embedding model identifier.
func (s *Services) EmbedderModel() string { return s.embedder.ModelName() }

// EmbedderReady probes the embedding service.
func (s *Services) EmbedderReady(ctx context.Context) bool { return s.embedder.Available(ctx) }

// SpeechConfigured reports whether a speech predictor is wired.
func (s *Services) SpeechConfigured() bool { return s.speech != nil }

// VisionConfigured reports whether an image predictor is wired.
func (s *Services) VisionConfigured() bool { return s.vision != nil }

func (s *Services) recordSearch(ctx context.Context, query, inputType, searchType string, resp *search.Response) {
	if searchType == "" {
		searchType = string(search.TypeHybrid)
	}
	models := []string{s.embedder.ModelName()}
	if inputType == string(search.InputVoice) {
		models = append(models, "speech")
	}
	if inputType == string(search.InputImage) {
		models = append(models, s.cfg.AI.Image.Model)
	}
	h := &store.SearchHistory{
		Query:          query,
		InputType:      inputType,
		SearchType:     searchType,
		ModelsUsed:     strings.Join(models, ","),
		ResultCount:    resp.Total,
		ResponseTimeMS: resp.ElapsedMS,
		CreatedAt:      time.Now(),
	}
	if err := s.store.AddSearchHistory(ctx, h); err != nil {
		s.logger.Warn("cannot record search history", slog.String("error", err.Error()))
	}
}
