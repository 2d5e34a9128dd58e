package embed

import (
	"log/slog"

	"github.com/loupehq/loupe/internal/config"
)

// StaticEndpoint selects the offline hash embedder instead of an HTTP
// service.
const StaticEndpoint = "static"

// New builds the embedder stack from config: an HTTP client wrapped in
// the LRU cache, or the offline static embedder when the endpoint is
// "static". The index runner adds the Resilient wrapper itself; search
// wants the raw error to degrade its semantic leg.
func New(cfg config.EmbeddingConfig, logger *slog.Logger) Embedder {
	if cfg.Endpoint == StaticEndpoint {
		return NewCached(NewStatic(cfg.Dim), cfg.CacheSize)
	}
	inner := NewHTTPEmbedder(HTTPOptions{
		Endpoint:   cfg.Endpoint,
		Model:      cfg.Model,
		Dimensions: cfg.Dim,
		BatchSize:  cfg.BatchSize,
		Timeout:    cfg.RequestTimeout(),
	}, logger)
	return NewCached(inner, cfg.CacheSize)
}
