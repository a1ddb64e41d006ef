package index

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/config"
)

// New creates an Index based on the configuration.
//
// The provider field selects the backend:
//   - "memory" (default): in-process, exact, nothing to operate
//   - "chromem": embedded persistent store, survives restarts
//   - "qdrant": remote Qdrant server over gRPC
func New(cfg config.IndexConfig, logger *zap.Logger) (Index, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryIndex(logger), nil

	case "chromem":
		return NewChromemIndex(ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, logger)

	case "qdrant":
		return NewQdrantIndex(QdrantConfig{
			Host:             cfg.Qdrant.Host,
			Port:             cfg.Qdrant.Port,
			UseTLS:           cfg.Qdrant.UseTLS,
			APIKey:           cfg.Qdrant.APIKey.Value(),
			CollectionPrefix: cfg.Qdrant.CollectionPrefix,
			MaxMessageSize:   cfg.Qdrant.MaxMessageSize,
			RequestTimeout:   30 * time.Second,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported index provider %q (supported: memory, chromem, qdrant)",
			ErrInvalidConfig, cfg.Provider)
	}
}
