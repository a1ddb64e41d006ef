// Package embedding turns canonical entities into dense vectors.
//
// An Engine chunks an entity's summary, embeds each chunk through a
// Provider, and aggregates the chunk vectors into one normalized
// entity vector suitable for the similarity index. Providers: tei
// (remote HTTP service), fastembed (local ONNX, cgo builds only), and
// hash (deterministic offline fallback).
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates a permanent embedding failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrEmbeddingUnavailable indicates a transient provider failure
	// (network error, timeout, overload). Callers may retry.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
)

// Provider generates embeddings for texts.
type Provider interface {
	// EmbedDocuments embeds a batch of document texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if the model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "small"), strings.Contains(model, "mini"):
		return 384
	default:
		return 384
	}
}

// resolveDimension prefers an explicit configured dimension over the
// model-name heuristic.
func resolveDimension(cfg config.EmbeddingConfig) int {
	if cfg.Dimension > 0 {
		return cfg.Dimension
	}
	return detectDimensionFromModel(cfg.Model)
}

// NewProvider creates an embedding provider from configuration.
func NewProvider(cfg config.EmbeddingConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "hash", "":
		return NewHashProvider(resolveDimension(cfg)), nil
	case "tei":
		return NewTEIProvider(cfg, logger)
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: hash, tei, fastembed)", ErrInvalidConfig, cfg.Provider)
	}
}
