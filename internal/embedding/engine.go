package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/index"
	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

var engineTracer = otel.Tracer("matchd.embedding.engine")

// Vector is one embedding produced for an entity. Chunk 0 is the
// aggregate over all chunks; chunks 1..n are the per-chunk vectors in
// order. Version increases on every re-embed of the same entity.
type Vector struct {
	EntityID  string
	Kind      normalize.EntityKind
	Chunk     int
	Values    []float32
	Model     string
	Version   uint64
	CreatedAt time.Time
}

// Store is the index surface the engine writes aggregates to.
type Store interface {
	Upsert(ctx context.Context, entry index.Entry) error
}

// Engine chunks entity summaries, embeds the chunks through a Provider,
// and aggregates them into one normalized entity vector. Transient
// provider failures retry with exponential backoff; permanent failures
// surface immediately. The engine never emits zero vectors on failure.
type Engine struct {
	provider Provider
	chunker  *Chunker
	retry    config.RetryConfig
	model    string
	metrics  *Metrics
	logger   *zap.Logger

	// mu guards versions. Versions are per-process monotonic per
	// entity; the index enforces ordering across processes.
	mu       sync.Mutex
	versions map[string]uint64
}

// NewEngine creates an embedding engine from configuration. The retry
// policy applies only to transient provider failures.
func NewEngine(provider Provider, cfg config.EmbeddingConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}
	if retry.InitialBackoff.Duration() == 0 {
		retry.InitialBackoff = config.Duration(time.Second)
	}
	if retry.MaxBackoff.Duration() == 0 {
		retry.MaxBackoff = config.Duration(30 * time.Second)
	}
	if retry.BackoffMultiplier == 0 {
		retry.BackoffMultiplier = 2.0
	}

	return &Engine{
		provider: provider,
		chunker:  NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		retry:    retry,
		model:    cfg.Model,
		metrics:  NewMetrics(logger),
		logger:   logger,
		versions: make(map[string]uint64),
	}
}

// Embed produces the vectors for an entity: the aggregate at chunk
// index 0 followed by the per-chunk vectors. The aggregate is the
// rune-length-weighted mean of the chunk vectors, L2-normalized.
func (e *Engine) Embed(ctx context.Context, attrs *normalize.AttributeSet) ([]Vector, error) {
	ctx, span := engineTracer.Start(ctx, "Engine.Embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", string(attrs.Kind)),
		attribute.String("entity_id", attrs.ID),
	)

	start := time.Now()
	var genErr error
	defer func() {
		e.metrics.RecordGeneration(ctx, e.model, "embed_entity", time.Since(start), 0, genErr)
	}()

	chunks, err := e.chunker.Chunks(attrs)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	chunkVectors, err := e.embedWithRetry(ctx, chunks)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(chunkVectors) != len(chunks) {
		genErr = fmt.Errorf("%w: provider returned %d vectors for %d chunks", ErrEmbeddingFailed, len(chunkVectors), len(chunks))
		return nil, genErr
	}

	version := e.nextVersion(attrs.Kind, attrs.ID)
	now := time.Now()

	vectors := make([]Vector, 0, len(chunks)+1)
	vectors = append(vectors, Vector{
		EntityID:  attrs.ID,
		Kind:      attrs.Kind,
		Chunk:     0,
		Values:    aggregate(chunks, chunkVectors),
		Model:     e.model,
		Version:   version,
		CreatedAt: now,
	})
	for i, values := range chunkVectors {
		vectors = append(vectors, Vector{
			EntityID:  attrs.ID,
			Kind:      attrs.Kind,
			Chunk:     i + 1,
			Values:    values,
			Model:     e.model,
			Version:   version,
			CreatedAt: now,
		})
	}

	e.logger.Debug("embedded entity",
		zap.String("kind", string(attrs.Kind)),
		zap.String("entity_id", attrs.ID),
		zap.Int("chunks", len(chunks)),
		zap.Uint64("version", version),
	)
	return vectors, nil
}

// EmbedAndStore embeds the entity and replaces its aggregate vector in
// the store with a single versioned upsert, so readers switch from the
// old vector to the new one whole. A context cancelled before the write
// stores nothing.
func (e *Engine) EmbedAndStore(ctx context.Context, attrs *normalize.AttributeSet, store Store) ([]Vector, error) {
	ctx, span := engineTracer.Start(ctx, "Engine.EmbedAndStore")
	defer span.End()

	vectors, err := e.Embed(ctx, attrs)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agg := vectors[0]
	if err := store.Upsert(ctx, index.Entry{
		ID:           agg.EntityID,
		Kind:         agg.Kind,
		Vector:       agg.Values,
		ModelVersion: agg.Model,
		Version:      agg.Version,
	}); err != nil {
		return nil, fmt.Errorf("storing aggregate for %q: %w", attrs.ID, err)
	}
	return vectors, nil
}

// EmbedAsync runs EmbedAndStore on a goroutine. The returned channel
// yields the outcome once and is then closed.
func (e *Engine) EmbedAsync(ctx context.Context, attrs *normalize.AttributeSet, store Store) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := e.EmbedAndStore(ctx, attrs, store)
		done <- err
	}()
	return done
}

// EmbedQuery embeds ad-hoc query text through the provider, with the
// engine's retry policy.
func (e *Engine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := e.retryTransient(ctx, func() error {
		vec, err := e.provider.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		result = vec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close releases the underlying provider.
func (e *Engine) Close() error {
	return e.provider.Close()
}

func (e *Engine) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := e.retryTransient(ctx, func() error {
		vectors, err := e.provider.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		result = vectors
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// retryTransient retries op while it fails with ErrEmbeddingUnavailable.
// Backoff grows by the configured multiplier up to MaxBackoff; context
// cancellation is honored between attempts.
func (e *Engine) retryTransient(ctx context.Context, op func() error) error {
	backoff := e.retry.InitialBackoff.Duration()
	var lastErr error

	for attempt := 0; attempt <= e.retry.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			if attempt > 0 {
				e.logger.Info("embedding recovered after retries",
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}
		lastErr = err

		if !errors.Is(err, ErrEmbeddingUnavailable) {
			return err
		}
		if attempt == e.retry.MaxRetries {
			break
		}

		e.logger.Debug("retrying embedding after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.retry.MaxRetries),
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("embedding canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * e.retry.BackoffMultiplier)
			if max := e.retry.MaxBackoff.Duration(); max > 0 && backoff > max {
				backoff = max
			}
		}
	}

	return fmt.Errorf("embedding failed after %d retries: %w", e.retry.MaxRetries, lastErr)
}

func (e *Engine) nextVersion(kind normalize.EntityKind, id string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := string(kind) + "/" + id
	e.versions[key]++
	return e.versions[key]
}

// aggregate computes the rune-length-weighted mean of the chunk vectors
// and L2-normalizes it. Accumulation in float64 keeps long entities from
// losing precision.
func aggregate(chunks []string, vectors [][]float32) []float32 {
	dim := len(vectors[0])
	acc := make([]float64, dim)
	var totalWeight float64

	for i, vec := range vectors {
		weight := float64(utf8.RuneCountInString(chunks[i]))
		if weight == 0 {
			weight = 1
		}
		totalWeight += weight
		for j, v := range vec {
			acc[j] += weight * float64(v)
		}
	}
	for j := range acc {
		acc[j] /= totalWeight
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dim)
	if norm == 0 {
		return out
	}
	for j, v := range acc {
		out[j] = float32(v / norm)
	}
	return out
}
