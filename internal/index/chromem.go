package index

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

var chromemTracer = otel.Tracer("matchd.index.chromem")

const (
	metadataVersion      = "version"
	metadataModelVersion = "model_version"
)

// ChromemConfig holds configuration for the embedded persistent backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage. A leading ~ expands
	// to the user's home directory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ChromemIndex persists entity vectors with chromem-go, one collection per
// entity kind. chromem-go is embeddable pure Go, so this backend survives
// restarts without any external service.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// mu serializes the write path so the version check and the document
	// replacement are atomic per entity.
	mu sync.Mutex
}

// NewChromemIndex opens (or creates) the persistent index at cfg.Path.
func NewChromemIndex(cfg ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: chromem path required", ErrInvalidConfig)
	}

	path, err := config.ExpandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	logger.Info("chromem index opened",
		zap.String("path", path),
		zap.Bool("compress", cfg.Compress),
	)

	return &ChromemIndex{db: db, config: cfg, logger: logger}, nil
}

// precomputedOnly rejects text queries. Every vector in the index is
// produced by the embedding engine; chromem must never embed on its own.
func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("index stores precomputed vectors only")
}

func collectionForKind(kind normalize.EntityKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown entity kind %q", ErrInvalidConfig, kind)
	}
	return string(kind) + "s", nil
}

func (c *ChromemIndex) collection(kind normalize.EntityKind) (*chromem.Collection, error) {
	name, err := collectionForKind(kind)
	if err != nil {
		return nil, err
	}
	col, err := c.db.GetOrCreateCollection(name, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	return col, nil
}

// Upsert inserts or replaces the entry for its entity. The previous document
// is replaced whole, so readers never see mixed state.
func (c *ChromemIndex) Upsert(ctx context.Context, entry Entry) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", string(entry.Kind)),
		attribute.String("entity_id", entry.ID),
	)

	if entry.ID == "" {
		return fmt.Errorf("%w: entry has no id", ErrInvalidConfig)
	}
	if len(entry.Vector) == 0 {
		return fmt.Errorf("%w: entry %q has an empty vector", ErrInvalidConfig, entry.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	col, err := c.collection(entry.Kind)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if existing, err := col.GetByID(ctx, entry.ID); err == nil {
		prev, _ := strconv.ParseUint(existing.Metadata[metadataVersion], 10, 64)
		if entry.Version < prev {
			return fmt.Errorf("%w: entity %q version %d behind committed %d",
				ErrIndexInconsistent, entry.ID, entry.Version, prev)
		}
	}

	doc := chromem.Document{
		ID:      entry.ID,
		Content: entry.ID,
		Metadata: map[string]string{
			metadataVersion:      strconv.FormatUint(entry.Version, 10),
			metadataModelVersion: entry.ModelVersion,
		},
		Embedding: cloneVector(entry.Vector),
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding document: %w", err)
	}

	c.logger.Debug("indexed entity vector",
		zap.String("kind", string(entry.Kind)),
		zap.String("entity_id", entry.ID),
		zap.Uint64("version", entry.Version),
	)
	return nil
}

// Remove deletes the entry for id. Removing an absent id is a no-op.
func (c *ChromemIndex) Remove(ctx context.Context, kind normalize.EntityKind, id string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Remove")
	defer span.End()

	name, err := collectionForKind(kind)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	col := c.db.GetCollection(name, precomputedOnly)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}

// Similarity returns the cosine similarity between two indexed entities.
func (c *ChromemIndex) Similarity(ctx context.Context, a, b Ref) (float64, error) {
	va, err := c.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := c.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	return cosineSimilarity(va, vb), nil
}

func (c *ChromemIndex) vector(ctx context.Context, ref Ref) ([]float32, error) {
	name, err := collectionForKind(ref.Kind)
	if err != nil {
		return nil, err
	}
	col := c.db.GetCollection(name, precomputedOnly)
	if col == nil {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, ref.Kind, ref.ID)
	}
	doc, err := col.GetByID(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, ref.Kind, ref.ID)
	}
	return doc.Embedding, nil
}

// Vector returns a copy of the aggregate vector indexed for ref.
func (c *ChromemIndex) Vector(ctx context.Context, ref Ref) ([]float32, error) {
	v, err := c.vector(ctx, ref)
	if err != nil {
		return nil, err
	}
	return cloneVector(v), nil
}

// TopK returns the k most similar entries of the kind partition.
func (c *ChromemIndex) TopK(ctx context.Context, kind normalize.EntityKind, query []float32, k int) ([]Neighbor, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.TopK")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", string(kind)),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, k)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidConfig)
	}
	name, err := collectionForKind(kind)
	if err != nil {
		return nil, err
	}

	col := c.db.GetCollection(name, precomputedOnly)
	if col == nil {
		return []Neighbor{}, nil
	}

	// chromem requires nResults <= document count.
	count := col.Count()
	if count == 0 {
		return []Neighbor{}, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}

	neighbors := make([]Neighbor, len(results))
	for i, r := range results {
		neighbors[i] = Neighbor{ID: r.ID, Similarity: float64(r.Similarity)}
	}
	sortNeighbors(neighbors)
	span.SetAttributes(attribute.Int("results", len(neighbors)))
	return neighbors, nil
}

// Count returns the number of entries in the kind partition.
func (c *ChromemIndex) Count(ctx context.Context, kind normalize.EntityKind) (int, error) {
	name, err := collectionForKind(kind)
	if err != nil {
		return 0, err
	}
	col := c.db.GetCollection(name, precomputedOnly)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Close is a no-op; chromem persists on every write.
func (c *ChromemIndex) Close() error {
	return nil
}

var _ Index = (*ChromemIndex)(nil)
