package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

var memoryTracer = otel.Tracer("matchd.index.memory")

// MemoryIndex is the default in-process backend. Exact cosine over map-based
// partitions; deterministic and dependency-free, which also makes it the
// reference backend for tests.
type MemoryIndex struct {
	logger     *zap.Logger
	partitions map[normalize.EntityKind]*partition
}

// partition holds one kind's entries. The write lock covers the version
// check and the replacement together, so per-id ordering holds and readers
// always see whole entries.
type partition struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	dimension int
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex(logger *zap.Logger) *MemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryIndex{
		logger: logger,
		partitions: map[normalize.EntityKind]*partition{
			normalize.KindCandidate: {entries: make(map[string]Entry)},
			normalize.KindJob:       {entries: make(map[string]Entry)},
		},
	}
}

func (m *MemoryIndex) partition(kind normalize.EntityKind) (*partition, error) {
	p, ok := m.partitions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity kind %q", ErrInvalidConfig, kind)
	}
	return p, nil
}

// Upsert inserts or replaces the entry for its entity.
func (m *MemoryIndex) Upsert(ctx context.Context, entry Entry) error {
	_, span := memoryTracer.Start(ctx, "MemoryIndex.Upsert")
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
	p, err := m.partition(entry.Kind)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.entries[entry.ID]; ok && entry.Version < prev.Version {
		return fmt.Errorf("%w: entity %q version %d behind committed %d",
			ErrIndexInconsistent, entry.ID, entry.Version, prev.Version)
	}
	if p.dimension != 0 && p.dimension != len(entry.Vector) {
		return fmt.Errorf("%w: partition %s holds %d-dim vectors, got %d",
			ErrDimensionMismatch, entry.Kind, p.dimension, len(entry.Vector))
	}

	entry.Vector = cloneVector(entry.Vector)
	p.entries[entry.ID] = entry
	p.dimension = len(entry.Vector)

	m.logger.Debug("indexed entity vector",
		zap.String("kind", string(entry.Kind)),
		zap.String("entity_id", entry.ID),
		zap.Uint64("version", entry.Version),
	)
	return nil
}

// Remove deletes the entry for id. Removing an absent id is a no-op.
func (m *MemoryIndex) Remove(ctx context.Context, kind normalize.EntityKind, id string) error {
	p, err := m.partition(kind)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
	if len(p.entries) == 0 {
		p.dimension = 0
	}
	return nil
}

// Similarity returns the cosine similarity between two indexed entities.
func (m *MemoryIndex) Similarity(ctx context.Context, a, b Ref) (float64, error) {
	va, err := m.vector(a)
	if err != nil {
		return 0, err
	}
	vb, err := m.vector(b)
	if err != nil {
		return 0, err
	}
	if len(va) != len(vb) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(va), len(vb))
	}
	return cosineSimilarity(va, vb), nil
}

func (m *MemoryIndex) vector(ref Ref) ([]float32, error) {
	p, err := m.partition(ref.Kind)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.entries[ref.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, ref.Kind, ref.ID)
	}
	return entry.Vector, nil
}

// Vector returns a copy of the aggregate vector indexed for ref.
func (m *MemoryIndex) Vector(ctx context.Context, ref Ref) ([]float32, error) {
	v, err := m.vector(ref)
	if err != nil {
		return nil, err
	}
	return cloneVector(v), nil
}

// TopK returns the k most similar entries of the kind partition.
func (m *MemoryIndex) TopK(ctx context.Context, kind normalize.EntityKind, query []float32, k int) ([]Neighbor, error) {
	_, span := memoryTracer.Start(ctx, "MemoryIndex.TopK")
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
	p, err := m.partition(kind)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	neighbors := make([]Neighbor, 0, len(p.entries))
	for id, entry := range p.entries {
		neighbors = append(neighbors, Neighbor{
			ID:         id,
			Similarity: cosineSimilarity(query, entry.Vector),
		})
	}
	p.mu.RUnlock()

	sortNeighbors(neighbors)
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	span.SetAttributes(attribute.Int("results", len(neighbors)))
	return neighbors, nil
}

// Count returns the number of entries in the kind partition.
func (m *MemoryIndex) Count(ctx context.Context, kind normalize.EntityKind) (int, error) {
	p, err := m.partition(kind)
	if err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries), nil
}

// Close is a no-op for the in-memory backend.
func (m *MemoryIndex) Close() error {
	return nil
}

// sortNeighbors orders by similarity descending, ties by id ascending.
// The tie rule keeps rankings stable across runs and backends.
func sortNeighbors(neighbors []Neighbor) {
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		return neighbors[i].ID < neighbors[j].ID
	})
}

var _ Index = (*MemoryIndex)(nil)
