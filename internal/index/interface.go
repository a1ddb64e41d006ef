// Package index provides similarity index backends for entity vectors.
//
// An Index stores one aggregate vector per entity, partitioned by entity
// kind, and answers cosine similarity queries across kinds. Three backends
// are available:
//
//   - MemoryIndex: in-process, exact, deterministic (default)
//   - ChromemIndex: embedded persistent store via chromem-go
//   - QdrantIndex: remote Qdrant over gRPC with retry and circuit breaker
//
// Entries carry a monotonic per-entity version assigned by the embedding
// engine. A backend rejects an upsert whose version is behind the committed
// version for that entity with ErrIndexInconsistent, so a delayed re-embed
// can never clobber a newer vector.
package index

import (
	"context"
	"errors"
	"math"

	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

// Sentinel errors for index operations.
var (
	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotFound is returned when an entity has no indexed vector.
	ErrNotFound = errors.New("entity not indexed")

	// ErrIndexInconsistent is returned when an upsert carries a version
	// behind the committed version for that entity. Callers re-embed and
	// retry with a fresh version.
	ErrIndexInconsistent = errors.New("index inconsistent: stale entry version")

	// ErrDimensionMismatch is returned when a vector's dimension differs
	// from the dimension already established for its partition.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrConnectionFailed indicates the remote backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to index backend")
)

// Entry is one entity's aggregate vector.
type Entry struct {
	// ID is the entity identifier.
	ID string

	// Kind selects the partition (candidate or job).
	Kind normalize.EntityKind

	// Vector is the aggregate embedding. Backends store a private copy.
	Vector []float32

	// ModelVersion identifies the embedding model that produced the vector.
	// Mixed model versions within a partition mean a corpus refresh is due.
	ModelVersion string

	// Version is the monotonic per-entity counter assigned at embed time.
	Version uint64
}

// Ref names an indexed entity.
type Ref struct {
	Kind normalize.EntityKind
	ID   string
}

// Neighbor is a single TopK result.
type Neighbor struct {
	ID string

	// Similarity is the cosine similarity to the query vector, in [-1, 1].
	Similarity float64
}

// Index stores entity vectors partitioned by kind.
//
// Entries are replaced whole: readers never observe a half-written vector,
// and a query never mixes old and new vectors for one entity. Removing an
// absent entity is a no-op.
type Index interface {
	// Upsert inserts or replaces the entry for its entity. An entry whose
	// Version is behind the committed version returns ErrIndexInconsistent.
	Upsert(ctx context.Context, entry Entry) error

	// Remove deletes the entry for id from the kind partition.
	Remove(ctx context.Context, kind normalize.EntityKind, id string) error

	// Similarity returns the cosine similarity between two indexed
	// entities, in [-1, 1]. Returns ErrNotFound if either is absent.
	Similarity(ctx context.Context, a, b Ref) (float64, error)

	// Vector returns a copy of the aggregate vector indexed for ref.
	// Returns ErrNotFound if the entity is absent.
	Vector(ctx context.Context, ref Ref) ([]float32, error)

	// TopK returns the k entries of the kind partition most similar to the
	// query vector, ordered by similarity descending with ties broken by
	// entity id ascending. Fewer than k entries returns all of them.
	TopK(ctx context.Context, kind normalize.EntityKind, query []float32, k int) ([]Neighbor, error)

	// Count returns the number of entries in the kind partition.
	Count(ctx context.Context, kind normalize.EntityKind) (int, error)

	// Close releases backend resources.
	Close() error
}

// cosineSimilarity computes the cosine of the angle between a and b.
// Zero-norm inputs yield 0 (no direction to compare).
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cloneVector copies v so callers cannot mutate stored state.
func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
