package embedding

import (
	"context"
	"fmt"
	"math"
)

// HashProvider generates deterministic embeddings from a rolling hash of
// the input text. It needs no model, no network, and no cgo, which makes
// it the offline and test fallback: identical text always yields the
// identical unit-length vector, and different texts usually diverge.
// The vectors carry no semantic signal, so semantic similarity degrades
// to text-identity matching under this provider.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a hash provider emitting vectors of the given
// dimension.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashProvider{dimension: dimension}
}

// EmbedDocuments generates deterministic embeddings for multiple texts.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.makeEmbedding(text)
	}
	return vectors, nil
}

// EmbedQuery generates a deterministic embedding for a single query.
// Queries and documents embed identically, so equal text matches itself.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return p.makeEmbedding(text), nil
}

// Dimension returns the configured embedding dimension.
func (p *HashProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op for the hash provider.
func (p *HashProvider) Close() error {
	return nil
}

// makeEmbedding derives a unit-length vector from a rolling hash of the
// text.
func (p *HashProvider) makeEmbedding(text string) []float32 {
	hash := 0
	for _, c := range text {
		hash = (hash*31 + int(c)) % 1000
	}

	embedding := make([]float32, p.dimension)
	var norm float64
	for i := range embedding {
		component := float32((hash+i)%100) / 100.0
		embedding[i] = component
		norm += float64(component) * float64(component)
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		// All components hashed to zero; spread unit mass on the first
		// axis so the vector stays usable for cosine.
		embedding[0] = 1
		return embedding
	}
	for i := range embedding {
		embedding[i] = float32(float64(embedding[i]) / norm)
	}
	return embedding
}

var _ Provider = (*HashProvider)(nil)
