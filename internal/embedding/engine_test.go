package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/index"
	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

// fakeProvider wraps the hash provider with programmable failures.
type fakeProvider struct {
	*HashProvider

	mu        sync.Mutex
	calls     int
	failFirst int   // calls 1..failFirst fail transiently
	permanent error // returned on every call when set
	onEmbed   func()
}

func newFakeProvider(dimension int) *fakeProvider {
	return &fakeProvider{HashProvider: NewHashProvider(dimension)}
}

func (f *fakeProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.onEmbed != nil {
		f.onEmbed()
	}
	if f.permanent != nil {
		return nil, f.permanent
	}
	if call <= f.failFirst {
		return nil, fmt.Errorf("%w: connection refused", ErrEmbeddingUnavailable)
	}
	// Bypass the hash provider's context check so cancellation behavior
	// in the engine itself is what gets exercised.
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = f.HashProvider.makeEmbedding(text)
	}
	return vectors, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testEngineConfig() config.EmbeddingConfig {
	return config.EmbeddingConfig{
		Model:        "test-model",
		ChunkSize:    64,
		ChunkOverlap: 8,
		Retry: config.RetryConfig{
			MaxRetries:        3,
			InitialBackoff:    config.Duration(time.Millisecond),
			MaxBackoff:        config.Duration(5 * time.Millisecond),
			BackoffMultiplier: 2.0,
		},
	}
}

func candidateAttrs(id, summary string) *normalize.AttributeSet {
	return &normalize.AttributeSet{
		ID:      id,
		Kind:    normalize.KindCandidate,
		Summary: summary,
		Skills:  []string{"go", "kubernetes"},
	}
}

func TestEngine_Embed(t *testing.T) {
	engine := NewEngine(newFakeProvider(8), testEngineConfig(), zap.NewNop())

	attrs := candidateAttrs("cand-1", strings.Repeat("Shipped search infrastructure. ", 8))
	vectors, err := engine.Embed(context.Background(), attrs)
	require.NoError(t, err)
	require.Greater(t, len(vectors), 2, "aggregate plus at least two chunks")

	agg := vectors[0]
	assert.Equal(t, 0, agg.Chunk, "aggregate carries chunk index 0")
	assert.Equal(t, "cand-1", agg.EntityID)
	assert.Equal(t, normalize.KindCandidate, agg.Kind)
	assert.Equal(t, "test-model", agg.Model)
	assert.Equal(t, uint64(1), agg.Version)
	assert.False(t, agg.CreatedAt.IsZero())

	for i, v := range vectors[1:] {
		assert.Equal(t, i+1, v.Chunk, "chunk vectors are numbered from 1 in order")
		assert.Equal(t, agg.Version, v.Version, "all vectors of one embed share a version")
		assert.Len(t, v.Values, 8)
	}

	var norm float64
	for _, v := range agg.Values {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4, "aggregate is L2-normalized")
}

func TestEngine_Embed_VersionIncrements(t *testing.T) {
	engine := NewEngine(newFakeProvider(8), testEngineConfig(), zap.NewNop())
	ctx := context.Background()

	first, err := engine.Embed(ctx, candidateAttrs("cand-1", "Engineer."))
	require.NoError(t, err)
	second, err := engine.Embed(ctx, candidateAttrs("cand-1", "Engineer, revised."))
	require.NoError(t, err)
	other, err := engine.Embed(ctx, candidateAttrs("cand-2", "Engineer."))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first[0].Version)
	assert.Equal(t, uint64(2), second[0].Version, "re-embedding the same entity bumps the version")
	assert.Equal(t, uint64(1), other[0].Version, "versions are per entity")
}

func TestEngine_Embed_Deterministic(t *testing.T) {
	engine := NewEngine(newFakeProvider(8), testEngineConfig(), zap.NewNop())
	ctx := context.Background()

	first, err := engine.Embed(ctx, candidateAttrs("cand-1", "Deterministic summary text."))
	require.NoError(t, err)
	second, err := engine.Embed(ctx, candidateAttrs("cand-1", "Deterministic summary text."))
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Values, second[i].Values, "vector %d must be reproducible", i)
	}
}

func TestEngine_Embed_RetriesTransient(t *testing.T) {
	provider := newFakeProvider(8)
	provider.failFirst = 2
	engine := NewEngine(provider, testEngineConfig(), zap.NewNop())

	vectors, err := engine.Embed(context.Background(), candidateAttrs("cand-1", "Engineer."))
	require.NoError(t, err)
	assert.NotEmpty(t, vectors)
	assert.Equal(t, 3, provider.callCount(), "two transient failures then success")
}

func TestEngine_Embed_PermanentErrorNoRetry(t *testing.T) {
	provider := newFakeProvider(8)
	provider.permanent = fmt.Errorf("%w: model not found", ErrEmbeddingFailed)
	engine := NewEngine(provider, testEngineConfig(), zap.NewNop())

	_, err := engine.Embed(context.Background(), candidateAttrs("cand-1", "Engineer."))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, 1, provider.callCount(), "permanent failures do not retry")
}

func TestEngine_Embed_RetriesExhausted(t *testing.T) {
	provider := newFakeProvider(8)
	provider.failFirst = 100
	cfg := testEngineConfig()
	cfg.Retry.MaxRetries = 2
	engine := NewEngine(provider, cfg, zap.NewNop())

	_, err := engine.Embed(context.Background(), candidateAttrs("cand-1", "Engineer."))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.Equal(t, 3, provider.callCount())
}

func TestEngine_EmbedAndStore(t *testing.T) {
	engine := NewEngine(newFakeProvider(8), testEngineConfig(), zap.NewNop())
	store := index.NewMemoryIndex(zap.NewNop())
	ctx := context.Background()

	vectors, err := engine.EmbedAndStore(ctx, candidateAttrs("cand-1", "Engineer."), store)
	require.NoError(t, err)

	count, err := store.Count(ctx, normalize.KindCandidate)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only the aggregate is stored")

	self := index.Ref{Kind: normalize.KindCandidate, ID: "cand-1"}
	sim, err := store.Similarity(ctx, self, self)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-4)

	// Re-embedding replaces the aggregate under a newer version.
	again, err := engine.EmbedAndStore(ctx, candidateAttrs("cand-1", "Engineer, revised."), store)
	require.NoError(t, err)
	assert.Greater(t, again[0].Version, vectors[0].Version)

	count, err = store.Count(ctx, normalize.KindCandidate)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEngine_EmbedAndStore_CancelledWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := newFakeProvider(8)
	provider.onEmbed = cancel // cancellation lands mid-embed

	engine := NewEngine(provider, testEngineConfig(), zap.NewNop())
	store := index.NewMemoryIndex(zap.NewNop())

	_, err := engine.EmbedAndStore(ctx, candidateAttrs("cand-1", "Engineer."), store)
	require.Error(t, err)

	count, err := store.Count(context.Background(), normalize.KindCandidate)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "a cancelled request must not write")
}

func TestEngine_EmbedAsync(t *testing.T) {
	engine := NewEngine(newFakeProvider(8), testEngineConfig(), zap.NewNop())
	store := index.NewMemoryIndex(zap.NewNop())
	ctx := context.Background()

	done := engine.EmbedAsync(ctx, candidateAttrs("cand-1", "Engineer."), store)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("EmbedAsync did not complete")
	}

	// Channel closes after the single result.
	_, open := <-done
	assert.False(t, open)

	count, err := store.Count(ctx, normalize.KindCandidate)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEngine_EmbedQuery(t *testing.T) {
	engine := NewEngine(newFakeProvider(8), testEngineConfig(), zap.NewNop())

	vec, err := engine.EmbedQuery(context.Background(), "site reliability engineer")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestAggregate(t *testing.T) {
	t.Run("rune length weighting", func(t *testing.T) {
		// Weights 2 and 4: mean is [1/3, 2/3], normalized [1, 2]/sqrt(5).
		got := aggregate(
			[]string{"aa", "bbbb"},
			[][]float32{{1, 0}, {0, 1}},
		)
		require.Len(t, got, 2)
		assert.InDelta(t, 1.0/math.Sqrt(5), float64(got[0]), 1e-6)
		assert.InDelta(t, 2.0/math.Sqrt(5), float64(got[1]), 1e-6)
	})

	t.Run("single chunk passes through normalized", func(t *testing.T) {
		got := aggregate([]string{"abc"}, [][]float32{{3, 4}})
		assert.InDelta(t, 0.6, float64(got[0]), 1e-6)
		assert.InDelta(t, 0.8, float64(got[1]), 1e-6)
	})

	t.Run("zero vectors stay zero", func(t *testing.T) {
		got := aggregate([]string{"abc"}, [][]float32{{0, 0, 0}})
		assert.Equal(t, []float32{0, 0, 0}, got)
	})

	t.Run("empty chunk weight floors at one", func(t *testing.T) {
		got := aggregate(
			[]string{"", "xx"},
			[][]float32{{1, 0}, {0, 1}},
		)
		// Weights 1 and 2: mean [1/3, 2/3], same direction as above.
		assert.InDelta(t, 1.0/math.Sqrt(5), float64(got[0]), 1e-6)
		assert.InDelta(t, 2.0/math.Sqrt(5), float64(got[1]), 1e-6)
	})
}
