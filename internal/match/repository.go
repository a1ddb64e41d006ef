package match

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

// Repository stores canonical attribute sets keyed by kind and id.
// Implementations hand out defensive copies; a stored set never changes
// under a caller.
type Repository interface {
	// Put stores or replaces the attribute set for its entity.
	Put(ctx context.Context, attrs *normalize.AttributeSet) error

	// Get returns a copy of the stored set, or ErrNotFound.
	Get(ctx context.Context, kind normalize.EntityKind, id string) (*normalize.AttributeSet, error)

	// List returns the stored ids of one kind, sorted ascending.
	List(ctx context.Context, kind normalize.EntityKind) ([]string, error)

	// Delete removes the entity. Deleting an absent id is a no-op.
	Delete(ctx context.Context, kind normalize.EntityKind, id string) error

	// Count returns the number of stored entities of one kind.
	Count(ctx context.Context, kind normalize.EntityKind) (int, error)
}

// MemoryRepository is the in-process Repository the daemon runs on.
// External storage backends implement the same interface.
type MemoryRepository struct {
	mu       sync.RWMutex
	entities map[normalize.EntityKind]map[string]*normalize.AttributeSet
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entities: map[normalize.EntityKind]map[string]*normalize.AttributeSet{
			normalize.KindCandidate: {},
			normalize.KindJob:       {},
		},
	}
}

func (r *MemoryRepository) kindEntities(kind normalize.EntityKind) (map[string]*normalize.AttributeSet, error) {
	m, ok := r.entities[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity kind %q", ErrInvalidRequest, kind)
	}
	return m, nil
}

// Put stores a copy of attrs keyed by its kind and id.
func (r *MemoryRepository) Put(ctx context.Context, attrs *normalize.AttributeSet) error {
	if attrs == nil || attrs.ID == "" {
		return fmt.Errorf("%w: attribute set has no id", ErrInvalidRequest)
	}
	m, err := r.kindEntities(attrs.Kind)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m[attrs.ID] = cloneAttributeSet(attrs)
	return nil
}

// Get returns a copy of the stored set for kind and id.
func (r *MemoryRepository) Get(ctx context.Context, kind normalize.EntityKind, id string) (*normalize.AttributeSet, error) {
	m, err := r.kindEntities(kind)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	attrs, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
	}
	return cloneAttributeSet(attrs), nil
}

// List returns the stored ids of one kind, sorted ascending.
func (r *MemoryRepository) List(ctx context.Context, kind normalize.EntityKind) ([]string, error) {
	m, err := r.kindEntities(kind)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids, nil
}

// Delete removes the entity for kind and id.
func (r *MemoryRepository) Delete(ctx context.Context, kind normalize.EntityKind, id string) error {
	m, err := r.kindEntities(kind)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(m, id)
	return nil
}

// Count returns the number of stored entities of one kind.
func (r *MemoryRepository) Count(ctx context.Context, kind normalize.EntityKind) (int, error) {
	m, err := r.kindEntities(kind)
	if err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(m), nil
}

// cloneAttributeSet deep-copies attrs so repository state is never
// shared with callers.
func cloneAttributeSet(attrs *normalize.AttributeSet) *normalize.AttributeSet {
	out := *attrs
	out.Skills = append([]string(nil), attrs.Skills...)
	out.Keywords = append([]string(nil), attrs.Keywords...)
	out.Experience = append([]normalize.ExperienceSpan(nil), attrs.Experience...)
	return &out
}

var _ Repository = (*MemoryRepository)(nil)
