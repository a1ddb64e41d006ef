package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/match"
	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

// Activities bundles the corpus refresh activities over the match
// service. Register the whole struct on the worker.
type Activities struct {
	service *match.Service
	logger  *zap.Logger
	metrics *Metrics
}

// NewActivities creates the activity set for a corpus refresh worker.
func NewActivities(svc *match.Service, logger *zap.Logger) (*Activities, error) {
	if svc == nil {
		return nil, fmt.Errorf("match service cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		service: svc,
		logger:  logger,
		metrics: NewMetrics(logger),
	}, nil
}

// ListEntityIDsInput selects the corpus to list.
type ListEntityIDsInput struct {
	Kind normalize.EntityKind
}

// ListEntityIDsActivity returns the stored ids for one entity kind in
// ascending order.
func (a *Activities) ListEntityIDsActivity(ctx context.Context, input ListEntityIDsInput) ([]string, error) {
	ids, err := a.service.ListEntities(ctx, input.Kind)
	if err != nil {
		return nil, fmt.Errorf("listing %s corpus: %w", input.Kind, err)
	}
	a.logger.Debug("corpus listed",
		zap.String("kind", string(input.Kind)),
		zap.Int("count", len(ids)))
	return ids, nil
}

// RefreshBatchInput names the entities one refresh activity re-embeds.
type RefreshBatchInput struct {
	Kind normalize.EntityKind
	IDs  []string
}

// RefreshBatchResult reports one batch.
type RefreshBatchResult struct {
	Refreshed int      // successfully re-embedded
	Failed    []string // ids whose refresh failed
}

// RefreshBatchActivity re-embeds each entity in the batch, heartbeating
// per id. Individual failures are collected into the result; the
// activity errors only when every refresh in the batch failed.
func (a *Activities) RefreshBatchActivity(ctx context.Context, input RefreshBatchInput) (*RefreshBatchResult, error) {
	start := time.Now()
	result := &RefreshBatchResult{}
	for _, id := range input.IDs {
		activity.RecordHeartbeat(ctx, id)

		if err := a.service.RefreshEmbedding(ctx, input.Kind, id); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("refresh failed",
				zap.String("kind", string(input.Kind)),
				zap.String("entity_id", id),
				zap.Error(err))
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Refreshed++
	}

	a.metrics.RecordBatch(ctx, input.Kind, time.Since(start), result.Refreshed, len(result.Failed))

	if len(input.IDs) > 0 && result.Refreshed == 0 {
		return nil, fmt.Errorf("all %d refreshes in batch failed", len(input.IDs))
	}
	return result, nil
}

// VerifyIndexInput asks whether the index covers the listed corpus.
type VerifyIndexInput struct {
	Kind     normalize.EntityKind
	Expected int
}

// VerifyIndexResult reports the index count against the expectation.
type VerifyIndexResult struct {
	Indexed    int
	Consistent bool
}

// VerifyIndexActivity compares the index count for the kind against
// the expected corpus size.
func (a *Activities) VerifyIndexActivity(ctx context.Context, input VerifyIndexInput) (*VerifyIndexResult, error) {
	count, err := a.service.IndexedCount(ctx, input.Kind)
	if err != nil {
		return nil, fmt.Errorf("counting %s index: %w", input.Kind, err)
	}
	consistent := count == input.Expected
	a.metrics.RecordVerification(ctx, input.Kind, consistent)
	return &VerifyIndexResult{
		Indexed:    count,
		Consistent: consistent,
	}, nil
}
