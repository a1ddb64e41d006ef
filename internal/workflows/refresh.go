// Package workflows provides Temporal workflow definitions for matchd
// corpus maintenance.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

// TaskQueue is the default queue the corpus refresh worker polls.
const TaskQueue = "matchd-corpus-refresh"

// DefaultRefreshBatchSize bounds how many entities one refresh activity
// re-embeds.
const DefaultRefreshBatchSize = 50

// CorpusRefreshInput configures a corpus refresh run.
type CorpusRefreshInput struct {
	Kind         normalize.EntityKind // corpus to refresh: candidate or job
	ModelVersion string               // model the corpus is moving to, recorded in the result
	BatchSize    int                  // entities per refresh activity, default DefaultRefreshBatchSize
}

// Validate checks that the input selects a real corpus.
func (in *CorpusRefreshInput) Validate() error {
	if !in.Kind.Valid() {
		return fmt.Errorf("Kind must be %q or %q, got %q", normalize.KindCandidate, normalize.KindJob, in.Kind)
	}
	return nil
}

// CorpusRefreshResult reports what a refresh run touched.
type CorpusRefreshResult struct {
	Kind         normalize.EntityKind
	ModelVersion string
	Total        int      // entities listed for refresh
	Refreshed    int      // successfully re-embedded
	Failed       []string // ids that failed after activity retries
	Indexed      int      // index count after the run
	Verified     bool     // index count matches the listed corpus
	Errors       []string // batch-level failures encountered
}

// CorpusRefreshWorkflow re-embeds one entity corpus after a model or
// taxonomy change.
//
// This workflow:
//  1. Lists the stored entity ids for the kind
//  2. Re-embeds them in batches, heartbeating per entity
//  3. Verifies the index count covers the listed corpus
//
// A batch that still fails after its retries marks its ids as failed
// and the run continues with the remaining corpus.
func CorpusRefreshWorkflow(ctx workflow.Context, input CorpusRefreshInput) (*CorpusRefreshResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting corpus refresh",
		"kind", string(input.Kind),
		"model_version", input.ModelVersion)

	if err := input.Validate(); err != nil {
		return nil, err
	}

	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultRefreshBatchSize
	}

	result := &CorpusRefreshResult{
		Kind:         input.Kind,
		ModelVersion: input.ModelVersion,
	}

	controlOpts := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	controlCtx := workflow.WithActivityOptions(ctx, controlOpts)

	var a *Activities

	// Step 1: list the corpus.
	var ids []string
	err := workflow.ExecuteActivity(controlCtx, a.ListEntityIDsActivity, ListEntityIDsInput{
		Kind: input.Kind,
	}).Get(ctx, &ids)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("listing corpus failed: %v", err))
		return result, err
	}
	result.Total = len(ids)
	logger.Info("Corpus listed", "count", len(ids))

	// Step 2: re-embed in batches.
	refreshOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	refreshCtx := workflow.WithActivityOptions(ctx, refreshOpts)

	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		var batch RefreshBatchResult
		err := workflow.ExecuteActivity(refreshCtx, a.RefreshBatchActivity, RefreshBatchInput{
			Kind: input.Kind,
			IDs:  ids[start:end],
		}).Get(ctx, &batch)
		if err != nil {
			result.Failed = append(result.Failed, ids[start:end]...)
			result.Errors = append(result.Errors, fmt.Sprintf("batch at offset %d failed: %v", start, err))
			continue
		}

		result.Refreshed += batch.Refreshed
		result.Failed = append(result.Failed, batch.Failed...)
	}

	// Step 3: verify the index covers the corpus.
	var verify VerifyIndexResult
	err = workflow.ExecuteActivity(controlCtx, a.VerifyIndexActivity, VerifyIndexInput{
		Kind:     input.Kind,
		Expected: len(ids),
	}).Get(ctx, &verify)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("verification failed: %v", err))
		return result, err
	}
	result.Indexed = verify.Indexed
	result.Verified = verify.Consistent

	logger.Info("Corpus refresh complete",
		"total", result.Total,
		"refreshed", result.Refreshed,
		"failed", len(result.Failed),
		"verified", result.Verified)

	return result, nil
}
