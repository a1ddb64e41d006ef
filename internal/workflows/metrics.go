package workflows

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

const workflowInstrumentationName = "github.com/fyrsmithlabs/matchd/internal/workflows"

// Metrics records corpus refresh outcomes. Recording happens in the
// activities, never in workflow code, so replay stays deterministic.
type Metrics struct {
	meter         metric.Meter
	logger        *zap.Logger
	batchDuration metric.Float64Histogram
	entities      metric.Int64Counter
	verifications metric.Int64Counter
}

// NewMetrics creates the metric set for refresh activities.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(workflowInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.batchDuration, err = m.meter.Float64Histogram(
		"matchd.workflows.refresh.batch_duration_seconds",
		metric.WithDescription("Duration of one refresh batch, labeled by entity kind. Batches call the embedding provider once per entity, so this tracks provider latency times batch size."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1.0, 5.0, 15.0, 30.0, 60.0, 120.0, 300.0, 600.0),
	)
	if err != nil {
		m.logger.Warn("failed to create batch duration histogram", zap.Error(err))
	}

	m.entities, err = m.meter.Int64Counter(
		"matchd.workflows.refresh.entities_total",
		metric.WithDescription("Entities touched by corpus refresh, labeled by kind and outcome (refreshed, failed)"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		m.logger.Warn("failed to create entities counter", zap.Error(err))
	}

	m.verifications, err = m.meter.Int64Counter(
		"matchd.workflows.refresh.verifications_total",
		metric.WithDescription("Index verification runs, labeled by kind and whether the count matched the listed corpus"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		m.logger.Warn("failed to create verifications counter", zap.Error(err))
	}
}

// RecordBatch records one refresh batch: its duration and the per-entity
// outcomes.
func (m *Metrics) RecordBatch(ctx context.Context, kind normalize.EntityKind, duration time.Duration, refreshed, failed int) {
	kindAttr := attribute.String("kind", string(kind))

	if m.batchDuration != nil {
		m.batchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(kindAttr))
	}
	if m.entities != nil {
		if refreshed > 0 {
			m.entities.Add(ctx, int64(refreshed), metric.WithAttributes(
				kindAttr, attribute.String("outcome", "refreshed")))
		}
		if failed > 0 {
			m.entities.Add(ctx, int64(failed), metric.WithAttributes(
				kindAttr, attribute.String("outcome", "failed")))
		}
	}
}

// RecordVerification records one index verification outcome.
func (m *Metrics) RecordVerification(ctx context.Context, kind normalize.EntityKind, consistent bool) {
	if m.verifications == nil {
		return
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Bool("consistent", consistent)))
}
