package memory

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/iammorganparry/clive/apps/recall/internal/models"
)

const meterName = "github.com/iammorganparry/clive/apps/recall/internal/memory"

// metrics holds the engine's instruments. They report to the provider in
// Options, or to the global provider the process installs.
type metrics struct {
	conversations    metric.Int64Counter
	storeFailures    metric.Int64Counter
	patternUpserts   metric.Int64Counter
	snapshotFailures metric.Int64Counter
	recallResults    metric.Int64Histogram
}

func newMetrics(provider metric.MeterProvider) *metrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	m := &metrics{}
	m.conversations, _ = meter.Int64Counter("recall.conversations.stored",
		metric.WithDescription("Conversations committed to the record store"))
	m.storeFailures, _ = meter.Int64Counter("recall.conversations.failed",
		metric.WithDescription("Conversations rejected by the record store"))
	m.patternUpserts, _ = meter.Int64Counter("recall.patterns.upserted",
		metric.WithDescription("Learning pattern occurrences recorded"))
	m.snapshotFailures, _ = meter.Int64Counter("recall.snapshot.failures",
		metric.WithDescription("Snapshot writes that left the cache behind the record store"))
	m.recallResults, _ = meter.Int64Histogram("recall.results",
		metric.WithDescription("Conversations returned per recall"))
	return m
}

func (m *metrics) stored(candidates []models.PatternCandidate) {
	ctx := context.Background()
	if m.conversations != nil {
		m.conversations.Add(ctx, 1)
	}
	if m.patternUpserts == nil {
		return
	}
	for _, c := range candidates {
		m.patternUpserts.Add(ctx, 1, metric.WithAttributes(attribute.String("pattern_type", string(c.Type))))
	}
}

func (m *metrics) storeFailed() {
	if m.storeFailures != nil {
		m.storeFailures.Add(context.Background(), 1)
	}
}

func (m *metrics) snapshotFailed() {
	if m.snapshotFailures != nil {
		m.snapshotFailures.Add(context.Background(), 1)
	}
}

func (m *metrics) recalled(n int) {
	if m.recallResults != nil {
		m.recallResults.Record(context.Background(), int64(n))
	}
}
