package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the replication metric instruments.
type Metrics struct {
	Cycles      metric.Int64Counter
	PushDocs    metric.Int64Counter
	PullChanges metric.Int64Counter
	PullApplied metric.Int64Counter
}

// Push outcomes recorded on taskly.sync.push.docs.
const (
	pushWritten  = "written"
	pushSkipped  = "skipped"
	pushConflict = "conflict"
	pushFailed   = "failed"
)

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Cycles, err = meter.Int64Counter("taskly.sync.cycles",
		metric.WithDescription("Completed sync cycles by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.PushDocs, err = meter.Int64Counter("taskly.sync.push.docs",
		metric.WithDescription("Documents considered by the push phase by result"),
	)
	if err != nil {
		return nil, err
	}

	m.PullChanges, err = meter.Int64Counter("taskly.sync.pull.changes",
		metric.WithDescription("Task changes received from the change feed"),
	)
	if err != nil {
		return nil, err
	}

	m.PullApplied, err = meter.Int64Counter("taskly.sync.pull.applied",
		metric.WithDescription("Remote changes that won last-write-wins and were stored"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) cycle(ctx context.Context, outcome string) {
	m.Cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) push(ctx context.Context, result string) {
	m.PushDocs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) pull(ctx context.Context, received, applied int) {
	m.PullChanges.Add(ctx, int64(received))
	m.PullApplied.Add(ctx, int64(applied))
}
