package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the domain instruments. A nil *Metrics is valid and records
// nothing, so call sites never need to guard.
type Metrics struct {
	recordsVerified  metric.Int64Counter
	recordsDiscarded metric.Int64Counter
	relayFailures    metric.Int64Counter
	backlogLatency   metric.Float64Histogram
	unlocks          metric.Int64Counter
}

// NewMetrics registers the zapgate instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.recordsVerified, err = meter.Int64Counter(
		"zapgate.records.verified",
		metric.WithDescription("Records that passed verification and were emitted"),
	); err != nil {
		return nil, fmt.Errorf("register records.verified: %w", err)
	}
	if m.recordsDiscarded, err = meter.Int64Counter(
		"zapgate.records.discarded",
		metric.WithDescription("Records dropped at ingestion (failed verification or duplicate)"),
	); err != nil {
		return nil, fmt.Errorf("register records.discarded: %w", err)
	}
	if m.relayFailures, err = meter.Int64Counter(
		"zapgate.relay.failures",
		metric.WithDescription("Relay endpoint connection or subscription failures"),
	); err != nil {
		return nil, fmt.Errorf("register relay.failures: %w", err)
	}
	if m.backlogLatency, err = meter.Float64Histogram(
		"zapgate.backlog.latency",
		metric.WithDescription("Seconds from subscribe until the aggregate backlog-complete signal"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("register backlog.latency: %w", err)
	}
	if m.unlocks, err = meter.Int64Counter(
		"zapgate.unlocks",
		metric.WithDescription("Unlock transactions by terminal state"),
	); err != nil {
		return nil, fmt.Errorf("register unlocks: %w", err)
	}
	return m, nil
}

// RecordVerified counts an emitted record.
func (m *Metrics) RecordVerified(ctx context.Context) {
	if m == nil {
		return
	}
	m.recordsVerified.Add(ctx, 1)
}

// RecordDiscarded counts a dropped record with a reason attribute.
func (m *Metrics) RecordDiscarded(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.recordsDiscarded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RelayFailure counts an endpoint failure.
func (m *Metrics) RelayFailure(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.relayFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// BacklogComplete records the latency of the aggregate EOSE signal.
func (m *Metrics) BacklogComplete(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.backlogLatency.Record(ctx, seconds)
}

// Unlock counts an unlock transaction outcome.
func (m *Metrics) Unlock(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.unlocks.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
