package operations

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies this package's instruments
const MeterName = "quantlab.operations"

// Metrics holds the OpenTelemetry instruments for the lifecycle core. All
// record methods are safe on a nil receiver so the core stays usable
// without observability wiring.
type Metrics struct {
	created         metric.Int64Counter
	finalized       metric.Int64Counter
	active          metric.Int64UpDownCounter
	progressReports metric.Int64Counter
	bridgePolls     metric.Float64Histogram
}

// NewMetrics creates the instrument set on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.created, err = meter.Int64Counter("operations_created_total",
		metric.WithDescription("Operations created, by type"))
	if err != nil {
		return nil, fmt.Errorf("create operations_created_total: %w", err)
	}

	m.finalized, err = meter.Int64Counter("operations_finalized_total",
		metric.WithDescription("Operations reaching a terminal status, by status"))
	if err != nil {
		return nil, fmt.Errorf("create operations_finalized_total: %w", err)
	}

	m.active, err = meter.Int64UpDownCounter("operations_active",
		metric.WithDescription("Operations currently pending or running"))
	if err != nil {
		return nil, fmt.Errorf("create operations_active: %w", err)
	}

	m.progressReports, err = meter.Int64Counter("operations_progress_reports_total",
		metric.WithDescription("Progress snapshots accepted by the registry"))
	if err != nil {
		return nil, fmt.Errorf("create operations_progress_reports_total: %w", err)
	}

	m.bridgePolls, err = meter.Float64Histogram("operations_bridge_poll_seconds",
		metric.WithDescription("Duration of live-status bridge polls, by outcome"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create operations_bridge_poll_seconds: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordCreated(typ Type) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.created.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(typ))))
	m.active.Add(ctx, 1)
}

func (m *Metrics) recordFinalized(status Status) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.finalized.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	m.active.Add(ctx, -1)
}

func (m *Metrics) recordProgressReport() {
	if m == nil {
		return
	}
	m.progressReports.Add(context.Background(), 1)
}

func (m *Metrics) recordBridgePoll(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.bridgePolls.Record(context.Background(), elapsed.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}
