package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the instruments shared by the ingestion pipeline, the
// broadcaster and the archiver. Exposed through the Prometheus exporter on
// /metrics.
type Metrics struct {
	TicksAccepted   metric.Int64Counter
	TicksRejected   metric.Int64Counter
	EventsDelivered metric.Int64Counter
	EventsDropped   metric.Int64Counter
	SlowConsumers   metric.Int64Counter
	ArchiveRetries  metric.Int64Counter
	ArchiveFailures metric.Int64Counter
	BucketsArchived metric.Int64Counter
}

func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("pricefeed")

	m := &Metrics{}
	var err error

	if m.TicksAccepted, err = meter.Int64Counter("pricefeed_ticks_accepted_total"); err != nil {
		return nil, err
	}
	if m.TicksRejected, err = meter.Int64Counter("pricefeed_ticks_rejected_total"); err != nil {
		return nil, err
	}
	if m.EventsDelivered, err = meter.Int64Counter("pricefeed_events_delivered_total"); err != nil {
		return nil, err
	}
	if m.EventsDropped, err = meter.Int64Counter("pricefeed_events_dropped_total"); err != nil {
		return nil, err
	}
	if m.SlowConsumers, err = meter.Int64Counter("pricefeed_slow_consumer_disconnects_total"); err != nil {
		return nil, err
	}
	if m.ArchiveRetries, err = meter.Int64Counter("pricefeed_archive_retries_total"); err != nil {
		return nil, err
	}
	if m.ArchiveFailures, err = meter.Int64Counter("pricefeed_archive_failures_total"); err != nil {
		return nil, err
	}
	if m.BucketsArchived, err = meter.Int64Counter("pricefeed_buckets_archived_total"); err != nil {
		return nil, err
	}

	return m, nil
}

// NewNopMetrics is the test double.
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func Reason(reason string) metric.AddOption {
	return metric.WithAttributes(attribute.String("reason", reason))
}
