package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BrokerMetrics records session broker activity.
type BrokerMetrics interface {
	// RecordSessionOperation counts a session use case call and observes its latency.
	// Operations are names such as "session_start", "consent_allow" or "action_fill";
	// status is "success", "error", "applied" or "ignored".
	RecordSessionOperation(ctx context.Context, operation, status string, duration time.Duration)

	// RecordStreamEvent counts one automation event delivered to a stream consumer.
	RecordStreamEvent(ctx context.Context, eventType string)

	// RecordStreamClosed counts a finished event stream by close reason and observes
	// how long the consumer stayed attached.
	RecordStreamClosed(ctx context.Context, reason string, lifetime time.Duration)
}

type brokerMetrics struct {
	operations     metric.Int64Counter
	operationTime  metric.Float64Histogram
	streamEvents   metric.Int64Counter
	streamsClosed  metric.Int64Counter
	streamLifetime metric.Float64Histogram
}

// NewBrokerMetrics creates the broker instruments on meterProvider, prefixed with namespace.
func NewBrokerMetrics(meterProvider metric.MeterProvider, namespace string) (BrokerMetrics, error) {
	meter := meterProvider.Meter(namespace)
	m := &brokerMetrics{}

	var err error
	m.operations, err = meter.Int64Counter(
		fmt.Sprintf("%s_session_operations_total", namespace),
		metric.WithDescription("Total number of session operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session operation counter: %w", err)
	}

	m.operationTime, err = meter.Float64Histogram(
		fmt.Sprintf("%s_session_operation_duration_seconds", namespace),
		metric.WithDescription("Duration of session operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session operation histogram: %w", err)
	}

	m.streamEvents, err = meter.Int64Counter(
		fmt.Sprintf("%s_stream_events_total", namespace),
		metric.WithDescription("Total number of automation events delivered to stream consumers"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream event counter: %w", err)
	}

	m.streamsClosed, err = meter.Int64Counter(
		fmt.Sprintf("%s_streams_closed_total", namespace),
		metric.WithDescription("Total number of finished event streams"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream close counter: %w", err)
	}

	m.streamLifetime, err = meter.Float64Histogram(
		fmt.Sprintf("%s_stream_lifetime_seconds", namespace),
		metric.WithDescription("Time a consumer stayed attached to an event stream in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream lifetime histogram: %w", err)
	}

	return m, nil
}

func (m *brokerMetrics) RecordSessionOperation(
	ctx context.Context,
	operation, status string,
	duration time.Duration,
) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.operations.Add(ctx, 1, attrs)
	m.operationTime.Record(ctx, duration.Seconds(), attrs)
}

func (m *brokerMetrics) RecordStreamEvent(ctx context.Context, eventType string) {
	m.streamEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *brokerMetrics) RecordStreamClosed(ctx context.Context, reason string, lifetime time.Duration) {
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.streamsClosed.Add(ctx, 1, attrs)
	m.streamLifetime.Record(ctx, lifetime.Seconds(), attrs)
}

// NoOpBrokerMetrics discards everything. Used when metrics are disabled.
type NoOpBrokerMetrics struct{}

// NewNoOpBrokerMetrics creates a no-op BrokerMetrics.
func NewNoOpBrokerMetrics() BrokerMetrics {
	return NoOpBrokerMetrics{}
}

func (NoOpBrokerMetrics) RecordSessionOperation(context.Context, string, string, time.Duration) {}

func (NoOpBrokerMetrics) RecordStreamEvent(context.Context, string) {}

func (NoOpBrokerMetrics) RecordStreamClosed(context.Context, string, time.Duration) {}
