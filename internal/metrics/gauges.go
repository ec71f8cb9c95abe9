package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// GaugeFunc reports the current value of an observable gauge.
type GaugeFunc func() int64

// RegisterBrokerGauges registers the live session and consent subscriber gauges.
// The callbacks are invoked on every collection and must be safe for concurrent use.
func RegisterBrokerGauges(
	meterProvider metric.MeterProvider,
	namespace string,
	liveSessions, consentSubscribers GaugeFunc,
) error {
	meter := meterProvider.Meter(namespace)

	sessions, err := meter.Int64ObservableGauge(
		fmt.Sprintf("%s_sessions_live", namespace),
		metric.WithDescription("Number of sessions held by the broker"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create live sessions gauge: %w", err)
	}

	subscribers, err := meter.Int64ObservableGauge(
		fmt.Sprintf("%s_consent_subscribers", namespace),
		metric.WithDescription("Number of attached consent UIs"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create consent subscribers gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(sessions, liveSessions())
		o.ObserveInt64(subscribers, consentSubscribers())
		return nil
	}, sessions, subscribers)
	if err != nil {
		return fmt.Errorf("failed to register broker gauges: %w", err)
	}

	return nil
}
