package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertMetricLine checks the scrape output for a series with the given name and value.
// Labels are sorted by name in the exposition and interleaved with exporter scope
// labels, so each fragment is matched separately and must be given in name order.
func assertMetricLine(t *testing.T, output, name, value string, labels ...string) {
	t.Helper()
	pattern := name + `\{[^}]*` + strings.Join(labels, `[^}]*`) + `[^}]*\} ` + value
	assert.Regexp(t, pattern, output)
}

func newBrokerMetrics(t *testing.T) (*Provider, BrokerMetrics) {
	t.Helper()
	provider, err := NewProvider("test_app")
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, provider.Shutdown(context.Background()))
	})

	m, err := NewBrokerMetrics(provider.MeterProvider(), "test_app")
	require.NoError(t, err)
	return provider, m
}

func TestBrokerMetrics_RecordSessionOperation(t *testing.T) {
	provider, m := newBrokerMetrics(t)
	ctx := context.Background()

	m.RecordSessionOperation(ctx, "session_start", "success", 5*time.Millisecond)
	m.RecordSessionOperation(ctx, "session_start", "success", 7*time.Millisecond)
	m.RecordSessionOperation(ctx, "consent_allow", "ignored", time.Millisecond)

	output := scrape(t, provider)
	assertMetricLine(t, output, "test_app_session_operations_total", "2",
		`operation="session_start"`, `status="success"`)
	assertMetricLine(t, output, "test_app_session_operations_total", "1",
		`operation="consent_allow"`, `status="ignored"`)
	assertMetricLine(t, output, "test_app_session_operation_duration_seconds_count", "2",
		`operation="session_start"`, `status="success"`)
}

func TestBrokerMetrics_Streams(t *testing.T) {
	provider, m := newBrokerMetrics(t)
	ctx := context.Background()

	for _, eventType := range []string{"OPENING", "OPENED_FORM", "PUBLISHED"} {
		m.RecordStreamEvent(ctx, eventType)
	}
	m.RecordStreamEvent(ctx, "OPENING")
	m.RecordStreamClosed(ctx, "completed", 3*time.Second)
	m.RecordStreamClosed(ctx, "expired", 2*time.Minute)

	output := scrape(t, provider)
	assertMetricLine(t, output, "test_app_stream_events_total", "2", `type="OPENING"`)
	assertMetricLine(t, output, "test_app_stream_events_total", "1", `type="PUBLISHED"`)
	assertMetricLine(t, output, "test_app_streams_closed_total", "1", `reason="completed"`)
	assertMetricLine(t, output, "test_app_streams_closed_total", "1", `reason="expired"`)
	assertMetricLine(t, output, "test_app_stream_lifetime_seconds_bucket", "1", `reason="completed"`, `le="5"`)
}

func TestNoOpBrokerMetrics(t *testing.T) {
	m := NewNoOpBrokerMetrics()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordSessionOperation(ctx, "session_start", "success", time.Second)
		m.RecordStreamEvent(ctx, "OPENING")
		m.RecordStreamClosed(ctx, "completed", time.Second)
	})
}
