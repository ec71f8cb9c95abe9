package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type httpMetrics struct {
	requests  metric.Int64Counter
	duration  metric.Float64Histogram
	inFlight  metric.Int64UpDownCounter
	longLived map[string]struct{}
}

// HTTPMetricsMiddleware records request counts, in-flight requests and latency by route
// pattern. Routes listed in longLived (event streams, sockets) are counted but kept out
// of the latency histogram, where their lifetimes would swamp the request latencies.
func HTTPMetricsMiddleware(meterProvider metric.MeterProvider, namespace string, longLived ...string) gin.HandlerFunc {
	m, err := newHTTPMetrics(meterProvider, namespace, longLived)
	if err != nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := sanitizePath(c.FullPath())
		ctx := c.Request.Context()

		routeAttr := metric.WithAttributes(attribute.String("path", path))
		m.inFlight.Add(ctx, 1, routeAttr)
		defer m.inFlight.Add(ctx, -1, routeAttr)

		c.Next()

		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", path),
			attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
		)
		m.requests.Add(ctx, 1, attrs)
		if _, ok := m.longLived[path]; !ok {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
	}
}

func newHTTPMetrics(meterProvider metric.MeterProvider, namespace string, longLived []string) (*httpMetrics, error) {
	meter := meterProvider.Meter(namespace)

	requests, err := meter.Int64Counter(
		fmt.Sprintf("%s_http_requests_total", namespace),
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		fmt.Sprintf("%s_http_request_duration_seconds", namespace),
		metric.WithDescription("HTTP request duration in seconds, excluding long-lived routes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter(
		fmt.Sprintf("%s_http_requests_in_flight", namespace),
		metric.WithDescription("Number of HTTP requests currently being served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(longLived))
	for _, route := range longLived {
		set[route] = struct{}{}
	}

	return &httpMetrics{
		requests:  requests,
		duration:  duration,
		inFlight:  inFlight,
		longLived: set,
	}, nil
}

// sanitizePath returns the route pattern, or "unknown" when no route matched, so raw
// session ids never become label values.
func sanitizePath(fullPath string) string {
	if fullPath == "" {
		return "unknown"
	}
	return fullPath
}
