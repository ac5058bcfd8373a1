package telemetry

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPClientMetrics records outgoing backend requests
type HTTPClientMetrics struct {
	requestsTotal   *Counter
	requestDuration *Histogram
}

// NewHTTPClientMetrics creates the client instruments on meter
func NewHTTPClientMetrics(meter metric.Meter) (*HTTPClientMetrics, error) {
	if meter == nil {
		return nil, &MetricsError{Op: "NewHTTPClientMetrics", Err: "meter cannot be nil"}
	}
	requests, err := NewCounter(meter, "cartsync_http_client_requests_total", "Backend requests by route and status", "{request}")
	if err != nil {
		return nil, err
	}
	duration, err := NewHistogram(meter, HistogramOpts{
		Name:        "cartsync_http_client_request_duration_seconds",
		Description: "Backend request latency",
		Unit:        "s",
		Boundaries:  LatencyBuckets,
	})
	if err != nil {
		return nil, err
	}
	return &HTTPClientMetrics{requestsTotal: requests, requestDuration: duration}, nil
}

// ObserveRequest records one request attempt. status is 0 on transport errors.
func (m *HTTPClientMetrics) ObserveRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	attrs := []attribute.KeyValue{
		AttrHTTPMethod.String(method),
		AttrHTTPRoute.String(route),
		AttrHTTPStatusCode.String(strconv.Itoa(status)),
	}
	m.requestsTotal.Inc(ctx, attrs...)
	m.requestDuration.RecordDuration(ctx, d, attrs...)
}
