package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewReconcileMetrics", Err: "meter cannot be nil"}

// ReconcileMetrics records what the reconciliation engine does
type ReconcileMetrics struct {
	mergeTotal         *Counter
	mergeDuration      *Histogram
	staleResultsTotal  *Counter
	sequenceDuration   *Histogram
	credentialRejected *Counter
}

// NewReconcileMetrics creates the engine instruments on meter
func NewReconcileMetrics(meter metric.Meter) (*ReconcileMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &ReconcileMetrics{}
	var err error

	if m.mergeTotal, err = NewCounter(meter,
		"cartsync_merge_total",
		"Guest cart merge attempts by outcome",
		"{merge}",
	); err != nil {
		return nil, err
	}
	if m.mergeDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "cartsync_merge_duration_seconds",
		Description: "Duration of guest cart merge attempts",
		Unit:        "s",
		Boundaries:  LatencyBuckets,
	}); err != nil {
		return nil, err
	}
	if m.staleResultsTotal, err = NewCounter(meter,
		"cartsync_stale_results_total",
		"Late results discarded because the session moved on",
		"{result}",
	); err != nil {
		return nil, err
	}
	if m.sequenceDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "cartsync_sequence_duration_seconds",
		Description: "Duration of reconciliation sequences by final state",
		Unit:        "s",
		Boundaries:  LatencyBuckets,
	}); err != nil {
		return nil, err
	}
	if m.credentialRejected, err = NewCounter(meter,
		"cartsync_credential_rejected_total",
		"Credentials cleared after the backend rejected them",
		"{credential}",
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordMerge records one merge attempt
func (m *ReconcileMetrics) RecordMerge(ctx context.Context, outcome string, d time.Duration) {
	m.mergeTotal.Inc(ctx, AttrMergeOutcome.String(outcome))
	m.mergeDuration.RecordDuration(ctx, d, AttrMergeOutcome.String(outcome))
}

// RecordStaleResult records a discarded late result
func (m *ReconcileMetrics) RecordStaleResult(ctx context.Context, stage string) {
	m.staleResultsTotal.Inc(ctx, AttrStage.String(stage))
}

// RecordSequence records a finished reconciliation sequence
func (m *ReconcileMetrics) RecordSequence(ctx context.Context, finalState string, d time.Duration) {
	m.sequenceDuration.RecordDuration(ctx, d, AttrEngineState.String(finalState))
}

// RecordCredentialRejected records a credential cleared after a 401
func (m *ReconcileMetrics) RecordCredentialRejected(ctx context.Context) {
	m.credentialRejected.Inc(ctx)
}
