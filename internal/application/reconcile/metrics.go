package reconcile

import (
	"context"
	"time"
)

// Metrics receives reconciliation measurements. telemetry.ReconcileMetrics
// implements it.
type Metrics interface {
	RecordMerge(ctx context.Context, outcome string, d time.Duration)
	RecordStaleResult(ctx context.Context, stage string)
	RecordSequence(ctx context.Context, finalState string, d time.Duration)
	RecordCredentialRejected(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) RecordMerge(context.Context, string, time.Duration)    {}
func (noopMetrics) RecordStaleResult(context.Context, string)             {}
func (noopMetrics) RecordSequence(context.Context, string, time.Duration) {}
func (noopMetrics) RecordCredentialRejected(context.Context)              {}
