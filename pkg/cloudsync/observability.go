package cloudsync

import (
	"context"

	"github.com/gostratum/tracingx"
)

// Instrumenter wraps one pass-shaped call with a trace span, generalizing
// the teacher's observability.go Instrumenter.TraceOperation from
// per-object storage calls to the daemon-level RunPass calls
// cmd/cloud-sync and cmd/cloud-migrator drive in their poll loops.
type Instrumenter struct {
	tracer tracingx.Tracer
}

// NewInstrumenter builds an Instrumenter. tracer may be nil, in which case
// TracePass runs fn untraced (mirrors the teacher's nil-tracer guard).
func NewInstrumenter(tracer tracingx.Tracer) *Instrumenter {
	return &Instrumenter{tracer: tracer}
}

// TracePass runs fn inside a span named operation, tagged with the
// account/container the pass covers, and marks the span errored if fn
// returns one.
func (i *Instrumenter) TracePass(ctx context.Context, operation, account, container string, fn func(ctx context.Context) error) error {
	var span tracingx.Span
	if i.tracer != nil {
		ctx, span = i.tracer.Start(ctx, operation,
			tracingx.WithSpanKind(tracingx.SpanKindClient),
			tracingx.WithAttributes(map[string]any{
				"cloudsync.account":   account,
				"cloudsync.container": container,
			}),
		)
		defer span.End()
	}

	err := fn(ctx)
	if span != nil && err != nil {
		span.SetError(err)
	}
	return err
}
