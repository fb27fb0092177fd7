package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "cellbox"

// StartProvisionSpan starts a span covering one provisioning run.
func StartProvisionSpan(ctx context.Context, runID, cellID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provision",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("cell.id", cellID),
		),
	)
}

// StartStepSpan starts a span for one provisioning step within a run.
func StartStepSpan(ctx context.Context, runID, step string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("step.name", step),
		),
	)
}
