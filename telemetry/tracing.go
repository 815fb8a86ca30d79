package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies spans created by this module.
const InstrumentationName = "github.com/spartacus-desktop/spartacus"

// Tracer returns the tracer of the globally registered provider. Without a
// configured provider every span is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// RecordSpanError marks span as failed with err.
func RecordSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
