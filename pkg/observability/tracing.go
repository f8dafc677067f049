// Package observability provides OpenTelemetry tracing for cdcsync.
//
// Tracing is off unless Initialize is called; until then spans come from the
// global no-op provider, so instrumented code never needs to check.
package observability

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/cdcsync"

var (
	provider *sdktrace.TracerProvider
	mu       sync.Mutex
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRate   float64
	ExporterType   string // only "stdout" for now
	PrettyPrint    bool
	Writer         io.Writer // defaults to stderr
}

// DefaultTracingConfig returns the configuration used by the CLI --trace flag
func DefaultTracingConfig(version string) TracingConfig {
	return TracingConfig{
		ServiceName:    "cdcsync",
		ServiceVersion: version,
		Environment:    "development",
		SamplingRate:   1.0,
		ExporterType:   "stdout",
	}
}

// Initialize installs a global tracer provider. Calling it twice replaces the
// previous provider after shutting it down.
func Initialize(config TracingConfig) error {
	tp, err := initTracing(config)
	if err != nil {
		return err
	}

	mu.Lock()
	prev := provider
	provider = tp
	mu.Unlock()

	if prev != nil {
		_ = prev.Shutdown(context.Background())
	}

	otel.SetTracerProvider(tp)
	return nil
}

// Tracer returns the package tracer from the current global provider
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Span wraps a trace.Span with batched attributes
type Span struct {
	span       trace.Span
	attributes []attribute.KeyValue
}

// StartSpan starts a span named operation
func StartSpan(ctx context.Context, operation string) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, operation)
	return ctx, &Span{span: span}
}

// SetAttribute adds an attribute to the span (applied on End)
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int32:
		attr = attribute.Int64(key, int64(v))
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent adds an event to the span
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError marks the span failed; a nil err marks it ok.
func (s *Span) RecordError(err error) {
	if err == nil {
		s.span.SetStatus(codes.Ok, "")
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End ends the span
func (s *Span) End() {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	s.span.End()
}
