package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HTTPClientConfig holds configuration for an instrumented HTTP client
type HTTPClientConfig struct {
	ServiceName string        // Name of the external service (e.g., "paypal", "import-source")
	Timeout     time.Duration // Request timeout, 0 means 30s
}

// NewInstrumentedHTTPClient creates an HTTP client whose requests are traced
// and carry W3C trace headers
func NewInstrumentedHTTPClient(cfg HTTPClientConfig) *http.Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: NewInstrumentedTransport(cfg.ServiceName, http.DefaultTransport),
	}
}

// NewInstrumentedTransport wraps base with otelhttp, naming spans after service
func NewInstrumentedTransport(service string, base http.RoundTripper) http.RoundTripper {
	return otelhttp.NewTransport(base,
		otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("%s %s", service, r.Method)
		}),
	)
}

// ExternalServiceCallAttrs holds attributes for external service calls
type ExternalServiceCallAttrs struct {
	Service                 string // stripe, paypal, s3, ses, elasticsearch
	Operation               string
	ResourceID              string
	Attempt                 int
	CircuitBreakerTriggered bool
}

// TraceExternalCall creates a span for an external service call with standard attributes
func TraceExternalCall(ctx context.Context, attrs ExternalServiceCallAttrs) (context.Context, trace.Span) {
	tracer := otel.Tracer("external-api")

	ctx, span := tracer.Start(ctx, attrs.Service+"."+attrs.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("external.service", attrs.Service),
			attribute.String("external.operation", attrs.Operation),
		),
	)

	if attrs.ResourceID != "" {
		span.SetAttributes(attribute.String("external.resource_id", attrs.ResourceID))
	}
	if attrs.Attempt > 0 {
		span.SetAttributes(attribute.Int("external.attempt", attrs.Attempt))
	}
	if attrs.CircuitBreakerTriggered {
		span.SetAttributes(attribute.Bool("external.circuit_breaker_triggered", true))
	}

	return ctx, span
}

// RecordExternalCallError records error details in a span
func RecordExternalCallError(span trace.Span, err error, statusCode int, retryable bool) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}

	if statusCode > 0 {
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
	if retryable || statusCode >= 500 || statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests {
		span.SetAttributes(attribute.Bool("external.error.retryable", true))
	}
}

// RecordExternalCallSuccess marks the span successful
func RecordExternalCallSuccess(span trace.Span, statusCode int) {
	if statusCode > 0 {
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
	span.SetStatus(codes.Ok, "")
}
