package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware returns a middleware that traces HTTP requests using OpenTelemetry
// It wraps the official otelgin middleware and adds custom span attributes
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	base := otelgin.Middleware(serviceName)

	return func(c *gin.Context) {
		base(c)

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		if userID := c.GetString("user_id"); userID != "" {
			span.SetAttributes(attribute.String("user.id", userID))
		}

		// Domain identifiers from route params
		for _, p := range []struct{ param, attr string }{
			{"id", "resource.id"},
			{"video_id", "video.id"},
			{"element_id", "element.id"},
			{"campaign_id", "campaign.id"},
			{"payout_id", "payout.id"},
		} {
			if v := c.Param(p.param); v != "" {
				span.SetAttributes(attribute.String(p.attr, v))
			}
		}

		for _, ginErr := range c.Errors {
			if ginErr.Err != nil {
				span.RecordError(ginErr.Err, trace.WithStackTrace(true))
				span.SetStatus(codes.Error, ginErr.Error())
			}
		}
	}
}

// CorrelationMiddleware propagates X-Correlation-ID (falling back to the
// request ID) into the response header and trace baggage so background work
// started by the request can be tied back to it.
// Must run after RequestIDMiddleware.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = c.GetString("request_id")
		}
		if correlationID == "" {
			c.Next()
			return
		}

		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)

		ctx := c.Request.Context()
		if member, err := baggage.NewMember("correlation_id", correlationID); err == nil {
			if b, err := baggage.New(member); err == nil {
				ctx = baggage.ContextWithBaggage(ctx, b)
			}
		}
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("trace.correlation_id", correlationID))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
