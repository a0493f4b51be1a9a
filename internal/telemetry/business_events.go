package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessEvents provides spans for the money and engagement paths, above
// the HTTP/DB level: ad decisions, earnings runs, payouts, imports.
type BusinessEvents struct {
	tracer trace.Tracer
}

var (
	businessEvents     *BusinessEvents
	businessEventsOnce sync.Once
)

// GetBusinessEvents returns the shared tracer for business events
func GetBusinessEvents() *BusinessEvents {
	businessEventsOnce.Do(func() {
		businessEvents = &BusinessEvents{tracer: otel.Tracer("business-events")}
	})
	return businessEvents
}

// TraceAdDecision covers one ServeAd call
func (be *BusinessEvents) TraceAdDecision(ctx context.Context, videoID, format string) (context.Context, trace.Span) {
	return be.tracer.Start(ctx, "ads.decide",
		trace.WithAttributes(
			attribute.String("video.id", videoID),
			attribute.String("ad.format", format),
		),
	)
}

// EarningsRunAttrs describes an earnings calculation
type EarningsRunAttrs struct {
	CreatorID   string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// TraceEarningsCalculation covers calculating one creator's period
func (be *BusinessEvents) TraceEarningsCalculation(ctx context.Context, attrs EarningsRunAttrs) (context.Context, trace.Span) {
	return be.tracer.Start(ctx, "earnings.calculate",
		trace.WithAttributes(
			attribute.String("creator.id", attrs.CreatorID),
			attribute.String("period.start", attrs.PeriodStart.Format(time.RFC3339)),
			attribute.String("period.end", attrs.PeriodEnd.Format(time.RFC3339)),
		),
	)
}

// TracePayout covers dispatching one payout to its provider
func (be *BusinessEvents) TracePayout(ctx context.Context, payoutID, method string, amountCents int64) (context.Context, trace.Span) {
	return be.tracer.Start(ctx, "payouts.process",
		trace.WithAttributes(
			attribute.String("payout.id", payoutID),
			attribute.String("payout.method", method),
			attribute.Int64("payout.amount_cents", amountCents),
		),
	)
}

// TraceImport covers one import job attempt
func (be *BusinessEvents) TraceImport(ctx context.Context, jobID, videoID string, attempt int) (context.Context, trace.Span) {
	return be.tracer.Start(ctx, "videos.import",
		trace.WithAttributes(
			attribute.String("import.job_id", jobID),
			attribute.String("video.id", videoID),
			attribute.Int("import.attempt", attempt),
		),
	)
}

// TraceWebhook covers handling one inbound webhook event
func (be *BusinessEvents) TraceWebhook(ctx context.Context, provider, eventType string) (context.Context, trace.Span) {
	return be.tracer.Start(ctx, "webhook."+provider,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("webhook.event_type", eventType)),
	)
}

// EndSpan records err, if any, and ends span
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
