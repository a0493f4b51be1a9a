package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Business tracks platform events: views, interactions, ads, money movement
type Business struct {
	// Videos
	VideoUploadsTotal *prometheus.CounterVec
	VideoViewsTotal   *prometheus.CounterVec
	ImportJobsTotal   *prometheus.CounterVec
	ImportDuration    prometheus.Histogram
	ImportQueueDepth  prometheus.Gauge

	// Interactive elements
	ElementResponsesTotal *prometheus.CounterVec

	// Ads
	AdRequestsTotal    *prometheus.CounterVec
	AdImpressionsTotal *prometheus.CounterVec
	AdClicksTotal      *prometheus.CounterVec
	AdSpendMillicents  prometheus.Counter

	// Subscriptions and affiliates
	StripeWebhooksTotal      *prometheus.CounterVec
	SubscriptionRevenueCents prometheus.Counter
	AffiliateClicksTotal     prometheus.Counter
	CommissionsAccruedCents  prometheus.Counter

	// Earnings and payouts
	EarningsCalculationsTotal   *prometheus.CounterVec
	EarningsCalculationDuration prometheus.Histogram
	PayoutsTotal                *prometheus.CounterVec
	PayoutAmountCents           *prometheus.CounterVec
	PayoutProviderErrors        *prometheus.CounterVec

	// Sharing
	ShareResolutionsTotal *prometheus.CounterVec
	EmbedLoadsTotal       *prometheus.CounterVec

	// Background jobs
	SchedulerRunsTotal *prometheus.CounterVec
}

func newBusiness() *Business {
	return &Business{
		VideoUploadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "video_uploads_total",
				Help: "Videos created by source and outcome",
			},
			[]string{"source", "status"},
		),
		VideoViewsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "video_views_total",
				Help: "Recorded playback sessions; counted=false when de-duplicated",
			},
			[]string{"source", "counted"},
		),
		ImportJobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "video_import_jobs_total",
				Help: "Import job attempts by outcome",
			},
			[]string{"status"},
		),
		ImportDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "video_import_duration_seconds",
				Help:    "Time to copy a remote video into storage",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		ImportQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "video_import_queue_depth",
				Help: "Import jobs waiting for a worker",
			},
		),

		ElementResponsesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "element_responses_total",
				Help: "Interactive element responses by element type",
			},
			[]string{"type"},
		),

		AdRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ad_requests_total",
				Help: "Ad requests by format and whether an ad was filled",
			},
			[]string{"format", "filled"},
		),
		AdImpressionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ad_impressions_total",
				Help: "Ad impressions served by format",
			},
			[]string{"format"},
		),
		AdClicksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ad_clicks_total",
				Help: "Ad clicks by format",
			},
			[]string{"format"},
		),
		AdSpendMillicents: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ad_spend_millicents_total",
				Help: "Advertiser spend charged for impressions, in millicents",
			},
		),

		StripeWebhooksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripe_webhooks_total",
				Help: "Stripe webhook events by type and outcome",
			},
			[]string{"type", "status"},
		),
		SubscriptionRevenueCents: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "subscription_revenue_cents_total",
				Help: "Gross subscription payments received, in cents",
			},
		),
		AffiliateClicksTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "affiliate_clicks_total",
				Help: "Referral link clicks",
			},
		),
		CommissionsAccruedCents: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "affiliate_commissions_accrued_cents_total",
				Help: "Affiliate commission accrued, in cents",
			},
		),

		EarningsCalculationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "earnings_calculations_total",
				Help: "Earnings period calculations by outcome",
			},
			[]string{"status"},
		),
		EarningsCalculationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "earnings_calculation_duration_seconds",
				Help:    "Time to calculate one creator's earnings period",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5},
			},
		),
		PayoutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payouts_total",
				Help: "Payout state transitions by method and resulting status",
			},
			[]string{"method", "status"},
		),
		PayoutAmountCents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payout_amount_cents_total",
				Help: "Completed payout volume by method, in cents",
			},
			[]string{"method"},
		),
		PayoutProviderErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payout_provider_errors_total",
				Help: "Payout provider call failures, including open circuit rejections",
			},
			[]string{"method", "reason"},
		),

		ShareResolutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "share_link_resolutions_total",
				Help: "Share link resolutions by outcome",
			},
			[]string{"result"},
		),
		EmbedLoadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embed_loads_total",
				Help: "Embed page loads by outcome",
			},
			[]string{"result"},
		),

		SchedulerRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_runs_total",
				Help: "Scheduled job runs by job and outcome",
			},
			[]string{"job", "status"},
		),
	}
}
