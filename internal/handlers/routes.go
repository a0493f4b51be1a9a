package handlers

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zfogg/vidlayer/internal/auth"
	"github.com/zfogg/vidlayer/internal/container"
	"github.com/zfogg/vidlayer/internal/middleware"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/websocket"
)

const publicCacheTTL = 30 * time.Second

// NewRouter builds the HTTP API on top of a wired container. Video sockets
// are served by the net/http mux ahead of gin so the upgrade can hijack the
// raw connection.
func NewRouter(c *container.Container) http.Handler {
	cfg := c.Config()
	h := NewHandlers(c)
	authSvc := c.Auth()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.CorrelationMiddleware())
	r.Use(middleware.GinLoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())
	if cfg.Telemetry.Enabled {
		r.Use(middleware.TracingMiddleware(cfg.Telemetry.ServiceName))
	}

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.AllowedOrigins) == 0 || slices.Contains(cfg.Server.AllowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders,
		"Authorization", auth.TOTPHeader, SharePasswordHeader, "Idempotency-Key", "X-Request-ID", "X-Correlation-ID")
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}
	r.Use(cors.New(corsConfig))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{"^/ws/"})))

	store := c.Cache()
	limit := func(rl middleware.RateLimitConfig) gin.HandlerFunc {
		rl.KeyFunc = middleware.KeyByUserOrIP
		return middleware.StoreRateLimitMiddleware(store, rl)
	}
	apiLimit := limit(middleware.DefaultRateLimitConfig())
	authLimit := limit(middleware.AuthRateLimitConfig())
	uploadLimit := limit(middleware.UploadRateLimitConfig())
	trackingLimit := limit(middleware.TrackingRateLimitConfig())
	payoutLimit := limit(middleware.PayoutRateLimitConfig())
	publicCache := middleware.PublicResponseCache(store, publicCacheTTL)

	requireAuth := authSvc.RequireAuth()
	optionalAuth := authSvc.OptionalAuth()
	requireTOTP := authSvc.RequireTOTP()
	creatorOnly := middleware.RequireRole(models.RoleCreator)
	advertiserOnly := middleware.RequireRole(models.RoleAdvertiser)

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public, non-API surfaces
	r.GET("/r/:code", h.ReferralRedirect)
	r.GET("/embed/:id", h.EmbedPlayer)
	r.GET("/oembed", publicCache, h.OEmbed)
	r.GET("/ads/click/:impression", trackingLimit, h.AdClick)
	r.POST("/webhooks/stripe", h.StripeWebhook)

	wsHandler := websocket.NewHandler(c.Hub(), func(req *http.Request, videoID string) (string, error) {
		viewer := authSvc.UserFromRequest(req)
		video, err := c.Videos().Find(req.Context(), videoID)
		if err != nil {
			return "", toAPIError(err)
		}
		if err := c.Videos().CanWatch(req.Context(), viewer, video); err != nil {
			return "", toAPIError(err)
		}
		if viewer == nil {
			return "", nil
		}
		return viewer.ID, nil
	}, cfg.Server.AllowedOrigins)
	r.GET("/ws/metrics", requireAuth, middleware.RequireAdmin(), wsHandler.HandleMetrics)

	api := r.Group("/api/v1")
	api.Use(apiLimit)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/register", authLimit, h.Register)
		authGroup.POST("/login", authLimit, h.Login)
		authGroup.GET("/google", h.GoogleLogin)
		authGroup.GET("/google/callback", h.GoogleCallback)
		authGroup.GET("/me", requireAuth, h.Me)
		authGroup.POST("/2fa/setup", requireAuth, h.SetupTwoFactor)
		authGroup.POST("/2fa/enable", requireAuth, authLimit, h.EnableTwoFactor)
		authGroup.POST("/2fa/disable", requireAuth, authLimit, h.DisableTwoFactor)
	}

	videos := api.Group("/videos")
	{
		videos.GET("", publicCache, h.ListVideos)
		videos.GET("/search", publicCache, h.SearchVideos)
		videos.GET("/mine", requireAuth, h.ListMyVideos)
		videos.POST("", requireAuth, creatorOnly, uploadLimit, h.CreateUpload)
		videos.POST("/import", requireAuth, creatorOnly, uploadLimit, h.ImportVideo)

		videos.GET("/:id", optionalAuth, h.GetVideo)
		videos.PATCH("/:id", requireAuth, h.UpdateVideo)
		videos.DELETE("/:id", requireAuth, h.DeleteVideo)
		videos.POST("/:id/complete", requireAuth, h.CompleteUpload)
		videos.GET("/:id/import", requireAuth, h.ImportStatus)
		videos.POST("/:id/views", optionalAuth, trackingLimit, h.RecordView)
		videos.GET("/:id/ad", optionalAuth, trackingLimit, h.ServeAd)

		videos.GET("/:id/elements", optionalAuth, h.ListElements)
		videos.POST("/:id/elements", requireAuth, h.CreateElement)

		videos.GET("/:id/share-links", requireAuth, h.ListShareLinks)
		videos.POST("/:id/share-links", requireAuth, h.CreateShareLink)

		videos.POST("/:id/player-errors", optionalAuth, trackingLimit, h.RecordPlayerErrors)
		videos.GET("/:id/player-errors/stats", requireAuth, h.PlayerErrorStats)
	}

	elements := api.Group("/elements")
	{
		elements.PUT("/:id", requireAuth, h.UpdateElement)
		elements.DELETE("/:id", requireAuth, h.DeleteElement)
		elements.POST("/:id/responses", optionalAuth, trackingLimit, h.SubmitResponse)
		elements.GET("/:id/results", requireAuth, h.ElementResults)
	}

	api.GET("/creators/:id/plans", optionalAuth, h.ListCreatorPlans)
	plans := api.Group("/plans", requireAuth)
	{
		plans.POST("", creatorOnly, h.CreatePlan)
		plans.DELETE("/:id", creatorOnly, h.DeactivatePlan)
		plans.POST("/:id/subscribe", h.Subscribe)
	}
	subscriptions := api.Group("/subscriptions", requireAuth)
	{
		subscriptions.GET("", h.ListMySubscriptions)
		subscriptions.POST("/:id/cancel", h.CancelSubscription)
	}
	api.GET("/subscribers", requireAuth, creatorOnly, h.ListSubscribers)

	affiliates := api.Group("/affiliates", requireAuth)
	{
		affiliates.GET("/dashboard", h.AffiliateDashboard)
		affiliates.GET("/commissions", h.ListCommissions)
		affiliates.GET("/referrals", h.ListReferrals)
	}

	campaigns := api.Group("/campaigns", requireAuth, advertiserOnly)
	{
		campaigns.GET("", h.ListCampaigns)
		campaigns.POST("", h.CreateCampaign)
		campaigns.GET("/:id", h.GetCampaign)
		campaigns.PATCH("/:id", h.UpdateCampaign)
		campaigns.DELETE("/:id", h.DeleteCampaign)
		campaigns.POST("/:id/status", h.SetCampaignStatus)
		campaigns.GET("/:id/performance", h.CampaignPerformance)
	}

	earnings := api.Group("/earnings", requireAuth, creatorOnly)
	{
		earnings.GET("", h.ListEarnings)
		earnings.GET("/estimate", h.EarningsEstimate)
		earnings.GET("/balance", h.EarningsBalance)
		earnings.GET("/:id", h.GetEarningsPeriod)
	}

	accounts := api.Group("/payout-accounts", requireAuth, creatorOnly)
	{
		accounts.GET("", h.ListPayoutAccounts)
		accounts.GET("/:id", h.GetPayoutAccount)
		accounts.POST("", payoutLimit, requireTOTP, h.CreatePayoutAccount)
		accounts.POST("/:id/onboarding", requireTOTP, h.PayoutOnboardingLink)
		accounts.POST("/:id/default", requireTOTP, h.SetDefaultPayoutAccount)
		accounts.DELETE("/:id", requireTOTP, h.DeletePayoutAccount)
	}

	payoutRoutes := api.Group("/payouts", requireAuth, creatorOnly)
	{
		payoutRoutes.GET("", h.ListPayouts)
		payoutRoutes.POST("", payoutLimit, h.RequestPayout)
		payoutRoutes.GET("/:id", h.GetPayout)
	}

	share := api.Group("/share-links", requireAuth)
	{
		share.DELETE("/:id", h.RevokeShareLink)
		share.POST("/:id/email", h.EmailShareLink)
	}
	api.GET("/share/:token", optionalAuth, h.ResolveShareLink)

	admin := api.Group("/admin", requireAuth, middleware.RequireAdmin())
	{
		admin.POST("/earnings/calculate", h.CalculateEarnings)
		admin.POST("/earnings/finalize", h.FinalizeAllEarnings)
		admin.POST("/earnings/:id/finalize", h.FinalizeEarningsPeriod)

		admin.POST("/payouts/process", h.ProcessPayouts)
		admin.POST("/payouts/:id/confirm", h.ConfirmManualPayout)
		admin.POST("/payouts/:id/cancel", h.CancelPayout)
		admin.POST("/payout-accounts/:id/verify", h.VerifyPayoutAccount)

		admin.POST("/commissions/:id/approve", h.ApproveCommission)
		admin.POST("/commissions/:id/cancel", h.CancelCommission)

		admin.GET("/alerts", h.ListAlerts)
		admin.POST("/alerts/evaluate", h.EvaluateAlerts)
		admin.POST("/alerts/:id/resolve", h.ResolveAlert)
	}

	r.NoRoute(func(gc *gin.Context) {
		gc.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "route not found"})
	})

	mux := http.NewServeMux()
	mux.Handle("GET /ws/videos/{id}", wsHandler)
	mux.Handle("/", r)
	return mux
}
