package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/zfogg/vidlayer/internal/ads"
	"github.com/zfogg/vidlayer/internal/affiliates"
	"github.com/zfogg/vidlayer/internal/alerts"
	"github.com/zfogg/vidlayer/internal/auth"
	"github.com/zfogg/vidlayer/internal/billing"
	"github.com/zfogg/vidlayer/internal/cache"
	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/earnings"
	"github.com/zfogg/vidlayer/internal/email"
	"github.com/zfogg/vidlayer/internal/interactive"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/payouts"
	"github.com/zfogg/vidlayer/internal/queue"
	"github.com/zfogg/vidlayer/internal/search"
	"github.com/zfogg/vidlayer/internal/sharing"
	"github.com/zfogg/vidlayer/internal/storage"
	"github.com/zfogg/vidlayer/internal/telemetry"
	"github.com/zfogg/vidlayer/internal/videos"
	"github.com/zfogg/vidlayer/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const searchCacheTTL = 30 * time.Second

// Infrastructure is the set of external backends the services run on
type Infrastructure struct {
	DB      *gorm.DB
	Cache   cache.Store
	Storage storage.VideoStore
	Search  search.Index
	Mailer  email.Sender
	Stripe  billing.Gateway
	PayPal  payouts.Provider
}

// Build connects to every configured backend and wires the services.
// Optional backends fall back to in-process implementations: Redis to an
// in-memory store, Elasticsearch to SQL search, S3 is required outside
// development.
func Build(ctx context.Context, cfg *config.Config, db *gorm.DB) (*Container, error) {
	c := New(cfg)
	infra := Infrastructure{DB: db}

	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		infra.Cache = redisClient
		c.OnCleanup(func(context.Context) error { return redisClient.Close() })
	} else {
		logger.Log.Warn("Redis disabled, using in-memory cache (view de-duplication and frequency caps are per process)")
		infra.Cache = cache.NewMemoryStore()
	}

	if cfg.AWS.S3Bucket != "" {
		s3, err := storage.NewS3Uploader(ctx, cfg.AWS.Region, cfg.AWS.S3Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3: %w", err)
		}
		infra.Storage = s3
	} else if cfg.IsProduction() {
		return nil, fmt.Errorf("AWS_S3_BUCKET is required in production")
	} else {
		logger.Log.Warn("S3 bucket not configured, using in-memory storage")
		infra.Storage = storage.NewMemoryStore()
	}

	var index search.Index = search.NewSQLIndex(db)
	backend := "sql"
	if cfg.Elasticsearch.Enabled {
		es, err := search.NewClient(cfg.Elasticsearch.URL, telemetry.NewInstrumentedTransport("elasticsearch", http.DefaultTransport))
		if err != nil {
			logger.Log.Warn("Elasticsearch unavailable, falling back to SQL search", zap.Error(err))
		} else if err := es.InitializeIndices(ctx); err != nil {
			logger.Log.Warn("Failed to initialize search indices, falling back to SQL search", zap.Error(err))
		} else {
			index = es
			backend = "elasticsearch"
		}
	}
	infra.Search = search.NewCachedIndex(index, infra.Cache, searchCacheTTL, backend)

	if cfg.AWS.SESFromEmail != "" {
		mailer, err := email.NewEmailService(cfg.AWS.Region, cfg.AWS.SESFromEmail, cfg.AWS.SESFromName)
		if err != nil {
			logger.Log.Warn("Email disabled", zap.Error(err))
		} else {
			infra.Mailer = mailer
		}
	}

	if cfg.Stripe.Enabled() {
		infra.Stripe = billing.NewStripeGateway(cfg.Stripe)
	} else {
		logger.Log.Warn("Stripe not configured, subscriptions and Connect payouts are disabled")
	}
	if cfg.PayPal.Enabled() {
		infra.PayPal = payouts.NewPayPalProvider(cfg.PayPal)
	}

	c.Wire(infra)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Wire constructs the domain services on top of infra and connects them
// to each other
func (c *Container) Wire(infra Infrastructure) *Container {
	cfg := c.cfg
	c.db = infra.DB
	c.cache = infra.Cache
	c.store = infra.Storage
	c.index = infra.Search
	c.mailer = infra.Mailer
	c.hub = websocket.NewHub()

	c.auth = auth.NewService(c.db, cfg)

	c.videos = videos.NewService(c.db, c.store, c.index, c.cache, videos.Options{
		UploadURLTTL:   cfg.AWS.UploadURLTTL,
		PlaybackURLTTL: cfg.AWS.PlaybackURLTTL,
		DedupWindow:    cfg.Views.DedupWindow,
	})
	c.imports = queue.NewImportQueue(c.db, c.store, cfg.Import)
	c.imports.SetCompleteCallback(c.videos.OnImportComplete)
	c.videos.SetImportEnqueuer(c.imports)

	c.billing = billing.NewService(c.db, infra.Stripe, cfg.Stripe, cfg.Earnings.Currency)
	c.videos.SetSubscriptionChecker(c.billing)

	c.affiliates = affiliates.NewService(c.db, cfg.Affiliates, cfg.JWT.Secret)
	c.auth.SetReferralRecorder(c.affiliates)
	c.billing.SetCommissionAccruer(c.affiliates)

	c.interactive = interactive.NewService(c.db, c.hub, c.videos)
	c.ads = ads.NewService(c.db, c.cache, cfg.Ads)
	c.earnings = earnings.NewService(c.db, cfg.Earnings)

	var connect payouts.StripeConnect
	if infra.Stripe != nil {
		connect = infra.Stripe
	}
	c.payouts = payouts.NewService(c.db, cfg.Payouts, connect, payouts.Options{
		ConnectReturnURL:  cfg.Stripe.ConnectReturnURL,
		ConnectRefreshURL: cfg.Stripe.ConnectRefreshURL,
	})
	if infra.PayPal != nil {
		c.payouts.RegisterProvider(infra.PayPal)
	}

	c.sharing = sharing.NewService(c.db, c.videos, cfg.Server.WebURL, cfg.Embed.Enabled)

	alertManager := alerts.NewManager(0)
	alerts.DefaultRules(alertManager)
	c.alerts = alerts.NewEvaluator(alertManager, alerts.NewDBSource(c.db, 0), 0)

	if c.mailer != nil {
		notifier := email.NewNotifier(c.mailer, cfg.Server.WebURL)
		c.payouts.SetNotifier(notifier)
		c.sharing.SetNotifier(notifier)
	}
	return c
}

// Start launches the background workers owned by the container
func (c *Container) Start() {
	c.hub.Start()
	c.OnCleanup(c.hub.Shutdown)

	c.imports.Start()
	c.OnCleanup(func(context.Context) error {
		c.imports.Stop()
		return nil
	})
}
