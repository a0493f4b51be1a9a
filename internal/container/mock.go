package container

import (
	"time"

	"github.com/zfogg/vidlayer/internal/billing"
	"github.com/zfogg/vidlayer/internal/cache"
	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/email"
	"github.com/zfogg/vidlayer/internal/search"
	"github.com/zfogg/vidlayer/internal/storage"
	"gorm.io/gorm"
)

// MockContainer is a container wired entirely on in-process backends for
// handler tests. The fakes stay reachable so tests can inspect them.
type MockContainer struct {
	*Container
	Mail    *email.Recorder
	Objects *storage.MemoryStore
	KV      *cache.MemoryStore
}

// MockConfig is a complete configuration suitable for tests
func MockConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:        "8787",
			Environment: "test",
			BaseURL:     "http://api.vidlayer.test",
			WebURL:      "http://vidlayer.test",
		},
		JWT:   config.JWTConfig{Secret: "test_jwt_secret_key_123", TTL: 24 * time.Hour},
		OAuth: config.OAuthConfig{TOTPIssuer: "Vidlayer"},
		AWS: config.AWSConfig{
			UploadURLTTL:   15 * time.Minute,
			PlaybackURLTTL: time.Hour,
		},
		Earnings: config.EarningsConfig{
			ViewRatePerThousandCents:       2000,
			EngagementRatePerThousandCents: 500,
			SubscriptionPlatformFee:        0.2,
			AdRevenueShare:                 0.5,
			Currency:                       "usd",
			Workers:                        2,
		},
		Payouts:    config.PayoutsConfig{MinimumCents: 5000, MaxAttempts: 3, BatchSize: 10},
		Ads:        config.AdsConfig{DefaultFrequencyCap: 3, FrequencyWindow: 24 * time.Hour},
		Affiliates: config.AffiliatesConfig{CommissionRate: 0.2, CommissionWindow: 365 * 24 * time.Hour, CookieTTL: 30 * 24 * time.Hour, LandingPath: "/"},
		Import:     config.ImportConfig{Workers: 1, MaxBytes: 1 << 20, MaxAttempts: 1, Timeout: time.Minute},
		Views:      config.ViewsConfig{DedupWindow: 30 * time.Minute},
		Embed:      config.EmbedConfig{Enabled: true},
	}
}

// NewMock wires every service on db with in-memory cache, storage, SQL
// search and a recording mailer. stripe may be nil.
func NewMock(db *gorm.DB, cfg *config.Config, stripe billing.Gateway) *MockContainer {
	if cfg == nil {
		cfg = MockConfig()
	}
	m := &MockContainer{
		Container: New(cfg),
		Mail:      &email.Recorder{},
		Objects:   storage.NewMemoryStore(),
		KV:        cache.NewMemoryStore(),
	}
	m.Wire(Infrastructure{
		DB:      db,
		Cache:   m.KV,
		Storage: m.Objects,
		Search:  search.NewSQLIndex(db),
		Mailer:  m.Mail,
		Stripe:  stripe,
	})
	return m
}
