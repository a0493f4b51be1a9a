// Package container holds the wired application services so the server,
// the CLI and handler tests share one construction path.
package container

import (
	"context"
	"errors"
	"sync"

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
	"github.com/zfogg/vidlayer/internal/videos"
	"github.com/zfogg/vidlayer/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Container holds all application dependencies
type Container struct {
	cfg *config.Config

	// Infrastructure
	db     *gorm.DB
	cache  cache.Store
	store  storage.VideoStore
	index  search.Index
	mailer email.Sender
	hub    *websocket.Hub

	// Domain services
	auth        *auth.Service
	videos      *videos.Service
	imports     *queue.ImportQueue
	interactive *interactive.Service
	billing     *billing.Service
	affiliates  *affiliates.Service
	ads         *ads.Service
	earnings    *earnings.Service
	payouts     *payouts.Service
	sharing     *sharing.Service
	alerts      *alerts.Evaluator

	// Lifecycle hooks
	cleanupFuncs []func(context.Context) error
	mu           sync.RWMutex
}

// New creates an empty container for cfg
func New(cfg *config.Config) *Container {
	return &Container{cfg: cfg}
}

// Config returns the configuration the container was built from
func (c *Container) Config() *config.Config { return c.cfg }

// DB returns the database connection
func (c *Container) DB() *gorm.DB { return c.db }

// Cache returns the key/value store (Redis or in-memory)
func (c *Container) Cache() cache.Store { return c.cache }

// Storage returns the object store for video files
func (c *Container) Storage() storage.VideoStore { return c.store }

// Search returns the video search index
func (c *Container) Search() search.Index { return c.index }

// Mailer returns the outbound email sender, nil when email is off
func (c *Container) Mailer() email.Sender { return c.mailer }

// Hub returns the websocket hub for live poll results
func (c *Container) Hub() *websocket.Hub { return c.hub }

func (c *Container) Auth() *auth.Service               { return c.auth }
func (c *Container) Videos() *videos.Service           { return c.videos }
func (c *Container) Imports() *queue.ImportQueue       { return c.imports }
func (c *Container) Interactive() *interactive.Service { return c.interactive }
func (c *Container) Billing() *billing.Service         { return c.billing }
func (c *Container) Affiliates() *affiliates.Service   { return c.affiliates }
func (c *Container) Ads() *ads.Service                 { return c.ads }
func (c *Container) Earnings() *earnings.Service       { return c.earnings }
func (c *Container) Payouts() *payouts.Service         { return c.payouts }
func (c *Container) Sharing() *sharing.Service         { return c.sharing }
func (c *Container) Alerts() *alerts.Evaluator         { return c.alerts }

// OnCleanup registers a cleanup function to be called during shutdown.
// Cleanup functions run in LIFO order.
func (c *Container) OnCleanup(fn func(context.Context) error) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
	return c
}

// Cleanup runs the registered cleanup functions in reverse order. Failures
// are logged and do not stop the remaining cleanups.
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			logger.Log.Error("Cleanup function failed", zap.Int("index", i), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks that the services every route depends on are present
func (c *Container) Validate() error {
	missing := []string{}
	required := []struct {
		name    string
		missing bool
	}{
		{"database", c.db == nil},
		{"cache", c.cache == nil},
		{"storage", c.store == nil},
		{"search index", c.index == nil},
		{"auth service", c.auth == nil},
		{"video service", c.videos == nil},
		{"interactive service", c.interactive == nil},
		{"billing service", c.billing == nil},
		{"affiliate service", c.affiliates == nil},
		{"ads service", c.ads == nil},
		{"earnings service", c.earnings == nil},
		{"payout service", c.payouts == nil},
		{"sharing service", c.sharing == nil},
		{"alert evaluator", c.alerts == nil},
	}
	for _, dep := range required {
		if dep.missing {
			missing = append(missing, dep.name)
		}
	}
	if len(missing) > 0 {
		return NewInitializationError("Missing required dependencies", missing)
	}
	return nil
}
