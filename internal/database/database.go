package database

import (
	"fmt"
	"time"

	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB holds the database connection
var DB *gorm.DB

// Initialize creates and configures the database connection
func Initialize(cfg config.DatabaseConfig, env string) (*gorm.DB, error) {
	level := gormlogger.Warn
	if env == "development" {
		level = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         NewZapLogger(logger.Log, level),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = db
	logger.Log.Info("Database connected")

	return db, nil
}

// AllModels lists every persisted model in migration order
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Video{},
		&models.VideoView{},
		&models.ImportJob{},
		&models.InteractiveElement{},
		&models.ElementResponse{},
		&models.SubscriptionPlan{},
		&models.Subscription{},
		&models.SubscriptionPayment{},
		&models.AffiliateClick{},
		&models.AffiliateReferral{},
		&models.AffiliateCommission{},
		&models.AdCampaign{},
		&models.AdImpression{},
		&models.AdClick{},
		&models.EarningsPeriod{},
		&models.PayoutAccount{},
		&models.Payout{},
		&models.ShareLink{},
		&models.PlayerErrorLog{},
	}
}

// Migrate runs auto-migration for all models
func Migrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if db.Dialector.Name() == "postgres" {
		if err := createIndexes(db); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	logger.Log.Info("Database migrations completed")
	return nil
}

// createIndexes creates postgres-only indexes that struct tags can't express
func createIndexes(db *gorm.DB) error {
	statements := []string{
		// Case-insensitive login and uniqueness checks
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_lower ON users (LOWER(email)) WHERE deleted_at IS NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_lower ON users (LOWER(username)) WHERE deleted_at IS NULL",

		// Public listings
		"CREATE INDEX IF NOT EXISTS idx_videos_public_created ON videos (created_at DESC) WHERE visibility = 'public' AND status = 'ready' AND deleted_at IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_videos_tags ON videos USING GIN (tags)",

		// Ad selection
		"CREATE INDEX IF NOT EXISTS idx_ad_campaigns_serving ON ad_campaigns (format, bid_cpm_cents DESC) WHERE status = 'active' AND deleted_at IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_ad_impressions_viewer_campaign ON ad_impressions (viewer_key, campaign_id, created_at DESC)",

		// One default payout account per creator
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payout_accounts_default ON payout_accounts (creator_id) WHERE is_default AND deleted_at IS NULL",

		// Payout worker scan
		"CREATE INDEX IF NOT EXISTS idx_payouts_pending ON payouts (next_attempt_at) WHERE status = 'pending'",

		// Commission attachment at calculation time
		"CREATE INDEX IF NOT EXISTS idx_commissions_unattached ON affiliate_commissions (referrer_id, approved_at) WHERE status = 'approved' AND earnings_period_id IS NULL",
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Health checks database connectivity
func Health() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}
