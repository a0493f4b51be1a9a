// Package config loads runtime configuration from .env, an optional
// config.yaml and the process environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	OAuth         OAuthConfig         `mapstructure:"oauth"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Stripe        StripeConfig        `mapstructure:"stripe"`
	PayPal        PayPalConfig        `mapstructure:"paypal"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Earnings      EarningsConfig      `mapstructure:"earnings"`
	Payouts       PayoutsConfig       `mapstructure:"payouts"`
	Ads           AdsConfig           `mapstructure:"ads"`
	Affiliates    AffiliatesConfig    `mapstructure:"affiliates"`
	Import        ImportConfig        `mapstructure:"import"`
	Views         ViewsConfig         `mapstructure:"views"`
	Embed         EmbedConfig         `mapstructure:"embed"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	Environment     string        `mapstructure:"environment" validate:"oneof=development staging production test"`
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	WebURL          string        `mapstructure:"web_url"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// DSN returns DATABASE_URL when set, otherwise a key/value DSN built from parts
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
	if d.Password != "" {
		dsn += " password=" + d.Password
	}
	return dsn
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret" validate:"required,min=16"`
	TTL    time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

type OAuthConfig struct {
	GoogleClientID     string `mapstructure:"google_client_id"`
	GoogleClientSecret string `mapstructure:"google_client_secret"`
	RedirectBaseURL    string `mapstructure:"redirect_base_url"`
	TOTPIssuer         string `mapstructure:"totp_issuer"`
}

type AWSConfig struct {
	Region         string        `mapstructure:"region"`
	S3Bucket       string        `mapstructure:"s3_bucket"`
	UploadURLTTL   time.Duration `mapstructure:"upload_url_ttl" validate:"gt=0"`
	PlaybackURLTTL time.Duration `mapstructure:"playback_url_ttl" validate:"gt=0"`
	SESFromEmail   string        `mapstructure:"ses_from_email"`
	SESFromName    string        `mapstructure:"ses_from_name"`
}

type StripeConfig struct {
	SecretKey          string `mapstructure:"secret_key"`
	WebhookSecret      string `mapstructure:"webhook_secret"`
	CheckoutSuccessURL string `mapstructure:"checkout_success_url"`
	CheckoutCancelURL  string `mapstructure:"checkout_cancel_url"`
	ConnectReturnURL   string `mapstructure:"connect_return_url"`
	ConnectRefreshURL  string `mapstructure:"connect_refresh_url"`
}

// Enabled reports whether Stripe credentials are configured
func (s StripeConfig) Enabled() bool {
	return s.SecretKey != ""
}

type PayPalConfig struct {
	ClientID          string  `mapstructure:"client_id"`
	ClientSecret      string  `mapstructure:"client_secret"`
	BaseURL           string  `mapstructure:"base_url" validate:"required,url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
}

// Enabled reports whether PayPal credentials are configured
func (p PayPalConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type ElasticsearchConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Endpoint     string  `mapstructure:"endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
}

// EarningsConfig holds the creator revenue rates. Amounts are in cents,
// shares are fractions in [0,1].
type EarningsConfig struct {
	ViewRatePerThousandCents       int64   `mapstructure:"view_rate_per_thousand_cents" validate:"gte=0"`
	EngagementRatePerThousandCents int64   `mapstructure:"engagement_rate_per_thousand_cents" validate:"gte=0"`
	SubscriptionPlatformFee        float64 `mapstructure:"subscription_platform_fee" validate:"gte=0,lte=1"`
	AdRevenueShare                 float64 `mapstructure:"ad_revenue_share" validate:"gte=0,lte=1"`
	Currency                       string  `mapstructure:"currency" validate:"len=3"`
	Workers                        int     `mapstructure:"workers" validate:"gte=1"`
}

type PayoutsConfig struct {
	MinimumCents int64         `mapstructure:"minimum_cents" validate:"gte=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1"`
	BatchSize    int           `mapstructure:"batch_size" validate:"gte=1"`
	StuckAfter   time.Duration `mapstructure:"stuck_after" validate:"gte=0"` // processing longer than this is requeued
}

type AdsConfig struct {
	DefaultFrequencyCap int           `mapstructure:"default_frequency_cap" validate:"gte=0"`
	FrequencyWindow     time.Duration `mapstructure:"frequency_window" validate:"gt=0"`
}

type AffiliatesConfig struct {
	CommissionRate   float64       `mapstructure:"commission_rate" validate:"gte=0,lte=1"`
	CommissionWindow time.Duration `mapstructure:"commission_window"`
	CookieTTL        time.Duration `mapstructure:"cookie_ttl"`
	LandingPath      string        `mapstructure:"landing_path"`
}

type ImportConfig struct {
	Workers     int           `mapstructure:"workers" validate:"gte=1"`
	MaxBytes    int64         `mapstructure:"max_bytes" validate:"gt=0"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	Timeout     time.Duration `mapstructure:"timeout"`
	TempDir     string        `mapstructure:"temp_dir"`
}

type ViewsConfig struct {
	DedupWindow time.Duration `mapstructure:"dedup_window" validate:"gt=0"`
}

type EmbedConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type SchedulerConfig struct {
	EarningsInterval time.Duration `mapstructure:"earnings_interval" validate:"gt=0"`
	PayoutInterval   time.Duration `mapstructure:"payout_interval" validate:"gt=0"`
	ImportInterval   time.Duration `mapstructure:"import_interval" validate:"gt=0"`
	AlertsInterval   time.Duration `mapstructure:"alerts_interval" validate:"gt=0"`
}

// IsProduction reports whether the server runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8787")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.base_url", "http://localhost:8787")
	v.SetDefault("server.web_url", "http://localhost:3000")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "vidlayer.log")
	v.SetDefault("log.console", true)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "vidlayer")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", 24*time.Hour)

	v.SetDefault("oauth.google_client_id", "")
	v.SetDefault("oauth.google_client_secret", "")
	v.SetDefault("oauth.redirect_base_url", "http://localhost:8787")
	v.SetDefault("oauth.totp_issuer", "Vidlayer")

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.s3_bucket", "vidlayer-videos")
	v.SetDefault("aws.upload_url_ttl", 15*time.Minute)
	v.SetDefault("aws.playback_url_ttl", 6*time.Hour)
	v.SetDefault("aws.ses_from_email", "no-reply@vidlayer.io")
	v.SetDefault("aws.ses_from_name", "Vidlayer")

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.checkout_success_url", "http://localhost:3000/subscriptions/success")
	v.SetDefault("stripe.checkout_cancel_url", "http://localhost:3000/subscriptions/cancel")
	v.SetDefault("stripe.connect_return_url", "http://localhost:3000/payouts/connected")
	v.SetDefault("stripe.connect_refresh_url", "http://localhost:3000/payouts/refresh")

	v.SetDefault("paypal.client_id", "")
	v.SetDefault("paypal.client_secret", "")
	v.SetDefault("paypal.base_url", "https://api-m.sandbox.paypal.com")
	v.SetDefault("paypal.requests_per_second", 5.0)

	v.SetDefault("elasticsearch.enabled", false)
	v.SetDefault("elasticsearch.url", "http://localhost:9200")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "vidlayer")
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.sampling_rate", 0.1)

	v.SetDefault("earnings.view_rate_per_thousand_cents", 250)
	v.SetDefault("earnings.engagement_rate_per_thousand_cents", 500)
	v.SetDefault("earnings.subscription_platform_fee", 0.20)
	v.SetDefault("earnings.ad_revenue_share", 0.55)
	v.SetDefault("earnings.currency", "usd")
	v.SetDefault("earnings.workers", 4)

	v.SetDefault("payouts.minimum_cents", 5000)
	v.SetDefault("payouts.max_attempts", 3)
	v.SetDefault("payouts.batch_size", 50)
	v.SetDefault("payouts.stuck_after", "15m")

	v.SetDefault("ads.default_frequency_cap", 3)
	v.SetDefault("ads.frequency_window", 24*time.Hour)

	v.SetDefault("affiliates.commission_rate", 0.20)
	v.SetDefault("affiliates.commission_window", 365*24*time.Hour)
	v.SetDefault("affiliates.cookie_ttl", 30*24*time.Hour)
	v.SetDefault("affiliates.landing_path", "/")

	v.SetDefault("import.workers", 2)
	v.SetDefault("import.max_bytes", int64(2<<30))
	v.SetDefault("import.max_attempts", 3)
	v.SetDefault("import.timeout", 30*time.Minute)
	v.SetDefault("import.temp_dir", "")

	v.SetDefault("views.dedup_window", 30*time.Minute)

	v.SetDefault("embed.enabled", true)

	v.SetDefault("scheduler.earnings_interval", time.Hour)
	v.SetDefault("scheduler.payout_interval", 10*time.Minute)
	v.SetDefault("scheduler.import_interval", 5*time.Minute)
	v.SetDefault("scheduler.alerts_interval", time.Minute)
}

// Load reads configuration. configDirs are searched for config.yaml; the
// current directory is always searched.
func Load(configDirs ...string) (*Config, error) {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range configDirs {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsProduction() && !c.Stripe.Enabled() {
		return errors.New("invalid configuration: stripe.secret_key is required in production")
	}
	return nil
}
