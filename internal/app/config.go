package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftbox-api/internal/domain/intent"
)

// Config holds the complete application configuration, loadable from
// environment variables (GIFTBOX_ prefix), a .env file, flags, or YAML
// config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (GIFTBOX_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Razorpay    RazorpayConfig
	Auth        AuthConfig
	Delivery    DeliveryConfig
	Intent      IntentConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	CouponIndex CouponIndexConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// RazorpayConfig holds payment gateway credentials.
type RazorpayConfig struct {
	KeyID         string        `usage:"Razorpay key id"`
	KeySecret     string        `usage:"Razorpay key secret"`
	WebhookSecret string        `usage:"Razorpay webhook signing secret"`
	BaseURL       string        `default:"" usage:"Razorpay API base URL override"`
	Timeout       time.Duration `default:"15s" usage:"Razorpay API request timeout"`
}

// AuthConfig holds token and API key secrets.
type AuthConfig struct {
	JWTSecret    string `usage:"HS256 secret for customer bearer tokens"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing"`
}

// DeliveryConfig is the flat delivery fee table.
type DeliveryConfig struct {
	DiscountedCity string `default:"aligarh" usage:"City charged the discounted delivery fee"`
	DiscountedFee  string `default:"40" usage:"Delivery fee for the discounted city"`
	StandardFee    string `default:"80" usage:"Delivery fee for every other city"`
}

// Fees parses the configured fee table.
func (c DeliveryConfig) Fees() (intent.DeliveryFees, error) {
	discounted, err := decimal.NewFromString(c.DiscountedFee)
	if err != nil {
		return intent.DeliveryFees{}, errors.Wrap(err, "parse discounted delivery fee")
	}
	standard, err := decimal.NewFromString(c.StandardFee)
	if err != nil {
		return intent.DeliveryFees{}, errors.Wrap(err, "parse standard delivery fee")
	}
	return intent.DeliveryFees{
		DiscountedCity: c.DiscountedCity,
		DiscountedFee:  discounted,
		StandardFee:    standard,
	}, nil
}

// IntentConfig controls payment intent retention.
type IntentConfig struct {
	TTL           time.Duration `default:"15m" usage:"Lifetime of an unconfirmed payment intent"`
	SweepInterval time.Duration `default:"5m" usage:"Interval between expired intent sweeps"`
}

// RedisConfig enables the distributed confirmation lock. Empty Addr disables it.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address for confirmation locks"`
	Password string        `default:"" usage:"Redis password"`
	LockTTL  time.Duration `default:"30s" usage:"Confirmation lock TTL"`
}

// KafkaConfig enables order event publishing. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers for order events"`
	Topic   string   `default:"giftbox.orders" usage:"Kafka topic for order events"`
}

// CouponIndexConfig controls the coupon code bloom filter.
type CouponIndexConfig struct {
	Refresh time.Duration `default:"1m" usage:"Coupon index refresh interval"`
	FPRate  float64       `default:"0.001" usage:"Coupon index false positive rate" flag:"coupon-index-fp-rate"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from a .env file, environment variables,
// YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "GIFTBOX",
		Files:     []string{"config.yaml", "/etc/giftbox/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set GIFTBOX_DATABASE_URL or DATABASE_URL")
	case c.Razorpay.KeyID == "" || c.Razorpay.KeySecret == "":
		return errors.New("razorpay credentials are required: set GIFTBOX_RAZORPAY_KEY_ID and GIFTBOX_RAZORPAY_KEY_SECRET")
	case c.Auth.JWTSecret == "":
		return errors.New("JWT secret is required: set GIFTBOX_AUTH_JWT_SECRET")
	}
	if _, err := c.Delivery.Fees(); err != nil {
		return err
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's GIFTBOX_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			c.Redis.Addr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
