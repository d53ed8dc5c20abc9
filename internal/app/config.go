package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for relative product image paths" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Database     DatabaseConfig
	Gateway      GatewayConfig
	Checkout     CheckoutConfig
	Kafka        KafkaConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

type DatabaseConfig struct {
	MaxConns int `default:"20" usage:"Maximum pooled connections"`
}

// GatewayConfig configures the Mercado Pago client.
type GatewayConfig struct {
	BaseURL     string        `default:"https://api.mercadopago.com" usage:"Payment gateway API base URL"`
	AccessToken string        `usage:"Payment gateway access token"`
	Timeout     time.Duration `default:"10s" usage:"Timeout of a single gateway call"`
	Currency    string        `default:"BRL" usage:"Currency of preference items"`
}

// CheckoutConfig holds the URLs handed to the gateway with every preference.
type CheckoutConfig struct {
	SuccessURL      string `usage:"Where the buyer lands after an approved payment"`
	FailureURL      string `usage:"Where the buyer lands after a failed payment"`
	PendingURL      string `usage:"Where the buyer lands while the payment is pending"`
	NotificationURL string `usage:"Public URL of POST /api/payments/webhook"`
}

// KafkaConfig enables the order event outbox relay when Brokers is set.
type KafkaConfig struct {
	Brokers    []string      `usage:"Kafka bootstrap brokers; empty disables order events"`
	Topic      string        `default:"storefront.orders" usage:"Topic for order events"`
	BatchSize  int           `default:"100" usage:"Outbox rows relayed per tick"`
	Interval   time.Duration `default:"1s" usage:"Outbox poll interval"`
	Lease      time.Duration `default:"30s" usage:"How long a relay owns a claimed outbox row"`
	MaxRetries int           `default:"10" usage:"Publish attempts before an outbox row is left failed"`
}

// RedisConfig enables webhook deduplication when Addr is set.
type RedisConfig struct {
	Addr      string        `usage:"Redis address; empty disables notification dedupe"`
	Password  string        `usage:"Redis password"`
	DB        int           `default:"0" usage:"Redis database"`
	DedupeTTL time.Duration `default:"24h" usage:"How long settled payment ids are remembered"`
}

// RateLimitConfig controls the per-client token bucket.
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

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
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
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	case c.Gateway.AccessToken == "":
		return errors.New("gateway access token is required: set SHOP_GATEWAY_ACCESS_TOKEN")
	case c.Database.MaxConns <= 0:
		return errors.Errorf("database max conns must be positive, got %d", c.Database.MaxConns)
	}
	return nil
}

// applyPlatformDefaults maps DATABASE_URL and PORT, as set by hosting
// platforms, onto the SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
