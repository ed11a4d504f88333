package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (BAKERY_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BAKERY_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr   string `default:"" usage:"Redis address for webhook dedup and rate limiting; empty disables both" flag:"redis-addr"`
	PublicURL   string `default:"" usage:"Externally reachable base URL, used for gateway callbacks" flag:"public-url"`
	Kafka       KafkaConfig
	Auth        AuthConfig
	Gateway     GatewayConfig
	Stock       StockConfig
	Reaper      ReaperConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// KafkaConfig controls the order notification producer.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers; empty logs notifications instead"`
	Topic   string   `default:"order.notifications" usage:"Notification topic"`
	Buffer  int      `default:"256" usage:"Queued notifications before new ones are dropped"`
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string        `usage:"HS256 secret for bearer tokens (BAKERY_AUTH_JWT_SECRET)" flag:"jwt-secret"`
	TokenTTL  time.Duration `default:"24h" usage:"Lifetime of issued tokens"`
}

// GatewayConfig controls the payment gateway client. An empty AccessToken
// disables online payments.
type GatewayConfig struct {
	BaseURL       string        `default:"https://api.mercadopago.com" usage:"Gateway API base URL"`
	AccessToken   string        `usage:"Gateway access token" flag:"gateway-token"`
	WebhookSecret string        `usage:"Secret for webhook x-signature verification" flag:"webhook-secret"`
	Currency      string        `default:"ARS" usage:"Currency for checkout items"`
	Timeout       time.Duration `default:"10s" usage:"Gateway request timeout"`
	SignatureAge  time.Duration `default:"5m" usage:"Maximum age of a signed webhook timestamp; 0 disables the check"`
}

// StockConfig tunes reservations and validation.
type StockConfig struct {
	ReservationTTL    time.Duration `default:"15m" usage:"Lifetime of a checkout stock hold"`
	LowStockThreshold int           `default:"5" usage:"Units at or below which a low-stock warning is raised"`
}

// ReaperConfig controls the abandoned-order sweep.
type ReaperConfig struct {
	Enabled              bool          `default:"true" usage:"Run the periodic sweep in this process"`
	Interval             time.Duration `default:"30m" usage:"Time between sweeps"`
	DraftTTL             time.Duration `default:"15m" usage:"Age after which draft orders are deleted"`
	PendingTTL           time.Duration `default:"24h" usage:"Age after which unpaid pending orders are cancelled"`
	ReservationRetention time.Duration `default:"1h" usage:"How long expired holds are kept before compaction"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BAKERY",
		Files:     []string{"config.yaml", "/etc/bakery/config.yaml"},
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
		return errors.New("database URL is required: set BAKERY_DATABASE_URL or DATABASE_URL")
	case c.Gateway.AccessToken != "" && c.Gateway.WebhookSecret == "":
		return errors.New("webhook secret is required when the payment gateway is enabled")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's BAKERY_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisAddr == "" {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			c.RedisAddr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
