package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
	"github.com/xenking/kart-checkout/pkg/ratelimit"
)

// Supported payment gateways.
const (
	GatewayRazorpay = "razorpay"
	GatewayStripe   = "stripe"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	DBMaxConns  int32  `default:"10" usage:"Maximum PostgreSQL pool connections" flag:"db-max-conns"`

	WebhookSecret        string   `usage:"HMAC secret of gateway webhook deliveries" flag:"webhook-secret"`
	ClientCallbackSecret string   `usage:"HMAC secret of client payment callbacks (razorpay)" flag:"client-callback-secret"`
	AllowedOrigins       []string `usage:"Storefront origins accepted on browser-facing routes" flag:"allowed-origins"`
	TrustedProxies       []string `usage:"Proxy addresses or CIDRs whose X-Forwarded-For is trusted" flag:"trusted-proxies"`

	GSTRate               string        `default:"0.18" usage:"Tax rate as a decimal fraction" flag:"gst-rate"`
	TaxMode               string        `default:"inclusive" usage:"Tax mode: inclusive or additive" flag:"tax-mode"`
	FreeShippingThreshold int64         `default:"49900" usage:"Order value in minor units above which shipping is free" flag:"free-shipping-threshold"`
	FlatShippingFee       int64         `default:"4900" usage:"Shipping fee in minor units below the threshold" flag:"flat-shipping-fee"`
	MaxCartQuantity       int           `default:"10" usage:"Largest accepted quantity of one cart line" flag:"max-cart-quantity"`
	Currency              string        `default:"INR" usage:"ISO 4217 order currency"`
	GatewayTimeout        time.Duration `default:"10s" usage:"Payment gateway request timeout" flag:"gateway-timeout"`

	Gateway   GatewayConfig
	Session   SessionConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Promo     PromoConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// GatewayConfig selects and authenticates the payment gateway.
type GatewayConfig struct {
	Provider          string `default:"razorpay" usage:"Payment gateway: razorpay or stripe"`
	RazorpayKeyID     string `usage:"Razorpay key id" flag:"razorpay-key-id"`
	RazorpayKeySecret string `usage:"Razorpay key secret" flag:"razorpay-key-secret"`
	RazorpayBaseURL   string `usage:"Razorpay API base URL override" flag:"razorpay-base-url"`
	StripeAPIKey      string `usage:"Stripe secret API key" flag:"stripe-api-key"`
}

// SessionConfig controls session token validation.
type SessionConfig struct {
	Secret     string `usage:"HMAC secret of session tokens; empty treats every request as anonymous" flag:"session-secret"`
	CookieName string `default:"session" usage:"Session cookie name" flag:"session-cookie"`
}

// RedisConfig configures the shared rate limit store. An empty address keeps
// buckets in process memory.
type RedisConfig struct {
	Addr     string `usage:"Redis address (host:port)" flag:"redis-addr"`
	Password string `usage:"Redis password" flag:"redis-password"`
	DB       int    `default:"0" usage:"Redis database number" flag:"redis-db"`
	Prefix   string `default:"checkout:ratelimit:" usage:"Key prefix of rate limit buckets" flag:"redis-prefix"`
}

// KafkaConfig configures order event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic   string   `default:"checkout.orders" usage:"Topic of order payment events" flag:"kafka-topic"`
}

// PromoConfig controls the promocode prefilter.
type PromoConfig struct {
	RefreshInterval time.Duration `default:"5m" usage:"Promocode filter refresh interval" flag:"promo-refresh-interval"`
}

// RateLimitConfig holds the fixed-window budget of every route.
type RateLimitConfig struct {
	QuotePoints   int           `default:"60" usage:"Quote requests per window"`
	QuoteWindow   time.Duration `default:"1m" usage:"Quote rate limit window"`
	OrderPoints   int           `default:"10" usage:"Order requests per window"`
	OrderWindow   time.Duration `default:"1m" usage:"Order rate limit window"`
	VerifyPoints  int           `default:"20" usage:"Verify requests per window"`
	VerifyWindow  time.Duration `default:"1m" usage:"Verify rate limit window"`
	WebhookPoints int           `default:"300" usage:"Webhook requests per window"`
	WebhookWindow time.Duration `default:"1m" usage:"Webhook rate limit window"`
}

// Quote returns the quote route budget.
func (c RateLimitConfig) Quote() ratelimit.Rule {
	return ratelimit.Rule{Points: c.QuotePoints, Window: c.QuoteWindow}
}

// Order returns the order route budget.
func (c RateLimitConfig) Order() ratelimit.Rule {
	return ratelimit.Rule{Points: c.OrderPoints, Window: c.OrderWindow}
}

// Verify returns the verify route budget.
func (c RateLimitConfig) Verify() ratelimit.Rule {
	return ratelimit.Rule{Points: c.VerifyPoints, Window: c.VerifyWindow}
}

// Webhook returns the webhook route budget.
func (c RateLimitConfig) Webhook() ratelimit.Rule {
	return ratelimit.Rule{Points: c.WebhookPoints, Window: c.WebhookWindow}
}

// CORSConfig controls Cross-Origin Resource Sharing headers. Without
// explicit origins the allowed storefront origins are used.
type CORSConfig struct {
	Origins []string `usage:"Allowed CORS origins"`
	MaxAge  int      `default:"86400" usage:"Preflight cache duration in seconds" flag:"cors-max-age"`
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
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first missing or malformed option.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if c.WebhookSecret == "" {
		return errors.New("webhook secret is required: set CHECKOUT_WEBHOOK_SECRET")
	}
	if _, err := c.TaxRate(); err != nil {
		return err
	}
	if _, err := checkout.ParseTaxMode(c.TaxMode); err != nil {
		return errors.Wrap(err, "tax mode")
	}
	if c.MaxCartQuantity < 1 {
		return errors.Errorf("max cart quantity must be positive, got %d", c.MaxCartQuantity)
	}
	if _, err := httpmiddleware.NewClientIPResolver(c.TrustedProxies); err != nil {
		return err
	}
	if c.FreeShippingThreshold < 0 || c.FlatShippingFee < 0 {
		return errors.New("shipping amounts must not be negative")
	}
	if len(strings.TrimSpace(c.Currency)) != 3 {
		return errors.Errorf("currency must be an ISO 4217 code, got %q", c.Currency)
	}

	switch c.Gateway.Provider {
	case GatewayRazorpay:
		if c.Gateway.RazorpayKeyID == "" || c.Gateway.RazorpayKeySecret == "" {
			return errors.New("razorpay key id and secret are required")
		}
		if c.ClientCallbackSecret == "" {
			return errors.New("client callback secret is required: set CHECKOUT_CLIENT_CALLBACK_SECRET")
		}
	case GatewayStripe:
		if c.Gateway.StripeAPIKey == "" {
			return errors.New("stripe api key is required")
		}
	default:
		return errors.Errorf("unknown payment gateway %q", c.Gateway.Provider)
	}
	return nil
}

// TaxRate parses GSTRate. The rate must lie in [0, 1).
func (c *Config) TaxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.GSTRate))
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse gst rate %q", c.GSTRate)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.Errorf("gst rate must be in [0, 1), got %s", rate)
	}
	return rate, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	if len(c.CORS.Origins) == 0 {
		c.CORS.Origins = c.AllowedOrigins
	}
}
