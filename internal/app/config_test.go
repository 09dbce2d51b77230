package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:                  "0.0.0.0:8080",
		DatabaseURL:           "postgres://localhost/checkout",
		WebhookSecret:         "whsec",
		ClientCallbackSecret:  "cbsec",
		GSTRate:               "0.18",
		TaxMode:               "inclusive",
		FreeShippingThreshold: 49900,
		FlatShippingFee:       4900,
		MaxCartQuantity:       10,
		Currency:              "INR",
		Gateway: GatewayConfig{
			Provider:          GatewayRazorpay,
			RazorpayKeyID:     "rzp_test",
			RazorpayKeySecret: "secret",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	base := validConfig()
	require.NoError(t, base.Validate())

	stripe := validConfig()
	stripe.Gateway = GatewayConfig{Provider: GatewayStripe, StripeAPIKey: "sk_test"}
	stripe.ClientCallbackSecret = ""
	require.NoError(t, stripe.Validate(), "stripe callbacks are checked against the api")

	proxied := validConfig()
	proxied.TrustedProxies = []string{"10.0.0.0/8", "192.168.1.5"}
	require.NoError(t, proxied.Validate())

	for _, tt := range []struct {
		name   string
		mutate func(c *Config)
	}{
		{"NoDatabase", func(c *Config) { c.DatabaseURL = "" }},
		{"NoWebhookSecret", func(c *Config) { c.WebhookSecret = "" }},
		{"NoCallbackSecret", func(c *Config) { c.ClientCallbackSecret = "" }},
		{"BadRate", func(c *Config) { c.GSTRate = "eighteen" }},
		{"RateTooHigh", func(c *Config) { c.GSTRate = "1" }},
		{"NegativeRate", func(c *Config) { c.GSTRate = "-0.1" }},
		{"BadTaxMode", func(c *Config) { c.TaxMode = "exclusive" }},
		{"ZeroQuantity", func(c *Config) { c.MaxCartQuantity = 0 }},
		{"NegativeFee", func(c *Config) { c.FlatShippingFee = -1 }},
		{"BadCurrency", func(c *Config) { c.Currency = "RUPEE" }},
		{"UnknownGateway", func(c *Config) { c.Gateway.Provider = "paypal" }},
		{"BadTrustedProxy", func(c *Config) { c.TrustedProxies = []string{"proxy.local"} }},
		{"RazorpayWithoutSecret", func(c *Config) { c.Gateway.RazorpayKeySecret = "" }},
		{"StripeWithoutKey", func(c *Config) { c.Gateway = GatewayConfig{Provider: GatewayStripe} }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}

func TestConfig_TaxRate(t *testing.T) {
	c := validConfig()
	c.GSTRate = " 0.05 "
	rate, err := c.TaxRate()
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.05")))
}

func TestConfig_ApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")

	c := Config{Addr: "0.0.0.0:8080", AllowedOrigins: []string{"https://shop.example"}}
	c.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", c.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", c.Addr)
	assert.Equal(t, []string{"https://shop.example"}, c.CORS.Origins)

	explicit := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db", CORS: CORSConfig{Origins: []string{"*"}}}
	explicit.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", explicit.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", explicit.Addr)
	assert.Equal(t, []string{"*"}, explicit.CORS.Origins)
}
