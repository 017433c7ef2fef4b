package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/rop-settlement/internal/gateway/bogus"
	"github.com/xenking/rop-settlement/internal/gateway/square"
)

// Config holds the complete application configuration, loadable from
// environment variables (ROP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (ROP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (ROP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Settlement   SettlementConfig
	Gateways     GatewaysConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// RedisConfig configures the per-order lock. Without a URL the server falls
// back to an in-process lock, which is only safe for a single replica.
type RedisConfig struct {
	URL      string        `usage:"Redis URL for the order lock (ROP_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	LockTTL  time.Duration `default:"2m" usage:"Order lock expiry" flag:"redis-lock-ttl"`
	LockWait time.Duration `default:"5s" usage:"Max wait for a busy order before 409" flag:"redis-lock-wait"`
}

// SettlementConfig controls how ROP events are applied to orders.
type SettlementConfig struct {
	ShipmentPrefix     string `default:"P" usage:"Prefix joined to package ids to form shipment numbers"`
	MethodName         string `default:"ROP" usage:"Advisory shipping method tagged on extracted shipments"`
	CostModel          string `default:"field" usage:"Shipment cost model: field or adjustment"`
	ShortShipValuation string `default:"unit_price" usage:"Short ship valuation: unit_price or none"`
	AutoCreateMethods  bool   `default:"true" usage:"Create missing advisory shipping methods"`
}

// GatewaysConfig selects payment gateways.
type GatewaysConfig struct {
	Default string        `usage:"Gateway for payments without a method: bogus or square"`
	Bogus   BogusConfig   `yaml:"bogus"`
	Square  square.Config `yaml:"square"`
}

// BogusConfig configures the in-memory gateway.
type BogusConfig struct {
	Enabled       bool `usage:"Register the bogus gateway (development only)"`
	CaptureAmount bool `default:"true" usage:"Bogus gateway captures partial amounts in one call"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
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
		EnvPrefix: "ROP",
		Files:     []string{"config.yaml", "/etc/rop/config.yaml"},
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
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set ROP_DATABASE_URL or DATABASE_URL")
	}
	if c.Gateways.Default == "" {
		return errors.New("default gateway is required: set ROP_GATEWAYS_DEFAULT to bogus or square")
	}
	if c.Gateways.Default != bogus.Name && c.Gateways.Default != square.Name {
		return errors.Errorf("unknown default gateway %q", c.Gateways.Default)
	}
	if c.Gateways.Default == bogus.Name && !c.Gateways.Bogus.Enabled {
		return errors.New("default gateway bogus is disabled")
	}
	if c.Gateways.Default == square.Name && c.Gateways.Square.AccessToken == "" {
		return errors.New("default gateway square requires an access token")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ROP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
