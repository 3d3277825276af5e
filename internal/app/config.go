package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (ANGOSTURA_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ANGOSTURA_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Gateway     GatewayConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// GatewayConfig controls the chat gateway session.
type GatewayConfig struct {
	Enabled bool `default:"true" usage:"Run the chat gateway session"`
	// URL is the address of the browser chat client.
	URL string `default:"https://web.whatsapp.com" usage:"Chat client URL"`
	// DataDir persists the browser profile so pairing survives restarts.
	DataDir  string  `default:"/var/lib/angostura/chat-profile" usage:"Browser profile directory" flag:"gateway-data-dir"`
	Headless bool    `default:"true" usage:"Run the browser headless"`
	SendRate float64 `default:"1" usage:"Outbound messages per second" flag:"gateway-send-rate"`
}

// NotifyConfig controls message normalization and delivery.
type NotifyConfig struct {
	CountryPrefix string `default:"52" usage:"Country prefix for bare national phone numbers" flag:"country-prefix"`
}

// RateLimitConfig controls the per-client API rate limiter.
type RateLimitConfig struct {
	RPS   float64 `default:"10" usage:"Sustained requests per second per client"`
	Burst int     `default:"30" usage:"Burst size per client"`
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
		EnvPrefix: "ANGOSTURA",
		Files:     []string{"config.yaml", "/etc/angostura/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set ANGOSTURA_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the ANGOSTURA_-prefixed
// configuration.
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
