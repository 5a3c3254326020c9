package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (GALLERY_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (GALLERY_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Gateway     GatewayConfig
	Mail        MailConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// GatewayConfig holds the payment processor credentials.
type GatewayConfig struct {
	BaseURL    string        `default:"" usage:"Processor API base URL (empty = sandbox)" flag:"gateway-url"`
	MerchantID string        `usage:"Processor merchant ID" flag:"merchant-id"`
	PublicKey  string        `usage:"Processor public key" flag:"gateway-public-key"`
	PrivateKey string        `usage:"Processor private key" flag:"gateway-private-key"`
	Timeout    time.Duration `default:"30s" usage:"Processor request timeout" flag:"gateway-timeout"`
}

// MailConfig holds SMTP delivery settings. An empty Addr disables email
// entirely; transitions then run without notifications.
type MailConfig struct {
	Addr         string `default:"" usage:"SMTP server host:port (empty = email disabled)" flag:"smtp-addr"`
	Username     string `usage:"SMTP username" flag:"smtp-user"`
	Password     string `usage:"SMTP password" flag:"smtp-password"`
	Sender       string `default:"orders@gallery.local" usage:"From address for order emails"`
	AdminEmail   string `default:"" usage:"Admin notification address (empty = no admin emails)" flag:"admin-email"`
	AdminName    string `default:"Gallery staff" usage:"Admin display name" flag:"admin-name"`
	FrontendRoot string `default:"" usage:"Storefront base URL used in email links" flag:"frontend-root"`
}

// RateLimitConfig controls the per-client request limiter.
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

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "GALLERY",
		Files:     []string{"config.yaml", "/etc/gallery/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set GALLERY_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's GALLERY_-prefixed configuration.
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
