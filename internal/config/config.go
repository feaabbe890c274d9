package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Rejection policies for orders linked to a rejected prescription.
const (
	RejectPolicyCancel = "cancel"
	RejectPolicyRetry  = "retry"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	AuthMode             string        `mapstructure:"AUTH_MODE"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir        string        `mapstructure:"MIGRATIONS_DIR"`
	JWTSecret            string        `mapstructure:"JWT_SECRET"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RejectPolicy         string        `mapstructure:"REJECT_POLICY"`
	ContactCountryCode   string        `mapstructure:"CONTACT_COUNTRY_CODE"`
	NotificationsEnabled bool          `mapstructure:"NOTIFICATIONS_ENABLED"`
	PrescriptionTTLHours int           `mapstructure:"PRESCRIPTION_TTL_HOURS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`
	UploadBodyLimit      string        `mapstructure:"UPLOAD_BODY_LIMIT"`
	CacheTTL             time.Duration `mapstructure:"CACHE_TTL"`
	MetricsEnabled       bool          `mapstructure:"METRICS_ENABLED"`
	TracingEnabled       bool          `mapstructure:"TRACING_ENABLED"`
	TraceSampleRate      float64       `mapstructure:"TRACE_SAMPLE_RATE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REJECT_POLICY", RejectPolicyCancel)
	v.SetDefault("CONTACT_COUNTRY_CODE", "234")
	v.SetDefault("NOTIFICATIONS_ENABLED", true)
	v.SetDefault("PRESCRIPTION_TTL_HOURS", 720)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	// The upload limit leaves multipart framing headroom over the 20MB
	// blob store cap.
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_BODY_LIMIT", "25M")
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("TRACING_ENABLED", true)
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("REJECT_POLICY")
	v.BindEnv("CONTACT_COUNTRY_CODE")
	v.BindEnv("NOTIFICATIONS_ENABLED")
	v.BindEnv("PRESCRIPTION_TTL_HOURS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("UPLOAD_BODY_LIMIT")
	v.BindEnv("CACHE_TTL")
	v.BindEnv("METRICS_ENABLED")
	v.BindEnv("TRACING_ENABLED")
	v.BindEnv("TRACE_SAMPLE_RATE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get admin access.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET or AUTH_ISSUER")
		log.Println("WARNING: before exposing this server.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - JWT_SECRET or AUTH_ISSUER set → "jwt"
//   - Otherwise → "none" (deployments behind an authenticating gateway)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.JWTSecret != "" || c.AuthIssuer != "" {
		return "jwt"
	}
	return "none"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "jwt" && mode != "none" {
		return fmt.Errorf("AUTH_MODE must be \"development\", \"jwt\", or \"none\", got %q", mode)
	}
	if mode == "jwt" && c.JWTSecret == "" && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_MODE=jwt requires JWT_SECRET or AUTH_ISSUER to be set")
	}

	if c.RejectPolicy != RejectPolicyCancel && c.RejectPolicy != RejectPolicyRetry {
		return fmt.Errorf("REJECT_POLICY must be %q or %q, got %q",
			RejectPolicyCancel, RejectPolicyRetry, c.RejectPolicy)
	}

	cc := c.ContactCountryCode
	if cc == "" || len(cc) > 3 {
		return fmt.Errorf("CONTACT_COUNTRY_CODE must be 1-3 digits, got %q", cc)
	}
	for _, r := range cc {
		if r < '0' || r > '9' {
			return fmt.Errorf("CONTACT_COUNTRY_CODE must be numeric, got %q", cc)
		}
	}

	if c.PrescriptionTTLHours <= 0 {
		return fmt.Errorf("PRESCRIPTION_TTL_HOURS must be positive, got %d", c.PrescriptionTTLHours)
	}

	return nil
}
