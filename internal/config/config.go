package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	BaseURL          string        `mapstructure:"BASE_URL"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	GatewayURL       string        `mapstructure:"GATEWAY_URL"`
	GatewayTimeout   time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	GatewayJWTSecret string        `mapstructure:"GATEWAY_JWT_SECRET"`
	GatewayJWTIssuer string        `mapstructure:"GATEWAY_JWT_ISSUER"`
	SessionCacheTTL  time.Duration `mapstructure:"SESSION_CACHE_TTL"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("GATEWAY_TIMEOUT", "5s")
	v.SetDefault("SESSION_CACHE_TTL", "60s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")

	for _, key := range []string{
		"PORT", "ENV", "BASE_URL", "LOG_LEVEL",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
		"GATEWAY_URL", "GATEWAY_TIMEOUT", "GATEWAY_JWT_SECRET", "GATEWAY_JWT_ISSUER",
		"SESSION_CACHE_TTL", "CORS_ORIGINS", "REQUEST_TIMEOUT", "BODY_LIMIT",
	} {
		v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// the decode hook splits on commas but keeps surrounding spaces
	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.GatewayURL == "" {
		log.Println("WARNING: ENV=development without GATEWAY_URL: every FHIR request runs as tenant admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// GatewayEnabled reports whether requests are authenticated against the
// Gateway. Outside development this is always true after Validate.
func (c *Config) GatewayEnabled() bool {
	return c.GatewayURL != "" || c.GatewayJWTSecret != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL must be set when ENV=%q", c.Env)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", c.GatewayTimeout)
	}
	if c.SessionCacheTTL <= 0 {
		return fmt.Errorf("SESSION_CACHE_TTL must be positive, got %s", c.SessionCacheTTL)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}
	if c.GatewayJWTSecret != "" && len(c.GatewayJWTSecret) < 32 {
		return fmt.Errorf("GATEWAY_JWT_SECRET must be at least 32 bytes")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
