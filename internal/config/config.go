// Package config loads all configuration for both services from environment
// variables. Secrets are read once at startup and never hot-swapped.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration shared by the auth and email
// services. Both read the same variables; each uses the slice it needs.
type Config struct {
	Env  string
	Port string

	DatabaseURL string
	MaxConns    int32

	// JWT signing material. Access and refresh use independent secrets.
	JWTAccessSecret     string
	JWTRefreshSecret    string
	AccessTokenExpires  time.Duration
	RefreshTokenExpires time.Duration

	// Out-of-band token signing and TTLs.
	EmailTokenSecret        string
	VerificationTokenExpiry time.Duration
	ResetTokenExpiry        time.Duration
	MagicLinkTokenExpiry    time.Duration

	SMTP SMTPConfig

	ClientURL       string
	AuthServiceURL  string
	EmailServiceURL string

	RefreshCookieName string
	AllowedOrigins    []string

	// Shared secret for the private /auth/internal/* endpoints.
	InternalAPISecret string

	AuditLogRetentionDays int
	SweepInterval         time.Duration
}

// SMTPConfig is the outbound mail transport configuration.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	Secure    bool
}

// Load reads configuration from the environment, applying documented defaults.
// It returns an error only for values that cannot be parsed; missing secrets
// are validated by the service mains, which know which ones they require.
func Load() (Config, error) {
	cfg := Config{
		Env:                   getEnv("APP_ENV", "development"),
		Port:                  getEnv("PORT", "8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		MaxConns:              int32(getEnvAsInt("DATABASE_MAX_CONNS", 20)),
		JWTAccessSecret:       os.Getenv("JWT_ACCESS_SECRET"),
		JWTRefreshSecret:      os.Getenv("JWT_REFRESH_SECRET"),
		EmailTokenSecret:      os.Getenv("EMAIL_TOKEN_SECRET"),
		ClientURL:             getEnv("CLIENT_URL", "http://localhost:3000"),
		AuthServiceURL:        getEnv("AUTH_SERVICE_URL", "http://localhost:8080"),
		EmailServiceURL:       getEnv("EMAIL_SERVICE_URL", "http://localhost:8081"),
		RefreshCookieName:     getEnv("REFRESH_COOKIE_NAME", "jid"),
		InternalAPISecret:     os.Getenv("INTERNAL_API_SECRET"),
		AuditLogRetentionDays: getEnvAsInt("AUDIT_LOG_RETENTION_DAYS", 90),
		SMTP: SMTPConfig{
			Host:      os.Getenv("SMTP_HOST"),
			Port:      getEnvAsInt("SMTP_PORT", 587),
			Username:  os.Getenv("SMTP_APP_USERNAME"),
			Password:  os.Getenv("SMTP_APP_PASSWORD"),
			FromEmail: os.Getenv("SMTP_FROM_EMAIL"),
			FromName:  getEnv("SMTP_FROM_NAME", "ZorgPoort Identity"),
			Secure:    getEnvAsBool("EMAIL_SECURE", true),
		},
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	var err error
	if cfg.AccessTokenExpires, err = getEnvAsDuration("ACCESS_TOKEN_EXPIRES", 15*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.RefreshTokenExpires, err = getEnvAsDuration("REFRESH_TOKEN_EXPIRES", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.VerificationTokenExpiry, err = getEnvAsDuration("VERIFICATION_TOKEN_EXPIRY", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.ResetTokenExpiry, err = getEnvAsDuration("RESET_TOKEN_EXPIRY", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.MagicLinkTokenExpiry, err = getEnvAsDuration("MAGIC_LINK_TOKEN_EXPIRY", 15*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = getEnvAsDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// IsProduction reports whether the process runs with production hardening
// (secure cookies, JSON logs).
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBool(name string, defaultVal bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvAsDuration parses time.ParseDuration syntax plus a day suffix, so
// operators can write REFRESH_TOKEN_EXPIRES=7d.
func getEnvAsDuration(name string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal, nil
	}
	if strings.HasSuffix(v, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(v, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q", name, v)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", name, v)
	}
	return d, nil
}
