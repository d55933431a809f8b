package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// SiteURL is the content host's public URL, compared against licensed
	// URLs during license validation.
	SiteURL string

	WAAuthBaseURL  string
	WAAPIBaseURL   string
	WAClientKey    string
	WAClientSecret string
	// WARequestsPerSecond bounds outbound Wild Apricot calls.
	WARequestsPerSecond float64

	LicenseEndpoint string

	// EncryptionKey is the 32-byte secret protecting the refresh token at
	// rest, base64-encoded in the environment.
	EncryptionKey []byte

	// AllowedStatuses lists membership statuses permitted to view restricted
	// content; empty means any status.
	AllowedStatuses []string

	// SyncSchedule and LicenseRecheckSchedule are cron expressions.
	SyncSchedule           string
	LicenseRecheckSchedule string
	SyncLockTTL            time.Duration

	AdminToken   string
	RateLimitRPM int

	TelemetryEndpoint string
	TelemetryInsecure bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "wap-gateway"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		SiteURL: strings.TrimSpace(os.Getenv("SITE_URL")),

		WAAuthBaseURL:       getEnv("WA_AUTH_BASE_URL", "https://oauth.wildapricot.org"),
		WAAPIBaseURL:        getEnv("WA_API_BASE_URL", "https://api.wildapricot.org"),
		WAClientKey:         strings.TrimSpace(os.Getenv("WA_CLIENT_KEY")),
		WAClientSecret:      strings.TrimSpace(os.Getenv("WA_CLIENT_SECRET")),
		WARequestsPerSecond: getFloat("WA_REQUESTS_PER_SECOND", 5),

		LicenseEndpoint: getEnv("LICENSE_ENDPOINT", "https://newpathconsulting.com/wp-json/wawp/license/check"),

		AllowedStatuses: getList("ALLOWED_STATUSES", nil),

		SyncSchedule:           getEnv("SYNC_SCHEDULE", "@every 1h"),
		LicenseRecheckSchedule: getEnv("LICENSE_RECHECK_SCHEDULE", "@daily"),
		SyncLockTTL:            getDuration("SYNC_LOCK_TTL", 10*time.Minute),

		AdminToken:   strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		RateLimitRPM: getInt("RATE_LIMIT_RPM", 600),

		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SiteURL == "" {
		return Config{}, fmt.Errorf("SITE_URL is required")
	}
	if cfg.WAClientKey == "" || cfg.WAClientSecret == "" {
		return Config{}, fmt.Errorf("WA_CLIENT_KEY and WA_CLIENT_SECRET are required")
	}
	if cfg.AdminToken == "" {
		return Config{}, fmt.Errorf("ADMIN_TOKEN is required")
	}

	rawKey := strings.TrimSpace(os.Getenv("ENCRYPTION_KEY"))
	if rawKey == "" {
		return Config{}, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(rawKey)
	if err != nil {
		return Config{}, fmt.Errorf("ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return Config{}, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.EncryptionKey = key

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
