// Package config assembles runtime configuration from the environment so main
// stays lean. Validation happens eagerly: a misconfigured process refuses to
// boot instead of failing on its first request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	dErrors "consentgate/pkg/domain-errors"
)

// StorageKind selects the consent store adapter.
type StorageKind string

const (
	StorageLegacy   StorageKind = "legacy"
	StorageSealed   StorageKind = "sealed"
	StorageMemory   StorageKind = "memory"
	StorageSigned   StorageKind = "signed"
	StorageRedis    StorageKind = "redis"
	StoragePostgres StorageKind = "postgres"
)

var validStorageKinds = map[StorageKind]bool{
	StorageLegacy:   true,
	StorageSealed:   true,
	StorageMemory:   true,
	StorageSigned:   true,
	StorageRedis:    true,
	StoragePostgres: true,
}

var validSameSite = map[string]bool{"Lax": true, "Strict": true, "None": true}

// Cookie captures the consent cookie attributes.
type Cookie struct {
	Name       string
	ExpiryDays int
	Path       string
	Domain     string
	Secure     bool
	SameSite   string
}

// RedisConfig captures Redis connection settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig captures the optional event sink settings. An empty broker list
// disables the sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Config is the full runtime configuration.
type Config struct {
	Addr       string
	AdminToken string

	// Secret keys token HMACs, sealing, and JWT signing.
	Secret string
	Host   string

	Storage     StorageKind
	PostgresDSN string
	Redis       RedisConfig
	Kafka       KafkaConfig

	Cookie            Cookie
	ShowOnlyOnce      bool
	RespectDoNotTrack bool
	AutoBlock         bool
	APIURL            string

	LogLevel  string
	LogFormat string

	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration

	ShutdownTimeout time.Duration
}

// FromEnv builds and validates a Config from CONSENTGATE_* environment
// variables.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:       envOr("CONSENTGATE_ADDR", ":8080"),
		AdminToken: os.Getenv("CONSENTGATE_ADMIN_TOKEN"),
		Secret:     os.Getenv("CONSENTGATE_SECRET"),
		Host:       envOr("CONSENTGATE_HOST", "localhost"),

		Storage:     StorageKind(envOr("CONSENTGATE_STORAGE", string(StorageSealed))),
		PostgresDSN: os.Getenv("CONSENTGATE_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("CONSENTGATE_REDIS_URL"),
			PoolSize:     envInt("CONSENTGATE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CONSENTGATE_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("CONSENTGATE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CONSENTGATE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CONSENTGATE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("CONSENTGATE_KAFKA_BROKERS")),
			Topic:   envOr("CONSENTGATE_KAFKA_TOPIC", "consent-events"),
		},

		Cookie: Cookie{
			Name:       envOr("CONSENTGATE_COOKIE_NAME", "cg_cookie_consent"),
			ExpiryDays: envInt("CONSENTGATE_COOKIE_EXPIRY_DAYS", 365),
			Path:       envOr("CONSENTGATE_COOKIE_PATH", "/"),
			Domain:     os.Getenv("CONSENTGATE_COOKIE_DOMAIN"),
			Secure:     envBool("CONSENTGATE_COOKIE_SECURE", true),
			SameSite:   envOr("CONSENTGATE_COOKIE_SAMESITE", "Lax"),
		},
		ShowOnlyOnce:      envBool("CONSENTGATE_SHOW_ONLY_ONCE", true),
		RespectDoNotTrack: envBool("CONSENTGATE_RESPECT_DNT", false),
		AutoBlock:         envBool("CONSENTGATE_AUTO_BLOCK", true),
		APIURL:            os.Getenv("CONSENTGATE_API_URL"),

		LogLevel:  envOr("CONSENTGATE_LOG_LEVEL", "info"),
		LogFormat: envOr("CONSENTGATE_LOG_FORMAT", "json"),

		CleanupInterval: envDuration("CONSENTGATE_CLEANUP_INTERVAL", time.Hour),
		CleanupMaxAge:   envDuration("CONSENTGATE_CLEANUP_MAX_AGE", 0),

		ShutdownTimeout: envDuration("CONSENTGATE_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if cfg.CleanupMaxAge == 0 {
		cfg.CleanupMaxAge = time.Duration(cfg.Cookie.ExpiryDays) * 24 * time.Hour
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the rest of the system would only notice
// mid-request.
func (c Config) Validate() error {
	if !validStorageKinds[c.Storage] {
		return dErrors.New(dErrors.CodeInvalidConfig, fmt.Sprintf("unknown storage kind %q", c.Storage))
	}
	if !validSameSite[c.Cookie.SameSite] {
		return dErrors.New(dErrors.CodeInvalidConfig, fmt.Sprintf("invalid cookie samesite %q", c.Cookie.SameSite))
	}
	if c.Cookie.Name == "" {
		return dErrors.New(dErrors.CodeInvalidConfig, "cookie name cannot be empty")
	}
	if c.Cookie.ExpiryDays <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "cookie expiry must be positive")
	}
	if c.Secret == "" {
		return dErrors.New(dErrors.CodeInvalidConfig, "CONSENTGATE_SECRET is required")
	}
	if c.Storage == StoragePostgres && c.PostgresDSN == "" {
		return dErrors.New(dErrors.CodeInvalidConfig, "postgres storage requires CONSENTGATE_POSTGRES_DSN")
	}
	if c.Storage == StorageRedis && c.Redis.URL == "" {
		return dErrors.New(dErrors.CodeInvalidConfig, "redis storage requires CONSENTGATE_REDIS_URL")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
