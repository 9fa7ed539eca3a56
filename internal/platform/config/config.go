// Package config reads process-level settings from the environment.
// The throttle policy itself lives in internal/throttle/config.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	dErrors "throttleguard/pkg/domain-errors"
)

// Server captures process configuration.
type Server struct {
	Addr        string
	Environment string
	LogLevel    string

	// UpstreamURL is the application server throttled requests are proxied to.
	UpstreamURL string

	PolicyFile      string
	SecurityLogPath string

	// AdminJWTSecret verifies admin bearer tokens; admin routes are not mounted without it.
	AdminJWTSecret string
	TrustedProxies []string

	KafkaBrokers        string
	SecurityEventsTopic string

	RedisURL             string
	SecurityEventsStream string

	ShutdownTimeout time.Duration
}

// FromEnv loads .env when present and then reads environment variables.
func FromEnv() (Server, error) {
	// a missing .env is the normal case outside local development
	_ = godotenv.Load()

	cfg := Server{
		Addr:                 getEnv("THROTTLE_ADDR", ":8080"),
		Environment:          getEnv("ENVIRONMENT", "development"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		UpstreamURL:          getEnv("UPSTREAM_URL", "http://localhost:3000"),
		PolicyFile:           os.Getenv("THROTTLE_POLICY_FILE"),
		SecurityLogPath:      getEnv("SECURITY_LOG_PATH", "logs/security.log"),
		AdminJWTSecret:       os.Getenv("ADMIN_JWT_SECRET"),
		TrustedProxies:       splitList(os.Getenv("TRUSTED_PROXIES")),
		KafkaBrokers:         os.Getenv("KAFKA_BROKERS"),
		SecurityEventsTopic:  getEnv("SECURITY_EVENTS_TOPIC", "security-events"),
		RedisURL:             os.Getenv("REDIS_URL"),
		SecurityEventsStream: getEnv("SECURITY_EVENTS_STREAM", "security-events"),
		ShutdownTimeout:      10 * time.Second,
	}

	if raw := os.Getenv("SHUTDOWN_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Server{}, dErrors.New(dErrors.CodeConfiguration, "SHUTDOWN_TIMEOUT must be a positive duration")
		}
		cfg.ShutdownTimeout = d
	}
	if cfg.AdminJWTSecret != "" && len(cfg.AdminJWTSecret) < 32 {
		return Server{}, dErrors.New(dErrors.CodeConfiguration, "ADMIN_JWT_SECRET must be at least 32 bytes")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
