// Package config loads collabhubd's settings from the environment
// (spec.md §6), following the teacher's os.Getenv-with-fallback style
// rather than a struct-tag binding library: the corpus's own server
// entrypoint reads REDIS_ADDR/DATABASE_URL the same way.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named in spec.md §6.
type Config struct {
	BinaryBindAddr string
	JSONBindAddr   string
	EnableBinary   bool
	EnableJSON     bool
	LogLevel       string

	SessionExpiryThreshold time.Duration
	SweeperInterval        time.Duration
	DocumentSweepInterval  time.Duration
	DocumentTTL            time.Duration
	SnapshotInterval       time.Duration

	RedisAddr   string
	DatabaseURL string
}

// FromEnv reads Config from the process environment, falling back to
// spec.md's defaults for anything unset.
func FromEnv() Config {
	return Config{
		BinaryBindAddr: envOr("COLLABHUB_BINARY_ADDR", "[::]:8081"),
		JSONBindAddr:   envOr("COLLABHUB_JSON_ADDR", "[::]:8080"),
		EnableBinary:   envBoolOr("COLLABHUB_ENABLE_BINARY", true),
		EnableJSON:     envBoolOr("COLLABHUB_ENABLE_JSON", true),
		LogLevel:       envOr("COLLABHUB_LOG_LEVEL", "info"),

		SessionExpiryThreshold: envDurationOr("COLLABHUB_SESSION_EXPIRY", 120*time.Second),
		SweeperInterval:        envDurationOr("COLLABHUB_SWEEPER_INTERVAL", 30*time.Second),
		DocumentSweepInterval:  envDurationOr("COLLABHUB_DOCUMENT_SWEEP_INTERVAL", 300*time.Second),
		DocumentTTL:            envDurationOr("COLLABHUB_DOCUMENT_TTL", 600*time.Second),
		SnapshotInterval:       envDurationOr("COLLABHUB_SNAPSHOT_INTERVAL", 60*time.Second),

		RedisAddr:   envOr("REDIS_ADDR", ""),
		DatabaseURL: envOr("DATABASE_URL", ""),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
