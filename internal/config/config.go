// Package config loads the service's environment-driven configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults mirror the pagination/pool/timeout constants the rest of the
// service assumes when an environment variable is absent.
const (
	DefaultPageSize     = 20
	MaxPageSize         = 200
	DefaultRPCTimeout   = 30 * time.Second
	DefaultJobCeiling   = time.Hour
	DefaultStatsTTL     = 5 * time.Minute
	DefaultCheckpointDB = "openthreat-runs.db"
)

// Config is the full process configuration, populated from environment
// variables at startup. There is no config file; every field here has an
// environment variable backing it, with a default applied when unset.
type Config struct {
	DatabaseURL string
	RedisURL    string

	NVDAPIKey string

	RateLimitPerMinute int
	RateLimitPerHour   int
	RateLimitWhitelist []string

	AllowedOrigins []string

	LogLevel string
	LogFile  string

	WorkersPerInstance int
	BackendInstances   int
	CeleryWorkers      int

	// CheckpointDBPath is where the local bbolt-backed job-run store lives.
	CheckpointDBPath string

	// ListenAddr is the read API's bind address.
	ListenAddr string
}

// Load reads Config from the process environment, applying defaults for
// anything unset.
func Load() *Config {
	c := &Config{
		DatabaseURL:        getenv("DATABASE_URL", "postgres://localhost:5432/openthreat?sslmode=disable"),
		RedisURL:           getenv("REDIS_URL", "redis://localhost:6379/0"),
		NVDAPIKey:          os.Getenv("NVD_API_KEY"),
		RateLimitPerMinute: getenvInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitPerHour:   getenvInt("RATE_LIMIT_PER_HOUR", 1000),
		RateLimitWhitelist: getenvList("RATE_LIMIT_WHITELIST"),
		AllowedOrigins:     getenvList("ALLOWED_ORIGINS"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogFile:            os.Getenv("LOG_FILE"),
		WorkersPerInstance: getenvInt("WORKERS_PER_INSTANCE", 4),
		BackendInstances:   getenvInt("BACKEND_INSTANCES", 1),
		CeleryWorkers:      getenvInt("CELERY_WORKERS", 2),
		CheckpointDBPath:   getenv("CHECKPOINT_DB_PATH", DefaultCheckpointDB),
		ListenAddr:         getenv("LISTEN_ADDR", ":8080"),
	}
	return c
}

// DBPoolSize derives the connection pool ceiling from instance/worker
// sizing: total request concurrency plus headroom.
func (c *Config) DBPoolSize() int {
	size := c.WorkersPerInstance*c.BackendInstances + c.CeleryWorkers + 5
	if size < 10 {
		return 10
	}
	return size
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
