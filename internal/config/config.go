// Package config loads fleetd's runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// requiredEnvVars are fatal to start without.
var requiredEnvVars = []string{
	"FLEET_STORAGE_DIR",
	"FLEET_LOG_DIR",
	"FLEET_DATABASE_URL",
}

// requiredPathEnvVars are created on disk if they don't already exist.
var requiredPathEnvVars = []string{
	"FLEET_STORAGE_DIR",
	"FLEET_LOG_DIR",
}

// Config is fleetd's process configuration, assembled entirely from
// environment variables. There is no config file: the domain has three
// mandatory settings and a handful of optional ones, not enough surface to
// warrant one.
type Config struct {
	StorageDir  string
	LogDir      string
	DatabaseURL string

	ListenAddr      string
	LogLevel        string
	LogFormat       string
	AllowedOrigins  []string
	JWTSecret       string
	RuntimeTokenTTL time.Duration
}

// Load reads and validates the configuration from the environment, creating
// any required directories that don't yet exist. It fails fast: a missing
// required variable is a startup error, not a deferred one.
func Load() (*Config, error) {
	var missing []string
	for _, name := range requiredEnvVars {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	for _, name := range requiredPathEnvVars {
		dir := os.Getenv(name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s (%s): %w", name, dir, err)
		}
	}

	cfg := &Config{
		StorageDir:      os.Getenv("FLEET_STORAGE_DIR"),
		LogDir:          os.Getenv("FLEET_LOG_DIR"),
		DatabaseURL:     os.Getenv("FLEET_DATABASE_URL"),
		ListenAddr:      envOr("FLEET_LISTEN_ADDR", ":8080"),
		LogLevel:        envOr("FLEET_LOG_LEVEL", "info"),
		LogFormat:       envOr("FLEET_LOG_FORMAT", "json"),
		JWTSecret:       os.Getenv("FLEET_JWT_SECRET"),
		RuntimeTokenTTL: 1 * time.Hour,
	}

	origins := envOr("FLEET_ALLOWED_ORIGINS", "*")
	for _, o := range strings.Split(origins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
