package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv reads settings from the environment through the struct tags on
// ServerConfig. Unset variables keep the current value. Options applied after
// WithEnv take precedence over it.
//
// Database:
//
//	DATABASE_URL - empty or "memory" selects the in-memory repository,
//	               "postgres://" / "postgresql://" selects PostgreSQL
//	OWNER_TABLE  - table holding vehicles (default: "vehicles")
//
// Storage:
//
//	STORAGE_BACKEND - memory, s3 or minio (default: memory)
//	STORAGE_BUCKET, STORAGE_REGION, STORAGE_ENDPOINT, STORAGE_ACCESS_KEY_ID,
//	STORAGE_SECRET_ACCESS_KEY, STORAGE_USE_SSL, STORAGE_PATH_STYLE,
//	STORAGE_CREATE_BUCKET, STORAGE_CORS_ORIGINS (comma separated)
//
// Signed URLs: UPLOAD_URL_TTL (10m), DOWNLOAD_URL_TTL (15m).
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return applyDatabaseURL(c)
	}
}

// applyDatabaseURL derives the database type from DatabaseURL
func applyDatabaseURL(c *ServerConfig) error {
	dbURL := strings.TrimSpace(c.DatabaseURL)

	switch {
	case dbURL == "" || dbURL == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
	}
	return nil
}

// Usage returns the environment variable help text for the binaries
func Usage() string {
	var cfg ServerConfig
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
