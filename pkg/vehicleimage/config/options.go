package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithOwnerTable sets the table OwnerExists checks
func WithOwnerTable(table string) Option {
	return func(c *ServerConfig) error {
		if table == "" {
			return fmt.Errorf("owner table cannot be empty")
		}
		c.OwnerTable = table
		return nil
	}
}

// WithDevVehicles seeds the in-memory owner directory
func WithDevVehicles(ids ...int64) Option {
	return func(c *ServerConfig) error {
		c.DevVehicleIDs = append(c.DevVehicleIDs, ids...)
		return nil
	}
}

// WithMemoryStorage selects the in-memory object store
func WithMemoryStorage(bucket string) Option {
	return func(c *ServerConfig) error {
		c.Storage.Backend = "memory"
		if bucket != "" {
			c.Storage.Bucket = bucket
		}
		return nil
	}
}

// WithS3Storage selects the S3 object store
func WithS3Storage(storage StorageConfig) Option {
	return func(c *ServerConfig) error {
		if storage.Bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		storage.Backend = "s3"
		c.Storage = storage
		return nil
	}
}

// WithMinioStorage selects the MinIO object store
func WithMinioStorage(storage StorageConfig) Option {
	return func(c *ServerConfig) error {
		if storage.Endpoint == "" {
			return fmt.Errorf("minio endpoint cannot be empty")
		}
		if storage.Bucket == "" {
			return fmt.Errorf("minio bucket cannot be empty")
		}
		storage.Backend = "minio"
		c.Storage = storage
		return nil
	}
}

// WithURLTTLs sets the lifetimes of signed upload and download URLs
func WithURLTTLs(upload, download time.Duration) Option {
	return func(c *ServerConfig) error {
		if upload <= 0 || download <= 0 {
			return fmt.Errorf("signed URL lifetimes must be positive")
		}
		c.UploadURLTTL = upload
		c.DownloadURLTTL = download
		return nil
	}
}

// WithRedis enables the orphan cleanup queue
func WithRedis(addr, password string) Option {
	return func(c *ServerConfig) error {
		c.RedisAddr = addr
		c.RedisPassword = password
		return nil
	}
}

// WithLogLevel sets the slog level name (debug, info, warn, error)
func WithLogLevel(level string) Option {
	return func(c *ServerConfig) error {
		if _, err := parseLevel(level); err != nil {
			return err
		}
		c.LogLevel = level
		return nil
	}
}
