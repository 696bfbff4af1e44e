package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/cleanup"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/repo/memory"
	repopg "github.com/tendant/vehicle-images/pkg/vehicleimage/repo/postgres"
	memorystorage "github.com/tendant/vehicle-images/pkg/vehicleimage/storage/memory"
	miniostorage "github.com/tendant/vehicle-images/pkg/vehicleimage/storage/minio"
	s3storage "github.com/tendant/vehicle-images/pkg/vehicleimage/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		LogLevel:     "info",
		DatabaseType: "memory",
		OwnerTable:   "vehicles",
		Storage: StorageConfig{
			Backend: "memory",
			Bucket:  "vehicle-images",
			Region:  "us-east-1",
			UseSSL:  true,
		},
		UploadURLTTL:   vehicleimage.DefaultUploadTTL,
		DownloadURLTTL: vehicleimage.DefaultDownloadTTL,
	}
}

// ServerConfig represents configuration for the vehicle image service and its binaries
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // development, production, testing
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`

	// Database configuration
	DatabaseURL  string `env:"DATABASE_URL"`
	DatabaseType string // "memory", "postgres"; derived from DatabaseURL
	OwnerTable   string `env:"OWNER_TABLE" env-default:"vehicles"`

	// Vehicle ids known to the in-memory owner directory
	DevVehicleIDs []int64 `env:"DEV_VEHICLE_IDS" env-separator:","`

	Storage StorageConfig

	UploadURLTTL   time.Duration `env:"UPLOAD_URL_TTL" env-default:"10m"`
	DownloadURLTTL time.Duration `env:"DOWNLOAD_URL_TTL" env-default:"15m"`

	// Orphan cleanup queue; disabled when RedisAddr is empty
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Authentication boundary
	APIKeySHA256 string `env:"API_KEY_SHA256"`
	JWTSecret    string `env:"JWT_SECRET"`
}

// StorageConfig selects and configures the object store
type StorageConfig struct {
	Backend         string   `env:"STORAGE_BACKEND" env-default:"memory"` // memory, s3, minio
	Bucket          string   `env:"STORAGE_BUCKET" env-default:"vehicle-images"`
	Region          string   `env:"STORAGE_REGION" env-default:"us-east-1"`
	Endpoint        string   `env:"STORAGE_ENDPOINT"`
	AccessKeyID     string   `env:"STORAGE_ACCESS_KEY_ID"`
	SecretAccessKey string   `env:"STORAGE_SECRET_ACCESS_KEY"`
	UseSSL          bool     `env:"STORAGE_USE_SSL" env-default:"true"`
	PathStyle       bool     `env:"STORAGE_PATH_STYLE" env-default:"false"`
	CreateBucket    bool     `env:"STORAGE_CREATE_BUCKET" env-default:"false"`
	CORSOrigins     []string `env:"STORAGE_CORS_ORIGINS" env-separator:","`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.Storage.Backend {
	case "memory", "s3", "minio":
	default:
		return fmt.Errorf("unsupported storage backend type: %s", c.Storage.Backend)
	}

	if c.Storage.Backend == "minio" && c.Storage.Endpoint == "" {
		return errors.New("storage endpoint is required for minio")
	}

	if c.Storage.Bucket == "" {
		return errors.New("storage bucket is required")
	}

	if c.UploadURLTTL <= 0 || c.DownloadURLTTL <= 0 {
		return errors.New("signed URL lifetimes must be positive")
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// SlogLevel returns the configured log level
func (c *ServerConfig) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Runtime holds the components built from a ServerConfig. Close releases
// pools and queue clients.
type Runtime struct {
	Service    vehicleimage.Service
	Repository vehicleimage.Repository
	Store      vehicleimage.ObjectStore
	Owners     vehicleimage.OwnerDirectory

	closers []func() error
}

// Close releases every resource opened by BuildService, last opened first
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// BuildService creates the service and its collaborators from the configuration.
// Extra options are applied after the configured ones.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger, extra ...vehicleimage.Option) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	if err := c.buildRepository(ctx, rt); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	store, err := c.buildStorageBackend(ctx, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Backend, err)
	}
	rt.Store = store

	options := []vehicleimage.Option{
		vehicleimage.WithRepository(rt.Repository),
		vehicleimage.WithObjectStore(rt.Store),
		vehicleimage.WithOwnerDirectory(rt.Owners),
		vehicleimage.WithBucket(c.Storage.Bucket),
		vehicleimage.WithUploadTTL(c.UploadURLTTL),
		vehicleimage.WithDownloadTTL(c.DownloadURLTTL),
		vehicleimage.WithLogger(logger),
	}

	if c.RedisAddr != "" {
		client := cleanup.NewClient(c.RedisAddr, c.RedisPassword)
		rt.closers = append(rt.closers, client.Close)
		options = append(options, vehicleimage.WithOrphanSink(cleanup.NewSink(client, logger)))
	}

	svc, err := vehicleimage.New(append(options, extra...)...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

// buildRepository sets the metadata repository and owner directory
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) error {
	switch c.DatabaseType {
	case "memory":
		rt.Repository = memory.New()
		rt.Owners = memory.NewOwnerDirectory(c.DevVehicleIDs...)
		return nil
	case "postgres":
		pool, err := NewDBPool(ctx, c.DatabaseURL)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() error {
			pool.Close()
			return nil
		})
		rt.Repository = repopg.NewWithPool(pool)
		rt.Owners = repopg.NewOwnerDirectory(pool, c.OwnerTable)
		return nil
	default:
		return fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// NewDBPool opens a pgx pool and verifies connectivity
func NewDBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// buildStorageBackend creates the object store; the s3 backend also gets the
// browser upload CORS rule when origins are configured.
func (c *ServerConfig) buildStorageBackend(ctx context.Context, logger *slog.Logger) (vehicleimage.ObjectStore, error) {
	sc := c.Storage
	switch sc.Backend {
	case "memory":
		return memorystorage.New(), nil

	case "s3":
		backend, err := s3storage.New(ctx, s3storage.Config{
			Region:                 sc.Region,
			Bucket:                 sc.Bucket,
			AccessKeyID:            sc.AccessKeyID,
			SecretAccessKey:        sc.SecretAccessKey,
			Endpoint:               sc.Endpoint,
			UsePathStyle:           sc.PathStyle,
			CreateBucketIfNotExist: sc.CreateBucket,
		})
		if err != nil {
			return nil, err
		}
		if len(sc.CORSOrigins) > 0 {
			changed, err := backend.EnsureCORS(ctx, sc.CORSOrigins)
			if err != nil {
				// Uploads from server-side clients still work without the rule.
				logger.Warn("bucket CORS bootstrap failed", "bucket", sc.Bucket, "error", err)
			} else if changed {
				logger.Info("bucket CORS rule added", "bucket", sc.Bucket, "origins", sc.CORSOrigins)
			}
		}
		return backend, nil

	case "minio":
		if len(sc.CORSOrigins) > 0 {
			logger.Warn("STORAGE_CORS_ORIGINS is only applied by the s3 backend", "backend", sc.Backend)
		}
		endpoint, useSSL := minioEndpoint(sc.Endpoint, sc.UseSSL)
		return miniostorage.New(ctx, miniostorage.Config{
			Endpoint:               endpoint,
			Region:                 sc.Region,
			Bucket:                 sc.Bucket,
			AccessKeyID:            sc.AccessKeyID,
			SecretAccessKey:        sc.SecretAccessKey,
			UseSSL:                 useSSL,
			CreateBucketIfNotExist: sc.CreateBucket,
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", sc.Backend)
	}
}

// minioEndpoint strips a URL scheme from endpoint; the scheme, when present,
// decides TLS.
func minioEndpoint(endpoint string, useSSL bool) (string, bool) {
	if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
		return strings.TrimSuffix(rest, "/"), true
	}
	if rest, ok := strings.CutPrefix(endpoint, "http://"); ok {
		return strings.TrimSuffix(rest, "/"), false
	}
	return endpoint, useSSL
}
