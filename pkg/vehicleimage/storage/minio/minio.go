package minio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
)

// Config options for the MinIO backend
type Config struct {
	Endpoint        string // host:port, without scheme
	Region          string // Set to skip bucket location lookups
	Bucket          string // Bucket created at startup when requested
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool

	CreateBucketIfNotExist bool
}

// Backend is a MinIO implementation of the vehicleimage.ObjectStore interface
type Backend struct {
	client *minio.Client
	config Config
}

var _ vehicleimage.ObjectStore = (*Backend)(nil)

// New creates a new MinIO storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	backend := &Backend{client: client, config: config}
	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(ctx); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return backend, nil
}

func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.config.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	err = b.client.MakeBucket(ctx, b.config.Bucket, minio.MakeBucketOptions{Region: b.config.Region})
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return err
	}
	return nil
}

// PresignPut signs a PUT with the Content-Type header bound to the signature
func (b *Backend) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration, contentType string) (string, error) {
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	u, err := b.client.PresignHeader(ctx, http.MethodPut, bucket, key, ttl, url.Values{}, headers)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned upload URL: %w", err)
	}
	return u.String(), nil
}

func (b *Backend) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", "inline")
	u, err := b.client.PresignedGetObject(ctx, bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned download URL: %w", err)
	}
	return u.String(), nil
}

func (b *Backend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object: %w", err)
}

func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	err := b.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
