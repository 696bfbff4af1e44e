package vehicleimage

import (
	"context"
	"time"
)

// Default lifetimes of signed URLs
const (
	DefaultUploadTTL   = 10 * time.Minute
	DefaultDownloadTTL = 15 * time.Minute
)

// URLSigner issues time-limited upload and download URLs through an ObjectStore
type URLSigner struct {
	store ObjectStore
}

func NewURLSigner(store ObjectStore) *URLSigner {
	return &URLSigner{store: store}
}

// UploadURL signs a PUT bound to contentType
func (s *URLSigner) UploadURL(ctx context.Context, bucket, key string, ttl time.Duration, contentType string) (string, error) {
	url, err := s.store.PresignPut(ctx, bucket, key, ttl, contentType)
	if err != nil {
		return "", unavailable("presign_put", bucket, key, err)
	}
	return url, nil
}

// DownloadURL signs a GET
func (s *URLSigner) DownloadURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	url, err := s.store.PresignGet(ctx, bucket, key, ttl)
	if err != nil {
		return "", unavailable("presign_get", bucket, key, err)
	}
	return url, nil
}
