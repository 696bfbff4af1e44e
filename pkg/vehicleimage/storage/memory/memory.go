package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

type object struct {
	data        []byte
	contentType string
}

// Backend is an in-memory implementation of the vehicleimage.ObjectStore interface.
// Signed URLs are not fetchable; clients and tests upload with Put.
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	deletes []string

	// Injected failures for tests
	ExistsErr  error
	DeleteErr  error
	PresignErr error
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string]object),
	}
}

func objectPath(bucket, key string) string {
	return bucket + "/" + key
}

// Put stores an object as if a client had used the signed upload URL
func (b *Backend) Put(ctx context.Context, bucket, key, contentType string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[objectPath(bucket, key)] = object{data: data, contentType: contentType}
	return nil
}

// Get returns a stored object's bytes
func (b *Backend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectPath(bucket, key)]
	if !exists {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *Backend) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration, contentType string) (string, error) {
	if b.PresignErr != nil {
		return "", b.PresignErr
	}
	return signedURL("PUT", bucket, key, ttl, contentType), nil
}

func (b *Backend) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if b.PresignErr != nil {
		return "", b.PresignErr
	}
	return signedURL("GET", bucket, key, ttl, ""), nil
}

func signedURL(method, bucket, key string, ttl time.Duration, contentType string) string {
	q := url.Values{}
	q.Set("method", method)
	q.Set("expires", fmt.Sprintf("%d", int(ttl.Seconds())))
	if contentType != "" {
		q.Set("content-type", contentType)
	}
	u := url.URL{Scheme: "memory", Host: bucket, Path: "/" + key, RawQuery: q.Encode()}
	return u.String()
}

func (b *Backend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if b.ExistsErr != nil {
		return false, b.ExistsErr
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.objects[objectPath(bucket, key)]
	return exists, nil
}

// Delete removes the object; missing objects are ignored
func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.deletes = append(b.deletes, key)
	if b.DeleteErr != nil {
		return b.DeleteErr
	}
	delete(b.objects, objectPath(bucket, key))
	return nil
}

// Deletes returns every key passed to Delete, in call order
func (b *Backend) Deletes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.deletes...)
}

// Len returns the number of stored objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
