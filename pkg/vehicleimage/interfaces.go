package vehicleimage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ObjectStore defines the interface for object storage backends
type ObjectStore interface {
	// PresignPut returns a URL that accepts one PUT of the object until ttl elapses
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration, contentType string) (string, error)

	// PresignGet returns a URL that allows GET of the object until ttl elapses
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)

	// Exists reports whether an object is stored under key
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, bucket, key string) error
}

// OwnerDirectory answers whether a vehicle exists
type OwnerDirectory interface {
	OwnerExists(ctx context.Context, ownerID int64) (bool, error)
}

// Repository defines the interface for image metadata persistence
type Repository interface {
	GetImage(ctx context.Context, id uuid.UUID) (*ImageAsset, error)

	// ListImages returns the owner's images in display order:
	// primary first, then oldest first, ties broken by id.
	ListImages(ctx context.Context, ownerID int64) ([]*ImageAsset, error)

	FileNameExists(ctx context.Context, ownerID int64, fileName string) (bool, error)
	KeyExists(ctx context.Context, key string) (bool, error)

	// ListOwners returns every owner that has at least one image
	ListOwners(ctx context.Context) ([]int64, error)

	// WithOwnerLock runs fn as one atomic unit of work. Units of work for the
	// same owner never interleave. If fn returns an error nothing is committed.
	WithOwnerLock(ctx context.Context, ownerID int64, fn func(ctx context.Context, tx ImageTx) error) error
}

// ImageTx is the owner-scoped view of the repository inside WithOwnerLock
type ImageTx interface {
	ListImages(ctx context.Context) ([]*ImageAsset, error)

	// CreateImage inserts the image, assigning ID and CreatedAt when zero.
	// Unique violations are reported as ErrDuplicateFileName or ErrDuplicateKey.
	CreateImage(ctx context.Context, image *ImageAsset) error

	SetPrimary(ctx context.Context, flags []PrimaryFlag) error
	DeleteImage(ctx context.Context, id uuid.UUID) error
}

// Observer receives operation outcomes for metrics
type Observer interface {
	ObserveOperation(op string, duration time.Duration, err error)
	CompensationFailed(op string)
}

// OrphanSink receives objects that could not be deleted during compensation
type OrphanSink interface {
	RecordOrphan(ctx context.Context, bucket, key, cause string) error
}
