package vehicleimage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/objectkey"
)

// Error types
var (
	// ErrUnsupportedContentType indicates a content type outside the image allow-list
	ErrUnsupportedContentType = objectkey.ErrUnsupportedContentType

	// ErrOwnerNotFound indicates the vehicle does not exist
	ErrOwnerNotFound = errors.New("vehicle not found")

	// ErrMissingKey indicates a confirmation without a storage key
	ErrMissingKey = errors.New("storage key is required")

	// ErrKeyOwnershipMismatch indicates a key outside the vehicle's prefix
	ErrKeyOwnershipMismatch = errors.New("storage key does not belong to this vehicle")

	// ErrObjectNotFound indicates the uploaded object is not in the store
	ErrObjectNotFound = errors.New("uploaded object not found in storage")

	// ErrDuplicateFileName indicates the file name is already used by this vehicle
	ErrDuplicateFileName = errors.New("duplicate file name for this vehicle")

	// ErrDuplicateKey indicates the storage key is already recorded
	ErrDuplicateKey = errors.New("duplicate storage key")

	// ErrImageNotFound indicates an image was not found
	ErrImageNotFound = errors.New("image not found")

	// ErrStoreUnavailable indicates an object store or metadata store failure; safe to retry
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPrimaryInvariant indicates an owner with zero or several primaries
	ErrPrimaryInvariant = errors.New("primary image invariant violated")
)

// IsClientError reports whether err is a validation rejection the caller must fix
// rather than retry.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrUnsupportedContentType,
		ErrOwnerNotFound,
		ErrMissingKey,
		ErrKeyOwnershipMismatch,
		ErrObjectNotFound,
		ErrDuplicateFileName,
		ErrDuplicateKey,
		ErrImageNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ImageError represents an error related to an image operation
type ImageError struct {
	OwnerID int64
	ImageID uuid.UUID
	Op      string
	Err     error
}

func (e *ImageError) Error() string {
	if e.ImageID == uuid.Nil {
		return fmt.Sprintf("image operation %s failed for vehicle %d: %v", e.Op, e.OwnerID, e.Err)
	}
	return fmt.Sprintf("image operation %s failed for image %s: %v", e.Op, e.ImageID, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// StorageError represents a failed call to the object store or metadata store.
// It matches both ErrStoreUnavailable and the underlying cause.
type StorageError struct {
	Bucket string
	Key    string
	Op     string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s in bucket %s: %v", e.Op, e.Key, e.Bucket, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// unavailable wraps err as a StorageError unless it already carries a domain meaning.
func unavailable(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) || IsClientError(err) {
		return err
	}
	return &StorageError{Bucket: bucket, Key: key, Op: op, Err: err}
}
