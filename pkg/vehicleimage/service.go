package vehicleimage

import (
	"context"

	"github.com/google/uuid"
)

// Service is the main interface for vehicle image operations
type Service interface {
	// BeginUpload issues a signed upload URL for a new key of the owner.
	// Nothing is persisted.
	BeginUpload(ctx context.Context, ownerID int64, contentType string) (*UploadTicket, error)

	// ConfirmUpload validates a finished upload and records it, electing the
	// primary image within the same unit of work.
	ConfirmUpload(ctx context.Context, req ConfirmUploadRequest) (*ImageAsset, error)

	// ListImages returns the owner's images in display order with fresh download URLs
	ListImages(ctx context.Context, ownerID int64) ([]ImageView, error)

	GetImage(ctx context.Context, imageID uuid.UUID) (*ImageAsset, error)

	// DeleteImage removes the object and its metadata, promoting a new
	// primary when the deleted image was primary.
	DeleteImage(ctx context.Context, imageID uuid.UUID) error

	// Maintenance
	CheckAll(ctx context.Context) ([]int64, error)
	RepairOwner(ctx context.Context, ownerID int64) ([]PrimaryFlag, error)
	RepairAll(ctx context.Context) (*RepairReport, error)
}
