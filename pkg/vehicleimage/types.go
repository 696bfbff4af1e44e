package vehicleimage

import (
	"time"

	"github.com/google/uuid"
)

// ImageAsset is the stored metadata of one confirmed upload
type ImageAsset struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	IsPrimary   bool      `json:"is_primary"`
	CreatedAt   time.Time `json:"created_at"`
}

// ImageView is a list entry carrying a freshly signed download URL
type ImageView struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	IsPrimary bool      `json:"primary"`
}

// UploadTicket is returned by BeginUpload
type UploadTicket struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	URL         string    `json:"upload_url"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// PrimaryFlag is a single primary-flag change to persist
type PrimaryFlag struct {
	ImageID   uuid.UUID `json:"image_id"`
	IsPrimary bool      `json:"primary"`
}

// RepairReport summarizes a RepairAll run
type RepairReport struct {
	OwnersChecked  int     `json:"vehicles_checked"`
	OwnersRepaired []int64 `json:"vehicles_repaired"`
	Flips          int     `json:"flips"`
}
