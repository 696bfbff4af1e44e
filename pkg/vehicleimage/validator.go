package vehicleimage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tendant/vehicle-images/pkg/vehicleimage/objectkey"
)

// ConfirmationValidator checks an upload confirmation before any metadata is written.
// Checks run in order and stop at the first failure.
type ConfirmationValidator struct {
	store       ObjectStore
	repository  Repository
	bucket      string
	compensator *compensator
}

// Validate checks key presence, key ownership, object existence, file name
// uniqueness for the owner and key uniqueness. Duplicate rejections delete the
// uploaded object before returning.
func (v *ConfirmationValidator) Validate(ctx context.Context, ownerID int64, key, fileName string) error {
	if key == "" {
		return ErrMissingKey
	}
	if !objectkey.BelongsTo(key, ownerID) {
		return ErrKeyOwnershipMismatch
	}

	exists, err := v.store.Exists(ctx, v.bucket, key)
	if err != nil {
		return unavailable("exists", v.bucket, key, err)
	}
	if !exists {
		return ErrObjectNotFound
	}

	dup, err := v.repository.FileNameExists(ctx, ownerID, fileName)
	if err != nil {
		return unavailable("file_name_exists", v.bucket, key, err)
	}
	if dup {
		v.compensator.discard(ctx, "confirm_upload", key, ErrDuplicateFileName)
		return ErrDuplicateFileName
	}

	dup, err = v.repository.KeyExists(ctx, key)
	if err != nil {
		return unavailable("key_exists", v.bucket, key, err)
	}
	if dup {
		v.compensator.discard(ctx, "confirm_upload", key, ErrDuplicateKey)
		return ErrDuplicateKey
	}
	return nil
}

// compensator deletes objects whose confirmation was rejected. Failures are
// logged, counted and handed to the orphan sink; they never replace the
// rejection returned to the caller.
type compensator struct {
	store    ObjectStore
	bucket   string
	logger   *slog.Logger
	observer Observer
	orphans  OrphanSink
}

func (c *compensator) discard(ctx context.Context, op, key string, cause error) {
	err := c.store.Delete(ctx, c.bucket, key)
	if err == nil {
		c.logger.InfoContext(ctx, "deleted rejected upload", "bucket", c.bucket, "key", key, "cause", cause.Error())
		return
	}
	c.observer.CompensationFailed(op)
	c.logger.ErrorContext(ctx, "failed to delete rejected upload", "bucket", c.bucket, "key", key, "cause", cause.Error(), "error", err)
	if c.orphans == nil {
		return
	}
	if serr := c.orphans.RecordOrphan(ctx, c.bucket, key, cause.Error()); serr != nil {
		c.logger.ErrorContext(ctx, "failed to record orphaned object", "bucket", c.bucket, "key", key, "error", serr)
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateFileName) || errors.Is(err, ErrDuplicateKey)
}
