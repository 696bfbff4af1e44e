package vehicleimage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/objectkey"
)

// service implements the Service interface
type service struct {
	repository  Repository
	store       ObjectStore
	owners      OwnerDirectory
	bucket      string
	uploadTTL   time.Duration
	downloadTTL time.Duration
	keys        objectkey.Generator
	logger      *slog.Logger
	observer    Observer
	orphans     OrphanSink
	now         func() time.Time

	repairConcurrency int

	signer      *URLSigner
	validator   *ConfirmationValidator
	compensator *compensator
	coordinator PrimaryCoordinator
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithObjectStore sets the object store backend
func WithObjectStore(store ObjectStore) Option {
	return func(s *service) {
		s.store = store
	}
}

// WithOwnerDirectory sets the vehicle existence lookup
func WithOwnerDirectory(owners OwnerDirectory) Option {
	return func(s *service) {
		s.owners = owners
	}
}

// WithBucket sets the bucket all images are stored in
func WithBucket(bucket string) Option {
	return func(s *service) {
		s.bucket = bucket
	}
}

func WithUploadTTL(ttl time.Duration) Option {
	return func(s *service) {
		s.uploadTTL = ttl
	}
}

func WithDownloadTTL(ttl time.Duration) Option {
	return func(s *service) {
		s.downloadTTL = ttl
	}
}

// WithKeyGenerator replaces the default vehicles/{owner}/{uuid}{ext} generator
func WithKeyGenerator(gen objectkey.Generator) Option {
	return func(s *service) {
		s.keys = gen
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

func WithObserver(observer Observer) Option {
	return func(s *service) {
		s.observer = observer
	}
}

// WithOrphanSink sets where objects that failed compensation deletion are reported
func WithOrphanSink(sink OrphanSink) Option {
	return func(s *service) {
		s.orphans = sink
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithRepairConcurrency limits how many owners RepairAll processes at once
func WithRepairConcurrency(n int) Option {
	return func(s *service) {
		s.repairConcurrency = n
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		uploadTTL:         DefaultUploadTTL,
		downloadTTL:       DefaultDownloadTTL,
		keys:              objectkey.NewGenerator(),
		now:               func() time.Time { return time.Now().UTC() },
		repairConcurrency: 4,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if s.owners == nil {
		return nil, fmt.Errorf("owner directory is required")
	}
	if s.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if s.uploadTTL <= 0 || s.downloadTTL <= 0 {
		return nil, fmt.Errorf("signed URL lifetimes must be positive")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.observer == nil {
		s.observer = NewNoopObserver()
	}
	if s.orphans == nil {
		s.orphans = NewLogOrphanSink(s.logger)
	}
	if s.repairConcurrency < 1 {
		s.repairConcurrency = 1
	}

	s.signer = NewURLSigner(s.store)
	s.compensator = &compensator{
		store:    s.store,
		bucket:   s.bucket,
		logger:   s.logger,
		observer: s.observer,
		orphans:  s.orphans,
	}
	s.validator = &ConfirmationValidator{
		store:       s.store,
		repository:  s.repository,
		bucket:      s.bucket,
		compensator: s.compensator,
	}

	return s, nil
}

func (s *service) observe(op string, start time.Time, err *error) {
	s.observer.ObserveOperation(op, time.Since(start), *err)
}

func (s *service) requireOwner(ctx context.Context, ownerID int64) error {
	ok, err := s.owners.OwnerExists(ctx, ownerID)
	if err != nil {
		return unavailable("owner_exists", s.bucket, "", err)
	}
	if !ok {
		return ErrOwnerNotFound
	}
	return nil
}

// Upload operations

func (s *service) BeginUpload(ctx context.Context, ownerID int64, contentType string) (ticket *UploadTicket, err error) {
	defer s.observe("begin_upload", time.Now(), &err)

	if err := s.requireOwner(ctx, ownerID); err != nil {
		return nil, &ImageError{OwnerID: ownerID, Op: "begin_upload", Err: err}
	}

	key, err := s.keys.GenerateKey(ownerID, contentType)
	if err != nil {
		return nil, &ImageError{OwnerID: ownerID, Op: "begin_upload", Err: err}
	}

	normalized := objectkey.NormalizeContentType(contentType)
	issuedAt := s.now()
	url, err := s.signer.UploadURL(ctx, s.bucket, key, s.uploadTTL, normalized)
	if err != nil {
		return nil, &ImageError{OwnerID: ownerID, Op: "begin_upload", Err: err}
	}

	return &UploadTicket{
		Bucket:      s.bucket,
		Key:         key,
		URL:         url,
		ContentType: normalized,
		ExpiresAt:   issuedAt.Add(s.uploadTTL),
	}, nil
}

func (s *service) ConfirmUpload(ctx context.Context, req ConfirmUploadRequest) (asset *ImageAsset, err error) {
	defer s.observe("confirm_upload", time.Now(), &err)

	if err := s.requireOwner(ctx, req.OwnerID); err != nil {
		return nil, &ImageError{OwnerID: req.OwnerID, Op: "confirm_upload", Err: err}
	}
	if err := s.validator.Validate(ctx, req.OwnerID, req.Key, req.FileName); err != nil {
		return nil, &ImageError{OwnerID: req.OwnerID, Op: "confirm_upload", Err: err}
	}

	image := &ImageAsset{
		OwnerID:     req.OwnerID,
		Bucket:      s.bucket,
		Key:         req.Key,
		FileName:    req.FileName,
		ContentType: objectkey.NormalizeContentType(req.ContentType),
		Size:        req.Size,
		CreatedAt:   s.now(),
	}

	err = s.repository.WithOwnerLock(ctx, req.OwnerID, func(ctx context.Context, tx ImageTx) error {
		existing, err := tx.ListImages(ctx)
		if err != nil {
			return err
		}
		isPrimary, flips := s.coordinator.OnCreate(existing, req.Primary)
		if len(flips) > 0 {
			if err := tx.SetPrimary(ctx, flips); err != nil {
				return err
			}
		}
		image.IsPrimary = isPrimary
		return tx.CreateImage(ctx, image)
	})
	if err != nil {
		if isDuplicate(err) {
			// A concurrent confirmation won the unique constraint after our checks passed.
			s.compensator.discard(ctx, "confirm_upload", req.Key, err)
			return nil, &ImageError{OwnerID: req.OwnerID, Op: "confirm_upload", Err: err}
		}
		return nil, &ImageError{OwnerID: req.OwnerID, Op: "confirm_upload", Err: unavailable("create_image", s.bucket, req.Key, err)}
	}

	s.logger.InfoContext(ctx, "image confirmed",
		"vehicle_id", image.OwnerID, "image_id", image.ID, "key", image.Key, "primary", image.IsPrimary)
	return image, nil
}

// Read operations

func (s *service) ListImages(ctx context.Context, ownerID int64) (views []ImageView, err error) {
	defer s.observe("list_images", time.Now(), &err)

	images, err := s.repository.ListImages(ctx, ownerID)
	if err != nil {
		return nil, &ImageError{OwnerID: ownerID, Op: "list_images", Err: unavailable("list_images", s.bucket, "", err)}
	}

	views = make([]ImageView, 0, len(images))
	for _, img := range images {
		url, err := s.signer.DownloadURL(ctx, img.Bucket, img.Key, s.downloadTTL)
		if err != nil {
			return nil, &ImageError{OwnerID: ownerID, ImageID: img.ID, Op: "list_images", Err: err}
		}
		views = append(views, ImageView{ID: img.ID, URL: url, IsPrimary: img.IsPrimary})
	}
	return views, nil
}

func (s *service) GetImage(ctx context.Context, imageID uuid.UUID) (*ImageAsset, error) {
	img, err := s.repository.GetImage(ctx, imageID)
	if err != nil {
		return nil, &ImageError{ImageID: imageID, Op: "get_image", Err: unavailable("get_image", s.bucket, "", err)}
	}
	return img, nil
}

// Delete operations

func (s *service) DeleteImage(ctx context.Context, imageID uuid.UUID) (err error) {
	defer s.observe("delete_image", time.Now(), &err)

	img, err := s.repository.GetImage(ctx, imageID)
	if err != nil {
		return &ImageError{ImageID: imageID, Op: "delete_image", Err: unavailable("get_image", s.bucket, "", err)}
	}

	var promoted []PrimaryFlag
	err = s.repository.WithOwnerLock(ctx, img.OwnerID, func(ctx context.Context, tx ImageTx) error {
		current, err := tx.ListImages(ctx)
		if err != nil {
			return err
		}
		var target *ImageAsset
		remaining := make([]*ImageAsset, 0, len(current))
		for _, c := range current {
			if c.ID == imageID {
				target = c
				continue
			}
			remaining = append(remaining, c)
		}
		if target == nil {
			// Deleted by a concurrent request after our lookup.
			return ErrImageNotFound
		}

		if err := s.store.Delete(ctx, target.Bucket, target.Key); err != nil {
			return &StorageError{Bucket: target.Bucket, Key: target.Key, Op: "delete_object", Err: err}
		}
		if err := tx.DeleteImage(ctx, imageID); err != nil {
			return err
		}
		promoted = s.coordinator.OnDelete(remaining, target.IsPrimary)
		if len(promoted) == 0 {
			return nil
		}
		return tx.SetPrimary(ctx, promoted)
	})
	if err != nil {
		if errors.Is(err, ErrImageNotFound) {
			return &ImageError{OwnerID: img.OwnerID, ImageID: imageID, Op: "delete_image", Err: err}
		}
		return &ImageError{OwnerID: img.OwnerID, ImageID: imageID, Op: "delete_image", Err: unavailable("delete_image", img.Bucket, img.Key, err)}
	}

	s.logger.InfoContext(ctx, "image deleted",
		"vehicle_id", img.OwnerID, "image_id", imageID, "key", img.Key, "was_primary", img.IsPrimary, "flips", len(promoted))
	return nil
}
