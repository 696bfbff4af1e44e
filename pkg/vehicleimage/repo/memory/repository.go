package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
)

// Repository implements vehicleimage.Repository using in-memory storage
type Repository struct {
	mu     sync.RWMutex
	images map[uuid.UUID]*vehicleimage.ImageAsset

	locksMu    sync.Mutex
	ownerLocks map[int64]*ownerLock
}

// ownerLock serializes one owner; refs counts holders and waiters so the
// entry is dropped once nobody needs it.
type ownerLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		images:     make(map[uuid.UUID]*vehicleimage.ImageAsset),
		ownerLocks: make(map[int64]*ownerLock),
	}
}

// Import stores images as given, without uniqueness or primary checks.
// It exists to load pre-existing data, including data that needs repair.
func (r *Repository) Import(images ...*vehicleimage.ImageAsset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, img := range images {
		c := *img
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		r.images[c.ID] = &c
	}
}

func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (*vehicleimage.ImageAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	img, exists := r.images[id]
	if !exists {
		return nil, vehicleimage.ErrImageNotFound
	}
	// Return a copy to prevent external modifications
	c := *img
	return &c, nil
}

func (r *Repository) ListImages(ctx context.Context, ownerID int64) ([]*vehicleimage.ImageAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownerImagesLocked(ownerID), nil
}

func (r *Repository) FileNameExists(ctx context.Context, ownerID int64, fileName string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, img := range r.images {
		if img.OwnerID == ownerID && img.FileName == fileName {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) KeyExists(ctx context.Context, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, img := range r.images {
		if img.Key == key {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) ListOwners(ctx context.Context) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[int64]bool)
	var owners []int64
	for _, img := range r.images {
		if !seen[img.OwnerID] {
			seen[img.OwnerID] = true
			owners = append(owners, img.OwnerID)
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}

func (r *Repository) WithOwnerLock(ctx context.Context, ownerID int64, fn func(ctx context.Context, tx vehicleimage.ImageTx) error) error {
	lock := r.acquireOwner(ownerID)
	defer r.releaseOwner(ownerID, lock)

	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	staged := make(map[uuid.UUID]*vehicleimage.ImageAsset)
	for _, img := range r.ownerImagesLocked(ownerID) {
		staged[img.ID] = img
	}
	r.mu.RUnlock()

	t := &tx{repo: r, ownerID: ownerID, staged: staged}
	if err := fn(ctx, t); err != nil {
		return err
	}
	return r.commit(t)
}

func (r *Repository) acquireOwner(ownerID int64) *ownerLock {
	r.locksMu.Lock()
	lock, ok := r.ownerLocks[ownerID]
	if !ok {
		lock = &ownerLock{}
		r.ownerLocks[ownerID] = lock
	}
	lock.refs++
	r.locksMu.Unlock()

	lock.mu.Lock()
	return lock
}

func (r *Repository) releaseOwner(ownerID int64, lock *ownerLock) {
	lock.mu.Unlock()

	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(r.ownerLocks, ownerID)
	}
}

// commit replaces the owner's images with the staged set.
func (r *Repository) commit(t *tx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, img := range t.staged {
		if other := r.keyOwnerLocked(img.Key, img.ID); other != nil && other.OwnerID != t.ownerID {
			return vehicleimage.ErrDuplicateKey
		}
	}
	for id, img := range r.images {
		if img.OwnerID == t.ownerID {
			delete(r.images, id)
		}
	}
	for id, img := range t.staged {
		r.images[id] = img
	}
	return nil
}

func (r *Repository) ownerImagesLocked(ownerID int64) []*vehicleimage.ImageAsset {
	var out []*vehicleimage.ImageAsset
	for _, img := range r.images {
		if img.OwnerID == ownerID {
			c := *img
			out = append(out, &c)
		}
	}
	vehicleimage.SortDisplayOrder(out)
	return out
}

// keyOwnerLocked returns another image stored under key, if any.
func (r *Repository) keyOwnerLocked(key string, except uuid.UUID) *vehicleimage.ImageAsset {
	for _, img := range r.images {
		if img.Key == key && img.ID != except {
			return img
		}
	}
	return nil
}

// tx stages one owner's images until WithOwnerLock commits them
type tx struct {
	repo    *Repository
	ownerID int64
	staged  map[uuid.UUID]*vehicleimage.ImageAsset
}

func (t *tx) ListImages(ctx context.Context) ([]*vehicleimage.ImageAsset, error) {
	out := make([]*vehicleimage.ImageAsset, 0, len(t.staged))
	for _, img := range t.staged {
		c := *img
		out = append(out, &c)
	}
	vehicleimage.SortDisplayOrder(out)
	return out, nil
}

func (t *tx) CreateImage(ctx context.Context, image *vehicleimage.ImageAsset) error {
	if image.OwnerID != t.ownerID {
		return vehicleimage.ErrKeyOwnershipMismatch
	}
	for _, img := range t.staged {
		if img.FileName == image.FileName {
			return vehicleimage.ErrDuplicateFileName
		}
		if img.Key == image.Key {
			return vehicleimage.ErrDuplicateKey
		}
	}
	t.repo.mu.RLock()
	other := t.repo.keyOwnerLocked(image.Key, image.ID)
	t.repo.mu.RUnlock()
	if other != nil && other.OwnerID != t.ownerID {
		return vehicleimage.ErrDuplicateKey
	}

	if image.ID == uuid.Nil {
		image.ID = uuid.New()
	}
	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now().UTC()
	}
	c := *image
	t.staged[c.ID] = &c
	return nil
}

func (t *tx) SetPrimary(ctx context.Context, flags []vehicleimage.PrimaryFlag) error {
	for _, f := range flags {
		img, ok := t.staged[f.ImageID]
		if !ok {
			return vehicleimage.ErrImageNotFound
		}
		img.IsPrimary = f.IsPrimary
	}
	return nil
}

func (t *tx) DeleteImage(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.staged[id]; !ok {
		return vehicleimage.ErrImageNotFound
	}
	delete(t.staged, id)
	return nil
}
