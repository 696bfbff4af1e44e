package vehicleimage_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/repo/memory"
	memorystorage "github.com/tendant/vehicle-images/pkg/vehicleimage/storage/memory"
)

const testBucket = "vehicle-images"

type fixture struct {
	svc    vehicleimage.Service
	repo   *memory.Repository
	store  *memorystorage.Backend
	owners *memory.OwnerDirectory
	sink   *recordingSink
}

type recordingSink struct {
	mu   sync.Mutex
	keys []string
}

func (s *recordingSink) RecordOrphan(ctx context.Context, bucket, key, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}

// tickingClock returns strictly increasing times so display order is deterministic
func tickingClock() func() time.Time {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func setup(t *testing.T, opts ...vehicleimage.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:   memory.New(),
		store:  memorystorage.New(),
		owners: memory.NewOwnerDirectory(42, 7),
		sink:   &recordingSink{},
	}
	options := []vehicleimage.Option{
		vehicleimage.WithRepository(f.repo),
		vehicleimage.WithObjectStore(f.store),
		vehicleimage.WithOwnerDirectory(f.owners),
		vehicleimage.WithBucket(testBucket),
		vehicleimage.WithOrphanSink(f.sink),
		vehicleimage.WithClock(tickingClock()),
	}
	svc, err := vehicleimage.New(append(options, opts...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

// upload begins an upload and simulates the client PUT
func (f *fixture) upload(t *testing.T, ownerID int64) string {
	t.Helper()
	ctx := context.Background()
	ticket, err := f.svc.BeginUpload(ctx, ownerID, "image/jpeg")
	require.NoError(t, err)
	require.NoError(t, f.store.Put(ctx, ticket.Bucket, ticket.Key, ticket.ContentType, strings.NewReader("jpeg")))
	return ticket.Key
}

func (f *fixture) confirm(t *testing.T, ownerID int64, fileName string, primary bool) *vehicleimage.ImageAsset {
	t.Helper()
	key := f.upload(t, ownerID)
	img, err := f.svc.ConfirmUpload(context.Background(), vehicleimage.ConfirmUploadRequest{
		OwnerID:     ownerID,
		Key:         key,
		FileName:    fileName,
		ContentType: "image/jpeg",
		Size:        4,
		Primary:     primary,
	})
	require.NoError(t, err)
	return img
}

func assertInvariant(t *testing.T, f *fixture, ownerID int64) {
	t.Helper()
	imgs, err := f.repo.ListImages(context.Background(), ownerID)
	require.NoError(t, err)
	assert.NoError(t, vehicleimage.CheckInvariant(imgs))
}

func TestServiceCreation(t *testing.T) {
	repo := memory.New()
	store := memorystorage.New()
	owners := memory.NewOwnerDirectory()

	tests := []struct {
		name        string
		options     []vehicleimage.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []vehicleimage.Option{},
			expectError: true,
		},
		{
			name: "missing bucket should fail",
			options: []vehicleimage.Option{
				vehicleimage.WithRepository(repo),
				vehicleimage.WithObjectStore(store),
				vehicleimage.WithOwnerDirectory(owners),
			},
			expectError: true,
		},
		{
			name: "zero ttl should fail",
			options: []vehicleimage.Option{
				vehicleimage.WithRepository(repo),
				vehicleimage.WithObjectStore(store),
				vehicleimage.WithOwnerDirectory(owners),
				vehicleimage.WithBucket(testBucket),
				vehicleimage.WithUploadTTL(0),
			},
			expectError: true,
		},
		{
			name: "all collaborators should succeed",
			options: []vehicleimage.Option{
				vehicleimage.WithRepository(repo),
				vehicleimage.WithObjectStore(store),
				vehicleimage.WithOwnerDirectory(owners),
				vehicleimage.WithBucket(testBucket),
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := vehicleimage.New(tt.options...)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestBeginUpload(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("issues ticket", func(t *testing.T) {
		ticket, err := f.svc.BeginUpload(ctx, 42, "image/jpeg")
		require.NoError(t, err)
		assert.Equal(t, testBucket, ticket.Bucket)
		assert.Regexp(t, `^vehicles/42/[0-9a-f-]{36}\.jpg$`, ticket.Key)
		assert.Contains(t, ticket.URL, "expires=600")
		assert.Contains(t, ticket.URL, "method=PUT")
		assert.Equal(t, "image/jpeg", ticket.ContentType)
		assert.False(t, ticket.ExpiresAt.IsZero())
	})

	t.Run("unsupported content type", func(t *testing.T) {
		_, err := f.svc.BeginUpload(ctx, 42, "application/pdf")
		assert.True(t, errors.Is(err, vehicleimage.ErrUnsupportedContentType))
	})

	t.Run("unknown owner", func(t *testing.T) {
		_, err := f.svc.BeginUpload(ctx, 999, "image/png")
		assert.True(t, errors.Is(err, vehicleimage.ErrOwnerNotFound))
	})

	t.Run("no metadata side effect", func(t *testing.T) {
		imgs, err := f.repo.ListImages(ctx, 42)
		require.NoError(t, err)
		assert.Empty(t, imgs)
	})

	t.Run("signing failure is retryable", func(t *testing.T) {
		f.store.PresignErr = errors.New("credentials expired")
		defer func() { f.store.PresignErr = nil }()
		_, err := f.svc.BeginUpload(ctx, 42, "image/png")
		assert.True(t, errors.Is(err, vehicleimage.ErrStoreUnavailable))
		assert.False(t, vehicleimage.IsClientError(err))
	})
}

func TestConfirmUpload_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		ownerID int64
		key     string
		want    error
	}{
		{"unknown owner", 999, "vehicles/999/x.jpg", vehicleimage.ErrOwnerNotFound},
		{"missing key", 42, "", vehicleimage.ErrMissingKey},
		{"key of another vehicle", 42, "vehicles/7/x.jpg", vehicleimage.ErrKeyOwnershipMismatch},
		{"key outside vehicle prefix", 42, "uploads/x.jpg", vehicleimage.ErrKeyOwnershipMismatch},
		{"object never uploaded", 42, "vehicles/42/never.jpg", vehicleimage.ErrObjectNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := f.svc.ConfirmUpload(ctx, vehicleimage.ConfirmUploadRequest{
				OwnerID: tt.ownerID, Key: tt.key, FileName: "a.jpg", ContentType: "image/jpeg",
			})
			assert.Nil(t, img)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, vehicleimage.IsClientError(err))
		})
	}

	assert.Empty(t, f.store.Deletes(), "validation failures before the duplicate checks never delete")
}

func TestConfirmUpload_FirstImageIsPrimary(t *testing.T) {
	f := setup(t)
	img := f.confirm(t, 42, "front.jpg", false)
	assert.True(t, img.IsPrimary)
	assert.NotEqual(t, uuid.Nil, img.ID)
	assert.Equal(t, testBucket, img.Bucket)
	assertInvariant(t, f, 42)
}

func TestConfirmUpload_RequestedPrimaryDemotesCurrent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.confirm(t, 42, "a.jpg", false)
	b := f.confirm(t, 42, "b.jpg", true)

	assert.True(t, b.IsPrimary)
	gotA, err := f.repo.GetImage(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, gotA.IsPrimary)
	assertInvariant(t, f, 42)

	c := f.confirm(t, 42, "c.jpg", false)
	assert.False(t, c.IsPrimary)
	assertInvariant(t, f, 42)
}

func TestConfirmUpload_DuplicateFileName(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.confirm(t, 42, "front.jpg", false)

	key := f.upload(t, 42)
	img, err := f.svc.ConfirmUpload(ctx, vehicleimage.ConfirmUploadRequest{
		OwnerID: 42, Key: key, FileName: "front.jpg", ContentType: "image/jpeg",
	})
	assert.Nil(t, img)
	assert.True(t, errors.Is(err, vehicleimage.ErrDuplicateFileName))
	assert.Equal(t, []string{key}, f.store.Deletes())

	exists, err := f.store.Exists(ctx, testBucket, key)
	require.NoError(t, err)
	assert.False(t, exists)

	imgs, err := f.repo.ListImages(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, imgs, 1)

	// Same file name for another vehicle is fine
	f.confirm(t, 7, "front.jpg", false)
}

func TestConfirmUpload_DuplicateKey(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first := f.confirm(t, 42, "a.jpg", false)

	img, err := f.svc.ConfirmUpload(ctx, vehicleimage.ConfirmUploadRequest{
		OwnerID: 42, Key: first.Key, FileName: "b.jpg", ContentType: "image/jpeg",
	})
	assert.Nil(t, img)
	assert.True(t, errors.Is(err, vehicleimage.ErrDuplicateKey))
	assert.Equal(t, []string{first.Key}, f.store.Deletes())
}

func TestConfirmUpload_CompensationFailureKeepsRejection(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.confirm(t, 42, "front.jpg", false)

	key := f.upload(t, 42)
	f.store.DeleteErr = errors.New("network down")

	_, err := f.svc.ConfirmUpload(ctx, vehicleimage.ConfirmUploadRequest{
		OwnerID: 42, Key: key, FileName: "front.jpg", ContentType: "image/jpeg",
	})
	assert.True(t, errors.Is(err, vehicleimage.ErrDuplicateFileName))
	assert.False(t, errors.Is(err, vehicleimage.ErrStoreUnavailable))
	assert.Equal(t, []string{key}, f.sink.keys)
}

func TestConfirmUpload_ProbeFailureIsRetryable(t *testing.T) {
	f := setup(t)
	key := f.upload(t, 42)
	f.store.ExistsErr = errors.New("timeout")

	_, err := f.svc.ConfirmUpload(context.Background(), vehicleimage.ConfirmUploadRequest{
		OwnerID: 42, Key: key, FileName: "a.jpg", ContentType: "image/jpeg",
	})
	assert.True(t, errors.Is(err, vehicleimage.ErrStoreUnavailable))
	assert.False(t, vehicleimage.IsClientError(err))

	imgs, _ := f.repo.ListImages(context.Background(), 42)
	assert.Empty(t, imgs)
}

func TestListImages(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	empty, err := f.svc.ListImages(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, empty)

	a := f.confirm(t, 42, "a.jpg", false)
	b := f.confirm(t, 42, "b.jpg", false)
	c := f.confirm(t, 42, "c.jpg", true)

	views, err := f.svc.ListImages(ctx, 42)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, []uuid.UUID{c.ID, a.ID, b.ID}, []uuid.UUID{views[0].ID, views[1].ID, views[2].ID})
	assert.True(t, views[0].IsPrimary)
	for _, v := range views {
		assert.Contains(t, v.URL, "expires=900")
		assert.Contains(t, v.URL, "method=GET")
	}
}

func TestDeleteImage(t *testing.T) {
	t.Run("deleting primary promotes first in display order", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a := f.confirm(t, 42, "a.jpg", false)
		b := f.confirm(t, 42, "b.jpg", false)
		c := f.confirm(t, 42, "c.jpg", true)

		require.NoError(t, f.svc.DeleteImage(ctx, c.ID))

		views, err := f.svc.ListImages(ctx, 42)
		require.NoError(t, err)
		require.Len(t, views, 2)
		assert.Equal(t, a.ID, views[0].ID)
		assert.True(t, views[0].IsPrimary)
		assert.Equal(t, b.ID, views[1].ID)
		assert.False(t, views[1].IsPrimary)
		assert.Contains(t, f.store.Deletes(), c.Key)
	})

	t.Run("deleting non-primary keeps primary", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a := f.confirm(t, 42, "a.jpg", false)
		b := f.confirm(t, 42, "b.jpg", false)

		require.NoError(t, f.svc.DeleteImage(ctx, b.ID))
		got, err := f.repo.GetImage(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, got.IsPrimary)
	})

	t.Run("deleting last image leaves none", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a := f.confirm(t, 42, "a.jpg", false)
		require.NoError(t, f.svc.DeleteImage(ctx, a.ID))
		imgs, err := f.repo.ListImages(ctx, 42)
		require.NoError(t, err)
		assert.Empty(t, imgs)
	})

	t.Run("unknown image", func(t *testing.T) {
		f := setup(t)
		err := f.svc.DeleteImage(context.Background(), uuid.New())
		assert.True(t, errors.Is(err, vehicleimage.ErrImageNotFound))
	})

	t.Run("object delete failure leaves metadata untouched", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a := f.confirm(t, 42, "a.jpg", false)
		f.store.DeleteErr = errors.New("access denied")

		err := f.svc.DeleteImage(ctx, a.ID)
		assert.True(t, errors.Is(err, vehicleimage.ErrStoreUnavailable))

		got, err := f.repo.GetImage(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, got.IsPrimary)
	})
}

// Random sequences of confirmations and deletions across two vehicles must
// keep the primary invariant after every step.
func TestPrimaryInvariant_RandomOperations(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			rng := rand.New(rand.NewSource(seed))
			live := map[int64][]uuid.UUID{}

			for step := 0; step < 60; step++ {
				owner := []int64{42, 7}[rng.Intn(2)]
				if len(live[owner]) > 0 && rng.Intn(3) == 0 {
					i := rng.Intn(len(live[owner]))
					require.NoError(t, f.svc.DeleteImage(ctx, live[owner][i]))
					live[owner] = append(live[owner][:i], live[owner][i+1:]...)
				} else {
					img := f.confirm(t, owner, fmt.Sprintf("%d.jpg", step), rng.Intn(2) == 0)
					live[owner] = append(live[owner], img.ID)
				}
				assertInvariant(t, f, 42)
				assertInvariant(t, f, 7)
			}
		})
	}
}

func TestConfirmUpload_ConcurrentSameOwner(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	keys := make([]string, 16)
	for i := range keys {
		keys[i] = f.upload(t, 42)
	}

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ConfirmUpload(ctx, vehicleimage.ConfirmUploadRequest{
				OwnerID: 42, Key: key, FileName: fmt.Sprintf("%d.jpg", i), ContentType: "image/jpeg", Primary: i%2 == 0,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	imgs, err := f.repo.ListImages(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, imgs, 16)
	assertInvariant(t, f, 42)
}

func TestConfirmUpload_ConcurrentDuplicateFileName(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	keys := []string{f.upload(t, 42), f.upload(t, 42), f.upload(t, 42)}
	var wg sync.WaitGroup
	var ok, dup atomic.Int32
	for _, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ConfirmUpload(ctx, vehicleimage.ConfirmUploadRequest{
				OwnerID: 42, Key: key, FileName: "same.jpg", ContentType: "image/jpeg",
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, vehicleimage.ErrDuplicateFileName):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(2), dup.Load())
	assert.Len(t, f.store.Deletes(), 2)
	assert.Equal(t, 1, f.store.Len())
}

// Begin, simulated client PUT, confirm, list.
func TestEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ticket, err := f.svc.BeginUpload(ctx, 42, "image/png")
	require.NoError(t, err)
	require.NoError(t, f.store.Put(ctx, ticket.Bucket, ticket.Key, "image/png", strings.NewReader("png")))

	img, err := f.svc.ConfirmUpload(ctx, vehicleimage.ConfirmUploadRequest{
		OwnerID: 42, Key: ticket.Key, FileName: "side.png", ContentType: "image/png", Size: 3,
	})
	require.NoError(t, err)
	assert.True(t, img.IsPrimary)

	views, err := f.svc.ListImages(ctx, 42)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, img.ID, views[0].ID)
	assert.True(t, views[0].IsPrimary)
	assert.Contains(t, views[0].URL, ticket.Key)
}

func drifted(ownerID int64, primary ...bool) []*vehicleimage.ImageAsset {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*vehicleimage.ImageAsset, 0, len(primary))
	for i, p := range primary {
		out = append(out, &vehicleimage.ImageAsset{
			ID:        uuid.New(),
			OwnerID:   ownerID,
			Bucket:    testBucket,
			Key:       fmt.Sprintf("vehicles/%d/%d.jpg", ownerID, i),
			FileName:  fmt.Sprintf("%d.jpg", i),
			IsPrimary: p,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestCheckAndRepair(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	noPrimary := drifted(42, false, false)
	twoPrimaries := drifted(7, true, true, false)
	healthy := drifted(99, true, false)
	f.repo.Import(noPrimary...)
	f.repo.Import(twoPrimaries...)
	f.repo.Import(healthy...)

	bad, err := f.svc.CheckAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 42}, bad)

	flips, err := f.svc.RepairOwner(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []vehicleimage.PrimaryFlag{{ImageID: noPrimary[0].ID, IsPrimary: true}}, flips)
	assertInvariant(t, f, 42)

	report, err := f.svc.RepairAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.OwnersChecked)
	assert.Equal(t, []int64{7}, report.OwnersRepaired)
	assert.Equal(t, 1, report.Flips)

	for _, id := range []int64{7, 42, 99} {
		assertInvariant(t, f, id)
	}

	// The earliest of the two primaries keeps the flag.
	img, err := f.svc.GetImage(ctx, twoPrimaries[0].ID)
	require.NoError(t, err)
	assert.True(t, img.IsPrimary)

	bad, err = f.svc.CheckAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, bad)
}

// gatedRepository holds WithOwnerLock callers until all expected callers arrive,
// so each has already passed confirmation checks.
type gatedRepository struct {
	*memory.Repository
	gate *sync.WaitGroup
}

func (r *gatedRepository) WithOwnerLock(ctx context.Context, ownerID int64, fn func(ctx context.Context, tx vehicleimage.ImageTx) error) error {
	r.gate.Done()
	r.gate.Wait()
	return r.Repository.WithOwnerLock(ctx, ownerID, fn)
}

func TestConfirmUpload_ConcurrentSameKey(t *testing.T) {
	gate := &sync.WaitGroup{}
	gate.Add(2)
	repo := &gatedRepository{Repository: memory.New(), gate: gate}
	store := memorystorage.New()
	svc, err := vehicleimage.New(
		vehicleimage.WithRepository(repo),
		vehicleimage.WithObjectStore(store),
		vehicleimage.WithOwnerDirectory(memory.NewOwnerDirectory(42)),
		vehicleimage.WithBucket(testBucket),
		vehicleimage.WithClock(tickingClock()),
	)
	require.NoError(t, err)

	ctx := context.Background()
	ticket, err := svc.BeginUpload(ctx, 42, "image/jpeg")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, ticket.Bucket, ticket.Key, ticket.ContentType, strings.NewReader("jpeg")))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ConfirmUpload(ctx, vehicleimage.ConfirmUploadRequest{
				OwnerID:     42,
				Key:         ticket.Key,
				FileName:    fmt.Sprintf("copy-%d.jpg", i),
				ContentType: "image/jpeg",
				Size:        4,
			})
		}(i)
	}
	wg.Wait()

	var succeeded, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, vehicleimage.ErrDuplicateKey):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, duplicates)
	assert.Equal(t, []string{ticket.Key}, store.Deletes())

	images, err := repo.ListImages(ctx, 42)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.True(t, images[0].IsPrimary)
}
