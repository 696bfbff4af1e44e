package vehicleimage

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// PrimaryCoordinator decides primary flags for image creation and deletion.
// It is pure: callers read the owner's images and persist the returned flips
// inside the same owner-scoped unit of work.
type PrimaryCoordinator struct{}

// OnCreate decides whether a new image becomes primary and which existing
// images must lose the flag. The first image of an owner is always primary.
func (PrimaryCoordinator) OnCreate(existing []*ImageAsset, requested bool) (bool, []PrimaryFlag) {
	isPrimary := requested || len(existing) == 0
	if !isPrimary {
		return false, nil
	}
	var flips []PrimaryFlag
	for _, img := range existing {
		if img.IsPrimary {
			flips = append(flips, PrimaryFlag{ImageID: img.ID, IsPrimary: false})
		}
	}
	return true, flips
}

// OnDelete returns the flips needed after an image was removed. remaining must
// be in display order. When the deleted image was primary the first remaining
// image is promoted and every other is forced non-primary.
func (PrimaryCoordinator) OnDelete(remaining []*ImageAsset, deletedWasPrimary bool) []PrimaryFlag {
	if !deletedWasPrimary || len(remaining) == 0 {
		return nil
	}
	return electFirst(remaining)
}

// Reconcile returns the flips that restore the invariant on images in display
// order. Nothing is returned when the invariant already holds.
func (PrimaryCoordinator) Reconcile(images []*ImageAsset) []PrimaryFlag {
	if len(images) == 0 || CheckInvariant(images) == nil {
		return nil
	}
	// Display order puts primaries first, so the oldest current primary is kept.
	return electFirst(images)
}

func electFirst(images []*ImageAsset) []PrimaryFlag {
	var flips []PrimaryFlag
	for i, img := range images {
		want := i == 0
		if img.IsPrimary != want {
			flips = append(flips, PrimaryFlag{ImageID: img.ID, IsPrimary: want})
		}
	}
	return flips
}

// CheckInvariant returns ErrPrimaryInvariant unless exactly one image is
// primary, or there are no images at all.
func CheckInvariant(images []*ImageAsset) error {
	primaries := 0
	for _, img := range images {
		if img.IsPrimary {
			primaries++
		}
	}
	if len(images) == 0 && primaries == 0 {
		return nil
	}
	if primaries != 1 {
		return fmt.Errorf("%w: %d primaries among %d images", ErrPrimaryInvariant, primaries, len(images))
	}
	return nil
}

// ApplyFlags returns copies of images with flags applied.
func ApplyFlags(images []*ImageAsset, flags []PrimaryFlag) []*ImageAsset {
	want := make(map[uuid.UUID]bool, len(flags))
	for _, f := range flags {
		want[f.ImageID] = f.IsPrimary
	}
	out := make([]*ImageAsset, 0, len(images))
	for _, img := range images {
		c := *img
		if v, ok := want[img.ID]; ok {
			c.IsPrimary = v
		}
		out = append(out, &c)
	}
	return out
}

// SortDisplayOrder sorts images primary first, then oldest first, then by id.
func SortDisplayOrder(images []*ImageAsset) {
	sort.SliceStable(images, func(i, j int) bool {
		a, b := images[i], images[j]
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
