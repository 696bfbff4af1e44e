package vehicleimage

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckAll returns the owners whose stored images violate the primary invariant.
func (s *service) CheckAll(ctx context.Context) ([]int64, error) {
	owners, err := s.repository.ListOwners(ctx)
	if err != nil {
		return nil, unavailable("list_owners", s.bucket, "", err)
	}

	var bad []int64
	for _, ownerID := range owners {
		images, err := s.repository.ListImages(ctx, ownerID)
		if err != nil {
			return nil, &ImageError{OwnerID: ownerID, Op: "check", Err: unavailable("list_images", s.bucket, "", err)}
		}
		if CheckInvariant(images) != nil {
			bad = append(bad, ownerID)
		}
	}
	return bad, nil
}

// RepairOwner restores the primary invariant for one owner and returns the flips applied.
func (s *service) RepairOwner(ctx context.Context, ownerID int64) (flips []PrimaryFlag, err error) {
	defer s.observe("repair", time.Now(), &err)

	err = s.repository.WithOwnerLock(ctx, ownerID, func(ctx context.Context, tx ImageTx) error {
		images, err := tx.ListImages(ctx)
		if err != nil {
			return err
		}
		flips = s.coordinator.Reconcile(images)
		if len(flips) == 0 {
			return nil
		}
		return tx.SetPrimary(ctx, flips)
	})
	if err != nil {
		return nil, &ImageError{OwnerID: ownerID, Op: "repair", Err: unavailable("repair", s.bucket, "", err)}
	}
	if len(flips) > 0 {
		s.logger.WarnContext(ctx, "repaired primary image invariant", "vehicle_id", ownerID, "flips", len(flips))
	}
	return flips, nil
}

// RepairAll repairs every owner with images, a bounded number at a time.
func (s *service) RepairAll(ctx context.Context) (*RepairReport, error) {
	owners, err := s.repository.ListOwners(ctx)
	if err != nil {
		return nil, unavailable("list_owners", s.bucket, "", err)
	}

	report := &RepairReport{OwnersChecked: len(owners)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.repairConcurrency)
	for _, ownerID := range owners {
		g.Go(func() error {
			flips, err := s.RepairOwner(gctx, ownerID)
			if err != nil {
				return err
			}
			if len(flips) == 0 {
				return nil
			}
			mu.Lock()
			report.OwnersRepaired = append(report.OwnersRepaired, ownerID)
			report.Flips += len(flips)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	sort.Slice(report.OwnersRepaired, func(i, j int) bool {
		return report.OwnersRepaired[i] < report.OwnersRepaired[j]
	})
	return report, nil
}
