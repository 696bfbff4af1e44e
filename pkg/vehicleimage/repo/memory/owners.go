package memory

import (
	"context"
	"sync"
)

// OwnerDirectory implements vehicleimage.OwnerDirectory over an in-process set of vehicle ids
type OwnerDirectory struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
}

func NewOwnerDirectory(ids ...int64) *OwnerDirectory {
	d := &OwnerDirectory{ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
	return d
}

func (d *OwnerDirectory) Add(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[id] = struct{}{}
}

func (d *OwnerDirectory) Remove(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ids, id)
}

func (d *OwnerDirectory) OwnerExists(ctx context.Context, ownerID int64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[ownerID]
	return ok, nil
}
