package storage

import (
	"context"
	"sync"
)

// leaseTable hands out exclusive per-component leases. A lease is a one-slot
// channel: holding it means having sent into it.
type leaseTable struct {
	mu    sync.Mutex
	slots map[int64]chan struct{}
}

func newLeaseTable() *leaseTable {
	return &leaseTable{slots: make(map[int64]chan struct{})}
}

func (t *leaseTable) slot(componentID int64) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[componentID]
	if !ok {
		s = make(chan struct{}, 1)
		t.slots[componentID] = s
	}
	return s
}

// acquire blocks until the lease is free or ctx is done.
func (t *leaseTable) acquire(ctx context.Context, componentID int64) error {
	select {
	case t.slot(componentID) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *leaseTable) release(componentID int64) {
	<-t.slot(componentID)
}
