package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/port"
)

// heldComponent is a BOM entry whose component is locked by the current
// transaction. component is nil when the BOM references a deleted component.
type heldComponent struct {
	entry     domain.BOMEntry
	component *domain.Component
	required  int
}

// lockComponents acquires every hold in ascending component ID order before
// any stock value is used. All transactions share this order, so two
// transactions with overlapping parts lists cannot wait on each other in a
// cycle.
func lockComponents(ctx context.Context, tx port.ComponentLocker, entries []domain.BOMEntry) ([]heldComponent, error) {
	ordered := slices.Clone(entries)
	slices.SortFunc(ordered, func(a, b domain.BOMEntry) int {
		return cmp.Compare(a.ComponentID, b.ComponentID)
	})

	held := make([]heldComponent, 0, len(ordered))
	for _, entry := range ordered {
		component, err := tx.LockComponent(ctx, entry.ComponentID)
		if err != nil {
			return nil, fmt.Errorf("lock component %d: %w", entry.ComponentID, err)
		}
		held = append(held, heldComponent{entry: entry, component: component})
	}
	return held, nil
}
