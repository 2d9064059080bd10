package service

import (
	"context"
	"fmt"
	"math"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/port"
)

// resolveBOM returns the board's parts list. Rows naming the same component
// are folded into one entry so a component is locked and deducted once.
func resolveBOM(ctx context.Context, tx port.BOMReader, boardID int64) ([]domain.BOMEntry, error) {
	rows, err := tx.BOMEntries(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("fetch bom: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.NewFailure(domain.FailureNoBOMDefined, "no BOM defined for this board")
	}

	index := make(map[int64]int, len(rows))
	entries := make([]domain.BOMEntry, 0, len(rows))
	for _, row := range rows {
		if row.QuantityRequired < 0 {
			return nil, fmt.Errorf("bom row for component %d has negative quantity %d", row.ComponentID, row.QuantityRequired)
		}
		if i, ok := index[row.ComponentID]; ok {
			if entries[i].QuantityRequired > math.MaxInt-row.QuantityRequired {
				return nil, fmt.Errorf("bom rows for component %d overflow the required quantity", row.ComponentID)
			}
			entries[i].QuantityRequired += row.QuantityRequired
			continue
		}
		index[row.ComponentID] = len(entries)
		entries = append(entries, row)
	}
	return entries, nil
}
