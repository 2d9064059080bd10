package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/port"
)

// deductStock decrements every held component. Only called with zero
// shortages.
func deductStock(ctx context.Context, tx port.ComponentLocker, held []heldComponent) error {
	for _, h := range held {
		if err := tx.DeductStock(ctx, h.component.ID, h.required); err != nil {
			return fmt.Errorf("deduct component %d: %w", h.component.ID, err)
		}
	}
	return nil
}

// recordConsumption writes the production entry and one consumption record
// per component, returning the entry ID.
func recordConsumption(ctx context.Context, tx port.RecordWriter, boardID int64, quantity int, held []heldComponent, now time.Time) (int64, error) {
	entryID, err := tx.InsertProductionEntry(ctx, domain.ProductionEntry{
		BoardID:          boardID,
		QuantityProduced: quantity,
		CreatedAt:        now,
	})
	if err != nil {
		return 0, fmt.Errorf("insert production entry: %w", err)
	}

	for _, h := range held {
		_, err := tx.InsertConsumptionRecord(ctx, domain.ConsumptionRecord{
			ProductionEntryID: entryID,
			ComponentID:       h.component.ID,
			BoardID:           boardID,
			QuantityUsed:      h.required,
			CreatedAt:         now,
		})
		if err != nil {
			return 0, fmt.Errorf("insert consumption record for component %d: %w", h.component.ID, err)
		}
	}

	return entryID, nil
}
