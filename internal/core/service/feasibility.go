package service

import (
	"math"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
)

const unknownComponentName = "unknown (deleted)"

// evaluateFeasibility sets the required quantity of every held component and
// returns all shortages. It never stops at the first one.
func evaluateFeasibility(held []heldComponent, quantity int) ([]domain.Shortage, error) {
	var shortages []domain.Shortage

	for i := range held {
		h := &held[i]

		required, ok := mulInt(h.entry.QuantityRequired, quantity)
		if !ok {
			return nil, domain.NewFailure(domain.FailureInvalidInput, "quantity_produced is too large")
		}
		h.required = required

		if h.component == nil {
			shortages = append(shortages, domain.Shortage{
				ComponentID: h.entry.ComponentID,
				Name:        unknownComponentName,
				Available:   0,
				Required:    required,
				Deficit:     required,
				Missing:     true,
			})
			continue
		}

		if h.component.CurrentStock < required {
			shortages = append(shortages, domain.Shortage{
				ComponentID: h.component.ID,
				Name:        h.component.Name,
				PartNumber:  h.component.PartNumber,
				Available:   h.component.CurrentStock,
				Required:    required,
				Deficit:     required - h.component.CurrentStock,
			})
		}
	}

	return shortages, nil
}

// mulInt multiplies two non-negative ints, reporting false on overflow or a
// negative operand.
func mulInt(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt/b {
		return 0, false
	}
	return a * b, true
}
