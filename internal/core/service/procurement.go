package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/port"
)

var DefaultReorderFraction = decimal.RequireFromString("0.2")

// reorderPolicy opens a trigger when stock falls below fraction × monthly
// required quantity.
type reorderPolicy struct {
	fraction decimal.Decimal
}

func (p reorderPolicy) threshold(monthlyRequired int) decimal.Decimal {
	return p.fraction.Mul(decimal.NewFromInt(int64(monthlyRequired)))
}

func (p reorderPolicy) belowThreshold(stock, monthlyRequired int) bool {
	return decimal.NewFromInt(int64(stock)).LessThan(p.threshold(monthlyRequired))
}

// openTriggers runs after deduction while the components are still held, so
// the check and the insert cannot race with another production transaction.
func openTriggers(ctx context.Context, tx port.TriggerStore, policy reorderPolicy, held []heldComponent, now time.Time) ([]domain.ProcurementTrigger, error) {
	var opened []domain.ProcurementTrigger

	for _, h := range held {
		newStock := h.component.CurrentStock - h.required
		if !policy.belowThreshold(newStock, h.component.MonthlyRequiredQuantity) {
			continue
		}

		exists, err := tx.HasOpenTrigger(ctx, h.component.ID)
		if err != nil {
			return nil, fmt.Errorf("check open trigger for component %d: %w", h.component.ID, err)
		}
		if exists {
			continue
		}

		id, err := tx.OpenTrigger(ctx, h.component.ID)
		if err != nil {
			return nil, fmt.Errorf("open trigger for component %d: %w", h.component.ID, err)
		}
		opened = append(opened, domain.ProcurementTrigger{
			ID:          id,
			ComponentID: h.component.ID,
			Status:      domain.TriggerStatusOpen,
			CreatedAt:   now,
		})
	}

	return opened, nil
}
