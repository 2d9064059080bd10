package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rl1809/pcb-inventory/internal/adapter/storage"
	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/core/service"
)

// newTestService builds board 1 ("controller") needing 2 of component 10 and
// 1 of component 11, and board 2 with no parts list.
func newTestService(t *testing.T) (*service.ProductionService, *storage.MemoryLedger) {
	t.Helper()
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "controller"})
	ledger.PutBoard(domain.Board{ID: 2, Name: "blank"})
	require.NoError(t, ledger.PutComponent(context.Background(), domain.Component{
		ID: 10, Name: "resistor", PartNumber: "R-10K", CurrentStock: 100,
	}))
	require.NoError(t, ledger.PutComponent(context.Background(), domain.Component{
		ID: 11, Name: "mcu", PartNumber: "MCU-32", CurrentStock: 5, MonthlyRequiredQuantity: 100,
	}))
	ledger.SetBOM(1,
		domain.BOMEntry{ComponentID: 10, QuantityRequired: 2},
		domain.BOMEntry{ComponentID: 11, QuantityRequired: 1},
	)
	return service.NewProductionService(ledger, 0), ledger
}
