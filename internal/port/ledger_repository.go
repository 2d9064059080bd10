package port

import (
	"context"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
)

type Ledger interface {
	// GetBoard retrieves a board by ID, returns nil if it does not exist
	GetBoard(ctx context.Context, boardID int64) (*domain.Board, error)

	// WithinTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; held component locks are released
	// either way.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// ListProductionEntries returns the newest production entries first
	ListProductionEntries(ctx context.Context, limit int) ([]domain.ProductionEntry, error)
}

// LedgerTx is the transaction-scoped handle passed to every stage of a
// production transaction.
type LedgerTx interface {
	BOMReader
	ComponentLocker
	RecordWriter
	TriggerStore
}

type BOMReader interface {
	// BOMEntries returns every BOM row of a board
	BOMEntries(ctx context.Context, boardID int64) ([]domain.BOMEntry, error)
}

type ComponentLocker interface {
	// LockComponent takes an exclusive hold on a component for the rest of
	// the transaction and returns its current state, or nil if the component
	// does not exist. Callers decide the acquisition order.
	LockComponent(ctx context.Context, componentID int64) (*domain.Component, error)

	// DeductStock decreases a held component's stock. It fails rather than
	// let stock become negative.
	DeductStock(ctx context.Context, componentID int64, quantity int) error
}

type RecordWriter interface {
	InsertProductionEntry(ctx context.Context, entry domain.ProductionEntry) (int64, error)
	InsertConsumptionRecord(ctx context.Context, record domain.ConsumptionRecord) (int64, error)
}

type TriggerStore interface {
	// HasOpenTrigger reports whether the component already has an OPEN trigger
	HasOpenTrigger(ctx context.Context, componentID int64) (bool, error)

	// OpenTrigger creates an OPEN trigger and returns its ID
	OpenTrigger(ctx context.Context, componentID int64) (int64, error)
}
