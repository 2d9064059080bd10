package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/port"
)

// MemoryLedger is an in-process ledger. Components are guarded by exclusive
// leases held for the lifetime of a transaction; writes are staged on the
// transaction and applied under one lock at commit, so readers never see a
// partially applied transaction.
type MemoryLedger struct {
	mu          sync.RWMutex
	boards      map[int64]domain.Board
	components  map[int64]domain.Component
	bom         map[int64][]domain.BOMEntry
	entries     []domain.ProductionEntry
	consumption []domain.ConsumptionRecord
	triggers    []domain.ProcurementTrigger

	nextEntryID       atomic.Int64
	nextConsumptionID atomic.Int64
	nextTriggerID     atomic.Int64

	leases *leaseTable
	now    func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		boards:     make(map[int64]domain.Board),
		components: make(map[int64]domain.Component),
		bom:        make(map[int64][]domain.BOMEntry),
		leases:     newLeaseTable(),
		now:        time.Now,
	}
}

func (l *MemoryLedger) PutBoard(board domain.Board) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.boards[board.ID] = board
}

// PutComponent creates or replaces a component. It waits for any
// transaction holding the component to finish.
func (l *MemoryLedger) PutComponent(ctx context.Context, component domain.Component) error {
	if component.CurrentStock < 0 {
		return ErrStockGuard
	}
	if err := l.leases.acquire(ctx, component.ID); err != nil {
		return err
	}
	defer l.leases.release(component.ID)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if existing, ok := l.components[component.ID]; ok {
		component.CreatedAt = existing.CreatedAt
	} else {
		component.CreatedAt = now
	}
	component.UpdatedAt = now
	l.components[component.ID] = component
	return nil
}

// SetBOM replaces a board's parts list. Row order is kept as given.
func (l *MemoryLedger) SetBOM(boardID int64, entries ...domain.BOMEntry) {
	rows := make([]domain.BOMEntry, len(entries))
	for i, e := range entries {
		e.BoardID = boardID
		rows[i] = e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.bom[boardID] = rows
}

// CloseTrigger closes the component's OPEN trigger, reporting whether one
// existed.
func (l *MemoryLedger) CloseTrigger(componentID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.triggers {
		if l.triggers[i].ComponentID == componentID && l.triggers[i].Status == domain.TriggerStatusOpen {
			l.triggers[i].Status = domain.TriggerStatusClosed
			return true
		}
	}
	return false
}

func (l *MemoryLedger) Component(componentID int64) (domain.Component, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.components[componentID]
	return c, ok
}

func (l *MemoryLedger) ConsumptionRecords() []domain.ConsumptionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.consumption)
}

func (l *MemoryLedger) ProcurementTriggers() []domain.ProcurementTrigger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.triggers)
}

func (l *MemoryLedger) GetBoard(ctx context.Context, boardID int64) (*domain.Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.boards[boardID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (l *MemoryLedger) ListProductionEntries(ctx context.Context, limit int) ([]domain.ProductionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := slices.Clone(l.entries)
	for i := range out {
		out[i].BoardName = l.boards[out[i].BoardID].Name
	}
	slices.SortFunc(out, func(a, b domain.ProductionEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		ledger:     l,
		held:       make(map[int64]struct{}),
		deductions: make(map[int64]int),
	}
	defer tx.finish()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return tx.commit()
}

type memoryTx struct {
	ledger *MemoryLedger
	done   bool

	held        map[int64]struct{}
	deductions  map[int64]int
	entries     []domain.ProductionEntry
	consumption []domain.ConsumptionRecord
	triggers    []domain.ProcurementTrigger
}

func (tx *memoryTx) BOMEntries(ctx context.Context, boardID int64) ([]domain.BOMEntry, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	tx.ledger.mu.RLock()
	defer tx.ledger.mu.RUnlock()
	return slices.Clone(tx.ledger.bom[boardID]), nil
}

func (tx *memoryTx) LockComponent(ctx context.Context, componentID int64) (*domain.Component, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	if _, ok := tx.held[componentID]; !ok {
		if err := tx.ledger.leases.acquire(ctx, componentID); err != nil {
			return nil, err
		}
		tx.held[componentID] = struct{}{}
	}

	tx.ledger.mu.RLock()
	c, ok := tx.ledger.components[componentID]
	tx.ledger.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	c.CurrentStock -= tx.deductions[componentID]
	return &c, nil
}

func (tx *memoryTx) DeductStock(ctx context.Context, componentID int64, quantity int) error {
	if tx.done {
		return ErrTxClosed
	}
	if quantity < 0 {
		return ErrNegativeQty
	}
	if _, ok := tx.held[componentID]; !ok {
		return ErrNotHeld
	}

	tx.ledger.mu.RLock()
	c, ok := tx.ledger.components[componentID]
	tx.ledger.mu.RUnlock()
	if !ok || c.CurrentStock-tx.deductions[componentID] < quantity {
		return ErrStockGuard
	}
	tx.deductions[componentID] += quantity
	return nil
}

func (tx *memoryTx) InsertProductionEntry(ctx context.Context, entry domain.ProductionEntry) (int64, error) {
	if tx.done {
		return 0, ErrTxClosed
	}
	entry.ID = tx.ledger.nextEntryID.Add(1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = tx.ledger.now()
	}
	tx.entries = append(tx.entries, entry)
	return entry.ID, nil
}

func (tx *memoryTx) InsertConsumptionRecord(ctx context.Context, record domain.ConsumptionRecord) (int64, error) {
	if tx.done {
		return 0, ErrTxClosed
	}
	record.ID = tx.ledger.nextConsumptionID.Add(1)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = tx.ledger.now()
	}
	tx.consumption = append(tx.consumption, record)
	return record.ID, nil
}

func (tx *memoryTx) HasOpenTrigger(ctx context.Context, componentID int64) (bool, error) {
	if tx.done {
		return false, ErrTxClosed
	}
	for _, t := range tx.triggers {
		if t.ComponentID == componentID && t.Status == domain.TriggerStatusOpen {
			return true, nil
		}
	}

	tx.ledger.mu.RLock()
	defer tx.ledger.mu.RUnlock()
	for _, t := range tx.ledger.triggers {
		if t.ComponentID == componentID && t.Status == domain.TriggerStatusOpen {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) OpenTrigger(ctx context.Context, componentID int64) (int64, error) {
	if tx.done {
		return 0, ErrTxClosed
	}
	t := domain.ProcurementTrigger{
		ID:          tx.ledger.nextTriggerID.Add(1),
		ComponentID: componentID,
		Status:      domain.TriggerStatusOpen,
		CreatedAt:   tx.ledger.now(),
	}
	tx.triggers = append(tx.triggers, t)
	return t.ID, nil
}

func (tx *memoryTx) commit() error {
	l := tx.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, qty := range tx.deductions {
		c, ok := l.components[id]
		if !ok || c.CurrentStock < qty {
			return fmt.Errorf("commit component %d: %w", id, ErrStockGuard)
		}
	}

	now := l.now()
	for id, qty := range tx.deductions {
		c := l.components[id]
		c.CurrentStock -= qty
		c.UpdatedAt = now
		l.components[id] = c
	}
	l.entries = append(l.entries, tx.entries...)
	l.consumption = append(l.consumption, tx.consumption...)
	l.triggers = append(l.triggers, tx.triggers...)
	return nil
}

// finish releases every lease. Staged writes of an uncommitted transaction
// are discarded with it.
func (tx *memoryTx) finish() {
	tx.done = true
	for id := range tx.held {
		tx.ledger.leases.release(id)
	}
}
