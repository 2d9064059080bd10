package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pcb-inventory/internal/adapter/storage"
	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/port"
)

// Mock CacheRepository
type mockCacheRepo struct {
	mu             sync.Mutex
	idempotencySet map[string]bool
	stock          map[int64]int
	failSetNX      error
	released       []string
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		idempotencySet: make(map[string]bool),
		stock:          make(map[int64]int),
	}
}

func (m *mockCacheRepo) SetStock(ctx context.Context, componentID int64, stock int, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[componentID] = stock
	return true, nil
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSetNX != nil {
		return false, m.failSetNX
	}
	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	m.released = append(m.released, key)
	return nil
}

// faultyLedger wraps the memory ledger to record lock order and inject
// failures into the transaction handle.
type faultyLedger struct {
	*storage.MemoryLedger

	mu              sync.Mutex
	lockOrder       []int64
	failConsumption error
	failTrigger     error
}

func (f *faultyLedger) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	return f.MemoryLedger.WithinTx(ctx, func(tx port.LedgerTx) error {
		return fn(&faultyTx{LedgerTx: tx, parent: f})
	})
}

type faultyTx struct {
	port.LedgerTx
	parent *faultyLedger
}

func (t *faultyTx) LockComponent(ctx context.Context, componentID int64) (*domain.Component, error) {
	t.parent.mu.Lock()
	t.parent.lockOrder = append(t.parent.lockOrder, componentID)
	t.parent.mu.Unlock()
	return t.LedgerTx.LockComponent(ctx, componentID)
}

func (t *faultyTx) InsertConsumptionRecord(ctx context.Context, record domain.ConsumptionRecord) (int64, error) {
	if t.parent.failConsumption != nil {
		return 0, t.parent.failConsumption
	}
	return t.LedgerTx.InsertConsumptionRecord(ctx, record)
}

func (t *faultyTx) OpenTrigger(ctx context.Context, componentID int64) (int64, error) {
	if t.parent.failTrigger != nil {
		return 0, t.parent.failTrigger
	}
	return t.LedgerTx.OpenTrigger(ctx, componentID)
}

func putComponent(t *testing.T, l *storage.MemoryLedger, id int64, stock, monthly int) {
	t.Helper()
	require.NoError(t, l.PutComponent(context.Background(), domain.Component{
		ID:                      id,
		Name:                    fmt.Sprintf("component-%d", id),
		PartNumber:              fmt.Sprintf("PN-%d", id),
		CurrentStock:            stock,
		MonthlyRequiredQuantity: monthly,
	}))
}

func stockOf(t *testing.T, l *storage.MemoryLedger, id int64) int {
	t.Helper()
	c, ok := l.Component(id)
	require.True(t, ok)
	return c.CurrentStock
}

func openTriggerCount(l *storage.MemoryLedger, componentID int64) int {
	n := 0
	for _, tr := range l.ProcurementTriggers() {
		if tr.ComponentID == componentID && tr.Status == domain.TriggerStatusOpen {
			n++
		}
	}
	return n
}

func TestRecordProduction_Success(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 7, 100, 0)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 7, QuantityRequired: 10})

	svc := NewProductionService(ledger, 0)

	outcome := svc.RecordProduction(context.Background(), 1, 5)

	require.True(t, outcome.Committed(), "unexpected failure: %v", outcome.Err())
	assert.NoError(t, outcome.Err())
	assert.Equal(t, domain.StateCommitted, outcome.FinalState)
	assert.Equal(t, 1, outcome.Success.ComponentsConsumed)
	assert.Equal(t, "main-board", outcome.Success.BoardName)
	assert.NotZero(t, outcome.Success.ProductionEntryID)
	assert.Equal(t, 50, stockOf(t, ledger, 7))

	records := ledger.ConsumptionRecords()
	require.Len(t, records, 1)
	assert.Equal(t, int64(7), records[0].ComponentID)
	assert.Equal(t, int64(1), records[0].BoardID)
	assert.Equal(t, 50, records[0].QuantityUsed)
	assert.Equal(t, outcome.Success.ProductionEntryID, records[0].ProductionEntryID)
}

func TestRecordProduction_InsufficientStock(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 8, 40, 0)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 8, QuantityRequired: 25})

	svc := NewProductionService(ledger, 0)

	outcome := svc.RecordProduction(context.Background(), 1, 2)

	require.False(t, outcome.Committed())
	assert.Equal(t, domain.FailureInsufficientStock, outcome.Kind())
	assert.Equal(t, domain.StateAborted, outcome.FinalState)
	require.Len(t, outcome.Failure.Shortages, 1)
	assert.Equal(t, domain.Shortage{
		ComponentID: 8,
		Name:        "component-8",
		PartNumber:  "PN-8",
		Available:   40,
		Required:    50,
		Deficit:     10,
	}, outcome.Failure.Shortages[0])
	assert.Equal(t, 40, stockOf(t, ledger, 8))
	assert.Empty(t, ledger.ConsumptionRecords())
}

func TestRecordProduction_ReportsEveryShortage(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 5, 0)
	putComponent(t, ledger, 2, 1000, 0)
	putComponent(t, ledger, 3, 0, 0)
	ledger.SetBOM(1,
		domain.BOMEntry{ComponentID: 3, QuantityRequired: 1},
		domain.BOMEntry{ComponentID: 2, QuantityRequired: 1},
		domain.BOMEntry{ComponentID: 1, QuantityRequired: 1},
	)

	svc := NewProductionService(ledger, 0)

	outcome := svc.RecordProduction(context.Background(), 1, 10)

	require.Equal(t, domain.FailureInsufficientStock, outcome.Kind())
	require.Len(t, outcome.Failure.Shortages, 2)
	assert.Equal(t, int64(1), outcome.Failure.Shortages[0].ComponentID)
	assert.Equal(t, 5, outcome.Failure.Shortages[0].Deficit)
	assert.Equal(t, int64(3), outcome.Failure.Shortages[1].ComponentID)
	assert.Equal(t, 10, outcome.Failure.Shortages[1].Deficit)

	// The sufficient component is untouched as well
	assert.Equal(t, 5, stockOf(t, ledger, 1))
	assert.Equal(t, 1000, stockOf(t, ledger, 2))
	assert.Equal(t, 0, stockOf(t, ledger, 3))
	entries, err := svc.ProductionHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecordProduction_MissingComponentIsShortage(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 100, 0)
	ledger.SetBOM(1,
		domain.BOMEntry{ComponentID: 1, QuantityRequired: 1},
		domain.BOMEntry{ComponentID: 404, QuantityRequired: 3},
	)

	svc := NewProductionService(ledger, 0)

	outcome := svc.RecordProduction(context.Background(), 1, 2)

	require.Equal(t, domain.FailureInsufficientStock, outcome.Kind())
	require.Len(t, outcome.Failure.Shortages, 1)
	s := outcome.Failure.Shortages[0]
	assert.True(t, s.Missing)
	assert.Equal(t, int64(404), s.ComponentID)
	assert.Equal(t, 0, s.Available)
	assert.Equal(t, 6, s.Required)
	assert.Equal(t, 6, s.Deficit)
	assert.Equal(t, 100, stockOf(t, ledger, 1))
}

func TestRecordProduction_RejectsBadRequests(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "with-bom"})
	ledger.PutBoard(domain.Board{ID: 2, Name: "without-bom"})
	putComponent(t, ledger, 1, 100, 0)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 1, QuantityRequired: 2})

	svc := NewProductionService(ledger, 0)

	tests := []struct {
		name     string
		boardID  int64
		quantity int
		want     domain.FailureKind
	}{
		{"zero quantity", 1, 0, domain.FailureInvalidInput},
		{"negative quantity", 1, -3, domain.FailureInvalidInput},
		{"missing board id", 0, 1, domain.FailureInvalidInput},
		{"unknown board", 99, 1, domain.FailureNotFound},
		{"board without bom", 2, 1, domain.FailureNoBOMDefined},
		{"overflowing quantity", 1, math.MaxInt, domain.FailureInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := svc.RecordProduction(context.Background(), tt.boardID, tt.quantity)
			assert.Equal(t, tt.want, outcome.Kind())
			assert.Equal(t, domain.StateAborted, outcome.FinalState)
			assert.Nil(t, outcome.Success)
		})
	}

	assert.Equal(t, 100, stockOf(t, ledger, 1))
	assert.Empty(t, ledger.ConsumptionRecords())
}

func TestRecordProduction_ConcurrentRequestsNeverOversell(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 9, 100, 0)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 9, QuantityRequired: 60})

	svc := NewProductionService(ledger, 0)

	var wg sync.WaitGroup
	outcomes := make([]domain.Outcome, 2)
	start := make(chan struct{})
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcomes[i] = svc.RecordProduction(context.Background(), 1, 1)
		}(i)
	}
	close(start)
	wg.Wait()

	committed, rejected := 0, 0
	for _, o := range outcomes {
		switch {
		case o.Committed():
			committed++
		case o.Kind() == domain.FailureInsufficientStock:
			rejected++
			require.Len(t, o.Failure.Shortages, 1)
			assert.Equal(t, 40, o.Failure.Shortages[0].Available)
			assert.Equal(t, 60, o.Failure.Shortages[0].Required)
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 40, stockOf(t, ledger, 9))
}

func TestRecordProduction_Concurrent(t *testing.T) {
	initialStock := 20
	totalRequests := 50

	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, initialStock, 0)
	putComponent(t, ledger, 2, initialStock*3, 0)
	ledger.SetBOM(1,
		domain.BOMEntry{ComponentID: 2, QuantityRequired: 3},
		domain.BOMEntry{ComponentID: 1, QuantityRequired: 1},
	)

	svc := NewProductionService(ledger, 0)

	var successCount atomic.Int32
	var failCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := svc.RecordProduction(context.Background(), 1, 1)
			if outcome.Committed() {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(initialStock), successCount.Load())
	assert.Equal(t, int32(totalRequests-initialStock), failCount.Load())
	assert.Equal(t, 0, stockOf(t, ledger, 1))
	assert.Equal(t, 0, stockOf(t, ledger, 2))
	assert.Len(t, ledger.ConsumptionRecords(), initialStock*2)
}

func TestRecordProduction_OverlappingBoardsDoNotDeadlock(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "alpha"})
	ledger.PutBoard(domain.Board{ID: 2, Name: "beta"})
	putComponent(t, ledger, 10, 10000, 0)
	putComponent(t, ledger, 20, 10000, 0)
	putComponent(t, ledger, 30, 10000, 0)
	// Opposite BOM row order on the two boards
	ledger.SetBOM(1,
		domain.BOMEntry{ComponentID: 10, QuantityRequired: 1},
		domain.BOMEntry{ComponentID: 20, QuantityRequired: 1},
		domain.BOMEntry{ComponentID: 30, QuantityRequired: 1},
	)
	ledger.SetBOM(2,
		domain.BOMEntry{ComponentID: 30, QuantityRequired: 1},
		domain.BOMEntry{ComponentID: 20, QuantityRequired: 1},
		domain.BOMEntry{ComponentID: 10, QuantityRequired: 1},
	)

	svc := NewProductionService(ledger, 0, WithTxTimeout(5*time.Second))

	var wg sync.WaitGroup
	var committed atomic.Int32
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := svc.RecordProduction(context.Background(), int64(i%2+1), 1)
			if outcome.Committed() {
				committed.Add(1)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("production transactions did not finish")
	}

	assert.Equal(t, int32(200), committed.Load())
	for _, id := range []int64{10, 20, 30} {
		assert.Equal(t, 9800, stockOf(t, ledger, id))
	}
}

func TestRecordProduction_LocksInAscendingOrder(t *testing.T) {
	ledger := &faultyLedger{MemoryLedger: storage.NewMemoryLedger()}
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	for _, id := range []int64{42, 7, 19} {
		putComponent(t, ledger.MemoryLedger, id, 100, 0)
	}
	ledger.SetBOM(1,
		domain.BOMEntry{ComponentID: 42, QuantityRequired: 1},
		domain.BOMEntry{ComponentID: 7, QuantityRequired: 1},
		domain.BOMEntry{ComponentID: 19, QuantityRequired: 1},
	)

	svc := NewProductionService(ledger, 0)

	outcome := svc.RecordProduction(context.Background(), 1, 1)

	require.True(t, outcome.Committed())
	assert.Equal(t, []int64{7, 19, 42}, ledger.lockOrder)
}

func TestRecordProduction_PersistenceFailureRollsBack(t *testing.T) {
	ledger := &faultyLedger{MemoryLedger: storage.NewMemoryLedger()}
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger.MemoryLedger, 1, 100, 500)
	putComponent(t, ledger.MemoryLedger, 2, 100, 0)
	ledger.SetBOM(1,
		domain.BOMEntry{ComponentID: 1, QuantityRequired: 10},
		domain.BOMEntry{ComponentID: 2, QuantityRequired: 10},
	)
	diskFull := errors.New("disk full")

	svc := NewProductionService(ledger, 0)

	ledger.failConsumption = diskFull
	outcome := svc.RecordProduction(context.Background(), 1, 5)

	require.Equal(t, domain.FailureInternal, outcome.Kind())
	assert.Equal(t, domain.StateAborted, outcome.FinalState)
	assert.ErrorIs(t, outcome.Err(), diskFull)
	assert.NotContains(t, outcome.Failure.Message, "disk full")
	assert.Equal(t, 100, stockOf(t, ledger.MemoryLedger, 1))
	assert.Equal(t, 100, stockOf(t, ledger.MemoryLedger, 2))
	assert.Empty(t, ledger.ConsumptionRecords())

	// Failure while opening triggers also undoes the deduction
	ledger.failConsumption = nil
	ledger.failTrigger = diskFull
	outcome = svc.RecordProduction(context.Background(), 1, 5)

	require.Equal(t, domain.FailureInternal, outcome.Kind())
	assert.Equal(t, 100, stockOf(t, ledger.MemoryLedger, 1))
	assert.Empty(t, ledger.ProcurementTriggers())
	assert.Empty(t, ledger.ConsumptionRecords())
}

func TestRecordProduction_DuplicateRowsOverflowingAbort(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 100, 0)
	ledger.SetBOM(1,
		domain.BOMEntry{ComponentID: 1, QuantityRequired: math.MaxInt/2 + 1},
		domain.BOMEntry{ComponentID: 1, QuantityRequired: math.MaxInt/2 + 1},
	)

	svc := NewProductionService(ledger, 0)
	outcome := svc.RecordProduction(context.Background(), 1, 1)

	require.False(t, outcome.Committed())
	assert.Equal(t, domain.FailureInternal, outcome.Kind())
	assert.Equal(t, domain.StateAborted, outcome.FinalState)
	assert.Equal(t, 100, stockOf(t, ledger, 1))
	assert.Empty(t, ledger.ConsumptionRecords())
}

func TestRecordProduction_ZeroQuantityRowCommits(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 100, 0)
	putComponent(t, ledger, 2, 7, 0)
	ledger.SetBOM(1,
		domain.BOMEntry{ComponentID: 1, QuantityRequired: 3},
		domain.BOMEntry{ComponentID: 2, QuantityRequired: 0},
	)

	svc := NewProductionService(ledger, 0)
	for i := 0; i < 2; i++ {
		outcome := svc.RecordProduction(context.Background(), 1, 4)
		require.True(t, outcome.Committed(), "unexpected failure: %v", outcome.Err())
		assert.Equal(t, 2, outcome.Success.ComponentsConsumed)
	}

	assert.Equal(t, 76, stockOf(t, ledger, 1))
	assert.Equal(t, 7, stockOf(t, ledger, 2))

	records := ledger.ConsumptionRecords()
	require.Len(t, records, 4)
	for _, r := range records {
		if r.ComponentID == 2 {
			assert.Equal(t, 0, r.QuantityUsed)
		} else {
			assert.Equal(t, 12, r.QuantityUsed)
		}
	}
}

func TestRecordProduction_ProcurementTriggerOpenedOnce(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 5, 110, 500)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 5, QuantityRequired: 20})

	svc := NewProductionService(ledger, 0)

	outcome := svc.RecordProduction(context.Background(), 1, 1)
	require.True(t, outcome.Committed())
	assert.Equal(t, 90, stockOf(t, ledger, 5))
	assert.Len(t, outcome.Success.TriggersOpened, 1)
	assert.Equal(t, 1, openTriggerCount(ledger, 5))

	outcome = svc.RecordProduction(context.Background(), 1, 1)
	require.True(t, outcome.Committed())
	assert.Equal(t, 70, stockOf(t, ledger, 5))
	assert.Empty(t, outcome.Success.TriggersOpened)
	assert.Equal(t, 1, openTriggerCount(ledger, 5))

	// Once the reorder subsystem closes it, the next depletion opens a new one
	require.True(t, ledger.CloseTrigger(5))
	outcome = svc.RecordProduction(context.Background(), 1, 1)
	require.True(t, outcome.Committed())
	assert.Len(t, outcome.Success.TriggersOpened, 1)
	assert.Equal(t, 1, openTriggerCount(ledger, 5))
	assert.Len(t, ledger.ProcurementTriggers(), 2)
}

func TestRecordProduction_NoTriggerAtOrAboveThreshold(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 120, 500) // ends at exactly 100
	putComponent(t, ledger, 2, 50, 0)    // no monthly target
	ledger.SetBOM(1,
		domain.BOMEntry{ComponentID: 1, QuantityRequired: 20},
		domain.BOMEntry{ComponentID: 2, QuantityRequired: 50},
	)

	svc := NewProductionService(ledger, 0)

	outcome := svc.RecordProduction(context.Background(), 1, 1)

	require.True(t, outcome.Committed())
	assert.Empty(t, outcome.Success.TriggersOpened)
	assert.Empty(t, ledger.ProcurementTriggers())
	assert.Equal(t, 0, stockOf(t, ledger, 2))
}

func TestRecordProduction_ConfigurableReorderFraction(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 300, 500)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 1, QuantityRequired: 100})

	svc := NewProductionService(ledger, 0, WithReorderFraction(decimal.RequireFromString("0.5")))

	outcome := svc.RecordProduction(context.Background(), 1, 1)

	require.True(t, outcome.Committed())
	assert.Len(t, outcome.Success.TriggersOpened, 1)
}

func TestRecordProduction_ConcurrentDepletionOpensOneTrigger(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 1000, 5000)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 1, QuantityRequired: 10})

	svc := NewProductionService(ledger, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.RecordProduction(context.Background(), 1, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, stockOf(t, ledger, 1))
	assert.Equal(t, 1, openTriggerCount(ledger, 1))
}

func TestRecordProduction_LockWaitTimeout(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 100, 0)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 1, QuantityRequired: 1})

	locked := make(chan struct{})
	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- ledger.WithinTx(context.Background(), func(tx port.LedgerTx) error {
			if _, err := tx.LockComponent(context.Background(), 1); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	t.Run("caller deadline", func(t *testing.T) {
		svc := NewProductionService(ledger, 0)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		outcome := svc.RecordProduction(ctx, 1, 1)

		assert.Equal(t, domain.FailureInternal, outcome.Kind())
		assert.ErrorIs(t, outcome.Err(), context.DeadlineExceeded)
	})

	t.Run("configured timeout", func(t *testing.T) {
		svc := NewProductionService(ledger, 0, WithTxTimeout(50*time.Millisecond))

		outcome := svc.RecordProduction(context.Background(), 1, 1)

		assert.Equal(t, domain.FailureInternal, outcome.Kind())
		assert.Equal(t, domain.StateAborted, outcome.FinalState)
	})

	close(release)
	require.NoError(t, <-holder)
	assert.Equal(t, 100, stockOf(t, ledger, 1))

	// Locks are free again afterwards
	svc := NewProductionService(ledger, 0)
	assert.True(t, svc.RecordProduction(context.Background(), 1, 1).Committed())
}

func TestRecordProductionOnce_DuplicateRequest(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 10, 0)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 1, QuantityRequired: 1})

	cache := newMockCacheRepo()
	svc := NewProductionService(ledger, 0, WithCache(cache))

	outcome := svc.RecordProductionOnce(context.Background(), "req-1", 1, 1)
	require.True(t, outcome.Committed())

	outcome = svc.RecordProductionOnce(context.Background(), "req-1", 1, 1)
	assert.Equal(t, domain.FailureDuplicateRequest, outcome.Kind())

	// Stock should only be decremented once
	assert.Equal(t, 9, stockOf(t, ledger, 1))
}

func TestRecordProductionOnce_ReleasesKeyOnFailure(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 1, 0)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 1, QuantityRequired: 2})

	cache := newMockCacheRepo()
	svc := NewProductionService(ledger, 0, WithCache(cache))

	outcome := svc.RecordProductionOnce(context.Background(), "req-2", 1, 1)
	require.Equal(t, domain.FailureInsufficientStock, outcome.Kind())
	assert.Equal(t, []string{idempotencyKeyPrefix + "req-2"}, cache.released)

	// After restocking, the same request ID may be retried
	putComponent(t, ledger, 1, 2, 0)
	outcome = svc.RecordProductionOnce(context.Background(), "req-2", 1, 1)
	assert.True(t, outcome.Committed())
}

func TestRecordProductionOnce_CacheFailure(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	cache := newMockCacheRepo()
	cache.failSetNX = errors.New("connection refused")
	svc := NewProductionService(ledger, 0, WithCache(cache))

	outcome := svc.RecordProductionOnce(context.Background(), "req-3", 1, 1)

	assert.Equal(t, domain.FailureInternal, outcome.Kind())
	assert.Equal(t, domain.StateAborted, outcome.FinalState)
}

func TestRecordProductionOnce_WithoutRequestID(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 10, 0)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 1, QuantityRequired: 1})

	cache := newMockCacheRepo()
	svc := NewProductionService(ledger, 0, WithCache(cache))

	assert.True(t, svc.RecordProductionOnce(context.Background(), "", 1, 1).Committed())
	assert.True(t, svc.RecordProductionOnce(context.Background(), "", 1, 1).Committed())
	assert.Empty(t, cache.idempotencySet)
}

func TestRecordProduction_NoticeQueued(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 3, 110, 500)
	putComponent(t, ledger, 4, 50, 0)
	ledger.SetBOM(1,
		domain.BOMEntry{ComponentID: 4, QuantityRequired: 5},
		domain.BOMEntry{ComponentID: 3, QuantityRequired: 20},
	)

	svc := NewProductionService(ledger, 10)
	defer svc.Close()

	outcome := svc.RecordProduction(context.Background(), 1, 1)
	require.True(t, outcome.Committed())

	notice := <-svc.Notices()
	assert.Equal(t, outcome.Success.ProductionEntryID, notice.ProductionEntryID)
	assert.Equal(t, int64(1), notice.BoardID)
	require.Len(t, notice.Consumed, 2)
	assert.Equal(t, domain.ConsumedComponent{ComponentID: 3, PartNumber: "PN-3", QuantityUsed: 20, NewStock: 90}, notice.Consumed[0])
	assert.Equal(t, domain.ConsumedComponent{ComponentID: 4, PartNumber: "PN-4", QuantityUsed: 5, NewStock: 45}, notice.Consumed[1])
	require.Len(t, notice.TriggersOpened, 1)
	assert.Equal(t, int64(3), notice.TriggersOpened[0].ComponentID)

	// Failed transactions are not announced
	svc.RecordProduction(context.Background(), 1, 100)
	select {
	case n := <-svc.Notices():
		t.Fatalf("unexpected notice %+v", n)
	default:
	}
}

func TestRecordProduction_FullQueueDropsNotice(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "main-board"})
	putComponent(t, ledger, 1, 10, 0)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 1, QuantityRequired: 1})

	svc := NewProductionService(ledger, 1)

	assert.True(t, svc.RecordProduction(context.Background(), 1, 1).Committed())
	// Queue is full; the commit still succeeds
	assert.True(t, svc.RecordProduction(context.Background(), 1, 1).Committed())
	assert.Equal(t, 8, stockOf(t, ledger, 1))

	svc.Close()
	svc.Close()

	var n int
	for range svc.Notices() {
		n++
	}
	assert.Equal(t, 1, n)

	// Commits after Close are not enqueued
	assert.True(t, svc.RecordProduction(context.Background(), 1, 1).Committed())
}

func TestProductionHistory(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: 1, Name: "alpha"})
	ledger.PutBoard(domain.Board{ID: 2, Name: "beta"})
	putComponent(t, ledger, 1, 1000, 0)
	ledger.SetBOM(1, domain.BOMEntry{ComponentID: 1, QuantityRequired: 1})
	ledger.SetBOM(2, domain.BOMEntry{ComponentID: 1, QuantityRequired: 1})

	base := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	clock := func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Minute)
	}
	svc := NewProductionService(ledger, 0, WithClock(clock))

	require.True(t, svc.RecordProduction(context.Background(), 1, 3).Committed())
	require.True(t, svc.RecordProduction(context.Background(), 2, 4).Committed())
	require.True(t, svc.RecordProduction(context.Background(), 1, 5).Committed())

	entries, err := svc.ProductionHistory(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 5, entries[0].QuantityProduced)
	assert.Equal(t, "alpha", entries[0].BoardName)
	assert.Equal(t, 4, entries[1].QuantityProduced)
	assert.Equal(t, "beta", entries[1].BoardName)

	entries, err = svc.ProductionHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
