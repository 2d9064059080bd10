package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/logging"
	"github.com/rl1809/pcb-inventory/internal/metrics"
	"github.com/rl1809/pcb-inventory/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:production:"
	defaultHistoryLimit  = 100
	maxHistoryLimit      = 1000
)

type ProductionService struct {
	ledger    port.Ledger
	cache     port.CacheRepository
	policy    reorderPolicy
	txTimeout time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu      sync.RWMutex
	closed  bool
	notices chan domain.ProductionRecorded
}

type Option func(*ProductionService)

// WithCache enables request idempotency through the cache.
func WithCache(cache port.CacheRepository) Option {
	return func(s *ProductionService) { s.cache = cache }
}

// WithReorderFraction sets the share of the monthly target below which a
// procurement trigger opens.
func WithReorderFraction(fraction decimal.Decimal) Option {
	return func(s *ProductionService) { s.policy = reorderPolicy{fraction: fraction} }
}

// WithTxTimeout bounds every transaction, lock waits included. Zero leaves
// only the caller's deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *ProductionService) { s.txTimeout = d }
}

// WithLogger sets the logger; nil keeps a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *ProductionService) { s.logger = logging.OrNop(logger) }
}

// WithMetrics records transaction outcomes; nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ProductionService) { s.metrics = m }
}

// WithClock overrides the timestamp source for records and triggers.
func WithClock(now func() time.Time) Option {
	return func(s *ProductionService) { s.now = now }
}

// NewProductionService creates the service. queueSize bounds the post-commit
// notice queue; zero disables notices.
func NewProductionService(ledger port.Ledger, queueSize int, opts ...Option) *ProductionService {
	s := &ProductionService{
		ledger: ledger,
		policy: reorderPolicy{fraction: DefaultReorderFraction},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	if queueSize > 0 {
		s.notices = make(chan domain.ProductionRecorded, queueSize)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordProduction deducts the components needed to build quantity units of
// a board. Either every component is deducted, recorded and checked for
// reorder in one commit, or nothing changes.
func (s *ProductionService) RecordProduction(ctx context.Context, boardID int64, quantity int) domain.Outcome {
	start := time.Now()
	sm := domain.NewStateMachine()

	result, notice, err := s.execute(ctx, sm, boardID, quantity)
	outcome := s.conclude(sm, result, err)

	s.observe(outcome, boardID, quantity, time.Since(start))
	if outcome.Committed() {
		s.enqueue(notice)
	}
	return outcome
}

// RecordProductionOnce is RecordProduction guarded by a caller-supplied
// request ID. A repeated ID is rejected with DUPLICATE_REQUEST; the ID is
// released again if the transaction does not commit.
func (s *ProductionService) RecordProductionOnce(ctx context.Context, requestID string, boardID int64, quantity int) domain.Outcome {
	if requestID == "" || s.cache == nil {
		return s.RecordProduction(ctx, boardID, quantity)
	}

	key := idempotencyKeyPrefix + requestID
	ok, err := s.cache.SetIdempotency(ctx, key)
	if err != nil {
		outcome := aborted(domain.InternalFailure(fmt.Errorf("idempotency check failed: %w", err)))
		s.observe(outcome, boardID, quantity, 0)
		return outcome
	}
	if !ok {
		outcome := aborted(domain.NewFailure(domain.FailureDuplicateRequest, "duplicate request"))
		s.observe(outcome, boardID, quantity, 0)
		return outcome
	}

	outcome := s.RecordProduction(ctx, boardID, quantity)
	if !outcome.Committed() {
		if err := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("failed to release idempotency key",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
	}
	return outcome
}

// ProductionHistory lists production entries, newest first.
func (s *ProductionService) ProductionHistory(ctx context.Context, limit int) ([]domain.ProductionEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := s.ledger.ListProductionEntries(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list production entries: %w", err)
	}
	return entries, nil
}

// Notices returns the post-commit notice queue, or nil when disabled.
func (s *ProductionService) Notices() <-chan domain.ProductionRecorded {
	return s.notices
}

// Close stops accepting notices and closes the queue so dispatch workers
// exit after draining it.
func (s *ProductionService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.notices != nil {
		close(s.notices)
	}
}

func (s *ProductionService) execute(ctx context.Context, sm *domain.StateMachine, boardID int64, quantity int) (*domain.ProductionResult, domain.ProductionRecorded, error) {
	var notice domain.ProductionRecorded

	if boardID <= 0 {
		return nil, notice, domain.NewFailure(domain.FailureInvalidInput, "board_id must be a positive integer")
	}
	if quantity <= 0 {
		return nil, notice, domain.NewFailure(domain.FailureInvalidInput, "quantity_produced must be greater than 0")
	}

	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	board, err := s.ledger.GetBoard(ctx, boardID)
	if err != nil {
		return nil, notice, fmt.Errorf("get board: %w", err)
	}
	if board == nil {
		return nil, notice, domain.NewFailure(domain.FailureNotFound, "board not found")
	}

	var result *domain.ProductionResult
	err = s.ledger.WithinTx(ctx, func(tx port.LedgerTx) error {
		entries, err := resolveBOM(ctx, tx, boardID)
		if err != nil {
			return err
		}

		if err := sm.Advance(domain.StateLocking); err != nil {
			return err
		}
		held, err := lockComponents(ctx, tx, entries)
		if err != nil {
			return err
		}

		if err := sm.Advance(domain.StateEvaluating); err != nil {
			return err
		}
		shortages, err := evaluateFeasibility(held, quantity)
		if err != nil {
			return err
		}
		if len(shortages) > 0 {
			return domain.InsufficientStock(shortages)
		}

		if err := sm.Advance(domain.StateDeducting); err != nil {
			return err
		}
		if err := deductStock(ctx, tx, held); err != nil {
			return err
		}

		now := s.now()
		if err := sm.Advance(domain.StateRecording); err != nil {
			return err
		}
		entryID, err := recordConsumption(ctx, tx, boardID, quantity, held, now)
		if err != nil {
			return err
		}

		if err := sm.Advance(domain.StateTriggering); err != nil {
			return err
		}
		triggers, err := openTriggers(ctx, tx, s.policy, held, now)
		if err != nil {
			return err
		}

		result = &domain.ProductionResult{
			ProductionEntryID:  entryID,
			BoardID:            board.ID,
			BoardName:          board.Name,
			QuantityProduced:   quantity,
			ComponentsConsumed: len(held),
		}
		consumed := make([]domain.ConsumedComponent, 0, len(held))
		for _, h := range held {
			consumed = append(consumed, domain.ConsumedComponent{
				ComponentID:  h.component.ID,
				PartNumber:   h.component.PartNumber,
				QuantityUsed: h.required,
				NewStock:     h.component.CurrentStock - h.required,
			})
		}
		for _, t := range triggers {
			result.TriggersOpened = append(result.TriggersOpened, t.ID)
		}
		notice = domain.ProductionRecorded{
			ProductionEntryID: entryID,
			BoardID:           boardID,
			QuantityProduced:  quantity,
			Consumed:          consumed,
			TriggersOpened:    triggers,
			CommittedAt:       now,
		}
		return nil
	})
	if err != nil {
		return nil, notice, err
	}

	if err := sm.Advance(domain.StateCommitted); err != nil {
		return nil, notice, err
	}
	return result, notice, nil
}

func (s *ProductionService) conclude(sm *domain.StateMachine, result *domain.ProductionResult, err error) domain.Outcome {
	if err == nil {
		return domain.Outcome{Success: result, FinalState: sm.Current()}
	}

	sm.Abort()
	var failure *domain.ProductionFailure
	if !errors.As(err, &failure) {
		failure = domain.InternalFailure(err)
	}
	return domain.Outcome{Failure: failure, FinalState: sm.Current()}
}

func (s *ProductionService) observe(outcome domain.Outcome, boardID int64, quantity int, elapsed time.Duration) {
	fields := []zap.Field{
		zap.Int64("board_id", boardID),
		zap.Int("quantity", quantity),
		zap.String("state", string(outcome.FinalState)),
		zap.Duration("elapsed", elapsed),
	}

	if outcome.Committed() {
		r := outcome.Success
		s.metrics.ObserveProduction("committed", elapsed, r.ComponentsConsumed, len(r.TriggersOpened))
		s.logger.Info("production recorded", append(fields,
			zap.Int64("production_entry_id", r.ProductionEntryID),
			zap.Int("components_consumed", r.ComponentsConsumed),
			zap.Int64s("triggers_opened", r.TriggersOpened),
		)...)
		return
	}

	f := outcome.Failure
	s.metrics.ObserveProduction(string(f.Kind), elapsed, 0, 0)
	fields = append(fields, zap.String("kind", string(f.Kind)))
	switch f.Kind {
	case domain.FailureInternal:
		s.logger.Error("production aborted", append(fields, zap.Error(f.Cause()))...)
	case domain.FailureInsufficientStock:
		s.logger.Info("production rejected", append(fields, zap.Int("shortages", len(f.Shortages)))...)
	default:
		s.logger.Info("production rejected", append(fields, zap.String("reason", f.Message))...)
	}
}

func (s *ProductionService) enqueue(notice domain.ProductionRecorded) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.notices == nil {
		return
	}

	select {
	case s.notices <- notice:
	default:
		s.metrics.NoticeDropped()
		s.logger.Warn("post-commit queue full, dropping notice",
			zap.Int64("production_entry_id", notice.ProductionEntryID),
		)
	}
}

func aborted(failure *domain.ProductionFailure) domain.Outcome {
	return domain.Outcome{Failure: failure, FinalState: domain.StateAborted}
}
