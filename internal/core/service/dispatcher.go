package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/logging"
	"github.com/rl1809/pcb-inventory/internal/port"
)

const defaultDispatchTimeout = 5 * time.Second

// Dispatcher applies post-commit side effects: it mirrors new stock levels
// into the cache and publishes events. Failures are logged and never undo the
// committed transaction.
type Dispatcher struct {
	cache     port.CacheRepository
	publisher port.EventPublisher
	logger    *zap.Logger
	timeout   time.Duration
}

// NewDispatcher creates a dispatcher. cache and publisher may be nil.
func NewDispatcher(cache port.CacheRepository, publisher port.EventPublisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cache:     cache,
		publisher: publisher,
		logger:    logging.OrNop(logger),
		timeout:   defaultDispatchTimeout,
	}
}

// Run handles notices until the queue is closed.
func (d *Dispatcher) Run(id int, notices <-chan domain.ProductionRecorded) {
	for notice := range notices {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		d.Handle(ctx, notice)
		cancel()
	}
	d.logger.Debug("dispatch worker stopped", zap.Int("worker", id))
}

func (d *Dispatcher) Handle(ctx context.Context, notice domain.ProductionRecorded) {
	if d.cache != nil {
		for _, c := range notice.Consumed {
			// production entry IDs grow with commit order per component
			if _, err := d.cache.SetStock(ctx, c.ComponentID, c.NewStock, notice.ProductionEntryID); err != nil {
				d.logger.Warn("failed to mirror stock",
					zap.Int64("component_id", c.ComponentID),
					zap.Int64("production_entry_id", notice.ProductionEntryID),
					zap.Error(err),
				)
			}
		}
	}

	if d.publisher != nil {
		if err := d.publisher.PublishProductionRecorded(ctx, notice); err != nil {
			d.logger.Warn("failed to publish production event",
				zap.Int64("production_entry_id", notice.ProductionEntryID),
				zap.Error(err),
			)
		}
	}
}
