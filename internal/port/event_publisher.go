package port

import (
	"context"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
)

type EventPublisher interface {
	// PublishProductionRecorded announces a committed production transaction
	// and any procurement triggers it opened
	PublishProductionRecorded(ctx context.Context, event domain.ProductionRecorded) error
}
