package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/logging"
	"github.com/rl1809/pcb-inventory/internal/port"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // requests allowed while half-open
	Interval         time.Duration // closed-state window for clearing counts
	Timeout          time.Duration // open duration before half-open
	FailureThreshold uint32        // consecutive failures that trip the breaker
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerPublisher stops calling a failing publisher until it recovers.
type BreakerPublisher struct {
	next port.EventPublisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(next port.EventPublisher, cfg BreakerConfig, logger *zap.Logger) *BreakerPublisher {
	logger = logging.OrNop(logger)

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &BreakerPublisher{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *BreakerPublisher) PublishProductionRecorded(ctx context.Context, event domain.ProductionRecorded) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.PublishProductionRecorded(ctx, event)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.cb.Name())
	}
	return err
}

func (b *BreakerPublisher) State() gobreaker.State {
	return b.cb.State()
}
