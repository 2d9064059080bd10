package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/pcb-inventory/internal/adapter/storage"
	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/core/service"
	"github.com/rl1809/pcb-inventory/internal/logging"
)

const (
	boardA        = 1
	boardB        = 2
	totalRequests = 200
	queueSize     = 256

	// shared parts
	resistorID  = 10
	capacitorID = 20
	mcuID       = 30

	initialResistors  = 1000
	initialCapacitors = 600
	initialMCUs       = 150
	mcuMonthly        = 500
)

func main() {
	ctx := context.Background()

	logger, err := logging.New("warn", "console")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: boardA, Name: "board-a"})
	ledger.PutBoard(domain.Board{ID: boardB, Name: "board-b"})
	seed := []domain.Component{
		{ID: resistorID, Name: "resistor", PartNumber: "RES-10K", CurrentStock: initialResistors},
		{ID: capacitorID, Name: "capacitor", PartNumber: "CAP-100N", CurrentStock: initialCapacitors},
		{ID: mcuID, Name: "mcu", PartNumber: "MCU-32", CurrentStock: initialMCUs, MonthlyRequiredQuantity: mcuMonthly},
	}
	for _, c := range seed {
		if err := ledger.PutComponent(ctx, c); err != nil {
			log.Fatalf("failed to seed component %d: %v", c.ID, err)
		}
	}

	// Opposite row order on purpose: both boards must still lock 10, 20, 30.
	ledger.SetBOM(boardA,
		domain.BOMEntry{ComponentID: resistorID, QuantityRequired: 4},
		domain.BOMEntry{ComponentID: capacitorID, QuantityRequired: 2},
		domain.BOMEntry{ComponentID: mcuID, QuantityRequired: 1},
	)
	ledger.SetBOM(boardB,
		domain.BOMEntry{ComponentID: mcuID, QuantityRequired: 1},
		domain.BOMEntry{ComponentID: capacitorID, QuantityRequired: 3},
		domain.BOMEntry{ComponentID: resistorID, QuantityRequired: 6},
	)

	productionService := service.NewProductionService(ledger, queueSize,
		service.WithLogger(logger),
		service.WithTxTimeout(30*time.Second),
	)

	// Optional Redis mirror, e.g. REDIS_ADDR=localhost:6379
	var mirror *storage.RedisAdapter
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()

		// Clear previous test data
		for _, id := range []int64{resistorID, capacitorID, mcuID} {
			rdb.Del(ctx, fmt.Sprintf("stock:component:%d", id))
		}
		mirror = storage.NewRedisAdapter(rdb)
	}

	var dispatcher *service.Dispatcher
	if mirror != nil {
		dispatcher = service.NewDispatcher(mirror, nil, logger)
	}

	// Drain the notice queue in background
	drained := make(chan struct{})
	var notices atomic.Int32
	go func() {
		defer close(drained)
		for notice := range productionService.Notices() {
			notices.Add(1)
			if dispatcher != nil {
				dispatcher.Handle(ctx, notice)
			}
		}
	}()

	var (
		successCount  atomic.Int32
		shortageCount atomic.Int32
		otherCount    atomic.Int32
		deducted      [3]atomic.Int64
	)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			board := int64(boardA)
			if n%2 == 1 {
				board = boardB
			}
			outcome := productionService.RecordProduction(ctx, board, 1)
			switch {
			case outcome.Committed():
				successCount.Add(1)
				if board == boardA {
					deducted[0].Add(4)
					deducted[1].Add(2)
				} else {
					deducted[0].Add(6)
					deducted[1].Add(3)
				}
				deducted[2].Add(1)
			case outcome.Kind() == domain.FailureInsufficientStock:
				shortageCount.Add(1)
			default:
				otherCount.Add(1)
				logger.Error("unexpected outcome", zap.Error(outcome.Err()))
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)
	productionService.Close()
	<-drained

	success := successCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Committed:        %d\n", success)
	fmt.Printf("Short of stock:   %d\n", shortageCount.Load())
	fmt.Printf("Other failures:   %d\n", otherCount.Load())
	fmt.Printf("Notices queued:   %d\n", notices.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	check := func(ok bool, pass, fail string, args ...interface{}) {
		if ok {
			fmt.Println("PASS: " + pass)
			return
		}
		failed = true
		fmt.Printf("FAIL: "+fail+"\n", args...)
	}

	check(otherCount.Load() == 0, "no unexpected failures", "%d requests failed unexpectedly", otherCount.Load())
	check(success+shortageCount.Load() == totalRequests, "every request settled", "committed+short = %d, want %d", success+shortageCount.Load(), totalRequests)
	check(int(notices.Load()) == int(success), "one notice per commit", "got %d notices for %d commits", notices.Load(), success)

	initial := []int{initialResistors, initialCapacitors, initialMCUs}
	for i, id := range []int64{resistorID, capacitorID, mcuID} {
		c, _ := ledger.Component(id)
		want := initial[i] - int(deducted[i].Load())
		check(c.CurrentStock >= 0 && c.CurrentStock == want,
			fmt.Sprintf("component %d stock %d matches committed deductions", id, c.CurrentStock),
			"component %d stock %d, want %d", id, c.CurrentStock, want)
	}

	if mirror != nil {
		for _, id := range []int64{resistorID, capacitorID, mcuID} {
			c, _ := ledger.Component(id)
			mirrored, found, err := mirror.GetStock(ctx, id)
			check(err == nil && found && mirrored == c.CurrentStock,
				fmt.Sprintf("redis mirror of component %d matches ledger", id),
				"redis mirror of component %d = %d (found=%v, err=%v), ledger %d", id, mirrored, found, err, c.CurrentStock)
		}
	}

	open := 0
	for _, t := range ledger.ProcurementTriggers() {
		if t.ComponentID == mcuID && t.Status == domain.TriggerStatusOpen {
			open++
		}
	}
	check(open == 1, "exactly one open trigger for the MCU", "got %d open MCU triggers", open)

	if failed {
		os.Exit(1)
	}
}
