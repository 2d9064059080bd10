package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/pcb-inventory/internal/adapter/event"
	"github.com/rl1809/pcb-inventory/internal/adapter/handler"
	"github.com/rl1809/pcb-inventory/internal/adapter/storage"
	"github.com/rl1809/pcb-inventory/internal/config"
	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/core/service"
	"github.com/rl1809/pcb-inventory/internal/logging"
	"github.com/rl1809/pcb-inventory/internal/metrics"
	"github.com/rl1809/pcb-inventory/internal/port"
)

const demoBoardID = 1

// demo data for memory mode
var (
	demoComponents = []domain.Component{
		{ID: 1, Name: "10k resistor", PartNumber: "RES-10K-0603", CurrentStock: 5000, MonthlyRequiredQuantity: 8000},
		{ID: 2, Name: "100nF capacitor", PartNumber: "CAP-100N-0603", CurrentStock: 3000, MonthlyRequiredQuantity: 6000},
		{ID: 3, Name: "STM32F4 MCU", PartNumber: "MCU-STM32F405", CurrentStock: 120, MonthlyRequiredQuantity: 400},
	}
	demoBOM = []domain.BOMEntry{
		{ComponentID: 1, QuantityRequired: 12},
		{ComponentID: 2, QuantityRequired: 8},
		{ComponentID: 3, QuantityRequired: 1},
	}
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("pcb")

	// Initialize Redis
	var (
		rdb   *redis.Client
		cache port.CacheRepository
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.RedisPoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer rdb.Close()
		cache = storage.NewRedisAdapter(rdb)
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	// Initialize ledger
	var ledger port.Ledger
	switch cfg.Storage {
	case config.StorageMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return fmt.Errorf("failed to open mysql: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQLMaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQLConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping mysql: %w", err)
		}
		adapter := storage.NewMySQLAdapter(db)
		if cfg.Migrate {
			if err := adapter.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("schema migrated")
		}
		ledger = adapter
		logger.Info("connected to mysql")
	case config.StorageMemory:
		mem, err := seedMemoryLedger(ctx, cache)
		if err != nil {
			return err
		}
		ledger = mem
		logger.Info("using in-memory ledger", zap.Int("demo_board_id", demoBoardID))
	}

	// Initialize event publishing
	var publisher port.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := event.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaPublisher.Close()
		publisher = event.NewBreakerPublisher(kafkaPublisher, event.DefaultBreakerConfig("kafka-"+cfg.KafkaTopic), logger)
		logger.Info("publishing events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	// Initialize service
	opts := []service.Option{
		service.WithReorderFraction(cfg.ReorderFraction),
		service.WithTxTimeout(cfg.TxTimeout),
		service.WithLogger(logger),
		service.WithMetrics(m),
	}
	if cache != nil {
		opts = append(opts, service.WithCache(cache))
	}
	productionService := service.NewProductionService(ledger, cfg.QueueSize, opts...)

	// Start dispatch workers
	var wg sync.WaitGroup
	if notices := productionService.Notices(); notices != nil {
		dispatcher := service.NewDispatcher(cache, publisher, logger)
		for i := 0; i < cfg.WorkerCount; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				dispatcher.Run(id, notices)
			}(i)
		}
		logger.Info("started dispatch workers", zap.Int("count", cfg.WorkerCount))
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLoggingInterceptor(logger)))
	handler.RegisterProductionServiceServer(grpcServer, handler.NewGRPCHandler(productionService, logger))
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(handler.ProductionServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(productionService, logger).Routes(mux, m.Handler())

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Close notice queue and wait for workers to drain it
	productionService.Close()
	wg.Wait()
	logger.Info("workers stopped")
	return nil
}

func seedMemoryLedger(ctx context.Context, cache port.CacheRepository) (*storage.MemoryLedger, error) {
	ledger := storage.NewMemoryLedger()
	ledger.PutBoard(domain.Board{ID: demoBoardID, Name: "flight-controller-rev-c"})
	for _, c := range demoComponents {
		if err := ledger.PutComponent(ctx, c); err != nil {
			return nil, fmt.Errorf("seed component %d: %w", c.ID, err)
		}
		if cache != nil {
			if _, err := cache.SetStock(ctx, c.ID, c.CurrentStock, 0); err != nil {
				return nil, fmt.Errorf("mirror component %d: %w", c.ID, err)
			}
		}
	}
	ledger.SetBOM(demoBoardID, demoBOM...)
	return ledger, nil
}
