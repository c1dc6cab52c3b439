package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oteiza/mago/internal/application/orchestrator"
	"github.com/oteiza/mago/internal/application/workers"
	"github.com/oteiza/mago/internal/config"
	"github.com/oteiza/mago/internal/ports"
	"github.com/oteiza/mago/internal/registry"
	"github.com/oteiza/mago/pkg/adapters/agent"
	eventsmemory "github.com/oteiza/mago/pkg/adapters/events/memory"
	eventsredis "github.com/oteiza/mago/pkg/adapters/events/redis"
	"github.com/oteiza/mago/pkg/adapters/metrics/prometheus"
	storagememory "github.com/oteiza/mago/pkg/adapters/storage/memory"
	storageredis "github.com/oteiza/mago/pkg/adapters/storage/redis"
	"github.com/oteiza/mago/pkg/api/grpc"
	"github.com/oteiza/mago/pkg/api/http"
	"github.com/oteiza/mago/pkg/api/websocket"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting MAGO orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Load the collaboration rules document
	reg := registry.New(cfg.RulesPath, logger)
	if err := reg.Load(); err != nil {
		logger.Fatal("failed to load collaboration rules", zap.Error(err))
	}

	// Initialize storage and events backends
	var (
		taskStore   ports.TaskStore
		eventBus    ports.EventBus
		redisClient *goredis.Client
	)

	switch cfg.Storage {
	case "redis":
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		ctx := context.Background()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		taskStore = storageredis.NewTaskStore(redisClient, cfg.Retention.MaxTaskAge, logger)
		eventBus = eventsredis.NewStreamsEventBus(
			redisClient,
			"mago-consumers",
			fmt.Sprintf("mago-%d", os.Getpid()),
			logger,
		)
	case "memory":
		taskStore = storagememory.NewTaskStore(logger)
		eventBus = eventsmemory.NewInMemoryEventBus()
		logger.Info("using in-memory storage and events")
	}

	// Initialize agent invoker
	invoker, err := agent.NewInvoker(&agent.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.DefaultModel,
		MaxTokens:   cfg.LLM.DefaultMaxTokens,
		Temperature: cfg.LLM.DefaultTemperature,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to create agent invoker", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector()

	// Worker pool size defaults to the rules document's concurrency ceiling
	poolSize := reg.Snapshot().Rules.TaskAssignment.MaxConcurrentTasks
	if poolSize < 1 {
		poolSize = cfg.Workers.PoolSize
	}

	workerPool := workers.NewPool(
		poolSize,
		cfg.Workers.QueueSize,
		invoker,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	orchestratorMgr := orchestrator.NewManager(
		reg,
		taskStore,
		eventBus,
		workerPool,
		invoker,
		metricsCollector,
		logger,
	)

	// Retention sweep for terminal tasks
	sweeper := workers.NewSweeper(
		taskStore,
		cfg.Retention.MaxTaskAge,
		cfg.Retention.SweepInterval,
		logger,
	)
	sweeper.Start()

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Pool:         workerPool,
		Logger:       logger,
	})

	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:         cfg.GRPCPort,
		Orchestrator: orchestratorMgr,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("MAGO orchestrator started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", poolSize))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	sweeper.Stop()

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("MAGO orchestrator shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
