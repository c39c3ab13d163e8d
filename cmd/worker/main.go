package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"geoattend/internal/audit"
	"geoattend/internal/config"
	"geoattend/internal/logging"
	"geoattend/internal/queue"
	"geoattend/internal/store"
)

// Worker drains rejected check-in attempts from redis into the database.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.StoreBackend == "memory" || cfg.QueueBackend != "redis" {
		logger.Fatal("worker needs a database store and QUEUE_BACKEND=redis",
			zap.String("store", cfg.StoreBackend), zap.String("queue", cfg.QueueBackend))
	}

	db, err := store.Open(ctx, cfg.StoreBackend, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("redis config invalid", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, consumer will keep retrying")
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger)
	consumer := audit.NewConsumer(q, store.NewRepository(db), logger)

	logger.Info("worker started, waiting for attempts", zap.String("queue", cfg.QueueKey))
	if err := consumer.Run(ctx); err != nil {
		logger.Error("consumer stopped", zap.Error(err))
	}
	logger.Info("worker stopped")
}
