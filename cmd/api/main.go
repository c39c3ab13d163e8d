package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"geoattend/internal/attendance"
	"geoattend/internal/audit"
	"geoattend/internal/config"
	"geoattend/internal/handler"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/logging"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/reminder"
	"geoattend/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := map[string]handler.HealthCheck{}

	var (
		st       attendance.Store
		attempts audit.AttemptStore
	)
	if cfg.StoreBackend == "memory" {
		mem := attendance.NewMemoryStore()
		st, attempts = mem, mem
		logger.Warn("using in-memory store, data is lost on restart")
	} else {
		db, err := store.Open(ctx, cfg.StoreBackend, cfg.DatabaseURL, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		repo := store.NewRepository(db)
		st, attempts = repo, repo
		health["db"] = db.Healthy
		logger.Info("store ready", zap.String("backend", string(db.Dialect)))
	}

	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" {
		r, err := store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()
		redisClient = r
		health["redis"] = r.Healthy
	}

	var q queue.Queue
	if redisClient != nil {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger)
	} else {
		q = queue.NewInMemory(64)
		consumer := audit.NewConsumer(q, attempts, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("audit consumer stopped", zap.Error(err))
			}
		}()
	}

	svc := attendance.NewService(attendance.Options{
		Store:           st,
		Logger:          logger,
		LateAfter:       cfg.LateAfter,
		UniqueUsernames: cfg.UniqueUsernames,
		Attempts:        audit.NewPublisher(q),
		Observer:        metrics.New(prometheus.DefaultRegisterer),
	})
	if cfg.SessionRestore {
		restored, err := svc.Registry().Restore(ctx)
		if err != nil {
			return err
		}
		logger.Info("session restore", zap.Bool("restored", restored))
	}

	var flag reminder.Flag = reminder.NewMemoryFlag(nil)
	if redisClient != nil {
		flag = reminder.NewRedisFlag(redisClient.Client, cfg.ReminderFlagKey)
	}
	sched := reminder.NewScheduler(flag, cfg.ReminderWindow, logger)
	if err := sched.Start(cfg.ReminderCron); err != nil {
		return err
	}
	defer sched.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger, "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.New(handler.Config{
		Service:  svc,
		Reminder: sched,
		Location: cfg.Location(),
		Health:   health,
		Logger:   logger,
	}).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	c.MaxAge = 24 * time.Hour
	if len(origins) == 1 && origins[0] == "*" {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}
