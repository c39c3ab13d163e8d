// Package reminder raises a short-lived "ping" flag that mobile clients poll to
// decide whether to show a class reminder notification.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultWindow is how long a raised ping stays visible to pollers.
const DefaultWindow = 15 * time.Second

// Flag stores the ping state.
type Flag interface {
	Raise(ctx context.Context, ttl time.Duration) error
	Active(ctx context.Context) (bool, error)
}

// MemoryFlag is a process-local Flag.
type MemoryFlag struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

// NewMemoryFlag creates a lowered flag.
func NewMemoryFlag(now func() time.Time) *MemoryFlag {
	if now == nil {
		now = time.Now
	}
	return &MemoryFlag{now: now}
}

func (f *MemoryFlag) Raise(_ context.Context, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.until = f.now().Add(ttl)
	return nil
}

func (f *MemoryFlag) Active(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(f.until), nil
}

// RedisFlag keeps the flag in a redis key with an expiry, so every API replica sees it.
type RedisFlag struct {
	client *redis.Client
	key    string
}

// NewRedisFlag creates a flag stored under key.
func NewRedisFlag(client *redis.Client, key string) *RedisFlag {
	if key == "" {
		key = "geoattend:ping"
	}
	return &RedisFlag{client: client, key: key}
}

func (f *RedisFlag) Raise(ctx context.Context, ttl time.Duration) error {
	return f.client.Set(ctx, f.key, "1", ttl).Err()
}

func (f *RedisFlag) Active(ctx context.Context) (bool, error) {
	n, err := f.client.Exists(ctx, f.key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Scheduler raises the flag on a cron schedule and on demand.
type Scheduler struct {
	flag   Flag
	window time.Duration
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler creates a scheduler; window <= 0 uses DefaultWindow.
func NewScheduler(flag Flag, window time.Duration, logger *zap.Logger) *Scheduler {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{flag: flag, window: window, cron: cron.New(), logger: logger}
}

// Start registers expr (standard 5-field cron) and starts the cron runner.
// An empty expr leaves only manual pings enabled.
func (s *Scheduler) Start(expr string) error {
	if expr == "" {
		s.logger.Info("reminder schedule disabled")
		return nil
	}
	_, err := s.cron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			s.logger.Error("scheduled reminder failed", zap.Error(err))
			return
		}
		s.logger.Info("scheduled reminder raised")
	})
	if err != nil {
		return fmt.Errorf("parse reminder schedule %q: %w", expr, err)
	}
	s.cron.Start()
	s.logger.Info("reminder schedule started", zap.String("schedule", expr), zap.Duration("window", s.window))
	return nil
}

// Stop halts the cron runner and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Ping raises the flag for the configured window.
func (s *Scheduler) Ping(ctx context.Context) error {
	return s.flag.Raise(ctx, s.window)
}

// ShouldPing reports whether clients should show a reminder now.
func (s *Scheduler) ShouldPing(ctx context.Context) (bool, error) {
	return s.flag.Active(ctx)
}
