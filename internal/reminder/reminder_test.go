package reminder

import (
	"context"
	"testing"
	"time"
)

func TestMemoryFlagExpires(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	flag := NewMemoryFlag(func() time.Time { return now })
	s := NewScheduler(flag, 10*time.Second, nil)
	ctx := context.Background()

	if on, _ := s.ShouldPing(ctx); on {
		t.Fatal("flag raised before any ping")
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	now = now.Add(9 * time.Second)
	if on, _ := s.ShouldPing(ctx); !on {
		t.Error("flag should be up inside the window")
	}
	now = now.Add(2 * time.Second)
	if on, _ := s.ShouldPing(ctx); on {
		t.Error("flag should expire after the window")
	}
}

func TestSchedulerStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(NewMemoryFlag(nil), 0, nil)
	if err := s.Start("not a cron line"); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestSchedulerStartEmptySchedule(t *testing.T) {
	s := NewScheduler(NewMemoryFlag(nil), 0, nil)
	if err := s.Start(""); err != nil {
		t.Fatalf("Start(\"\") error: %v", err)
	}
	s.Stop()
}

func TestSchedulerDefaultWindow(t *testing.T) {
	s := NewScheduler(NewMemoryFlag(nil), 0, nil)
	if s.window != DefaultWindow {
		t.Errorf("window = %v, want %v", s.window, DefaultWindow)
	}
}
