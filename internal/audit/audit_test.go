package audit

import (
	"context"
	"testing"
	"time"

	"geoattend/internal/attendance"
	"geoattend/internal/queue"
)

func TestPublishConsumeStoresAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(8)
	store := attendance.NewMemoryStore()
	done := make(chan error, 1)
	go func() { done <- NewConsumer(q, store, nil).Run(ctx) }()

	_ = q.Publish(ctx, queue.Message{Type: "other", Body: []byte(`{}`)})
	_ = q.Publish(ctx, queue.Message{Type: MessageType, Body: []byte(`not json`)})

	at := time.Date(2026, 10, 14, 17, 0, 0, 0, time.UTC)
	err := NewPublisher(q).RecordAttempt(ctx, attendance.Attempt{
		SessionID: "s-1", Email: "b@x.com", Username: "B",
		Lat: 41, Lng: -75, Distance: 111195, Reason: attendance.ReasonOutOfRange, AttemptedAt: at,
	})
	if err != nil {
		t.Fatalf("RecordAttempt() error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(store.Attempts()) == 0 {
		select {
		case <-deadline:
			t.Fatal("attempt never stored")
		case <-time.After(10 * time.Millisecond):
		}
	}

	got := store.Attempts()
	if len(got) != 1 {
		t.Fatalf("attempts = %d, want 1", len(got))
	}
	if got[0].ID == "" || got[0].Email != "b@x.com" || !got[0].AttemptedAt.Equal(at) {
		t.Errorf("attempt = %+v", got[0])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
