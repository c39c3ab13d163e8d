package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() error: %v", err)
	}
	for _, body := range []string{`{"n":1}`, `{"n":2}`} {
		if err := q.Publish(ctx, Message{Type: "attempt", Body: []byte(body)}); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}

	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		select {
		case got := <-msgs:
			if got.Type != "attempt" || string(got.Body) != want {
				t.Errorf("got %s %s, want attempt %s", got.Type, got.Body, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestInMemoryConsumeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs, _ := NewInMemory(1).Consume(ctx)
	cancel()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Publish(ctx, Message{Type: "x"}); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := q.Publish(ctx, Message{Type: "x"}); err == nil {
		t.Error("expected error publishing to a full queue with cancelled context")
	}
}
