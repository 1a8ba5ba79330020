package audio

import (
	"context"
	"testing"
	"time"
)

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2)

	for i := 0; i < 2; i++ {
		if !q.Offer(Frame{Data: []byte{byte(i)}}) {
			t.Fatalf("offer %d rejected", i)
		}
	}

	done := make(chan bool)
	go func() { done <- q.Offer(Frame{Data: []byte{9}}) }()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected offer to a full queue to be rejected")
		}
	case <-time.After(time.Second):
		t.Fatal("offer blocked on a full queue")
	}

	if q.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", q.Dropped())
	}

	f, ok := q.Poll(context.Background(), 10*time.Millisecond)
	if !ok || f.Data[0] != 0 {
		t.Errorf("expected the oldest frame first, got %v/%v", f.Data, ok)
	}
}

func TestQueuePollTimeout(t *testing.T) {
	q := NewQueue(1)
	start := time.Now()
	if _, ok := q.Poll(context.Background(), 20*time.Millisecond); ok {
		t.Fatal("expected empty poll")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("poll returned before its timeout")
	}
}

func TestQueuePollCancelled(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Poll(ctx, time.Minute); ok {
		t.Fatal("expected cancelled poll to return nothing")
	}
}
