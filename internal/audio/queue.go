package audio

import (
	"context"
	"sync/atomic"
	"time"
)

// Queue is a bounded frame queue between the capture loop and the
// streaming bridge. Offer never blocks; a full queue drops the new frame.
type Queue struct {
	ch      chan Frame
	dropped atomic.Uint64
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan Frame, capacity)}
}

// Offer enqueues f and reports whether it was accepted.
func (q *Queue) Offer(f Frame) bool {
	select {
	case q.ch <- f:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Poll waits up to timeout for a frame.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) (Frame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case f := <-q.ch:
		return f, true
	case <-t.C:
		return Frame{}, false
	case <-ctx.Done():
		return Frame{}, false
	}
}

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped is the number of frames rejected since the queue was created.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
