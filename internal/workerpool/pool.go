// Package workerpool runs blocking side effects (OS toggles, HTTP calls)
// off the detection tick.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// Task is a unit of work submitted to the pool.
type Task func()

// Pool is a bounded goroutine pool with a fixed-size task queue.
type Pool struct {
	log       zerolog.Logger
	queue     chan Task
	wg        sync.WaitGroup
	mu        sync.RWMutex // guards accepting and the close of queue
	accepting bool
	stopOnce  sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}
}

// New creates a pool with maxWorkers goroutines and a task queue of queueSize.
func New(maxWorkers, queueSize int, log zerolog.Logger) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{
		log:      log.With().Str("component", "workerpool").Logger(),
		queue:    make(chan Task, queueSize),
		stopChan: make(chan struct{}),
	}
	p.accepting = true

	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}

	p.log.Debug().Int("workers", maxWorkers).Int("queue_size", queueSize).Msg("Worker pool started")
	return p
}

// Submit enqueues a task. Returns false if the pool is stopped or the queue is full.
// wg.Add is called before the enqueue so Drain cannot miss it.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.accepting {
		return false
	}

	p.wg.Add(1)
	select {
	case p.queue <- task:
		return true
	default:
		p.wg.Done()
		p.log.Warn().Msg("Worker pool queue full, task rejected")
		return false
	}
}

// StopAccepting prevents new tasks from being submitted.
func (p *Pool) StopAccepting() {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()
}

// Drain waits for queued and in-flight tasks until ctx expires, then closes
// the queue so workers exit. Call StopAccepting first.
func (p *Pool) Drain(ctx context.Context) {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Debug().Msg("Worker pool drained")
	case <-ctx.Done():
		p.log.Warn().Msg("Worker pool drain timed out")
	}

	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.accepting = false
		close(p.queue)
		p.mu.Unlock()
	})
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.stopChan:
			for {
				select {
				case task, ok := <-p.queue:
					if !ok {
						return
					}
					p.runTask(task)
				default:
					return
				}
			}
		}
	}
}

// runTask executes a single task with panic recovery.
func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Task panicked")
		}
	}()
	task()
}
