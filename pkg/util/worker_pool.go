// Package util carries the shared plumbing used by the SIP and signup
// daemons: a bounded worker pool for dispatching inbound messages and a
// coordinator for orderly shutdown.
package util

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one unit of work handed to the pool.
type Task func()

// WorkerPool runs tasks on a fixed set of goroutines behind a bounded
// queue. Message handling for every connection funnels through one pool
// so a flood of traffic degrades into queueing rather than unbounded
// goroutine growth.
type WorkerPool struct {
	tasks  chan Task
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted int64
	completed int64
	dropped   int64
}

// NewWorkerPool creates a pool with the given number of workers and queue
// capacity. The workers start immediately.
func NewWorkerPool(workers, queueSize int, logger *logrus.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		tasks:  make(chan Task, queueSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a task. It returns false when the queue is full or the
// pool is shutting down; the caller decides whether that drops a message
// or applies backpressure.
func (p *WorkerPool) Submit(task Task) bool {
	if task == nil {
		return false
	}
	// Shutdown must win over an available queue slot, so it gets its own
	// check before the send is attempted.
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.tasks <- task:
		atomic.AddInt64(&p.submitted, 1)
		return true
	default:
		atomic.AddInt64(&p.dropped, 1)
		return false
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			p.run(task)
		}
	}
}

// run executes one task, keeping a panicking handler from taking the
// worker down with it.
func (p *WorkerPool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("Recovered panic in worker task")
		}
		atomic.AddInt64(&p.completed, 1)
	}()
	task()
}

// Stats reports cumulative pool counters.
func (p *WorkerPool) Stats() (submitted, completed, dropped int64, queued int) {
	return atomic.LoadInt64(&p.submitted),
		atomic.LoadInt64(&p.completed),
		atomic.LoadInt64(&p.dropped),
		len(p.tasks)
}

// Shutdown stops accepting tasks and waits for in-flight work up to the
// timeout. Queued but unstarted tasks are abandoned.
func (p *WorkerPool) Shutdown(timeout time.Duration) {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("Worker pool shutdown timed out with tasks still running")
	}
}
