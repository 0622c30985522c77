// Package workerpool runs agent tasks on their own tracked goroutines so a
// hung task never holds back the ones after it.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/fleetsync/inventory/internal/logging"
)

var log = logging.L("workerpool")

type Task func()

// Pool tracks every task it starts until Drain. It never blocks the
// submitter and has no upper bound on concurrent tasks.
type Pool struct {
	wg sync.WaitGroup // one per running task

	mu     sync.RWMutex // guards closed against concurrent Submit
	closed bool

	active atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
}

func New() *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{ctx: ctx, cancel: cancel}
}

// Context is cancelled once Drain returns.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit starts the task at once and reports whether it was accepted. It
// fails only after StopAccepting.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	p.wg.Add(1)
	p.active.Add(1)
	go p.run(task)
	return true
}

// Active is the number of tasks currently running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// StopAccepting makes every later Submit fail. Running tasks are untouched.
func (p *Pool) StopAccepting() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Drain stops intake and waits for running tasks until ctx ends. Tasks still
// running when it gives up finish in the background.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()
	defer p.cancel()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Info("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out", "active", p.Active())
	}
}

// Shutdown is an alias for Drain.
func (p *Pool) Shutdown(ctx context.Context) {
	p.Drain(ctx)
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
		p.active.Add(-1)
		p.wg.Done()
	}()
	task()
}
