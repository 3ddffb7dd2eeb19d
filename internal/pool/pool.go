// Package pool provides a fixed worker pool for the worker's asynchronous
// mutations and notifications. Submitted tasks return observable handles, so
// fire-and-forget work stays awaitable in tests.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Submit after the pool has been closed.
var ErrClosed = errors.New("pool closed")

// Task is a handle for one submitted unit of work.
type Task struct {
	done chan struct{}
	err  error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Done returns a channel that is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task outcome. It is only valid after Done is closed.
func (t *Task) Err() error {
	return t.err
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	fn   func() error
	task *Task
}

// Option configures the pool.
type Option func(*Pool)

// WithLogger sets the logger used for recovered task panics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// Pool manages a fixed set of goroutines running submitted tasks. A task
// panic is recovered at the task boundary and surfaces as the task's error;
// it never takes the pool down.
type Pool struct {
	numWorkers int
	workCh     chan *job
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closed     atomic.Bool
	submitMu   sync.RWMutex
	logger     *slog.Logger
}

// New creates a pool with numWorkers goroutines. Zero or negative sizes
// default to GOMAXPROCS.
func New(numWorkers int, optFns ...Option) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		numWorkers: numWorkers,
		workCh:     make(chan *job, numWorkers*2),
		stopCh:     make(chan struct{}),
	}

	for _, fn := range optFns {
		fn(p)
	}

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}

	return p
}

// worker processes jobs until the pool stops, draining queued work first.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			for {
				select {
				case j, ok := <-p.workCh:
					if !ok {
						return
					}
					p.run(j)
				default:
					return
				}
			}
		case j, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(j)
		}
	}
}

func (p *Pool) run(j *job) {
	defer close(j.task.done)
	defer func() {
		if r := recover(); r != nil {
			j.task.err = fmt.Errorf("task panic: %v", r)

			if p.logger != nil {
				p.logger.Error("task panicked", slog.Any("panic", r))
			}
		}
	}()

	j.task.err = j.fn()
}

// Submit enqueues fn and returns its handle. It blocks while the work
// channel is full (backpressure) and fails once the pool is closed or ctx
// is done.
func (p *Pool) Submit(ctx context.Context, fn func() error) (*Task, error) {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return nil, ErrClosed
	}

	t := newTask()

	select {
	case p.workCh <- &job{fn: fn, task: t}:
		return t, nil
	case <-p.stopCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the pool down, waiting for in-flight and queued tasks.
// It is idempotent.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.submitMu.Lock()
	close(p.stopCh)
	close(p.workCh)
	p.submitMu.Unlock()

	p.wg.Wait()
}
