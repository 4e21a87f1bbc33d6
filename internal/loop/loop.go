// Package loop provides the single logical thread every engine callback runs
// on. Tasks execute one at a time in posting order; a task posted from inside
// another task runs on a later turn.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStopped is returned by Call once the loop has exited.
var ErrStopped = errors.New("loop: stopped")

// Loop is a FIFO task runner.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	onPanic func(recovered any)
}

// New creates an idle loop. Call Run to start draining tasks.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// OnPanic installs a handler for panics raised by tasks. Without a handler the
// panic propagates and terminates Run.
func (l *Loop) OnPanic(fn func(recovered any)) {
	l.mu.Lock()
	l.onPanic = fn
	l.mu.Unlock()
}

// Post queues fn for a later turn. It never blocks and reports false when the
// loop has already stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for its result. It must not be used from
// inside a task.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

// Run drains tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		for l.RunPending() > 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// RunPending executes the tasks queued at the time of the call and returns how
// many ran. Tasks they post are left for the next call, which makes it usable
// as a single "turn" in tests.
func (l *Loop) RunPending() int {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, fn := range batch {
		l.runTask(fn)
	}
	return len(batch)
}

// Drain runs turns until the queue is empty or limit turns have passed.
func (l *Loop) Drain(limit int) error {
	for i := 0; i < limit; i++ {
		if l.RunPending() == 0 {
			return nil
		}
	}
	if l.Pending() > 0 {
		return fmt.Errorf("loop: queue not empty after %d turns", limit)
	}
	return nil
}

// Pending reports the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) runTask(fn func()) {
	l.mu.Lock()
	handler := l.onPanic
	l.mu.Unlock()
	if handler != nil {
		defer func() {
			if r := recover(); r != nil {
				handler(r)
			}
		}()
	}
	fn()
}

func (l *Loop) stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
	close(l.done)
}
