// Package uiloop provides the single execution context that owns UI-bound
// state. Other goroutines hand work to it through Post.
package uiloop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by Run and Step once the loop has been closed.
var ErrClosed = errors.New("uiloop: closed")

// Loop is a thread-safe FIFO of functions drained by one goroutine.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
	closed bool
	log    *zap.Logger
}

// New creates an empty loop.
func New(log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		notify: make(chan struct{}, 1),
		log:    log.Named("uiloop"),
	}
}

// Post enqueues fn. It never blocks and is safe from any goroutine.
// Work posted after Close is dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Debug("dropping work posted after close")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Close stops accepting work and wakes the draining goroutine.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is done or the loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.Step(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Step waits for one queued function and runs it on the calling goroutine.
func (l *Loop) Step(ctx context.Context) error {
	for {
		fn, closed := l.pop()
		if fn != nil {
			l.invoke(fn)
			return nil
		}
		if closed {
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.notify:
		}
	}
}

// Drain runs everything currently queued, including work queued by the
// functions it runs, and returns how many functions ran.
func (l *Loop) Drain() int {
	n := 0
	for {
		fn, _ := l.pop()
		if fn == nil {
			return n
		}
		l.invoke(fn)
		n++
	}
}

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, l.closed
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, l.closed
}

// invoke keeps a panicking task from taking the UI loop down with it.
func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task panicked", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
		}
	}()
	fn()
}
