// Package mainloop provides the single execution context that owns every
// mutation of the content surface and of the delivery state.
package mainloop

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs tasks on one logical thread.
type Scheduler interface {
	// Post queues fn behind every task already queued.
	Post(fn func())
	// PostDelayed queues fn once d has elapsed.
	PostDelayed(d time.Duration, fn func())
}

// Looper is a Scheduler backed by one goroutine started with Run.
type Looper struct {
	mu     sync.Mutex
	queue  []func()
	timers map[*time.Timer]struct{}
	closed bool
	wake   chan struct{}
	logger *slog.Logger
}

func NewLooper(logger *slog.Logger) *Looper {
	return &Looper{
		timers: make(map[*time.Timer]struct{}),
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

func (l *Looper) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Looper) PostDelayed(d time.Duration, fn func()) {
	if d <= 0 {
		l.Post(fn)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		l.mu.Lock()
		delete(l.timers, timer)
		l.mu.Unlock()
		l.Post(fn)
	})
	l.timers[timer] = struct{}{}
}

// Run executes queued tasks until ctx is cancelled. Tasks posted after Run
// returns are dropped.
func (l *Looper) Run(ctx context.Context) {
	for {
		l.drain()
		select {
		case <-ctx.Done():
			l.close()
			return
		case <-l.wake:
		}
	}
}

func (l *Looper) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(fn)
	}
}

func (l *Looper) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("main loop task panicked", slog.Any("panic", r))
		}
	}()
	fn()
}

func (l *Looper) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for timer := range l.timers {
		timer.Stop()
	}
	l.timers = nil
	l.queue = nil
}
