// Package loop provides the single-goroutine task queue the monitoring core runs on.
//
// Mutation deliveries, message processing, delayed actions, health checks and config
// changes are all posted here, so they execute one at a time in the order they were
// queued. Code running on the loop needs no locks for state only the loop touches.
package loop

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Loop executes posted functions sequentially on one goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	done    chan struct{}
	running bool
}

// New returns a Loop. Nothing executes until Run is called.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

// Run drains the queue until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	for {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			l.exec(fn)
		}
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return
		}
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("loop task panicked", slog.Any("panic", r), slog.String("component", "loop"))
		}
	}()
	fn()
}

// Post queues fn. It reports false when the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
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

// Do posts fn and waits for it to finish. It must not be called from the loop itself.
func (l *Loop) Do(fn func()) bool {
	ch := make(chan struct{})
	if !l.Post(func() {
		defer close(ch)
		fn()
	}) {
		return false
	}
	select {
	case <-ch:
		return true
	case <-l.done:
		return false
	}
}

// AfterFunc posts fn once d has elapsed. The timer is not cancelable; a callback whose
// time comes after Close is dropped.
func (l *Loop) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Post(fn) })
}

// Every posts fn each interval until the returned stop function is called or the loop
// closes. A tick is skipped when the previous one has not run yet.
func (l *Loop) Every(interval time.Duration, fn func()) (stop func()) {
	t := time.NewTicker(interval)
	quit := make(chan struct{})
	var once sync.Once
	var stopped atomic.Bool
	pending := make(chan struct{}, 1)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-quit:
				return
			case <-l.done:
				return
			case <-t.C:
				select {
				case pending <- struct{}{}:
				default:
					continue
				}
				if !l.Post(func() {
					<-pending
					if !stopped.Load() {
						fn()
					}
				}) {
					return
				}
			}
		}
	}()
	return func() {
		once.Do(func() {
			stopped.Store(true)
			close(quit)
		})
	}
}

// Close stops accepting work. Tasks already queued still run if Run is active.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }
