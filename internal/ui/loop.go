// Package ui provides the single-goroutine event loop that owns all tracker
// state. Other goroutines reach that state only by posting messages.
package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTick is how often the loop drains its queue when no wakeup arrives.
const DefaultTick = 50 * time.Millisecond

// Handler processes one message on the loop goroutine.
type Handler func(msg any)

// Loop is an unbounded FIFO of messages drained by one goroutine. Post is
// safe from any goroutine and never blocks; messages are handled one at a
// time, in posting order, each to completion before the next.
type Loop struct {
	mu     sync.Mutex
	queue  []any
	closed bool
	wake   chan struct{}
	tick   time.Duration
	logger *zap.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithTick overrides DefaultTick.
func WithTick(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.tick = d
		}
	}
}

// NewLoop creates an idle Loop.
//
// Precondition: logger must be non-nil.
func NewLoop(logger *zap.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		tick:   DefaultTick,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post enqueues msg.
//
// Postcondition: returns false, dropping msg, once the loop has been closed.
func (l *Loop) Post(msg any) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, msg)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do enqueues fn to run on the loop goroutine.
func (l *Loop) Do(fn func()) bool {
	return l.Post(fn)
}

// Pending returns the number of queued messages.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting messages. Queued messages are still drained by a
// running loop before Run returns.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue into h until ctx is done or the loop is closed.
// Functions posted with Do are called directly instead of being passed to h.
func (l *Loop) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-ticker.C:
		}
		l.Drain(h)

		l.mu.Lock()
		done := l.closed && len(l.queue) == 0
		l.mu.Unlock()
		if done {
			return nil
		}
	}
}

// Drain handles every message queued at the time of the call, plus any
// posted while draining, on the calling goroutine. It returns the number of
// messages handled.
//
// Precondition: must only be called from the goroutine that owns the loop.
func (l *Loop) Drain(h Handler) int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, msg := range batch {
			l.dispatch(h, msg)
			n++
		}
	}
}

func (l *Loop) dispatch(h Handler, msg any) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("ui handler panicked",
				zap.Any("panic", r),
				zap.String("message", fmt.Sprintf("%T", msg)),
			)
		}
	}()
	if fn, ok := msg.(func()); ok {
		fn()
		return
	}
	if h != nil {
		h(msg)
	}
}
