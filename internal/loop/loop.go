// Package loop runs a single-goroutine event loop. Every stateful match
// component executes exclusively on the loop, so none of them needs locks:
// engine reader goroutines hand their events over with Post and the loop
// delivers them one at a time, in order.
package loop

import (
	"context"
	"sync"
	"time"
)

const queueSize = 256

type Loop struct {
	calls chan func()
	quit  chan struct{}
	done  chan struct{}

	stopOnce sync.Once
}

func New() *Loop {
	return &Loop{
		calls: make(chan func(), queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run executes posted callbacks until Stop is called or the context is
// canceled. Callbacks already queued when Stop lands are still delivered.
// Run must be called exactly once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case fn := <-l.calls:
			fn()
			continue
		default:
		}
		select {
		case fn := <-l.calls:
			fn()
		case <-l.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Post enqueues fn for execution on the loop goroutine. Calls posted after
// the loop has finished are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.calls <- fn:
	case <-l.done:
	}
}

// After schedules fn to be posted onto the loop once d elapses. The returned
// timer can cancel the schedule before it fires.
func (l *Loop) After(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Stop makes Run return after the callback currently executing, if any.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }
