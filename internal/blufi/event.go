package blufi

import (
	"context"
	"sync"
	"time"
)

// Event is a single-slot completion signal set by the notification goroutine
// and awaited by the caller. Signal is idempotent until the next Clear.
type Event struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool

	closeOnce sync.Once
	closed    chan struct{}
}

// NewEvent returns a cleared event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{}), closed: make(chan struct{})}
}

// Close releases current and future waiters without signaling. It survives
// Clear.
func (e *Event) Close() {
	e.closeOnce.Do(func() { close(e.closed) })
}

// Signal sets the event and releases all waiters.
func (e *Event) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Clear resets the event so the next Wait blocks until a new Signal.
func (e *Event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

// IsSet reports whether the event is signaled.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is signaled or closed, timeout elapses or ctx
// is done. It returns true only when the event was signaled. A non-positive
// timeout waits on ctx alone.
func (e *Event) Wait(ctx context.Context, timeout time.Duration) bool {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ch:
		return true
	case <-e.closed:
		return e.IsSet()
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}
