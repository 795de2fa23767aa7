package transport

import (
	"context"
	"sync"
)

const pipeQueueSize = 256

// PipeEnd is one side of an in-memory link created by NewPipe.
type PipeEnd struct {
	mtu   int
	peer  *PipeEnd
	inbox chan []byte
	done  chan struct{}

	mu        sync.RWMutex
	fn        func([]byte)
	closeOnce sync.Once
}

// NewPipe returns two connected ends. Bytes written to one end are delivered
// to the other end's subscriber on that end's own goroutine, in order.
// Frames arriving while nothing is subscribed are dropped, like notifications
// on a GATT characteristic with notifications disabled.
//
// mtu is reported by both ends; zero makes MTU return ErrMTUUnavailable.
func NewPipe(mtu int) (*PipeEnd, *PipeEnd) {
	a := newPipeEnd(mtu)
	b := newPipeEnd(mtu)
	a.peer, b.peer = b, a
	go a.deliver()
	go b.deliver()
	return a, b
}

func newPipeEnd(mtu int) *PipeEnd {
	return &PipeEnd{
		mtu:   mtu,
		inbox: make(chan []byte, pipeQueueSize),
		done:  make(chan struct{}),
	}
}

func (p *PipeEnd) deliver() {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.inbox:
			p.mu.RLock()
			fn := p.fn
			p.mu.RUnlock()
			if fn != nil {
				fn(data)
			}
		}
	}
}

// Write queues frame for the peer.
func (p *PipeEnd) Write(ctx context.Context, frame []byte) error {
	select {
	case <-p.done:
		return ErrNotConnected
	case <-p.peer.done:
		return ErrNotConnected
	default:
	}

	data := append([]byte(nil), frame...)
	select {
	case p.peer.inbox <- data:
		return nil
	case <-p.peer.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe installs the notification handler.
func (p *PipeEnd) Subscribe(fn func([]byte)) error {
	select {
	case <-p.done:
		return ErrNotConnected
	default:
	}
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
	return nil
}

// Unsubscribe removes the notification handler.
func (p *PipeEnd) Unsubscribe() error {
	p.mu.Lock()
	p.fn = nil
	p.mu.Unlock()
	return nil
}

// MTU returns the configured MTU.
func (p *PipeEnd) MTU() (int, error) {
	if p.mtu <= 0 {
		return 0, ErrMTUUnavailable
	}
	return p.mtu, nil
}

// Close stops delivery on this end. Writes from the peer fail afterwards.
func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
