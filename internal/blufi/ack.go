package blufi

import "sync"

// ackTable correlates CTRL/ACK frames with the sequence numbers of frames
// sent with the ack-required flag.
type ackTable struct {
	mu      sync.Mutex
	pending map[uint8]chan struct{}
}

func newAckTable() *ackTable {
	return &ackTable{pending: make(map[uint8]chan struct{})}
}

// expect registers seq and returns a channel closed when it is acked. A
// stale registration for the same sequence number is replaced.
func (a *ackTable) expect(seq uint8) <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan struct{})
	a.pending[seq] = ch
	return ch
}

// resolve marks seq acknowledged. It reports false for unsolicited acks.
func (a *ackTable) resolve(seq uint8) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.pending[seq]
	if !ok {
		return false
	}
	delete(a.pending, seq)
	close(ch)
	return true
}

// cancel drops a registration after a timeout.
func (a *ackTable) cancel(seq uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, seq)
}

func (a *ackTable) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
