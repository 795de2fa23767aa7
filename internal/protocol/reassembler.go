package protocol

import (
	"encoding/binary"
	"fmt"
)

// Message is a complete logical payload delivered by a Reassembler.
type Message struct {
	Package PackageType
	Subtype Subtype
	Payload []byte
}

func (m *Message) String() string {
	return fmt.Sprintf("%s len=%d", TypeName(m.Package, m.Subtype), len(m.Payload))
}

// Reassembler accumulates fragmented frames into whole messages.
//
// A run starts with the first fragmented frame and ends with the next
// unfragmented frame. Every fragment carries the count of bytes still to come;
// a fragment whose type or count does not continue the active run starts a
// new run and the stale buffer is discarded.
type Reassembler struct {
	active    bool
	typ       byte
	remaining int
	buf       []byte

	// OnDiscard, when set, is called with the number of bytes dropped when a
	// stale run is abandoned.
	OnDiscard func(dropped int, reason string)
}

// Reset abandons any partial run.
func (r *Reassembler) Reset() {
	r.active = false
	r.typ = 0
	r.remaining = 0
	r.buf = nil
}

// Active reports whether a run is in progress.
func (r *Reassembler) Active() bool {
	return r.active
}

func (r *Reassembler) discard(reason string) {
	if r.active && r.OnDiscard != nil {
		r.OnDiscard(len(r.buf), reason)
	}
	r.Reset()
}

// Push adds a decoded frame. It returns the complete message and true when
// the frame ends a run or is unfragmented.
func (r *Reassembler) Push(f *Frame) (*Message, bool, error) {
	typ := f.Type()

	if f.Fragmented {
		if len(f.Payload) < FragmentPrefixLength {
			return nil, false, fmt.Errorf("%w: fragment without length prefix", ErrMalformedFrame)
		}
		remaining := int(binary.LittleEndian.Uint16(f.Payload))
		data := f.Payload[FragmentPrefixLength:]

		if r.active && (r.typ != typ || r.remaining != remaining) {
			r.discard(fmt.Sprintf("fragment %s announces %d remaining, run expected %d",
				TypeName(f.Package, f.Subtype), remaining, r.remaining))
		}
		if !r.active {
			r.active = true
			r.typ = typ
			r.buf = make([]byte, 0, remaining)
		}
		r.buf = append(r.buf, data...)
		r.remaining = remaining - len(data)
		return nil, false, nil
	}

	payload := f.Payload
	if r.active {
		if r.typ != typ {
			r.discard(fmt.Sprintf("terminal %s does not match run type", TypeName(f.Package, f.Subtype)))
		} else {
			payload = append(r.buf, f.Payload...)
		}
	}
	r.Reset()

	return &Message{
		Package: f.Package,
		Subtype: f.Subtype,
		Payload: payload,
	}, true, nil
}
