// Package capture records raw BLUFI frames to a CBOR stream and reads them
// back. A capture holds every frame a client wrote or received, in order,
// tagged with a session ID so several sessions can share one file.
package capture

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Direction of a captured frame relative to the client.
type Direction uint8

const (
	Outbound Direction = 1
	Inbound  Direction = 2
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "out"
	case Inbound:
		return "in"
	default:
		return fmt.Sprintf("dir(%d)", uint8(d))
	}
}

// Record is one captured frame. Integer keys keep the encoding compact.
type Record struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	SessionID string    `cbor:"2,keyasint"`
	Direction Direction `cbor:"3,keyasint"`
	Frame     []byte    `cbor:"4,keyasint"`
	Note      string    `cbor:"5,keyasint,omitempty"`
}

// Recorder receives captured frames. Implementations must be safe for
// concurrent use; frames arrive from both the caller and the transport's
// notification goroutine.
type Recorder interface {
	Record(r Record)
	Close() error
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR decoder mode: %v", err))
	}
}

// NopRecorder discards all frames.
type NopRecorder struct{}

func (NopRecorder) Record(Record) {}
func (NopRecorder) Close() error  { return nil }

// StreamRecorder encodes records to a writer.
type StreamRecorder struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	closed bool
	err    error
}

// NewStreamRecorder writes records to w. Close does not close w.
func NewStreamRecorder(w io.Writer) *StreamRecorder {
	return &StreamRecorder{enc: encMode.NewEncoder(w)}
}

// Create opens path for appending (creating it with mode 0644) and returns
// a recorder that owns the file.
func Create(path string) (*StreamRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	r := NewStreamRecorder(f)
	r.closer = f
	return r, nil
}

// Record writes r. Encoding errors are remembered and reported by Err; a
// broken capture never interrupts the session.
func (s *StreamRecorder) Record(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.err != nil {
		return
	}
	s.err = s.enc.Encode(r)
}

// Err returns the first encoding error, if any.
func (s *StreamRecorder) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops recording and closes the file opened by Create.
// It is safe to call Close multiple times.
func (s *StreamRecorder) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ Recorder = NopRecorder{}
	_ Recorder = (*StreamRecorder)(nil)
)

// Reader decodes records from a capture stream.
type Reader struct {
	dec     *cbor.Decoder
	closer  io.Closer
	session string
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: decMode.NewDecoder(r)}
}

// Open opens a capture file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

// FilterSession restricts Next to records of one session.
func (r *Reader) FilterSession(id string) {
	r.session = id
}

// Next returns the next record. It returns io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.dec.Decode(&rec); err != nil {
			return Record{}, err
		}
		if r.session != "" && rec.SessionID != r.session {
			continue
		}
		return rec, nil
	}
}

// Close closes the file opened by Open.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
