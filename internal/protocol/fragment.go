package protocol

import "encoding/binary"

// DataLimit returns the number of payload bytes a fragment may carry after
// its prefix for a link that accepts packageLimit bytes per write.
func DataLimit(packageLimit int, checksum bool) int {
	if packageLimit <= 0 {
		packageLimit = DefaultPackageLength
	}
	limit := packageLimit - HeaderLength - FragmentPrefixLength
	if checksum {
		limit -= ChecksumLength
	}
	if limit > MaxPayloadLength-FragmentPrefixLength {
		limit = MaxPayloadLength - FragmentPrefixLength
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Fragmenter splits a logical payload into frame payloads.
//
// Every chunk except the last carries a 2-byte little-endian prefix holding
// the number of bytes still to be sent, the chunk's own bytes included. The
// last chunk carries whatever remains with no prefix; it may be up to two
// bytes longer than a fragment's data because it has no prefix to pay for.
type Fragmenter struct {
	data  []byte
	limit int
	off   int
	done  bool
}

// NewFragmenter creates a fragmenter. limit is the value returned by
// DataLimit.
func NewFragmenter(data []byte, limit int) *Fragmenter {
	if limit < 1 {
		limit = 1
	}
	return &Fragmenter{data: data, limit: limit}
}

// Next returns the next frame payload and whether more chunks follow. The
// returned payload must be sent with the fragmented flag set when more is
// true. An empty input yields a single empty terminal chunk. Calling Next
// after the terminal chunk returns nil, false.
func (f *Fragmenter) Next() (chunk []byte, more bool) {
	if f.done {
		return nil, false
	}
	remaining := len(f.data) - f.off
	if remaining <= f.limit+FragmentPrefixLength {
		f.done = true
		chunk = f.data[f.off:]
		f.off = len(f.data)
		return chunk, false
	}

	chunk = make([]byte, FragmentPrefixLength, FragmentPrefixLength+f.limit)
	binary.LittleEndian.PutUint16(chunk, uint16(remaining))
	chunk = append(chunk, f.data[f.off:f.off+f.limit]...)
	f.off += f.limit
	return chunk, true
}

// Done reports whether the terminal chunk has been produced.
func (f *Fragmenter) Done() bool {
	return f.done
}
