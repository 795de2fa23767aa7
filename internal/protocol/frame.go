package protocol

import (
	"encoding/binary"
	"fmt"
)

// Cipher encrypts and decrypts frame payloads. The IV is derived from the
// frame sequence number, so implementations receive it alongside the data.
type Cipher interface {
	Encrypt(seq uint8, plaintext []byte) ([]byte, error)
	Decrypt(seq uint8, ciphertext []byte) ([]byte, error)
}

// Frame is a single BLUFI frame. Payload always holds plaintext; when the
// Fragmented flag is set it starts with the 2-byte remaining-length prefix.
type Frame struct {
	Package    PackageType
	Subtype    Subtype
	Direction  Direction
	Encrypted  bool
	Checksum   bool
	RequireAck bool
	Fragmented bool
	Sequence   uint8
	Payload    []byte

	// CRC holds the checksum trailer for decoded frames.
	CRC uint16
}

// Type returns the packed type byte.
func (f *Frame) Type() byte {
	return TypeValue(f.Package, f.Subtype)
}

// Control returns the packed frame control byte.
func (f *Frame) Control() byte {
	var fc byte
	if f.Encrypted {
		fc |= FrameCtrlEncrypted
	}
	if f.Checksum {
		fc |= FrameCtrlChecksum
	}
	if f.Direction == DirectionInput {
		fc |= FrameCtrlDirection
	}
	if f.RequireAck {
		fc |= FrameCtrlRequireAck
	}
	if f.Fragmented {
		fc |= FrameCtrlFragmented
	}
	return fc
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s seq=%d len=%d fc=0x%02x",
		TypeName(f.Package, f.Subtype), f.Sequence, len(f.Payload), f.Control())
}

// Encode serializes a frame. The checksum is computed over the plaintext
// payload; the payload is then encrypted with c when the Encrypted flag is
// set and the payload is non-empty.
func Encode(f *Frame, c Cipher) ([]byte, error) {
	if len(f.Payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}

	size := HeaderLength + len(f.Payload)
	if f.Checksum {
		size += ChecksumLength
	}
	out := make([]byte, HeaderLength, size)
	out[0] = f.Type()
	out[1] = f.Control()
	out[2] = f.Sequence
	out[3] = byte(len(f.Payload))

	var crc uint16
	if f.Checksum {
		crc = FrameChecksum(f.Sequence, f.Payload)
	}

	body := f.Payload
	if f.Encrypted && len(body) > 0 {
		if c == nil {
			return nil, ErrNoCipher
		}
		enc, err := c.Encrypt(f.Sequence, body)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt payload: %w", err)
		}
		body = enc
	}
	out = append(out, body...)

	if f.Checksum {
		out = binary.LittleEndian.AppendUint16(out, crc)
	}
	return out, nil
}

// Decode parses a raw frame, decrypting the payload with c when the frame is
// marked encrypted. Bytes beyond the declared length and optional trailer are
// ignored.
//
// On a checksum mismatch the decoded frame is returned together with an error
// wrapping ErrChecksumMismatch so callers can still log the header.
func Decode(raw []byte, c Cipher) (*Frame, error) {
	if len(raw) < HeaderLength {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedFrame, len(raw), HeaderLength)
	}

	fc := raw[1]
	f := &Frame{
		Package:    PackageOf(raw[0]),
		Subtype:    SubtypeOf(raw[0]),
		Encrypted:  fc&FrameCtrlEncrypted != 0,
		Checksum:   fc&FrameCtrlChecksum != 0,
		RequireAck: fc&FrameCtrlRequireAck != 0,
		Fragmented: fc&FrameCtrlFragmented != 0,
		Sequence:   raw[2],
	}
	if fc&FrameCtrlDirection != 0 {
		f.Direction = DirectionInput
	}

	length := int(raw[3])
	need := HeaderLength + length
	if f.Checksum {
		need += ChecksumLength
	}
	if len(raw) < need {
		return nil, fmt.Errorf("%w: declared %d payload bytes, frame has %d bytes, need %d",
			ErrMalformedFrame, length, len(raw), need)
	}

	body := raw[HeaderLength : HeaderLength+length]
	if f.Encrypted && length > 0 {
		if c == nil {
			return nil, ErrNoCipher
		}
		dec, err := c.Decrypt(f.Sequence, body)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt payload: %w", err)
		}
		body = dec
	} else {
		body = append([]byte(nil), body...)
	}
	f.Payload = body

	if f.Checksum {
		f.CRC = binary.LittleEndian.Uint16(raw[HeaderLength+length:])
		if computed := FrameChecksum(f.Sequence, f.Payload); computed != f.CRC {
			return f, fmt.Errorf("%w: trailer 0x%04x, computed 0x%04x", ErrChecksumMismatch, f.CRC, computed)
		}
	}

	if f.Fragmented && len(f.Payload) < FragmentPrefixLength {
		return nil, fmt.Errorf("%w: fragmented frame carries %d bytes, need %d for prefix",
			ErrMalformedFrame, len(f.Payload), FragmentPrefixLength)
	}
	return f, nil
}
