package protocol

import "errors"

var (
	// ErrMalformedFrame is returned when a frame or payload is shorter than
	// its declared structure.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrChecksumMismatch is returned when a checksummed frame's trailer does
	// not match the computed CRC.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrNoCipher is returned when a frame needs encryption or decryption but
	// no key has been negotiated.
	ErrNoCipher = errors.New("frame is encrypted but no key is installed")

	// ErrPayloadTooLarge is returned when a single frame payload exceeds the
	// one-byte length field.
	ErrPayloadTooLarge = errors.New("payload exceeds frame length field")
)
