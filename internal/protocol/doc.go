// Package protocol implements the BLUFI frame format used to provision
// ESP32-class devices over a BLE GATT link.
//
// This package is stateless. It knows how to build and parse single frames,
// how to split a logical payload into link-sized fragments, how to stitch
// inbound fragments back together, and how to encode the small payloads
// exchanged during provisioning. Session state (sequence counters, keys,
// pending responses) lives in package blufi.
//
// # Frame Layout
//
// Every frame on the link has this structure:
//   - Type: 1 byte, (subtype << 2) | package class (0 = control, 1 = data)
//   - Frame control: 1 byte of flags (encrypted, checksum, direction,
//     ack required, fragmented)
//   - Sequence: 1 byte, wraps at 255
//   - Length: 1 byte, number of payload bytes that follow
//   - Payload: Length bytes, encrypted when the encrypted flag is set
//   - Checksum: 2 bytes (little-endian) when the checksum flag is set
//
// When the fragmented flag is set the payload begins with a 2-byte
// little-endian count of the bytes still to come for the logical message,
// including the bytes carried by the frame itself.
//
// # Checksum
//
// The checksum is a CRC-16 (polynomial 0x1021, initial and final inversion)
// computed over the sequence byte, the length byte and the plaintext payload.
// It is computed before encryption on the way out and verified after
// decryption on the way in.
//
// # Usage Example - Encoding
//
//	f := &protocol.Frame{
//	    Package:  protocol.PackageCtrl,
//	    Subtype:  protocol.CtrlGetVersion,
//	    Sequence: 3,
//	}
//	raw, err := protocol.Encode(f, nil)
//
// # Usage Example - Fragmenting
//
//	frag := protocol.NewFragmenter(payload, protocol.DataLimit(limit, checksum))
//	for {
//	    chunk, more := frag.Next()
//	    // wrap chunk in a Frame with Fragmented = more
//	    if !more {
//	        break
//	    }
//	}
//
// # Thread Safety
//
// Encoding and parsing functions are safe for concurrent use. Fragmenter and
// Reassembler values are not; each belongs to a single session.
package protocol
