package protocol

const crcPoly = 0x1021

var crcTable = func() [256]uint16 {
	var t [256]uint16
	for i := range t {
		crc := uint16(i) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPoly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// Checksum folds data into a running CRC-16. Start with crc = 0. Feeding the
// result back in with more data gives the same value as one call over the
// concatenation.
func Checksum(crc uint16, data []byte) uint16 {
	crc = ^crc
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return ^crc
}

// FrameChecksum computes the checksum of a frame body: sequence and length
// bytes followed by the plaintext payload.
func FrameChecksum(seq uint8, payload []byte) uint16 {
	crc := Checksum(0, []byte{seq, byte(len(payload))})
	return Checksum(crc, payload)
}
