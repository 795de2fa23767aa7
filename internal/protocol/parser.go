package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Version is the device firmware's BLUFI protocol version.
type Version struct {
	Major uint8
	Minor uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// WifiState is the device's reported Wi-Fi status.
type WifiState struct {
	OpMode OpMode

	// StaConn is 0 when the station interface is connected.
	StaConn uint8

	// SoftAPConn is the number of stations attached to the soft AP.
	SoftAPConn uint8

	// Extra holds the optional type-length-value section that follows the
	// three fixed bytes (SSID, BSSID and similar).
	Extra []byte
}

// ScanEntry is one access point from a device Wi-Fi scan.
type ScanEntry struct {
	SSID string
	RSSI int8
}

// StaConnected reports whether the station interface is connected.
func (s WifiState) StaConnected() bool {
	return s.StaConn == 0
}

// ParseVersion parses a DATA/VERSION payload.
func ParseVersion(data []byte) (Version, error) {
	if len(data) < 2 {
		return Version{}, fmt.Errorf("%w: version payload is %d bytes, need 2", ErrMalformedFrame, len(data))
	}
	return Version{Major: data[0], Minor: data[1]}, nil
}

// ParseWifiState parses a DATA/WIFI_CONNECTION_STATE payload.
func ParseWifiState(data []byte) (WifiState, error) {
	if len(data) < 3 {
		return WifiState{}, fmt.Errorf("%w: wifi state payload is %d bytes, need 3", ErrMalformedFrame, len(data))
	}
	st := WifiState{
		OpMode:     OpMode(data[0]),
		StaConn:    data[1],
		SoftAPConn: data[2],
	}
	if len(data) > 3 {
		st.Extra = append([]byte(nil), data[3:]...)
	}
	return st, nil
}

// ParseScanList parses a DATA/WIFI_LIST payload. Each entry is a length
// byte, a signed RSSI byte and length-1 bytes of SSID.
//
// Entries with an empty SSID (hidden networks) are skipped, where ESP-IDF's
// reference client reports them with an empty name. A truncated entry
// or an SSID that is not valid UTF-8 stops parsing; the entries read so far
// are returned together with an error describing where parsing stopped.
func ParseScanList(data []byte) ([]ScanEntry, error) {
	var entries []ScanEntry
	for off := 0; off < len(data); {
		length := int(data[off])
		if length < 1 {
			return entries, fmt.Errorf("%w: scan entry at offset %d has zero length", ErrMalformedFrame, off)
		}
		if off+1+length > len(data) {
			return entries, fmt.Errorf("%w: scan entry at offset %d declares %d bytes, %d remain",
				ErrMalformedFrame, off, length, len(data)-off-1)
		}
		rssi := int8(data[off+1])
		ssid := data[off+2 : off+1+length]
		off += 1 + length

		if len(ssid) == 0 {
			continue
		}
		if !utf8.Valid(ssid) {
			return entries, fmt.Errorf("%w: scan entry SSID is not valid UTF-8", ErrMalformedFrame)
		}
		entries = append(entries, ScanEntry{SSID: string(ssid), RSSI: rssi})
	}
	return entries, nil
}

// ParseAck returns the sequence number acknowledged by a CTRL/ACK payload.
func ParseAck(data []byte) (uint8, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: empty ack payload", ErrMalformedFrame)
	}
	return data[0], nil
}

// ParseErrorReport parses a DATA/ERROR payload.
func ParseErrorReport(data []byte) (ErrorCode, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: empty error payload", ErrMalformedFrame)
	}
	return ErrorCode(data[0]), nil
}

// SecurityMode describes which planes are checksummed and encrypted.
type SecurityMode struct {
	CtrlChecksum bool
	CtrlEncrypt  bool
	DataChecksum bool
	DataEncrypt  bool
}

// Byte packs the mode into a CTRL/SET_SEC_MODE payload byte.
func (m SecurityMode) Byte() byte {
	var b byte
	if m.DataChecksum {
		b |= 0x01
	}
	if m.DataEncrypt {
		b |= 0x02
	}
	if m.CtrlChecksum {
		b |= 0x10
	}
	if m.CtrlEncrypt {
		b |= 0x20
	}
	return b
}

// ParseSecurityMode unpacks a CTRL/SET_SEC_MODE payload.
func ParseSecurityMode(data []byte) (SecurityMode, error) {
	if len(data) < 1 {
		return SecurityMode{}, fmt.Errorf("%w: empty security mode payload", ErrMalformedFrame)
	}
	b := data[0]
	return SecurityMode{
		DataChecksum: b&0x01 != 0,
		DataEncrypt:  b&0x02 != 0,
		CtrlChecksum: b&0x10 != 0,
		CtrlEncrypt:  b&0x20 != 0,
	}, nil
}

// Negotiation is a parsed DATA/NEG payload.
type Negotiation struct {
	Marker byte

	// TotalLength is set for NegSetSecurityLength.
	TotalLength int

	// P, G and PublicKey are set for NegSetSecurityAll.
	P         []byte
	G         []byte
	PublicKey []byte
}

// ParseNegotiation parses a client-to-device DATA/NEG payload.
func ParseNegotiation(data []byte) (*Negotiation, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty negotiation payload", ErrMalformedFrame)
	}
	n := &Negotiation{Marker: data[0]}
	switch n.Marker {
	case NegSetSecurityLength:
		if len(data) < 3 {
			return nil, fmt.Errorf("%w: negotiation length payload is %d bytes", ErrMalformedFrame, len(data))
		}
		n.TotalLength = int(binary.BigEndian.Uint16(data[1:3]))
	case NegSetSecurityAll:
		rest := data[1:]
		fields := make([][]byte, 3)
		for i := range fields {
			if len(rest) < 2 {
				return nil, fmt.Errorf("%w: negotiation field %d missing length", ErrMalformedFrame, i)
			}
			l := int(binary.BigEndian.Uint16(rest))
			if len(rest) < 2+l {
				return nil, fmt.Errorf("%w: negotiation field %d declares %d bytes, %d remain",
					ErrMalformedFrame, i, l, len(rest)-2)
			}
			fields[i] = rest[2 : 2+l]
			rest = rest[2+l:]
		}
		n.P, n.G, n.PublicKey = fields[0], fields[1], fields[2]
	default:
		return nil, fmt.Errorf("%w: unknown negotiation marker 0x%02x", ErrMalformedFrame, n.Marker)
	}
	return n, nil
}
