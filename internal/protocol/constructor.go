package protocol

import "encoding/binary"

// NegotiationLengthPayload builds the first negotiation phase: the marker and
// the big-endian total length of the parameter payload that follows.
func NegotiationLengthPayload(p, g, publicKey []byte) []byte {
	total := len(p) + len(g) + len(publicKey) + 6
	out := []byte{NegSetSecurityLength}
	return binary.BigEndian.AppendUint16(out, uint16(total))
}

// NegotiationDataPayload builds the second negotiation phase: the marker
// followed by P, G and the public key, each with a big-endian 2-byte length.
func NegotiationDataPayload(p, g, publicKey []byte) []byte {
	out := make([]byte, 0, 1+6+len(p)+len(g)+len(publicKey))
	out = append(out, NegSetSecurityAll)
	for _, field := range [][]byte{p, g, publicKey} {
		out = binary.BigEndian.AppendUint16(out, uint16(len(field)))
		out = append(out, field...)
	}
	return out
}

// BuildScanList encodes access points into a DATA/WIFI_LIST payload. SSIDs
// longer than 254 bytes are truncated.
func BuildScanList(entries []ScanEntry) []byte {
	var out []byte
	for _, e := range entries {
		ssid := []byte(e.SSID)
		if len(ssid) > 254 {
			ssid = ssid[:254]
		}
		out = append(out, byte(len(ssid)+1), byte(e.RSSI))
		out = append(out, ssid...)
	}
	return out
}

// BuildWifiState encodes a DATA/WIFI_CONNECTION_STATE payload.
func BuildWifiState(st WifiState) []byte {
	out := []byte{byte(st.OpMode), st.StaConn, st.SoftAPConn}
	return append(out, st.Extra...)
}

// BuildVersion encodes a DATA/VERSION payload.
func BuildVersion(v Version) []byte {
	return []byte{v.Major, v.Minor}
}
