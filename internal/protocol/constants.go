package protocol

import "fmt"

// PackageType is the two-bit package class carried in the low bits of the
// type byte.
type PackageType byte

const (
	PackageCtrl PackageType = 0x00
	PackageData PackageType = 0x01
)

func (p PackageType) String() string {
	switch p {
	case PackageCtrl:
		return "ctrl"
	case PackageData:
		return "data"
	default:
		return fmt.Sprintf("package(%d)", byte(p))
	}
}

// Subtype is the six-bit subtype carried in the high bits of the type byte.
// Its meaning depends on the package class.
type Subtype byte

// Control subtypes
const (
	CtrlAck             Subtype = 0x00
	CtrlSetSecMode      Subtype = 0x01
	CtrlSetOpMode       Subtype = 0x02
	CtrlConnectWifi     Subtype = 0x03
	CtrlDisconnectWifi  Subtype = 0x04
	CtrlGetWifiStatus   Subtype = 0x05
	CtrlDeauthenticate  Subtype = 0x06
	CtrlGetVersion      Subtype = 0x07
	CtrlCloseConnection Subtype = 0x08
	CtrlGetWifiList     Subtype = 0x09
)

// Data subtypes
const (
	DataNeg                 Subtype = 0x00
	DataStaBSSID            Subtype = 0x01
	DataStaSSID             Subtype = 0x02
	DataStaPassword         Subtype = 0x03
	DataSoftAPSSID          Subtype = 0x04
	DataSoftAPPassword      Subtype = 0x05
	DataSoftAPMaxConn       Subtype = 0x06
	DataSoftAPAuthMode      Subtype = 0x07
	DataSoftAPChannel       Subtype = 0x08
	DataUsername            Subtype = 0x09
	DataCACert              Subtype = 0x0a
	DataClientCert          Subtype = 0x0b
	DataServerCert          Subtype = 0x0c
	DataClientPrivKey       Subtype = 0x0d
	DataServerPrivKey       Subtype = 0x0e
	DataWifiConnectionState Subtype = 0x0f
	DataVersion             Subtype = 0x10
	DataWifiList            Subtype = 0x11
	DataError               Subtype = 0x12
	DataCustomData          Subtype = 0x13
	DataStaMaxConnRetry     Subtype = 0x14
	DataStaConnEndReason    Subtype = 0x15
	DataStaConnRSSI         Subtype = 0x16
)

// Frame control bits
const (
	FrameCtrlEncrypted  byte = 0x01
	FrameCtrlChecksum   byte = 0x02
	FrameCtrlDirection  byte = 0x04 // set: device to client
	FrameCtrlRequireAck byte = 0x08
	FrameCtrlFragmented byte = 0x10
)

// Direction of a frame relative to the client.
type Direction byte

const (
	DirectionOutput Direction = 0 // client to device
	DirectionInput  Direction = 1 // device to client
)

func (d Direction) String() string {
	if d == DirectionInput {
		return "in"
	}
	return "out"
}

// Negotiation markers, first byte of a DATA/NEG payload.
const (
	NegSetSecurityLength byte = 0x00
	NegSetSecurityAll    byte = 0x01
)

// OpMode is the device Wi-Fi operating mode.
type OpMode byte

const (
	OpModeNull      OpMode = 0x00
	OpModeSta       OpMode = 0x01
	OpModeSoftAP    OpMode = 0x02
	OpModeStaSoftAP OpMode = 0x03
)

func (m OpMode) String() string {
	switch m {
	case OpModeNull:
		return "null"
	case OpModeSta:
		return "sta"
	case OpModeSoftAP:
		return "softap"
	case OpModeStaSoftAP:
		return "sta+softap"
	default:
		return fmt.Sprintf("mode(%d)", byte(m))
	}
}

// ParseOpMode maps a mode name back to its value.
func ParseOpMode(s string) (OpMode, error) {
	switch s {
	case "null", "none":
		return OpModeNull, nil
	case "sta", "station":
		return OpModeSta, nil
	case "softap", "ap":
		return OpModeSoftAP, nil
	case "sta+softap", "stasoftap", "apsta":
		return OpModeStaSoftAP, nil
	}
	return 0, fmt.Errorf("unknown op mode %q", s)
}

// ErrorCode is the single byte carried by a DATA/ERROR report.
type ErrorCode byte

const (
	ErrCodeSequence ErrorCode = iota
	ErrCodeChecksum
	ErrCodeDecrypt
	ErrCodeEncrypt
	ErrCodeInitSecurity
	ErrCodeDHMalloc
	ErrCodeDHParam
	ErrCodeReadParam
	ErrCodeMakePublic
	ErrCodeDataFormat
	ErrCodeCalcMD5
	ErrCodeWifiScan
	ErrCodeMsgState
)

var errorCodeNames = map[ErrorCode]string{
	ErrCodeSequence:     "sequence error",
	ErrCodeChecksum:     "checksum error",
	ErrCodeDecrypt:      "decrypt error",
	ErrCodeEncrypt:      "encrypt error",
	ErrCodeInitSecurity: "init security error",
	ErrCodeDHMalloc:     "dh malloc error",
	ErrCodeDHParam:      "dh param error",
	ErrCodeReadParam:    "read param error",
	ErrCodeMakePublic:   "make public error",
	ErrCodeDataFormat:   "data format error",
	ErrCodeCalcMD5:      "calc md5 error",
	ErrCodeWifiScan:     "wifi scan error",
	ErrCodeMsgState:     "msg state error",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown error %d", byte(c))
}

// Lengths, in bytes.
const (
	HeaderLength         = 4
	ChecksumLength       = 2
	FragmentPrefixLength = 2
	DefaultPackageLength = 20
	MinPackageLength     = 20
	MaxPayloadLength     = 255
)

// TypeValue packs a package class and subtype into a type byte.
func TypeValue(pkg PackageType, sub Subtype) byte {
	return byte(sub)<<2 | byte(pkg)&0x03
}

// PackageOf extracts the package class from a type byte.
func PackageOf(typ byte) PackageType {
	return PackageType(typ & 0x03)
}

// SubtypeOf extracts the subtype from a type byte.
func SubtypeOf(typ byte) Subtype {
	return Subtype(typ >> 2)
}

var ctrlNames = map[Subtype]string{
	CtrlAck:             "ack",
	CtrlSetSecMode:      "set-sec-mode",
	CtrlSetOpMode:       "set-op-mode",
	CtrlConnectWifi:     "connect-wifi",
	CtrlDisconnectWifi:  "disconnect-wifi",
	CtrlGetWifiStatus:   "get-wifi-status",
	CtrlDeauthenticate:  "deauthenticate",
	CtrlGetVersion:      "get-version",
	CtrlCloseConnection: "close-connection",
	CtrlGetWifiList:     "get-wifi-list",
}

var dataNames = map[Subtype]string{
	DataNeg:                 "neg",
	DataStaBSSID:            "sta-bssid",
	DataStaSSID:             "sta-ssid",
	DataStaPassword:         "sta-password",
	DataSoftAPSSID:          "softap-ssid",
	DataSoftAPPassword:      "softap-password",
	DataSoftAPMaxConn:       "softap-max-conn",
	DataSoftAPAuthMode:      "softap-auth-mode",
	DataSoftAPChannel:       "softap-channel",
	DataUsername:            "username",
	DataCACert:              "ca-cert",
	DataClientCert:          "client-cert",
	DataServerCert:          "server-cert",
	DataClientPrivKey:       "client-priv-key",
	DataServerPrivKey:       "server-priv-key",
	DataWifiConnectionState: "wifi-connection-state",
	DataVersion:             "version",
	DataWifiList:            "wifi-list",
	DataError:               "error",
	DataCustomData:          "custom-data",
	DataStaMaxConnRetry:     "sta-max-conn-retry",
	DataStaConnEndReason:    "sta-conn-end-reason",
	DataStaConnRSSI:         "sta-conn-rssi",
}

// TypeName returns a human-readable name for a package/subtype pair.
func TypeName(pkg PackageType, sub Subtype) string {
	var names map[Subtype]string
	switch pkg {
	case PackageCtrl:
		names = ctrlNames
	case PackageData:
		names = dataNames
	}
	if name, ok := names[sub]; ok {
		return pkg.String() + "/" + name
	}
	return fmt.Sprintf("%s/0x%02x", pkg, byte(sub))
}
