package blufi

import (
	"fmt"
	"unicode/utf8"
)

// Credentials are station-mode Wi-Fi credentials to push to a device.
type Credentials struct {
	SSID     string
	Password string
}

// Limits from IEEE 802.11 and WPA2-PSK.
const (
	MaxSSIDLength       = 32
	MinPassphraseLength = 8
	MaxPassphraseLength = 63
	pskHexLength        = 64
)

// maxMessageLength is the largest payload the 2-byte fragment prefix can
// describe.
const maxMessageLength = 0xFFFF

// ValidateSSID validates a Wi-Fi SSID.
// SSIDs must be non-empty and at most 32 bytes.
func ValidateSSID(ssid string) error {
	if ssid == "" {
		return NewValidationError("WiFi SSID cannot be empty")
	}
	if len(ssid) > MaxSSIDLength {
		return NewValidationError(fmt.Sprintf("WiFi SSID too long (max %d bytes): %d bytes", MaxSSIDLength, len(ssid)))
	}
	return nil
}

// ValidatePassword validates a Wi-Fi password.
// Empty is an open network; otherwise 8-63 characters, or exactly 64 hex
// digits for a raw PSK.
func ValidatePassword(password string) error {
	if password == "" {
		return nil
	}
	if len(password) == pskHexLength {
		if !isHex(password) {
			return NewValidationError("64-character WiFi password must be a hex PSK")
		}
		return nil
	}
	n := utf8.RuneCountInString(password)
	if n < MinPassphraseLength {
		return NewValidationError(fmt.Sprintf("WiFi password too short (min %d chars): %d chars", MinPassphraseLength, n))
	}
	if len(password) > MaxPassphraseLength {
		return NewValidationError(fmt.Sprintf("WiFi password too long (max %d bytes): %d bytes", MaxPassphraseLength, len(password)))
	}
	return nil
}

// Validate checks both fields.
func (c Credentials) Validate() error {
	if err := ValidateSSID(c.SSID); err != nil {
		return err
	}
	return ValidatePassword(c.Password)
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
