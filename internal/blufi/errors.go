package blufi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/transport"
	"github.com/muurk/blufi/internal/urls"
)

// ErrorKind represents the category of a session error
type ErrorKind int

const (
	// KindUnknown indicates an unexpected error
	KindUnknown ErrorKind = iota
	// KindMalformedFrame indicates a truncated or inconsistent frame
	KindMalformedFrame
	// KindChecksumMismatch indicates a frame failed its integrity check
	KindChecksumMismatch
	// KindSequenceMismatch indicates an inbound frame arrived out of order
	KindSequenceMismatch
	// KindHandshakeTimeout indicates the device did not answer key negotiation
	KindHandshakeTimeout
	// KindHandshakeFailed indicates the device's public value was unusable
	KindHandshakeFailed
	// KindScanTimeout indicates no scan list arrived in time
	KindScanTimeout
	// KindResponseTimeout indicates no version or status reply arrived in time
	KindResponseTimeout
	// KindAckTimeout indicates an ack-required frame was not acknowledged
	KindAckTimeout
	// KindUnsupportedPlatform indicates the host cannot run the transport
	KindUnsupportedPlatform
	// KindTransport indicates the link failed a write or is closed
	KindTransport
	// KindValidation indicates invalid caller input
	KindValidation
	// KindNotSecured indicates an encrypted frame was needed before a key
	// was negotiated
	KindNotSecured
	// KindDeviceError indicates the device reported an error code
	KindDeviceError
	// KindCanceled indicates the caller's context ended the operation
	KindCanceled
	// KindClosed indicates the client has been closed
	KindClosed
)

// String returns a human-readable name for the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindMalformedFrame:
		return "Malformed Frame"
	case KindChecksumMismatch:
		return "Checksum Mismatch"
	case KindSequenceMismatch:
		return "Sequence Mismatch"
	case KindHandshakeTimeout:
		return "Handshake Timeout"
	case KindHandshakeFailed:
		return "Handshake Failed"
	case KindScanTimeout:
		return "Scan Timeout"
	case KindResponseTimeout:
		return "Response Timeout"
	case KindAckTimeout:
		return "Ack Timeout"
	case KindUnsupportedPlatform:
		return "Unsupported Platform"
	case KindTransport:
		return "Transport Error"
	case KindValidation:
		return "Validation Error"
	case KindNotSecured:
		return "Not Secured"
	case KindDeviceError:
		return "Device Error"
	case KindCanceled:
		return "Canceled"
	case KindClosed:
		return "Client Closed"
	case KindUnknown:
		return "Unknown Error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Error is returned by Client operations.
type Error struct {
	Kind    ErrorKind // Category of error
	Op      string    // Operation that failed, e.g. "negotiate"
	Message string    // Human-readable error message
	Err     error     // Underlying error (if any)
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *Error {
	return newError(KindValidation, "", message, nil)
}

// Classify returns err as an *Error, mapping known sentinel errors from the
// protocol and transport layers to their kinds. It returns nil for nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	kind := KindUnknown
	switch {
	case errors.Is(err, protocol.ErrMalformedFrame):
		kind = KindMalformedFrame
	case errors.Is(err, protocol.ErrChecksumMismatch):
		kind = KindChecksumMismatch
	case errors.Is(err, protocol.ErrNoCipher):
		kind = KindNotSecured
	case errors.Is(err, transport.ErrUnsupportedPlatform):
		kind = KindUnsupportedPlatform
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = KindCanceled
	case errors.Is(err, transport.ErrNotConnected):
		kind = KindTransport
	}
	return newError(kind, "", "", err)
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	if e := Classify(err); e != nil {
		return e.Kind
	}
	return KindUnknown
}

// IsTimeout reports whether err is one of the bounded-wait failures.
func IsTimeout(err error) bool {
	switch KindOf(err) {
	case KindHandshakeTimeout, KindScanTimeout, KindResponseTimeout, KindAckTimeout:
		return true
	}
	return false
}

// IsRetryable reports whether repeating the operation on the same session
// may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindHandshakeTimeout, KindScanTimeout, KindResponseTimeout, KindAckTimeout,
		KindMalformedFrame, KindChecksumMismatch, KindHandshakeFailed:
		return true
	}
	return false
}

// Hint returns user-facing troubleshooting advice for an error
func Hint(err error) string {
	switch KindOf(err) {
	case KindHandshakeTimeout:
		return strings.Join([]string{
			"The device did not answer the key exchange.",
			"Troubleshooting:",
			"  • Check that the firmware has BLUFI security enabled",
			"  • Power-cycle the device and reconnect",
			"  • Try again with --log-level debug to see the frames",
			"  • Protocol reference: " + urls.BlufiGuide,
		}, "\n")

	case KindHandshakeFailed:
		return strings.Join([]string{
			"The device sent a key the client could not use.",
			"Troubleshooting:",
			"  • Retry the negotiation",
			"  • Check that the firmware uses the standard BLUFI DH group",
			"  • Compare with the reference firmware: " + urls.BlufiExample,
		}, "\n")

	case KindScanTimeout:
		return strings.Join([]string{
			"The device did not return a Wi-Fi scan in time.",
			"Troubleshooting:",
			"  • Increase the scan timeout (--timeout)",
			"  • Some firmware only scans in station mode; try 'blufi mode sta'",
		}, "\n")

	case KindResponseTimeout, KindAckTimeout:
		return strings.Join([]string{
			"The device stopped responding.",
			"Troubleshooting:",
			"  • Move closer to the device",
			"  • Check that no other phone or tool is connected to it",
			"  • Reconnect; the device may have dropped the link",
		}, "\n")

	case KindUnsupportedPlatform:
		return strings.Join([]string{
			"Bluetooth is not available on this host.",
			"Troubleshooting:",
			"  • On Linux, check that BlueZ is running (systemctl status bluetooth)",
			"  • BlueZ setup: " + urls.BlueZ,
			"  • Use a WebSocket gateway instead: --url ws://gateway:8080/blufi",
		}, "\n")

	case KindTransport, KindClosed:
		return "The link to the device failed. Reconnect and try again."

	case KindNotSecured:
		return "Run the key exchange first (drop --plain)."

	case KindDeviceError:
		return "The device rejected the request. Check its serial console for details."

	case KindChecksumMismatch, KindMalformedFrame:
		return "The device sent corrupted data. Retry; if it persists, lower --frame-limit."

	case KindValidation:
		return "The values are invalid. Check the error message for details."

	default:
		return "An error occurred. Please check the error message for details."
	}
}
