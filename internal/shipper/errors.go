package shipper

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes delivery failures.
type ErrorCode string

const (
	// ErrCodePairingMismatch indicates points and run keys differ in length.
	ErrCodePairingMismatch ErrorCode = "PAIRING_MISMATCH"

	// ErrCodeTransportFailed indicates the remote API reported a failure.
	ErrCodeTransportFailed ErrorCode = "TRANSPORT_FAILED"

	// ErrCodeTransportUnknown indicates the transport failed in an
	// unrecognized way (not a TransportError).
	ErrCodeTransportUnknown ErrorCode = "TRANSPORT_UNKNOWN"

	// ErrCodeLedgerIO indicates the delivery ledger could not be written.
	ErrCodeLedgerIO ErrorCode = "LEDGER_IO"
)

// ShipError represents a fatal error during a Submit call.
//
// Batch is the zero-based index of the batching window being processed
// when the error occurred, or -1 when no window applies (precondition
// failures).
type ShipError struct {
	Code    ErrorCode
	Message string
	Batch   int
	Err     error
}

// Error implements the error interface.
func (e *ShipError) Error() string {
	if e.Batch >= 0 {
		return fmt.Sprintf("%s: %s (batch=%d)", e.Code, e.Message, e.Batch)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ShipError) Unwrap() error {
	return e.Err
}

// TransportError is implemented by transport errors that represent a
// definitive failure reported by the remote API. Anything else a
// transport returns is normalized to ErrCodeTransportUnknown rather than
// inspected at runtime.
type TransportError interface {
	error
	TransportError()
}

// IsPairingMismatch reports whether err is a points/keys length mismatch.
func IsPairingMismatch(err error) bool {
	return hasCode(err, ErrCodePairingMismatch)
}

// IsTransportFailure reports whether err came from the transport,
// recognized or not.
func IsTransportFailure(err error) bool {
	return hasCode(err, ErrCodeTransportFailed) || hasCode(err, ErrCodeTransportUnknown)
}

// IsLedgerFailure reports whether err is a ledger durability failure.
func IsLedgerFailure(err error) bool {
	return hasCode(err, ErrCodeLedgerIO)
}

func hasCode(err error, code ErrorCode) bool {
	var se *ShipError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
