package codec

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// ErrorClass groups decode failures by how the link recovers from them.
type ErrorClass int

// Error classes.
const (
	// FormatClass is a wrong format code or malformed packet layout.
	FormatClass ErrorClass = iota
	// VersionClass is a protocol version mismatch, fatal to the connection.
	VersionClass
	// IntegrityClass is a header or data checksum mismatch.
	IntegrityClass
	// LengthClass is a declared length inconsistent with the buffer.
	LengthClass
)

func (c ErrorClass) String() string {
	switch c {
	case FormatClass:
		return "FormatError"
	case VersionClass:
		return "VersionError"
	case IntegrityClass:
		return "IntegrityError"
	case LengthClass:
		return "LengthError"
	}
	return fmt.Sprintf("ErrorClass(%d)", int(c))
}

// TransferError is a failure to decode a Transfer.
type TransferError struct {
	Code wire.TransferResponse
}

// Error implements error.
func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class(), e.Code)
}

// Class returns the error class of the response code.
func (e *TransferError) Class() ErrorClass {
	switch e.Code {
	case wire.BadProtocolVersion:
		return VersionClass
	case wire.BadHeaderChecksum, wire.BadDataChecksum:
		return IntegrityClass
	case wire.BadDataLength:
		return LengthClass
	}
	return FormatClass
}

// Recoverable tells whether a retransmission may fix the error.
func (e *TransferError) Recoverable() bool {
	return e.Class() != VersionClass
}

var (
	// ErrBadFormat indicates a wrong format code or malformed packets.
	ErrBadFormat = &TransferError{Code: wire.BadFormat}
	// ErrBadProtocolVersion indicates the peer speaks another version.
	ErrBadProtocolVersion = &TransferError{Code: wire.BadProtocolVersion}
	// ErrBadHeaderChecksum indicates a corrupted transfer header.
	ErrBadHeaderChecksum = &TransferError{Code: wire.BadHeaderChecksum}
	// ErrBadDataLength indicates lengths not matching the buffer.
	ErrBadDataLength = &TransferError{Code: wire.BadDataLength}
	// ErrBadDataChecksum indicates a corrupted packet area.
	ErrBadDataChecksum = &TransferError{Code: wire.BadDataChecksum}

	// ErrTransferTooLarge indicates the packets don't fit in one Transfer.
	ErrTransferTooLarge = errors.New("transfer too large")
)

// TransferErrorOf extracts the TransferError from a possibly wrapped error.
func TransferErrorOf(err error) (*TransferError, bool) {
	var te *TransferError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// ResponseOf maps a Decode result to the response code reported to the peer.
func ResponseOf(err error) wire.TransferResponse {
	if err == nil {
		return wire.Success
	}
	if te, ok := TransferErrorOf(err); ok {
		return te.Code
	}
	return wire.BadResponse
}
