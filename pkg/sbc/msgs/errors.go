package msgs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Direction tells which vocabulary a packet kind belongs to.
type Direction int

// Directions.
const (
	// ToHost is firmware to host.
	ToHost Direction = iota
	// ToFirmware is host to firmware.
	ToFirmware
)

func (d Direction) String() string {
	if d == ToHost {
		return "firmware->host"
	}
	return "host->firmware"
}

// UnknownKindError indicates a packet kind outside the vocabulary of
// its direction. The packet is skipped; the Transfer is still processed.
type UnknownKindError struct {
	Direction Direction
	Kind      uint16
}

// Error implements error.
func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown %s packet kind %d", e.Direction, e.Kind)
}

var (
	// ErrBadPayload indicates a payload not matching its kind's layout.
	ErrBadPayload = errors.New("bad payload")
	// ErrPayloadTooLarge indicates a message too large to encode.
	ErrPayloadTooLarge = errors.New("payload too large")
)

func badPayload(format string, args ...interface{}) error {
	return errors.Wrapf(ErrBadPayload, format, args...)
}
