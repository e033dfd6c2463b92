package dispatch

import (
	"errors"
	"fmt"

	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

var (
	// ErrDisconnected fails requests pending when the link disconnected.
	ErrDisconnected = errors.New("disconnected")
	// ErrAborted fails codes and locks dropped by an emergency stop, a
	// reset, an unlock or an aborted file.
	ErrAborted = errors.New("aborted")
)

// CodeError is the error output of a code.
type CodeError struct {
	Channel wire.Channel
	Text    string
}

// Error implements error.
func (e *CodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Channel, e.Text)
}
