package dispatch

import (
	"context"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// Sender queues packets for the peer. transport.Link is a Sender.
type Sender interface {
	Send(*codec.Packet) error
}

// ObjectModel reads and writes the object model of the firmware.
type ObjectModel interface {
	// Read returns the encoded fragment at path, or an error if not found.
	Read(module uint8, path string) ([]byte, error)
	Write(module uint8, path string, value msgs.Value) error
}

// SubmitStatus is the outcome of a code submission.
type SubmitStatus int

// Submit status.
const (
	// Accepted means the code executes; output follows by SendCodeReply.
	Accepted SubmitStatus = iota
	// Busy means the channel can not take the code now.
	Busy
)

// CodeExecutor executes codes.
type CodeExecutor interface {
	Submit(ctx context.Context, code *msgs.Code) (SubmitStatus, error)
}

// PrintTracker tracks the print lifecycle.
type PrintTracker interface {
	Started(info *msgs.PrintStarted)
	Stopped(reason wire.PrintStoppedReason)
}

// HeightMapStore keeps the bed height map.
type HeightMapStore interface {
	Get() (*msgs.HeightMap, error)
	Set(*msgs.HeightMap) error
}

// LockManager grants movement locks. Lock returns false while the
// machine is moving or another channel holds the lock.
type LockManager interface {
	Lock(ch wire.Channel) bool
	Unlock(ch wire.Channel)
}

// Machine handles the requests acting on the whole machine.
type Machine interface {
	EmergencyStop()
	Reset()
	MacroCompleted(ch wire.Channel, failed bool)
}

// StateReporter adds firmware specific busy bits to ReportState.
type StateReporter interface {
	BusyChannels() uint32
}

// HostHandler receives firmware messages no request waits for.
type HostHandler interface {
	HandleFirmwareMessage(context.Context, msgs.FirmwareMessage)
}

// HandleFirmwareMessageFunc is func type of HostHandler.
type HandleFirmwareMessageFunc func(context.Context, msgs.FirmwareMessage)

// HandleFirmwareMessage implements HostHandler.
func (f HandleFirmwareMessageFunc) HandleFirmwareMessage(ctx context.Context, msg msgs.FirmwareMessage) {
	f(ctx, msg)
}

// Stats are counters of a dispatcher.
type Stats struct {
	Dispatched   uint64
	UnknownKinds uint64
	BadPayloads  uint64
	// Unmatched counts replies no request waited for.
	Unmatched uint64
}
