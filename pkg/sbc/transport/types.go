package transport

import (
	"context"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
)

// TransferReadWriter reads and writes whole Transfers.
type TransferReadWriter interface {
	// ReadTransfer blocks until a Transfer is received. The returned
	// buffer may be malformed; Decode tells.
	ReadTransfer() ([]byte, error)
	WriteTransfer([]byte) error
}

// PacketHandler is called for each application packet accepted.
type PacketHandler interface {
	HandlePacket(context.Context, *codec.Packet)
}

// HandlePacketFunc is func type of PacketHandler.
type HandlePacketFunc func(context.Context, *codec.Packet)

// HandlePacket implements PacketHandler.
func (f HandlePacketFunc) HandlePacket(ctx context.Context, pkt *codec.Packet) {
	f(ctx, pkt)
}

// StateNotifier is called when the link state changed.
type StateNotifier interface {
	StateChanged(context.Context, State)
}

// StateChangedFunc is func type of StateNotifier.
type StateChangedFunc func(context.Context, State)

// StateChanged implements StateNotifier.
func (f StateChangedFunc) StateChanged(ctx context.Context, state State) {
	f(ctx, state)
}

// Poller is called before a new Transfer is composed, giving a chance to
// queue packets into it.
type Poller interface {
	Poll(context.Context)
}

// PollFunc is func type of Poller.
type PollFunc func(context.Context)

// Poll implements Poller.
func (f PollFunc) Poll(ctx context.Context) {
	f(ctx)
}

// Stats are counters of a Link.
type Stats struct {
	TransfersSent     uint64
	TransfersReceived uint64
	Retransmissions   uint64
	ResendRequests    uint64
	Duplicates        uint64
	DecodeErrors      uint64
	SequenceErrors    uint64
	ExchangeTimeouts  uint64
	Disconnects       uint64
}
