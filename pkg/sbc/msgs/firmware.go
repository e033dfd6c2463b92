package msgs

import (
	"github.com/pkg/errors"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// FirmwareMessage is a message sent from the firmware to the host.
// The set of implementations is closed.
type FirmwareMessage interface {
	FirmwareRequest() wire.FirmwareRequest
	encode(*encoder)
}

// ReportState answers GetState with the busy channel bitmap.
type ReportState struct {
	BusyChannels uint32
}

// IsBusy tells whether the channel is busy.
func (m *ReportState) IsBusy(ch wire.Channel) bool {
	return m.BusyChannels&(1<<ch) != 0
}

// ObjectModelFragment answers GetObjectModel with an encoded fragment.
// An empty fragment means the path was not found.
type ObjectModelFragment struct {
	Module uint8
	Data   []byte
}

// CodeReply is output of a code, addressed by MessageType.
type CodeReply struct {
	MessageType wire.MessageType
	Text        string
}

// ExecuteMacro requests the host to run a macro file on a channel.
type ExecuteMacro struct {
	Channel       wire.Channel
	ReportMissing bool
	Filename      string
}

// AbortFile requests the host to close the file of a channel.
type AbortFile struct {
	Channel wire.Channel
}

// StackEvent reports a changed stack on a channel.
type StackEvent struct {
	Channel  wire.Channel
	Depth    uint8
	Flags    wire.StackEventFlags
	Feedrate float32
}

// PrintPaused reports a paused print.
type PrintPaused struct {
	FilePosition uint32
	Reason       wire.PrintPausedReason
}

// Locked tells movement is locked for a channel and the machine stands still.
type Locked struct {
	Channel wire.Channel
}

// FirmwareRequest implements FirmwareMessage.
func (*ReportState) FirmwareRequest() wire.FirmwareRequest { return wire.ReportState }

// FirmwareRequest implements FirmwareMessage.
func (*ObjectModelFragment) FirmwareRequest() wire.FirmwareRequest { return wire.ObjectModel }

// FirmwareRequest implements FirmwareMessage.
func (*CodeReply) FirmwareRequest() wire.FirmwareRequest { return wire.CodeReply }

// FirmwareRequest implements FirmwareMessage.
func (*ExecuteMacro) FirmwareRequest() wire.FirmwareRequest { return wire.ExecuteMacro }

// FirmwareRequest implements FirmwareMessage.
func (*AbortFile) FirmwareRequest() wire.FirmwareRequest { return wire.AbortFile }

// FirmwareRequest implements FirmwareMessage.
func (*StackEvent) FirmwareRequest() wire.FirmwareRequest { return wire.StackEvent }

// FirmwareRequest implements FirmwareMessage.
func (*PrintPaused) FirmwareRequest() wire.FirmwareRequest { return wire.PrintPaused }

// FirmwareRequest implements FirmwareMessage.
func (*Locked) FirmwareRequest() wire.FirmwareRequest { return wire.Locked }

func (m *ReportState) encode(e *encoder) {
	e.header(&wire.ReportStateHeader{BusyChannels: m.BusyChannels})
}

func (m *ObjectModelFragment) encode(e *encoder) {
	if len(m.Data) > 0xffff {
		e.err = errors.Wrapf(ErrPayloadTooLarge, "fragment of %d bytes", len(m.Data))
		return
	}
	e.header(&wire.ObjectModelHeader{Length: uint16(len(m.Data)), Module: m.Module})
	e.padded(m.Data)
}

func (m *CodeReply) encode(e *encoder) {
	if len(m.Text) > 0xffff {
		e.err = errors.Wrapf(ErrPayloadTooLarge, "reply of %d bytes", len(m.Text))
		return
	}
	e.header(&wire.CodeReplyHeader{MessageType: m.MessageType, Length: uint16(len(m.Text))})
	e.padded([]byte(m.Text))
}

func (m *ExecuteMacro) encode(e *encoder) {
	if len(m.Filename) > 0xff {
		e.err = errors.Wrapf(ErrPayloadTooLarge, "macro filename of %d bytes", len(m.Filename))
		return
	}
	hdr := wire.ExecuteMacroHeader{Channel: m.Channel, Length: uint8(len(m.Filename))}
	if m.ReportMissing {
		hdr.ReportMissing = 1
	}
	e.header(&hdr)
	e.padded([]byte(m.Filename))
}

func (m *AbortFile) encode(e *encoder) {
	e.header(&wire.AbortFileHeader{Channel: m.Channel})
}

func (m *StackEvent) encode(e *encoder) {
	e.header(&wire.StackEventHeader{
		Channel:  m.Channel,
		Depth:    m.Depth,
		Flags:    m.Flags,
		Feedrate: m.Feedrate,
	})
}

func (m *PrintPaused) encode(e *encoder) {
	e.header(&wire.PrintPausedHeader{FilePosition: m.FilePosition, PauseReason: m.Reason})
}

func (m *Locked) encode(e *encoder) {
	e.header(&wire.LockUnlockHeader{Channel: m.Channel})
}

// EncodeFirmware encodes a firmware message into a packet.
func EncodeFirmware(msg FirmwareMessage) (*codec.Packet, error) {
	e := &encoder{}
	msg.encode(e)
	data, err := e.bytes()
	if err != nil {
		return nil, errors.WithMessagef(err, "encode %s", msg.FirmwareRequest())
	}
	return &codec.Packet{Kind: uint16(msg.FirmwareRequest()), Data: data}, nil
}

// DecodeFirmware decodes a packet received by the host.
func DecodeFirmware(pkt *codec.Packet) (FirmwareMessage, error) {
	d := &decoder{buf: pkt.Data}
	switch wire.FirmwareRequest(pkt.Kind) {
	case wire.ReportState:
		var hdr wire.ReportStateHeader
		if err := d.header(wire.ReportStateHeaderSize, &hdr); err != nil {
			return nil, err
		}
		return &ReportState{BusyChannels: hdr.BusyChannels}, nil
	case wire.ObjectModel:
		var hdr wire.ObjectModelHeader
		if err := d.header(wire.ObjectModelHeaderSize, &hdr); err != nil {
			return nil, err
		}
		data, err := d.data(int(hdr.Length))
		if err != nil {
			return nil, err
		}
		return &ObjectModelFragment{Module: hdr.Module, Data: data}, nil
	case wire.CodeReply:
		var hdr wire.CodeReplyHeader
		if err := d.header(wire.CodeReplyHeaderSize, &hdr); err != nil {
			return nil, err
		}
		text, err := d.str(int(hdr.Length))
		if err != nil {
			return nil, err
		}
		return &CodeReply{MessageType: hdr.MessageType, Text: text}, nil
	case wire.ExecuteMacro:
		var hdr wire.ExecuteMacroHeader
		if err := d.header(wire.ExecuteMacroHeaderSize, &hdr); err != nil {
			return nil, err
		}
		ch, err := d.channel(hdr.Channel)
		if err != nil {
			return nil, err
		}
		filename, err := d.str(int(hdr.Length))
		if err != nil {
			return nil, err
		}
		return &ExecuteMacro{Channel: ch, ReportMissing: hdr.ReportMissing != 0, Filename: filename}, nil
	case wire.AbortFile:
		var hdr wire.AbortFileHeader
		if err := d.header(wire.AbortFileHeaderSize, &hdr); err != nil {
			return nil, err
		}
		ch, err := d.channel(hdr.Channel)
		if err != nil {
			return nil, err
		}
		return &AbortFile{Channel: ch}, nil
	case wire.StackEvent:
		var hdr wire.StackEventHeader
		if err := d.header(wire.StackEventHeaderSize, &hdr); err != nil {
			return nil, err
		}
		ch, err := d.channel(hdr.Channel)
		if err != nil {
			return nil, err
		}
		return &StackEvent{Channel: ch, Depth: hdr.Depth, Flags: hdr.Flags, Feedrate: hdr.Feedrate}, nil
	case wire.PrintPaused:
		var hdr wire.PrintPausedHeader
		if err := d.header(wire.PrintPausedHeaderSize, &hdr); err != nil {
			return nil, err
		}
		return &PrintPaused{FilePosition: hdr.FilePosition, Reason: hdr.PauseReason}, nil
	case wire.HeightMap:
		return decodeHeightMap(d)
	case wire.Locked:
		var hdr wire.LockUnlockHeader
		if err := d.header(wire.LockUnlockHeaderSize, &hdr); err != nil {
			return nil, err
		}
		ch, err := d.channel(hdr.Channel)
		if err != nil {
			return nil, err
		}
		return &Locked{Channel: ch}, nil
	}
	return nil, &UnknownKindError{Direction: ToHost, Kind: pkt.Kind}
}
