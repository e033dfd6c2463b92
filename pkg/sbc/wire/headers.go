package wire

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/restruct.v1"
)

// Header sizes in bytes.
const (
	TransferHeaderSize       = 12
	PacketHeaderSize         = 8
	ReportStateHeaderSize    = 4
	ObjectModelHeaderSize    = 4
	CodeReplyHeaderSize      = 8
	ExecuteMacroHeaderSize   = 4
	AbortFileHeaderSize      = 4
	StackEventHeaderSize     = 8
	PrintPausedHeaderSize    = 8
	HeightMapHeaderSize      = 32
	LockUnlockHeaderSize     = 4
	CodeHeaderSize           = 16
	CodeParameterSize        = 8
	MacroCompleteHeaderSize  = 4
	PrintStartedHeaderSize   = 40
	PrintStoppedHeaderSize   = 4
	SetObjectModelHeaderSize = 8

	// TransferHeaderChecksumSpan is the number of header bytes the header
	// checksum covers: everything before the checksum field itself.
	TransferHeaderChecksumSpan = TransferHeaderSize - 2
)

// Order is the byte order of every field on the wire.
var Order = binary.LittleEndian

// TransferHeader starts every Transfer.
type TransferHeader struct {
	FormatCode      uint8
	NumPackets      uint8
	ProtocolVersion uint16
	SequenceNumber  uint16
	DataLength      uint16
	ChecksumData    uint16
	ChecksumHeader  uint16
}

// PacketHeader starts every Packet within a Transfer.
type PacketHeader struct {
	Request        uint16
	ID             uint16
	Length         uint16
	ResendPacketID uint16
}

// ReportStateHeader carries the busy channel bitmap.
type ReportStateHeader struct {
	BusyChannels uint32
}

// ObjectModelHeader precedes an object model fragment or path.
type ObjectModelHeader struct {
	Length  uint16
	Module  uint8
	Padding uint8
}

// CodeReplyHeader precedes code reply text.
type CodeReplyHeader struct {
	MessageType MessageType
	Length      uint16
	Padding     uint16
}

// ExecuteMacroHeader precedes a macro filename.
type ExecuteMacroHeader struct {
	Channel       Channel
	ReportMissing uint8
	Length        uint8
	Padding       uint8
}

// AbortFileHeader names the channel whose file is closed.
type AbortFileHeader struct {
	Channel  Channel
	PaddingA uint8
	PaddingB uint16
}

// StackEventHeader reports a stack change on a channel.
type StackEventHeader struct {
	Channel  Channel
	Depth    uint8
	Flags    StackEventFlags
	Feedrate float32
}

// PrintPausedHeader reports where and why a print paused.
type PrintPausedHeader struct {
	FilePosition uint32
	PauseReason  PrintPausedReason
	PaddingA     uint8
	PaddingB     uint16
}

// HeightMapHeader precedes NumX*NumY float32 z values.
type HeightMapHeader struct {
	XMin     float32
	XMax     float32
	XSpacing float32
	YMin     float32
	YMax     float32
	YSpacing float32
	Radius   float32
	NumX     uint16
	NumY     uint16
}

// LockUnlockHeader names the channel of a lock or unlock request.
type LockUnlockHeader struct {
	Channel  Channel
	PaddingA uint8
	PaddingB uint16
}

// CodeHeader precedes NumParameters CodeParameters and their variable data.
type CodeHeader struct {
	Channel       Channel
	Flags         CodeFlags
	NumParameters uint8
	Letter        uint8
	MajorCode     int32
	MinorCode     int32
	FilePosition  uint32
}

// CodeParameter is a fixed parameter slot. For arrays Value holds the
// element count and for strings the byte count; the data follows all slots.
type CodeParameter struct {
	Letter  uint8
	Type    DataType
	Padding uint16
	Value   uint32
}

// MacroCompleteHeader reports a finished macro on a channel.
type MacroCompleteHeader struct {
	Channel Channel
	Error   uint8
	Padding uint16
}

// PrintStartedHeader precedes filament usage, filename and generator.
type PrintStartedHeader struct {
	FilenameLength    uint16
	GeneratedByLength uint16
	NumFilaments      uint32
	LastModifiedTime  int64
	FileSize          uint32
	FirstLayerHeight  float32
	LayerHeight       float32
	ObjectHeight      float32
	PrintTime         uint32
	SimulatedTime     uint32
}

// PrintStoppedHeader tells why a print stopped.
type PrintStoppedHeader struct {
	Reason   PrintStoppedReason
	PaddingA uint8
	PaddingB uint16
}

// SetObjectModelHeader precedes the field path and, for arrays and
// strings, the value data.
type SetObjectModelHeader struct {
	Type        DataType
	Module      uint8
	FieldLength uint16
	Value       uint32
}

// Marshal packs a fixed header.
func Marshal(v interface{}) ([]byte, error) {
	return restruct.Pack(Order, v)
}

// Unmarshal unpacks a fixed header of the given size from b.
func Unmarshal(b []byte, size int, v interface{}) error {
	if len(b) < size {
		return fmt.Errorf("short buffer: %d bytes, need %d", len(b), size)
	}
	return restruct.Unpack(b[:size], Order, v)
}

// Padded rounds n up to a whole number of 32-bit words.
func Padded(n int) int {
	return (n + 3) &^ 3
}
