package wire

import (
	"fmt"
	"time"
)

// Format codes.
const (
	FormatCode        uint8 = 0x5F
	InvalidFormatCode uint8 = 0xC9 // must differ from FormatCode
)

// ProtocolVersion is the only version this package speaks.
const ProtocolVersion uint16 = 1

// Buffer limits.
const (
	// TransferBufferSize is the maximum encoded length of a Transfer.
	TransferBufferSize = 2048
	// MaxCodeBufferSize is the maximum encoded length of a code payload.
	MaxCodeBufferSize = 192
	// MaxPackets is the largest packet count a TransferHeader can carry.
	MaxPackets = 0xff
)

// Timeouts.
const (
	// ExchangeTimeout is the longest gap between two successive Transfers
	// from the same sender before the gap is treated as packet loss.
	ExchangeTimeout = 500 * time.Millisecond
	// ConnectionTimeout is the longest time without a valid Transfer
	// before the connection is reset.
	ConnectionTimeout = 4000 * time.Millisecond
)

// TransferResponse classifies the outcome of decoding a Transfer.
type TransferResponse uint32

// Transfer responses.
const (
	Success            TransferResponse = 1
	BadFormat          TransferResponse = 2
	BadProtocolVersion TransferResponse = 3
	BadDataLength      TransferResponse = 4
	BadHeaderChecksum  TransferResponse = 5
	BadDataChecksum    TransferResponse = 6

	BadResponse TransferResponse = 0xFEFEFEFE
)

var transferResponseNames = map[TransferResponse]string{
	Success:            "Success",
	BadFormat:          "BadFormat",
	BadProtocolVersion: "BadProtocolVersion",
	BadDataLength:      "BadDataLength",
	BadHeaderChecksum:  "BadHeaderChecksum",
	BadDataChecksum:    "BadDataChecksum",
	BadResponse:        "BadResponse",
}

func (r TransferResponse) String() string {
	if name, ok := transferResponseNames[r]; ok {
		return name
	}
	return fmt.Sprintf("TransferResponse(%d)", uint32(r))
}

// DataType is the type tag of a code parameter or object model value.
type DataType uint8

// Data types.
const (
	TypeInt        DataType = 0 // int32
	TypeUInt       DataType = 1 // uint32
	TypeFloat      DataType = 2 // float32
	TypeIntArray   DataType = 3 // []int32
	TypeUIntArray  DataType = 4 // []uint32
	TypeFloatArray DataType = 5 // []float32
	TypeString     DataType = 6
	TypeExpression DataType = 7 // string containing '['...']'
)

// IsValid checks the data type is known.
func (t DataType) IsValid() bool {
	return t <= TypeExpression
}

// IsArray tells whether values of this type carry an element count.
func (t DataType) IsArray() bool {
	return t == TypeIntArray || t == TypeUIntArray || t == TypeFloatArray
}

// IsString tells whether values of this type carry text.
func (t DataType) IsString() bool {
	return t == TypeString || t == TypeExpression
}

// FirmwareRequest is a packet kind sent from the firmware to the host.
type FirmwareRequest uint16

// Firmware requests.
const (
	FirmwareResendPacket FirmwareRequest = 0 // retransmission of the given packet
	ReportState          FirmwareRequest = 1 // response to GetState
	ObjectModel          FirmwareRequest = 2 // object model fragment
	CodeReply            FirmwareRequest = 3 // output of a code
	ExecuteMacro         FirmwareRequest = 4 // request execution of a macro file
	AbortFile            FirmwareRequest = 5 // close the file of a channel
	StackEvent           FirmwareRequest = 6 // channel stack changed
	PrintPaused          FirmwareRequest = 7
	HeightMap            FirmwareRequest = 8 // response to GetHeightMap
	Locked               FirmwareRequest = 9 // movement locked and machine in standstill

	numFirmwareRequests = 10
)

var firmwareRequestNames = [numFirmwareRequests]string{
	"ResendPacket", "ReportState", "ObjectModel", "CodeReply", "ExecuteMacro",
	"AbortFile", "StackEvent", "PrintPaused", "HeightMap", "Locked",
}

// IsValid checks the request is in the firmware vocabulary.
func (r FirmwareRequest) IsValid() bool {
	return r < numFirmwareRequests
}

func (r FirmwareRequest) String() string {
	if r.IsValid() {
		return firmwareRequestNames[r]
	}
	return fmt.Sprintf("FirmwareRequest(%d)", uint16(r))
}

// HostRequest is a packet kind sent from the host to the firmware.
type HostRequest uint16

// Host requests.
const (
	GetState                         HostRequest = 0
	EmergencyStop                    HostRequest = 1
	Reset                            HostRequest = 2
	Code                             HostRequest = 3
	GetObjectModel                   HostRequest = 4
	SetObjectModel                   HostRequest = 5
	PrintStarted                     HostRequest = 6
	PrintStopped                     HostRequest = 7
	MacroCompleted                   HostRequest = 8
	GetHeightMap                     HostRequest = 9
	SetHeightMap                     HostRequest = 10
	LockMovementAndWaitForStandstill HostRequest = 11
	Unlock                           HostRequest = 12
	HostResendPacket                 HostRequest = 13

	// InvalidHostRequest is past every valid host request.
	InvalidHostRequest HostRequest = 14
)

var hostRequestNames = [InvalidHostRequest]string{
	"GetState", "EmergencyStop", "Reset", "Code", "GetObjectModel",
	"SetObjectModel", "PrintStarted", "PrintStopped", "MacroCompleted",
	"GetHeightMap", "SetHeightMap", "LockMovementAndWaitForStandstill",
	"Unlock", "ResendPacket",
}

// IsValid checks the request is in the host vocabulary.
func (r HostRequest) IsValid() bool {
	return r < InvalidHostRequest
}

func (r HostRequest) String() string {
	if r.IsValid() {
		return hostRequestNames[r]
	}
	return fmt.Sprintf("HostRequest(%d)", uint16(r))
}

// CodeFlags qualify a code header.
type CodeFlags uint8

// Code flags.
const (
	NoMajorCommandNumber    CodeFlags = 1
	NoMinorCommandNumber    CodeFlags = 2
	FilePositionValid       CodeFlags = 4
	EnforceAbsolutePosition CodeFlags = 8
)

// StackEventFlags describe the state of a channel after a stack change.
type StackEventFlags uint16

// Stack event flags.
const (
	DrivesRelative StackEventFlags = 1
	AxesRelative   StackEventFlags = 2
	UsingInches    StackEventFlags = 4
)

// PrintPausedReason tells why a print was paused.
type PrintPausedReason uint8

// Pause reasons.
const (
	PausedByUser           PrintPausedReason = 1
	PausedByGCode          PrintPausedReason = 2
	PausedByFilamentChange PrintPausedReason = 3
	PausedByTrigger        PrintPausedReason = 4
	PausedByHeaterFault    PrintPausedReason = 5
	PausedByFilament       PrintPausedReason = 6
	PausedByStall          PrintPausedReason = 7
	PausedByLowVoltage     PrintPausedReason = 8
)

// PrintStoppedReason tells why a print was stopped.
type PrintStoppedReason uint8

// Stop reasons.
const (
	NormalCompletion PrintStoppedReason = 0
	UserCancelled    PrintStoppedReason = 1
	Abort            PrintStoppedReason = 2
)
