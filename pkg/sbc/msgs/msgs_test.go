package msgs

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

func g28() *Code {
	return &Code{
		Channel:   wire.ChannelFile,
		Flags:     wire.NoMinorCommandNumber,
		Letter:    'G',
		MajorCode: 28,
	}
}

func TestHostMessagesRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		msg  HostMessage
	}{
		{"get state", GetState{}},
		{"emergency stop", EmergencyStop{}},
		{"reset", Reset{}},
		{"code without parameters", g28()},
		{"code with parameters", &Code{
			Channel:      wire.ChannelSerial,
			Flags:        wire.FilePositionValid,
			Letter:       'M',
			MajorCode:    106,
			MinorCode:    -1,
			FilePosition: 4096,
			Parameters: []CodeParameter{
				{Letter: 'P', Value: IntValue(-3)},
				{Letter: 'S', Value: FloatValue(0.5)},
				{Letter: 'U', Value: UIntValue(7)},
				{Letter: 'X', Value: FloatArrayValue(1.5, -2.25, 3)},
				{Letter: 'C', Value: StringValue("fan0")},
				{Letter: 'Y', Value: IntArrayValue(1, -2)},
				{Letter: 'Z', Value: UIntArrayValue(9)},
				{Letter: 'E', Value: ExpressionValue("{move.axes[0].max}")},
				{Letter: 'F', Value: IntArrayValue()},
			},
		}},
		{"get object model", &GetObjectModel{Module: 3, Path: "heat.heaters"}},
		{"get whole object model", &GetObjectModel{Module: 0}},
		{"set object model int", &SetObjectModel{Module: 1, Path: "fans[0].requestedValue", Value: IntValue(128)}},
		{"set object model string", &SetObjectModel{Module: 1, Path: "network.name", Value: StringValue("printer")}},
		{"set object model floats", &SetObjectModel{Module: 2, Path: "tools[0].offsets", Value: FloatArrayValue(0.1, 0.2, 0.3)}},
		{"print started", &PrintStarted{
			Filename:         "0:/gcodes/benchy.gcode",
			GeneratedBy:      "PrusaSlicer 2.6",
			LastModified:     time.Unix(1700000000, 0),
			FileSize:         1234567,
			FirstLayerHeight: 0.3,
			LayerHeight:      0.2,
			ObjectHeight:     48,
			PrintTime:        3600,
			SimulatedTime:    3500,
			Filaments:        []float32{1234.5, 10},
		}},
		{"print started minimal", &PrintStarted{Filename: "a.g"}},
		{"print stopped", &PrintStopped{Reason: wire.UserCancelled}},
		{"macro completed", &MacroCompleted{Channel: wire.ChannelDaemon, Error: true}},
		{"get height map", GetHeightMap{}},
		{"set height map", &SetHeightMap{Map: HeightMap{
			XMin: 10, XMax: 30, XSpacing: 10,
			YMin: 0, YMax: 10, YSpacing: 10,
			NumX: 3, NumY: 2, Z: []float32{0.1, 0.2, 0.3, -0.1, -0.2, -0.3},
		}}},
		{"lock", &LockMovement{Channel: wire.ChannelHTTP}},
		{"unlock", &Unlock{Channel: wire.ChannelAutoPause}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pkt, err := EncodeHost(tc.msg)
			require.NoError(t, err)
			require.Equal(t, uint16(tc.msg.HostRequest()), pkt.Kind)
			require.Zero(t, len(pkt.Data)%4)
			msg, err := DecodeHost(pkt)
			require.NoError(t, err)
			require.Equal(t, tc.msg, msg)
		})
	}
}

func TestFirmwareMessagesRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		msg  FirmwareMessage
	}{
		{"report state", &ReportState{BusyChannels: 1<<wire.ChannelFile | 1<<wire.ChannelQueue}},
		{"object model", &ObjectModelFragment{Module: 2, Data: []byte(`{"state":{"status":"idle"}}`)}},
		{"object model not found", &ObjectModelFragment{Module: 2}},
		{"code reply", &CodeReply{
			MessageType: wire.DestinationOf(wire.ChannelFile) | wire.WarningMessageFlag,
			Text:        "Warning: homing",
		}},
		{"empty code reply", &CodeReply{MessageType: wire.DestinationOf(wire.ChannelHTTP)}},
		{"execute macro", &ExecuteMacro{Channel: wire.ChannelTelnet, ReportMissing: true, Filename: "homeall.g"}},
		{"abort file", &AbortFile{Channel: wire.ChannelFile}},
		{"stack event", &StackEvent{Channel: wire.ChannelAux, Depth: 2, Flags: wire.AxesRelative | wire.UsingInches, Feedrate: 50}},
		{"print paused", &PrintPaused{FilePosition: 98765, Reason: wire.PausedByFilament}},
		{"height map", &HeightMap{NumX: 1, NumY: 1, Z: []float32{0.05}, Radius: 150}},
		{"locked", &Locked{Channel: wire.ChannelLCD}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pkt, err := EncodeFirmware(tc.msg)
			require.NoError(t, err)
			require.Equal(t, uint16(tc.msg.FirmwareRequest()), pkt.Kind)
			msg, err := DecodeFirmware(pkt)
			require.NoError(t, err)
			require.Equal(t, tc.msg, msg)
		})
	}
}

func TestReportStateBusy(t *testing.T) {
	m := &ReportState{BusyChannels: 1 << wire.ChannelSPI}
	require.True(t, m.IsBusy(wire.ChannelSPI))
	require.False(t, m.IsBusy(wire.ChannelHTTP))
}

func TestHeightMapThroughTransfer(t *testing.T) {
	hm := &HeightMap{
		XMin: -100.25, XMax: 100.75, XSpacing: 50.25,
		YMin: -50.5, YMax: 49.5, YSpacing: 50,
		Radius: -1,
		NumX:   5, NumY: 3,
	}
	for n := 0; n < 15; n++ {
		hm.Z = append(hm.Z, float32(n)*0.01-0.07)
	}
	pkt, err := EncodeFirmware(hm)
	require.NoError(t, err)
	require.Len(t, pkt.Data, wire.HeightMapHeaderSize+15*4)

	buf, err := codec.Encode(codec.NewHeader(6), []*codec.Packet{pkt})
	require.NoError(t, err)
	tr, err := codec.Decode(buf)
	require.NoError(t, err)
	require.Len(t, tr.Packets, 1)

	msg, err := DecodeFirmware(tr.Packets[0])
	require.NoError(t, err)
	got := msg.(*HeightMap)
	bits := func(f float32) uint32 { return math.Float32bits(f) }
	require.Equal(t, bits(hm.XMin), bits(got.XMin))
	require.Equal(t, bits(hm.XMax), bits(got.XMax))
	require.Equal(t, bits(hm.XSpacing), bits(got.XSpacing))
	require.Equal(t, bits(hm.YMin), bits(got.YMin))
	require.Equal(t, bits(hm.YMax), bits(got.YMax))
	require.Equal(t, bits(hm.YSpacing), bits(got.YSpacing))
	require.Equal(t, bits(hm.Radius), bits(got.Radius))
	require.Equal(t, uint16(5), got.NumX)
	require.Equal(t, uint16(3), got.NumY)
	require.Equal(t, hm.Z, got.Z)
	require.Equal(t, hm.At(4, 2), got.At(4, 2))
}

func TestHeightMapValidate(t *testing.T) {
	hm := &HeightMap{NumX: 2, NumY: 2, Z: []float32{1, 2, 3}}
	require.True(t, errors.Is(hm.Validate(), ErrBadPayload))
	_, err := EncodeFirmware(hm)
	require.True(t, errors.Is(err, ErrBadPayload))

	big := &HeightMap{NumX: MaxHeightMapPoints + 1, NumY: 1, Z: make([]float32, MaxHeightMapPoints+1)}
	require.True(t, errors.Is(big.Validate(), ErrPayloadTooLarge))

	fits := &HeightMap{NumX: MaxHeightMapPoints, NumY: 1, Z: make([]float32, MaxHeightMapPoints)}
	pkt, err := EncodeFirmware(fits)
	require.NoError(t, err)
	_, err = codec.Encode(codec.NewHeader(1), []*codec.Packet{pkt})
	require.NoError(t, err)
}

func TestUnknownKinds(t *testing.T) {
	_, err := DecodeHost(&codec.Packet{Kind: uint16(wire.InvalidHostRequest)})
	var uk *UnknownKindError
	require.True(t, errors.As(err, &uk))
	require.Equal(t, ToFirmware, uk.Direction)

	_, err = DecodeHost(&codec.Packet{Kind: uint16(wire.HostResendPacket)})
	require.True(t, errors.As(err, &uk))

	_, err = DecodeFirmware(&codec.Packet{Kind: 10})
	require.True(t, errors.As(err, &uk))
	require.Equal(t, ToHost, uk.Direction)
	require.Equal(t, "unknown firmware->host packet kind 10", uk.Error())
}

func TestBadPayloads(t *testing.T) {
	pkt, err := EncodeHost(g28())
	require.NoError(t, err)

	testCases := []struct {
		name string
		pkt  *codec.Packet
		fw   bool
	}{
		{"truncated code", &codec.Packet{Kind: pkt.Kind, Data: pkt.Data[:8]}, false},
		{"invalid channel", &codec.Packet{Kind: pkt.Kind, Data: append([]byte{wire.NumChannels}, pkt.Data[1:]...)}, false},
		{"missing parameter", &codec.Packet{Kind: pkt.Kind, Data: append([]byte{2, 0, 1}, pkt.Data[3:]...)}, false},
		{"empty lock", &codec.Packet{Kind: uint16(wire.Unlock)}, false},
		{"reply longer than data", &codec.Packet{Kind: uint16(wire.CodeReply), Data: []byte{1, 0, 0, 0, 8, 0, 0, 0, 'o', 'k'}}, true},
		{"height map short", &codec.Packet{Kind: uint16(wire.HeightMap), Data: make([]byte, 16)}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var err error
			if tc.fw {
				_, err = DecodeFirmware(tc.pkt)
			} else {
				_, err = DecodeHost(tc.pkt)
			}
			require.True(t, errors.Is(err, ErrBadPayload), "got %v", err)
		})
	}
}

func TestCodeLimits(t *testing.T) {
	c := g28()
	c.Parameters = []CodeParameter{{Letter: 'S', Value: StringValue(strings.Repeat("x", wire.MaxCodeBufferSize))}}
	_, err := EncodeHost(c)
	require.True(t, errors.Is(err, ErrPayloadTooLarge))

	c = g28()
	c.Channel = wire.NumChannels
	_, err = EncodeHost(c)
	require.True(t, errors.Is(err, ErrBadPayload))
}

func TestCodeString(t *testing.T) {
	require.Equal(t, "G28", g28().String())
	c := &Code{
		Letter:    'M',
		MajorCode: 98,
		MinorCode: 1,
		Parameters: []CodeParameter{
			{Letter: 'P', Value: StringValue("config.g")},
			{Letter: 'X', Value: FloatArrayValue(1, 2.5)},
		},
	}
	require.Equal(t, `M98.1 P"config.g" X1:2.5`, c.String())
	v, ok := c.Param('X')
	require.True(t, ok)
	require.Equal(t, []float32{1, 2.5}, v.Interface())
	_, ok = c.Param('Q')
	require.False(t, ok)

	t0 := &Code{Letter: 'T', Flags: wire.NoMajorCommandNumber}
	require.Equal(t, "T", t0.String())
}
