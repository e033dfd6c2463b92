package msgs

import (
	"time"

	"github.com/pkg/errors"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// HostMessage is a message sent from the host to the firmware.
// The set of implementations is closed.
type HostMessage interface {
	HostRequest() wire.HostRequest
	encode(*encoder)
}

// GetState requests the busy channel report.
type GetState struct{}

// EmergencyStop halts the machine immediately.
type EmergencyStop struct{}

// Reset restarts the controller.
type Reset struct{}

// GetObjectModel requests a fragment of the object model.
type GetObjectModel struct {
	Module uint8
	Path   string
}

// SetObjectModel assigns a field of the object model.
type SetObjectModel struct {
	Module uint8
	Path   string
	Value  Value
}

// PrintStarted announces the file being printed.
type PrintStarted struct {
	Filename         string
	GeneratedBy      string
	LastModified     time.Time
	FileSize         uint32
	FirstLayerHeight float32
	LayerHeight      float32
	ObjectHeight     float32
	// PrintTime and SimulatedTime are estimates in seconds.
	PrintTime     uint32
	SimulatedTime uint32
	// Filaments is the filament usage per extruder in mm.
	Filaments []float32
}

// PrintStopped clears the print information.
type PrintStopped struct {
	Reason wire.PrintStoppedReason
}

// MacroCompleted tells a macro requested by ExecuteMacro has finished.
type MacroCompleted struct {
	Channel wire.Channel
	Error   bool
}

// GetHeightMap requests the current height map.
type GetHeightMap struct{}

// SetHeightMap replaces the height map.
type SetHeightMap struct {
	Map HeightMap
}

// LockMovement locks movement and waits for standstill.
type LockMovement struct {
	Channel wire.Channel
}

// Unlock releases the resources locked by a channel.
type Unlock struct {
	Channel wire.Channel
}

// HostRequest implements HostMessage.
func (GetState) HostRequest() wire.HostRequest { return wire.GetState }

// HostRequest implements HostMessage.
func (EmergencyStop) HostRequest() wire.HostRequest { return wire.EmergencyStop }

// HostRequest implements HostMessage.
func (Reset) HostRequest() wire.HostRequest { return wire.Reset }

// HostRequest implements HostMessage.
func (*GetObjectModel) HostRequest() wire.HostRequest { return wire.GetObjectModel }

// HostRequest implements HostMessage.
func (*SetObjectModel) HostRequest() wire.HostRequest { return wire.SetObjectModel }

// HostRequest implements HostMessage.
func (*PrintStarted) HostRequest() wire.HostRequest { return wire.PrintStarted }

// HostRequest implements HostMessage.
func (*PrintStopped) HostRequest() wire.HostRequest { return wire.PrintStopped }

// HostRequest implements HostMessage.
func (*MacroCompleted) HostRequest() wire.HostRequest { return wire.MacroCompleted }

// HostRequest implements HostMessage.
func (GetHeightMap) HostRequest() wire.HostRequest { return wire.GetHeightMap }

// HostRequest implements HostMessage.
func (*SetHeightMap) HostRequest() wire.HostRequest { return wire.SetHeightMap }

// HostRequest implements HostMessage.
func (*LockMovement) HostRequest() wire.HostRequest {
	return wire.LockMovementAndWaitForStandstill
}

// HostRequest implements HostMessage.
func (*Unlock) HostRequest() wire.HostRequest { return wire.Unlock }

func (GetState) encode(*encoder)      {}
func (EmergencyStop) encode(*encoder) {}
func (Reset) encode(*encoder)         {}
func (GetHeightMap) encode(*encoder)  {}

func (m *GetObjectModel) encode(e *encoder) {
	if len(m.Path) > 0xffff {
		e.err = errors.Wrapf(ErrPayloadTooLarge, "path of %d bytes", len(m.Path))
		return
	}
	e.header(&wire.ObjectModelHeader{Length: uint16(len(m.Path)), Module: m.Module})
	e.padded([]byte(m.Path))
}

func (m *SetObjectModel) encode(e *encoder) {
	if !m.Value.Type.IsValid() {
		e.err = errors.Wrapf(ErrBadPayload, "value type %d", m.Value.Type)
		return
	}
	if len(m.Path) > 0xffff {
		e.err = errors.Wrapf(ErrPayloadTooLarge, "path of %d bytes", len(m.Path))
		return
	}
	e.header(&wire.SetObjectModelHeader{
		Type:        m.Value.Type,
		Module:      m.Module,
		FieldLength: uint16(len(m.Path)),
		Value:       m.Value.slot(),
	})
	e.padded([]byte(m.Path))
	m.Value.encodeData(e)
}

func (m *PrintStarted) encode(e *encoder) {
	if len(m.Filename) > 0xffff || len(m.GeneratedBy) > 0xffff {
		e.err = errors.Wrap(ErrPayloadTooLarge, "print file information")
		return
	}
	var modified int64
	if !m.LastModified.IsZero() {
		modified = m.LastModified.Unix()
	}
	e.header(&wire.PrintStartedHeader{
		FilenameLength:    uint16(len(m.Filename)),
		GeneratedByLength: uint16(len(m.GeneratedBy)),
		NumFilaments:      uint32(len(m.Filaments)),
		LastModifiedTime:  modified,
		FileSize:          m.FileSize,
		FirstLayerHeight:  m.FirstLayerHeight,
		LayerHeight:       m.LayerHeight,
		ObjectHeight:      m.ObjectHeight,
		PrintTime:         m.PrintTime,
		SimulatedTime:     m.SimulatedTime,
	})
	e.floats(m.Filaments)
	e.padded([]byte(m.Filename))
	e.padded([]byte(m.GeneratedBy))
}

func (m *PrintStopped) encode(e *encoder) {
	e.header(&wire.PrintStoppedHeader{Reason: m.Reason})
}

func (m *MacroCompleted) encode(e *encoder) {
	hdr := wire.MacroCompleteHeader{Channel: m.Channel}
	if m.Error {
		hdr.Error = 1
	}
	e.header(&hdr)
}

func (m *SetHeightMap) encode(e *encoder) {
	m.Map.encode(e)
}

func (m *LockMovement) encode(e *encoder) {
	e.header(&wire.LockUnlockHeader{Channel: m.Channel})
}

func (m *Unlock) encode(e *encoder) {
	e.header(&wire.LockUnlockHeader{Channel: m.Channel})
}

// EncodeHost encodes a host message into a packet. The packet id is
// assigned when the packet is placed into a Transfer.
func EncodeHost(msg HostMessage) (*codec.Packet, error) {
	e := &encoder{}
	msg.encode(e)
	data, err := e.bytes()
	if err != nil {
		return nil, errors.WithMessagef(err, "encode %s", msg.HostRequest())
	}
	return &codec.Packet{Kind: uint16(msg.HostRequest()), Data: data}, nil
}

// DecodeHost decodes a packet received by the firmware.
func DecodeHost(pkt *codec.Packet) (HostMessage, error) {
	d := &decoder{buf: pkt.Data}
	switch req := wire.HostRequest(pkt.Kind); req {
	case wire.GetState:
		return GetState{}, nil
	case wire.EmergencyStop:
		return EmergencyStop{}, nil
	case wire.Reset:
		return Reset{}, nil
	case wire.Code:
		return decodeCode(d)
	case wire.GetObjectModel:
		var hdr wire.ObjectModelHeader
		if err := d.header(wire.ObjectModelHeaderSize, &hdr); err != nil {
			return nil, err
		}
		path, err := d.str(int(hdr.Length))
		if err != nil {
			return nil, err
		}
		return &GetObjectModel{Module: hdr.Module, Path: path}, nil
	case wire.SetObjectModel:
		var hdr wire.SetObjectModelHeader
		if err := d.header(wire.SetObjectModelHeaderSize, &hdr); err != nil {
			return nil, err
		}
		path, err := d.str(int(hdr.FieldLength))
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(hdr.Type, hdr.Value, d)
		if err != nil {
			return nil, err
		}
		return &SetObjectModel{Module: hdr.Module, Path: path, Value: v}, nil
	case wire.PrintStarted:
		return decodePrintStarted(d)
	case wire.PrintStopped:
		var hdr wire.PrintStoppedHeader
		if err := d.header(wire.PrintStoppedHeaderSize, &hdr); err != nil {
			return nil, err
		}
		return &PrintStopped{Reason: hdr.Reason}, nil
	case wire.MacroCompleted:
		var hdr wire.MacroCompleteHeader
		if err := d.header(wire.MacroCompleteHeaderSize, &hdr); err != nil {
			return nil, err
		}
		ch, err := d.channel(hdr.Channel)
		if err != nil {
			return nil, err
		}
		return &MacroCompleted{Channel: ch, Error: hdr.Error != 0}, nil
	case wire.GetHeightMap:
		return GetHeightMap{}, nil
	case wire.SetHeightMap:
		m, err := decodeHeightMap(d)
		if err != nil {
			return nil, err
		}
		return &SetHeightMap{Map: *m}, nil
	case wire.LockMovementAndWaitForStandstill, wire.Unlock:
		var hdr wire.LockUnlockHeader
		if err := d.header(wire.LockUnlockHeaderSize, &hdr); err != nil {
			return nil, err
		}
		ch, err := d.channel(hdr.Channel)
		if err != nil {
			return nil, err
		}
		if req == wire.Unlock {
			return &Unlock{Channel: ch}, nil
		}
		return &LockMovement{Channel: ch}, nil
	}
	return nil, &UnknownKindError{Direction: ToFirmware, Kind: pkt.Kind}
}

func decodePrintStarted(d *decoder) (*PrintStarted, error) {
	var hdr wire.PrintStartedHeader
	if err := d.header(wire.PrintStartedHeaderSize, &hdr); err != nil {
		return nil, err
	}
	m := &PrintStarted{
		FileSize:         hdr.FileSize,
		FirstLayerHeight: hdr.FirstLayerHeight,
		LayerHeight:      hdr.LayerHeight,
		ObjectHeight:     hdr.ObjectHeight,
		PrintTime:        hdr.PrintTime,
		SimulatedTime:    hdr.SimulatedTime,
	}
	if hdr.LastModifiedTime != 0 {
		m.LastModified = time.Unix(hdr.LastModifiedTime, 0)
	}
	var err error
	if m.Filaments, err = d.floats(int(hdr.NumFilaments)); err != nil {
		return nil, err
	}
	if m.Filename, err = d.str(int(hdr.FilenameLength)); err != nil {
		return nil, err
	}
	if m.GeneratedBy, err = d.str(int(hdr.GeneratedByLength)); err != nil {
		return nil, err
	}
	return m, nil
}
