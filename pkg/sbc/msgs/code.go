package msgs

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// CodeParameter is a lettered parameter of a code.
type CodeParameter struct {
	Letter byte  `json:"letter"`
	Value  Value `json:"value"`
}

// Code is a G/M/T-code submitted for execution on a channel.
type Code struct {
	Channel      wire.Channel    `json:"channel"`
	Flags        wire.CodeFlags  `json:"flags"`
	Letter       byte            `json:"letter"`
	MajorCode    int32           `json:"major"`
	MinorCode    int32           `json:"minor"`
	FilePosition uint32          `json:"filePosition,omitempty"`
	Parameters   []CodeParameter `json:"params,omitempty"`
}

// HostRequest implements HostMessage.
func (c *Code) HostRequest() wire.HostRequest { return wire.Code }

// HasMajor tells whether the code carries a major number.
func (c *Code) HasMajor() bool { return c.Flags&wire.NoMajorCommandNumber == 0 }

// HasMinor tells whether the code carries a minor number.
func (c *Code) HasMinor() bool { return c.Flags&wire.NoMinorCommandNumber == 0 }

// HasFilePosition tells whether FilePosition is valid.
func (c *Code) HasFilePosition() bool { return c.Flags&wire.FilePositionValid != 0 }

// Param finds the parameter with the letter.
func (c *Code) Param(letter byte) (Value, bool) {
	for _, p := range c.Parameters {
		if p.Letter == letter {
			return p.Value, true
		}
	}
	return Value{}, false
}

// String renders the code, e.g. "G28 X0".
func (c *Code) String() string {
	var sb strings.Builder
	sb.WriteByte(c.Letter)
	if c.HasMajor() {
		sb.WriteString(strconv.FormatInt(int64(c.MajorCode), 10))
		if c.HasMinor() {
			sb.WriteByte('.')
			sb.WriteString(strconv.FormatInt(int64(c.MinorCode), 10))
		}
	}
	for _, p := range c.Parameters {
		sb.WriteByte(' ')
		sb.WriteByte(p.Letter)
		sb.WriteString(p.Value.Format())
	}
	return sb.String()
}

func (c *Code) encode(e *encoder) {
	if !c.Channel.IsValid() {
		e.err = errors.Wrapf(ErrBadPayload, "channel %d", c.Channel)
		return
	}
	if len(c.Parameters) > 0xff {
		e.err = errors.Wrapf(ErrPayloadTooLarge, "%d parameters", len(c.Parameters))
		return
	}
	e.header(&wire.CodeHeader{
		Channel:       c.Channel,
		Flags:         c.Flags,
		NumParameters: uint8(len(c.Parameters)),
		Letter:        c.Letter,
		MajorCode:     c.MajorCode,
		MinorCode:     c.MinorCode,
		FilePosition:  c.FilePosition,
	})
	for n := range c.Parameters {
		p := &c.Parameters[n]
		if !p.Value.Type.IsValid() {
			e.err = errors.Wrapf(ErrBadPayload, "parameter %c type %d", p.Letter, p.Value.Type)
			return
		}
		e.header(&wire.CodeParameter{
			Letter: p.Letter,
			Type:   p.Value.Type,
			Value:  p.Value.slot(),
		})
	}
	for n := range c.Parameters {
		c.Parameters[n].Value.encodeData(e)
	}
	if e.err == nil && len(e.buf) > wire.MaxCodeBufferSize {
		e.err = errors.Wrapf(ErrPayloadTooLarge, "code takes %d bytes", len(e.buf))
	}
}

func decodeCode(d *decoder) (*Code, error) {
	var hdr wire.CodeHeader
	if err := d.header(wire.CodeHeaderSize, &hdr); err != nil {
		return nil, err
	}
	ch, err := d.channel(hdr.Channel)
	if err != nil {
		return nil, err
	}
	c := &Code{
		Channel:      ch,
		Flags:        hdr.Flags,
		Letter:       hdr.Letter,
		MajorCode:    hdr.MajorCode,
		MinorCode:    hdr.MinorCode,
		FilePosition: hdr.FilePosition,
	}
	if hdr.NumParameters == 0 {
		return c, nil
	}
	slots := make([]wire.CodeParameter, hdr.NumParameters)
	for n := range slots {
		if err := d.header(wire.CodeParameterSize, &slots[n]); err != nil {
			return nil, err
		}
	}
	c.Parameters = make([]CodeParameter, len(slots))
	for n, slot := range slots {
		v, err := decodeValue(slot.Type, slot.Value, d)
		if err != nil {
			return nil, errors.WithMessagef(err, "parameter %c", slot.Letter)
		}
		c.Parameters[n] = CodeParameter{Letter: slot.Letter, Value: v}
	}
	return c, nil
}
