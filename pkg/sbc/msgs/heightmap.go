package msgs

import (
	"github.com/pkg/errors"

	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// MaxHeightMapPoints is the number of z values fitting in one packet.
const MaxHeightMapPoints = (wire.TransferBufferSize - wire.TransferHeaderSize -
	wire.PacketHeaderSize - wire.HeightMapHeaderSize) / 4

// HeightMap is a probed bed mesh. Z is row-major with NumX values per row.
type HeightMap struct {
	XMin     float32   `json:"xMin"`
	XMax     float32   `json:"xMax"`
	XSpacing float32   `json:"xSpacing"`
	YMin     float32   `json:"yMin"`
	YMax     float32   `json:"yMax"`
	YSpacing float32   `json:"ySpacing"`
	Radius   float32   `json:"radius"`
	NumX     uint16    `json:"numX"`
	NumY     uint16    `json:"numY"`
	Z        []float32 `json:"z"`
}

// FirmwareRequest implements FirmwareMessage.
func (m *HeightMap) FirmwareRequest() wire.FirmwareRequest { return wire.HeightMap }

// Validate checks the grid dimensions match the z values.
func (m *HeightMap) Validate() error {
	if n := int(m.NumX) * int(m.NumY); n != len(m.Z) {
		return errors.Wrapf(ErrBadPayload, "%dx%d grid with %d points", m.NumX, m.NumY, len(m.Z))
	}
	if len(m.Z) > MaxHeightMapPoints {
		return errors.Wrapf(ErrPayloadTooLarge, "%d points", len(m.Z))
	}
	return nil
}

// At returns the z value at grid position (x, y).
func (m *HeightMap) At(x, y int) float32 {
	return m.Z[y*int(m.NumX)+x]
}

func (m *HeightMap) encode(e *encoder) {
	if err := m.Validate(); err != nil {
		e.err = err
		return
	}
	e.header(&wire.HeightMapHeader{
		XMin:     m.XMin,
		XMax:     m.XMax,
		XSpacing: m.XSpacing,
		YMin:     m.YMin,
		YMax:     m.YMax,
		YSpacing: m.YSpacing,
		Radius:   m.Radius,
		NumX:     m.NumX,
		NumY:     m.NumY,
	})
	e.floats(m.Z)
}

func decodeHeightMap(d *decoder) (*HeightMap, error) {
	var hdr wire.HeightMapHeader
	if err := d.header(wire.HeightMapHeaderSize, &hdr); err != nil {
		return nil, err
	}
	z, err := d.floats(int(hdr.NumX) * int(hdr.NumY))
	if err != nil {
		return nil, err
	}
	return &HeightMap{
		XMin:     hdr.XMin,
		XMax:     hdr.XMax,
		XSpacing: hdr.XSpacing,
		YMin:     hdr.YMin,
		YMax:     hdr.YMax,
		YSpacing: hdr.YSpacing,
		Radius:   hdr.Radius,
		NumX:     hdr.NumX,
		NumY:     hdr.NumY,
		Z:        z,
	}, nil
}
