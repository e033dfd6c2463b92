package msgs

import (
	"math"

	"github.com/pkg/errors"

	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

type encoder struct {
	buf []byte
	err error
}

func (e *encoder) header(v interface{}) {
	if e.err != nil {
		return
	}
	b, err := wire.Marshal(v)
	if err != nil {
		e.err = err
		return
	}
	e.buf = append(e.buf, b...)
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	wire.Order.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) floats(v []float32) {
	for _, f := range v {
		e.u32(math.Float32bits(f))
	}
}

// padded appends b followed by zeros up to a 4 byte boundary.
func (e *encoder) padded(b []byte) {
	e.buf = append(e.buf, b...)
	for n := len(b); n%4 != 0; n++ {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) bytes() ([]byte, error) {
	return e.buf, e.err
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) header(size int, v interface{}) error {
	if d.remaining() < size {
		return badPayload("header needs %d bytes, %d left", size, d.remaining())
	}
	if err := wire.Unmarshal(d.buf[d.off:], size, v); err != nil {
		return errors.Wrap(ErrBadPayload, err.Error())
	}
	d.off += size
	return nil
}

// data reads n bytes and skips the padding after them. Trailing padding
// may be absent at the end of the buffer.
func (d *decoder) data(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, badPayload("%d bytes expected, %d left", n, d.remaining())
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	copy(b, d.buf[d.off:])
	d.off += n
	if pad := wire.Padded(n) - n; pad > 0 {
		if pad > d.remaining() {
			pad = d.remaining()
		}
		d.off += pad
	}
	return b, nil
}

func (d *decoder) str(n int) (string, error) {
	b, err := d.data(n)
	return string(b), err
}

func (d *decoder) u32s(count int) ([]uint32, error) {
	if count < 0 || count > d.remaining()/4 {
		return nil, badPayload("%d words expected, %d bytes left", count, d.remaining())
	}
	if count == 0 {
		return nil, nil
	}
	words := make([]uint32, count)
	for n := range words {
		words[n] = wire.Order.Uint32(d.buf[d.off:])
		d.off += 4
	}
	return words, nil
}

func (d *decoder) floats(count int) ([]float32, error) {
	words, err := d.u32s(count)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, nil
	}
	floats := make([]float32, len(words))
	for n, w := range words {
		floats[n] = math.Float32frombits(w)
	}
	return floats, nil
}

func (d *decoder) channel(ch wire.Channel) (wire.Channel, error) {
	if !ch.IsValid() {
		return ch, badPayload("channel %d", ch)
	}
	return ch, nil
}
