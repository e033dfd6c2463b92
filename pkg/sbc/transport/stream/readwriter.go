package stream

import (
	"bufio"
	"io"

	"github.com/golang/glog"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// ReadWriter implements transport.TransferReadWriter over a byte stream,
// e.g. a serial port or a TCP connection.
// Transfers are framed by their own header: the reader scans for the
// format code and a header passing its checksum, then reads the data
// length the header declares. Bytes that cannot be framed are skipped.
type ReadWriter struct {
	r *bufio.Reader
	w io.Writer
}

// New creates a ReadWriter with io.ReadWriter.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{r: bufio.NewReaderSize(s, wire.TransferBufferSize), w: s}
}

// ReadTransfer implements transport.TransferReadWriter.
func (p *ReadWriter) ReadTransfer() ([]byte, error) {
	hdr := make([]byte, wire.TransferHeaderSize)
	skipped := 0
	defer func() {
		if skipped > 0 {
			glog.V(2).Infof("stream: skipped %d bytes", skipped)
		}
	}()
	for {
		b, err := p.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != wire.FormatCode {
			skipped++
			continue
		}
		hdr[0] = b
		peek, err := p.r.Peek(wire.TransferHeaderSize - 1)
		if err != nil {
			return nil, err
		}
		copy(hdr[1:], peek)
		if codec.Checksum(hdr[:wire.TransferHeaderChecksumSpan]) != wire.Order.Uint16(hdr[wire.TransferHeaderChecksumSpan:]) {
			skipped++
			continue
		}
		if _, err = p.r.Discard(len(peek)); err != nil {
			return nil, err
		}
		break
	}
	dataLen := int(wire.Order.Uint16(hdr[6:]))
	if dataLen > codec.MaxDataLength {
		// Decode reports the length error.
		return hdr, nil
	}
	buf := make([]byte, wire.TransferHeaderSize+dataLen)
	copy(buf, hdr)
	if _, err := io.ReadFull(p.r, buf[wire.TransferHeaderSize:]); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteTransfer implements transport.TransferReadWriter.
func (p *ReadWriter) WriteTransfer(buf []byte) error {
	_, err := p.w.Write(buf)
	return err
}
