package codec

import (
	"github.com/pkg/errors"
	"github.com/sigurn/crc16"

	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Checksum calculates the CRC-16/CCITT-FALSE of b.
func Checksum(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}

// Packet is one message within a Transfer.
type Packet struct {
	// Seq is the sequence number of the carrying Transfer, set by Decode.
	Seq            uint16
	Kind           uint16
	ID             uint16
	ResendPacketID uint16
	Data           []byte
}

// Size returns the encoded size of the packet.
func (p *Packet) Size() int {
	return PacketSize(len(p.Data))
}

// Transfer is a decoded Transfer.
type Transfer struct {
	Header  wire.TransferHeader
	Packets []*Packet
}

// Seq returns the sequence number.
func (t *Transfer) Seq() uint16 {
	return t.Header.SequenceNumber
}

// IsHeartbeat tells whether the Transfer carries no packets.
func (t *Transfer) IsHeartbeat() bool {
	return len(t.Packets) == 0
}

// NewHeader creates a header with the format code and protocol version filled.
func NewHeader(seq uint16) wire.TransferHeader {
	return wire.TransferHeader{
		FormatCode:      wire.FormatCode,
		ProtocolVersion: wire.ProtocolVersion,
		SequenceNumber:  seq,
	}
}

// PacketSize returns the encoded size of a packet carrying dataLen bytes.
func PacketSize(dataLen int) int {
	return wire.PacketHeaderSize + wire.Padded(dataLen)
}

// MaxDataLength is the largest packet area a Transfer can carry.
const MaxDataLength = wire.TransferBufferSize - wire.TransferHeaderSize

// Encode serializes a Transfer. NumPackets, DataLength and both checksums
// of hdr are filled in; all other fields are written as given.
func Encode(hdr wire.TransferHeader, pkts []*Packet) ([]byte, error) {
	if len(pkts) > wire.MaxPackets {
		return nil, errors.Wrapf(ErrTransferTooLarge, "%d packets", len(pkts))
	}
	dataLen := 0
	for _, pkt := range pkts {
		if len(pkt.Data) > 0xffff {
			return nil, errors.Wrapf(ErrTransferTooLarge, "packet %d carries %d bytes", pkt.ID, len(pkt.Data))
		}
		dataLen += pkt.Size()
	}
	if dataLen > MaxDataLength {
		return nil, errors.Wrapf(ErrTransferTooLarge, "%d bytes of packets", dataLen)
	}

	buf := make([]byte, wire.TransferHeaderSize+dataLen)
	off := wire.TransferHeaderSize
	for _, pkt := range pkts {
		b, err := wire.Marshal(&wire.PacketHeader{
			Request:        pkt.Kind,
			ID:             pkt.ID,
			Length:         uint16(len(pkt.Data)),
			ResendPacketID: pkt.ResendPacketID,
		})
		if err != nil {
			return nil, err
		}
		off += copy(buf[off:], b)
		copy(buf[off:], pkt.Data)
		off += wire.Padded(len(pkt.Data))
	}

	hdr.NumPackets = uint8(len(pkts))
	hdr.DataLength = uint16(dataLen)
	hdr.ChecksumData = Checksum(buf[wire.TransferHeaderSize:])
	hdr.ChecksumHeader = 0
	b, err := wire.Marshal(&hdr)
	if err != nil {
		return nil, err
	}
	copy(buf, b)
	hdr.ChecksumHeader = Checksum(buf[:wire.TransferHeaderChecksumSpan])
	wire.Order.PutUint16(buf[wire.TransferHeaderChecksumSpan:], hdr.ChecksumHeader)
	return buf, nil
}

// Decode parses a Transfer from the beginning of buf. The checks run
// cheapest first: format code, protocol version, header checksum, data
// length, data checksum and finally the packet layout. Bytes beyond the
// declared data length are ignored.
func Decode(buf []byte) (*Transfer, error) {
	if len(buf) < wire.TransferHeaderSize {
		return nil, errors.Wrapf(ErrBadDataLength, "%d bytes for header", len(buf))
	}
	if buf[0] != wire.FormatCode {
		return nil, errors.Wrapf(ErrBadFormat, "format code 0x%02x", buf[0])
	}
	t := &Transfer{}
	if err := wire.Unmarshal(buf, wire.TransferHeaderSize, &t.Header); err != nil {
		return nil, errors.Wrap(ErrBadDataLength, err.Error())
	}
	hdr := &t.Header
	if hdr.ProtocolVersion != wire.ProtocolVersion {
		return nil, errors.Wrapf(ErrBadProtocolVersion, "version %d", hdr.ProtocolVersion)
	}
	if sum := Checksum(buf[:wire.TransferHeaderChecksumSpan]); sum != hdr.ChecksumHeader {
		return nil, errors.Wrapf(ErrBadHeaderChecksum, "expect 0x%04x, got 0x%04x", sum, hdr.ChecksumHeader)
	}
	dataLen := int(hdr.DataLength)
	if dataLen%4 != 0 || dataLen > MaxDataLength {
		return nil, errors.Wrapf(ErrBadDataLength, "data length %d", dataLen)
	}
	if wire.TransferHeaderSize+dataLen > len(buf) {
		return nil, errors.Wrapf(ErrBadDataLength, "data length %d exceeds %d bytes", dataLen, len(buf)-wire.TransferHeaderSize)
	}
	data := buf[wire.TransferHeaderSize : wire.TransferHeaderSize+dataLen]
	if sum := Checksum(data); sum != hdr.ChecksumData {
		return nil, errors.Wrapf(ErrBadDataChecksum, "expect 0x%04x, got 0x%04x", sum, hdr.ChecksumData)
	}

	pkts, err := decodePackets(data, int(hdr.NumPackets), hdr.SequenceNumber)
	if err != nil {
		return nil, err
	}
	t.Packets = pkts
	return t, nil
}

func decodePackets(data []byte, count int, seq uint16) ([]*Packet, error) {
	pkts := make([]*Packet, 0, count)
	off := 0
	for n := 0; n < count; n++ {
		if len(data)-off < wire.PacketHeaderSize {
			return nil, errors.Wrapf(ErrBadDataLength, "packet %d header truncated", n)
		}
		var ph wire.PacketHeader
		if err := wire.Unmarshal(data[off:], wire.PacketHeaderSize, &ph); err != nil {
			return nil, errors.Wrap(ErrBadDataLength, err.Error())
		}
		off += wire.PacketHeaderSize
		if int(ph.ID) != n {
			return nil, errors.Wrapf(ErrBadFormat, "packet id %d at index %d", ph.ID, n)
		}
		size := wire.Padded(int(ph.Length))
		if len(data)-off < size {
			return nil, errors.Wrapf(ErrBadDataLength, "packet %d declares %d bytes, %d left", n, ph.Length, len(data)-off)
		}
		pkt := &Packet{
			Seq:            seq,
			Kind:           ph.Request,
			ID:             ph.ID,
			ResendPacketID: ph.ResendPacketID,
		}
		if ph.Length > 0 {
			pkt.Data = make([]byte, ph.Length)
			copy(pkt.Data, data[off:])
		}
		off += size
		pkts = append(pkts, pkt)
	}
	if off != len(data) {
		return nil, errors.Wrapf(ErrBadDataLength, "%d trailing bytes", len(data)-off)
	}
	return pkts, nil
}
