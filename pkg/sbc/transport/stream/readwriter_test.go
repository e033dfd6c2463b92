package stream

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
)

func encodeTransfer(t *testing.T, seq uint16, data ...[]byte) []byte {
	var pkts []*codec.Packet
	for n, d := range data {
		pkts = append(pkts, &codec.Packet{Seq: seq, Kind: 3, ID: uint16(n), Data: d})
	}
	buf, err := codec.Encode(codec.NewHeader(seq), pkts)
	require.NoError(t, err)
	return buf
}

func TestReadTransfers(t *testing.T) {
	first := encodeTransfer(t, 1, []byte("G28"))
	second := encodeTransfer(t, 2)
	third := encodeTransfer(t, 3, []byte{1, 2, 3, 4}, []byte("M400"))

	var s bytes.Buffer
	s.Write([]byte{0x00, 0x5F, 0xFF, 0x13})
	s.Write(first)
	s.Write(second)
	s.Write([]byte{0x5F, 0x5F})
	s.Write(third)

	rw := New(&s)
	for _, expected := range [][]byte{first, second, third} {
		buf, err := rw.ReadTransfer()
		require.NoError(t, err)
		require.Equal(t, expected, buf)
	}
	_, err := rw.ReadTransfer()
	require.Equal(t, io.EOF, err)
}

func TestReadSkipsCorruptedHeader(t *testing.T) {
	bad := encodeTransfer(t, 1, []byte("lost"))
	bad[3] ^= 0x01
	good := encodeTransfer(t, 2, []byte("kept"))

	var s bytes.Buffer
	s.Write(bad)
	s.Write(good)
	buf, err := New(&s).ReadTransfer()
	require.NoError(t, err)
	require.Equal(t, good, buf)
}

func TestReadPassesCorruptedData(t *testing.T) {
	buf := encodeTransfer(t, 7, []byte("data"))
	buf[len(buf)-1] ^= 0x80

	read, err := New(bytes.NewBuffer(buf)).ReadTransfer()
	require.NoError(t, err)
	_, err = codec.Decode(read)
	require.True(t, errors.Is(err, codec.ErrBadDataChecksum))
}

func TestWriteTransfer(t *testing.T) {
	var s bytes.Buffer
	buf := encodeTransfer(t, 1)
	require.NoError(t, New(&s).WriteTransfer(buf))
	require.Equal(t, buf, s.Bytes())
}
