package transport

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

type testTransferBuilder struct {
	t    *testing.T
	seq  uint16
	pkts []*codec.Packet
}

func testTransfer(t *testing.T, seq uint16) *testTransferBuilder {
	return &testTransferBuilder{t: t, seq: seq}
}

func (b *testTransferBuilder) packet(kind uint16, data ...byte) *testTransferBuilder {
	b.pkts = append(b.pkts, &codec.Packet{Kind: kind, ID: uint16(len(b.pkts)), Data: data})
	return b
}

func (b *testTransferBuilder) resend(kind, id uint16) *testTransferBuilder {
	b.pkts = append(b.pkts, &codec.Packet{Kind: kind, ID: uint16(len(b.pkts)), ResendPacketID: id})
	return b
}

func (b *testTransferBuilder) bytes() []byte {
	buf, err := codec.Encode(codec.NewHeader(b.seq), b.pkts)
	require.NoError(b.t, err)
	return buf
}

func decodeTransfer(t *testing.T, buf []byte) *codec.Transfer {
	tr, err := codec.Decode(buf)
	require.NoError(t, err)
	return tr
}

var (
	hostKind = uint16(wire.Code)
	fwKind   = uint16(wire.CodeReply)
)

// connectedFirmware returns a firmware session that accepted peer seq 1.
func connectedFirmware(t *testing.T) *Session {
	s := NewSession(RoleFirmware)
	r := s.Receive(testTransfer(t, 1).bytes())
	require.True(t, r.Accepted)
	_, _, err := s.Compose(nil)
	require.NoError(t, err)
	return s
}

func TestSessionHandshake(t *testing.T) {
	host, fw := NewSession(RoleHost), NewSession(RoleFirmware)
	require.Equal(t, AwaitingPeerTransfer, host.State())
	require.True(t, host.CanSend())

	out := []*codec.Packet{{Kind: hostKind, Data: []byte("G28")}}
	buf, used, err := host.Compose(out)
	require.NoError(t, err)
	require.Equal(t, 1, used)
	require.False(t, host.CanSend())
	require.Equal(t, uint16(1), decodeTransfer(t, buf).Seq())

	r := fw.Receive(buf)
	require.True(t, r.Accepted)
	require.True(t, r.Respond)
	require.Equal(t, Exchanging, r.State)
	require.Len(t, r.Packets, 1)
	require.Equal(t, []byte("G28"), r.Packets[0].Data)
	require.Equal(t, uint16(1), r.Packets[0].Seq)

	buf, _, err = fw.Compose([]*codec.Packet{{Kind: fwKind, Data: []byte("ok")}})
	require.NoError(t, err)
	r = host.Receive(buf)
	require.True(t, r.Accepted)
	require.False(t, r.Respond)
	require.Equal(t, Exchanging, r.State)
	require.True(t, host.CanSend())
	require.True(t, host.State().IsReady())
}

func TestSessionSequence(t *testing.T) {
	testCases := []struct {
		name      string
		seq       uint16
		heartbeat bool
		expect    func(*testing.T, Result)
	}{
		{"next", 2, false, func(t *testing.T, r Result) {
			require.True(t, r.Accepted)
			require.Len(t, r.Packets, 1)
			require.Equal(t, Exchanging, r.State)
		}},
		{"duplicate", 1, false, func(t *testing.T, r Result) {
			require.False(t, r.Accepted)
			require.True(t, r.Duplicate)
			require.Empty(t, r.Packets)
			require.True(t, r.Respond)
			require.Equal(t, Exchanging, r.State)
		}},
		{"older", 0xfff0, false, func(t *testing.T, r Result) {
			require.True(t, r.Duplicate)
			require.Empty(t, r.Packets)
		}},
		{"gap", 4, false, func(t *testing.T, r Result) {
			require.False(t, r.Accepted)
			require.True(t, r.Respond)
			require.Equal(t, AwaitingResend, r.State)
			var se *SequenceError
			require.True(t, errors.As(r.Err, &se))
			require.Equal(t, uint16(2), se.Expected)
			require.Equal(t, uint16(4), se.Got)
		}},
		{"heartbeat gap", 7, true, func(t *testing.T, r Result) {
			require.True(t, r.Accepted)
			require.Nil(t, r.Err)
			require.Equal(t, Exchanging, r.State)
		}},
		{"heartbeat duplicate", 1, true, func(t *testing.T, r Result) {
			require.True(t, r.Duplicate)
			require.Equal(t, Exchanging, r.State)
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fw := connectedFirmware(t)
			b := testTransfer(t, tc.seq)
			if !tc.heartbeat {
				b.packet(hostKind, 1, 2, 3)
			}
			tc.expect(t, fw.Receive(b.bytes()))
		})
	}
}

func TestSessionSequenceWraps(t *testing.T) {
	fw := connectedFirmware(t)
	fw.peerSeq = 0xffff
	r := fw.Receive(testTransfer(t, 0).packet(hostKind).bytes())
	require.True(t, r.Accepted)
	r = fw.Receive(testTransfer(t, 0).packet(hostKind).bytes())
	require.True(t, r.Duplicate)
	r = fw.Receive(testTransfer(t, 1).packet(hostKind).bytes())
	require.True(t, r.Accepted)
}

func TestSessionAwaitingPeerTransfer(t *testing.T) {
	fw := NewSession(RoleFirmware)
	r := fw.Receive(testTransfer(t, 5).bytes())
	require.False(t, r.Accepted)
	require.False(t, r.Respond)
	require.Equal(t, AwaitingPeerTransfer, r.State)

	r = fw.Receive([]byte{0, 1, 2})
	require.Error(t, r.Err)
	require.False(t, r.Respond)
	require.Equal(t, AwaitingPeerTransfer, r.State)

	r = fw.Receive(testTransfer(t, 1).bytes())
	require.True(t, r.Accepted)
}

func TestSessionRetransmitsOnResendRequest(t *testing.T) {
	fw := connectedFirmware(t)
	r := fw.Receive(testTransfer(t, 2).packet(hostKind).bytes())
	require.True(t, r.Accepted)
	first, used, err := fw.Compose([]*codec.Packet{
		{Kind: fwKind, Data: []byte("a")},
		{Kind: fwKind, Data: []byte("b")},
	})
	require.NoError(t, err)
	require.Equal(t, 2, used)

	r = fw.Receive(testTransfer(t, 2).packet(hostKind).resend(uint16(wire.HostResendPacket), 0).bytes())
	require.True(t, r.Duplicate)
	require.True(t, r.ResendRequested)
	require.True(t, r.Respond)
	require.Empty(t, r.Packets)

	again, used, err := fw.Compose([]*codec.Packet{{Kind: fwKind}})
	require.NoError(t, err)
	require.Zero(t, used)
	require.Equal(t, first, again)
}

func TestSessionDecodeErrorRequestsResend(t *testing.T) {
	fw := connectedFirmware(t)
	good := testTransfer(t, 2).packet(hostKind, 1, 2, 3, 4).bytes()
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0x10

	r := fw.Receive(bad)
	require.True(t, errors.Is(r.Err, codec.ErrBadDataChecksum))
	require.True(t, r.Respond)
	require.Equal(t, AwaitingResend, r.State)

	buf, _, err := fw.Compose(nil)
	require.NoError(t, err)
	tr := decodeTransfer(t, buf)
	require.Equal(t, uint16(1), tr.Seq())
	require.Len(t, tr.Packets, 1)
	require.Equal(t, uint16(wire.FirmwareResendPacket), tr.Packets[0].Kind)
	require.Equal(t, uint16(0), tr.Packets[0].ID)
	require.Equal(t, uint16(0), tr.Packets[0].ResendPacketID)

	r = fw.Receive(good)
	require.True(t, r.Accepted)
	require.Equal(t, Exchanging, r.State)
	require.Len(t, r.Packets, 1)
}

func TestSessionResendSatisfiedByPacketID(t *testing.T) {
	fw := connectedFirmware(t)
	fw.requestResend(2)
	require.Equal(t, AwaitingResend, fw.State())

	r := fw.Receive(testTransfer(t, 2).packet(hostKind).packet(hostKind).bytes())
	require.False(t, r.Accepted)
	require.True(t, r.Respond)
	require.Equal(t, AwaitingResend, r.State)

	r = fw.Receive(testTransfer(t, 2).packet(hostKind).packet(hostKind).packet(hostKind).bytes())
	require.True(t, r.Accepted)
	require.Equal(t, Exchanging, r.State)
	require.Len(t, r.Packets, 3)
}

func TestSessionVersionMismatchDisconnects(t *testing.T) {
	fw := connectedFirmware(t)
	buf := testTransfer(t, 2).bytes()
	binary.LittleEndian.PutUint16(buf[2:], 2)
	r := fw.Receive(buf)
	require.True(t, r.Disconnected)
	require.Equal(t, Disconnected, r.State)
	require.True(t, errors.Is(r.Err, codec.ErrBadProtocolVersion))

	_, _, err := fw.Compose(nil)
	require.Equal(t, ErrNotReady, err)
	require.Equal(t, Disconnected, fw.Receive(testTransfer(t, 2).bytes()).State)
}

func TestSessionTimeouts(t *testing.T) {
	host := NewSession(RoleHost)
	r := host.ExchangeTimeout()
	require.False(t, r.Respond)

	_, _, err := host.Compose(nil)
	require.NoError(t, err)
	r = host.ExchangeTimeout()
	require.True(t, r.Respond)
	require.Equal(t, AwaitingPeerTransfer, r.State)
	var te *TimeoutError
	require.True(t, errors.As(r.Err, &te))
	require.Equal(t, ExchangeTimeout, te.Kind)

	fw := connectedFirmware(t)
	r = host.Receive(testTransfer(t, 1).bytes())
	require.True(t, r.Accepted)
	first, _, err := host.Compose([]*codec.Packet{{Kind: hostKind}})
	require.NoError(t, err)
	r = host.ExchangeTimeout()
	require.True(t, r.Respond)
	require.Equal(t, AwaitingResend, r.State)
	buf, _, err := host.Compose(nil)
	require.NoError(t, err)
	tr := decodeTransfer(t, buf)
	require.Equal(t, decodeTransfer(t, first).Seq(), tr.Seq())
	require.Len(t, tr.Packets, 2)
	require.Equal(t, uint16(wire.HostResendPacket), tr.Packets[1].Kind)

	r = fw.ExchangeTimeout()
	require.False(t, r.Respond)
	require.Equal(t, AwaitingResend, r.State)

	r = fw.ConnectionTimeout()
	require.True(t, r.Disconnected)
	require.True(t, errors.As(r.Err, &te))
	require.Equal(t, ConnectionTimeout, te.Kind)
	require.False(t, fw.CanSend())

	r = fw.Reset()
	require.Equal(t, AwaitingPeerTransfer, r.State)
	require.True(t, fw.Receive(testTransfer(t, 1).bytes()).Accepted)
	buf, _, err = fw.Compose(nil)
	require.NoError(t, err)
	require.Equal(t, uint16(1), decodeTransfer(t, buf).Seq())
}

func TestSessionComposeBudget(t *testing.T) {
	host := NewSession(RoleHost)
	var outbox []*codec.Packet
	for n := 0; n < 10; n++ {
		outbox = append(outbox, &codec.Packet{Kind: hostKind, Data: make([]byte, 300)})
	}
	buf, used, err := host.Compose(outbox)
	require.NoError(t, err)
	require.Equal(t, PacketBudget/codec.PacketSize(300), used)
	require.LessOrEqual(t, len(buf), wire.TransferBufferSize)
	for n, pkt := range outbox[:used] {
		require.Equal(t, uint16(n), pkt.ID)
	}
}

// TestSessionLossyExchange drives a host and a firmware session over a
// link that drops and corrupts Transfers, and checks every packet is
// delivered exactly once and in order.
func TestSessionLossyExchange(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	host, fw := NewSession(RoleHost), NewSession(RoleFirmware)

	var hostOutbox, fwOutbox []*codec.Packet
	var hostSent, fwSent, hostGot, fwGot []byte
	counter := byte(0)

	deliver := func(buf []byte, lossy bool) []byte {
		if buf == nil {
			return nil
		}
		if lossy {
			switch rnd.Intn(5) {
			case 0:
				return nil
			case 1:
				buf = append([]byte(nil), buf...)
				off := 4 + rnd.Intn(len(buf)-4)
				buf[off] ^= 1 << uint(rnd.Intn(8))
			}
		}
		return buf
	}
	compose := func(s *Session, outbox *[]*codec.Packet) []byte {
		buf, used, err := s.Compose(*outbox)
		require.NoError(t, err)
		*outbox = (*outbox)[used:]
		return buf
	}

	hostOut := compose(host, &hostOutbox)
	rounds := func(n int, lossy bool) {
		for ; n > 0; n-- {
			if lossy {
				counter++
				hostOutbox = append(hostOutbox, &codec.Packet{Kind: hostKind, Data: []byte{counter}})
				hostSent = append(hostSent, counter)
				fwOutbox = append(fwOutbox, &codec.Packet{Kind: fwKind, Data: []byte{counter}})
				fwSent = append(fwSent, counter)
			}

			var fwOut []byte
			if in := deliver(hostOut, lossy); in != nil {
				r := fw.Receive(in)
				require.False(t, r.Disconnected)
				for _, pkt := range r.Packets {
					fwGot = append(fwGot, pkt.Data...)
				}
				if r.Respond {
					fwOut = compose(fw, &fwOutbox)
				}
			}

			hostOut = nil
			if in := deliver(fwOut, lossy); in != nil {
				r := host.Receive(in)
				require.False(t, r.Disconnected)
				for _, pkt := range r.Packets {
					hostGot = append(hostGot, pkt.Data...)
				}
				if r.Respond {
					hostOut = compose(host, &hostOutbox)
				}
			} else if r := host.ExchangeTimeout(); r.Respond {
				hostOut = compose(host, &hostOutbox)
			}
			if hostOut == nil && host.CanSend() {
				hostOut = compose(host, &hostOutbox)
			}
		}
	}
	rounds(300, true)
	rounds(50, false)

	require.Equal(t, hostSent, fwGot)
	require.Equal(t, fwSent, hostGot)
	require.Empty(t, hostOutbox)
	require.Empty(t, fwOutbox)
}
