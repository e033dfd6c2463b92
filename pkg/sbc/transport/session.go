package transport

import (
	"fmt"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// State is the state of a Session.
type State int

// States.
const (
	Disconnected State = iota
	AwaitingPeerTransfer
	Exchanging
	AwaitingResend
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case AwaitingPeerTransfer:
		return "AwaitingPeerTransfer"
	case Exchanging:
		return "Exchanging"
	case AwaitingResend:
		return "AwaitingResend"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsReady tells whether packets can be sent.
func (s State) IsReady() bool {
	return s == Exchanging || s == AwaitingResend
}

// Role decides who starts an exchange.
type Role int

// Roles.
const (
	// RoleHost initiates every exchange and polls the peer.
	RoleHost Role = iota
	// RoleFirmware answers every Transfer it receives with one Transfer.
	RoleFirmware
)

func (r Role) String() string {
	if r == RoleFirmware {
		return "firmware"
	}
	return "host"
}

// resendKind is the kind of resend-request packets sent by the role.
func (r Role) resendKind() uint16 {
	if r == RoleFirmware {
		return uint16(wire.FirmwareResendPacket)
	}
	return uint16(wire.HostResendPacket)
}

// peerResendKind is the kind of resend-request packets received by the role.
func (r Role) peerResendKind() uint16 {
	if r == RoleFirmware {
		return uint16(wire.HostResendPacket)
	}
	return uint16(wire.FirmwareResendPacket)
}

// Result is the outcome of one Session step.
type Result struct {
	State State
	// Packets are the application packets of an accepted Transfer.
	Packets []*codec.Packet
	// Respond asks for a Transfer to be composed and written now.
	Respond bool
	// Accepted is set when the received Transfer advanced the sequence.
	Accepted bool
	// Duplicate is set when the received Transfer was seen before.
	Duplicate bool
	// ResendRequested is set when the peer asked for a retransmission.
	ResendRequested bool
	// Err is the protocol fault handled in this step, if any.
	Err error
	// Disconnected is set when the step ended the connection.
	Disconnected bool
}

type resend struct {
	seq    uint16
	packet uint16
}

// Session is the transport state machine. It does no I/O and reads no
// clock: the owner feeds received buffers and timeouts, and writes what
// Compose returns.
type Session struct {
	Role Role

	state   State
	seq     uint16 // last composed
	peerSeq uint16 // last accepted

	pending    []*codec.Packet
	pendingSeq uint16
	hasPending bool

	await *resend
}

// NewSession creates a Session in AwaitingPeerTransfer.
func NewSession(role Role) *Session {
	s := &Session{Role: role}
	s.Reset()
	return s
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Reset discards all pending state and restarts sequence numbering.
func (s *Session) Reset() Result {
	s.state = AwaitingPeerTransfer
	s.seq, s.peerSeq = 0, 0
	s.pending, s.pendingSeq, s.hasPending = nil, 0, false
	s.await = nil
	return Result{State: s.state}
}

// CanSend tells whether a new Transfer may be composed, i.e. the last
// one was acknowledged.
func (s *Session) CanSend() bool {
	return s.state != Disconnected && !s.hasPending
}

// HasPending tells whether a Transfer awaits acknowledgement.
func (s *Session) HasPending() bool {
	return s.hasPending
}

// Receive processes a buffer read from the peer.
func (s *Session) Receive(buf []byte) Result {
	if s.state == Disconnected {
		return Result{State: s.state}
	}
	tr, err := codec.Decode(buf)
	if err != nil {
		return s.decodeFailed(err)
	}

	var data []*codec.Packet
	resendRequested := false
	for _, pkt := range tr.Packets {
		if pkt.Kind == s.Role.peerResendKind() {
			resendRequested = true
		} else {
			data = append(data, pkt)
		}
	}

	seq := tr.Seq()
	diff := int16(seq - s.peerSeq)
	if s.state == AwaitingPeerTransfer {
		if diff != 1 {
			return Result{State: s.state, Err: &SequenceError{Expected: s.peerSeq + 1, Got: seq}}
		}
		return s.accept(seq, data, resendRequested)
	}

	switch {
	case diff <= 0:
		return Result{
			State:           s.state,
			Duplicate:       true,
			ResendRequested: resendRequested,
			Respond:         s.Role == RoleFirmware || resendRequested,
		}
	case tr.IsHeartbeat():
		return s.accept(seq, nil, false)
	case diff > 1:
		s.requestResend(0)
		return Result{
			State:   s.state,
			Respond: true,
			Err:     &SequenceError{Expected: s.peerSeq + 1, Got: seq},
		}
	}
	if s.await != nil && !hasPacketID(tr.Packets, s.await.packet) {
		return Result{State: s.state, Respond: true}
	}
	return s.accept(seq, data, resendRequested)
}

func (s *Session) decodeFailed(err error) Result {
	if te, ok := codec.TransferErrorOf(err); ok && !te.Recoverable() {
		r := s.disconnect()
		r.Err = err
		return r
	}
	if s.state == AwaitingPeerTransfer {
		return Result{State: s.state, Err: err}
	}
	s.requestResend(0)
	return Result{State: s.state, Respond: true, Err: err}
}

func (s *Session) accept(seq uint16, data []*codec.Packet, resendRequested bool) Result {
	s.peerSeq = seq
	s.await = nil
	s.state = Exchanging
	s.pending, s.hasPending = nil, false
	return Result{
		State:           s.state,
		Packets:         data,
		Accepted:        true,
		ResendRequested: resendRequested,
		Respond:         s.Role == RoleFirmware || resendRequested,
	}
}

func (s *Session) requestResend(packet uint16) {
	if s.await == nil {
		s.await = &resend{seq: s.peerSeq + 1, packet: packet}
	}
	s.state = AwaitingResend
}

func (s *Session) disconnect() Result {
	s.state = Disconnected
	s.pending, s.hasPending = nil, false
	s.await = nil
	return Result{State: s.state, Disconnected: true}
}

// ExchangeTimeout handles an expired exchange timer: the host retransmits
// its pending Transfer with a resend request, the firmware starts
// awaiting a resend.
func (s *Session) ExchangeTimeout() Result {
	r := Result{Err: &TimeoutError{Kind: ExchangeTimeout}}
	switch s.state {
	case AwaitingPeerTransfer:
		r.Respond = s.Role == RoleHost && s.hasPending
	case Exchanging, AwaitingResend:
		if s.Role == RoleHost {
			if s.hasPending {
				s.requestResend(0)
				r.Respond = true
			}
		} else {
			s.requestResend(0)
		}
	}
	r.State = s.state
	return r
}

// ConnectionTimeout handles an expired connection timer. The session is
// left Disconnected until Reset.
func (s *Session) ConnectionTimeout() Result {
	r := s.disconnect()
	r.Err = &TimeoutError{Kind: ConnectionTimeout}
	return r
}

// Fault disconnects on a link level failure.
func (s *Session) Fault(err error) Result {
	r := s.disconnect()
	r.Err = err
	return r
}

// PacketBudget is the packet area available to outbox packets; room is
// kept for a resend request.
const PacketBudget = codec.MaxDataLength - wire.PacketHeaderSize

// Compose encodes the next Transfer to write. An unacknowledged Transfer
// is retransmitted with its sequence number and packet ids unchanged;
// otherwise a new Transfer is built from the head of outbox and the
// number of outbox packets consumed is returned. A resend request is
// appended while awaiting a resend.
func (s *Session) Compose(outbox []*codec.Packet) (buf []byte, used int, err error) {
	if s.state == Disconnected {
		return nil, 0, ErrNotReady
	}
	if !s.hasPending {
		size := 0
		for _, pkt := range outbox {
			if used >= wire.MaxPackets-1 || size+pkt.Size() > PacketBudget {
				break
			}
			size += pkt.Size()
			used++
		}
		s.seq++
		s.pendingSeq, s.hasPending = s.seq, true
		s.pending = make([]*codec.Packet, used)
		for n, pkt := range outbox[:used] {
			pkt.ID, pkt.Seq = uint16(n), s.seq
			s.pending[n] = pkt
		}
	}
	pkts := s.pending
	if s.await != nil {
		pkts = append(pkts[:len(pkts):len(pkts)], &codec.Packet{
			Seq:            s.pendingSeq,
			Kind:           s.Role.resendKind(),
			ID:             uint16(len(s.pending)),
			ResendPacketID: s.await.packet,
		})
	}
	buf, err = codec.Encode(codec.NewHeader(s.pendingSeq), pkts)
	return
}

func hasPacketID(pkts []*codec.Packet, id uint16) bool {
	for _, pkt := range pkts {
		if pkt.ID == id {
			return true
		}
	}
	return false
}
