package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/transport"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

type fakeSender struct {
	lock sync.Mutex
	pkts []*codec.Packet
	errs []error
}

func (s *fakeSender) Send(pkt *codec.Packet) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.pkts = append(s.pkts, pkt)
	return nil
}

func (s *fakeSender) take() []*codec.Packet {
	s.lock.Lock()
	defer s.lock.Unlock()
	pkts := s.pkts
	s.pkts = nil
	return pkts
}

func hostPacket(t *testing.T, msg msgs.HostMessage) *codec.Packet {
	pkt, err := msgs.EncodeHost(msg)
	require.NoError(t, err)
	return pkt
}

func firmwarePacket(t *testing.T, msg msgs.FirmwareMessage) *codec.Packet {
	pkt, err := msgs.EncodeFirmware(msg)
	require.NoError(t, err)
	return pkt
}

func g28(ch wire.Channel) *msgs.Code {
	return &msgs.Code{
		Channel:   ch,
		Flags:     wire.NoMinorCommandNumber,
		Letter:    'G',
		MajorCode: 28,
	}
}

func codeReply(ch wire.Channel, flags wire.MessageType, text string) *msgs.CodeReply {
	return &msgs.CodeReply{MessageType: wire.DestinationOf(ch) | flags, Text: text}
}

func expectResult(t *testing.T, req *Request) Result {
	select {
	case res := <-req.ResultChan():
		return res
	default:
		t.Fatalf("%T not completed", req.Message())
	}
	return Result{}
}

func expectPending(t *testing.T, req *Request) {
	select {
	case res := <-req.ResultChan():
		t.Fatalf("%T completed: %+v", req.Message(), res)
	default:
	}
}

func TestHostCodeRepliesInSubmissionOrder(t *testing.T) {
	sender := &fakeSender{}
	h := NewHost(sender)
	first := h.SubmitCode(g28(wire.ChannelFile))
	second := h.SubmitCode(&msgs.Code{Channel: wire.ChannelFile, Letter: 'M', MajorCode: 400, Flags: wire.NoMinorCommandNumber})
	other := h.SubmitCode(g28(wire.ChannelHTTP))

	pkts := sender.take()
	require.Len(t, pkts, 3)
	pkts[0].Seq = 5

	reply := firmwarePacket(t, codeReply(wire.ChannelFile, 0, "homed"))
	reply.Seq = 6
	h.HandlePacket(context.Background(), reply)
	res := expectResult(t, first)
	require.NoError(t, res.Err)
	require.Equal(t, "homed", res.Text)
	expectPending(t, second)
	expectPending(t, other)

	h.HandlePacket(context.Background(), firmwarePacket(t, codeReply(wire.ChannelFile, 0, "")))
	res = expectResult(t, second)
	require.NoError(t, res.Err)
	expectPending(t, other)
}

func TestHostCodeReplyFragments(t *testing.T) {
	h := NewHost(&fakeSender{})
	req := h.SubmitCode(g28(wire.ChannelSerial))
	h.HandlePacket(context.Background(), firmwarePacket(t, codeReply(wire.ChannelSerial, wire.PushFlag, "line1\n")))
	expectPending(t, req)
	h.HandlePacket(context.Background(), firmwarePacket(t, codeReply(wire.ChannelSerial, wire.ErrorMessageFlag, "line2")))
	res := expectResult(t, req)
	require.Equal(t, "line1\nline2", res.Text)
	var codeErr *CodeError
	require.True(t, errors.As(res.Err, &codeErr))
	require.Equal(t, wire.ChannelSerial, codeErr.Channel)
	require.Equal(t, "serial: line1\nline2", codeErr.Error())
}

func TestHostReplyKinds(t *testing.T) {
	h := NewHost(&fakeSender{})
	state := h.GetState()
	om := h.GetObjectModel(1, "move.axes")
	hm := h.GetHeightMap()
	lock := h.Lock(wire.ChannelAux)
	macro := h.MacroCompleted(wire.ChannelAux, false)

	require.NoError(t, expectResult(t, macro).Err)

	ctx := context.Background()
	h.HandlePacket(ctx, firmwarePacket(t, &msgs.Locked{Channel: wire.ChannelAux}))
	h.HandlePacket(ctx, firmwarePacket(t, &msgs.HeightMap{}))
	h.HandlePacket(ctx, firmwarePacket(t, &msgs.ObjectModelFragment{Module: 1, Data: []byte("[]")}))
	h.HandlePacket(ctx, firmwarePacket(t, &msgs.ReportState{BusyChannels: 4}))

	require.Equal(t, uint32(4), expectResult(t, state).Msg.(*msgs.ReportState).BusyChannels)
	require.Equal(t, []byte("[]"), expectResult(t, om).Msg.(*msgs.ObjectModelFragment).Data)
	require.IsType(t, &msgs.HeightMap{}, expectResult(t, hm).Msg)
	require.Equal(t, wire.ChannelAux, expectResult(t, lock).Msg.(*msgs.Locked).Channel)
	require.Equal(t, uint64(4), h.Stats().Dispatched)
}

func TestHostAbortsPendingLocks(t *testing.T) {
	h := NewHost(&fakeSender{})
	file := h.Lock(wire.ChannelFile)
	aux := h.Lock(wire.ChannelAux)
	require.NoError(t, expectResult(t, h.Unlock(wire.ChannelFile)).Err)
	require.Equal(t, ErrAborted, expectResult(t, file).Err)
	expectPending(t, aux)

	relock := h.Lock(wire.ChannelFile)
	h.HandlePacket(context.Background(), firmwarePacket(t, &msgs.Locked{Channel: wire.ChannelFile}))
	require.NoError(t, expectResult(t, relock).Err)

	for _, abort := range []func() *Request{h.EmergencyStop, h.Reset} {
		lock := h.Lock(wire.ChannelHTTP)
		require.NoError(t, expectResult(t, abort()).Err)
		require.Equal(t, ErrAborted, expectResult(t, lock).Err)
	}
	require.Equal(t, ErrAborted, expectResult(t, aux).Err)
	require.True(t, errors.Is(expectResult(t, h.Unlock(wire.NumChannels)).Err, msgs.ErrBadPayload))
}

func TestHostKeepsLocksWhenStopNotSent(t *testing.T) {
	h := NewHost(&fakeSender{errs: []error{nil, transport.ErrNotReady}})
	lock := h.Lock(wire.ChannelFile)
	require.Equal(t, transport.ErrNotReady, expectResult(t, h.EmergencyStop()).Err)
	expectPending(t, lock)
}

func TestHostUnsolicited(t *testing.T) {
	var received []msgs.FirmwareMessage
	h := NewHost(&fakeSender{})
	h.Handler = HandleFirmwareMessageFunc(func(_ context.Context, msg msgs.FirmwareMessage) {
		received = append(received, msg)
	})
	ctx := context.Background()
	h.HandlePacket(ctx, firmwarePacket(t, &msgs.StackEvent{Channel: wire.ChannelFile, Depth: 2}))
	h.HandlePacket(ctx, firmwarePacket(t, codeReply(wire.ChannelLCD, 0, "ok")))
	h.HandlePacket(ctx, firmwarePacket(t, &msgs.ReportState{}))
	h.HandlePacket(ctx, &codec.Packet{Kind: 77})
	h.HandlePacket(ctx, &codec.Packet{Kind: uint16(wire.StackEvent)})

	require.Len(t, received, 3)
	require.IsType(t, &msgs.StackEvent{}, received[0])
	stats := h.Stats()
	require.Equal(t, uint64(2), stats.Unmatched)
	require.Equal(t, uint64(1), stats.UnknownKinds)
	require.Equal(t, uint64(1), stats.BadPayloads)
}

func TestHostFailsRequestsOnDisconnect(t *testing.T) {
	var states []transport.State
	h := NewHost(&fakeSender{})
	h.Notifier = transport.StateChangedFunc(func(_ context.Context, state transport.State) {
		states = append(states, state)
	})
	code := h.SubmitCode(g28(wire.ChannelFile))
	state := h.GetState()
	lock := h.Lock(wire.ChannelFile)

	h.StateChanged(context.Background(), transport.Disconnected)
	for _, req := range []*Request{code, state, lock} {
		require.Equal(t, ErrDisconnected, expectResult(t, req).Err)
	}
	require.Equal(t, []transport.State{transport.Disconnected}, states)
}

func TestHostSendErrors(t *testing.T) {
	sender := &fakeSender{errs: []error{transport.ErrNotReady}}
	h := NewHost(sender)
	require.Equal(t, transport.ErrNotReady, expectResult(t, h.GetState()).Err)
	require.True(t, errors.Is(expectResult(t, h.SubmitCode(g28(wire.NumChannels))).Err, msgs.ErrBadPayload))
	require.Empty(t, sender.take())

	h.HandlePacket(context.Background(), firmwarePacket(t, &msgs.ReportState{}))
	require.Equal(t, uint64(1), h.Stats().Unmatched)
}

func TestRequestWait(t *testing.T) {
	h := NewHost(&fakeSender{})
	req := h.GetHeightMap()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := req.Wait(ctx)
	require.Equal(t, context.Canceled, err)

	h.HandlePacket(context.Background(), firmwarePacket(t, &msgs.HeightMap{}))
	res, err := req.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Msg)
}
