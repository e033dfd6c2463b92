package transport

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
)

type testPipe struct {
	in     <-chan []byte
	out    chan<- []byte
	filter func([]byte) []byte
}

func newTestPipes() (*testPipe, *testPipe, func()) {
	a2b, b2a := make(chan []byte, 16), make(chan []byte, 16)
	var once sync.Once
	return &testPipe{in: b2a, out: a2b}, &testPipe{in: a2b, out: b2a}, func() {
		once.Do(func() {
			close(a2b)
			close(b2a)
		})
	}
}

func (p *testPipe) ReadTransfer() ([]byte, error) {
	buf, ok := <-p.in
	if !ok {
		return nil, io.EOF
	}
	return buf, nil
}

func (p *testPipe) WriteTransfer(buf []byte) (err error) {
	buf = append([]byte(nil), buf...)
	if p.filter != nil {
		if buf = p.filter(buf); buf == nil {
			return nil
		}
	}
	defer func() {
		if recover() != nil {
			err = io.ErrClosedPipe
		}
	}()
	p.out <- buf
	return nil
}

type linkTestCtx struct {
	t       *testing.T
	link    *Link
	stateCh chan State
	pktCh   chan *codec.Packet
	errCh   chan error
}

func newLinkTestCtx(t *testing.T, rw TransferReadWriter, role Role) *linkTestCtx {
	c := &linkTestCtx{
		t:       t,
		link:    NewLink(rw, role),
		stateCh: make(chan State, 64),
		pktCh:   make(chan *codec.Packet, 256),
		errCh:   make(chan error, 1),
	}
	c.link.ExchangeTimeout = 40 * time.Millisecond
	c.link.ConnectionTimeout = 400 * time.Millisecond
	c.link.PollInterval = 5 * time.Millisecond
	c.link.Notifier = StateChangedFunc(func(_ context.Context, state State) {
		select {
		case c.stateCh <- state:
		default:
		}
	})
	c.link.Handler = HandlePacketFunc(func(_ context.Context, pkt *codec.Packet) {
		c.pktCh <- pkt
	})
	return c
}

func (c *linkTestCtx) run(ctx context.Context) {
	go func() {
		c.errCh <- c.link.Run(ctx)
	}()
}

func (c *linkTestCtx) expectState(expected State) {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case state := <-c.stateCh:
			if state == expected {
				return
			}
		case <-timeout:
			c.t.Fatalf("%s link: expect state %s timeout", c.link.Role, expected)
		}
	}
}

func (c *linkTestCtx) expectPacket(kind uint16, data []byte) {
	select {
	case pkt := <-c.pktCh:
		require.Equal(c.t, kind, pkt.Kind)
		require.Equal(c.t, data, pkt.Data)
	case <-time.After(2 * time.Second):
		c.t.Fatalf("%s link: expect packet timeout", c.link.Role)
	}
}

func (c *linkTestCtx) mustSend(kind uint16, data []byte) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := c.link.Send(&codec.Packet{Kind: kind, Data: data})
		if err != ErrQueueFull {
			require.NoError(c.t, err)
			return
		}
		require.True(c.t, time.Now().Before(deadline), "outbox stays full")
		time.Sleep(time.Millisecond)
	}
}

func runLinkPair(t *testing.T, hostFilter, fwFilter func([]byte) []byte) (host, fw *linkTestCtx, cleanup func()) {
	hostRW, fwRW, closePipes := newTestPipes()
	hostRW.filter, fwRW.filter = hostFilter, fwFilter
	host = newLinkTestCtx(t, hostRW, RoleHost)
	fw = newLinkTestCtx(t, fwRW, RoleFirmware)
	ctx, cancel := context.WithCancel(context.Background())
	fw.run(ctx)
	host.run(ctx)
	return host, fw, func() {
		cancel()
		closePipes()
	}
}

func TestLinkExchange(t *testing.T) {
	host, fw, cleanup := runLinkPair(t, nil, nil)
	defer cleanup()

	fw.expectState(AwaitingPeerTransfer)
	fw.expectState(Exchanging)
	host.expectState(Exchanging)

	for n := byte(0); n < 100; n++ {
		host.mustSend(hostKind, []byte{n})
		fw.mustSend(fwKind, []byte{n, n})
	}
	for n := byte(0); n < 100; n++ {
		fw.expectPacket(hostKind, []byte{n})
		host.expectPacket(fwKind, []byte{n, n})
	}
	require.NotZero(t, host.link.Stats().TransfersSent)
	require.Zero(t, fw.link.Stats().DecodeErrors)
}

func TestLinkRecoversFromLoss(t *testing.T) {
	var lock sync.Mutex
	count := 0
	lossy := func(buf []byte) []byte {
		lock.Lock()
		defer lock.Unlock()
		count++
		switch count % 7 {
		case 3:
			return nil
		case 5:
			buf[len(buf)-1] ^= 0x40
		}
		return buf
	}
	host, fw, cleanup := runLinkPair(t, lossy, lossy)
	defer cleanup()

	host.expectState(Exchanging)
	for n := byte(0); n < 50; n++ {
		host.mustSend(hostKind, []byte{n})
		fw.mustSend(fwKind, []byte{n})
	}
	for n := byte(0); n < 50; n++ {
		fw.expectPacket(hostKind, []byte{n})
		host.expectPacket(fwKind, []byte{n})
	}
	stats := host.link.Stats()
	require.NotZero(t, stats.Retransmissions)
}

func TestLinkConnectionTimeout(t *testing.T) {
	rw, _, closePipes := newTestPipes()
	defer closePipes()
	c := newLinkTestCtx(t, rw, RoleFirmware)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.run(ctx)

	c.expectState(AwaitingPeerTransfer)
	require.Equal(t, ErrNotReady, c.link.Send(&codec.Packet{Kind: fwKind}))
	c.expectState(Disconnected)
	c.expectState(AwaitingPeerTransfer)
	require.NotZero(t, c.link.Stats().Disconnects)
}

func TestLinkStops(t *testing.T) {
	host, fw, cleanup := runLinkPair(t, nil, nil)
	host.expectState(Exchanging)
	fw.expectState(Exchanging)
	cleanup()

	select {
	case err := <-fw.errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("link not stopped")
	}
}

func TestLinkSendErrors(t *testing.T) {
	l := NewLink(nil, RoleHost)
	require.Equal(t, ErrPacketTooLarge, l.Send(&codec.Packet{Data: make([]byte, PacketBudget)}))
	require.Equal(t, ErrNotReady, l.Send(&codec.Packet{}))

	l.state = Exchanging
	l.MaxOutbox = 2
	require.NoError(t, l.Send(&codec.Packet{}))
	require.NoError(t, l.Send(&codec.Packet{}))
	require.Equal(t, ErrQueueFull, l.Send(&codec.Packet{}))
}

func TestLinkReadError(t *testing.T) {
	rw, _, closePipes := newTestPipes()
	c := newLinkTestCtx(t, rw, RoleFirmware)
	c.run(context.Background())
	c.expectState(AwaitingPeerTransfer)
	closePipes()
	select {
	case err := <-c.errCh:
		require.Equal(t, io.EOF, err)
	case <-time.After(2 * time.Second):
		t.Fatal("link not stopped")
	}
	c.expectState(Disconnected)
}
