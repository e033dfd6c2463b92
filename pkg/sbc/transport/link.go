package transport

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"gopkg.in/tomb.v2"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// Defaults of a Link.
const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultMaxOutbox    = 64
)

// Link runs a Session over a TransferReadWriter.
type Link struct {
	ReadWriter TransferReadWriter
	Role       Role
	Handler    PacketHandler
	Notifier   StateNotifier
	Poller     Poller

	ExchangeTimeout   time.Duration
	ConnectionTimeout time.Duration
	// PollInterval is the pace of the host when it has nothing to send.
	PollInterval time.Duration
	MaxOutbox    int

	lock    sync.Mutex
	session *Session
	state   State
	outbox  []*codec.Packet
	stats   Stats

	wakeCh        chan struct{}
	exchangeTimer <-chan time.Time
	connTimer     <-chan time.Time
}

// NewLink creates a Link.
func NewLink(rw TransferReadWriter, role Role) *Link {
	return &Link{
		ReadWriter:        rw,
		Role:              role,
		ExchangeTimeout:   wire.ExchangeTimeout,
		ConnectionTimeout: wire.ConnectionTimeout,
		PollInterval:      DefaultPollInterval,
		MaxOutbox:         DefaultMaxOutbox,
		session:           NewSession(role),
		state:             Disconnected,
		wakeCh:            make(chan struct{}, 1),
	}
}

// State gets the state.
func (l *Link) State() State {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.state
}

// Stats gets a snapshot of the counters.
func (l *Link) Stats() Stats {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.stats
}

// Send queues a packet for the next Transfer. The packet is owned by the
// Link afterwards.
func (l *Link) Send(pkt *codec.Packet) error {
	if pkt.Size() > PacketBudget {
		return ErrPacketTooLarge
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	if !l.state.IsReady() {
		return ErrNotReady
	}
	if len(l.outbox) >= l.MaxOutbox {
		return ErrQueueFull
	}
	l.outbox = append(l.outbox, pkt)
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// Run processes the link until ctx is done or the ReadWriter fails.
func (l *Link) Run(ctx context.Context) error {
	t, tctx := tomb.WithContext(ctx)
	bufCh := make(chan []byte)
	t.Go(func() error {
		return l.readLoop(tctx, bufCh)
	})
	defer t.Kill(nil)

	l.lock.Lock()
	r := l.session.Reset()
	l.lock.Unlock()
	l.apply(ctx, r)
	l.connTimer = time.After(l.ConnectionTimeout)

	var poll <-chan time.Time
	if l.Role == RoleHost {
		ticker := time.NewTicker(l.PollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		var err error
		select {
		case <-t.Dying():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err = t.Err()
		case buf := <-bufCh:
			err = l.receive(ctx, buf)
		case <-l.exchangeTimer:
			err = l.exchangeTimeout(ctx)
		case <-l.connTimer:
			l.lock.Lock()
			timeout := l.session.ConnectionTimeout()
			l.lock.Unlock()
			glog.V(1).Infof("%s link: %v", l.Role, timeout.Err)
			l.apply(ctx, timeout)
		case <-poll:
			if l.canSend() {
				err = l.transmit(ctx)
			}
		case <-l.wakeCh:
			if l.Role == RoleHost && l.canSend() {
				err = l.transmit(ctx)
			}
		}
		if err != nil {
			l.fail(ctx, err)
			return err
		}
	}
}

func (l *Link) fail(ctx context.Context, err error) {
	glog.Errorf("%s link: %v", l.Role, err)
	l.lock.Lock()
	r := l.session.Fault(err)
	l.lock.Unlock()
	l.apply(ctx, r)
}

func (l *Link) readLoop(ctx context.Context, bufCh chan<- []byte) error {
	for {
		buf, err := l.ReadWriter.ReadTransfer()
		if err != nil {
			return err
		}
		select {
		case bufCh <- buf:
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *Link) canSend() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.session.CanSend()
}

func (l *Link) receive(ctx context.Context, buf []byte) error {
	l.lock.Lock()
	r := l.session.Receive(buf)
	l.stats.TransfersReceived++
	if r.Duplicate {
		l.stats.Duplicates++
	}
	if r.ResendRequested {
		l.stats.ResendRequests++
	}
	if r.Err != nil {
		if _, ok := r.Err.(*SequenceError); ok {
			l.stats.SequenceErrors++
		} else {
			l.stats.DecodeErrors++
		}
	}
	pending, outboxed := l.session.HasPending(), len(l.outbox) > 0
	l.lock.Unlock()

	if r.Err != nil {
		glog.Warningf("%s link: %v", l.Role, r.Err)
	}
	if r.Accepted {
		l.connTimer = time.After(l.ConnectionTimeout)
	}
	switch {
	case l.Role == RoleFirmware && (r.Accepted || r.Duplicate):
		l.exchangeTimer = time.After(l.ExchangeTimeout)
	case l.Role == RoleHost && !pending:
		l.exchangeTimer = nil
	}
	l.apply(ctx, r)

	if r.Respond || (l.Role == RoleHost && r.Accepted && outboxed) {
		return l.transmit(ctx)
	}
	return nil
}

func (l *Link) exchangeTimeout(ctx context.Context) error {
	l.lock.Lock()
	r := l.session.ExchangeTimeout()
	l.stats.ExchangeTimeouts++
	l.lock.Unlock()
	l.exchangeTimer = nil
	glog.V(1).Infof("%s link: %v in %s", l.Role, r.Err, r.State)
	l.apply(ctx, r)
	if r.Respond {
		return l.transmit(ctx)
	}
	return nil
}

// apply dispatches packets and reports state changes of a step.
func (l *Link) apply(ctx context.Context, r Result) {
	if r.Disconnected {
		l.lock.Lock()
		dropped := len(l.outbox)
		l.outbox = nil
		l.stats.Disconnects++
		l.lock.Unlock()
		if dropped > 0 {
			glog.Warningf("%s link: disconnected, %d packets dropped", l.Role, dropped)
		}
	}
	l.changeState(ctx, r.State)

	if h := l.Handler; h != nil {
		for _, pkt := range r.Packets {
			h.HandlePacket(ctx, pkt)
		}
	}

	if r.Disconnected {
		l.exchangeTimer = nil
		l.connTimer = time.After(l.ConnectionTimeout)
		l.lock.Lock()
		reset := l.session.Reset()
		l.lock.Unlock()
		l.changeState(ctx, reset.State)
	}
}

func (l *Link) changeState(ctx context.Context, state State) {
	var notifier StateNotifier
	l.lock.Lock()
	if l.state != state {
		if state == Exchanging && l.state == AwaitingPeerTransfer {
			glog.Infof("%s link: connected", l.Role)
		}
		l.state = state
		notifier = l.Notifier
	}
	l.lock.Unlock()
	if notifier != nil {
		notifier.StateChanged(ctx, state)
	}
}

func (l *Link) transmit(ctx context.Context) error {
	if l.canSend() && l.Poller != nil {
		l.Poller.Poll(ctx)
	}
	l.lock.Lock()
	retransmit := l.session.HasPending()
	buf, used, err := l.session.Compose(l.outbox)
	if err == nil {
		l.outbox = append([]*codec.Packet(nil), l.outbox[used:]...)
		l.stats.TransfersSent++
		if retransmit {
			l.stats.Retransmissions++
		}
	}
	l.lock.Unlock()
	if err == ErrNotReady {
		return nil
	}
	if err != nil {
		return err
	}
	if glog.V(2) {
		glog.Infof("%s link: send %d bytes, %d packets, retransmit=%v", l.Role, len(buf), used, retransmit)
	}
	if l.Role == RoleHost {
		l.exchangeTimer = time.After(l.ExchangeTimeout)
	}
	return l.ReadWriter.WriteTransfer(buf)
}
