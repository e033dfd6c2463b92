package dispatch

import (
	"context"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/sbclink/pkg/sbc/codec"
	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/transport"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// Result is the result of a Request.
type Result struct {
	Err error
	// Msg is the reply, nil for requests without one.
	Msg msgs.FirmwareMessage
	// Text is the concatenated output of a code.
	Text string
}

// Request represents a sent request waiting for reply.
type Request struct {
	msg      msgs.HostMessage
	resultCh chan Result
	output   strings.Builder
	next     *Request
}

// Message returns the request message.
func (r *Request) Message() msgs.HostMessage {
	return r.msg
}

// ResultChan returns the chan to retrieve result.
func (r *Request) ResultChan() <-chan Result {
	return r.resultCh
}

// Wait waits for the result.
func (r *Request) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-r.resultCh:
		return res, res.Err
	}
}

func (r *Request) complete(res Result) {
	r.resultCh <- res
}

type requestQueue struct {
	head, tail *Request
}

func (q *requestQueue) push(r *Request) {
	if q.head == nil {
		q.head = r
	} else {
		q.tail.next = r
	}
	q.tail = r
}

func (q *requestQueue) pop() *Request {
	r := q.head
	if r != nil {
		if q.head = r.next; q.head == nil {
			q.tail = nil
		}
		r.next = nil
	}
	return r
}

func (q *requestQueue) drain() (reqs []*Request) {
	for r := q.pop(); r != nil; r = q.pop() {
		reqs = append(reqs, r)
	}
	return
}

// Host sends requests to the firmware and matches replies to them.
// Replies are matched in request order: codes and locks per channel,
// other replies per kind.
// It implements transport.PacketHandler and transport.StateNotifier.
type Host struct {
	Sender   Sender
	Handler  HostHandler
	Notifier transport.StateNotifier

	lock        sync.Mutex
	codes       [wire.NumChannels]requestQueue
	locks       [wire.NumChannels]requestQueue
	states      requestQueue
	objectModel requestQueue
	heightMaps  requestQueue
	stats       Stats
}

// NewHost creates a Host dispatcher sending through sender.
func NewHost(sender Sender) *Host {
	return &Host{Sender: sender}
}

// Stats gets a snapshot of the counters.
func (h *Host) Stats() Stats {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.stats
}

// replyQueue returns the queue the reply of msg is matched in, or nil if
// msg has no reply.
func (h *Host) replyQueue(msg msgs.HostMessage) *requestQueue {
	switch m := msg.(type) {
	case *msgs.Code:
		return &h.codes[m.Channel]
	case *msgs.LockMovement:
		return &h.locks[m.Channel]
	case msgs.GetState:
		return &h.states
	case *msgs.GetObjectModel:
		return &h.objectModel
	case msgs.GetHeightMap:
		return &h.heightMaps
	}
	return nil
}

// Do sends a message and returns a Request for the result. Messages
// without a reply complete once queued for sending.
func (h *Host) Do(msg msgs.HostMessage) *Request {
	return h.do(msg)
}

// do is Do which also fails the requests pending in aborts with
// ErrAborted once msg is queued.
func (h *Host) do(msg msgs.HostMessage, aborts ...*requestQueue) *Request {
	req := &Request{msg: msg, resultCh: make(chan Result, 1)}
	pkt, err := msgs.EncodeHost(msg)
	if err != nil {
		req.complete(Result{Err: err})
		return req
	}

	h.lock.Lock()
	if err = h.Sender.Send(pkt); err != nil {
		h.lock.Unlock()
		req.complete(Result{Err: err})
		return req
	}
	if q := h.replyQueue(msg); q != nil {
		q.push(req)
	} else {
		req.complete(Result{})
	}
	var aborted []*Request
	for _, q := range aborts {
		aborted = append(aborted, q.drain()...)
	}
	h.lock.Unlock()

	for _, r := range aborted {
		r.complete(Result{Err: ErrAborted})
	}
	return req
}

func (h *Host) allLocks() []*requestQueue {
	qs := make([]*requestQueue, len(h.locks))
	for n := range h.locks {
		qs[n] = &h.locks[n]
	}
	return qs
}

// SubmitCode sends a code, the result carries its output.
func (h *Host) SubmitCode(code *msgs.Code) *Request {
	if !code.Channel.IsValid() {
		return failedRequest(code, msgs.ErrBadPayload)
	}
	return h.Do(code)
}

// GetState requests the busy channels.
func (h *Host) GetState() *Request {
	return h.Do(msgs.GetState{})
}

// EmergencyStop stops the machine. Pending locks fail with ErrAborted,
// pending codes fail by the replies of the firmware.
func (h *Host) EmergencyStop() *Request {
	return h.do(msgs.EmergencyStop{}, h.allLocks()...)
}

// Reset resets the controller. Pending locks and codes fail as on
// EmergencyStop.
func (h *Host) Reset() *Request {
	return h.do(msgs.Reset{}, h.allLocks()...)
}

// GetObjectModel requests an object model fragment.
func (h *Host) GetObjectModel(module uint8, path string) *Request {
	return h.Do(&msgs.GetObjectModel{Module: module, Path: path})
}

// SetObjectModel assigns an object model field.
func (h *Host) SetObjectModel(module uint8, path string, value msgs.Value) *Request {
	return h.Do(&msgs.SetObjectModel{Module: module, Path: path, Value: value})
}

// GetHeightMap requests the height map.
func (h *Host) GetHeightMap() *Request {
	return h.Do(msgs.GetHeightMap{})
}

// SetHeightMap replaces the height map.
func (h *Host) SetHeightMap(m *msgs.HeightMap) *Request {
	return h.Do(&msgs.SetHeightMap{Map: *m})
}

// Lock locks movement for the channel, completing once the machine
// stands still.
func (h *Host) Lock(ch wire.Channel) *Request {
	if !ch.IsValid() {
		return failedRequest(&msgs.LockMovement{Channel: ch}, msgs.ErrBadPayload)
	}
	return h.Do(&msgs.LockMovement{Channel: ch})
}

// Unlock releases the lock of the channel. A lock still waiting for
// standstill fails with ErrAborted.
func (h *Host) Unlock(ch wire.Channel) *Request {
	if !ch.IsValid() {
		return failedRequest(&msgs.Unlock{Channel: ch}, msgs.ErrBadPayload)
	}
	return h.do(&msgs.Unlock{Channel: ch}, &h.locks[ch])
}

// PrintStarted announces a print.
func (h *Host) PrintStarted(info *msgs.PrintStarted) *Request {
	return h.Do(info)
}

// PrintStopped ends a print.
func (h *Host) PrintStopped(reason wire.PrintStoppedReason) *Request {
	return h.Do(&msgs.PrintStopped{Reason: reason})
}

// MacroCompleted tells a requested macro finished.
func (h *Host) MacroCompleted(ch wire.Channel, failed bool) *Request {
	return h.Do(&msgs.MacroCompleted{Channel: ch, Error: failed})
}

func failedRequest(msg msgs.HostMessage, err error) *Request {
	req := &Request{msg: msg, resultCh: make(chan Result, 1)}
	req.complete(Result{Err: err})
	return req
}

type completion struct {
	req *Request
	res Result
}

// HandlePacket implements transport.PacketHandler.
func (h *Host) HandlePacket(ctx context.Context, pkt *codec.Packet) {
	msg, err := msgs.DecodeFirmware(pkt)
	h.lock.Lock()
	if err != nil {
		countDecodeError(&h.stats, err)
		h.lock.Unlock()
		glog.Warningf("host dispatch: skip packet %d: %v", pkt.ID, err)
		return
	}
	h.stats.Dispatched++
	var done []completion
	matched, isReply := false, true
	switch m := msg.(type) {
	case *msgs.CodeReply:
		for _, ch := range m.MessageType.Channels() {
			req := h.codes[ch].head
			if req == nil {
				continue
			}
			matched = true
			req.output.WriteString(m.Text)
			if m.MessageType.IsPush() {
				continue
			}
			h.codes[ch].pop()
			res := Result{Msg: m, Text: req.output.String()}
			if m.MessageType.IsError() {
				res.Err = &CodeError{Channel: ch, Text: res.Text}
			}
			done = append(done, completion{req: req, res: res})
		}
	case *msgs.Locked:
		done, matched = popReply(done, &h.locks[m.Channel], msg)
	case *msgs.ReportState:
		done, matched = popReply(done, &h.states, msg)
	case *msgs.ObjectModelFragment:
		done, matched = popReply(done, &h.objectModel, msg)
	case *msgs.HeightMap:
		done, matched = popReply(done, &h.heightMaps, msg)
	default:
		isReply = false
	}
	if isReply && !matched {
		h.stats.Unmatched++
	}
	h.lock.Unlock()

	for _, c := range done {
		c.req.complete(c.res)
	}
	if !matched && h.Handler != nil {
		h.Handler.HandleFirmwareMessage(ctx, msg)
	}
}

func popReply(done []completion, q *requestQueue, msg msgs.FirmwareMessage) ([]completion, bool) {
	req := q.pop()
	if req == nil {
		return done, false
	}
	return append(done, completion{req: req, res: Result{Msg: msg}}), true
}

// StateChanged implements transport.StateNotifier. Pending requests fail
// with ErrDisconnected when the link disconnects.
func (h *Host) StateChanged(ctx context.Context, state transport.State) {
	if state == transport.Disconnected {
		h.lock.Lock()
		var reqs []*Request
		for n := range h.codes {
			reqs = append(reqs, h.codes[n].drain()...)
			reqs = append(reqs, h.locks[n].drain()...)
		}
		reqs = append(reqs, h.states.drain()...)
		reqs = append(reqs, h.objectModel.drain()...)
		reqs = append(reqs, h.heightMaps.drain()...)
		h.lock.Unlock()
		if len(reqs) > 0 {
			glog.Warningf("host dispatch: disconnected, %d requests failed", len(reqs))
		}
		for _, req := range reqs {
			req.complete(Result{Err: ErrDisconnected})
		}
	}
	if h.Notifier != nil {
		h.Notifier.StateChanged(ctx, state)
	}
}
