package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/robotalks/sbclink/pkg/sbc/dispatch"
	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/transport"
)

// Topics under <id>/ used by a Bridge.
const (
	TopicMeta  = "meta"
	TopicState = "state"
	TopicEvent = "event"
	TopicCode  = "code"
	TopicReply = "reply"
)

// DefaultCodeTimeout limits how long a submitted code is waited for.
const DefaultCodeTimeout = 30 * time.Second

// Bridge exposes a host dispatcher over MQTT. Unsolicited firmware
// messages are published to <id>/event, link states to the retained
// <id>/state, and codes published to <id>/code are submitted with their
// results published to <id>/reply.
// It implements dispatch.HostHandler and transport.StateNotifier.
type Bridge struct {
	Queue       *Queue
	ID          string
	Host        *dispatch.Host
	CodeTimeout time.Duration

	now   func() time.Time
	lock  sync.Mutex
	state transport.State
	wg    sync.WaitGroup
}

// NewBridge creates a Bridge.
func NewBridge(q *Queue, id string, host *dispatch.Host) *Bridge {
	b := &Bridge{
		Queue:       q,
		ID:          id,
		Host:        host,
		CodeTimeout: DefaultCodeTimeout,
		now:         time.Now,
	}
	q.OnConnect = func(*Queue) { b.onConnected() }
	return b
}

// NewBridgeFromURL connects to the broker at brokerURL with a will
// clearing the retained meta of the bridge.
func NewBridgeFromURL(brokerURL, id string, host *dispatch.Host) (*Bridge, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+id+"/"+TopicMeta, nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("sbc:" + id)
	}
	return NewBridge(NewQueue(opts, topicPrefix), id, host), nil
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "mqtt:" + b.ID
}

func (b *Bridge) topic(name string) string {
	return b.ID + "/" + name
}

// Run implements framework.Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.Queue.Sub(b.topic(TopicCode), b.handleCode)
	if token := b.Queue.Connect(); token.Wait() && token.Error() != nil {
		sub.Close()
		return token.Error()
	}
	<-ctx.Done()
	sub.Close()
	b.Queue.PubWith(b.topic(TopicMeta), nil, 1, true).Wait()
	b.wg.Wait()
	b.Queue.Close()
	return nil
}

func (b *Bridge) onConnected() {
	meta, err := MetaPayload(b.ID, b.now())
	if err == nil {
		err = b.publish(TopicMeta, meta, 1, true)
	}
	if err != nil {
		glog.Errorf("mqtt bridge: publish meta: %v", err)
	}
	b.lock.Lock()
	state := b.state
	b.lock.Unlock()
	b.publishState(state)
}

func (b *Bridge) publish(name string, s *structpb.Struct, qos byte, retain bool) error {
	payload, err := Marshal(s)
	if err != nil {
		return err
	}
	b.Queue.PubWith(b.topic(name), payload, qos, retain)
	return nil
}

func (b *Bridge) publishState(state transport.State) {
	s, err := StatePayload(state.String(), b.now())
	if err == nil {
		err = b.publish(TopicState, s, 1, true)
	}
	if err != nil {
		glog.Errorf("mqtt bridge: publish state: %v", err)
	}
}

// HandleFirmwareMessage implements dispatch.HostHandler.
func (b *Bridge) HandleFirmwareMessage(ctx context.Context, msg msgs.FirmwareMessage) {
	s, err := EventPayload(msg, b.now())
	if err == nil {
		err = b.publish(TopicEvent, s, 0, false)
	}
	if err != nil {
		glog.Errorf("mqtt bridge: publish %s: %v", msg.FirmwareRequest(), err)
	}
}

// StateChanged implements transport.StateNotifier.
func (b *Bridge) StateChanged(ctx context.Context, state transport.State) {
	b.lock.Lock()
	b.state = state
	b.lock.Unlock()
	b.publishState(state)
}

func (b *Bridge) handleCode(topic string, payload []byte) {
	s, err := Unmarshal(payload)
	var req *CodeRequest
	if err == nil {
		req, err = ParseCodeRequest(s)
	}
	if err != nil {
		glog.Warningf("mqtt bridge: bad code request: %v", err)
		return
	}
	glog.V(1).Infof("mqtt bridge: %s: %s", req.Code.Channel, req.Code)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.submit(req)
	}()
}

func (b *Bridge) submit(req *CodeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), b.CodeTimeout)
	defer cancel()
	res, err := b.Host.SubmitCode(req.Code).Wait(ctx)
	s, err := ReplyPayload(req, res.Text, err, b.now())
	if err == nil {
		err = b.publish(TopicReply, s, 1, false)
	}
	if err != nil {
		glog.Errorf("mqtt bridge: publish reply: %v", err)
	}
}
