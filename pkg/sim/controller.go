package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/sbclink/pkg/framework"
	"github.com/robotalks/sbclink/pkg/sbc/dispatch"
	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// Output is what the controller reports to the host.
// dispatch.Firmware is an Output.
type Output interface {
	SendCodeReply(ch wire.Channel, flags wire.MessageType, text string) error
	NotifyMacroExecuted(ch wire.Channel, path string, reportIfMissing bool) error
	NotifyStackEvent(ch wire.Channel, depth uint8, flags wire.StackEventFlags, feedrate float32) error
	NotifyPrintPaused(filePosition uint32, reason wire.PrintPausedReason) error
}

// DefaultInterval is the simulation step.
const DefaultInterval = 10 * time.Millisecond

// Controller simulates the firmware side of a machine. Codes are executed
// in a framework.Loop: they are accepted by Submit, started by a control
// stage, completed by an actuation stage once their wait condition is met,
// and the object model is refreshed last.
type Controller struct {
	Output    Output
	Motion    *Motion
	Model     *ObjectModel
	HeightMap *HeightMapStore
	Locks     *Locks
	Printer   *Printer
	Bed       Bed

	loop    *fx.Loop
	outLock sync.RWMutex
	// execLock serializes code execution steps with EmergencyStop and Reset.
	execLock sync.Mutex

	lock     sync.Mutex
	channels [wire.NumChannels]channelState
	halted   bool
	epoch    uint64
	started  time.Time
}

type channelState struct {
	busy     bool
	relative bool
	feedrate float64
	depth    uint8
	wait     *wait
}

type waitKind int

const (
	waitMotion waitKind = iota
	waitDwell
	waitMacro
)

type wait struct {
	kind   waitKind
	until  time.Time
	done   bool
	failed bool
	reply  string
}

type codeMsg struct {
	code  *msgs.Code
	epoch uint64
}

type reply struct {
	ch    wire.Channel
	flags wire.MessageType
	text  string
	// aborted lists other channels whose codes were dropped by this one.
	aborted []wire.Channel
}

// New creates a Controller.
func New() *Controller {
	c := &Controller{
		Motion:    &Motion{},
		Model:     NewObjectModel(),
		HeightMap: &HeightMapStore{},
		Bed:       DefaultBed,
		loop:      fx.NewLoop(DefaultInterval),
		started:   time.Now(),
	}
	c.Locks = &Locks{Motion: c.Motion}
	c.Printer = &Printer{Model: c.Model}
	for n := range c.channels {
		c.channels[n].feedrate = DefaultFeedrate
	}
	c.loop.AddController(fx.PrLvControl, fx.ControlFunc(c.HandleCodes))
	c.loop.AddController(fx.PrLvAcuate, fx.ControlFunc(c.Execute))
	c.loop.AddController(fx.PrLvPostProc, fx.ControlFunc(c.UpdateModel))
	c.initModel()
	return c
}

// Attach plugs the controller into a firmware dispatcher.
// A running controller may be attached to the dispatcher of a new link.
func (c *Controller) Attach(fw *dispatch.Firmware) {
	c.outLock.Lock()
	c.Output = fw
	c.outLock.Unlock()
	fw.Executor = c
	fw.ObjectModel = c.Model
	fw.Printer = c.Printer
	fw.HeightMap = c.HeightMap
	fw.Locks = c.Locks
	fw.Machine = c
	fw.Reporter = c
}

func (c *Controller) output() Output {
	c.outLock.RLock()
	defer c.outLock.RUnlock()
	return c.Output
}

// Loop returns the simulation loop.
func (c *Controller) Loop() *fx.Loop {
	return c.loop
}

// Run implements framework.Runnable.
func (c *Controller) Run(ctx context.Context) error {
	return c.loop.Run(ctx)
}

// Name implements framework.Named.
func (c *Controller) Name() string {
	return "sim"
}

func (c *Controller) initModel() {
	c.Model.Set(0, "boards", []interface{}{
		map[string]interface{}{"firmwareName": "sbclink-sim", "name": "simulator"},
	})
	c.Model.Set(0, "move.axes", []interface{}{
		map[string]interface{}{"letter": "X", "machinePosition": 0.0},
		map[string]interface{}{"letter": "Y", "machinePosition": 0.0},
		map[string]interface{}{"letter": "Z", "machinePosition": 0.0},
	})
	c.Model.Set(0, "state.status", "idle")
}

// Submit implements dispatch.CodeExecutor.
func (c *Controller) Submit(ctx context.Context, code *msgs.Code) (dispatch.SubmitStatus, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.halted && !(code.Letter == 'M' && code.MajorCode == 999) {
		return dispatch.Accepted, fmt.Errorf("halted, send M999 to reset")
	}
	st := &c.channels[code.Channel]
	if st.busy {
		return dispatch.Busy, nil
	}
	st.busy = true
	c.loop.PostMessage(&codeMsg{code: code, epoch: c.epoch})
	c.loop.TriggerNext()
	return dispatch.Accepted, nil
}

// EmergencyStop implements dispatch.Machine. Codes in progress are
// dropped without reply, the dispatcher answers them.
func (c *Controller) EmergencyStop() {
	c.execLock.Lock()
	defer c.execLock.Unlock()
	c.halt()
}

// Reset implements dispatch.Machine. Like EmergencyStop, codes in
// progress are dropped without reply.
func (c *Controller) Reset() {
	c.execLock.Lock()
	defer c.execLock.Unlock()
	c.reset()
}

// halt stops the machine and returns the channels whose codes were
// dropped. Codes posted before are discarded when they reach the loop.
func (c *Controller) halt() []wire.Channel {
	c.Motion.Stop(time.Now())
	c.lock.Lock()
	c.halted = true
	aborted := c.dropCodesLocked()
	for n := range c.channels {
		c.channels[n].wait = nil
	}
	c.lock.Unlock()
	c.Model.Set(0, "state.status", "halted")
	glog.Warning("sim: emergency stop")
	return aborted
}

func (c *Controller) reset() []wire.Channel {
	c.Motion.Stop(time.Now())
	c.lock.Lock()
	c.halted = false
	aborted := c.dropCodesLocked()
	for n := range c.channels {
		c.channels[n] = channelState{feedrate: DefaultFeedrate}
	}
	c.started = time.Now()
	c.lock.Unlock()
	c.Model.Set(0, "state.status", "idle")
	glog.Info("sim: reset")
	return aborted
}

func (c *Controller) dropCodesLocked() (chs []wire.Channel) {
	c.epoch++
	for n := range c.channels {
		if c.channels[n].busy {
			chs = append(chs, wire.Channel(n))
			c.channels[n].busy = false
		}
	}
	return
}

// MacroCompleted implements dispatch.Machine.
func (c *Controller) MacroCompleted(ch wire.Channel, failed bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	st := &c.channels[ch]
	if st.wait != nil && st.wait.kind == waitMacro {
		st.wait.done, st.wait.failed = true, failed
		if failed {
			st.wait.reply = "macro failed"
		}
		if st.depth > 0 {
			st.depth--
		}
		c.loop.TriggerNext()
	}
}

// HandleCodes is a controller starting submitted codes.
func (c *Controller) HandleCodes(cc fx.ControlContext) error {
	c.execLock.Lock()
	defer c.execLock.Unlock()
	var replies []reply
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		if m, ok := mctx.CurrentMessage().(*codeMsg); ok {
			mctx.MessageTaken()
			c.lock.Lock()
			stale := m.epoch != c.epoch
			c.lock.Unlock()
			if stale {
				return
			}
			if r := c.start(cc.Time(), m.code); r != nil {
				replies = append(replies, *r)
			}
		}
	}))
	c.sendReplies(replies)
	return nil
}

// Execute is a controller advancing motion and completing waits.
func (c *Controller) Execute(cc fx.ControlContext) error {
	c.execLock.Lock()
	defer c.execLock.Unlock()
	c.Motion.Estimate(cc.Time())
	moving := c.Motion.Moving()
	var replies []reply
	c.lock.Lock()
	for n := range c.channels {
		st := &c.channels[n]
		w := st.wait
		if w == nil {
			continue
		}
		switch w.kind {
		case waitMotion:
			w.done = !moving
		case waitDwell:
			w.done = !cc.Time().Before(w.until)
		}
		if !w.done {
			continue
		}
		st.wait, st.busy = nil, false
		r := reply{ch: wire.Channel(n), text: w.reply}
		if w.failed {
			r.flags = wire.ErrorMessageFlag
		}
		replies = append(replies, r)
	}
	c.lock.Unlock()
	c.sendReplies(replies)
	return nil
}

// UpdateModel is a controller mirroring the machine state into the
// object model.
func (c *Controller) UpdateModel(cc fx.ControlContext) error {
	pos := c.Motion.Position()
	for n, v := range []float64{pos.X, pos.Y, pos.Z} {
		c.Model.Set(0, fmt.Sprintf("move.axes[%d].machinePosition", n), v)
	}
	c.lock.Lock()
	halted, busy := c.halted, c.Motion.Moving()
	for n := range c.channels {
		busy = busy || c.channels[n].busy
	}
	upTime := int64(cc.Time().Sub(c.started) / time.Second)
	c.lock.Unlock()
	c.Model.Set(0, "state.upTime", upTime)
	if halted {
		return nil
	}
	if c.Printer.Current() != nil {
		return nil
	}
	status := "idle"
	if busy {
		status = "busy"
	}
	c.Model.Set(0, "state.status", status)
	return nil
}

// BusyChannels implements dispatch.StateReporter.
func (c *Controller) BusyChannels() uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	var bits uint32
	for n := range c.channels {
		if c.channels[n].busy {
			bits |= 1 << uint(n)
		}
	}
	return bits
}

func (c *Controller) sendReplies(replies []reply) {
	out := c.output()
	if out == nil {
		return
	}
	for _, r := range replies {
		for _, ch := range r.aborted {
			if err := out.SendCodeReply(ch, wire.ErrorMessageFlag, dispatch.ErrAborted.Error()); err != nil {
				glog.Warningf("sim: abort %s: %v", ch, err)
			}
		}
		if err := out.SendCodeReply(r.ch, r.flags, r.text); err != nil {
			glog.Warningf("sim: reply on %s: %v", r.ch, err)
		}
	}
}
