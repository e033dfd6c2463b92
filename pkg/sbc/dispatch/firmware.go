package dispatch

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/sbclink/pkg/sbc/channel"
	"github.com/robotalks/sbclink/pkg/sbc/codec"
	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/transport"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// Firmware dispatches host requests to the firmware collaborators.
// It implements transport.PacketHandler, transport.StateNotifier and
// transport.Poller. Collaborators left nil ignore their requests.
type Firmware struct {
	Sender      Sender
	ObjectModel ObjectModel
	Executor    CodeExecutor
	Printer     PrintTracker
	HeightMap   HeightMapStore
	Locks       LockManager
	Machine     Machine
	Reporter    StateReporter
	Registry    *channel.Registry

	lock    sync.Mutex
	backlog []*codec.Packet
	// queued holds codes waiting for the code running on their channel.
	queued [wire.NumChannels][]*msgs.Code
	stats  Stats
}

// NewFirmware creates a Firmware dispatcher sending through sender.
func NewFirmware(sender Sender) *Firmware {
	return &Firmware{Sender: sender, Registry: channel.NewRegistry()}
}

// Stats gets a snapshot of the counters.
func (f *Firmware) Stats() Stats {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.stats
}

// HandlePacket implements transport.PacketHandler.
func (f *Firmware) HandlePacket(ctx context.Context, pkt *codec.Packet) {
	msg, err := msgs.DecodeHost(pkt)
	if err != nil {
		f.lock.Lock()
		countDecodeError(&f.stats, err)
		f.lock.Unlock()
		glog.Warningf("firmware dispatch: skip packet %d: %v", pkt.ID, err)
		return
	}
	f.lock.Lock()
	f.stats.Dispatched++
	f.lock.Unlock()

	switch m := msg.(type) {
	case msgs.GetState:
		busy := f.Registry.BusyChannels()
		if f.Reporter != nil {
			busy |= f.Reporter.BusyChannels()
		}
		f.send(&msgs.ReportState{BusyChannels: busy})
	case msgs.EmergencyStop:
		if f.Machine != nil {
			f.Machine.EmergencyStop()
		}
		f.abortCodes(wire.Channels()...)
		f.releaseAll()
	case msgs.Reset:
		if f.Machine != nil {
			f.Machine.Reset()
		}
		f.abortCodes(wire.Channels()...)
		f.releaseAll()
	case *msgs.Code:
		f.Registry.Processed(m.Channel, pkt.Seq, pkt.ID)
		f.submit(ctx, m)
	case *msgs.GetObjectModel:
		var data []byte
		if f.ObjectModel != nil {
			if data, err = f.ObjectModel.Read(m.Module, m.Path); err != nil {
				glog.V(1).Infof("firmware dispatch: object model %d %q: %v", m.Module, m.Path, err)
				data = nil
			}
		}
		if err = f.ReportObjectModelFragment(m.Module, data); err != nil {
			glog.Warningf("firmware dispatch: object model %d %q: %v", m.Module, m.Path, err)
			f.ReportObjectModelFragment(m.Module, nil)
		}
	case *msgs.SetObjectModel:
		if f.ObjectModel != nil {
			if err = f.ObjectModel.Write(m.Module, m.Path, m.Value); err != nil {
				glog.Warningf("firmware dispatch: set object model %d %q: %v", m.Module, m.Path, err)
			}
		}
	case *msgs.PrintStarted:
		if f.Printer != nil {
			f.Printer.Started(m)
		}
	case *msgs.PrintStopped:
		if f.Printer != nil {
			f.Printer.Stopped(m.Reason)
		}
	case *msgs.MacroCompleted:
		if f.Machine != nil {
			f.Machine.MacroCompleted(m.Channel, m.Error)
		}
	case msgs.GetHeightMap:
		hm := &msgs.HeightMap{}
		if f.HeightMap != nil {
			if got, err := f.HeightMap.Get(); err != nil {
				glog.Warningf("firmware dispatch: height map: %v", err)
			} else if got != nil {
				hm = got
			}
		}
		f.send(hm)
	case *msgs.SetHeightMap:
		if f.HeightMap != nil {
			if err = f.HeightMap.Set(&m.Map); err != nil {
				glog.Warningf("firmware dispatch: set height map: %v", err)
			}
		}
	case *msgs.LockMovement:
		f.Registry.SetLock(m.Channel, channel.LockRequested)
		f.tryLock(m.Channel)
	case *msgs.Unlock:
		if f.Registry.Lookup(m.Channel).Lock == channel.LockHeld && f.Locks != nil {
			f.Locks.Unlock(m.Channel)
		}
		f.Registry.SetLock(m.Channel, channel.LockNone)
	}
}

// submit queues the code behind the codes of its channel and starts it
// if the channel is idle. Codes of a channel run one at a time so the
// host matches every final reply to the code it sent.
func (f *Firmware) submit(ctx context.Context, code *msgs.Code) {
	f.lock.Lock()
	f.queued[code.Channel] = append(f.queued[code.Channel], code)
	f.lock.Unlock()
	f.startQueued(ctx, code.Channel)
}

func (f *Firmware) startQueued(ctx context.Context, ch wire.Channel) {
	f.lock.Lock()
	if len(f.queued[ch]) == 0 || f.Registry.Lookup(ch).Busy {
		f.lock.Unlock()
		return
	}
	code := f.queued[ch][0]
	f.queued[ch] = f.queued[ch][1:]
	f.Registry.SetBusy(ch, true)
	f.lock.Unlock()

	if f.Executor == nil {
		f.SendCodeReply(ch, wire.ErrorMessageFlag, "no executor")
		return
	}
	status, err := f.Executor.Submit(ctx, code)
	switch {
	case err != nil:
		f.SendCodeReply(ch, wire.ErrorMessageFlag, err.Error())
	case status == Busy:
		// retried on the next poll
		f.lock.Lock()
		f.queued[ch] = append([]*msgs.Code{code}, f.queued[ch]...)
		f.Registry.SetBusy(ch, false)
		f.lock.Unlock()
	}
}

// abortCodes answers the running and queued codes of the channels with
// ErrAborted. The executor must have dropped them without reply.
func (f *Firmware) abortCodes(chs ...wire.Channel) {
	for _, ch := range chs {
		f.lock.Lock()
		n := len(f.queued[ch])
		f.queued[ch] = nil
		f.lock.Unlock()
		if f.Registry.Lookup(ch).Busy {
			n++
		}
		for ; n > 0; n-- {
			f.SendCodeReply(ch, wire.ErrorMessageFlag, ErrAborted.Error())
		}
	}
}

func (f *Firmware) tryLock(ch wire.Channel) {
	if f.Locks == nil || !f.Locks.Lock(ch) {
		return
	}
	f.Registry.SetLock(ch, channel.LockHeld)
	f.send(&msgs.Locked{Channel: ch})
}

// releaseAll unlocks held locks and clears all channel state.
func (f *Firmware) releaseAll() {
	if f.Locks != nil {
		for _, ch := range wire.Channels() {
			if f.Registry.Lookup(ch).Lock == channel.LockHeld {
				f.Locks.Unlock(ch)
			}
		}
	}
	f.Registry.ResetAll()
}

// StateChanged implements transport.StateNotifier.
func (f *Firmware) StateChanged(ctx context.Context, state transport.State) {
	if state != transport.Disconnected {
		return
	}
	f.lock.Lock()
	dropped := len(f.backlog)
	f.backlog = nil
	for n := range f.queued {
		f.queued[n] = nil
	}
	f.lock.Unlock()
	if dropped > 0 {
		glog.Warningf("firmware dispatch: disconnected, %d messages dropped", dropped)
	}
	f.releaseAll()
}

// Poll implements transport.Poller. It flushes messages the outbox could
// not take, starts queued codes of idle channels and retries requested
// locks.
func (f *Firmware) Poll(ctx context.Context) {
	f.lock.Lock()
	for len(f.backlog) > 0 {
		if err := f.Sender.Send(f.backlog[0]); err != nil {
			if err != transport.ErrQueueFull {
				glog.Warningf("firmware dispatch: %v", err)
			}
			break
		}
		f.backlog = f.backlog[1:]
	}
	f.lock.Unlock()
	for _, ch := range wire.Channels() {
		f.startQueued(ctx, ch)
	}
	for _, ch := range f.Registry.Requested() {
		f.tryLock(ch)
	}
}

func (f *Firmware) send(msg msgs.FirmwareMessage) error {
	pkt, err := msgs.EncodeFirmware(msg)
	if err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	if len(f.backlog) == 0 {
		if err = f.Sender.Send(pkt); err != transport.ErrQueueFull {
			return err
		}
	}
	f.backlog = append(f.backlog, pkt)
	return nil
}

// SendCodeReply sends output of a code to the channel. Without
// wire.PushFlag in flags, the reply ends the code and the channel is idle.
func (f *Firmware) SendCodeReply(ch wire.Channel, flags wire.MessageType, text string) error {
	if !ch.IsValid() {
		return errors.Errorf("invalid channel %d", ch)
	}
	if !flags.IsPush() {
		f.Registry.SetBusy(ch, false)
	}
	return f.send(&msgs.CodeReply{MessageType: wire.DestinationOf(ch) | flags, Text: text})
}

// ReportObjectModelFragment sends an object model fragment.
func (f *Firmware) ReportObjectModelFragment(module uint8, data []byte) error {
	return f.send(&msgs.ObjectModelFragment{Module: module, Data: data})
}

// NotifyMacroExecuted requests the host to run a macro on the channel.
func (f *Firmware) NotifyMacroExecuted(ch wire.Channel, path string, reportIfMissing bool) error {
	return f.send(&msgs.ExecuteMacro{Channel: ch, ReportMissing: reportIfMissing, Filename: path})
}

// NotifyStackEvent reports a changed stack of the channel.
func (f *Firmware) NotifyStackEvent(ch wire.Channel, depth uint8, flags wire.StackEventFlags, feedrate float32) error {
	return f.send(&msgs.StackEvent{Channel: ch, Depth: depth, Flags: flags, Feedrate: feedrate})
}

// NotifyPrintPaused reports a paused print.
func (f *Firmware) NotifyPrintPaused(filePosition uint32, reason wire.PrintPausedReason) error {
	return f.send(&msgs.PrintPaused{FilePosition: filePosition, Reason: reason})
}

// AbortFile requests the host to close the file of the channel and
// resets the channel state. The running code, if not yet replied, and
// the queued codes of the channel fail with ErrAborted.
func (f *Firmware) AbortFile(ch wire.Channel) error {
	if !ch.IsValid() {
		return errors.Errorf("invalid channel %d", ch)
	}
	f.abortCodes(ch)
	if f.Registry.Lookup(ch).Lock == channel.LockHeld && f.Locks != nil {
		f.Locks.Unlock(ch)
	}
	f.Registry.ResetChannel(ch)
	return f.send(&msgs.AbortFile{Channel: ch})
}

func countDecodeError(stats *Stats, err error) {
	if _, ok := err.(*msgs.UnknownKindError); ok {
		stats.UnknownKinds++
	} else {
		stats.BadPayloads++
	}
}
