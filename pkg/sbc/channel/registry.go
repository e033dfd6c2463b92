// Package channel tracks per-channel ordering and lock state.
package channel

import (
	"sync"

	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// LockState is the movement lock state of a channel.
type LockState int

// Lock states.
const (
	LockNone LockState = iota
	// LockRequested means a lock was requested but not granted yet.
	LockRequested
	LockHeld
)

func (s LockState) String() string {
	switch s {
	case LockRequested:
		return "requested"
	case LockHeld:
		return "held"
	}
	return "none"
}

// State is the per-channel bookkeeping.
type State struct {
	// LastSeq is the sequence number of the Transfer carrying the last
	// packet processed for the channel.
	LastSeq uint16
	// LastPacketID is the id of that packet within its Transfer.
	LastPacketID uint16
	// Processed is false until the first packet is processed.
	Processed bool
	Lock      LockState
	// Busy is set while the channel executes a code.
	Busy bool
}

// Registry is a fixed table of channel states indexed by wire.Channel.
type Registry struct {
	lock   sync.Mutex
	states [wire.NumChannels]State
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Lookup returns a snapshot of the channel state.
// The channel must be valid, as decoding rejects invalid channels.
func (r *Registry) Lookup(ch wire.Channel) State {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.states[ch]
}

// Update applies fn to the channel state.
func (r *Registry) Update(ch wire.Channel, fn func(*State)) {
	r.lock.Lock()
	defer r.lock.Unlock()
	fn(&r.states[ch])
}

// Processed records a packet processed on the channel.
func (r *Registry) Processed(ch wire.Channel, seq, id uint16) {
	r.Update(ch, func(s *State) {
		s.LastSeq, s.LastPacketID, s.Processed = seq, id, true
	})
}

// SetLock sets the lock state of the channel.
func (r *Registry) SetLock(ch wire.Channel, ls LockState) {
	r.Update(ch, func(s *State) { s.Lock = ls })
}

// SetBusy marks the channel busy or idle.
func (r *Registry) SetBusy(ch wire.Channel, busy bool) {
	r.Update(ch, func(s *State) { s.Busy = busy })
}

// Requested lists channels with a lock requested but not held.
func (r *Registry) Requested() (chs []wire.Channel) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for n := range r.states {
		if r.states[n].Lock == LockRequested {
			chs = append(chs, wire.Channel(n))
		}
	}
	return
}

// BusyChannels returns the bitmap of busy channels.
func (r *Registry) BusyChannels() uint32 {
	r.lock.Lock()
	defer r.lock.Unlock()
	var bits uint32
	for n := range r.states {
		if r.states[n].Busy {
			bits |= 1 << uint(n)
		}
	}
	return bits
}

// ResetChannel clears the channel state after its execution context
// was torn down.
func (r *Registry) ResetChannel(ch wire.Channel) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.states[ch] = State{}
}

// ResetAll clears every channel, releasing all lock state.
func (r *Registry) ResetAll() {
	r.lock.Lock()
	defer r.lock.Unlock()
	for n := range r.states {
		r.states[n] = State{}
	}
}
