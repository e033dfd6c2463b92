package sim

import (
	"sync"

	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// Locks grants the movement lock to one channel at a time, once the
// motion stands still.
type Locks struct {
	Motion *Motion

	lock   sync.Mutex
	holder wire.Channel
	held   bool
}

// Lock implements dispatch.LockManager.
func (l *Locks) Lock(ch wire.Channel) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.held {
		return l.holder == ch
	}
	if l.Motion != nil && l.Motion.Moving() {
		return false
	}
	l.holder, l.held = ch, true
	return true
}

// Unlock implements dispatch.LockManager.
func (l *Locks) Unlock(ch wire.Channel) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.held && l.holder == ch {
		l.held = false
	}
}

// Holder returns the channel holding the lock.
func (l *Locks) Holder() (wire.Channel, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.holder, l.held
}

// Locked tells whether a channel other than ch holds the lock.
func (l *Locks) Locked(ch wire.Channel) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.held && l.holder != ch
}
