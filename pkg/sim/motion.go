package sim

import (
	"sync"
	"time"
)

// DefaultFeedrate is the feedrate in mm/min of moves without F.
const DefaultFeedrate = 3000

// Motion simulates linear moves of the tool head at constant speed.
type Motion struct {
	lock  sync.Mutex
	pos   Pos
	state *moveState
}

type moveState struct {
	startPos  Pos
	target    Pos
	startTime time.Time
	endTime   time.Time
}

func newMoveState(from Pos, now time.Time, target Pos, feedrate float64) *moveState {
	dist := target.Sub(from).Length()
	if dist == 0 || feedrate <= 0 {
		return nil
	}
	secs := dist / (feedrate / 60)
	return &moveState{
		startPos:  from,
		target:    target,
		startTime: now,
		endTime:   now.Add(time.Duration(secs * float64(time.Second))),
	}
}

func (s *moveState) estimate(now time.Time) (Pos, *moveState) {
	if !now.Before(s.endTime) {
		return s.target, nil
	}
	if now.Before(s.startTime) {
		return s.startPos, s
	}
	f := float64(now.Sub(s.startTime)) / float64(s.endTime.Sub(s.startTime))
	return s.startPos.Add(s.target.Sub(s.startPos).Scale(f)), s
}

// Move starts a move to target. The current move is replaced from where
// it is at now.
func (m *Motion) Move(now time.Time, target Pos, feedrate float64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.estimateLocked(now)
	if m.state = newMoveState(m.pos, now, target, feedrate); m.state == nil {
		m.pos = target
	}
}

// Estimate advances the simulation to now.
func (m *Motion) Estimate(now time.Time) Pos {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.estimateLocked(now)
}

func (m *Motion) estimateLocked(now time.Time) Pos {
	if s := m.state; s != nil {
		m.pos, m.state = s.estimate(now)
	}
	return m.pos
}

// Position returns the position of the last estimate.
func (m *Motion) Position() Pos {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.pos
}

// Moving tells whether a move was in progress at the last estimate.
func (m *Motion) Moving() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state != nil
}

// Stop halts at the position reached at now.
func (m *Motion) Stop(now time.Time) Pos {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.estimateLocked(now)
	m.state = nil
	return m.pos
}
