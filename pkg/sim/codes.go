package sim

import (
	"fmt"
	"time"

	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// HomingFeedrate is the feedrate of G28 in mm/min.
const HomingFeedrate = 6000

func paramFloat(code *msgs.Code, letter byte) (float64, bool) {
	v, ok := code.Param(letter)
	if !ok {
		return 0, false
	}
	switch v.Type {
	case wire.TypeInt:
		return float64(v.Int), true
	case wire.TypeUInt:
		return float64(v.UInt), true
	case wire.TypeFloat:
		return float64(v.Float), true
	}
	return 0, false
}

func paramString(code *msgs.Code, letter byte) (string, bool) {
	v, ok := code.Param(letter)
	if !ok || !v.Type.IsString() {
		return "", false
	}
	return v.String, true
}

func otherChannels(chs []wire.Channel, ch wire.Channel) (others []wire.Channel) {
	for _, other := range chs {
		if other != ch {
			others = append(others, other)
		}
	}
	return
}

func failed(format string, args ...interface{}) (*reply, *wait) {
	return &reply{flags: wire.ErrorMessageFlag, text: fmt.Sprintf(format, args...)}, nil
}

// start starts a code. Either a reply completing the code or a wait
// is returned.
func (c *Controller) start(now time.Time, code *msgs.Code) *reply {
	var r *reply
	var w *wait
	switch code.Letter {
	case 'G':
		r, w = c.startG(now, code)
	case 'M':
		r, w = c.startM(now, code)
	case 'T':
		c.Model.Set(0, "state.currentTool", code.MajorCode)
		r = &reply{}
	default:
		r, w = failed("unsupported code %s", code)
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	st := &c.channels[code.Channel]
	if w != nil {
		st.wait = w
		return nil
	}
	st.busy = false
	r.ch = code.Channel
	return r
}

func (c *Controller) startG(now time.Time, code *msgs.Code) (*reply, *wait) {
	ch := code.Channel
	switch code.MajorCode {
	case 0, 1:
		if holder, held := c.Locks.Holder(); held && holder != ch {
			return failed("movement locked by %s", holder)
		}
		c.lock.Lock()
		st := &c.channels[ch]
		if f, ok := paramFloat(code, 'F'); ok && f > 0 {
			st.feedrate = f
		}
		relative, feedrate := st.relative, st.feedrate
		c.lock.Unlock()

		target := c.Motion.Estimate(now)
		if relative {
			target = Pos{}
		}
		for _, axis := range []struct {
			letter byte
			v      *float64
		}{{'X', &target.X}, {'Y', &target.Y}, {'Z', &target.Z}} {
			if v, ok := paramFloat(code, axis.letter); ok {
				*axis.v = v
			}
		}
		if relative {
			target = c.Motion.Position().Add(target)
		}
		c.Motion.Move(now, target, feedrate)
		return nil, &wait{kind: waitMotion}
	case 4:
		var dwell time.Duration
		if ms, ok := paramFloat(code, 'P'); ok {
			dwell = time.Duration(ms * float64(time.Millisecond))
		} else if secs, ok := paramFloat(code, 'S'); ok {
			dwell = time.Duration(secs * float64(time.Second))
		}
		return nil, &wait{kind: waitDwell, until: now.Add(dwell)}
	case 28:
		if holder, held := c.Locks.Holder(); held && holder != ch {
			return failed("movement locked by %s", holder)
		}
		target := c.Motion.Estimate(now)
		all := true
		for _, axis := range []struct {
			letter byte
			v      *float64
		}{{'X', &target.X}, {'Y', &target.Y}, {'Z', &target.Z}} {
			if _, ok := code.Param(axis.letter); ok {
				*axis.v, all = 0, false
			}
		}
		if all {
			target = Pos{}
		}
		c.Motion.Move(now, target, HomingFeedrate)
		return nil, &wait{kind: waitMotion}
	case 29:
		m, err := c.HeightMap.Probe(c.Bed)
		if err != nil {
			return failed("%v", err)
		}
		return &reply{text: fmt.Sprintf("%d points probed, %dx%d grid", len(m.Z), m.NumX, m.NumY)}, nil
	case 90, 91:
		c.lock.Lock()
		st := &c.channels[ch]
		st.relative = code.MajorCode == 91
		depth, feedrate := st.depth, st.feedrate
		c.lock.Unlock()
		var flags wire.StackEventFlags
		if code.MajorCode == 91 {
			flags = wire.AxesRelative
		}
		if out := c.output(); out != nil {
			out.NotifyStackEvent(ch, depth, flags, float32(feedrate/60))
		}
		return &reply{}, nil
	}
	return failed("unsupported code %s", code)
}

func (c *Controller) startM(now time.Time, code *msgs.Code) (*reply, *wait) {
	ch := code.Channel
	switch code.MajorCode {
	case 98:
		path, ok := paramString(code, 'P')
		if !ok {
			return failed("M98: missing P parameter")
		}
		out := c.output()
		if out == nil {
			return failed("M98: no host")
		}
		c.lock.Lock()
		c.channels[ch].depth++
		c.lock.Unlock()
		if err := out.NotifyMacroExecuted(ch, path, true); err != nil {
			return failed("M98: %v", err)
		}
		return nil, &wait{kind: waitMacro}
	case 112:
		return &reply{text: "emergency stop", aborted: otherChannels(c.halt(), ch)}, nil
	case 114:
		return &reply{text: c.Motion.Estimate(now).String()}, nil
	case 115:
		return &reply{text: fmt.Sprintf("FIRMWARE_NAME: sbclink-sim PROTOCOL_VERSION: %d", wire.ProtocolVersion)}, nil
	case 226:
		var pos uint32
		if code.HasFilePosition() {
			pos = code.FilePosition
		}
		if out := c.output(); out != nil {
			out.NotifyPrintPaused(pos, wire.PausedByGCode)
		}
		return &reply{}, nil
	case 400:
		return nil, &wait{kind: waitMotion}
	case 999:
		return &reply{aborted: otherChannels(c.reset(), ch)}, nil
	}
	return failed("unsupported code %s", code)
}
