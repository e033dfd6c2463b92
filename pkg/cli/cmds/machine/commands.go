package machine

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/sbclink/pkg/cli/sh"
	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

func channelArg(c *ishell.Context, n int) (wire.Channel, bool) {
	if len(c.Args) <= n {
		c.Err(fmt.Errorf("CHANNEL required"))
		return 0, false
	}
	ch, err := wire.ParseChannel(c.Args[n])
	if err != nil {
		c.Err(err)
		return 0, false
	}
	return ch, true
}

func moduleArg(c *ishell.Context, n int) (uint8, bool) {
	if len(c.Args) <= n {
		return 0, true
	}
	val, err := strconv.ParseUint(c.Args[n], 10, 8)
	if err != nil {
		c.Err(fmt.Errorf("Invalid MODULE: %v", err))
		return 0, false
	}
	return uint8(val), true
}

var (
	// CodeCmd submits a code.
	CodeCmd = ishell.Cmd{
		Name:    "code",
		Aliases: []string{"g"},
		Help:    "CHANNEL CODE [PARAM...], e.g. code http G1 X10 F3000",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			ch, ok := channelArg(c, 0)
			if !ok {
				return
			}
			code, err := ParseCode(ch, c.Args[1:])
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoRequest(c, sh.Host(c).SubmitCode(code))
		}),
	}

	// StateCmd queries busy channels.
	StateCmd = ishell.Cmd{
		Name:    "state",
		Aliases: []string{"s"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			res, err := sh.WaitRequest(c, sh.Host(c).GetState())
			if err != nil {
				c.Err(err)
				return
			}
			report := res.Msg.(*msgs.ReportState)
			var busy []string
			for _, ch := range wire.Channels() {
				if report.IsBusy(ch) {
					busy = append(busy, ch.String())
				}
			}
			if sh.ShellFrom(c).OutputJSON {
				out, _ := json.Marshal(busy)
				c.Println(string(out))
				return
			}
			c.Printf("busy: %v\n", busy)
		}),
	}

	// EmergencyStopCmd halts the machine.
	EmergencyStopCmd = ishell.Cmd{
		Name:    "estop",
		Aliases: []string{"m112"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoRequest(c, sh.Host(c).EmergencyStop())
		}),
	}

	// ResetCmd restarts the controller.
	ResetCmd = ishell.Cmd{
		Name:    "reset",
		Aliases: []string{"m999"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoRequest(c, sh.Host(c).Reset())
		}),
	}

	// ObjectModelGetCmd reads the object model.
	ObjectModelGetCmd = ishell.Cmd{
		Name:    "om.get",
		Aliases: []string{"omg"},
		Help:    "PATH [MODULE]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			var path string
			if len(c.Args) > 0 {
				path = c.Args[0]
			}
			module, ok := moduleArg(c, 1)
			if !ok {
				return
			}
			res, err := sh.WaitRequest(c, sh.Host(c).GetObjectModel(module, path))
			if err != nil {
				c.Err(err)
				return
			}
			frag := res.Msg.(*msgs.ObjectModelFragment)
			if len(frag.Data) == 0 {
				c.Err(fmt.Errorf("%q not found", path))
				return
			}
			c.Println(string(frag.Data))
		}),
	}

	// ObjectModelSetCmd assigns a field of the object model.
	ObjectModelSetCmd = ishell.Cmd{
		Name:    "om.set",
		Aliases: []string{"oms"},
		Help:    "PATH VALUE [MODULE]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("PATH and VALUE required"))
				return
			}
			module, ok := moduleArg(c, 2)
			if !ok {
				return
			}
			sh.DoRequest(c, sh.Host(c).SetObjectModel(module, c.Args[0], ParseValue(c.Args[1])))
		}),
	}

	// LockCmd locks movement for a channel and waits for standstill.
	LockCmd = ishell.Cmd{
		Name:    "lock",
		Aliases: []string{},
		Help:    "CHANNEL",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if ch, ok := channelArg(c, 0); ok {
				sh.DoRequest(c, sh.Host(c).Lock(ch))
			}
		}),
	}

	// UnlockCmd releases the locks of a channel.
	UnlockCmd = ishell.Cmd{
		Name:    "unlock",
		Aliases: []string{},
		Help:    "CHANNEL",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if ch, ok := channelArg(c, 0); ok {
				sh.DoRequest(c, sh.Host(c).Unlock(ch))
			}
		}),
	}

	// HeightMapGetCmd prints the height map.
	HeightMapGetCmd = ishell.Cmd{
		Name:    "heightmap.get",
		Aliases: []string{"hmg"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			res, err := sh.WaitRequest(c, sh.Host(c).GetHeightMap())
			if err != nil {
				c.Err(err)
				return
			}
			m := res.Msg.(*msgs.HeightMap)
			if sh.ShellFrom(c).OutputJSON {
				out, _ := json.Marshal(m)
				c.Println(string(out))
				return
			}
			c.Printf("X %g..%g step %g, Y %g..%g step %g, %dx%d points\n",
				m.XMin, m.XMax, m.XSpacing, m.YMin, m.YMax, m.YSpacing, m.NumX, m.NumY)
			for y := int(m.NumY) - 1; y >= 0; y-- {
				for x := 0; x < int(m.NumX); x++ {
					c.Printf("%7.3f ", m.At(x, y))
				}
				c.Println()
			}
		}),
	}

	// HeightMapSetCmd loads a height map from a JSON file.
	HeightMapSetCmd = ishell.Cmd{
		Name:    "heightmap.set",
		Aliases: []string{"hms"},
		Help:    "FILE",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("FILE required"))
				return
			}
			data, err := os.ReadFile(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			var m msgs.HeightMap
			if err = json.Unmarshal(data, &m); err != nil {
				c.Err(err)
				return
			}
			sh.DoRequest(c, sh.Host(c).SetHeightMap(&m))
		}),
	}

	// PrintStartedCmd announces a print.
	PrintStartedCmd = ishell.Cmd{
		Name:    "print.start",
		Aliases: []string{"ps"},
		Help:    "FILENAME",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("FILENAME required"))
				return
			}
			info := &msgs.PrintStarted{Filename: c.Args[0], LastModified: time.Now()}
			if st, err := os.Stat(c.Args[0]); err == nil {
				info.FileSize, info.LastModified = uint32(st.Size()), st.ModTime()
			}
			sh.DoRequest(c, sh.Host(c).PrintStarted(info))
		}),
	}

	// PrintStoppedCmd clears the print.
	PrintStoppedCmd = ishell.Cmd{
		Name:    "print.stop",
		Aliases: []string{"pst"},
		Help:    "[REASON(0=completed,1=cancelled,2=abort)]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			reason := wire.NormalCompletion
			if len(c.Args) > 0 {
				val, err := strconv.ParseUint(c.Args[0], 10, 8)
				if err != nil || wire.PrintStoppedReason(val) > wire.Abort {
					c.Err(fmt.Errorf("Invalid REASON %q", c.Args[0]))
					return
				}
				reason = wire.PrintStoppedReason(val)
			}
			sh.DoRequest(c, sh.Host(c).PrintStopped(reason))
		}),
	}

	// MacroCompletedCmd tells a requested macro finished.
	MacroCompletedCmd = ishell.Cmd{
		Name:    "macro.done",
		Aliases: []string{"md"},
		Help:    "CHANNEL [failed]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			ch, ok := channelArg(c, 0)
			if !ok {
				return
			}
			failed := len(c.Args) > 1 && c.Args[1] == "failed"
			sh.DoRequest(c, sh.Host(c).MacroCompleted(ch, failed))
		}),
	}
)

func init() {
	sh.AddCmds(
		&CodeCmd,
		&StateCmd,
		&EmergencyStopCmd,
		&ResetCmd,
		&ObjectModelGetCmd,
		&ObjectModelSetCmd,
		&LockCmd,
		&UnlockCmd,
		&HeightMapGetCmd,
		&HeightMapSetCmd,
		&PrintStartedCmd,
		&PrintStoppedCmd,
		&MacroCompletedCmd,
	)
}
