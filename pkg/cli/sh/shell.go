package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/sbclink/pkg/env"
	fx "github.com/robotalks/sbclink/pkg/framework"
	"github.com/robotalks/sbclink/pkg/sbc/dispatch"
	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/transport"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	// Timeout limits the wait of a request.
	Timeout time.Duration

	Shell   *ishell.Shell
	Config  *env.Config
	Session *Session
}

// Session is a running link to the firmware.
type Session struct {
	Ctx    context.Context
	Cancel func()
	Conn   *env.Conn
	Link   *transport.Link
	Host   *dispatch.Host
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	timeout    = 10 * time.Second

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&StatusCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.DurationVar(&timeout, "timeout", timeout, "Timeout of a request.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Timeout:     timeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Session == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// Host gets the dispatcher of the current session.
func Host(c *ishell.Context) *dispatch.Host {
	return ShellFrom(c).Session.Host
}

// FormatMessage renders a firmware message for display.
func FormatMessage(msg msgs.FirmwareMessage) string {
	if reply, ok := msg.(*msgs.CodeReply); ok {
		return reply.Text
	}
	out, err := json.Marshal(msg)
	if err != nil {
		out = []byte(err.Error())
	}
	return fmt.Sprintf("%s %s", reflect.Indirect(reflect.ValueOf(msg)).Type().Name(), out)
}

// WaitRequest waits for the result of a request within the shell timeout.
func WaitRequest(c *ishell.Context, req *dispatch.Request) (dispatch.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ShellFrom(c).Timeout)
	defer cancel()
	return req.Wait(ctx)
}

// DoRequest waits for the result of a request and prints it.
func DoRequest(c *ishell.Context, req *dispatch.Request) (dispatch.Result, error) {
	s := ShellFrom(c)
	res, err := WaitRequest(c, req)
	if res.Text != "" {
		c.Print(res.Text)
		if res.Text[len(res.Text)-1] != '\n' {
			c.Println()
		}
	}
	if err != nil {
		if res.Text == "" {
			c.Err(err)
		}
		return res, err
	}
	switch {
	case res.Msg == nil:
		c.Println("OK")
	case s.OutputJSON:
		out, err := json.Marshal(res.Msg)
		if err != nil {
			c.Err(err)
			return res, err
		}
		c.Println(string(out))
	case res.Text == "":
		c.Println(FormatMessage(res.Msg))
	}
	return res, nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect opens the link and waits until it is exchanging.
func (s *Shell) Connect(link string) error {
	conf := *s.Config
	if link != "" {
		conf.Link = link
	}
	sess := &Session{}
	sess.Ctx, sess.Cancel = context.WithCancel(context.Background())
	conn, err := conf.Dial(sess.Ctx)
	if err != nil {
		sess.Cancel()
		return err
	}
	sess.Conn = conn
	sess.Link = conf.NewLink(conn, transport.RoleHost)
	sess.Host = dispatch.NewHost(sess.Link)
	sess.Host.Handler = dispatch.HandleFirmwareMessageFunc(func(_ context.Context, msg msgs.FirmwareMessage) {
		s.Shell.Println(FormatMessage(msg))
	})
	readyCh := make(chan struct{})
	var ready bool
	sess.Host.Notifier = transport.StateChangedFunc(func(_ context.Context, state transport.State) {
		if state.IsReady() && !ready {
			ready = true
			close(readyCh)
		}
	})
	sess.Link.Handler, sess.Link.Notifier = sess.Host, sess.Host

	go func() {
		err := fx.RunWithContextCloser(sess.Ctx, conn, func() error {
			return sess.Link.Run(sess.Ctx)
		})
		if err != nil && sess.Ctx.Err() == nil {
			s.Shell.Printf("link %s stopped: %v\n", conn.Remote, err)
		}
	}()

	select {
	case <-readyCh:
	case <-time.After(conf.ConnectionTimeout):
		sess.Cancel()
		return fmt.Errorf("link %s not ready", conn.Remote)
	}
	s.Disconnect()
	s.Session = sess
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", conn.Remote))
	return nil
}

// Disconnect closes the current link.
func (s *Shell) Disconnect() {
	if s.Session != nil {
		s.Session.Cancel()
		s.Session = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Link)
		}
		if err := s.Connect(""); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.Link, err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// ConnectCmd opens a link.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[LINK]",
		Func: func(c *ishell.Context) {
			var link string
			if len(c.Args) > 0 {
				link = c.Args[0]
			}
			if err := ShellFrom(c).Connect(link); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd closes the current link.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// StatusCmd prints the link state and counters.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "",
		Func: MustBeConnected(func(c *ishell.Context) {
			sess := ShellFrom(c).Session
			status := struct {
				State    string
				Link     transport.Stats
				Dispatch dispatch.Stats
			}{
				State:    sess.Link.State().String(),
				Link:     sess.Link.Stats(),
				Dispatch: sess.Host.Stats(),
			}
			if ShellFrom(c).OutputJSON {
				out, _ := json.Marshal(&status)
				c.Println(string(out))
				return
			}
			c.Printf("%s\nlink: %+v\ndispatch: %+v\n", status.State, status.Link, status.Dispatch)
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.NewConfig().MustPrepare()).WithAutoConnect(true).Run(flag.Args()...)
}
