package env

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/websocket"

	fx "github.com/robotalks/sbclink/pkg/framework"
	"github.com/robotalks/sbclink/pkg/sbc/transport"
	"github.com/robotalks/sbclink/pkg/sbc/transport/stream"
	wsrw "github.com/robotalks/sbclink/pkg/sbc/transport/websocket"
)

// Conn is an opened link connection.
type Conn struct {
	transport.TransferReadWriter
	io.Closer
	Remote string
}

// ConnHandler runs a link over an accepted Conn until it fails or ctx is
// done.
type ConnHandler func(context.Context, *Conn) error

func newStreamConn(c net.Conn) *Conn {
	return &Conn{TransferReadWriter: stream.New(c), Closer: c, Remote: c.RemoteAddr().String()}
}

func newWebsocketConn(ws *websocket.Conn) *Conn {
	rw := wsrw.New(ws)
	return &Conn{TransferReadWriter: rw, Closer: rw, Remote: ws.Request().RemoteAddr}
}

func (c *Config) linkURL() (*url.URL, error) {
	u, err := url.Parse(c.Link)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid link %q", c.Link)
	}
	return u, nil
}

// Dial opens the link as the connecting side: tcp:// and ws:// URLs are
// dialed, anything else is opened as a device.
func (c *Config) Dial(ctx context.Context) (*Conn, error) {
	u, err := c.linkURL()
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return newStreamConn(conn), nil
	case "ws", "wss":
		origin := "http://" + u.Host + "/"
		if u.Scheme == "wss" {
			origin = "https://" + u.Host + "/"
		}
		conf, err := websocket.NewConfig(c.Link, origin)
		if err != nil {
			return nil, err
		}
		ws, err := websocket.DialConfig(conf)
		if err != nil {
			return nil, err
		}
		rw := wsrw.New(ws)
		return &Conn{TransferReadWriter: rw, Closer: rw, Remote: u.Host}, nil
	case "", "file":
		return openDevice(u.Path)
	}
	return nil, errors.Errorf("unsupported link scheme %q", u.Scheme)
}

// openDevice opens a character device or named pipe. The line settings of
// a serial device are expected to be configured already.
func openDevice(fn string) (*Conn, error) {
	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &Conn{TransferReadWriter: stream.New(f), Closer: f, Remote: fn}, nil
}

// Serve opens the link as the listening side and calls handler for each
// connection, one at a time. A device link is opened once.
func (c *Config) Serve(ctx context.Context, handler ConnHandler) error {
	u, err := c.linkURL()
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "tcp":
		ln, err := net.Listen("tcp", u.Host)
		if err != nil {
			return err
		}
		return ServeListener(ctx, ln, handler)
	case "ws":
		return serveWebsocket(ctx, u, handler)
	case "", "file":
		conn, err := openDevice(u.Path)
		if err != nil {
			return err
		}
		return runConn(ctx, conn, handler)
	}
	return errors.Errorf("unsupported link scheme %q", u.Scheme)
}

func runConn(ctx context.Context, conn *Conn, handler ConnHandler) error {
	glog.Infof("link %s opened", conn.Remote)
	err := fx.RunWithContextCloser(ctx, conn, func() error {
		return handler(ctx, conn)
	})
	glog.Infof("link %s closed: %v", conn.Remote, err)
	return err
}

// ServeListener accepts connections from ln until ctx is done.
func ServeListener(ctx context.Context, ln net.Listener, handler ConnHandler) error {
	return fx.RunWithContextCloser(ctx, ln, func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			runConn(ctx, newStreamConn(conn), handler)
		}
	})
}

func serveWebsocket(ctx context.Context, u *url.URL, handler ConnHandler) error {
	var busy sync.Mutex
	path := u.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, websocket.Handler(func(ws *websocket.Conn) {
		if !busy.TryLock() {
			glog.Warningf("link %s rejected: busy", ws.Request().RemoteAddr)
			ws.Close()
			return
		}
		defer busy.Unlock()
		runConn(ctx, newWebsocketConn(ws), handler)
	}))
	srv := &http.Server{Addr: u.Host, Handler: mux}
	return fx.RunWithContextCloser(ctx, srv, srv.ListenAndServe)
}
