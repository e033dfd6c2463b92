package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func TestEcho(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		rw := New(conn)
		for {
			buf, err := rw.ReadTransfer()
			if err != nil {
				return
			}
			if rw.WriteTransfer(buf) != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)
	rw := New(conn)
	defer rw.Close()

	for _, msg := range [][]byte{{0x5F, 0, 1, 0}, {0xC9}, make([]byte, 2048)} {
		require.NoError(t, rw.WriteTransfer(msg))
		buf, err := rw.ReadTransfer()
		require.NoError(t, err)
		require.Equal(t, msg, buf)
	}
}
