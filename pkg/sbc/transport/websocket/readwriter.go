package websocket

import "golang.org/x/net/websocket"

// ReadWriter implements transport.TransferReadWriter.
// Each Transfer is one binary websocket message.
type ReadWriter websocket.Conn

// New wraps websocket.Conn.
func New(conn *websocket.Conn) *ReadWriter {
	conn.PayloadType = websocket.BinaryFrame
	return (*ReadWriter)(conn)
}

// ReadTransfer implements transport.TransferReadWriter.
func (p *ReadWriter) ReadTransfer() (buf []byte, err error) {
	err = websocket.Message.Receive((*websocket.Conn)(p), &buf)
	return
}

// WriteTransfer implements transport.TransferReadWriter.
func (p *ReadWriter) WriteTransfer(buf []byte) error {
	return websocket.Message.Send((*websocket.Conn)(p), buf)
}

// Close closes the connection.
func (p *ReadWriter) Close() error {
	return (*websocket.Conn)(p).Close()
}
