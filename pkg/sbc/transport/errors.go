package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady indicates the link is not connected to a peer.
	ErrNotReady = errors.New("not ready")
	// ErrQueueFull indicates the outbox limit is reached.
	ErrQueueFull = errors.New("outbox full")
	// ErrPacketTooLarge indicates a packet never fits into a Transfer.
	ErrPacketTooLarge = errors.New("packet too large")
)

// SequenceError indicates a Transfer out of order.
type SequenceError struct {
	Expected uint16
	Got      uint16
}

// Error implements error.
func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence error: expect %d, got %d", e.Expected, e.Got)
}

// TimeoutKind tells which timeout expired.
type TimeoutKind int

// Timeout kinds.
const (
	ExchangeTimeout TimeoutKind = iota
	ConnectionTimeout
)

// TimeoutError indicates an expired timeout.
type TimeoutError struct {
	Kind TimeoutKind
}

// Error implements error.
func (e *TimeoutError) Error() string {
	if e.Kind == ConnectionTimeout {
		return "connection timeout"
	}
	return "exchange timeout"
}

// Timeout implements net.Error style timeout detection.
func (e *TimeoutError) Timeout() bool {
	return true
}
