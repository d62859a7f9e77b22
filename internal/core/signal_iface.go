package core

import "errors"

// Frame is a raw payload queued for a host connection.
type Frame []byte

var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts the host messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	TrySendBinary(Frame) error
	Close()
}
