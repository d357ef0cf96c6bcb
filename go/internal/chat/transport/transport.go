package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send after the session has been closed.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one live session to the chat backend. Inbound frames arrive on
// Messages; a fatal session failure is reported once on Errors, after
// which the connection is unusable.
type Conn interface {
	// Send writes one frame to the backend.
	Send(data []byte) error

	// Messages returns the channel of inbound frames. It is closed when
	// the session ends.
	Messages() <-chan []byte

	// Errors returns the channel on which a fatal session error is reported.
	Errors() <-chan error

	// Close tears the session down. Safe to call more than once.
	Close() error
}

// Dialer establishes sessions. The engine holds a Dialer so tests can
// substitute an in-memory transport.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}
