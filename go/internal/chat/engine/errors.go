package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned by Connect when no bearer token has
	// been supplied. Fatal until a token is provided.
	ErrUnauthenticated = errors.New("chat: not authenticated")

	// ErrTransport marks socket-level failures. Recoverable; the engine
	// reacts with a backoff reconnect.
	ErrTransport = errors.New("chat: transport failure")

	// ErrReconnectExhausted is emitted once the reconnect attempt cap is
	// reached. The engine stays disconnected until Connect is called again.
	ErrReconnectExhausted = errors.New("chat: reconnect attempts exhausted")

	// ErrResyncGap is emitted when requested history predates the backend's
	// retention horizon. Reported, not retried.
	ErrResyncGap = errors.New("chat: messages may be missing beyond retention horizon")
)

// DeliveryError reports that one outbound message could not be delivered.
// It is scoped to that message only and never aborts other queued work.
type DeliveryError struct {
	TempID string
	RoomID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("chat: delivery failed for message %s in room %s: %v", e.TempID, e.RoomID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
