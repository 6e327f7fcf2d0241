package relay

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("relay connection is closed")
var ErrTransportDropped = errors.New("relay connection dropped while live")
var ErrAlreadyStarted = errors.New("relay start already sent on this connection")

// HandshakeError is returned when the relay never acknowledged the start
// request, either because it answered with an error frame or because the
// socket went away first.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("relay handshake failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// RemoteError carries the message of an error frame sent by the relay.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "relay error"
	}
	return "relay error: " + e.Message
}
