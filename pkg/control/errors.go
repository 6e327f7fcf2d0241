package control

import (
	"github.com/pkg/errors"

	"github.com/pickletour/courtlive/pkg/capture"
	"github.com/pickletour/courtlive/pkg/encoder"
	"github.com/pickletour/courtlive/pkg/overlay"
	"github.com/pickletour/courtlive/pkg/relay"
)

var (
	ErrNoDestinations         = errors.New("no destinations to broadcast to")
	ErrUnsupportedEnvironment = errors.New("no usable video compressor on this host")
	ErrInterrupted            = errors.New("session stopped while starting")
)

// Errors raised by the pipeline stages, collected here so callers only need
// this package to tell them apart.
var (
	ErrTransportDropped = relay.ErrTransportDropped
	ErrOverlayFetch     = overlay.ErrOverlayFetch
)

type (
	DeviceError    = capture.DeviceError
	HandshakeError = relay.HandshakeError
	EncoderError   = encoder.EncoderError
)

// Kind names the category of a fatal session error for status and metrics.
func Kind(err error) string {
	var (
		derr *DeviceError
		herr *HandshakeError
		eerr *EncoderError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoDestinations):
		return "no-destinations"
	case errors.Is(err, ErrUnsupportedEnvironment):
		return "unsupported-environment"
	case errors.As(err, &derr):
		return "device"
	case errors.As(err, &herr):
		return "handshake"
	case errors.As(err, &eerr):
		return "encoder"
	case errors.Is(err, ErrTransportDropped):
		return "transport-dropped"
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	}
	return "other"
}
