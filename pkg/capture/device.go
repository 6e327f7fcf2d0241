package capture

import (
	"fmt"
	"image"
	"io/fs"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

const KindVideo = "video"

type Device struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

func (f Facing) Toggle() Facing {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

// Constraints select a camera. DeviceID wins over Facing when set.
type Constraints struct {
	DeviceID string
	Facing   Facing
	Width    int
	Height   int
	FPS      int
}

type AudioConstraints struct {
	SampleRate int
	Channels   int
}

// VideoSource yields camera frames. Frames must stay valid after release is
// called.
type VideoSource interface {
	Read() (img image.Image, release func(), err error)
	Close() error
}

// AudioSource yields interleaved signed 16 bit PCM in whatever chunk size the
// device delivers.
type AudioSource interface {
	Read() ([]int16, error)
	SampleRate() int
	Channels() int
	Close() error
}

// Platform is the operating system side of capture.
type Platform interface {
	Name() string
	Enumerate() ([]Device, error)
	OpenVideo(c Constraints) (VideoSource, error)
	OpenAudio(c AudioConstraints) (AudioSource, error)
}

type Reason string

const (
	ReasonPermissionDenied Reason = "permission-denied"
	ReasonInsecureContext  Reason = "insecure-context"
	ReasonNotFound         Reason = "not-found"
)

// DeviceError is returned when a camera or microphone cannot be opened.
type DeviceError struct {
	Reason Reason
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture device unavailable (%s)", e.Reason)
	}
	return fmt.Sprintf("capture device unavailable (%s): %v", e.Reason, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Classify wraps a driver error in a DeviceError. A sandbox refusing the
// device outright (EPERM) is reported as an insecure context, a device node
// the user may not open (EACCES) as permission denied and anything else as
// not found. Errors that already carry a DeviceError are returned as is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var derr *DeviceError
	if errors.As(err, &derr) {
		return err
	}
	msg := strings.ToLower(err.Error())
	reason := ReasonNotFound
	switch {
	case errors.Is(err, syscall.EPERM) || strings.Contains(msg, "operation not permitted"):
		reason = ReasonInsecureContext
	case errors.Is(err, fs.ErrPermission) || strings.Contains(msg, "permission denied"):
		reason = ReasonPermissionDenied
	}
	return &DeviceError{Reason: reason, Err: err}
}
