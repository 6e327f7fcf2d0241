package encoder

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrClosed        = errors.New("encoder closed")
	ErrNotConfigured = errors.New("encoder not configured")
	ErrUnavailable   = errors.New("no usable video compressor on this host")
)

// EncoderError is a fatal compressor failure. Once one is reported the
// adapter refuses further input.
type EncoderError struct {
	Media string
	Err   error
}

func (e *EncoderError) Error() string {
	return fmt.Sprintf("%s encoder: %v", e.Media, e.Err)
}

func (e *EncoderError) Unwrap() error {
	return e.Err
}
