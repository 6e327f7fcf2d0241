// Package disk keeps a local copy of a broadcast, exactly as it was sent to
// the relay.
package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("recorder closed")

// Recorder writes the Annex-B video stream to <session>.h264 and the Ogg/Opus
// stream to <session>.ogg. Both files play with ffplay as they are.
type Recorder struct {
	mu     sync.Mutex
	video  *os.File
	audio  *os.File
	closed bool

	videoBytes int64
	audioBytes int64
}

func NewRecorder(dir, sessionID string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create recording dir")
	}
	video, err := os.Create(filepath.Join(dir, fmt.Sprintf("%s.h264", sessionID)))
	if err != nil {
		return nil, errors.Wrap(err, "create video file")
	}
	audio, err := os.Create(filepath.Join(dir, fmt.Sprintf("%s.ogg", sessionID)))
	if err != nil {
		video.Close()
		return nil, errors.Wrap(err, "create audio file")
	}
	return &Recorder{video: video, audio: audio}, nil
}

func (r *Recorder) WriteVideo(annexB []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	n, err := r.video.Write(annexB)
	r.videoBytes += int64(n)
	return err
}

func (r *Recorder) WriteAudio(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	n, err := r.audio.Write(chunk)
	r.audioBytes += int64(n)
	return err
}

// Written reports the bytes recorded so far.
func (r *Recorder) Written() (video, audio int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.videoBytes, r.audioBytes
}

// Close is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	verr := r.video.Close()
	aerr := r.audio.Close()
	if verr != nil {
		return errors.Wrap(verr, "close video file")
	}
	return errors.Wrap(aerr, "close audio file")
}
