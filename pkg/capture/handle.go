package capture

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrReleased = errors.New("capture handle already released")

// Handle owns one audio source and one replaceable video source.
type Handle struct {
	video       atomic.Pointer[feed]
	audio       AudioSource
	cmu         sync.Mutex
	constraints Constraints
	log         logrus.FieldLogger

	swaps       atomic.Int64
	releaseOnce sync.Once
	released    atomic.Bool
}

func newHandle(video VideoSource, audio AudioSource, c Constraints, log logrus.FieldLogger) *Handle {
	h := &Handle{
		audio:       audio,
		constraints: c,
		log:         log,
	}
	h.video.Store(startFeed(video, log))
	return h
}

// Frame returns the most recent frame of whichever camera is current, or nil
// before the first frame arrives.
func (h *Handle) Frame() image.Image {
	f := h.video.Load()
	if f == nil {
		return nil
	}
	return f.frame()
}

func (h *Handle) Audio() AudioSource {
	return h.audio
}

func (h *Handle) Constraints() Constraints {
	h.cmu.Lock()
	defer h.cmu.Unlock()
	return h.constraints
}

// Swaps counts camera switches, producers use it to notice a source change.
func (h *Handle) Swaps() int64 {
	return h.swaps.Load()
}

// swapVideo installs src as the current camera and stops the old one. The
// audio source is not touched.
func (h *Handle) swapVideo(src VideoSource, c Constraints) error {
	if h.released.Load() {
		src.Close()
		return ErrReleased
	}
	old := h.video.Swap(startFeed(src, h.log))
	h.cmu.Lock()
	h.constraints = c
	h.cmu.Unlock()
	h.swaps.Add(1)
	if old != nil {
		old.stop()
	}
	return nil
}

// Release stops every source. It is safe to call more than once.
func (h *Handle) Release() error {
	var err error
	h.releaseOnce.Do(func() {
		h.released.Store(true)
		if f := h.video.Swap(nil); f != nil {
			f.stop()
		}
		if h.audio != nil {
			err = h.audio.Close()
		}
	})
	return err
}

// feed pumps one video source and keeps its latest frame.
type feed struct {
	src    VideoSource
	latest atomic.Value
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
}

type frameBox struct {
	img image.Image
}

func startFeed(src VideoSource, log logrus.FieldLogger) *feed {
	f := &feed{
		src:  src,
		done: make(chan struct{}),
	}
	go f.pump(log)
	return f
}

func (f *feed) pump(log logrus.FieldLogger) {
	defer close(f.done)
	for {
		img, release, err := f.src.Read()
		if err != nil {
			if !f.closed.Load() {
				log.Warnf("camera stopped delivering frames: %v", err)
			}
			return
		}
		f.latest.Store(frameBox{img: img})
		if release != nil {
			release()
		}
	}
}

func (f *feed) frame() image.Image {
	box, _ := f.latest.Load().(frameBox)
	return box.img
}

func (f *feed) stop() {
	f.once.Do(func() {
		f.closed.Store(true)
		f.src.Close()
		<-f.done
	})
}
