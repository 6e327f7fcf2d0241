package encoder

import (
	"image"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pickletour/courtlive/pkg/h264"
	"github.com/pickletour/courtlive/pkg/types"
)

// Codec is constrained baseline level 3.1. The adapter compares it with the
// profile the backend actually signals in its first SPS.
const Codec = "avc1.42001f"

type VideoConfig struct {
	Codec       string
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
}

// Compressor is one open H.264 encoder.
type Compressor interface {
	// Encode compresses one frame. The chunk may be Annex-B or AVC length
	// prefixed, in which case Description returns the avcC record.
	Encode(img image.Image, keyframe bool) (chunk []byte, isKeyframe bool, err error)
	Description() []byte
	Close() error
}

type Backend interface {
	Name() string
	// Available reports whether the backend can encode on this host.
	Available() bool
	Open(cfg VideoConfig) (Compressor, error)
}

// VideoOutput receives Annex-B access units in encode order.
type VideoOutput func(annexB []byte, keyframe bool, timestampUs int64)

// VideoAdapter drives a Compressor and converts its output to Annex-B.
type VideoAdapter struct {
	backend Backend
	output  VideoOutput
	log     logrus.FieldLogger

	mu      sync.Mutex
	comp    Compressor
	cfg     VideoConfig
	codec   string
	frames  int64
	failed  error
	closed  bool
	onError func(error)
}

func NewVideoAdapter(backend Backend, output VideoOutput) *VideoAdapter {
	return &VideoAdapter{
		backend: backend,
		output:  output,
		log:     logrus.StandardLogger(),
		onError: func(error) {},
	}
}

func (v *VideoAdapter) SetLogger(log logrus.FieldLogger) {
	v.log = log
}

// OnError is called once with the first fatal compressor error.
func (v *VideoAdapter) OnError(fn func(error)) {
	v.onError = fn
}

// Configure opens the compressor. Calling it again reopens it with the new
// parameters and restarts the keyframe cadence.
func (v *VideoAdapter) Configure(params types.EncodeParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if !v.backend.Available() {
		return ErrUnavailable
	}

	cfg := VideoConfig{
		Codec:       Codec,
		Width:       params.Width,
		Height:      params.Height,
		FPS:         params.FPS,
		BitrateKbps: params.VideoBitrateKbps,
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	comp, err := v.backend.Open(cfg)
	if err != nil {
		return &EncoderError{Media: "video", Err: err}
	}
	if v.comp != nil {
		v.comp.Close()
	}
	v.comp = comp
	v.cfg = cfg
	v.codec = ""
	v.frames = 0
	v.failed = nil

	v.log.WithFields(logrus.Fields{
		"backend": v.backend.Name(),
		"codec":   cfg.Codec,
		"params":  params.String(),
	}).Info("Configured video encoder")
	return nil
}

// Encode submits one frame. The first frame and every 2*fps frames after it
// are forced to be keyframes, force adds one more.
func (v *VideoAdapter) Encode(img image.Image, timestampUs int64, force bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.closed:
		return ErrClosed
	case v.failed != nil:
		return v.failed
	case v.comp == nil:
		return ErrNotConfigured
	}

	key := force || v.frames%int64(2*v.cfg.FPS) == 0
	v.frames++

	chunk, isKey, err := v.comp.Encode(img, key)
	if err != nil {
		v.failed = &EncoderError{Media: "video", Err: err}
		v.log.Error(v.failed)
		go v.onError(v.failed)
		return v.failed
	}
	if len(chunk) == 0 {
		return nil
	}
	out := h264.ToAnnexB(chunk, isKey, v.comp.Description())
	if v.codec == "" {
		v.checkCodec(out)
	}
	v.output(out, isKey, timestampUs)
	return nil
}

func (v *VideoAdapter) checkCodec(annexB []byte) {
	codec, ok := h264.CodecString(annexB)
	if !ok {
		return
	}
	v.codec = codec
	if !strings.EqualFold(codec, v.cfg.Codec) {
		v.log.WithFields(logrus.Fields{
			"requested": v.cfg.Codec,
			"signalled": codec,
		}).Warn("Encoder output does not match the requested profile")
	}
}

// Codec returns the codecs parameter read from the stream's first SPS, or the
// requested one until an SPS has been seen.
func (v *VideoAdapter) Codec() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.codec == "" {
		return v.cfg.Codec
	}
	return v.codec
}

// Frames is the number of frames submitted since Configure.
func (v *VideoAdapter) Frames() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frames
}

// Close releases the compressor. Safe to call more than once.
func (v *VideoAdapter) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	if v.comp == nil {
		return nil
	}
	err := v.comp.Close()
	v.comp = nil
	return err
}
